// Package history keeps the bounded record of scenario simulations run from
// this client, mirrored synchronously to the persistent cache so it survives
// restarts.
package history

import (
	"fmt"
	"log"
	"sync"

	"github.com/goccy/go-json"

	"github.com/urbanpulse/citypulse/internal/cache"
	"github.com/urbanpulse/citypulse/internal/metrics"
	"github.com/urbanpulse/citypulse/internal/models"
)

// CacheKey is the cache document key holding the serialized history.
// The version suffix lets a future format change start from a clean slate
// instead of parsing old documents.
const CacheKey = "history:v1"

// DefaultCapacity bounds the history length when none is configured.
const DefaultCapacity = 10

// Store holds the most recent scenario runs, newest first. Every mutation
// writes through to the cache before returning. When persistence fails the
// store degrades to memory-only for the rest of the session: scenario work
// keeps going, the failure is logged once.
type Store struct {
	mu       sync.Mutex
	cache    cache.Store
	capacity int
	entries  []models.HistoryEntry
	loaded   bool
	degraded bool
}

// NewStore creates a history store over the given cache. Capacity values
// below 1 fall back to DefaultCapacity.
func NewStore(c cache.Store, capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{
		cache:    c,
		capacity: capacity,
	}
}

// Load returns the current history, newest first. The first call hydrates
// from the cache; later calls are served from memory. A corrupt cache
// document counts as empty history, not an error.
func (s *Store) Load() ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// Append inserts the entry at the front, dropping the oldest entry when at
// capacity, and persists the new list. It returns the list after the append.
func (s *Store) Append(entry models.HistoryEntry) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	if len(s.entries) >= s.capacity {
		s.entries = s.entries[:s.capacity-1]
	}
	s.entries = append([]models.HistoryEntry{entry}, s.entries...)

	if err := s.persist(); err != nil {
		return nil, err
	}
	metrics.HistoryAppendsTotal.Inc()
	return s.snapshot(), nil
}

// Clear empties the history in memory and in the cache.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.loaded = true

	if s.degraded {
		return nil
	}
	if err := s.cache.Delete(CacheKey); err != nil {
		s.degrade(err)
	}
	return nil
}

// Len returns the current history length.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return 0
	}
	return len(s.entries)
}

// Capacity returns the configured bound.
func (s *Store) Capacity() int {
	return s.capacity
}

// Degraded reports whether persistence has failed and the store is running
// memory-only.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// ensureLoaded hydrates entries from the cache once. Caller holds the mutex.
func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}

	doc, ok, err := s.cache.Get(CacheKey)
	if err != nil {
		s.degrade(err)
		s.loaded = true
		return nil
	}
	if ok && doc != "" {
		var entries []models.HistoryEntry
		if err := json.Unmarshal([]byte(doc), &entries); err != nil {
			log.Printf("[history] discarding corrupt history document: %v", err)
			s.entries = nil
		} else {
			if len(entries) > s.capacity {
				entries = entries[:s.capacity]
			}
			s.entries = entries
		}
	}
	s.loaded = true
	return nil
}

// persist writes the current list through to the cache. Caller holds the
// mutex. A cache failure flips the store into degraded mode instead of
// failing the mutation.
func (s *Store) persist() error {
	if s.degraded {
		return nil
	}

	doc, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := s.cache.Set(CacheKey, string(doc)); err != nil {
		s.degrade(err)
	}
	return nil
}

// degrade switches to memory-only mode. Logged once. Caller holds the mutex.
func (s *Store) degrade(err error) {
	if s.degraded {
		return
	}
	s.degraded = true
	metrics.HistoryDegraded.Set(1)
	log.Printf("[history] persistence disabled for this session: %v", err)
}

// snapshot copies the entry list. Caller holds the mutex.
func (s *Store) snapshot() []models.HistoryEntry {
	out := make([]models.HistoryEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
