package view

import (
	"sync"
	"time"

	"github.com/urbanpulse/citypulse/internal/models"
)

// Store is the canonical view-model holder for the single active scope.
//
// The session event loop is the only writer; the status API reads
// concurrently, hence the RWMutex. Replace is called exactly once per scope
// activation and discards every trace of the previous scope — there is no
// partial carryover across scopes. Sub-objects inside the stored view model
// are replaced wholesale and never mutated in place, so snapshots may share
// them safely with readers.
type Store struct {
	mu     sync.RWMutex
	active bool
	scope  string
	vm     models.ViewModel
}

// NewStore returns an empty store with no active scope.
func NewStore() *Store {
	return &Store{}
}

// Replace installs a fresh view model for scope, dropping whatever scope was
// active before. Used only on scope activation.
func (s *Store) Replace(scope string, vm models.ViewModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.scope = scope
	s.vm = vm
}

// Reset clears the store entirely (scope deactivation without a successor).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.scope = ""
	s.vm = models.ViewModel{}
}

// Get returns the view model for scope. ok is false when scope is not the
// active one, including when nothing has been activated yet.
func (s *Store) Get(scope string) (models.ViewModel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active || s.scope != scope {
		return models.ViewModel{}, false
	}
	return s.vm, true
}

// Scope returns the active scope, if any.
func (s *Store) Scope() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope, s.active
}

// Snapshot returns the active scope and its view model for read-only
// consumers such as the status API.
func (s *Store) Snapshot() (scope string, vm models.ViewModel, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope, s.vm, s.active
}

// MergeIn folds a partial update into the active scope's view model via
// Merge and returns the result. A result for a scope that is no longer
// active is rejected (ok false) and leaves the store untouched: this is the
// last line of defense against stale async results after a scope switch.
func (s *Store) MergeIn(scope string, incoming models.PartialUpdate) (models.ViewModel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.scope != scope {
		return models.ViewModel{}, false
	}
	s.vm = Merge(s.vm, incoming)
	if !incoming.IsEmpty() {
		s.vm.UpdatedAt = time.Now().UTC()
	}
	return s.vm, true
}
