// Package cache provides the persistent key-value store backing session
// state that must survive restarts, and an in-memory stand-in used for tests
// and for degraded operation when the database cannot be opened.
package cache

// Store is a namespaced string key-value store. Implementations must be safe
// for concurrent use. Set is synchronous: when it returns nil the value is
// durable (for the sqlite store) or applied (for the memory store).
type Store interface {
	// Get returns the value for key. The bool reports whether the key exists.
	Get(key string) (string, bool, error)
	// Set stores the value under key, replacing any previous value.
	Set(key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Close releases any resources.
	Close() error
}
