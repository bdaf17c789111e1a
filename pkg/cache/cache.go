package cache

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Forever is the validity window for entries that never expire. It is the
// only way to request unbounded validity: SetValidity rejects zero and
// negative durations rather than treating zero as a sentinel.
const Forever time.Duration = math.MaxInt64

// CloneFunc produces a deep copy of a cached payload. It is applied both when
// storing and when reading so a caller mutating its copy can never corrupt
// the cached value. A nil CloneFunc stores and returns payloads as-is, which
// is only safe for immutable value types.
type CloneFunc[V any] func(V) V

type entry[V any] struct {
	payload  V
	storedAt time.Time
}

// Store is an in-memory, time-bounded response cache keyed by request
// fingerprint. It is safe for concurrent use. Entries expire lazily on Get;
// disabling the store suppresses lookups and stores without clearing it.
type Store[V any] struct {
	mu       sync.RWMutex
	entries  map[string]entry[V]
	validity time.Duration
	enabled  bool
	clone    CloneFunc[V]
}

// New creates an enabled Store with the given validity window. The window
// must be positive; use Forever for entries that never expire.
func New[V any](validity time.Duration, clone CloneFunc[V]) (*Store[V], error) {
	if validity <= 0 {
		return nil, fmt.Errorf("cache validity must be positive, got %v", validity)
	}
	return &Store[V]{
		entries:  make(map[string]entry[V]),
		validity: validity,
		enabled:  true,
		clone:    clone,
	}, nil
}

// Get returns a deep copy of the fresh entry stored under key, or ok=false
// when the store is disabled, the key is absent, or the entry has expired.
// Expired entries are removed on the way out.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return zero, false
	}

	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	if s.expired(e, time.Now()) {
		delete(s.entries, key)
		return zero, false
	}
	if s.clone != nil {
		return s.clone(e.payload), true
	}
	return e.payload, true
}

// Put inserts or overwrites the entry under key, deep-copying the payload in
// and stamping it with the current time. It is a no-op while disabled.
func (s *Store[V]) Put(key string, payload V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return
	}
	if s.clone != nil {
		payload = s.clone(payload)
	}
	s.entries[key] = entry[V]{payload: payload, storedAt: time.Now()}
}

// Clear removes all entries. Lookups never observe a partially-cleared store.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry[V])
}

// SetValidity changes the validity window for all subsequent freshness
// checks, including entries already stored. The window must be positive.
func (s *Store[V]) SetValidity(validity time.Duration) error {
	if validity <= 0 {
		return fmt.Errorf("cache validity must be positive, got %v", validity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validity = validity
	return nil
}

// Validity returns the current validity window.
func (s *Store[V]) Validity() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validity
}

// SetEnabled toggles the store. Disabling does not clear existing entries;
// they become visible again when the store is re-enabled, subject to expiry.
func (s *Store[V]) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Enabled reports whether the store currently serves lookups and stores.
func (s *Store[V]) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Len returns the number of entries, including ones that have expired but
// have not been touched since.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store[V]) expired(e entry[V], now time.Time) bool {
	if s.validity == Forever {
		return false
	}
	return now.Sub(e.storedAt) >= s.validity
}
