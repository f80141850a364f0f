// Package prefetch runs AI preprocessing ahead of playback: a scheduler
// watches the queue and picks upcoming tabs, a serial worker summarizes and
// translates them, and a bounded store holds the results until the queue
// consumes them.
package prefetch

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultCapacity bounds how many results are retained.
	DefaultCapacity = 50
	// DefaultTTL bounds how long a result stays usable.
	DefaultTTL = 24 * time.Hour
)

// Result is the output of one prefetch job.
type Result struct {
	TabID       int64     `json:"tabId"`
	Summary     string    `json:"summary,omitempty"`
	Translation string    `json:"translation,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Store holds prefetch results keyed by tab ID, bounded by capacity and age.
// Expired entries are dropped lazily on every read and mutation.
type Store struct {
	mu       sync.Mutex
	results  map[int64]Result
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithCapacity overrides the result capacity.
func WithCapacity(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithTTL overrides the result lifetime.
func WithTTL(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty result store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		results:  make(map[int64]Result),
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores a result, stamping GeneratedAt when unset. When the store is
// over capacity the oldest results are evicted first.
func (s *Store) Put(result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.GeneratedAt.IsZero() {
		result.GeneratedAt = s.now()
	}
	s.results[result.TabID] = result
	s.pruneLocked()
}

// Get returns the stored result for a tab, if present and unexpired.
func (s *Store) Get(tabID int64) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	result, ok := s.results[tabID]
	return result, ok
}

// Delete removes a tab's result. Deleting a missing result is a no-op.
func (s *Store) Delete(tabID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.results, tabID)
}

// Len returns the number of live results.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	return len(s.results)
}

// Prune drops expired and over-capacity entries now.
func (s *Store) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
}

// pruneLocked drops expired entries, then evicts oldest-first down to
// capacity.
func (s *Store) pruneLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, result := range s.results {
		if result.GeneratedAt.Before(cutoff) {
			delete(s.results, id)
		}
	}

	if len(s.results) <= s.capacity {
		return
	}

	keep := make([]Result, 0, len(s.results))
	for _, result := range s.results {
		keep = append(keep, result)
	}
	sort.Slice(keep, func(i, j int) bool {
		return keep[i].GeneratedAt.After(keep[j].GeneratedAt)
	})
	for _, victim := range keep[s.capacity:] {
		delete(s.results, victim.TabID)
	}
}
