// Package expiry provides a time-bounded string set.
//
// The ingest pipeline uses it to suppress duplicate watcher callbacks for a
// path: entries are inserted with a TTL and membership lapses on its own,
// without per-entry timers.
package expiry

import (
	"sync"
	"time"
)

// Set is a string set whose entries expire after a fixed TTL.
type Set struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewSet creates a set with the given TTL and starts a background janitor.
// Call Close when the set is no longer needed.
func NewSet(ttl time.Duration) *Set {
	s := &Set{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// newSetWithClock is NewSet with an injected clock and no janitor, for tests.
func newSetWithClock(ttl time.Duration, now func() time.Time) *Set {
	return &Set{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     now,
		done:    make(chan struct{}),
	}
}

// Add inserts key with the set's TTL, refreshing it if already present.
func (s *Set) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = s.now().Add(s.ttl)
}

// Contains reports whether key is present and not yet expired.
func (s *Set) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.now().After(deadline) {
		delete(s.entries, key)
		return false
	}
	return true
}

// Remove deletes key regardless of its deadline.
func (s *Set) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of live entries, evicting expired ones.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, deadline := range s.entries {
		if now.After(deadline) {
			delete(s.entries, k)
		}
	}
	return len(s.entries)
}

// Clear removes all entries.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]time.Time)
}

// Close stops the janitor goroutine.
func (s *Set) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Set) janitor() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Len() // evicts expired entries as a side effect
		}
	}
}
