package ratelimit

import (
	"context"
	"sync"
	"time"
)

// entry tracks one key's fixed window and block deadline.
type entry struct {
	count        int64
	reset        time.Time
	blockedUntil time.Time
}

// expired reports whether the entry carries no live state at now.
func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.reset) && !now.Before(e.blockedUntil)
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a single-process Store. Counters are lost on restart and are
// not shared between instances.
type MemoryStore struct {
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*entry
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Record, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	if !now.Before(e.reset) {
		e.count = 0
		e.reset = now.Add(window)
	}
	e.count++
	return Record{Count: e.count, Reset: e.reset}, nil
}

// Block implements Store.
func (s *MemoryStore) Block(_ context.Context, key string, d time.Duration) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.blockedUntil = now.Add(d)
	return nil
}

// BlockedFor implements Store.
func (s *MemoryStore) BlockedFor(_ context.Context, key string) (time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.blockedUntil) {
		return 0, nil
	}
	return e.blockedUntil.Sub(now), nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup removes entries with no live window or block.
func (s *MemoryStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is cancelled.
func (s *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}
