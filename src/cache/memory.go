package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process exhaustion cache. It is the fallback when
// no Redis address is configured (single-instance deployments) and the
// backing for tests. Expired entries are dropped lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // fingerprint -> expiry
	now     func() time.Time
}

// NewMemoryStore creates an in-process exhaustion cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// IsMarkedUnusable reports whether the fingerprint has an unexpired mark.
func (s *MemoryStore) IsMarkedUnusable(_ context.Context, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[fingerprint]
	if !ok {
		return false, nil
	}
	if s.now().After(expiry) {
		delete(s.entries, fingerprint)
		return false, nil
	}
	return true, nil
}

// MarkUnusable records the fingerprint as unusable for ttl.
func (s *MemoryStore) MarkUnusable(_ context.Context, fingerprint string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[fingerprint] = s.now().Add(ttl)
	return nil
}

// ClearAll drops every mark.
func (s *MemoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]time.Time)
	return nil
}
