package testutils

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is an in-memory ban list with expiry.
type InMemoryStore struct {
	mu          sync.RWMutex
	banned      map[string]time.Time
	calls       int
	errToReturn error
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		banned: make(map[string]time.Time),
	}
}

func (s *InMemoryStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errToReturn = err
}

func (s *InMemoryStore) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// BanRange adds an address range to the ban map. A zero duration never expires.
func (s *InMemoryStore) BanRange(ctx context.Context, entry string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errToReturn != nil {
		return s.errToReturn
	}
	var expiry time.Time
	if duration > 0 {
		expiry = time.Now().Add(duration)
	}
	s.banned[entry] = expiry
	return nil
}

// UnbanRange removes an address range from the ban map.
func (s *InMemoryStore) UnbanRange(ctx context.Context, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errToReturn != nil {
		return s.errToReturn
	}
	delete(s.banned, entry)
	return nil
}

// BannedRanges returns the unexpired entries in sorted order.
func (s *InMemoryStore) BannedRanges(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.errToReturn != nil {
		return nil, s.errToReturn
	}
	now := time.Now()
	var out []string
	for entry, expiry := range s.banned {
		if !expiry.IsZero() && now.After(expiry) {
			delete(s.banned, entry)
			continue
		}
		out = append(out, entry)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
