// Package cache stores conditional-request metadata (ETag plus body) for
// HTTP responses, keyed by request URL.
package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached response.
type Entry struct {
	ETag     string
	Body     []byte
	StoredAt time.Time
}

// expired reports whether the entry is older than ttl. A non-positive ttl
// never expires.
func (e Entry) expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(e.StoredAt) > ttl
}

// Store persists ETag entries. Get reports false for missing or expired
// entries.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry) error
	Close() error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an in-memory store whose entries live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// Get returns the entry for key.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return Entry{}, false, nil
	}
	if entry.expired(s.ttl, s.now()) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put stores entry under key, stamping StoredAt when unset.
func (s *MemoryStore) Put(_ context.Context, key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
	return nil
}

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
