// Package memstore implements the state store in process memory. It backs
// tests and offline replay where no Redis server is available.
package memstore

import (
	"context"
	"sync"
	"time"

	"trading-agentv1/internal/store"
)

type entry struct {
	value   []byte
	expires time.Time // zero = no expiry
}

// Store is a concurrency-safe in-memory key-value store with TTL support.
type Store struct {
	mu   sync.RWMutex
	data map[string]entry
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string]entry)}
}

// Get returns the value at key, or (nil, nil) if absent or expired.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, nil
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, nil
}

// Set writes value at key; ttl of 0 means no expiry.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	e := entry{value: cp}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes key, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	_, ok := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()
	return ok, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Len returns the number of live keys (for tests).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
