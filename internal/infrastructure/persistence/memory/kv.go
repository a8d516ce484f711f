// Package memory provides in-process storage backends. They are used when no
// durable backend is configured and as test doubles.
package memory

import (
	"context"
	"sync"
)

// KV is a concurrency-safe in-memory key-value store. Values are copied on
// the way in and out so callers never share backing arrays with the store.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKV creates an empty store.
func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

// Put stores a copy of value under key.
func (s *KV) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Get returns a copy of the value under key.
func (s *KV) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Delete removes key. Missing keys are ignored.
func (s *KV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Len returns the number of stored keys.
func (s *KV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
