package redis

import (
	"context"
	"errors"
	"time"
)

// SnapshotKV implements timer.KeyValueStore on Redis strings. A single SET is
// atomic, so the stored blob is always one complete envelope.
type SnapshotKV struct {
	cache *Cache
	ttl   time.Duration
}

// NewSnapshotKV creates a Redis-backed key-value store. A zero ttl keeps
// snapshots until they are cleared.
func NewSnapshotKV(cache *Cache, ttl time.Duration) *SnapshotKV {
	return &SnapshotKV{cache: cache, ttl: ttl}
}

// Put stores value under key.
func (s *SnapshotKV) Put(ctx context.Context, key string, value []byte) error {
	return s.cache.SetBytes(ctx, SnapshotKey(key), value, s.ttl)
}

// Get returns the value under key.
func (s *SnapshotKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.cache.GetBytes(ctx, SnapshotKey(key))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Delete removes key.
func (s *SnapshotKV) Delete(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, SnapshotKey(key))
}
