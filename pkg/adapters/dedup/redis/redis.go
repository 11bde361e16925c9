// Package redis implements webhook idempotency-key deduplication on Redis.
// SET NX with a TTL gives atomic claim semantics across engine instances;
// the TTL is the retention window after which a replayed key starts a fresh
// run again.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store implements ports.DedupStore.
type Store struct {
	client *redis.Client
}

// NewStore creates a Redis-backed dedup store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// PutIfAbsent claims key for runID. When the key is already held the stored
// run id is returned with claimed=false.
func (s *Store) PutIfAbsent(ctx context.Context, key, runID string, window time.Duration) (string, bool, error) {
	k := dedupKey(key)
	ok, err := s.client.SetNX(ctx, k, runID, window).Result()
	if err != nil {
		return "", false, fmt.Errorf("dedup setnx: %w", err)
	}
	if ok {
		return runID, true, nil
	}
	existing, err := s.client.Get(ctx, k).Result()
	if err == redis.Nil {
		// Key expired between SETNX and GET; claim again.
		return s.PutIfAbsent(ctx, key, runID, window)
	}
	if err != nil {
		return "", false, fmt.Errorf("dedup get: %w", err)
	}
	return existing, false, nil
}

// Delete releases a claimed key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, dedupKey(key)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func dedupKey(key string) string {
	return fmt.Sprintf("flowline:dedup:%s", key)
}
