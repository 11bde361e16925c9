// Package memory implements in-process webhook idempotency-key dedup for
// tests and single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	runID     string
	expiresAt time.Time
}

// Store implements ports.DedupStore with an expiring map.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewStore creates an empty dedup store.
func NewStore() *Store {
	return &Store{entries: make(map[string]entry)}
}

// PutIfAbsent claims key for runID within the retention window.
func (s *Store) PutIfAbsent(ctx context.Context, key, runID string, window time.Duration) (string, bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return e.runID, false, nil
	}
	s.entries[key] = entry{runID: runID, expiresAt: now.Add(window)}

	// Opportunistic sweep of expired keys.
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	return runID, true, nil
}

// Delete releases a claimed key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
