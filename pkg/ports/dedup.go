package ports

import (
	"context"
	"time"
)

// DedupStore remembers webhook idempotency keys for a retention window.
// PutIfAbsent claims key for runID; if the key was already claimed within
// the window it returns the existing run id and false, and no new run is
// started for the replayed delivery.
// Delete releases a claim so a later delivery of the same key starts a
// run; the dispatcher uses it when starting the run for a fresh claim
// fails.
type DedupStore interface {
	PutIfAbsent(ctx context.Context, key, runID string, window time.Duration) (existing string, claimed bool, err error)
	Delete(ctx context.Context, key string) error
}
