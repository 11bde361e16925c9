package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowlinehq/flowline/pkg/adapters/metrics/noop"
	"github.com/flowlinehq/flowline/pkg/domain"
)

func newTestPool(t *testing.T, size, depth int) *Pool {
	t.Helper()
	pool := NewPool(size, depth, noop.NewCollector(), zap.NewNop(), time.Minute)
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return pool
}

func TestPoolExecutesSubmittedTasks(t *testing.T) {
	pool := newTestPool(t, 4, 16)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := pool.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, ran)
}

func TestPoolRunsTasksConcurrently(t *testing.T) {
	pool := newTestPool(t, 2, 4)

	var barrier sync.WaitGroup
	barrier.Add(2)
	results := make(chan error, 2)
	task := func(ctx context.Context) {
		barrier.Done()
		done := make(chan struct{})
		go func() { barrier.Wait(); close(done) }()
		select {
		case <-done:
			results <- nil
		case <-time.After(2 * time.Second):
			results <- context.DeadlineExceeded
		}
	}

	require.NoError(t, pool.Submit(context.Background(), task))
	require.NoError(t, pool.Submit(context.Background(), task))

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("tasks never ran concurrently")
		}
	}
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewPool(1, 1, noop.NewCollector(), zap.NewNop(), time.Minute)
	require.NoError(t, pool.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	err := pool.Submit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, domain.ErrDispatcherClosed)
}

func TestPoolSubmitHonorsCallerContext(t *testing.T) {
	pool := newTestPool(t, 1, 1)

	block := make(chan struct{})
	defer close(block)
	// Occupy the single worker and fill the queue.
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) { <-block }))
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
