package executors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayExecutorWaits(t *testing.T) {
	e := NewDelayExecutor()

	start := time.Now()
	out, err := e.Execute(context.Background(), map[string]any{"duration": "20ms"}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, "20ms", out["waited"])
}

func TestDelayExecutorCancellable(t *testing.T) {
	e := NewDelayExecutor()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Execute(ctx, map[string]any{"duration": "5s"}, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDelayExecutorValidatesConfig(t *testing.T) {
	e := NewDelayExecutor()

	_, err := e.Execute(context.Background(), map[string]any{}, nil)
	require.Error(t, err)

	_, err = e.Execute(context.Background(), map[string]any{"duration": "soon"}, nil)
	require.Error(t, err)
}
