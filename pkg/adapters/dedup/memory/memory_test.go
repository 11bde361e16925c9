package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutIfAbsent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	got, claimed, err := s.PutIfAbsent(ctx, "wf:key-1", "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "run-1", got)

	// Replay within the window returns the original claim.
	got, claimed, err = s.PutIfAbsent(ctx, "wf:key-1", "run-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "run-1", got)

	// A different key is independent.
	_, claimed, err = s.PutIfAbsent(ctx, "wf:key-2", "run-3", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestDeleteReleasesClaim(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, claimed, err := s.PutIfAbsent(ctx, "wf:key", "run-1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, s.Delete(ctx, "wf:key"))

	got, claimed, err := s.PutIfAbsent(ctx, "wf:key", "run-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "deleted key must be claimable again")
	assert.Equal(t, "run-2", got)
}

func TestPutIfAbsentExpiry(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, claimed, err := s.PutIfAbsent(ctx, "wf:key", "run-1", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, claimed)

	time.Sleep(20 * time.Millisecond)

	got, claimed, err := s.PutIfAbsent(ctx, "wf:key", "run-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "expired key must be claimable again")
	assert.Equal(t, "run-2", got)
}
