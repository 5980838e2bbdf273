package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInFlightGuardRejectsSecondAcquire(t *testing.T) {
	now := fixedTime
	guard, err := NewInFlightGuard(NewMemoryStore(), time.Minute, func() time.Time { return now })
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Acquire(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok, "second submit must be rejected while the first holds the session")

	ok, err = guard.Acquire(ctx, "sess-2")
	require.NoError(t, err)
	assert.True(t, ok, "other sessions are independent")

	require.NoError(t, guard.Release(ctx, "sess-1"))
	ok, err = guard.Acquire(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, ok, "release frees the session")
}

func TestInFlightGuardExpiresStaleHolds(t *testing.T) {
	now := fixedTime
	store := NewMemoryStore()
	guard, err := NewInFlightGuard(store, time.Minute, func() time.Time { return now })
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = guard.Acquire(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, ok, "a crashed submit must not lock the session forever")

	now = now.Add(5 * time.Minute)
	removed, err := store.CleanupExpired(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestInFlightGuardValidatesInput(t *testing.T) {
	_, err := NewInFlightGuard(nil, 0, nil)
	require.Error(t, err)

	guard, err := NewInFlightGuard(NewMemoryStore(), 0, nil)
	require.NoError(t, err)
	_, err = guard.Acquire(context.Background(), "  ")
	assert.Error(t, err)
	assert.Error(t, guard.Release(context.Background(), ""))
}
