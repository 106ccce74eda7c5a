package replay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestStore(max int) (*MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(max)
	store.now = clock.Now
	return store, clock
}

func TestGuardRejectsDuplicateWithinTTL(t *testing.T) {
	store, _ := newTestStore(10)
	g := NewGuard(store, time.Minute)
	ctx := context.Background()

	seen, err := g.CheckAndRecord(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = g.CheckAndRecord(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestGuardAcceptsAfterExpiry(t *testing.T) {
	store, clock := newTestStore(10)
	g := NewGuard(store, time.Minute)
	ctx := context.Background()

	_, err := g.CheckAndRecord(ctx, "n-1")
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Minute)
	seen, err := g.CheckAndRecord(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGuardForget(t *testing.T) {
	store, _ := newTestStore(10)
	g := NewGuard(store, time.Minute)
	ctx := context.Background()

	_, _ = g.CheckAndRecord(ctx, "n-1")
	require.NoError(t, g.Forget(ctx, "n-1"))

	seen, err := g.CheckAndRecord(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGuardIgnoresEmptyIDs(t *testing.T) {
	g := NewGuard(NewMemoryStore(0), 0)
	assert.Equal(t, DefaultTTL, g.TTL())

	for i := 0; i < 2; i++ {
		seen, err := g.CheckAndRecord(context.Background(), "  ")
		require.NoError(t, err)
		assert.False(t, seen)
	}
}

func TestMemoryStoreSweepsExpiredEntriesPastBound(t *testing.T) {
	store, clock := newTestStore(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.SetIfAbsent(ctx, fmt.Sprintf("old-%d", i), time.Second)
		require.NoError(t, err)
	}
	clock.t = clock.t.Add(2 * time.Second)

	_, err := store.SetIfAbsent(ctx, "fresh", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreKeepsLiveEntriesPastBound(t *testing.T) {
	store, _ := newTestStore(2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		created, err := store.SetIfAbsent(ctx, fmt.Sprintf("live-%d", i), time.Minute)
		require.NoError(t, err)
		assert.True(t, created)
	}
	assert.Equal(t, 4, store.Len())
}
