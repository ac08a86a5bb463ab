package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SlidingWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		count, err := store.Hit(ctx, ScopeLoginIP, "10.0.0.1", time.Minute, base.Add(time.Duration(i)*10*time.Second))
		require.NoError(t, err)
		assert.EqualValues(t, i+1, count)
	}

	count, err := store.Count(ctx, ScopeLoginIP, "10.0.0.1", time.Minute, base.Add(65*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "hits at 0s and 10s fall out of the window")

	count, err = store.Hit(ctx, ScopeLoginIP, "10.0.0.1", time.Minute, base.Add(70*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	other, err := store.Count(ctx, ScopeLoginUser, "10.0.0.1", time.Minute, base)
	require.NoError(t, err)
	assert.Zero(t, other)

	require.NoError(t, store.Reset(ctx, ScopeLoginIP, "10.0.0.1"))
	count, err = store.Count(ctx, ScopeLoginIP, "10.0.0.1", time.Minute, base.Add(70*time.Second))
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = store.Hit(ctx, ScopeLoginIP, "x", 0, base)
	assert.Error(t, err)
}

func TestMemoryStore_ConcurrentHitsAreAtomic(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	var wg sync.WaitGroup
	seen := make(chan int64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := store.Hit(context.Background(), ScopeReferralIP, "203.0.113.1", time.Hour, now)
			assert.NoError(t, err)
			seen <- count
		}()
	}
	wg.Wait()
	close(seen)

	counts := map[int64]bool{}
	for c := range seen {
		assert.False(t, counts[c], "count %d returned twice", c)
		counts[c] = true
	}
	assert.Len(t, counts, 100)
}

func TestMemoryStore_SweepsIdleKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	_, err := store.Hit(ctx, ScopeLoginIP, "a", time.Minute, base)
	require.NoError(t, err)
	_, err = store.Hit(ctx, ScopeLoginIP, "b", time.Minute, base.Add(5*time.Minute))
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotContains(t, store.windows, memoryKey(ScopeLoginIP, "a"))
	assert.Contains(t, store.windows, memoryKey(ScopeLoginIP, "b"))
}

func TestMemoryLocks(t *testing.T) {
	locks := NewMemoryLocks()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, locks.Lock(ctx, ScopeLoginUser, "alice", now.Add(10*time.Minute)))
	// a shorter lock never shortens an existing one.
	require.NoError(t, locks.Lock(ctx, ScopeLoginUser, "alice", now.Add(time.Minute)))

	until, locked, err := locks.LockedUntil(ctx, ScopeLoginUser, "alice", now)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, now.Add(10*time.Minute), until)

	_, locked, err = locks.LockedUntil(ctx, ScopeLoginUser, "alice", now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, locks.Lock(ctx, ScopeLoginUser, "bob", now.Add(time.Minute)))
	require.NoError(t, locks.Clear(ctx, ScopeLoginUser, "bob"))
	_, locked, err = locks.LockedUntil(ctx, ScopeLoginUser, "bob", now)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestTracker_RecordAndCheck(t *testing.T) {
	tr := New(NewMemoryStore())

	for i := 1; i <= 3; i++ {
		count, exceeded, err := tr.RecordAndCheck(context.Background(), ScopeLoginIP, "10.1.1.1", time.Minute, 3)
		require.NoError(t, err)
		assert.EqualValues(t, i, count)
		assert.Equal(t, i == 3, exceeded)
	}
}
