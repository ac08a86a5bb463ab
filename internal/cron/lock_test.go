package cron

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRedis struct {
	values map[string]string
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if m.values[key] != expected {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockIsExclusiveAndOwnerChecked(t *testing.T) {
	t.Setenv("CREDITS_WORKER_ID", "cron-a")
	store := &memoryRedis{values: map[string]string{}}
	ctx := context.Background()

	first, err := NewRedisLock(store, "cron:lock", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "cron:lock", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(store.values["cron:lock"], "cron-a:"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx))
	assert.Contains(t, store.values, "cron:lock", "non-owner release must not delete")

	require.NoError(t, first.Release(ctx))
	assert.NotContains(t, store.values, "cron:lock")

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseAfterExpiry(t *testing.T) {
	store := &memoryRedis{values: map[string]string{}}
	lock, err := NewRedisLock(store, "cron:lock", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	store.values["cron:lock"] = "someone-else"
	assert.NoError(t, lock.Release(context.Background()))
	assert.Equal(t, "someone-else", store.values["cron:lock"])
}

func TestLocalLock(t *testing.T) {
	var lock LocalLock
	ctx := context.Background()
	ok, _ := lock.Acquire(ctx)
	assert.True(t, ok)
	ok, _ = lock.Acquire(ctx)
	assert.False(t, ok)
	require.NoError(t, lock.Release(ctx))
	ok, _ = lock.Acquire(ctx)
	assert.True(t, ok)
}
