package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Интеграционный тест: требует работающий Redis, адрес берется из REDIS_ADDR
func createTestStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping redis integration test")
	}

	store, err := New(context.Background(), &redis.Options{Addr: addr}, "apikit-test:")
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	got, err := store.Get(ctx, "accessToken")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Set(ctx, "accessToken", []byte("t1")))

	got, err = store.Get(ctx, "accessToken")
	require.NoError(t, err)
	assert.Equal(t, []byte("t1"), got)

	require.NoError(t, store.Delete(ctx, "accessToken"))

	got, err = store.Get(ctx, "accessToken")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_EmptyFieldNoop(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	got, err := store.Get(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, store.Set(ctx, "", []byte("ignored")))
	assert.NoError(t, store.Delete(ctx, ""))
}
