package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-onboarding/store"
	"github.com/goliatone/go-onboarding/store/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStoreGetSetRemove(t *testing.T) {
	mr, client := newTestRedis(t)
	s := redisstore.New(client, "webview")
	ctx := context.Background()

	_, found, err := s.Get(ctx, store.KeyAccessToken)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, store.KeyAccessToken, "token-1"))
	raw, err := mr.Get("webview:access-token")
	require.NoError(t, err)
	assert.Equal(t, "token-1", raw)

	v, found, err := s.Get(ctx, store.KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "token-1", v)

	require.NoError(t, s.Remove(ctx, store.KeyAccessToken))
	assert.False(t, mr.Exists("webview:access-token"))
}

func TestRedisStoreApply(t *testing.T) {
	mr, client := newTestRedis(t)
	s := redisstore.New(client, "")
	ctx := context.Background()

	mr.Set("onboarding:refresh-token", "stale")

	err := store.Apply(ctx, s,
		store.Put(store.KeyStep, "account-type"),
		store.Put(store.KeyData, `{}`),
		store.Delete(store.KeyRefreshToken),
	)
	require.NoError(t, err)

	step, err := mr.Get("onboarding:onboarding-step")
	require.NoError(t, err)
	assert.Equal(t, "account-type", step)
	assert.False(t, mr.Exists("onboarding:refresh-token"))
}

func TestRedisStoreTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	s := redisstore.New(client, "ttl", redisstore.WithTTL(time.Hour))

	require.NoError(t, s.Set(context.Background(), store.KeyStep, "registration"))
	assert.Equal(t, time.Hour, mr.TTL("ttl:onboarding-step"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	s := redisstore.New(client, "down")
	mr.Close()

	_, _, err := s.Get(context.Background(), store.KeyStep)
	require.Error(t, err)

	var storeErr *store.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "get", storeErr.Op)
}
