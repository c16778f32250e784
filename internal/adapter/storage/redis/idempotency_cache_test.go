package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestIdempotencyCache_SetAndGet(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	key := "redeem:merchant-1:client-key-1"
	value := []byte(`{"balance":"60.00","status":"ACTIVE"}`)

	result, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.Nil(t, result)

	require.NoError(t, cache.Set(ctx, key, value, 72*time.Hour))

	result, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, result)
}

func TestIdempotencyCache_TTLExpiry(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "confirm:abc", []byte(`{}`), time.Second))
	s.FastForward(2 * time.Second)

	result, err := cache.Get(ctx, "confirm:abc")
	assert.NoError(t, err)
	assert.Nil(t, result, "expired key should return nil")
}

func TestIdempotencyCache_Prefix(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)

	require.NoError(t, cache.Set(context.Background(), "k", []byte("v"), time.Minute))
	assert.True(t, s.Exists("gcl:idem:k"))
}

func TestIdempotencyCache_FirstWriteWins(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "refund:p1", []byte(`{"status":"COMPLETED"}`), time.Hour))
	require.NoError(t, cache.Set(ctx, "refund:p1", []byte(`{"status":"FAILED"}`), time.Hour))

	got, err := cache.Get(ctx, "refund:p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, string(got))
}

func TestIdempotencyCache_RejectsZeroTTL(t *testing.T) {
	_, client := newTestClient(t)
	assert.Error(t, NewIdempotencyCache(client).Set(context.Background(), "k", []byte("v"), 0))
}

func TestIdempotencyCache_Unavailable(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	s.Close()

	_, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
}
