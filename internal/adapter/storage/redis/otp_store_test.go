package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOTPStore_ConsumeMatch(t *testing.T) {
	_, client := newTestClient(t)
	store := NewOTPStore(client)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "refund:m1", "digest-a", 5*time.Minute))

	ok, err := store.Consume(ctx, "refund:m1", "digest-a", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(ctx, "refund:m1", "digest-a", 5)
	require.NoError(t, err)
	assert.False(t, ok, "codes are single use")
}

func TestOTPStore_BurnsAfterMaxAttempts(t *testing.T) {
	_, client := newTestClient(t)
	store := NewOTPStore(client)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", "right", 5*time.Minute))

	for i := 0; i < 3; i++ {
		ok, err := store.Consume(ctx, "k", "wrong", 3)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	ok, err := store.Consume(ctx, "k", "right", 3)
	require.NoError(t, err)
	assert.False(t, ok, "code must be burned after max failed attempts")
}

func TestOTPStore_PutResetsAttempts(t *testing.T) {
	_, client := newTestClient(t)
	store := NewOTPStore(client)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", "one", time.Minute))
	ok, err := store.Consume(ctx, "k", "bad", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "k", "two", time.Minute))
	ok, err = store.Consume(ctx, "k", "bad", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Consume(ctx, "k", "two", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOTPStore_Expired(t *testing.T) {
	s, client := newTestClient(t)
	store := NewOTPStore(client)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", "d", time.Second))
	s.FastForward(2 * time.Second)

	ok, err := store.Consume(ctx, "k", "d", 5)
	require.NoError(t, err)
	assert.False(t, ok)
}
