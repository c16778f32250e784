package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitStore_Allow(t *testing.T) {
	_, client := newTestClient(t)
	store := NewRateLimitStore(client)
	fixed := time.Unix(1_700_000_010, 0)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			result, err := store.Allow(ctx, "redeem:merchant1", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed, "request %d should be allowed", i)
			assert.Equal(t, int64(3), result.Limit)
			assert.Equal(t, 3-i, result.Remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		result, err := store.Allow(ctx, "redeem:merchant1", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, int64(0), result.Remaining)
		assert.Equal(t, int64(1_700_000_040), result.ResetAt)
	})

	t.Run("keys are independent", func(t *testing.T) {
		result, err := store.Allow(ctx, "refund:merchant1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("new window resets the counter", func(t *testing.T) {
		store.now = func() time.Time { return fixed.Add(time.Minute) }
		result, err := store.Allow(ctx, "redeem:merchant1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(2), result.Remaining)
	})
}

func TestRateLimitStore_SetsExpiry(t *testing.T) {
	s, client := newTestClient(t)
	store := NewRateLimitStore(client)
	store.now = func() time.Time { return time.Unix(600, 0) }

	_, err := store.Allow(context.Background(), "otp:m", 5, time.Minute)
	require.NoError(t, err)

	ttl := s.TTL("gcl:ratelimit:otp:m:10")
	assert.Equal(t, 61*time.Second, ttl)
}
