package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// consumeScript compares the presented digest with the stored one.
// KEYS[1] = code key, KEYS[2] = attempts key, ARGV[1] = digest, ARGV[2] = max attempts.
var consumeScript = goredis.NewScript(`
local stored = redis.call('GET', KEYS[1])
if not stored then
	return 0
end
if stored == ARGV[1] then
	redis.call('DEL', KEYS[1], KEYS[2])
	return 1
end
local n = redis.call('INCR', KEYS[2])
if n == 1 then
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl > 0 then
		redis.call('PEXPIRE', KEYS[2], ttl)
	end
end
if n >= tonumber(ARGV[2]) then
	redis.call('DEL', KEYS[1], KEYS[2])
end
return 0
`)

// OTPStore implements ports.OTPStore. Only digests of codes are stored.
type OTPStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewOTPStore creates a new Redis-backed OTP store.
func NewOTPStore(client goredis.UniversalClient) *OTPStore {
	return &OTPStore{
		client: client,
		prefix: keyPrefix + "otp:",
	}
}

// Put stores a code digest, replacing any previous code and its attempt counter.
func (s *OTPStore) Put(ctx context.Context, key string, digest string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.prefix+key, digest, ttl)
	pipe.Del(ctx, s.attemptsKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis otp put: %w", err)
	}
	return nil
}

// Consume reports whether digest matches the stored code. A match deletes the code.
func (s *OTPStore) Consume(ctx context.Context, key string, digest string, maxAttempts int) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	n, err := consumeScript.Run(ctx, s.client,
		[]string{s.prefix + key, s.attemptsKey(key)}, digest, maxAttempts).Int()
	if err != nil {
		return false, fmt.Errorf("redis otp consume: %w", err)
	}
	return n == 1, nil
}

func (s *OTPStore) attemptsKey(key string) string {
	return s.prefix + key + ":attempts"
}
