package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseAccountLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisAccountLock serializes escalation evaluation per account across
// service replicas. Directive application is not commutative, so at most
// one evaluation may be in flight for an account at a time; the lock
// expires on its own if a holder crashes.
type RedisAccountLock struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisAccountLock creates a lock manager with the given key prefix and
// hold TTL.
func NewRedisAccountLock(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisAccountLock {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "dunning:lock"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")

	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &RedisAccountLock{client: client, prefix: trimmed, ttl: ttl}
}

// Acquire attempts to take the evaluation lock for an account. It returns
// the holder token needed to release, and whether the lock was acquired.
func (l *RedisAccountLock) Acquire(ctx context.Context, accountID string) (string, bool, error) {
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, l.key(accountID), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire account lock: %w", err)
	}
	return token, acquired, nil
}

// Release frees the lock if the caller still holds it. A lock that expired
// and was re-acquired by another holder is left untouched.
func (l *RedisAccountLock) Release(ctx context.Context, accountID, token string) error {
	if err := releaseAccountLockScript.Run(ctx, l.client, []string{l.key(accountID)}, token).Err(); err != nil {
		return fmt.Errorf("release account lock: %w", err)
	}
	return nil
}

func (l *RedisAccountLock) key(accountID string) string {
	return fmt.Sprintf("%s:%s", l.prefix, accountID)
}
