package plantlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPlantLock = "plantwatch:plant:lock:%s"

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockBusy           = errors.New("plant_lock_busy")
	ErrLockNotConfigured  = errors.New("lock client not configured")
	errLockKeyEmpty       = errors.New("lock key is empty")
	errLockTTLNotPositive = errors.New("lock ttl must be positive")
)

// RedisLocker extends the plant lock across supervisor replicas sharing one
// database.
type RedisLocker struct {
	client  *redis.Client
	script  *redis.Script
	log     *zap.Logger
	ttl     time.Duration
	maxWait time.Duration
}

func NewRedisLocker(client *redis.Client, log *zap.Logger, ttl, maxWait time.Duration) *RedisLocker {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &RedisLocker{
		client:  client,
		script:  redis.NewScript(lockReleaseScript),
		log:     log.Named("plantlock.redis"),
		ttl:     ttl,
		maxWait: maxWait,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLockNotConfigured
	}
	if key == "" {
		return "", false, errLockKeyEmpty
	}
	if ttl <= 0 {
		return "", false, errLockTTLNotPositive
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// Lock polls TryLock with exponential backoff until maxWait elapses.
func (l *RedisLocker) Lock(ctx context.Context, plantID string) (Unlock, error) {
	key := fmt.Sprintf(keyPlantLock, plantID)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	token, err := backoff.Retry(ctx, func() (string, error) {
		token, ok, err := l.TryLock(ctx, key, l.ttl)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		if !ok {
			return "", ErrLockBusy
		}
		return token, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(l.maxWait),
	)
	if err != nil {
		return nil, err
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.Release(releaseCtx, key, token); err != nil {
			l.log.Warn("plant lock release failed", zap.String("plant_id", plantID), zap.Error(err))
		}
	}, nil
}
