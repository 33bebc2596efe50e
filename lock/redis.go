// Package lock provides a Redis-backed billing.Locker.
package lock

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/warp/franchise-billing/billing"
)

// Redis takes sweep locks in Redis so only one node bills a month at a time.
type Redis struct {
	client *redislock.Client
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{client: redislock.New(rdb)}
}

// Connect dials addr and verifies the connection with PING.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "connect redis %s", addr)
	}
	return rdb, nil
}

func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (billing.Lock, error) {
	l, err := r.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, errors.Wrapf(billing.ErrLockNotObtained, "lock %s", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "obtain lock")
	}
	return redisLock{l}, nil
}

type redisLock struct {
	l *redislock.Lock
}

func (r redisLock) Release(ctx context.Context) error {
	err := r.l.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		// Expired before release; another holder may already own it.
		return nil
	}
	return err
}
