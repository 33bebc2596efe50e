package billing

import (
	"context"
	"time"
)

// Locker guards work that must run on one node at a time, like a sweep.
type Locker interface {
	// Obtain takes the lock or returns ErrLockNotObtained.
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// NopLocker always succeeds. Single-node deployments and tests use it.
type NopLocker struct{}

func (NopLocker) Obtain(context.Context, string, time.Duration) (Lock, error) { return nopLock{}, nil }

type nopLock struct{}

func (nopLock) Release(context.Context) error { return nil }
