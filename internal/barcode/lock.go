package barcode

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const issuanceLockKey = "stockyard:barcode:resync:lock"

// ErrLockHeld indicates another resync currently holds the issuance lock.
var ErrLockHeld = errors.New("barcode: resync lock held")

// IssuanceLock is a Redis advisory lock taken for the duration of a counter
// resync. It does not block Generate calls by itself; operational procedure
// pauses issuing traffic, and the lock prevents two resyncs from racing
// each other.
type IssuanceLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIssuanceLock constructs IssuanceLock.
func NewIssuanceLock(client *redis.Client, ttl time.Duration) *IssuanceLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &IssuanceLock{client: client, ttl: ttl}
}

// Acquire claims the lock, failing fast when it is already held.
func (l *IssuanceLock) Acquire(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	ok, err := l.client.SetNX(ctx, issuanceLockKey, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release drops the lock.
func (l *IssuanceLock) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, issuanceLockKey).Err()
}
