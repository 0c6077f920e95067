package numbering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UnlockFunc releases one acquisition. It is bound to the acquisition
// that produced it: after the TTL lapsed and another holder took over,
// calling it returns ErrNotLockHolder and leaves the successor's hold
// intact.
type UnlockFunc func(ctx context.Context) error

// Lock is the global serialization point for number allocation and
// external ledger replay. At most one coordinator transaction may be
// in flight company-wide, so the lock must be shared by every worker
// process that posts to the same ledger.
type Lock interface {
	Lock(ctx context.Context) (UnlockFunc, error)
}

// MemoryLock serializes within a single process.
type MemoryLock struct {
	mu sync.Mutex
}

// NewMemoryLock constructs an in-process lock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{}
}

func (l *MemoryLock) Lock(ctx context.Context) (UnlockFunc, error) {
	l.mu.Lock()
	return func(ctx context.Context) error {
		l.mu.Unlock()
		return nil
	}, nil
}

// ErrNotLockHolder indicates a release by an acquisition that no
// longer holds the key, typically after the TTL expired under it.
var ErrNotLockHolder = errors.New("numbering: not the lock holder")

const lockPollInterval = 50 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock serializes across worker processes using a single Redis
// key. The TTL bounds how long a crashed holder can block everyone
// else; it must exceed the longest expected commit replay.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock constructs a cross-process lock on the given key.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) Lock(ctx context.Context) (UnlockFunc, error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("numbering: acquire lock: %w", err)
		}
		if ok {
			return l.release(token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// release binds the compare-and-delete to this acquisition's token, so
// a holder whose TTL lapsed cannot delete a successor's hold.
func (l *RedisLock) release(token string) UnlockFunc {
	return func(ctx context.Context) error {
		released, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
		if err != nil {
			return fmt.Errorf("numbering: release lock: %w", err)
		}
		if released == 0 {
			return ErrNotLockHolder
		}
		return nil
	}
}
