package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ai-influencer/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockTimeout = errors.New("timed out waiting for lock")
	ErrNotHeld     = errors.New("lock not held")
)

const defaultRetryInterval = 250 * time.Millisecond

// Lua scripts for owner-checked lease operations.
var renewScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('pexpire', KEYS[1], ARGV[2])
else
  return 0
end
`)

var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// Locker hands out Redis-backed leases. A lease expires on its own if the
// holder dies, so a crashed worker never blocks a key forever.
type Locker struct {
	client        redis.UniversalClient
	lease         time.Duration
	retryInterval time.Duration
	logger        *logger.Logger
}

func NewLocker(client redis.UniversalClient, lease time.Duration, log *logger.Logger) *Locker {
	if lease <= 0 {
		lease = time.Minute
	}
	return &Locker{
		client:        client,
		lease:         lease,
		retryInterval: defaultRetryInterval,
		logger:        log,
	}
}

// WithRetryInterval sets how often Acquire polls a contended key.
func (l *Locker) WithRetryInterval(d time.Duration) *Locker {
	if d > 0 {
		l.retryInterval = d
	}
	return l
}

// Lease is a held lock. It is renewed in the background until Release.
type Lease struct {
	locker *Locker
	key    string
	token  string

	lost     atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// TryAcquire makes a single attempt. ok is false when another owner holds key.
func (l *Locker) TryAcquire(ctx context.Context, key string) (*Lease, bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	lease := &Lease{
		locker: l,
		key:    key,
		token:  token,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go lease.keepAlive()
	return lease, true, nil
}

// Acquire blocks until key is free, wait elapses, or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string, wait time.Duration) (*Lease, error) {
	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		lease, ok, err := l.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
}

// IsLocked reports whether anyone currently holds key.
func (l *Locker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (le *Lease) keepAlive() {
	defer close(le.done)

	ticker := time.NewTicker(le.locker.lease / 3)
	defer ticker.Stop()

	ttlMs := int64(le.locker.lease / time.Millisecond)
	for {
		select {
		case <-le.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), le.locker.lease/3)
			res, err := renewScript.Run(ctx, le.locker.client, []string{le.key}, le.token, ttlMs).Int64()
			cancel()
			if err != nil {
				if le.locker.logger != nil {
					le.locker.logger.Warn("[LOCK] Failed to renew lease %s: %v", le.key, err)
				}
				continue
			}
			if res == 0 {
				le.lost.Store(true)
				if le.locker.logger != nil {
					le.locker.logger.Error("[LOCK] Lease %s lost before release", le.key)
				}
				return
			}
		}
	}
}

// Key returns the locked key.
func (le *Lease) Key() string {
	return le.key
}

// Token identifies this holder. It is stored as the key's value.
func (le *Lease) Token() string {
	return le.token
}

// Held is false once a renewal or Verify found the key owned by someone else or gone.
func (le *Lease) Held() bool {
	return !le.lost.Load()
}

// Verify asks Redis whether the key still carries this lease's token. It
// returns ErrNotHeld once ownership is gone; the lease stays lost afterwards.
func (le *Lease) Verify(ctx context.Context) error {
	if le.lost.Load() {
		return ErrNotHeld
	}
	owner, err := le.locker.client.Get(ctx, le.key).Result()
	if errors.Is(err, redis.Nil) {
		le.lost.Store(true)
		return ErrNotHeld
	}
	if err != nil {
		return fmt.Errorf("failed to verify lock %s: %w", le.key, err)
	}
	if owner != le.token {
		le.lost.Store(true)
		return ErrNotHeld
	}
	return nil
}

// Release stops renewal and deletes the key if this lease still owns it.
func (le *Lease) Release(ctx context.Context) error {
	le.stopOnce.Do(func() { close(le.stop) })
	<-le.done

	res, err := releaseScript.Run(ctx, le.locker.client, []string{le.key}, le.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", le.key, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}
