package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, lease time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, lease, nil).WithRetryInterval(10 * time.Millisecond), mr
}

func TestTryAcquire_Exclusive(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	first, ok, err := locker.TryAcquire(ctx, "publish:content:c1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "publish:content:c1")
	require.NoError(t, err)
	assert.False(t, ok)

	locked, err := locker.IsLocked(ctx, "publish:content:c1")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, first.Release(ctx))

	second, ok, err := locker.TryAcquire(ctx, "publish:content:c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, second.Release(ctx))
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Release(context.Background())
	}()

	next, err := locker.Acquire(ctx, "k", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "k", next.Key())
	require.NoError(t, next.Release(ctx))
}

func TestAcquire_Timeout(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	defer held.Release(ctx)

	_, err = locker.Acquire(ctx, "k", 50*time.Millisecond)
	assert.True(t, errors.Is(err, ErrLockTimeout))
}

func TestAcquire_ContextCancelled(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)

	held, err := locker.Acquire(context.Background(), "k", 0)
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLease_ExpiresWhenHolderDisappears(t *testing.T) {
	locker, mr := newTestLocker(t, time.Minute)
	ctx := context.Background()

	stale, ok, err := locker.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	fresh, ok, err := locker.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
	require.NoError(t, fresh.Release(ctx))
}

func TestLease_VerifyDetectsTakeover(t *testing.T) {
	locker, mr := newTestLocker(t, time.Minute)
	ctx := context.Background()

	first, ok, err := locker.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, first.Token())
	require.NoError(t, first.Verify(ctx))

	mr.Del("k")
	second, ok, err := locker.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	defer second.Release(ctx)

	assert.ErrorIs(t, first.Verify(ctx), ErrNotHeld)
	assert.False(t, first.Held())
	assert.NotEqual(t, first.Token(), second.Token())
	assert.NoError(t, second.Verify(ctx))
}

func TestLease_VerifyMissingKey(t *testing.T) {
	locker, mr := newTestLocker(t, time.Minute)
	ctx := context.Background()

	held, ok, err := locker.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	mr.Del("k")
	assert.ErrorIs(t, held.Verify(ctx), ErrNotHeld)
	assert.ErrorIs(t, held.Release(ctx), ErrNotHeld)
}

func TestLease_RenewsWhileHeld(t *testing.T) {
	lease := 300 * time.Millisecond
	locker, mr := newTestLocker(t, lease)
	ctx := context.Background()

	held, ok, err := locker.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Release(ctx)

	mr.FastForward(200 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL("k") > 150*time.Millisecond
	}, time.Second, 20*time.Millisecond)
	assert.True(t, held.Held())
}

func TestAcquire_SerializesHolders(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := locker.Acquire(context.Background(), "k", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, lease.Release(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}
