package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "queue:a", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.size(), "keys should be released once idle")
}

func TestLocal_DifferentKeysDoNotContend(t *testing.T) {
	l := NewLocal()
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), "queue:a", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ran := false
	err := l.WithLock(ctx, "queue:b", func(ctx context.Context) error {
		ran = true
		return nil
	})
	close(release)

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestLocal_ContextCancelledWhileWaiting(t *testing.T) {
	l := NewLocal()
	held := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "k", func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestWithLocks_HoldsAllKeys(t *testing.T) {
	l := NewLocal()
	var seen int
	err := WithLocks(context.Background(), l, []string{"a", "b", "c"}, func(ctx context.Context) error {
		seen = l.size()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seen)
	assert.Equal(t, 0, l.size())
}

type flakyLocker struct {
	failures int
	calls    int
}

func (f *flakyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	f.calls++
	if f.calls <= f.failures {
		return ErrNotAcquired
	}
	return fn(ctx)
}

func TestRetrying(t *testing.T) {
	inner := &flakyLocker{failures: 2}
	r := NewRetrying(inner, 3, time.Millisecond)

	err := r.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)

	inner = &flakyLocker{failures: 5}
	r = NewRetrying(inner, 2, time.Millisecond)
	err = r.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Equal(t, 2, inner.calls)
}

func TestRetrying_DoesNotRetryOtherErrors(t *testing.T) {
	inner := &flakyLocker{}
	r := NewRetrying(inner, 5, time.Millisecond)
	boom := errors.New("boom")

	err := r.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, inner.calls)
}

// busyKeyLocker never grants busy and counts acquisitions per key.
type busyKeyLocker struct {
	busy  string
	calls map[string]int
}

func (b *busyKeyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	b.calls[key]++
	if key == b.busy {
		return ErrNotAcquired
	}
	return fn(ctx)
}

func TestRetrying_NestedKeyRetriedOnlyByItsOwnAcquire(t *testing.T) {
	inner := &busyKeyLocker{busy: "provider:1", calls: map[string]int{}}
	r := NewRetrying(inner, 3, time.Millisecond)

	ran := false
	err := WithLocks(context.Background(), r, []string{"clinic:1", "provider:1"}, func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, ran)
	assert.Equal(t, 1, inner.calls["clinic:1"])
	assert.Equal(t, 3, inner.calls["provider:1"])
}

func TestRetrying_DoesNotRerunFnThatReportsNotAcquired(t *testing.T) {
	inner := &flakyLocker{}
	r := NewRetrying(inner, 4, time.Millisecond)

	runs := 0
	err := r.WithLock(context.Background(), "k", func(ctx context.Context) error {
		runs++
		return ErrNotAcquired
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, inner.calls)
}
