package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker guards a critical section identified by key. Implementations must
// never serialize callers that use different keys.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// WithLocks takes every key in order and runs fn while all are held.
// Callers must pass keys in a stable order to avoid lock inversion.
func WithLocks(ctx context.Context, l Locker, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return l.WithLock(ctx, keys[0], func(lockCtx context.Context) error {
		return WithLocks(lockCtx, l, keys[1:], fn)
	})
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker: one semaphore per key, created on demand and
// dropped once nobody references it.
type Local struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*keyLock)}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	kl := l.ref(key)
	defer l.unref(key, kl)

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}
	defer func() { <-kl.sem }()

	return fn(ctx)
}

func (l *Local) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *Local) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports how many keys are currently tracked.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Retrying wraps a Locker whose acquisition fails fast (Redis SET NX) and
// retries ErrNotAcquired with exponential backoff. Only a failure to take
// key itself is retried; once fn has run its result is returned as is, so
// nested keys from WithLocks do not multiply the attempts.
type Retrying struct {
	inner    Locker
	attempts int
	backoff  time.Duration
}

func NewRetrying(inner Locker, attempts int, backoff time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{inner: inner, attempts: attempts, backoff: backoff}
}

func (r *Retrying) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	wait := r.backoff
	var err error
	entered := false
	run := func(lockCtx context.Context) error {
		entered = true
		return fn(lockCtx)
	}
	for i := 0; i < r.attempts; i++ {
		err = r.inner.WithLock(ctx, key, run)
		if entered || !errors.Is(err, ErrNotAcquired) {
			return err
		}
		if i == r.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
