package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotHeld is returned by a release when the lock expired or was taken
// over by another holder.
var ErrNotHeld = errors.New("lock not held")

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker acquires named locks that expire after ttl.
type Locker interface {
	// TryAcquire returns acquired=false without error when another holder
	// owns the lock.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release Release, acquired bool, err error)
}

// RunExclusive runs fn while holding key. It reports ran=false when the lock
// is held elsewhere.
func RunExclusive(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	release, ok, err := locker.TryAcquire(ctx, key, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	fnErr := fn(runCtx)
	if err := release(context.Background()); err != nil && !errors.Is(err, ErrNotHeld) {
		if fnErr != nil {
			return true, fnErr
		}
		return true, fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return true, fnErr
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localLease
	seq  uint64
	now  func() time.Time
}

type localLease struct {
	token   uint64
	expires time.Time
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: make(map[string]localLease),
		now:  time.Now,
	}
}

// TryAcquire implements Locker.
func (l *LocalLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return nil, false, nil
	}
	l.seq++
	token := l.seq
	l.held[key] = localLease{token: token, expires: now.Add(ttl)}

	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		lease, ok := l.held[key]
		if !ok || lease.token != token {
			return ErrNotHeld
		}
		delete(l.held, key)
		return nil
	}, true, nil
}
