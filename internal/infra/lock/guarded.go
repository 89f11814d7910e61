package lock

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

var _ Locker = (*GuardedLocker)(nil)

// GuardedLocker bounds concurrent acquire attempts against the backing store
// with a process-local semaphore. When every local permit is taken the key is
// reported held without a store round trip, which keeps a burst of sweep
// goroutines from turning lock contention into a retry storm.
type GuardedLocker struct {
	inner Locker
	sem   *semaphore.Weighted
}

// NewGuardedLocker wraps inner with maxInflight local permits.
func NewGuardedLocker(inner Locker, maxInflight int64) *GuardedLocker {
	return &GuardedLocker{inner: inner, sem: semaphore.NewWeighted(maxInflight)}
}

// Acquire reserves a local permit for the lifetime of the lease, then defers
// to the backing store.
func (g *GuardedLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if !g.sem.TryAcquire(1) {
		return nil, ErrHeld
	}

	lease, err := g.inner.Acquire(ctx, key, ttl)
	if err != nil {
		g.sem.Release(1)
		return nil, err
	}
	return &guardedLease{Lease: lease, sem: g.sem}, nil
}

type guardedLease struct {
	Lease
	sem *semaphore.Weighted
}

func (l *guardedLease) Release(ctx context.Context) error {
	defer l.sem.Release(1)
	return l.Lease.Release(ctx)
}
