// Package lock provides distributed TTL leases keyed by string. Workers
// spread over several processes use them to guarantee a submission is only
// worked on by one sweep iteration at a time. Leases expire on their own, so
// a crashed holder never wedges a key for good.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrHeld is returned when the key is already leased by a live holder.
var ErrHeld = errors.New("lock already held")

// Lease is an acquired lock. Release returns the key early; otherwise the
// lease lapses when its TTL runs out.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out TTL leases. Acquire returns ErrHeld when the key is taken
// and not yet expired; any other error is a backend failure.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
