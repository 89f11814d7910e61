package lock

import (
	"context"
	"sync"
	"time"
)

var _ Locker = (*MemoryLocker)(nil)

// MemoryLocker is an in-process Locker for tests and single-node development.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryEntry

	// now is swappable for expiry tests.
	now func() time.Time
}

type memoryEntry struct {
	owner     string
	expiresAt time.Time
}

// NewMemoryLocker creates an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryEntry), now: time.Now}
}

// Acquire takes the key unless a live lease holds it. Expired leases are
// stolen in place.
func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.leases[key]; ok && entry.expiresAt.After(now) {
		return nil, ErrHeld
	}

	owner := key + now.Format(time.RFC3339Nano)
	m.leases[key] = memoryEntry{owner: owner, expiresAt: now.Add(ttl)}
	return &memoryLease{locker: m, key: key, owner: owner}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	owner  string
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	if entry, ok := l.locker.leases[l.key]; ok && entry.owner == l.owner {
		delete(l.locker.leases, l.key)
	}
	return nil
}
