package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pibicha/turnitin-admin/internal/infra/storage"
)

func TestPostgresLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	ctx := context.Background()
	locker := NewPostgresLocker(pool, storage.NoOpTracer())

	lease, err := locker.Acquire(ctx, "submission:abc", 30*time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "submission:abc", 30*time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, lease.Release(ctx))

	lease2, err := locker.Acquire(ctx, "submission:abc", 30*time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease2.Release(ctx))
}

func TestPostgresLockerExpiredLeaseIsStolen(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	ctx := context.Background()
	locker := NewPostgresLocker(pool, storage.NoOpTracer())

	_, err := locker.Acquire(ctx, "submission:abc", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	lease, err := locker.Acquire(ctx, "submission:abc", 30*time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}
