package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pibicha/turnitin-admin/internal/infra/storage"
)

var _ Locker = (*PostgresLocker)(nil)

// PostgresLocker implements TTL leases on a single postgres table. A lease is
// a row keyed by the lock name; an expired row may be stolen by the next
// acquirer.
type PostgresLocker struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewPostgresLocker creates a locker backed by the given connection pool.
func NewPostgresLocker(pool *pgxpool.Pool, tracer trace.Tracer) *PostgresLocker {
	return &PostgresLocker{pool: pool, tracer: tracer}
}

// Acquire inserts or steals the row for key. The WHERE clause on the upsert
// makes takeover of a live lease impossible: the update only applies when the
// current row has expired.
func (l *PostgresLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	owner := uuid.New().String()

	err := storage.ExecuteAndTrace(ctx, l.tracer, "postgres.acquire_lock", []attribute.KeyValue{
		attribute.String("key", key),
		attribute.String("ttl", ttl.String()),
	}, func(ctx context.Context) error {
		tag, err := l.pool.Exec(ctx, `
			INSERT INTO workflow_locks (key, owner, expires_at)
			VALUES ($1, $2, now() + $3)
			ON CONFLICT (key) DO UPDATE
			SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
			WHERE workflow_locks.expires_at < now()`,
			key, owner, ttl,
		)
		if err != nil {
			return fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrHeld
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &postgresLease{locker: l, key: key, owner: owner}, nil
}

type postgresLease struct {
	locker *PostgresLocker
	key    string
	owner  string
}

func (p *postgresLease) Key() string { return p.key }

// Release deletes the row only if this lease still owns it. A lease that
// expired and was stolen releases as a no-op.
func (p *postgresLease) Release(ctx context.Context) error {
	return storage.ExecuteAndTrace(ctx, p.locker.tracer, "postgres.release_lock", []attribute.KeyValue{
		attribute.String("key", p.key),
	}, func(ctx context.Context) error {
		_, err := p.locker.pool.Exec(ctx,
			`DELETE FROM workflow_locks WHERE key = $1 AND owner = $2`,
			p.key, p.owner,
		)
		if err != nil {
			return fmt.Errorf("releasing lock %s: %w", p.key, err)
		}
		return nil
	})
}
