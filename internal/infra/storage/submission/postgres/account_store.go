package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
	"github.com/pibicha/turnitin-admin/internal/infra/storage"
)

var _ submission.AccountRepository = (*accountStore)(nil)

// accountStore is the PostgreSQL implementation of the owner-account credit
// counter.
type accountStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewAccountStore creates a PostgreSQL-backed account repository.
func NewAccountStore(pool *pgxpool.Pool, tracer trace.Tracer) *accountStore {
	return &accountStore{pool: pool, tracer: tracer}
}

// IncrementAvailable adjusts the owner's available-use counter by delta.
func (s *accountStore) IncrementAvailable(ctx context.Context, userRef string, delta int) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("user_ref", userRef),
		attribute.Int("delta", delta),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.increment_account_available", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE accounts SET available_count = available_count + $2 WHERE user_ref = $1`,
			userRef, delta,
		)
		if err != nil {
			return fmt.Errorf("failed to adjust account credits: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("account %s not found", userRef)
		}
		return nil
	})
}
