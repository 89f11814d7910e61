package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
	"github.com/pibicha/turnitin-admin/internal/infra/storage"
)

const activeClassNameKey = "active_class_name"

var _ submission.SettingsRepository = (*settingsStore)(nil)

// settingsStore reads operator-managed settings. Settings change rarely but
// must take effect without a restart, so they are read per call.
type settingsStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewSettingsStore creates a PostgreSQL-backed settings repository.
func NewSettingsStore(pool *pgxpool.Pool, tracer trace.Tracer) *settingsStore {
	return &settingsStore{pool: pool, tracer: tracer}
}

// ActiveClassName returns the configured class name uploads target.
func (s *settingsStore) ActiveClassName(ctx context.Context) (string, error) {
	var value string
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_active_class_name", defaultDBAttributes, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx,
			`SELECT value FROM settings WHERE key = $1`, activeClassNameKey,
		).Scan(&value)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("setting %s not configured", activeClassNameKey)
			}
			return fmt.Errorf("failed to read setting %s: %w", activeClassNameKey, err)
		}
		return nil
	})
	return value, err
}
