package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
	"github.com/pibicha/turnitin-admin/internal/infra/storage"
)

var _ submission.SlotRepository = (*slotStore)(nil)

// slotStore is the PostgreSQL implementation of the assignment slot
// repository.
type slotStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewSlotStore creates a PostgreSQL-backed slot repository.
func NewSlotStore(pool *pgxpool.Pool, tracer trace.Tracer) *slotStore {
	return &slotStore{pool: pool, tracer: tracer}
}

// GetByExternalID retrieves a slot. Returns nil if unknown.
func (s *slotStore) GetByExternalID(ctx context.Context, externalID string) (*submission.Slot, error) {
	var slot *submission.Slot
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("slot_id", externalID),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_slot", dbAttrs, func(ctx context.Context) error {
		var (
			status               string
			uploadCount          int
			createdAt, updatedAt time.Time
		)
		err := s.pool.QueryRow(ctx, `
			SELECT status, upload_count, created_at, updated_at
			FROM assignment_slots WHERE external_id = $1`, externalID,
		).Scan(&status, &uploadCount, &createdAt, &updatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to get slot: %w", err)
		}
		slot = submission.ReconstructSlot(externalID, submission.SlotStatus(status), uploadCount, createdAt, updatedAt)
		return nil
	})
	return slot, err
}

// Create registers a newly discovered slot. Concurrent discovery of the same
// slot is harmless.
func (s *slotStore) Create(ctx context.Context, slot *submission.Slot) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("slot_id", slot.ExternalID()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_slot", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO assignment_slots (external_id, status, upload_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (external_id) DO NOTHING`,
			slot.ExternalID(), string(slot.Status()), slot.UploadCount(), slot.CreatedAt(), slot.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("failed to create slot: %w", err)
		}
		return nil
	})
}

// IncrementUploadCount atomically bumps the slot's upload counter by one.
func (s *slotStore) IncrementUploadCount(ctx context.Context, externalID string) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("slot_id", externalID),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.increment_slot_uploads", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE assignment_slots
			SET upload_count = upload_count + 1, updated_at = now()
			WHERE external_id = $1`, externalID,
		)
		if err != nil {
			return fmt.Errorf("failed to increment slot upload count: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("slot %s not found", externalID)
		}
		return nil
	})
}
