// Package postgres provides the PostgreSQL-backed persistence for the
// submission workflow: submissions, assignment slots, owner accounts, and
// operator settings.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
	"github.com/pibicha/turnitin-admin/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

var _ submission.Repository = (*submissionStore)(nil)

// submissionStore is the PostgreSQL implementation of the submission
// repository.
type submissionStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewSubmissionStore creates a PostgreSQL-backed submission repository.
func NewSubmissionStore(pool *pgxpool.Pool, tracer trace.Tracer) *submissionStore {
	return &submissionStore{pool: pool, tracer: tracer}
}

// Create persists a new submission in its initial state.
func (s *submissionStore) Create(ctx context.Context, sub *submission.Submission) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("submission_id", sub.ID().String()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_submission", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO submissions (
				id, user_ref, filename, title, original_title, slot_id,
				status, error_log, excluded_slot_ids, file_path, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			sub.ID(), sub.UserRef(), sub.Filename(), sub.Title(), sub.OriginalTitle(), sub.SlotID(),
			sub.Status().String(), sub.ErrorLog(), sub.ExcludedSlotIDs(), sub.FilePath(), sub.CreatedAt(), sub.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("failed to create submission: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a submission by id. Returns nil if it does not exist.
func (s *submissionStore) GetByID(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	var sub *submission.Submission
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("submission_id", id.String()),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_submission", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT id, user_ref, filename, title, original_title, slot_id,
			       status, error_log, excluded_slot_ids, file_path, created_at, updated_at
			FROM submissions WHERE id = $1`, id)

		var err error
		sub, err = scanSubmission(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				sub = nil
				return nil
			}
			return fmt.Errorf("failed to get submission: %w", err)
		}
		return nil
	})
	return sub, err
}

// ListByStatus returns all submissions in any of the given states, oldest
// first so sweeps work through the backlog in arrival order.
func (s *submissionStore) ListByStatus(ctx context.Context, statuses ...submission.Status) ([]*submission.Submission, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = st.String()
	}

	var subs []*submission.Submission
	dbAttrs := append(
		defaultDBAttributes,
		attribute.StringSlice("statuses", names),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_submissions_by_status", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT id, user_ref, filename, title, original_title, slot_id,
			       status, error_log, excluded_slot_ids, file_path, created_at, updated_at
			FROM submissions WHERE status = ANY($1) ORDER BY created_at`, names)
		if err != nil {
			return fmt.Errorf("failed to list submissions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			sub, err := scanSubmission(rows)
			if err != nil {
				return fmt.Errorf("failed to scan submission: %w", err)
			}
			subs = append(subs, sub)
		}
		return rows.Err()
	})
	return subs, err
}

// Update persists the submission's mutable fields.
func (s *submissionStore) Update(ctx context.Context, sub *submission.Submission) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("submission_id", sub.ID().String()),
		attribute.String("status", sub.Status().String()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_submission", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE submissions
			SET slot_id = $2, status = $3, error_log = $4, excluded_slot_ids = $5, updated_at = $6
			WHERE id = $1`,
			sub.ID(), sub.SlotID(), sub.Status().String(), sub.ErrorLog(), sub.ExcludedSlotIDs(), sub.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("failed to update submission: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("submission %s not found", sub.ID())
		}
		return nil
	})
}

func scanSubmission(row pgx.Row) (*submission.Submission, error) {
	var (
		id                   uuid.UUID
		userRef              string
		filename             string
		title                string
		originalTitle        string
		slotID               string
		status               string
		errorLog             string
		excludedSlotIDs      []string
		filePath             string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(
		&id, &userRef, &filename, &title, &originalTitle, &slotID,
		&status, &errorLog, &excludedSlotIDs, &filePath, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	return submission.ReconstructSubmission(
		id, userRef, filename, title, originalTitle, slotID,
		submission.ParseStatus(status), errorLog, excludedSlotIDs, filePath, createdAt, updatedAt,
	), nil
}
