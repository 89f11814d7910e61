package submission

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence operations for submissions required by
// the workflow sweeps.
type Repository interface {
	// Create persists a new submission in its initial state.
	Create(ctx context.Context, sub *Submission) error

	// GetByID retrieves a submission by id. Returns nil if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Submission, error)

	// ListByStatus returns all submissions in any of the given states.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Submission, error)

	// Update persists the submission's mutable fields (status, slot id,
	// error log, excluded slots).
	Update(ctx context.Context, sub *Submission) error
}

// SlotRepository defines persistence for assignment slots discovered on the
// external platform.
type SlotRepository interface {
	// GetByExternalID retrieves a slot. Returns nil if unknown.
	GetByExternalID(ctx context.Context, externalID string) (*Slot, error)

	// Create registers a newly discovered slot.
	Create(ctx context.Context, slot *Slot) error

	// IncrementUploadCount atomically bumps the slot's upload counter by one.
	// Called only after a confirmed successful upload.
	IncrementUploadCount(ctx context.Context, externalID string) error
}

// AccountRepository defines the credit counter operations for submission
// owners.
type AccountRepository interface {
	// IncrementAvailable adjusts the owner's available-use counter by delta.
	IncrementAvailable(ctx context.Context, userRef string, delta int) error
}

// SettingsRepository exposes operator-managed settings the workflow reads at
// runtime.
type SettingsRepository interface {
	// ActiveClassName returns the configured class name uploads target.
	ActiveClassName(ctx context.Context) (string, error)
}

// ArtifactStore is the narrow file storage surface the workflow consumes for
// report artifacts: write until closed, then bytes are durably readable.
type ArtifactStore interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}
