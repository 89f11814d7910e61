// Package submission contains the domain model for document check requests
// flowing through the Turnitin automation workflow.
package submission

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Submission represents one document check request. It is created by the
// intake surface in SUBMITTED state and driven through its lifecycle
// exclusively by the workflow sweeps.
type Submission struct {
	id            uuid.UUID
	userRef       string
	filename      string
	title         string
	originalTitle string

	// slotID is the external assignment slot the document was accepted into.
	// Empty until the upload is confirmed.
	slotID string

	status Status

	// errorLog accumulates human-readable failure context across sweep
	// retries.
	errorLog string

	// excludedSlotIDs records slots that already rejected this submission so
	// the next upload attempt picks a different one.
	excludedSlotIDs []string

	filePath  string
	createdAt time.Time
	updatedAt time.Time
}

// NewSubmission creates a submission in its initial SUBMITTED state.
func NewSubmission(userRef, filename, title, originalTitle, filePath string) (*Submission, error) {
	if userRef == "" || filename == "" {
		return nil, errors.New("both userRef and filename are required to create a Submission")
	}
	now := time.Now().UTC()
	return &Submission{
		id:            uuid.New(),
		userRef:       userRef,
		filename:      filename,
		title:         title,
		originalTitle: originalTitle,
		status:        StatusSubmitted,
		filePath:      filePath,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// ReconstructSubmission rebuilds a submission from persistent storage.
func ReconstructSubmission(
	id uuid.UUID,
	userRef, filename, title, originalTitle, slotID string,
	status Status,
	errorLog string,
	excludedSlotIDs []string,
	filePath string,
	createdAt, updatedAt time.Time,
) *Submission {
	return &Submission{
		id:              id,
		userRef:         userRef,
		filename:        filename,
		title:           title,
		originalTitle:   originalTitle,
		slotID:          slotID,
		status:          status,
		errorLog:        errorLog,
		excludedSlotIDs: excludedSlotIDs,
		filePath:        filePath,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

// ID returns the submission's unique identifier.
func (s *Submission) ID() uuid.UUID { return s.id }

// UserRef returns the owning account reference.
func (s *Submission) UserRef() string { return s.userRef }

// Filename returns the stored filename.
func (s *Submission) Filename() string { return s.filename }

// Title returns the display title.
func (s *Submission) Title() string { return s.title }

// OriginalTitle returns the original uploaded filename.
func (s *Submission) OriginalTitle() string { return s.originalTitle }

// SlotID returns the external assignment slot id, empty until the upload is
// confirmed.
func (s *Submission) SlotID() string { return s.slotID }

// Status returns the current lifecycle status.
func (s *Submission) Status() Status { return s.status }

// ErrorLog returns the accumulated failure context.
func (s *Submission) ErrorLog() string { return s.errorLog }

// ExcludedSlotIDs returns the slots already attempted for this submission.
func (s *Submission) ExcludedSlotIDs() []string { return s.excludedSlotIDs }

// FilePath returns the stored file path. Immutable once set.
func (s *Submission) FilePath() string { return s.filePath }

// CreatedAt returns the creation timestamp.
func (s *Submission) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns the last mutation timestamp.
func (s *Submission) UpdatedAt() time.Time { return s.updatedAt }

// Age reports how long the submission has existed relative to now.
func (s *Submission) Age(now time.Time) time.Duration { return now.Sub(s.createdAt) }

// MarkAnalysing records a confirmed upload into the given slot and moves the
// submission to ANALYSING.
func (s *Submission) MarkAnalysing(slotID string) error {
	if slotID == "" {
		return errors.New("slotID is required to mark a submission analysing")
	}
	if err := s.status.validateTransition(StatusAnalysing); err != nil {
		return err
	}
	s.slotID = slotID
	s.status = StatusAnalysing
	s.updatedAt = time.Now().UTC()
	return nil
}

// MarkDownloaded moves the submission to DOWNLOADED after both report
// artifacts were persisted.
func (s *Submission) MarkDownloaded() error {
	if err := s.status.validateTransition(StatusDownloaded); err != nil {
		return err
	}
	s.status = StatusDownloaded
	s.updatedAt = time.Now().UTC()
	return nil
}

// MarkFailed moves the submission to FAILED. Only the timeout sweep performs
// this transition.
func (s *Submission) MarkFailed() error {
	if err := s.status.validateTransition(StatusFailed); err != nil {
		return err
	}
	s.status = StatusFailed
	s.updatedAt = time.Now().UTC()
	return nil
}

// MarkDeleted moves the submission to its terminal DELETED state.
func (s *Submission) MarkDeleted() error {
	if err := s.status.validateTransition(StatusDeleted); err != nil {
		return err
	}
	s.status = StatusDeleted
	s.updatedAt = time.Now().UTC()
	return nil
}

// AppendError adds failure context to the submission's running log.
func (s *Submission) AppendError(msg string) {
	if msg == "" {
		return
	}
	if s.errorLog == "" {
		s.errorLog = msg
	} else {
		s.errorLog = s.errorLog + "; " + msg
	}
	s.updatedAt = time.Now().UTC()
}

// ExcludeSlot records a slot that rejected this submission so subsequent
// upload attempts skip it.
func (s *Submission) ExcludeSlot(slotID string) {
	if slotID == "" || s.IsSlotExcluded(slotID) {
		return
	}
	s.excludedSlotIDs = append(s.excludedSlotIDs, slotID)
	s.updatedAt = time.Now().UTC()
}

// IsSlotExcluded reports whether the slot already rejected this submission.
func (s *Submission) IsSlotExcluded(slotID string) bool {
	for _, id := range s.excludedSlotIDs {
		if id == slotID {
			return true
		}
	}
	return false
}

// StorageDir returns the directory the submission's report artifacts are
// written under, derived from the stored file path.
func (s *Submission) StorageDir() string {
	if s.filePath == "" {
		return ""
	}
	if idx := strings.LastIndex(s.filePath, "/"); idx > 0 {
		return s.filePath[:idx]
	}
	return ""
}
