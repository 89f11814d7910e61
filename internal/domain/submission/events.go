package submission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a submission lifecycle event.
type EventType string

const (
	// EventTypeAnalysing signals a confirmed upload into a slot.
	EventTypeAnalysing EventType = "submission.analysing"

	// EventTypeDownloaded signals both report artifacts were persisted.
	EventTypeDownloaded EventType = "submission.downloaded"

	// EventTypeFailed signals the timeout sweep failed the submission and
	// refunded the owner's credit.
	EventTypeFailed EventType = "submission.failed"
)

// Event is a submission lifecycle notification published after a successful
// state transition.
type Event struct {
	Type         EventType `json:"type"`
	SubmissionID uuid.UUID `json:"submission_id"`
	UserRef      string    `json:"user_ref"`
	SlotID       string    `json:"slot_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewEvent creates a lifecycle event for the given submission.
func NewEvent(typ EventType, sub *Submission) Event {
	return Event{
		Type:         typ,
		SubmissionID: sub.ID(),
		UserRef:      sub.UserRef(),
		SlotID:       sub.SlotID(),
		OccurredAt:   time.Now().UTC(),
	}
}

// EventPublisher publishes lifecycle events to interested downstream
// consumers. Publishing is best-effort; the workflow never blocks state
// progress on it.
type EventPublisher interface {
	PublishSubmissionEvent(ctx context.Context, evt Event) error
}
