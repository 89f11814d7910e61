package submission

import (
	"errors"
	"fmt"
)

// Status represents the lifecycle state of a document submission. It enables
// the workflow sweeps to coordinate who is allowed to act on a record.
type Status string

// ErrStatusUnknown is returned when a submission status is unknown.
var ErrStatusUnknown = errors.New("submission status unknown")

// ErrInvalidStateTransition is returned when a status change does not follow
// the submission lifecycle rules.
var ErrInvalidStateTransition = errors.New("invalid submission status transition")

const (
	// StatusSubmitted indicates a submission was received and is waiting to be
	// uploaded to the external platform.
	StatusSubmitted Status = "SUBMITTED"

	// StatusAnalysing indicates the document was accepted by the external
	// platform and reports are being generated.
	StatusAnalysing Status = "ANALYSING"

	// StatusDownloaded indicates both report artifacts were retrieved and
	// persisted.
	StatusDownloaded Status = "DOWNLOADED"

	// StatusFailed indicates the submission exceeded its processing deadline.
	StatusFailed Status = "FAILED"

	// StatusDeleted indicates the record was removed by an administrative
	// action. Terminal.
	StatusDeleted Status = "DELETED"

	// StatusUnspecified is used when a submission status is unknown.
	StatusUnspecified Status = "UNSPECIFIED"
)

// String returns the string representation of the Status.
func (s Status) String() string { return string(s) }

// ParseStatus converts a string to a Status.
func ParseStatus(s string) Status {
	switch s {
	case "SUBMITTED":
		return StatusSubmitted
	case "ANALYSING":
		return StatusAnalysing
	case "DOWNLOADED":
		return StatusDownloaded
	case "FAILED":
		return StatusFailed
	case "DELETED":
		return StatusDeleted
	default:
		return StatusUnspecified
	}
}

// validateTransition checks if a status transition is valid and returns an error if not.
func (s Status) validateTransition(target Status) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidStateTransition, s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target status.
// It enforces the submission lifecycle rules to prevent invalid state changes.
// Nothing transitions back to SUBMITTED; a resubmission is a new record.
func (s Status) isValidTransition(target Status) bool {
	switch s {
	case StatusSubmitted:
		return target == StatusAnalysing || target == StatusFailed || target == StatusDeleted
	case StatusAnalysing:
		return target == StatusDownloaded || target == StatusFailed || target == StatusDeleted
	case StatusDownloaded:
		return target == StatusDeleted
	case StatusFailed:
		// FAILED only admits deletion. The upstream system had contradictory
		// rules here; deletion wins.
		return target == StatusDeleted
	case StatusDeleted:
		// Terminal state - no further transitions allowed.
		return false
	case StatusUnspecified:
		return false
	default:
		return false
	}
}
