package submission

import (
	"errors"
	"time"
)

// SlotStatus represents the availability of an assignment slot on the
// external platform.
type SlotStatus string

const (
	// SlotStatusAvailable indicates the slot accepts uploads.
	SlotStatusAvailable SlotStatus = "AVAILABLE"

	// SlotStatusDeleted indicates the slot was removed on the external
	// platform.
	SlotStatusDeleted SlotStatus = "DELETED"
)

// Slot is a submission target on the external platform. Slots are discovered
// lazily while scraping the class page and load-balanced by cumulative upload
// count.
type Slot struct {
	externalID  string
	status      SlotStatus
	uploadCount int
	createdAt   time.Time
	updatedAt   time.Time
}

// NewSlot registers a newly discovered slot with a zero upload count.
func NewSlot(externalID string) (*Slot, error) {
	if externalID == "" {
		return nil, errors.New("externalID is required to create a Slot")
	}
	now := time.Now().UTC()
	return &Slot{
		externalID: externalID,
		status:     SlotStatusAvailable,
		createdAt:  now,
		updatedAt:  now,
	}, nil
}

// ReconstructSlot rebuilds a slot from persistent storage.
func ReconstructSlot(externalID string, status SlotStatus, uploadCount int, createdAt, updatedAt time.Time) *Slot {
	return &Slot{
		externalID:  externalID,
		status:      status,
		uploadCount: uploadCount,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}

// ExternalID returns the slot's identifier on the external platform.
func (s *Slot) ExternalID() string { return s.externalID }

// Status returns the slot's availability status.
func (s *Slot) Status() SlotStatus { return s.status }

// UploadCount returns the number of confirmed uploads into this slot.
func (s *Slot) UploadCount() int { return s.uploadCount }

// CreatedAt returns the discovery timestamp.
func (s *Slot) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns the last mutation timestamp.
func (s *Slot) UpdatedAt() time.Time { return s.updatedAt }
