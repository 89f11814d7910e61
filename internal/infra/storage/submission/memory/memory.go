// Package memory provides in-memory implementations of the submission
// repositories for tests and single-node development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
)

var _ submission.Repository = (*SubmissionStore)(nil)

// SubmissionStore is a thread-safe in-memory submission repository.
type SubmissionStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*submission.Submission
}

// NewSubmissionStore creates an empty in-memory submission repository.
func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{subs: make(map[uuid.UUID]*submission.Submission)}
}

func (s *SubmissionStore) Create(_ context.Context, sub *submission.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[sub.ID()]; exists {
		return fmt.Errorf("submission %s already exists", sub.ID())
	}
	s.subs[sub.ID()] = cloneSubmission(sub)
	return nil
}

func (s *SubmissionStore) GetByID(_ context.Context, id uuid.UUID) (*submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, nil
	}
	return cloneSubmission(sub), nil
}

func (s *SubmissionStore) ListByStatus(_ context.Context, statuses ...submission.Status) ([]*submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*submission.Submission
	for _, sub := range s.subs {
		for _, st := range statuses {
			if sub.Status() == st {
				out = append(out, cloneSubmission(sub))
				break
			}
		}
	}
	return out, nil
}

func (s *SubmissionStore) Update(_ context.Context, sub *submission.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[sub.ID()]; !exists {
		return fmt.Errorf("submission %s not found", sub.ID())
	}
	s.subs[sub.ID()] = cloneSubmission(sub)
	return nil
}

func cloneSubmission(sub *submission.Submission) *submission.Submission {
	excluded := make([]string, len(sub.ExcludedSlotIDs()))
	copy(excluded, sub.ExcludedSlotIDs())
	return submission.ReconstructSubmission(
		sub.ID(), sub.UserRef(), sub.Filename(), sub.Title(), sub.OriginalTitle(), sub.SlotID(),
		sub.Status(), sub.ErrorLog(), excluded, sub.FilePath(), sub.CreatedAt(), sub.UpdatedAt(),
	)
}

var _ submission.SlotRepository = (*SlotStore)(nil)

// SlotStore is a thread-safe in-memory slot repository.
type SlotStore struct {
	mu    sync.RWMutex
	slots map[string]*submission.Slot
}

// NewSlotStore creates an empty in-memory slot repository.
func NewSlotStore() *SlotStore {
	return &SlotStore{slots: make(map[string]*submission.Slot)}
}

func (s *SlotStore) GetByExternalID(_ context.Context, externalID string) (*submission.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[externalID]
	if !ok {
		return nil, nil
	}
	return cloneSlot(slot), nil
}

func (s *SlotStore) Create(_ context.Context, slot *submission.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slots[slot.ExternalID()]; exists {
		return nil
	}
	s.slots[slot.ExternalID()] = cloneSlot(slot)
	return nil
}

func (s *SlotStore) IncrementUploadCount(_ context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[externalID]
	if !ok {
		return fmt.Errorf("slot %s not found", externalID)
	}
	s.slots[externalID] = submission.ReconstructSlot(
		slot.ExternalID(), slot.Status(), slot.UploadCount()+1, slot.CreatedAt(), slot.UpdatedAt(),
	)
	return nil
}

func cloneSlot(slot *submission.Slot) *submission.Slot {
	return submission.ReconstructSlot(
		slot.ExternalID(), slot.Status(), slot.UploadCount(), slot.CreatedAt(), slot.UpdatedAt(),
	)
}

var _ submission.AccountRepository = (*AccountStore)(nil)

// AccountStore is a thread-safe in-memory credit counter.
type AccountStore struct {
	mu       sync.Mutex
	balances map[string]int
}

// NewAccountStore creates an in-memory account repository with the given
// starting balances.
func NewAccountStore(balances map[string]int) *AccountStore {
	if balances == nil {
		balances = make(map[string]int)
	}
	return &AccountStore{balances: balances}
}

func (s *AccountStore) IncrementAvailable(_ context.Context, userRef string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[userRef]; !ok {
		return fmt.Errorf("account %s not found", userRef)
	}
	s.balances[userRef] += delta
	return nil
}

// Available returns the current balance for tests.
func (s *AccountStore) Available(userRef string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userRef]
}

var _ submission.SettingsRepository = (*SettingsStore)(nil)

// SettingsStore serves a fixed active class name.
type SettingsStore struct{ ClassName string }

// NewSettingsStore creates a settings repository serving the given class name.
func NewSettingsStore(className string) *SettingsStore {
	return &SettingsStore{ClassName: className}
}

func (s *SettingsStore) ActiveClassName(context.Context) (string, error) {
	if s.ClassName == "" {
		return "", fmt.Errorf("setting active_class_name not configured")
	}
	return s.ClassName, nil
}
