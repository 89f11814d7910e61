// Package memory provides an in-process lifecycle event publisher for tests
// and single-node development.
package memory

import (
	"context"
	"sync"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
)

var _ submission.EventPublisher = (*Publisher)(nil)

// Publisher records published events in order.
type Publisher struct {
	mu     sync.Mutex
	events []submission.Event
}

// NewPublisher creates an empty in-memory publisher.
func NewPublisher() *Publisher { return &Publisher{} }

func (p *Publisher) PublishSubmissionEvent(_ context.Context, evt submission.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []submission.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]submission.Event, len(p.events))
	copy(out, p.events)
	return out
}
