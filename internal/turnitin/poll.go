package turnitin

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff"
)

// errNotReady signals a poll attempt that completed without reaching a
// terminal state.
var errNotReady = errors.New("not ready")

// pollSpec parameterizes a bounded fixed-interval poll loop. Every polling
// site on the external platform (submission metadata, report jobs, download
// tickets) uses the same combinator with its own budget.
type pollSpec struct {
	maxAttempts uint64
	interval    backoff.BackOff
	what        string
}

func newPollSpec(maxAttempts int, interval backoff.BackOff, what string) pollSpec {
	return pollSpec{maxAttempts: uint64(maxAttempts), interval: interval, what: what}
}

// run invokes op until it reports a terminal result, a permanent error
// occurs, or the attempt budget is exhausted. Exhaustion maps to ErrTimeout.
func (p pollSpec) run(ctx context.Context, op func(ctx context.Context) (done bool, err error)) error {
	b := backoff.WithContext(backoff.WithMaxRetries(p.interval, p.maxAttempts-1), ctx)

	attempt := func() error {
		done, err := op(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return errNotReady
		}
		return nil
	}

	err := backoff.Retry(attempt, b)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, errNotReady) {
		return fmt.Errorf("%w: %s after %d attempts", ErrTimeout, p.what, p.maxAttempts)
	}
	return err
}
