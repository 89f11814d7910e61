package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/pibicha/turnitin-admin/pkg/common/logger"
)

// Intervals sets the cadence of each sweep. Zero values fall back to the
// production cadence.
type Intervals struct {
	Download time.Duration
	Upload   time.Duration
	Failed   time.Duration
}

func (i Intervals) withDefaults() Intervals {
	if i.Download == 0 {
		i.Download = time.Minute
	}
	if i.Upload == 0 {
		i.Upload = time.Minute
	}
	if i.Failed == 0 {
		i.Failed = time.Minute
	}
	return i
}

// Runner triggers the scheduler's sweeps on fixed tickers until its context
// is canceled. Each sweep runs on its own cadence; a slow sweep delays only
// its own next tick.
type Runner struct {
	scheduler *Scheduler
	intervals Intervals
	logger    *logger.Logger
}

// NewRunner creates a sweep runner.
func NewRunner(scheduler *Scheduler, intervals Intervals, log *logger.Logger) *Runner {
	return &Runner{
		scheduler: scheduler,
		intervals: intervals.withDefaults(),
		logger:    log.With("component", "workflow_runner"),
	}
}

// Run blocks until ctx is canceled, firing the three sweeps on their tickers.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup

	sweeps := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"download_reports", r.intervals.Download, r.scheduler.DownloadReports},
		{"upload_pending", r.intervals.Upload, r.scheduler.UploadPending},
		{"fail_overdue", r.intervals.Failed, r.scheduler.FailOverdue},
	}

	for _, sweep := range sweeps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.logger.Info(ctx, "Sweep started", "sweep", sweep.name, "interval", sweep.interval.String())

			ticker := time.NewTicker(sweep.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					r.logger.Info(ctx, "Sweep stopped", "sweep", sweep.name)
					return
				case <-ticker.C:
					sweep.fn(ctx)
				}
			}
		}()
	}

	wg.Wait()
}
