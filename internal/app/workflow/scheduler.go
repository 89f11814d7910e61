// Package workflow orchestrates the periodic sweeps that drive submissions
// through their lifecycle: uploading pending documents, retrieving finished
// reports, and failing work that blew its deadline.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
	"github.com/pibicha/turnitin-admin/internal/infra/lock"
	"github.com/pibicha/turnitin-admin/pkg/common/logger"
)

const (
	// aiGraceWindow bounds how long after creation the AI report is still
	// attempted. Inclusive: a submission at exactly ten minutes takes the AI
	// branch.
	aiGraceWindow = 10 * time.Minute

	// uploadDeadline is how long a pending upload may keep retrying.
	uploadDeadline = 10 * time.Minute

	// failureDeadline is the absolute processing deadline after which the
	// timeout sweep fails the submission and refunds the owner.
	failureDeadline = 15 * time.Minute

	defaultLockTTL = 30 * time.Minute
)

// PlatformClient is the surface of the external platform the sweeps consume.
type PlatformClient interface {
	Submit(ctx context.Context, title, filename string, fileBytes []byte, excludedSlotIDs []string) (slotID string, err error)
	AIReport(ctx context.Context, slotID, filename string) ([]byte, error)
	SimilarityReport(ctx context.Context, slotID string) ([]byte, error)
}

// Scheduler runs the three sweeps. Each sweep is idempotent and safe to run
// concurrently across processes: every per-submission mutation happens under
// a distributed lock and behind an elapsed-time guard.
type Scheduler struct {
	repo      submission.Repository
	accounts  submission.AccountRepository
	artifacts submission.ArtifactStore
	client    PlatformClient
	locker    lock.Locker
	publisher submission.EventPublisher

	lockTTL time.Duration

	// now is swappable for deadline tests.
	now func() time.Time

	tracer trace.Tracer
	logger *logger.Logger
}

// NewScheduler wires a sweep scheduler.
func NewScheduler(
	repo submission.Repository,
	accounts submission.AccountRepository,
	artifacts submission.ArtifactStore,
	client PlatformClient,
	locker lock.Locker,
	publisher submission.EventPublisher,
	tracer trace.Tracer,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		repo:      repo,
		accounts:  accounts,
		artifacts: artifacts,
		client:    client,
		locker:    locker,
		publisher: publisher,
		lockTTL:   defaultLockTTL,
		now:       time.Now,
		tracer:    tracer,
		logger:    log.With("component", "workflow_scheduler"),
	}
}

// lockKey guards upload and download work on one submission. The timeout
// sweep uses its own namespace so a held upload lock never prevents the
// deadline check.
func lockKey(sub *submission.Submission) string {
	return "submission:" + sub.ID().String()
}

func failedLockKey(sub *submission.Submission) string {
	return lockKey(sub) + ":failed"
}

// DownloadReports processes every ANALYSING submission: within the grace
// window it requires both the AI and similarity artifacts before moving to
// DOWNLOADED; past the window it settles for the similarity artifact alone.
func (s *Scheduler) DownloadReports(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "workflow.download_reports")
	defer span.End()

	subs, err := s.repo.ListByStatus(ctx, submission.StatusAnalysing)
	if err != nil {
		s.logger.Error(ctx, "Listing analysing submissions failed", "error", err)
		return
	}
	span.SetAttributes(attribute.Int("num_submissions", len(subs)))

	for _, sub := range subs {
		s.withLock(ctx, lockKey(sub), func(ctx context.Context) {
			s.downloadOne(ctx, sub)
		})
	}
}

func (s *Scheduler) downloadOne(ctx context.Context, sub *submission.Submission) {
	elapsed := sub.Age(s.now())
	log := s.logger.With(
		"submission_id", sub.ID().String(),
		"user_ref", sub.UserRef(),
		"storage_dir", sub.StorageDir(),
	)

	if elapsed <= aiGraceWindow {
		aiReport, err := s.client.AIReport(ctx, sub.SlotID(), sub.Filename())
		if err != nil || len(aiReport) == 0 {
			log.Info(ctx, "AI report not ready, deferring", "error", err)
			return
		}

		simReport, err := s.client.SimilarityReport(ctx, sub.SlotID())
		if err != nil {
			log.Info(ctx, "Similarity report not ready, deferring", "error", err)
			return
		}

		if err := s.persistReports(ctx, sub, aiReport, simReport); err != nil {
			log.Error(ctx, "Persisting report artifacts failed", "error", err)
			return
		}
	} else {
		simReport, err := s.client.SimilarityReport(ctx, sub.SlotID())
		if err != nil {
			sub.AppendError(fmt.Sprintf("similarity report after grace window: %v", err))
			if uerr := s.repo.Update(ctx, sub); uerr != nil {
				log.Error(ctx, "Recording similarity failure failed", "error", uerr)
			}
			log.Error(ctx, "Similarity report failed past grace window", "error", err)
			return
		}

		if err := s.persistReports(ctx, sub, nil, simReport); err != nil {
			log.Error(ctx, "Persisting report artifact failed", "error", err)
			return
		}
	}

	if err := sub.MarkDownloaded(); err != nil {
		log.Error(ctx, "Transition to DOWNLOADED rejected", "error", err)
		return
	}
	if err := s.repo.Update(ctx, sub); err != nil {
		log.Error(ctx, "Persisting DOWNLOADED status failed", "error", err)
		return
	}
	s.publish(ctx, submission.NewEvent(submission.EventTypeDownloaded, sub))
	log.Info(ctx, "Reports downloaded", "elapsed", elapsed.String())
}

// persistReports writes the artifacts under the submission's storage
// directory. The AI artifact is optional past the grace window.
func (s *Scheduler) persistReports(ctx context.Context, sub *submission.Submission, aiReport, simReport []byte) error {
	dir := sub.StorageDir()
	if aiReport != nil {
		if err := s.artifacts.Write(ctx, dir+"/"+sub.Title()+"_ai.pdf", aiReport); err != nil {
			return fmt.Errorf("writing AI artifact: %w", err)
		}
	}
	if err := s.artifacts.Write(ctx, dir+"/"+sub.Title()+"_plagiarism.pdf", simReport); err != nil {
		return fmt.Errorf("writing similarity artifact: %w", err)
	}
	return nil
}

// UploadPending pushes every SUBMITTED submission to the external platform,
// excluding slots that rejected it before. Submissions past the upload
// deadline are left for the timeout sweep.
func (s *Scheduler) UploadPending(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "workflow.upload_pending")
	defer span.End()

	subs, err := s.repo.ListByStatus(ctx, submission.StatusSubmitted)
	if err != nil {
		s.logger.Error(ctx, "Listing pending submissions failed", "error", err)
		return
	}
	span.SetAttributes(attribute.Int("num_submissions", len(subs)))

	for _, sub := range subs {
		s.withLock(ctx, lockKey(sub), func(ctx context.Context) {
			s.uploadOne(ctx, sub)
		})
	}
}

func (s *Scheduler) uploadOne(ctx context.Context, sub *submission.Submission) {
	log := s.logger.With("submission_id", sub.ID().String(), "user_ref", sub.UserRef())

	if elapsed := sub.Age(s.now()); elapsed > uploadDeadline {
		sub.AppendError(fmt.Sprintf("upload deadline exceeded after %s", elapsed.Round(time.Second)))
		if err := s.repo.Update(ctx, sub); err != nil {
			log.Error(ctx, "Recording upload deadline failed", "error", err)
		}
		log.Warn(ctx, "Upload deadline exceeded, leaving for timeout sweep", "elapsed", elapsed.String())
		return
	}

	exists, err := s.artifacts.Exists(ctx, sub.FilePath())
	if err != nil || !exists {
		sub.AppendError(fmt.Sprintf("stored file %s missing", sub.FilePath()))
		if uerr := s.repo.Update(ctx, sub); uerr != nil {
			log.Error(ctx, "Recording missing file failed", "error", uerr)
		}
		log.Error(ctx, "Stored file missing", "file_path", sub.FilePath(), "error", err)
		return
	}

	fileBytes, err := s.artifacts.Read(ctx, sub.FilePath())
	if err != nil {
		sub.AppendError(fmt.Sprintf("reading stored file: %v", err))
		if uerr := s.repo.Update(ctx, sub); uerr != nil {
			log.Error(ctx, "Recording read failure failed", "error", uerr)
		}
		return
	}

	slotID, err := s.client.Submit(ctx, sub.Title(), sub.Filename(), fileBytes, sub.ExcludedSlotIDs())
	if err != nil {
		if slotID != "" {
			sub.ExcludeSlot(slotID)
		}
		sub.AppendError(err.Error())
		if uerr := s.repo.Update(ctx, sub); uerr != nil {
			log.Error(ctx, "Recording upload failure failed", "error", uerr)
		}
		log.Error(ctx, "Upload failed", "slot_id", slotID, "error", err)
		return
	}

	if err := sub.MarkAnalysing(slotID); err != nil {
		log.Error(ctx, "Transition to ANALYSING rejected", "error", err)
		return
	}
	if err := s.repo.Update(ctx, sub); err != nil {
		log.Error(ctx, "Persisting ANALYSING status failed", "error", err)
		return
	}
	s.publish(ctx, submission.NewEvent(submission.EventTypeAnalysing, sub))
	log.Info(ctx, "Document uploaded", "slot_id", slotID)
}

// FailOverdue finalizes every SUBMITTED or ANALYSING submission past the
// absolute deadline: transition to FAILED and refund the owner's credit. Its
// lock namespace is separate so a submission held by an upload or download
// sweep can still be deadline-checked.
func (s *Scheduler) FailOverdue(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "workflow.fail_overdue")
	defer span.End()

	subs, err := s.repo.ListByStatus(ctx, submission.StatusSubmitted, submission.StatusAnalysing)
	if err != nil {
		s.logger.Error(ctx, "Listing overdue candidates failed", "error", err)
		return
	}
	span.SetAttributes(attribute.Int("num_submissions", len(subs)))

	for _, sub := range subs {
		s.withLock(ctx, failedLockKey(sub), func(ctx context.Context) {
			s.failOne(ctx, sub)
		})
	}
}

func (s *Scheduler) failOne(ctx context.Context, sub *submission.Submission) {
	elapsed := sub.Age(s.now())
	if elapsed <= failureDeadline {
		return
	}
	log := s.logger.With("submission_id", sub.ID().String(), "user_ref", sub.UserRef())

	if err := sub.MarkFailed(); err != nil {
		log.Error(ctx, "Transition to FAILED rejected", "error", err)
		return
	}
	sub.AppendError(fmt.Sprintf("processing deadline exceeded after %s", elapsed.Round(time.Second)))
	if err := s.repo.Update(ctx, sub); err != nil {
		log.Error(ctx, "Persisting FAILED status failed", "error", err)
		return
	}

	if err := s.accounts.IncrementAvailable(ctx, sub.UserRef(), 1); err != nil {
		log.Error(ctx, "Refunding credit failed", "error", err)
	}
	s.publish(ctx, submission.NewEvent(submission.EventTypeFailed, sub))
	log.Warn(ctx, "Submission failed on deadline", "elapsed", elapsed.String())
}

// withLock runs fn under the distributed lock for key, skipping silently on
// contention. The lock is released on every exit path.
func (s *Scheduler) withLock(ctx context.Context, key string, fn func(ctx context.Context)) {
	lease, err := s.locker.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			s.logger.Debug(ctx, "Lock held elsewhere, skipping", "key", key)
		} else {
			s.logger.Error(ctx, "Lock acquisition failed", "key", key, "error", err)
		}
		return
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.logger.Error(ctx, "Lock release failed", "key", key, "error", err)
		}
	}()

	fn(ctx)
}

// publish emits a lifecycle event. Best-effort: a publish failure never rolls
// back the state transition.
func (s *Scheduler) publish(ctx context.Context, evt submission.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSubmissionEvent(ctx, evt); err != nil {
		s.logger.Error(ctx, "Publishing lifecycle event failed",
			"event_type", evt.Type, "submission_id", evt.SubmissionID.String(), "error", err)
	}
}
