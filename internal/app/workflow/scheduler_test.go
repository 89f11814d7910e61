package workflow

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
	"github.com/pibicha/turnitin-admin/internal/infra/eventbus/memory"
	"github.com/pibicha/turnitin-admin/internal/infra/lock"
	"github.com/pibicha/turnitin-admin/internal/infra/storage"
	storagemem "github.com/pibicha/turnitin-admin/internal/infra/storage/reports"
	submem "github.com/pibicha/turnitin-admin/internal/infra/storage/submission/memory"
	"github.com/pibicha/turnitin-admin/pkg/common/logger"
)

type fakeClient struct {
	submitSlotID string
	submitErr    error
	submitCalls  int

	aiReport []byte
	aiErr    error
	aiCalls  int

	simReport []byte
	simErr    error
	simCalls  int
}

func (f *fakeClient) Submit(_ context.Context, _, _ string, _ []byte, _ []string) (string, error) {
	f.submitCalls++
	return f.submitSlotID, f.submitErr
}

func (f *fakeClient) AIReport(_ context.Context, _, _ string) ([]byte, error) {
	f.aiCalls++
	return f.aiReport, f.aiErr
}

func (f *fakeClient) SimilarityReport(_ context.Context, _ string) ([]byte, error) {
	f.simCalls++
	return f.simReport, f.simErr
}

type fixture struct {
	scheduler *Scheduler
	repo      *submem.SubmissionStore
	accounts  *submem.AccountStore
	artifacts *storagemem.MemoryStore
	client    *fakeClient
	locker    *lock.MemoryLocker
	publisher *memory.Publisher
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:      submem.NewSubmissionStore(),
		accounts:  submem.NewAccountStore(map[string]int{"user-1": 3}),
		artifacts: storagemem.NewMemoryStore(),
		client:    &fakeClient{},
		locker:    lock.NewMemoryLocker(),
		publisher: memory.NewPublisher(),
		now:       time.Now().UTC(),
	}

	log := logger.New(io.Discard, logger.LevelInfo, "test", nil)
	f.scheduler = NewScheduler(f.repo, f.accounts, f.artifacts, f.client, f.locker, f.publisher, storage.NoOpTracer(), log)
	f.scheduler.now = func() time.Time { return f.now }
	return f
}

// seed creates a submission with the given status and age and persists it.
func (f *fixture) seed(t *testing.T, status submission.Status, age time.Duration, slotID string) *submission.Submission {
	t.Helper()

	sub, err := submission.NewSubmission("user-1", "paper.docx", "paper", "paper.docx", "media/sub/paper.docx")
	require.NoError(t, err)

	created := f.now.Add(-age)
	sub = submission.ReconstructSubmission(
		sub.ID(), sub.UserRef(), sub.Filename(), sub.Title(), sub.OriginalTitle(), slotID,
		status, "", nil, sub.FilePath(), created, created,
	)
	require.NoError(t, f.repo.Create(context.Background(), sub))
	return sub
}

func (f *fixture) get(t *testing.T, sub *submission.Submission) *submission.Submission {
	t.Helper()
	got, err := f.repo.GetByID(context.Background(), sub.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func TestDownloadReportsBothArtifactsWithinGraceWindow(t *testing.T) {
	f := newFixture(t)
	f.client.aiReport = []byte("ai-pdf")
	f.client.simReport = []byte("sim-pdf")

	sub := f.seed(t, submission.StatusAnalysing, 5*time.Minute, "12345")

	f.scheduler.DownloadReports(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusDownloaded, got.Status())

	ai, err := f.artifacts.Read(context.Background(), "media/sub/paper_ai.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("ai-pdf"), ai)

	sim, err := f.artifacts.Read(context.Background(), "media/sub/paper_plagiarism.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("sim-pdf"), sim)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, submission.EventTypeDownloaded, events[0].Type)
}

func TestDownloadReportsDefersWhenAIReportEmpty(t *testing.T) {
	f := newFixture(t)
	f.client.aiReport = nil

	sub := f.seed(t, submission.StatusAnalysing, 5*time.Minute, "12345")

	f.scheduler.DownloadReports(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusAnalysing, got.Status())
	assert.Zero(t, f.client.simCalls)
	assert.Empty(t, f.publisher.Events())
}

func TestDownloadReportsDefersWhenSimilarityFailsInWindow(t *testing.T) {
	f := newFixture(t)
	f.client.aiReport = []byte("ai-pdf")
	f.client.simErr = errors.New("not ready")

	sub := f.seed(t, submission.StatusAnalysing, 5*time.Minute, "12345")

	f.scheduler.DownloadReports(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusAnalysing, got.Status())

	exists, err := f.artifacts.Exists(context.Background(), "media/sub/paper_ai.pdf")
	require.NoError(t, err)
	assert.False(t, exists, "no artifact may be persisted on a partial download")
}

func TestDownloadReportsSimilarityOnlyPastGraceWindow(t *testing.T) {
	f := newFixture(t)
	f.client.simReport = []byte("sim-pdf")

	sub := f.seed(t, submission.StatusAnalysing, 12*time.Minute, "12345")

	f.scheduler.DownloadReports(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusDownloaded, got.Status())
	assert.Zero(t, f.client.aiCalls)

	exists, err := f.artifacts.Exists(context.Background(), "media/sub/paper_ai.pdf")
	require.NoError(t, err)
	assert.False(t, exists)

	sim, err := f.artifacts.Read(context.Background(), "media/sub/paper_plagiarism.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("sim-pdf"), sim)
}

func TestDownloadReportsGraceWindowBoundaryIsInclusive(t *testing.T) {
	f := newFixture(t)
	f.client.aiReport = []byte("ai-pdf")
	f.client.simReport = []byte("sim-pdf")

	f.seed(t, submission.StatusAnalysing, 10*time.Minute, "12345")
	f.scheduler.DownloadReports(context.Background())
	assert.Equal(t, 1, f.client.aiCalls, "exactly ten minutes still takes the AI branch")

	f.client.aiCalls = 0
	f.seed(t, submission.StatusAnalysing, 10*time.Minute+time.Nanosecond, "12346")
	f.scheduler.DownloadReports(context.Background())
	assert.Zero(t, f.client.aiCalls, "past ten minutes takes the similarity-only branch")
}

func TestDownloadReportsRecordsFatalErrorPastGraceWindow(t *testing.T) {
	f := newFixture(t)
	f.client.simErr = errors.New("viewer gone")

	sub := f.seed(t, submission.StatusAnalysing, 12*time.Minute, "12345")

	f.scheduler.DownloadReports(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusAnalysing, got.Status(), "only the timeout sweep may fail a submission")
	assert.Contains(t, got.ErrorLog(), "viewer gone")
}

func TestUploadPendingSuccess(t *testing.T) {
	f := newFixture(t)
	f.client.submitSlotID = "777"

	sub := f.seed(t, submission.StatusSubmitted, 2*time.Minute, "")
	require.NoError(t, f.artifacts.Write(context.Background(), sub.FilePath(), []byte("doc-bytes")))

	f.scheduler.UploadPending(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusAnalysing, got.Status())
	assert.Equal(t, "777", got.SlotID())

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, submission.EventTypeAnalysing, events[0].Type)
	assert.Equal(t, "777", events[0].SlotID)
}

func TestUploadPendingSkipsPastDeadline(t *testing.T) {
	f := newFixture(t)

	sub := f.seed(t, submission.StatusSubmitted, 20*time.Minute, "")
	require.NoError(t, f.artifacts.Write(context.Background(), sub.FilePath(), []byte("doc-bytes")))

	f.scheduler.UploadPending(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusSubmitted, got.Status())
	assert.Zero(t, f.client.submitCalls)
	assert.Contains(t, got.ErrorLog(), "upload deadline exceeded")
}

func TestUploadPendingRecordsMissingFile(t *testing.T) {
	f := newFixture(t)

	sub := f.seed(t, submission.StatusSubmitted, 2*time.Minute, "")

	f.scheduler.UploadPending(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusSubmitted, got.Status())
	assert.Zero(t, f.client.submitCalls)
	assert.Contains(t, got.ErrorLog(), "missing")
}

func TestUploadPendingExcludesRejectingSlot(t *testing.T) {
	f := newFixture(t)
	f.client.submitSlotID = "555"
	f.client.submitErr = errors.New("filename mismatch")

	sub := f.seed(t, submission.StatusSubmitted, 2*time.Minute, "")
	require.NoError(t, f.artifacts.Write(context.Background(), sub.FilePath(), []byte("doc-bytes")))

	f.scheduler.UploadPending(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusSubmitted, got.Status())
	assert.Contains(t, got.ExcludedSlotIDs(), "555")
	assert.Contains(t, got.ErrorLog(), "filename mismatch")
}

func TestFailOverdueFailsAndRefunds(t *testing.T) {
	f := newFixture(t)

	sub := f.seed(t, submission.StatusSubmitted, 20*time.Minute, "")

	f.scheduler.FailOverdue(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusFailed, got.Status())
	assert.Equal(t, 4, f.accounts.Available("user-1"), "one credit refunded")

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, submission.EventTypeFailed, events[0].Type)
}

func TestFailOverdueLeavesYoungSubmissionsAlone(t *testing.T) {
	f := newFixture(t)

	sub := f.seed(t, submission.StatusAnalysing, 14*time.Minute, "12345")

	f.scheduler.FailOverdue(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusAnalysing, got.Status())
	assert.Equal(t, 3, f.accounts.Available("user-1"))
}

func TestSweepSkipsLockedSubmission(t *testing.T) {
	f := newFixture(t)
	f.client.submitSlotID = "777"

	sub := f.seed(t, submission.StatusSubmitted, 2*time.Minute, "")
	require.NoError(t, f.artifacts.Write(context.Background(), sub.FilePath(), []byte("doc-bytes")))

	lease, err := f.locker.Acquire(context.Background(), "submission:"+sub.ID().String(), 30*time.Minute)
	require.NoError(t, err)
	defer lease.Release(context.Background())

	f.scheduler.UploadPending(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusSubmitted, got.Status())
	assert.Zero(t, f.client.submitCalls)
}

func TestFailedLockNamespaceIsIndependent(t *testing.T) {
	f := newFixture(t)

	sub := f.seed(t, submission.StatusSubmitted, 20*time.Minute, "")

	// Upload-sweep lock held; the timeout sweep must still get through.
	lease, err := f.locker.Acquire(context.Background(), "submission:"+sub.ID().String(), 30*time.Minute)
	require.NoError(t, err)
	defer lease.Release(context.Background())

	f.scheduler.FailOverdue(context.Background())

	got := f.get(t, sub)
	assert.Equal(t, submission.StatusFailed, got.Status())
}

func TestSweepContinuesAfterOneSubmissionFails(t *testing.T) {
	f := newFixture(t)
	f.client.simReport = []byte("sim-pdf")

	// First submission has a broken repo row path: no slot, report calls fail.
	f.client.aiErr = errors.New("boom")
	bad := f.seed(t, submission.StatusAnalysing, 5*time.Minute, "111")
	good := f.seed(t, submission.StatusAnalysing, 12*time.Minute, "222")

	f.scheduler.DownloadReports(context.Background())

	assert.Equal(t, submission.StatusAnalysing, f.get(t, bad).Status())
	assert.Equal(t, submission.StatusDownloaded, f.get(t, good).Status())
}
