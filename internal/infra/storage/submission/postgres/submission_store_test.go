package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
	"github.com/pibicha/turnitin-admin/internal/infra/storage"
)

func setupStores(t *testing.T) (context.Context, *submissionStore, *slotStore, *accountStore, *settingsStore, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := storage.SetupTestContainer(t)
	tracer := storage.NoOpTracer()
	return context.Background(),
		NewSubmissionStore(pool, tracer),
		NewSlotStore(pool, tracer),
		NewAccountStore(pool, tracer),
		NewSettingsStore(pool, tracer),
		cleanup
}

func TestSubmissionStoreRoundTrip(t *testing.T) {
	ctx, subs, _, _, _, cleanup := setupStores(t)
	defer cleanup()

	sub, err := submission.NewSubmission("user-1", "paper.docx", "paper", "original.docx", "media/u1/paper.docx")
	require.NoError(t, err)
	require.NoError(t, subs.Create(ctx, sub))

	got, err := subs.GetByID(ctx, sub.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sub.ID(), got.ID())
	assert.Equal(t, submission.StatusSubmitted, got.Status())
	assert.Equal(t, "media/u1/paper.docx", got.FilePath())
	assert.Empty(t, got.ExcludedSlotIDs())

	require.NoError(t, got.MarkAnalysing("12345"))
	got.AppendError("first attempt rejected")
	got.ExcludeSlot("999")
	require.NoError(t, subs.Update(ctx, got))

	updated, err := subs.GetByID(ctx, sub.ID())
	require.NoError(t, err)
	assert.Equal(t, submission.StatusAnalysing, updated.Status())
	assert.Equal(t, "12345", updated.SlotID())
	assert.Equal(t, "first attempt rejected", updated.ErrorLog())
	assert.Equal(t, []string{"999"}, updated.ExcludedSlotIDs())
}

func TestSubmissionStoreGetMissingReturnsNil(t *testing.T) {
	ctx, subs, _, _, _, cleanup := setupStores(t)
	defer cleanup()

	got, err := subs.GetByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSubmissionStoreListByStatus(t *testing.T) {
	ctx, subs, _, _, _, cleanup := setupStores(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		sub, err := submission.NewSubmission("user-1", "paper.docx", "paper", "paper.docx", "media/p")
		require.NoError(t, err)
		require.NoError(t, subs.Create(ctx, sub))
		time.Sleep(time.Millisecond)
	}

	pending, err := subs.ListByStatus(ctx, submission.StatusSubmitted)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	for i := 1; i < len(pending); i++ {
		assert.False(t, pending[i].CreatedAt().Before(pending[i-1].CreatedAt()), "oldest first")
	}

	none, err := subs.ListByStatus(ctx, submission.StatusDownloaded, submission.StatusFailed)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSlotStore(t *testing.T) {
	ctx, _, slots, _, _, cleanup := setupStores(t)
	defer cleanup()

	missing, err := slots.GetByExternalID(ctx, "111")
	require.NoError(t, err)
	assert.Nil(t, missing)

	slot, err := submission.NewSlot("111")
	require.NoError(t, err)
	require.NoError(t, slots.Create(ctx, slot))
	require.NoError(t, slots.Create(ctx, slot), "duplicate discovery is a no-op")

	require.NoError(t, slots.IncrementUploadCount(ctx, "111"))
	require.NoError(t, slots.IncrementUploadCount(ctx, "111"))

	got, err := slots.GetByExternalID(ctx, "111")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.UploadCount())
	assert.Equal(t, submission.SlotStatusAvailable, got.Status())

	assert.Error(t, slots.IncrementUploadCount(ctx, "404"))
}

func TestAccountStore(t *testing.T) {
	ctx, _, _, accounts, _, cleanup := setupStores(t)
	defer cleanup()

	_, err := accounts.pool.Exec(ctx,
		`INSERT INTO accounts (user_ref, available_count) VALUES ('user-1', 3)`)
	require.NoError(t, err)

	require.NoError(t, accounts.IncrementAvailable(ctx, "user-1", 1))
	require.NoError(t, accounts.IncrementAvailable(ctx, "user-1", -2))

	var balance int
	require.NoError(t, accounts.pool.QueryRow(ctx,
		`SELECT available_count FROM accounts WHERE user_ref = 'user-1'`).Scan(&balance))
	assert.Equal(t, 2, balance)

	assert.Error(t, accounts.IncrementAvailable(ctx, "ghost", 1))
}

func TestSettingsStore(t *testing.T) {
	ctx, _, _, _, settings, cleanup := setupStores(t)
	defer cleanup()

	_, err := settings.ActiveClassName(ctx)
	assert.Error(t, err, "unconfigured setting is an error")

	_, execErr := settings.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ('active_class_name', 'Active Class')`)
	require.NoError(t, execErr)

	name, err := settings.ActiveClassName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Active Class", name)
}
