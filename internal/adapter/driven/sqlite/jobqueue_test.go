package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

func prPayload(scanID string) model.JobPayload {
	return model.JobPayload{ScanID: scanID, RepoID: "octo/docs", PRNumber: 7, HeadSHA: "abc123"}
}

func TestJobQueue_EnqueueAndClaim(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)
	ctx := context.Background()

	res, err := q.Enqueue(ctx, "pr-scan-octo/docs-7", model.JobKindPRScan, prPayload("scan-1"), 3)
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)
	assert.Empty(t, res.SupersededScanID)

	active, err := q.IsActive(ctx, "pr-scan-octo/docs-7")
	require.NoError(t, err)
	assert.True(t, active)

	job, found, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, res.JobID, job.ID)
	assert.Equal(t, model.JobStatusActive, job.Status)
	assert.Equal(t, model.JobKindPRScan, job.Kind)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, prPayload("scan-1"), job.Payload)

	_, found, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found, "queue should be empty after claiming the only job")
}

func TestJobQueue_Enqueue_SupersedesWaitingJob(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "pr-scan-octo/docs-7", model.JobKindPRScan, prPayload("scan-1"), 3)
	require.NoError(t, err)

	res, err := q.Enqueue(ctx, "pr-scan-octo/docs-7", model.JobKindPRScan, prPayload("scan-2"), 3)
	require.NoError(t, err)
	assert.Equal(t, "scan-1", res.SupersededScanID)

	job, found, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "scan-2", job.Payload.ScanID)

	old, err := q.GetByScanID(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSuperseded, old.Status)
}

func TestJobQueue_ClaimNext_OneActivePerKey(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "pr-scan-octo/docs-7", model.JobKindPRScan, prPayload("scan-1"), 3)
	require.NoError(t, err)

	first, found, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)

	// A new push arrives while the first job runs: it waits, it does not supersede.
	res, err := q.Enqueue(ctx, "pr-scan-octo/docs-7", model.JobKindPRScan, prPayload("scan-2"), 3)
	require.NoError(t, err)
	assert.Empty(t, res.SupersededScanID)

	_, found, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found, "second job must wait for the active one")

	require.NoError(t, q.Complete(ctx, first.ID))

	second, found, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "scan-2", second.Payload.ScanID)
}

func TestJobQueue_ClaimNext_DifferentKeysRunConcurrently(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "pr-scan-octo/docs-7", model.JobKindPRScan, prPayload("scan-1"), 3)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "pr-scan-octo/docs-8", model.JobKindPRScan, prPayload("scan-2"), 3)
	require.NoError(t, err)

	_, found, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)

	_, found, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestJobQueue_Fail_RetriesThenGivesUp(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)
	ctx := context.Background()

	now, set := fixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	q.now = now

	_, err := q.Enqueue(ctx, "full-scan-octo/docs-1", model.JobKindFullScan, prPayload("scan-1"), 2)
	require.NoError(t, err)

	job, found, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)

	retryAt := time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC)
	retrying, err := q.Fail(ctx, job.ID, errors.New("index unavailable"), retryAt)
	require.NoError(t, err)
	assert.True(t, retrying)

	_, found, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found, "job must not be claimable before retryAt")

	set(retryAt)
	job, found, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "index unavailable", job.LastError)

	retrying, err = q.Fail(ctx, job.ID, errors.New("still down"), retryAt)
	require.NoError(t, err)
	assert.False(t, retrying)

	got, err := q.GetByScanID(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)

	active, err := q.IsActive(ctx, "full-scan-octo/docs-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestJobQueue_Complete_NotFound(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)

	err := q.Complete(context.Background(), "missing")
	assert.ErrorIs(t, err, driven.ErrJobNotFound)
}

func TestJobQueue_GetByScanID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)

	_, err := q.GetByScanID(context.Background(), "missing")
	assert.ErrorIs(t, err, driven.ErrJobNotFound)
}

func TestJobQueue_Enqueue_FullScansNeverSupersede(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "full-scan-octo/docs-1", model.JobKindFullScan, prPayload("scan-1"), 3)
	require.NoError(t, err)

	res, err := q.Enqueue(ctx, "full-scan-octo/docs-1", model.JobKindFullScan, prPayload("scan-2"), 3)
	require.NoError(t, err)
	assert.Empty(t, res.SupersededScanID)

	first, err := q.GetByScanID(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusWaiting, first.Status)
}

func TestJobQueue_ReleaseActive_AfterRestart(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	key := "pr-scan-octo/docs-7"
	now, set := fixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	before := NewJobQueue(db)
	before.now = now
	_, err := before.Enqueue(ctx, key, model.JobKindPRScan, prPayload("scan-1"), 3)
	require.NoError(t, err)
	_, found, err := before.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)

	// The process stops without recording an outcome; a new one starts.
	set(time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC))
	after := NewJobQueue(db)
	after.now = now
	_, err = after.Enqueue(ctx, key, model.JobKindPRScan, prPayload("scan-2"), 3)
	require.NoError(t, err)

	_, found, err = after.ClaimNext(ctx)
	require.NoError(t, err)
	require.False(t, found, "the stranded job still holds the key")

	released, err := after.ReleaseActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	resumed, found, err := after.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "scan-1", resumed.Payload.ScanID)
	assert.Equal(t, 2, resumed.Attempts)

	require.NoError(t, after.Complete(ctx, resumed.ID))

	next, found, err := after.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found, "the new push must be claimable once the key is free")
	assert.Equal(t, "scan-2", next.Payload.ScanID)

	require.NoError(t, after.Complete(ctx, next.ID))
	active, err := after.IsActive(ctx, key)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestJobQueue_ReleaseActive_NothingActive(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)

	released, err := q.ReleaseActive(context.Background())

	require.NoError(t, err)
	assert.Zero(t, released)
}

func TestJobQueue_Cancel(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)
	ctx := context.Background()

	res, err := q.Enqueue(ctx, "pr-scan-octo/docs-7", model.JobKindPRScan, prPayload("scan-1"), 3)
	require.NoError(t, err)

	cancelled, err := q.Cancel(ctx, res.JobID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	_, found, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found, "a cancelled job is never claimed")

	cancelled, err = q.Cancel(ctx, res.JobID)
	require.NoError(t, err)
	assert.False(t, cancelled, "only waiting jobs can be cancelled")
}

func TestJobQueue_Cancel_ActiveJobUntouched(t *testing.T) {
	db := setupTestDB(t)
	q := NewJobQueue(db)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "pr-scan-octo/docs-7", model.JobKindPRScan, prPayload("scan-1"), 3)
	require.NoError(t, err)
	job, found, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)

	cancelled, err := q.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	got, err := q.GetByScanID(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusActive, got.Status)
}
