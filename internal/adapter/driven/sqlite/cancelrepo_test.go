package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelSignalRepo_RequestAndCheck(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCancelSignalRepo(db)
	ctx := context.Background()

	assert.False(t, repo.IsCancelled(ctx, "pr-scan-octo/docs-7"))

	require.NoError(t, repo.RequestCancellation(ctx, "pr-scan-octo/docs-7", 10*time.Minute))
	assert.True(t, repo.IsCancelled(ctx, "pr-scan-octo/docs-7"))
	assert.False(t, repo.IsCancelled(ctx, "pr-scan-octo/docs-8"))
}

func TestCancelSignalRepo_RepeatedRequest_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCancelSignalRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.RequestCancellation(ctx, "k", time.Minute))
	require.NoError(t, repo.RequestCancellation(ctx, "k", time.Minute))
	assert.True(t, repo.IsCancelled(ctx, "k"))
}

func TestCancelSignalRepo_Expires(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCancelSignalRepo(db)
	ctx := context.Background()

	now, set := fixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	repo.now = now

	require.NoError(t, repo.RequestCancellation(ctx, "k", 600*time.Second))

	set(time.Date(2026, 3, 1, 9, 9, 59, 0, time.UTC))
	assert.True(t, repo.IsCancelled(ctx, "k"))

	set(time.Date(2026, 3, 1, 9, 10, 0, 0, time.UTC))
	assert.False(t, repo.IsCancelled(ctx, "k"), "signal must read as absent once the TTL elapses")

	purged, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestCancelSignalRepo_Clear(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCancelSignalRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.RequestCancellation(ctx, "k", time.Minute))
	require.NoError(t, repo.Clear(ctx, "k"))
	assert.False(t, repo.IsCancelled(ctx, "k"))

	// Clearing an absent key is not an error.
	require.NoError(t, repo.Clear(ctx, "k"))
}

func TestCancelSignalRepo_IsCancelled_FailsOpen(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCancelSignalRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.RequestCancellation(ctx, "k", time.Minute))
	require.NoError(t, db.Reader.Close())

	assert.False(t, repo.IsCancelled(ctx, "k"), "read errors must be reported as not cancelled")
}
