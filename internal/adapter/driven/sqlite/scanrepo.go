package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ScanStore = (*ScanRepo)(nil)

// ScanRepo is the SQLite implementation of the ScanStore port interface.
type ScanRepo struct {
	db  *DB
	now func() time.Time
}

// NewScanRepo creates a new ScanRepo backed by the given DB.
func NewScanRepo(db *DB) *ScanRepo {
	return &ScanRepo{db: db, now: time.Now}
}

const scanColumns = `
	id, repo_id, trigger_type, trigger_ref, commit_sha, status,
	claims_checked, claims_drifted, claims_verified, claims_uncertain,
	total_token_cost, total_duration_ms, comment_posted, check_run_id,
	created_at, started_at, completed_at
`

// Create inserts a queued scan run with zeroed counters.
func (r *ScanRepo) Create(ctx context.Context, run driven.NewScanRun) (model.ScanRun, error) {
	const query = `
		INSERT INTO scan_runs (id, repo_id, trigger_type, trigger_ref, commit_sha, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	created := model.ScanRun{
		ID:          uuid.NewString(),
		RepoID:      run.RepoID,
		TriggerType: run.TriggerType,
		TriggerRef:  run.TriggerRef,
		CommitSHA:   run.CommitSHA,
		Status:      model.ScanStatusQueued,
		CreatedAt:   r.now().UTC().Truncate(time.Microsecond),
	}

	var triggerRef any
	if run.TriggerRef != "" {
		triggerRef = run.TriggerRef
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		created.ID, created.RepoID, string(created.TriggerType), triggerRef,
		created.CommitSHA, string(created.Status), formatTime(created.CreatedAt),
	)
	if err != nil {
		return model.ScanRun{}, fmt.Errorf("create scan run for %s: %w", run.RepoID, err)
	}

	return created, nil
}

// Transition updates the status of a scan run. Moving to running stamps
// started_at and clears completed_at; moving to a terminal status stamps
// completed_at (and started_at if the scan never ran); moving back to queued
// clears both.
func (r *ScanRepo) Transition(ctx context.Context, scanID string, status model.ScanStatus, update model.ScanUpdate) error {
	now := formatTime(r.now())

	sets := []string{"status = ?"}
	args := []any{string(status)}

	switch {
	case status == model.ScanStatusRunning:
		sets = append(sets, "started_at = ?", "completed_at = NULL")
		args = append(args, now)
	case status.IsTerminal():
		sets = append(sets, "started_at = COALESCE(started_at, ?)", "completed_at = ?")
		args = append(args, now, now)
	case status == model.ScanStatusQueued:
		sets = append(sets, "started_at = NULL", "completed_at = NULL")
	}

	if s := update.Stats; s != nil {
		sets = append(sets,
			"claims_checked = ?", "claims_drifted = ?", "claims_verified = ?",
			"claims_uncertain = ?", "total_token_cost = ?", "total_duration_ms = ?",
		)
		args = append(args,
			s.ClaimsChecked, s.ClaimsDrifted, s.ClaimsVerified,
			s.ClaimsUncertain, s.TotalTokenCost, s.TotalDurationMs,
		)
	}
	if update.CommentPosted != nil {
		posted := 0
		if *update.CommentPosted {
			posted = 1
		}
		sets = append(sets, "comment_posted = ?")
		args = append(args, posted)
	}
	if update.CheckRunID != nil {
		sets = append(sets, "check_run_id = ?")
		args = append(args, *update.CheckRunID)
	}
	if update.CommitSHA != "" {
		sets = append(sets, "commit_sha = ?")
		args = append(args, update.CommitSHA)
	}

	query := "UPDATE scan_runs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, scanID)

	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition scan %s to %s: %w", scanID, status, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("transition scan %s: %w", scanID, driven.ErrScanNotFound)
	}

	return nil
}

// Get retrieves a scan run by ID. Returns ErrScanNotFound if it does not exist.
func (r *ScanRepo) Get(ctx context.Context, scanID string) (model.ScanRun, error) {
	query := `SELECT ` + scanColumns + ` FROM scan_runs WHERE id = ?`

	run, err := scanScanRun(r.db.Reader.QueryRowContext(ctx, query, scanID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScanRun{}, fmt.Errorf("get scan %s: %w", scanID, driven.ErrScanNotFound)
	}
	if err != nil {
		return model.ScanRun{}, fmt.Errorf("get scan %s: %w", scanID, err)
	}

	return *run, nil
}

// ListActive returns queued and running scans for the repository, newest first.
func (r *ScanRepo) ListActive(ctx context.Context, repoID string) ([]model.ScanRun, error) {
	query := `SELECT ` + scanColumns + `
		FROM scan_runs
		WHERE repo_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID,
		string(model.ScanStatusQueued), string(model.ScanStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list active scans for %s: %w", repoID, err)
	}
	defer rows.Close()

	var runs []model.ScanRun
	for rows.Next() {
		run, err := scanScanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan runs: %w", err)
	}

	return runs, nil
}

// CountCreatedSince counts scans created for the repository at or after since.
func (r *ScanRepo) CountCreatedSince(ctx context.Context, repoID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM scan_runs WHERE repo_id = ? AND created_at >= ?`

	var count int
	if err := r.db.Reader.QueryRowContext(ctx, query, repoID, formatTime(since)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count scans for %s: %w", repoID, err)
	}

	return count, nil
}

func scanScanRun(s scanner) (*model.ScanRun, error) {
	var run model.ScanRun
	var triggerType, status, createdAt string
	var triggerRef, startedAt, completedAt sql.NullString
	var commentPosted int
	var checkRunID sql.NullInt64

	err := s.Scan(
		&run.ID, &run.RepoID, &triggerType, &triggerRef, &run.CommitSHA, &status,
		&run.Stats.ClaimsChecked, &run.Stats.ClaimsDrifted, &run.Stats.ClaimsVerified,
		&run.Stats.ClaimsUncertain, &run.Stats.TotalTokenCost, &run.Stats.TotalDurationMs,
		&commentPosted, &checkRunID, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.TriggerType = model.TriggerType(triggerType)
	run.TriggerRef = triggerRef.String
	run.Status = model.ScanStatus(status)
	run.CommentPosted = commentPosted != 0
	if checkRunID.Valid {
		id := checkRunID.Int64
		run.CheckRunID = &id
	}

	run.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if run.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	return &run, nil
}
