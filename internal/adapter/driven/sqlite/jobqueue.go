package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.JobQueue = (*JobQueue)(nil)

// JobQueue is the SQLite implementation of the JobQueue port interface.
// A key may have many waiting jobs over time but only one active job. A newer
// PR scan job supersedes an older waiting one with the same key.
type JobQueue struct {
	db  *DB
	now func() time.Time
}

// NewJobQueue creates a new JobQueue backed by the given DB.
func NewJobQueue(db *DB) *JobQueue {
	return &JobQueue{db: db, now: time.Now}
}

const jobColumns = `
	id, job_key, kind, payload, status, attempts, max_attempts, last_error, available_at, created_at
`

// Enqueue schedules a new waiting job. For PR scans, any job still waiting
// under the same key is marked superseded and its scan ID is returned.
func (q *JobQueue) Enqueue(ctx context.Context, key string, kind model.JobKind, payload model.JobPayload, maxAttempts int) (driven.EnqueueResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return driven.EnqueueResult{}, fmt.Errorf("marshal job payload: %w", err)
	}

	tx, err := q.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return driven.EnqueueResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	now := formatTime(q.now())
	var result driven.EnqueueResult

	if kind == model.JobKindPRScan {
		result.SupersededScanID, err = supersedeWaiting(ctx, tx, key, now)
		if err != nil {
			return driven.EnqueueResult{}, err
		}
	}

	const insert = `
		INSERT INTO scan_jobs (id, job_key, kind, scan_id, payload, status, max_attempts, available_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result.JobID = uuid.NewString()
	if _, err := tx.ExecContext(ctx, insert,
		result.JobID, key, string(kind), payload.ScanID, string(body),
		string(model.JobStatusWaiting), maxAttempts, now, now, now,
	); err != nil {
		return driven.EnqueueResult{}, fmt.Errorf("insert job %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return driven.EnqueueResult{}, fmt.Errorf("commit job %s: %w", key, err)
	}

	return result, nil
}

// supersedeWaiting marks the job waiting under key superseded and returns its
// scan ID, or "" when nothing was waiting.
func supersedeWaiting(ctx context.Context, tx *sql.Tx, key, now string) (string, error) {
	const findWaiting = `
		SELECT id, scan_id FROM scan_jobs
		WHERE job_key = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	var jobID, scanID string
	err := tx.QueryRowContext(ctx, findWaiting, key, string(model.JobStatusWaiting)).Scan(&jobID, &scanID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find waiting job for %s: %w", key, err)
	}

	const supersede = `UPDATE scan_jobs SET status = ?, updated_at = ? WHERE job_key = ? AND status = ?`
	if _, err := tx.ExecContext(ctx, supersede,
		string(model.JobStatusSuperseded), now, key, string(model.JobStatusWaiting),
	); err != nil {
		return "", fmt.Errorf("supersede job %s: %w", jobID, err)
	}

	return scanID, nil
}

// IsActive reports whether a job with the key is waiting or running.
func (q *JobQueue) IsActive(ctx context.Context, key string) (bool, error) {
	const query = `SELECT COUNT(*) FROM scan_jobs WHERE job_key = ? AND status IN (?, ?)`

	var count int
	err := q.db.Reader.QueryRowContext(ctx, query, key,
		string(model.JobStatusWaiting), string(model.JobStatusActive),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check active job %s: %w", key, err)
	}

	return count > 0, nil
}

// ClaimNext marks the oldest available waiting job as active, skipping keys
// that already have an active job.
func (q *JobQueue) ClaimNext(ctx context.Context) (model.ScanJob, bool, error) {
	tx, err := q.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.ScanJob{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	now := formatTime(q.now())

	query := `SELECT ` + jobColumns + `
		FROM scan_jobs j
		WHERE j.status = ? AND j.available_at <= ?
		  AND NOT EXISTS (
		      SELECT 1 FROM scan_jobs a WHERE a.job_key = j.job_key AND a.status = ?
		  )
		ORDER BY j.available_at, j.created_at
		LIMIT 1
	`
	job, err := scanJob(tx.QueryRowContext(ctx, query,
		string(model.JobStatusWaiting), now, string(model.JobStatusActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScanJob{}, false, nil
	}
	if err != nil {
		return model.ScanJob{}, false, fmt.Errorf("select next job: %w", err)
	}

	const claim = `UPDATE scan_jobs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, claim, string(model.JobStatusActive), now, job.ID); err != nil {
		return model.ScanJob{}, false, fmt.Errorf("claim job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.ScanJob{}, false, fmt.Errorf("commit claim %s: %w", job.ID, err)
	}

	job.Status = model.JobStatusActive
	job.Attempts++

	return *job, true, nil
}

// Cancel marks a waiting job superseded so it is never claimed. It reports
// false when the job is no longer waiting.
func (q *JobQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	const query = `UPDATE scan_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

	result, err := q.db.Writer.ExecContext(ctx, query,
		string(model.JobStatusSuperseded), formatTime(q.now()), jobID, string(model.JobStatusWaiting),
	)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", jobID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}

	return rows > 0, nil
}

// ReleaseActive makes jobs left active by a stopped process claimable again.
// Attempts and available_at are kept, so a released job still counts the
// interrupted run and is claimed ahead of newer jobs under its key.
func (q *JobQueue) ReleaseActive(ctx context.Context) (int, error) {
	const query = `UPDATE scan_jobs SET status = ?, updated_at = ? WHERE status = ?`

	result, err := q.db.Writer.ExecContext(ctx, query,
		string(model.JobStatusWaiting), formatTime(q.now()), string(model.JobStatusActive),
	)
	if err != nil {
		return 0, fmt.Errorf("release active jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	return int(rows), nil
}

// Complete marks an active job as completed.
func (q *JobQueue) Complete(ctx context.Context, jobID string) error {
	const query = `UPDATE scan_jobs SET status = ?, updated_at = ? WHERE id = ?`

	result, err := q.db.Writer.ExecContext(ctx, query, string(model.JobStatusCompleted), formatTime(q.now()), jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}

	return requireRow(result, fmt.Sprintf("complete job %s", jobID))
}

// Fail records a job error. While attempts remain the job waits until retryAt;
// otherwise it becomes failed.
func (q *JobQueue) Fail(ctx context.Context, jobID string, cause error, retryAt time.Time) (bool, error) {
	tx, err := q.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	var attempts, maxAttempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM scan_jobs WHERE id = ?`, jobID).
		Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("fail job %s: %w", jobID, driven.ErrJobNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("read job %s: %w", jobID, err)
	}

	message := ""
	if cause != nil {
		message = cause.Error()
	}

	retrying := attempts < maxAttempts
	status := model.JobStatusFailed
	availableAt := q.now()
	if retrying {
		status = model.JobStatusWaiting
		availableAt = retryAt
	}

	const update = `UPDATE scan_jobs SET status = ?, last_error = ?, available_at = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update,
		string(status), message, formatTime(availableAt), formatTime(q.now()), jobID,
	); err != nil {
		return false, fmt.Errorf("fail job %s: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit job failure %s: %w", jobID, err)
	}

	return retrying, nil
}

// GetByScanID returns the most recent job scheduled for the scan.
func (q *JobQueue) GetByScanID(ctx context.Context, scanID string) (model.ScanJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scan_jobs WHERE scan_id = ? ORDER BY created_at DESC LIMIT 1`

	job, err := scanJob(q.db.Reader.QueryRowContext(ctx, query, scanID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScanJob{}, fmt.Errorf("get job for scan %s: %w", scanID, driven.ErrJobNotFound)
	}
	if err != nil {
		return model.ScanJob{}, fmt.Errorf("get job for scan %s: %w", scanID, err)
	}

	return *job, nil
}

func scanJob(s scanner) (*model.ScanJob, error) {
	var job model.ScanJob
	var kind, payload, status, availableAt, createdAt string

	err := s.Scan(
		&job.ID, &job.Key, &kind, &payload, &status,
		&job.Attempts, &job.MaxAttempts, &job.LastError, &availableAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	job.Kind = model.JobKind(kind)
	job.Status = model.JobStatus(status)

	if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal job payload: %w", err)
	}
	if job.AvailableAt, err = parseTime(availableAt); err != nil {
		return nil, fmt.Errorf("parse available_at: %w", err)
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &job, nil
}

// requireRow turns a zero-row update into ErrJobNotFound.
func requireRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, driven.ErrJobNotFound)
	}
	return nil
}
