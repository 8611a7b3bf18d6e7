package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CancelSignal = (*CancelSignalRepo)(nil)

// CancelSignalRepo stores cancellation flags with an expiry, standing in for
// a key-value store with native TTLs. Expired rows read as absent.
type CancelSignalRepo struct {
	db  *DB
	now func() time.Time
}

// NewCancelSignalRepo creates a new CancelSignalRepo backed by the given DB.
func NewCancelSignalRepo(db *DB) *CancelSignalRepo {
	return &CancelSignalRepo{db: db, now: time.Now}
}

// IsCancelled reports whether an unexpired flag exists for the key. Read
// errors are logged and treated as not cancelled.
func (r *CancelSignalRepo) IsCancelled(ctx context.Context, jobKey string) bool {
	const query = `SELECT COUNT(*) FROM cancel_signals WHERE job_key = ? AND expires_at > ?`

	var count int
	err := r.db.Reader.QueryRowContext(ctx, query, jobKey, formatTime(r.now())).Scan(&count)
	if err != nil {
		slog.Warn("cancellation check failed, continuing", "job_key", jobKey, "error", err)
		return false
	}

	return count > 0
}

// RequestCancellation sets the flag for the key, refreshing the expiry if it
// is already set.
func (r *CancelSignalRepo) RequestCancellation(ctx context.Context, jobKey string, ttl time.Duration) error {
	const query = `
		INSERT INTO cancel_signals (job_key, requested_at, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (job_key) DO UPDATE SET
			requested_at = excluded.requested_at,
			expires_at   = excluded.expires_at
	`

	now := r.now()
	_, err := r.db.Writer.ExecContext(ctx, query, jobKey, formatTime(now), formatTime(now.Add(ttl)))
	if err != nil {
		return fmt.Errorf("request cancellation for %s: %w", jobKey, err)
	}

	return nil
}

// Clear removes the flag for the key. No-op if absent.
func (r *CancelSignalRepo) Clear(ctx context.Context, jobKey string) error {
	const query = `DELETE FROM cancel_signals WHERE job_key = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, jobKey); err != nil {
		return fmt.Errorf("clear cancellation for %s: %w", jobKey, err)
	}

	return nil
}

// PurgeExpired deletes flags whose TTL has elapsed and returns how many were removed.
func (r *CancelSignalRepo) PurgeExpired(ctx context.Context) (int, error) {
	const query = `DELETE FROM cancel_signals WHERE expires_at <= ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(r.now()))
	if err != nil {
		return 0, fmt.Errorf("purge expired cancellations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	return int(rows), nil
}
