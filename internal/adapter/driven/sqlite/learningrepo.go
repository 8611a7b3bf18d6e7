package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Learning = (*LearningRepo)(nil)

// LearningRepo stores user feedback: claims suppressed from scans and the
// code/doc files observed changing together.
type LearningRepo struct {
	db  *DB
	now func() time.Time
}

// NewLearningRepo creates a new LearningRepo backed by the given DB.
func NewLearningRepo(db *DB) *LearningRepo {
	return &LearningRepo{db: db, now: time.Now}
}

// Suppress excludes a claim from future scans. Idempotent.
func (r *LearningRepo) Suppress(ctx context.Context, claimID, reason string) error {
	const query = `INSERT OR IGNORE INTO suppressed_claims (claim_id, reason, suppressed_at) VALUES (?, ?, ?)`
	if _, err := r.db.Writer.ExecContext(ctx, query, claimID, reason, formatTime(r.now())); err != nil {
		return fmt.Errorf("suppress claim %s: %w", claimID, err)
	}
	return nil
}

// Unsuppress makes a claim eligible again. No-op if it is not suppressed.
func (r *LearningRepo) Unsuppress(ctx context.Context, claimID string) error {
	const query = `DELETE FROM suppressed_claims WHERE claim_id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, claimID); err != nil {
		return fmt.Errorf("unsuppress claim %s: %w", claimID, err)
	}
	return nil
}

// IsClaimSuppressed returns whether the claim has been suppressed.
func (r *LearningRepo) IsClaimSuppressed(ctx context.Context, claim model.Claim) (bool, error) {
	const query = `SELECT COUNT(*) FROM suppressed_claims WHERE claim_id = ?`
	var count int
	if err := r.db.Reader.QueryRowContext(ctx, query, claim.ID).Scan(&count); err != nil {
		return false, fmt.Errorf("check suppressed claim %s: %w", claim.ID, err)
	}
	return count > 0, nil
}

// RecordCoChanges records every code/doc pair changed by one commit. Pairs
// already recorded for the commit are ignored.
func (r *LearningRepo) RecordCoChanges(ctx context.Context, repoID string, codeFiles, docFiles []string, commitSHA string) error {
	if len(codeFiles) == 0 || len(docFiles) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `
		INSERT OR IGNORE INTO co_changes (repo_id, code_file, doc_file, commit_sha, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := formatTime(r.now())
	for _, code := range codeFiles {
		for _, doc := range docFiles {
			if _, err := tx.ExecContext(ctx, query, repoID, code, doc, commitSHA, now); err != nil {
				return fmt.Errorf("record co-change %s/%s: %w", code, doc, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit co-changes: %w", err)
	}

	return nil
}

// ListCoChanges returns the recorded pairs for a repository.
func (r *LearningRepo) ListCoChanges(ctx context.Context, repoID string) ([]model.CoChange, error) {
	const query = `SELECT repo_id, code_file, doc_file, commit_sha FROM co_changes
		WHERE repo_id = ? ORDER BY code_file, doc_file, commit_sha`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("list co-changes: %w", err)
	}
	defer rows.Close()

	var result []model.CoChange
	for rows.Next() {
		var c model.CoChange
		if err := rows.Scan(&c.RepoID, &c.CodeFile, &c.DocFile, &c.CommitSHA); err != nil {
			return nil, fmt.Errorf("scan co-change: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate co-changes: %w", err)
	}
	return result, nil
}
