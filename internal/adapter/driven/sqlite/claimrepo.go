package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ClaimStore = (*ClaimRepo)(nil)

// ClaimRepo is the SQLite implementation of the ClaimStore port interface.
type ClaimRepo struct {
	db *DB
}

// NewClaimRepo creates a new ClaimRepo backed by the given DB.
func NewClaimRepo(db *DB) *ClaimRepo {
	return &ClaimRepo{db: db}
}

const claimColumns = `id, repo_id, source_file, line_number, text, testability, extraction_confidence`

// Upsert inserts or replaces a claim. An empty ID is assigned a new UUID,
// which is returned.
func (r *ClaimRepo) Upsert(ctx context.Context, claim model.Claim) (string, error) {
	const query = `
		INSERT INTO claims (id, repo_id, source_file, line_number, text, testability, extraction_confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_file           = excluded.source_file,
			line_number           = excluded.line_number,
			text                  = excluded.text,
			testability           = excluded.testability,
			extraction_confidence = excluded.extraction_confidence
	`

	if claim.ID == "" {
		claim.ID = uuid.NewString()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		claim.ID, claim.RepoID, claim.SourceFile, claim.LineNumber,
		claim.Text, string(claim.Testability), claim.ExtractionConfidence,
	)
	if err != nil {
		return "", fmt.Errorf("upsert claim %s: %w", claim.ID, err)
	}

	return claim.ID, nil
}

// GetByFiles returns the claims extracted from the given documentation files.
func (r *ClaimRepo) GetByFiles(ctx context.Context, repoID string, paths []string) ([]model.Claim, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	in, args := inClause(paths)
	query := `SELECT ` + claimColumns + ` FROM claims
		WHERE repo_id = ? AND source_file IN (` + in + `)
		ORDER BY source_file, line_number`

	return r.queryClaims(ctx, query, append([]any{repoID}, args...)...)
}

// GetByIDs returns the claims with the given IDs. Unknown IDs are skipped.
func (r *ClaimRepo) GetByIDs(ctx context.Context, ids []string) ([]model.Claim, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	in, args := inClause(ids)
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id IN (` + in + `) ORDER BY source_file, line_number`

	return r.queryClaims(ctx, query, args...)
}

// ListByRepo returns every claim for the repository.
func (r *ClaimRepo) ListByRepo(ctx context.Context, repoID string) ([]model.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE repo_id = ? ORDER BY source_file, line_number`

	return r.queryClaims(ctx, query, repoID)
}

// DeleteByFiles removes the claims extracted from the given files, along
// with their mappings, and returns how many claims were removed.
func (r *ClaimRepo) DeleteByFiles(ctx context.Context, repoID string, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	in, args := inClause(paths)
	query := `DELETE FROM claims WHERE repo_id = ? AND source_file IN (` + in + `)`

	result, err := r.db.Writer.ExecContext(ctx, query, append([]any{repoID}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("delete claims for %d files: %w", len(paths), err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	return int(rows), nil
}

func (r *ClaimRepo) queryClaims(ctx context.Context, query string, args ...any) ([]model.Claim, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		var c model.Claim
		var testability string
		if err := rows.Scan(
			&c.ID, &c.RepoID, &c.SourceFile, &c.LineNumber,
			&c.Text, &testability, &c.ExtractionConfidence,
		); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		c.Testability = model.Testability(testability)
		claims = append(claims, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}

	return claims, nil
}
