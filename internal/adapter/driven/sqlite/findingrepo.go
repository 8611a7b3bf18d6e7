package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.FindingStore = (*FindingRepo)(nil)

// FindingRepo is the SQLite implementation of the FindingStore port interface.
type FindingRepo struct {
	db *DB
}

// NewFindingRepo creates a new FindingRepo backed by the given DB.
func NewFindingRepo(db *DB) *FindingRepo {
	return &FindingRepo{db: db}
}

// SaveFindings replaces the findings of a scan in one transaction.
func (r *FindingRepo) SaveFindings(ctx context.Context, scanID string, findings []model.Finding) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_findings WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("clear findings for scan %s: %w", scanID, err)
	}

	const insert = `
		INSERT INTO scan_findings (scan_id, claim_id, source_file, line_number, claim_text, verdict, reasoning)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, f := range findings {
		if _, err := tx.ExecContext(ctx, insert,
			scanID, f.ClaimID, f.SourceFile, f.LineNumber, f.ClaimText, string(f.Verdict), f.Reasoning,
		); err != nil {
			return fmt.Errorf("insert finding %s for scan %s: %w", f.ClaimID, scanID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit findings for scan %s: %w", scanID, err)
	}

	return nil
}

// GetFindings returns the findings of a scan ordered by file and line.
func (r *FindingRepo) GetFindings(ctx context.Context, scanID string) ([]model.Finding, error) {
	const query = `
		SELECT scan_id, claim_id, source_file, line_number, claim_text, verdict, reasoning
		FROM scan_findings WHERE scan_id = ?
		ORDER BY source_file, line_number
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("get findings for scan %s: %w", scanID, err)
	}
	defer rows.Close()

	var findings []model.Finding
	for rows.Next() {
		var f model.Finding
		var verdict string
		if err := rows.Scan(&f.ScanID, &f.ClaimID, &f.SourceFile, &f.LineNumber, &f.ClaimText, &verdict, &f.Reasoning); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Verdict = model.Verdict(verdict)
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}

	return findings, nil
}
