package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Mapper = (*MappingRepo)(nil)

// Confidence assigned to mappings discovered by MapClaim.
const (
	pathMappingConfidence   = 0.9
	symbolMappingConfidence = 0.6
)

// maxSymbolMatches caps how many files a single symbol reference maps to.
const maxSymbolMatches = 5

// MappingRepo is the SQLite implementation of the Mapper port interface.
// Mappings are derived from backtick references in claim text matched against
// the code index.
type MappingRepo struct {
	db *DB
}

// NewMappingRepo creates a new MappingRepo backed by the given DB.
func NewMappingRepo(db *DB) *MappingRepo {
	return &MappingRepo{db: db}
}

// UpdateCodeFilePaths points mappings at the new path of renamed files.
func (r *MappingRepo) UpdateCodeFilePaths(ctx context.Context, repoID string, renames []model.RenamePair) error {
	if len(renames) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `UPDATE OR REPLACE claim_mappings SET code_file = ? WHERE repo_id = ? AND code_file = ?`
	for _, rn := range renames {
		if _, err := tx.ExecContext(ctx, query, rn.To, repoID, rn.From); err != nil {
			return fmt.Errorf("rename mappings %s -> %s: %w", rn.From, rn.To, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mapping renames: %w", err)
	}

	return nil
}

// RemoveMappingsForFiles drops every mapping that targets one of the paths.
func (r *MappingRepo) RemoveMappingsForFiles(ctx context.Context, repoID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	in, args := inClause(paths)
	query := `DELETE FROM claim_mappings WHERE repo_id = ? AND code_file IN (` + in + `)`

	if _, err := r.db.Writer.ExecContext(ctx, query, append([]any{repoID}, args...)...); err != nil {
		return fmt.Errorf("remove mappings for %d files: %w", len(paths), err)
	}

	return nil
}

// FindClaimsByCodeFiles returns the mappings that target any of the paths.
func (r *MappingRepo) FindClaimsByCodeFiles(ctx context.Context, repoID string, paths []string) ([]model.ClaimMapping, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	in, args := inClause(paths)
	query := `SELECT claim_id, repo_id, code_file, symbol, confidence FROM claim_mappings
		WHERE repo_id = ? AND code_file IN (` + in + `)
		ORDER BY claim_id, code_file, symbol`

	return r.queryMappings(ctx, query, append([]any{repoID}, args...)...)
}

// GetMappingsForClaim returns every mapping of one claim.
func (r *MappingRepo) GetMappingsForClaim(ctx context.Context, claimID string) ([]model.ClaimMapping, error) {
	const query = `SELECT claim_id, repo_id, code_file, symbol, confidence FROM claim_mappings
		WHERE claim_id = ? ORDER BY code_file, symbol`

	return r.queryMappings(ctx, query, claimID)
}

// MapClaim resolves the claim's backtick references against the code index
// and stores the resulting mappings. Path references map to the indexed file
// of that name; other references map to up to maxSymbolMatches files whose
// content contains them.
func (r *MappingRepo) MapClaim(ctx context.Context, repoID string, claim model.Claim) ([]model.ClaimMapping, error) {
	var mappings []model.ClaimMapping

	for _, ref := range claim.References() {
		if model.IsPathReference(ref) {
			found, err := r.indexedPathExists(ctx, repoID, ref)
			if err != nil {
				return nil, err
			}
			if found {
				mappings = append(mappings, model.ClaimMapping{
					ClaimID: claim.ID, RepoID: repoID, CodeFile: ref, Confidence: pathMappingConfidence,
				})
			}
			continue
		}

		files, err := r.filesContaining(ctx, repoID, ref)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			mappings = append(mappings, model.ClaimMapping{
				ClaimID: claim.ID, RepoID: repoID, CodeFile: f, Symbol: ref, Confidence: symbolMappingConfidence,
			})
		}
	}

	if err := r.save(ctx, mappings); err != nil {
		return nil, err
	}

	return mappings, nil
}

func (r *MappingRepo) save(ctx context.Context, mappings []model.ClaimMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `
		INSERT INTO claim_mappings (claim_id, repo_id, code_file, symbol, confidence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (claim_id, code_file, symbol) DO UPDATE SET confidence = excluded.confidence
	`
	for _, m := range mappings {
		if _, err := tx.ExecContext(ctx, query, m.ClaimID, m.RepoID, m.CodeFile, m.Symbol, m.Confidence); err != nil {
			return fmt.Errorf("save mapping %s -> %s: %w", m.ClaimID, m.CodeFile, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mappings: %w", err)
	}

	return nil
}

func (r *MappingRepo) indexedPathExists(ctx context.Context, repoID, path string) (bool, error) {
	const query = `SELECT COUNT(*) FROM code_files WHERE repo_id = ? AND path = ?`

	var count int
	if err := r.db.Reader.QueryRowContext(ctx, query, repoID, path).Scan(&count); err != nil {
		return false, fmt.Errorf("check indexed path %s: %w", path, err)
	}
	return count > 0, nil
}

func (r *MappingRepo) filesContaining(ctx context.Context, repoID, symbol string) ([]string, error) {
	const query = `SELECT path FROM code_files WHERE repo_id = ? AND instr(content, ?) > 0 ORDER BY path LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID, symbol, maxSymbolMatches)
	if err != nil {
		return nil, fmt.Errorf("search index for %q: %w", symbol, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan indexed path: %w", err)
		}
		paths = append(paths, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexed paths: %w", err)
	}

	return paths, nil
}

func (r *MappingRepo) queryMappings(ctx context.Context, query string, args ...any) ([]model.ClaimMapping, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []model.ClaimMapping
	for rows.Next() {
		var m model.ClaimMapping
		if err := rows.Scan(&m.ClaimID, &m.RepoID, &m.CodeFile, &m.Symbol, &m.Confidence); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}

	return mappings, nil
}
