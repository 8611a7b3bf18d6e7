package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CodeIndex = (*CodeIndexRepo)(nil)

// maxIndexedFileSize bounds the content stored per file.
const maxIndexedFileSize = 512 * 1024

// CodeIndexRepo keeps the latest content of each code file so mappings and
// deterministic checks can search it.
type CodeIndexRepo struct {
	db  *DB
	now func() time.Time
}

// NewCodeIndexRepo creates a new CodeIndexRepo backed by the given DB.
func NewCodeIndexRepo(db *DB) *CodeIndexRepo {
	return &CodeIndexRepo{db: db, now: time.Now}
}

// UpdateFromDiff applies a set of file changes to the index. Removed files and
// the old side of renames are dropped; added, modified and renamed files are
// re-read through fetch. Files fetch cannot find or that are too large are
// counted as skipped.
func (r *CodeIndexRepo) UpdateFromDiff(ctx context.Context, repoID string, changes []model.FileChange, fetch driven.FileContentFetcher) (model.IndexSummary, error) {
	var summary model.IndexSummary

	for _, change := range changes {
		if change.Status == model.FileRemoved {
			if err := r.remove(ctx, repoID, change.Path); err != nil {
				return summary, err
			}
			summary.FilesRemoved++
			continue
		}

		if change.Status == model.FileRenamed && change.PreviousPath != "" {
			if err := r.remove(ctx, repoID, change.PreviousPath); err != nil {
				return summary, err
			}
			summary.FilesRemoved++
		}

		content, found, err := fetch(ctx, change.Path)
		if err != nil {
			return summary, fmt.Errorf("fetch %s: %w", change.Path, err)
		}
		if !found || len(content) > maxIndexedFileSize {
			summary.FilesSkipped++
			continue
		}

		if err := r.put(ctx, repoID, change.Path, content); err != nil {
			return summary, err
		}
		summary.FilesIndexed++
	}

	return summary, nil
}

// GetContent returns the indexed content of a file; found is false if the
// file is not indexed.
func (r *CodeIndexRepo) GetContent(ctx context.Context, repoID, path string) (string, bool, error) {
	const query = `SELECT content FROM code_files WHERE repo_id = ? AND path = ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID, path)
	if err != nil {
		return "", false, fmt.Errorf("get indexed file %s: %w", path, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return "", false, rows.Err()
	}

	var content string
	if err := rows.Scan(&content); err != nil {
		return "", false, fmt.Errorf("scan indexed file %s: %w", path, err)
	}

	return content, true, nil
}

// ListPaths returns every indexed path for the repository.
func (r *CodeIndexRepo) ListPaths(ctx context.Context, repoID string) ([]string, error) {
	const query = `SELECT path FROM code_files WHERE repo_id = ? ORDER BY path`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("list indexed files: %w", err)
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
		return nil, fmt.Errorf("iterate indexed files: %w", err)
	}

	return paths, nil
}

func (r *CodeIndexRepo) put(ctx context.Context, repoID, path, content string) error {
	const query = `
		INSERT INTO code_files (repo_id, path, content, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (repo_id, path) DO UPDATE SET
			content    = excluded.content,
			indexed_at = excluded.indexed_at
	`

	if _, err := r.db.Writer.ExecContext(ctx, query, repoID, path, content, formatTime(r.now())); err != nil {
		return fmt.Errorf("index file %s: %w", path, err)
	}
	return nil
}

func (r *CodeIndexRepo) remove(ctx context.Context, repoID, path string) error {
	const query = `DELETE FROM code_files WHERE repo_id = ? AND path = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, repoID, path); err != nil {
		return fmt.Errorf("unindex file %s: %w", path, err)
	}
	return nil
}
