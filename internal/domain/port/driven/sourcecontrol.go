package driven

import (
	"context"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
)

// SourceControl defines the driven port for reading repository content.
// installationID identifies the app installation on hosts that use one; token
// based clients may ignore it.
type SourceControl interface {
	// FetchChangedFiles lists the files changed by a pull request.
	FetchChangedFiles(ctx context.Context, repoID string, prNumber int, installationID int64) ([]model.FileChange, error)
	// ListRepositoryFiles lists every file at ref as an added change.
	ListRepositoryFiles(ctx context.Context, repoID string, ref string, installationID int64) ([]model.FileChange, error)
	// GetFileContent returns found=false when the path does not exist at ref.
	GetFileContent(ctx context.Context, repoID, path, ref string, installationID int64) (content string, found bool, err error)
	// GetDefaultBranchHead returns the commit SHA at the tip of the default branch.
	GetDefaultBranchHead(ctx context.Context, repoID string, installationID int64) (string, error)
}
