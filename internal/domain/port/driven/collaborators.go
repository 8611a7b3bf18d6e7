package driven

import (
	"context"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
)

// FileContentFetcher loads file text at the revision being scanned.
type FileContentFetcher func(ctx context.Context, path string) (content string, found bool, err error)

// CodeIndex maintains the searchable view of a repository's code.
type CodeIndex interface {
	UpdateFromDiff(ctx context.Context, repoID string, changes []model.FileChange, fetch FileContentFetcher) (model.IndexSummary, error)
}

// Mapper maintains claim to code-file mappings.
type Mapper interface {
	UpdateCodeFilePaths(ctx context.Context, repoID string, renames []model.RenamePair) error
	RemoveMappingsForFiles(ctx context.Context, repoID string, paths []string) error
	FindClaimsByCodeFiles(ctx context.Context, repoID string, paths []string) ([]model.ClaimMapping, error)
	GetMappingsForClaim(ctx context.Context, claimID string) ([]model.ClaimMapping, error)
	MapClaim(ctx context.Context, repoID string, claim model.Claim) ([]model.ClaimMapping, error)
}

// Verifier checks a claim against its mapped code. A nil result means the
// deterministic tier could not decide.
type Verifier interface {
	VerifyDeterministic(ctx context.Context, claim model.Claim, mappings []model.ClaimMapping) (*model.VerificationResult, error)
}

// Learning holds feedback-driven state: suppressions and co-change history.
type Learning interface {
	IsClaimSuppressed(ctx context.Context, claim model.Claim) (bool, error)
	RecordCoChanges(ctx context.Context, repoID string, codeFiles, docFiles []string, commitSHA string) error
}

// ClaimStore reads claims produced by the extractor.
type ClaimStore interface {
	GetByFiles(ctx context.Context, repoID string, paths []string) ([]model.Claim, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.Claim, error)
	ListByRepo(ctx context.Context, repoID string) ([]model.Claim, error)
	DeleteByFiles(ctx context.Context, repoID string, paths []string) (int, error)
}

// FindingStore persists findings of completed scans.
type FindingStore interface {
	SaveFindings(ctx context.Context, scanID string, findings []model.Finding) error
	GetFindings(ctx context.Context, scanID string) ([]model.Finding, error)
}
