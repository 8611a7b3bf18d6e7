package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Verifier = (*DeterministicVerifier)(nil)

// IndexReader reads file content back out of the code index.
type IndexReader interface {
	GetContent(ctx context.Context, repoID, path string) (content string, found bool, err error)
}

// DeterministicVerifier checks syntactic claims by looking for their backtick
// references in the indexed content of the files they map to.
//
// A mapped file that is no longer indexed means the claim points at code that
// was removed, so the claim has drifted. When every reference is found the
// claim is verified. Anything else is left undecided for a deeper tier.
type DeterministicVerifier struct {
	index IndexReader
}

// NewDeterministicVerifier creates a verifier over the given index.
func NewDeterministicVerifier(index IndexReader) *DeterministicVerifier {
	return &DeterministicVerifier{index: index}
}

// VerifyDeterministic returns nil when the claim cannot be decided mechanically.
func (v *DeterministicVerifier) VerifyDeterministic(ctx context.Context, claim model.Claim, mappings []model.ClaimMapping) (*model.VerificationResult, error) {
	if claim.Testability != model.TestabilitySyntactic || len(mappings) == 0 {
		return nil, nil
	}

	refs := claim.References()
	if len(refs) == 0 {
		return nil, nil
	}

	start := time.Now()

	var contents []string
	seen := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		if _, dup := seen[m.CodeFile]; dup {
			continue
		}
		seen[m.CodeFile] = struct{}{}

		content, found, err := v.index.GetContent(ctx, claim.RepoID, m.CodeFile)
		if err != nil {
			return nil, fmt.Errorf("read indexed %s: %w", m.CodeFile, err)
		}
		if !found {
			return &model.VerificationResult{
				ClaimID:    claim.ID,
				Verdict:    model.VerdictDrifted,
				Reasoning:  fmt.Sprintf("referenced file %s no longer exists", m.CodeFile),
				DurationMs: time.Since(start).Milliseconds(),
			}, nil
		}
		contents = append(contents, content)
	}

	for _, ref := range refs {
		if model.IsPathReference(ref) {
			if _, ok := seen[ref]; ok {
				continue
			}
			return nil, nil
		}
		if !containsAny(contents, ref) {
			return nil, nil
		}
	}

	return &model.VerificationResult{
		ClaimID:    claim.ID,
		Verdict:    model.VerdictVerified,
		Reasoning:  fmt.Sprintf("all %d references found in mapped code", len(refs)),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func containsAny(contents []string, needle string) bool {
	for _, c := range contents {
		if strings.Contains(c, needle) {
			return true
		}
	}
	return false
}
