package application

import (
	"cmp"
	"slices"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
)

// DefaultMaxClaims bounds how many claims a single scan verifies.
const DefaultMaxClaims = 50

// severityWeight ranks testability classes; syntactic claims are the cheapest
// to check deterministically.
func severityWeight(t model.Testability) float64 {
	switch t {
	case model.TestabilitySyntactic:
		return 3
	case model.TestabilitySemantic:
		return 2
	default:
		return 1
	}
}

// ClaimScore is the priority of a claim: severity weight times extraction
// confidence.
func ClaimScore(c model.Claim) float64 {
	return severityWeight(c.Testability) * c.ExtractionConfidence
}

// Prioritize returns at most maxClaims claims ordered by descending score,
// then ascending source file, then ascending line number. The input slice is
// not modified. A negative maxClaims is treated as zero.
func Prioritize(claims []model.Claim, maxClaims int) []model.Claim {
	if maxClaims < 0 {
		maxClaims = 0
	}

	ranked := slices.Clone(claims)
	slices.SortStableFunc(ranked, func(a, b model.Claim) int {
		if c := cmp.Compare(ClaimScore(b), ClaimScore(a)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.SourceFile, b.SourceFile); c != 0 {
			return c
		}
		if c := cmp.Compare(a.LineNumber, b.LineNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(ranked) > maxClaims {
		ranked = ranked[:maxClaims]
	}
	return ranked
}

// Deduplicate drops repeated claim IDs, keeping the first occurrence and the
// original order.
func Deduplicate(claims []model.Claim) []model.Claim {
	seen := make(map[string]struct{}, len(claims))
	out := make([]model.Claim, 0, len(claims))
	for _, c := range claims {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
