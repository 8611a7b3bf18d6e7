package model

// Testability classifies how mechanically a claim can be checked.
type Testability string

const (
	TestabilitySyntactic  Testability = "syntactic"
	TestabilitySemantic   Testability = "semantic"
	TestabilityUntestable Testability = "untestable"
)

// Verdict is the outcome of verifying a single claim.
type Verdict string

const (
	VerdictVerified  Verdict = "verified"
	VerdictDrifted   Verdict = "drifted"
	VerdictUncertain Verdict = "uncertain"
)

// Claim is a single falsifiable statement extracted from documentation.
// The scan core reads and reorders claims but never mutates their content.
type Claim struct {
	ID                   string
	RepoID               string
	SourceFile           string
	LineNumber           int
	Text                 string
	Testability          Testability
	ExtractionConfidence float64 // In [0, 1].
}

// ClaimMapping links a claim to the code it references.
type ClaimMapping struct {
	ClaimID    string
	RepoID     string
	CodeFile   string
	Symbol     string
	Confidence float64
}

// VerificationResult is produced by a verifier for one claim.
type VerificationResult struct {
	ClaimID    string
	Verdict    Verdict
	Reasoning  string
	TokenCost  int
	DurationMs int64
}

// Finding is a drifted or uncertain claim surfaced to reporting.
type Finding struct {
	ScanID     string
	ClaimID    string
	SourceFile string
	LineNumber int
	ClaimText  string
	Verdict    Verdict
	Reasoning  string
}

// CoChange associates code and documentation files changed in one commit.
type CoChange struct {
	RepoID    string
	CodeFile  string
	DocFile   string
	CommitSHA string
}
