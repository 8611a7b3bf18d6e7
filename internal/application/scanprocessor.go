package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// errScanCancelled stops a pipeline that observed its cancellation signal.
// The scan record is already cancelled when it is returned.
var errScanCancelled = errors.New("scan cancelled at checkpoint")

// ScanProcessorDeps bundles the collaborators a scan pipeline calls.
type ScanProcessorDeps struct {
	Scans    driven.ScanStore
	Signal   driven.CancelSignal
	Source   driven.SourceControl
	Index    driven.CodeIndex
	Mapper   driven.Mapper
	Verifier driven.Verifier
	Learning driven.Learning
	Claims   driven.ClaimStore
	Findings driven.FindingStore
}

// ScanProcessor executes PR and full scans delivered by the job queue. Each
// call handles one scan and is the only writer of that scan's record.
type ScanProcessor struct {
	deps      ScanProcessorDeps
	maxClaims int
}

// NewScanProcessor creates a ScanProcessor. A non-positive maxClaims uses
// DefaultMaxClaims.
func NewScanProcessor(deps ScanProcessorDeps, maxClaims int) *ScanProcessor {
	if maxClaims <= 0 {
		maxClaims = DefaultMaxClaims
	}
	return &ScanProcessor{deps: deps, maxClaims: maxClaims}
}

// Process routes a job to the pipeline for its kind.
func (p *ScanProcessor) Process(ctx context.Context, job model.ScanJob) error {
	switch job.Kind {
	case model.JobKindPRScan:
		return p.ProcessPRScan(ctx, job)
	case model.JobKindFullScan:
		return p.ProcessFullScan(ctx, job)
	default:
		return fmt.Errorf("job %s has unknown kind %q", job.ID, job.Kind)
	}
}

// ProcessPRScan scans the documentation affected by a pull request: claims in
// changed docs plus claims mapped to changed code.
func (p *ScanProcessor) ProcessPRScan(ctx context.Context, job model.ScanJob) error {
	exec, ok, err := p.begin(ctx, job)
	if err != nil || !ok {
		return err
	}
	return exec.finish(ctx, p.runPRScan(ctx, exec, job.Payload))
}

// ProcessFullScan scans every claim in the repository against its default
// branch head.
func (p *ScanProcessor) ProcessFullScan(ctx context.Context, job model.ScanJob) error {
	exec, ok, err := p.begin(ctx, job)
	if err != nil || !ok {
		return err
	}
	return exec.finish(ctx, p.runFullScan(ctx, exec, job.Payload))
}

// begin loads the scan and moves it to running. ok is false when the scan was
// already cancelled or completed and there is nothing to do.
func (p *ScanProcessor) begin(ctx context.Context, job model.ScanJob) (*scanExecution, bool, error) {
	scan, err := p.deps.Scans.Get(ctx, job.Payload.ScanID)
	if err != nil {
		return nil, false, fmt.Errorf("load scan for job %s: %w", job.ID, err)
	}

	if scan.Status == model.ScanStatusCancelled || scan.Status == model.ScanStatusCompleted {
		slog.Info("skipping finished scan", "scan_id", scan.ID, "status", string(scan.Status), "job_id", job.ID)
		return nil, false, nil
	}

	if err := p.deps.Scans.Transition(ctx, scan.ID, model.ScanStatusRunning, model.ScanUpdate{}); err != nil {
		return nil, false, fmt.Errorf("start scan %s: %w", scan.ID, err)
	}

	slog.Info("scan started",
		"scan_id", scan.ID,
		"repo", scan.RepoID,
		"trigger", string(scan.TriggerType),
		"attempt", job.Attempts,
	)

	return &scanExecution{
		p:       p,
		scanID:  scan.ID,
		repoID:  scan.RepoID,
		jobKey:  job.Key,
		started: time.Now(),
	}, true, nil
}

func (p *ScanProcessor) runPRScan(ctx context.Context, exec *scanExecution, payload model.JobPayload) error {
	d := p.deps

	changes, err := d.Source.FetchChangedFiles(ctx, payload.RepoID, payload.PRNumber, payload.InstallationID)
	if err != nil {
		return fmt.Errorf("fetch changed files: %w", err)
	}
	cs := classifyChanges(changes)

	if len(cs.codeChanges) > 0 {
		fetch := p.contentFetcher(payload.RepoID, payload.HeadSHA, payload.InstallationID)
		summary, err := d.Index.UpdateFromDiff(ctx, payload.RepoID, cs.codeChanges, fetch)
		if err != nil {
			return fmt.Errorf("update code index: %w", err)
		}
		slog.Debug("code index updated",
			"scan_id", exec.scanID,
			"indexed", summary.FilesIndexed,
			"removed", summary.FilesRemoved,
			"skipped", summary.FilesSkipped,
		)
	}
	if len(cs.renames) > 0 {
		if err := d.Mapper.UpdateCodeFilePaths(ctx, payload.RepoID, cs.renames); err != nil {
			return fmt.Errorf("update renamed mappings: %w", err)
		}
	}
	if len(cs.removedCode) > 0 {
		if err := d.Mapper.RemoveMappingsForFiles(ctx, payload.RepoID, cs.removedCode); err != nil {
			return fmt.Errorf("remove deleted mappings: %w", err)
		}
	}

	if err := exec.checkpoint(ctx, 1); err != nil {
		return err
	}

	if len(cs.removedDocs) > 0 {
		deleted, err := d.Claims.DeleteByFiles(ctx, payload.RepoID, cs.removedDocs)
		if err != nil {
			return fmt.Errorf("delete claims of removed docs: %w", err)
		}
		slog.Debug("claims of removed docs deleted", "scan_id", exec.scanID, "count", deleted)
	}

	var docClaims []model.Claim
	if len(cs.docPaths) > 0 {
		docClaims, err = d.Claims.GetByFiles(ctx, payload.RepoID, cs.docPaths)
		if err != nil {
			return fmt.Errorf("load claims of changed docs: %w", err)
		}
	}

	scope, err := resolveScope(ctx, payload.RepoID, cs.codePaths, docClaims, d.Mapper, d.Claims)
	if err != nil {
		return err
	}

	scope, err = p.dropSuppressed(ctx, scope)
	if err != nil {
		return err
	}

	if err := exec.checkpoint(ctx, 2); err != nil {
		return err
	}

	return exec.verifyAndComplete(ctx, scope, cs.touchedCode, cs.touchedDocs, payload.HeadSHA)
}

func (p *ScanProcessor) runFullScan(ctx context.Context, exec *scanExecution, payload model.JobPayload) error {
	d := p.deps

	head, err := d.Source.GetDefaultBranchHead(ctx, payload.RepoID, payload.InstallationID)
	if err != nil {
		return fmt.Errorf("resolve default branch: %w", err)
	}
	exec.commitSHA = head

	files, err := d.Source.ListRepositoryFiles(ctx, payload.RepoID, head, payload.InstallationID)
	if err != nil {
		return fmt.Errorf("list repository files: %w", err)
	}
	cs := classifyChanges(files)

	if len(cs.codeChanges) > 0 {
		fetch := p.contentFetcher(payload.RepoID, head, payload.InstallationID)
		summary, err := d.Index.UpdateFromDiff(ctx, payload.RepoID, cs.codeChanges, fetch)
		if err != nil {
			return fmt.Errorf("update code index: %w", err)
		}
		slog.Debug("code index rebuilt",
			"scan_id", exec.scanID,
			"indexed", summary.FilesIndexed,
			"skipped", summary.FilesSkipped,
		)
	}

	if err := exec.checkpoint(ctx, 1); err != nil {
		return err
	}

	all, err := d.Claims.ListByRepo(ctx, payload.RepoID)
	if err != nil {
		return fmt.Errorf("load repository claims: %w", err)
	}

	scope, err := p.dropSuppressed(ctx, Deduplicate(all))
	if err != nil {
		return err
	}

	if err := exec.checkpoint(ctx, 2); err != nil {
		return err
	}

	return exec.verifyAndComplete(ctx, scope, nil, nil, head)
}

// contentFetcher reads files at the scanned revision.
func (p *ScanProcessor) contentFetcher(repoID, ref string, installationID int64) driven.FileContentFetcher {
	return func(ctx context.Context, path string) (string, bool, error) {
		return p.deps.Source.GetFileContent(ctx, repoID, path, ref, installationID)
	}
}

func (p *ScanProcessor) dropSuppressed(ctx context.Context, claims []model.Claim) ([]model.Claim, error) {
	kept := claims[:0:0]
	for _, c := range claims {
		suppressed, err := p.deps.Learning.IsClaimSuppressed(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("check suppression of claim %s: %w", c.ID, err)
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// verifyClaim maps the claim if it has no mappings yet and runs the
// deterministic tier. Undecided claims are reported as uncertain.
func (p *ScanProcessor) verifyClaim(ctx context.Context, repoID string, claim model.Claim) (model.VerificationResult, error) {
	mappings, err := p.deps.Mapper.GetMappingsForClaim(ctx, claim.ID)
	if err != nil {
		return model.VerificationResult{}, fmt.Errorf("load mappings for claim %s: %w", claim.ID, err)
	}
	if len(mappings) == 0 {
		mappings, err = p.deps.Mapper.MapClaim(ctx, repoID, claim)
		if err != nil {
			return model.VerificationResult{}, fmt.Errorf("map claim %s: %w", claim.ID, err)
		}
	}

	result, err := p.deps.Verifier.VerifyDeterministic(ctx, claim, mappings)
	if err != nil {
		return model.VerificationResult{}, fmt.Errorf("verify claim %s: %w", claim.ID, err)
	}
	if result == nil {
		return model.VerificationResult{
			ClaimID:   claim.ID,
			Verdict:   model.VerdictUncertain,
			Reasoning: "no deterministic verdict",
		}, nil
	}

	result.ClaimID = claim.ID
	return *result, nil
}

// scanExecution accumulates the progress of one scan in memory. Counters are
// written only at terminal transitions.
type scanExecution struct {
	p         *ScanProcessor
	scanID    string
	repoID    string
	jobKey    string
	commitSHA string
	started   time.Time
	stats     model.ScanStats
}

func (e *scanExecution) update() model.ScanUpdate {
	stats := e.stats
	return model.ScanUpdate{Stats: &stats, CommitSHA: e.commitSHA}
}

// checkpoint ends the scan as cancelled if its signal is set, keeping the
// counters gathered so far.
func (e *scanExecution) checkpoint(ctx context.Context, n int) error {
	if !e.p.deps.Signal.IsCancelled(ctx, e.jobKey) {
		return nil
	}

	if err := e.p.deps.Scans.Transition(ctx, e.scanID, model.ScanStatusCancelled, e.update()); err != nil {
		return fmt.Errorf("record cancellation at checkpoint %d: %w", n, err)
	}

	slog.Info("scan cancelled",
		"scan_id", e.scanID,
		"job_key", e.jobKey,
		"checkpoint", n,
		"claims_checked", e.stats.ClaimsChecked,
	)

	return errScanCancelled
}

func (e *scanExecution) verifyAndComplete(ctx context.Context, scope []model.Claim, codeFiles, docFiles []string, commitSHA string) error {
	prioritized := Prioritize(scope, e.p.maxClaims)

	if len(prioritized) == 0 {
		if err := e.recordCoChanges(ctx, codeFiles, docFiles, commitSHA); err != nil {
			return err
		}
		return e.complete(ctx, nil)
	}

	results := make([]model.VerificationResult, 0, len(prioritized))
	for _, c := range prioritized {
		r, err := e.p.verifyClaim(ctx, e.repoID, c)
		if err != nil {
			return err
		}
		e.record(r)
		results = append(results, r)
	}

	if err := e.checkpoint(ctx, 3); err != nil {
		return err
	}

	findings := buildFindings(e.scanID, prioritized, results)

	if err := e.checkpoint(ctx, 4); err != nil {
		return err
	}

	if err := e.recordCoChanges(ctx, codeFiles, docFiles, commitSHA); err != nil {
		return err
	}

	return e.complete(ctx, findings)
}

func (e *scanExecution) record(r model.VerificationResult) {
	e.stats.ClaimsChecked++
	switch r.Verdict {
	case model.VerdictVerified:
		e.stats.ClaimsVerified++
	case model.VerdictDrifted:
		e.stats.ClaimsDrifted++
	default:
		e.stats.ClaimsUncertain++
	}
	e.stats.TotalTokenCost += r.TokenCost
	e.stats.TotalDurationMs += r.DurationMs
}

func (e *scanExecution) recordCoChanges(ctx context.Context, codeFiles, docFiles []string, commitSHA string) error {
	if len(codeFiles) == 0 || len(docFiles) == 0 {
		return nil
	}
	if err := e.p.deps.Learning.RecordCoChanges(ctx, e.repoID, codeFiles, docFiles, commitSHA); err != nil {
		return fmt.Errorf("record co-changes: %w", err)
	}
	return nil
}

func (e *scanExecution) complete(ctx context.Context, findings []model.Finding) error {
	if len(findings) > 0 {
		if err := e.p.deps.Findings.SaveFindings(ctx, e.scanID, findings); err != nil {
			return fmt.Errorf("save findings: %w", err)
		}
	}

	if err := e.p.deps.Scans.Transition(ctx, e.scanID, model.ScanStatusCompleted, e.update()); err != nil {
		return fmt.Errorf("complete scan %s: %w", e.scanID, err)
	}

	slog.Info("scan completed",
		"scan_id", e.scanID,
		"repo", e.repoID,
		"claims_checked", e.stats.ClaimsChecked,
		"drifted", e.stats.ClaimsDrifted,
		"verified", e.stats.ClaimsVerified,
		"uncertain", e.stats.ClaimsUncertain,
		"duration", time.Since(e.started).Round(time.Millisecond),
	)

	return nil
}

// finish maps the pipeline outcome to the job outcome. A failed pipeline marks
// the scan failed on a best-effort basis and returns the original error.
func (e *scanExecution) finish(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, errScanCancelled) {
		return nil
	}

	if terr := e.p.deps.Scans.Transition(context.WithoutCancel(ctx), e.scanID, model.ScanStatusFailed, e.update()); terr != nil {
		slog.Warn("recording scan failure failed", "scan_id", e.scanID, "error", terr)
	}

	slog.Error("scan failed", "scan_id", e.scanID, "repo", e.repoID, "error", err)

	return err
}

// buildFindings reports every claim that did not verify cleanly.
func buildFindings(scanID string, claims []model.Claim, results []model.VerificationResult) []model.Finding {
	byID := make(map[string]model.Claim, len(claims))
	for _, c := range claims {
		byID[c.ID] = c
	}

	var findings []model.Finding
	for _, r := range results {
		if r.Verdict == model.VerdictVerified {
			continue
		}
		c := byID[r.ClaimID]
		findings = append(findings, model.Finding{
			ScanID:     scanID,
			ClaimID:    c.ID,
			SourceFile: c.SourceFile,
			LineNumber: c.LineNumber,
			ClaimText:  c.Text,
			Verdict:    r.Verdict,
			Reasoning:  r.Reasoning,
		})
	}
	return findings
}
