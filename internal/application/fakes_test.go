package application_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// --- In-memory fakes shared by the application tests ---

type transitionCall struct {
	ScanID string
	Status model.ScanStatus
	Update model.ScanUpdate
}

// fakeScanStore keeps scan runs in memory and maintains timestamps the way
// the SQLite store does.
type fakeScanStore struct {
	mu            sync.Mutex
	runs          map[string]*model.ScanRun
	transitions   []transitionCall
	transitionErr map[model.ScanStatus]error
	createErr     error
	seq           int
}

func newFakeScanStore() *fakeScanStore {
	return &fakeScanStore{
		runs:          make(map[string]*model.ScanRun),
		transitionErr: make(map[model.ScanStatus]error),
	}
}

func (f *fakeScanStore) Create(_ context.Context, run driven.NewScanRun) (model.ScanRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return model.ScanRun{}, f.createErr
	}
	f.seq++
	sr := model.ScanRun{
		ID:          fmt.Sprintf("scan-%d", f.seq),
		RepoID:      run.RepoID,
		TriggerType: run.TriggerType,
		TriggerRef:  run.TriggerRef,
		CommitSHA:   run.CommitSHA,
		Status:      model.ScanStatusQueued,
		CreatedAt:   time.Now(),
	}
	f.runs[sr.ID] = &sr
	return sr, nil
}

func (f *fakeScanStore) Transition(_ context.Context, scanID string, status model.ScanStatus, update model.ScanUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transitions = append(f.transitions, transitionCall{ScanID: scanID, Status: status, Update: update})
	if err := f.transitionErr[status]; err != nil {
		return err
	}
	run, ok := f.runs[scanID]
	if !ok {
		return driven.ErrScanNotFound
	}

	now := time.Now()
	run.Status = status
	switch {
	case status == model.ScanStatusQueued:
		run.StartedAt, run.CompletedAt = nil, nil
	case status == model.ScanStatusRunning:
		run.StartedAt, run.CompletedAt = &now, nil
	case status.IsTerminal():
		if run.StartedAt == nil {
			run.StartedAt = &now
		}
		run.CompletedAt = &now
	}
	if update.Stats != nil {
		run.Stats = *update.Stats
	}
	if update.CommitSHA != "" {
		run.CommitSHA = update.CommitSHA
	}
	return nil
}

func (f *fakeScanStore) Get(_ context.Context, scanID string) (model.ScanRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	run, ok := f.runs[scanID]
	if !ok {
		return model.ScanRun{}, driven.ErrScanNotFound
	}
	return *run, nil
}

func (f *fakeScanStore) ListActive(_ context.Context, repoID string) ([]model.ScanRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.ScanRun
	for _, run := range f.runs {
		if run.RepoID == repoID && run.Status.IsActive() {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (f *fakeScanStore) CountCreatedSince(_ context.Context, repoID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, run := range f.runs {
		if run.RepoID == repoID && !run.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeScanStore) put(run model.ScanRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = &run
}

func (f *fakeScanStore) get(scanID string) model.ScanRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.runs[scanID]
}

func (f *fakeScanStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type enqueueCall struct {
	Key         string
	Kind        model.JobKind
	Payload     model.JobPayload
	MaxAttempts int
	rejected    bool
}

type failCall struct {
	JobID   string
	Cause   error
	RetryAt time.Time
}

// fakeQueue records scheduling calls and hands out preloaded jobs.
type fakeQueue struct {
	mu          sync.Mutex
	enqueued    []enqueueCall
	enqueueErrs []error // Consumed one per Enqueue call.
	superseded  string  // Returned by the next successful Enqueue.
	active      map[string]bool
	activeErr   error

	pending   []model.ScanJob
	claimErr  error
	claims    int // ClaimNext calls.
	completed []string
	failed    []failCall
	retrying  bool

	jobStatus  map[string]model.JobStatus // By scan ID; enqueued jobs default to waiting.
	cancelled  []string
	stranded   []model.ScanJob // Returned to pending by ReleaseActive.
	releaseErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{active: make(map[string]bool), jobStatus: make(map[string]model.JobStatus)}
}

func (f *fakeQueue) Enqueue(_ context.Context, key string, kind model.JobKind, payload model.JobPayload, maxAttempts int) (driven.EnqueueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.enqueued = append(f.enqueued, enqueueCall{Key: key, Kind: kind, Payload: payload, MaxAttempts: maxAttempts})
	if len(f.enqueueErrs) > 0 {
		err := f.enqueueErrs[0]
		f.enqueueErrs = f.enqueueErrs[1:]
		if err != nil {
			f.enqueued[len(f.enqueued)-1].rejected = true
			return driven.EnqueueResult{}, err
		}
	}
	f.active[key] = true
	res := driven.EnqueueResult{JobID: fmt.Sprintf("job-%d", len(f.enqueued)), SupersededScanID: f.superseded}
	f.superseded = ""
	return res, nil
}

func (f *fakeQueue) IsActive(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[key], f.activeErr
}

func (f *fakeQueue) ClaimNext(_ context.Context) (model.ScanJob, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.claims++
	if f.claimErr != nil {
		return model.ScanJob{}, false, f.claimErr
	}
	if len(f.pending) == 0 {
		return model.ScanJob{}, false, nil
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	job.Status = model.JobStatusActive
	job.Attempts++
	return job, true, nil
}

func (f *fakeQueue) Complete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeQueue) Fail(_ context.Context, jobID string, cause error, retryAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failCall{JobID: jobID, Cause: cause, RetryAt: retryAt})
	return f.retrying, nil
}

func (f *fakeQueue) GetByScanID(_ context.Context, scanID string) (model.ScanJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.enqueued {
		if c.Payload.ScanID == scanID && !c.rejected {
			status, ok := f.jobStatus[scanID]
			if !ok {
				status = model.JobStatusWaiting
			}
			return model.ScanJob{
				ID:      fmt.Sprintf("job-%d", i+1),
				Key:     c.Key,
				Kind:    c.Kind,
				Payload: c.Payload,
				Status:  status,
			}, nil
		}
	}
	return model.ScanJob{}, driven.ErrJobNotFound
}

func (f *fakeQueue) Cancel(_ context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, c := range f.enqueued {
		if c.rejected || fmt.Sprintf("job-%d", i+1) != jobID {
			continue
		}
		if status, ok := f.jobStatus[c.Payload.ScanID]; ok && status != model.JobStatusWaiting {
			return false, nil
		}
		f.jobStatus[c.Payload.ScanID] = model.JobStatusSuperseded
		f.cancelled = append(f.cancelled, jobID)
		return true, nil
	}
	return false, nil
}

func (f *fakeQueue) ReleaseActive(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.releaseErr != nil {
		return 0, f.releaseErr
	}
	n := len(f.stranded)
	f.pending = append(f.stranded, f.pending...)
	f.stranded = nil
	return n, nil
}

// track registers a job for scanID as if it had been enqueued earlier.
func (f *fakeQueue) track(scanID string, kind model.JobKind, status model.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, enqueueCall{Key: "key-" + scanID, Kind: kind, Payload: model.JobPayload{ScanID: scanID}})
	f.jobStatus[scanID] = status
}

func (f *fakeQueue) snapshot() (completed []string, failed []failCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.completed), slices.Clone(f.failed)
}

// fakeSignal is a cancellation flag set. cancelAtCheck makes the Nth
// IsCancelled call (1-based) and every later one report true.
type fakeSignal struct {
	mu            sync.Mutex
	flags         map[string]time.Duration
	cleared       []string
	requestErr    error
	checks        int
	cancelAtCheck int
	purged        int
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{flags: make(map[string]time.Duration)}
}

func (f *fakeSignal) IsCancelled(_ context.Context, jobKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.checks++
	if f.cancelAtCheck > 0 && f.checks >= f.cancelAtCheck {
		return true
	}
	_, ok := f.flags[jobKey]
	return ok
}

func (f *fakeSignal) RequestCancellation(_ context.Context, jobKey string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.requestErr != nil {
		return f.requestErr
	}
	f.flags[jobKey] = ttl
	return nil
}

func (f *fakeSignal) Clear(_ context.Context, jobKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cleared = append(f.cleared, jobKey)
	delete(f.flags, jobKey)
	return nil
}

func (f *fakeSignal) PurgeExpired(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged++
	return 0, nil
}

func (f *fakeSignal) isSet(jobKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.flags[jobKey]
	return ok
}

// fakeClaims serves claims from a slice.
type fakeClaims struct {
	claims  []model.Claim
	deleted []string
}

func (f *fakeClaims) GetByFiles(_ context.Context, repoID string, paths []string) ([]model.Claim, error) {
	var out []model.Claim
	for _, c := range f.claims {
		if c.RepoID == repoID && slices.Contains(paths, c.SourceFile) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeClaims) GetByIDs(_ context.Context, ids []string) ([]model.Claim, error) {
	var out []model.Claim
	for _, c := range f.claims {
		if slices.Contains(ids, c.ID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeClaims) ListByRepo(_ context.Context, repoID string) ([]model.Claim, error) {
	var out []model.Claim
	for _, c := range f.claims {
		if c.RepoID == repoID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeClaims) DeleteByFiles(_ context.Context, _ string, paths []string) (int, error) {
	f.deleted = append(f.deleted, paths...)
	return len(paths), nil
}

// fakeMapper holds claim mappings keyed by claim ID.
type fakeMapper struct {
	mappings map[string][]model.ClaimMapping
	renamed  []model.RenamePair
	removed  []string
	mapped   []string
}

func (f *fakeMapper) UpdateCodeFilePaths(_ context.Context, _ string, renames []model.RenamePair) error {
	f.renamed = append(f.renamed, renames...)
	return nil
}

func (f *fakeMapper) RemoveMappingsForFiles(_ context.Context, _ string, paths []string) error {
	f.removed = append(f.removed, paths...)
	return nil
}

func (f *fakeMapper) FindClaimsByCodeFiles(_ context.Context, _ string, paths []string) ([]model.ClaimMapping, error) {
	var out []model.ClaimMapping
	for _, ms := range f.mappings {
		for _, m := range ms {
			if slices.Contains(paths, m.CodeFile) {
				out = append(out, m)
			}
		}
	}
	slices.SortFunc(out, func(a, b model.ClaimMapping) int {
		if a.ClaimID < b.ClaimID {
			return -1
		}
		if a.ClaimID > b.ClaimID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (f *fakeMapper) GetMappingsForClaim(_ context.Context, claimID string) ([]model.ClaimMapping, error) {
	return f.mappings[claimID], nil
}

func (f *fakeMapper) MapClaim(_ context.Context, _ string, claim model.Claim) ([]model.ClaimMapping, error) {
	f.mapped = append(f.mapped, claim.ID)
	return nil, nil
}

// fakeVerifier returns canned verdicts by claim ID. Claims without a verdict
// are left undecided.
type fakeVerifier struct {
	mu       sync.Mutex
	verdicts map[string]model.Verdict
	calls    []string
	err      error
}

func (f *fakeVerifier) VerifyDeterministic(_ context.Context, claim model.Claim, _ []model.ClaimMapping) (*model.VerificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, claim.ID)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.verdicts[claim.ID]
	if !ok {
		return nil, nil
	}
	return &model.VerificationResult{Verdict: v, Reasoning: "canned", TokenCost: 10, DurationMs: 5}, nil
}

type coChangeCall struct {
	RepoID    string
	CodeFiles []string
	DocFiles  []string
	CommitSHA string
}

// fakeLearning suppresses claims by ID and records co-change calls.
type fakeLearning struct {
	suppressed map[string]bool
	coChanges  []coChangeCall
}

func (f *fakeLearning) IsClaimSuppressed(_ context.Context, claim model.Claim) (bool, error) {
	return f.suppressed[claim.ID], nil
}

func (f *fakeLearning) RecordCoChanges(_ context.Context, repoID string, codeFiles, docFiles []string, commitSHA string) error {
	f.coChanges = append(f.coChanges, coChangeCall{RepoID: repoID, CodeFiles: codeFiles, DocFiles: docFiles, CommitSHA: commitSHA})
	return nil
}

type fakeFindings struct {
	saved map[string][]model.Finding
	err   error
}

func (f *fakeFindings) SaveFindings(_ context.Context, scanID string, findings []model.Finding) error {
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = make(map[string][]model.Finding)
	}
	f.saved[scanID] = findings
	return nil
}

func (f *fakeFindings) GetFindings(_ context.Context, scanID string) ([]model.Finding, error) {
	return f.saved[scanID], nil
}

// fakeSource serves a fixed PR diff and repository tree.
type fakeSource struct {
	changes  []model.FileChange
	tree     []model.FileChange
	head     string
	fetchErr error
}

func (f *fakeSource) FetchChangedFiles(_ context.Context, _ string, _ int, _ int64) ([]model.FileChange, error) {
	return f.changes, f.fetchErr
}

func (f *fakeSource) ListRepositoryFiles(_ context.Context, _ string, _ string, _ int64) ([]model.FileChange, error) {
	return f.tree, nil
}

func (f *fakeSource) GetFileContent(_ context.Context, _, path, _ string, _ int64) (string, bool, error) {
	return "// " + path, true, nil
}

func (f *fakeSource) GetDefaultBranchHead(_ context.Context, _ string, _ int64) (string, error) {
	if f.head == "" {
		return "", errors.New("no default branch")
	}
	return f.head, nil
}

// fakeIndex records the changes it was asked to index.
type fakeIndex struct {
	updates [][]model.FileChange
}

func (f *fakeIndex) UpdateFromDiff(ctx context.Context, _ string, changes []model.FileChange, fetch driven.FileContentFetcher) (model.IndexSummary, error) {
	f.updates = append(f.updates, changes)
	var sum model.IndexSummary
	for _, ch := range changes {
		if ch.Status == model.FileRemoved {
			sum.FilesRemoved++
			continue
		}
		if _, _, err := fetch(ctx, ch.Path); err != nil {
			return sum, err
		}
		sum.FilesIndexed++
	}
	return sum, nil
}

type fakeRepoStore struct {
	mu    sync.Mutex
	repos []model.Repository
	err   error
}

func (f *fakeRepoStore) Add(_ context.Context, repo model.Repository) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos = append(f.repos, repo)
	return nil
}

func (f *fakeRepoStore) Remove(_ context.Context, _ string) error { return nil }

func (f *fakeRepoStore) GetByFullName(_ context.Context, fullName string) (*model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.repos {
		if r.FullName == fullName {
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeRepoStore) ListAll(_ context.Context) ([]model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.repos), f.err
}
