// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// ErrRateLimited is returned when a repository has exhausted its scan budget
// for the trailing window. No scan record is created.
var ErrRateLimited = errors.New("scan rate limit exceeded")

// TriggerConfig holds the tunables of the trigger path.
type TriggerConfig struct {
	RateLimit       int           // Scans allowed per repository per RateWindow.
	RateWindow      time.Duration // Trailing window the rate limit counts over.
	JobAttempts     int           // Executions a queued job gets before it fails for good.
	EnqueueAttempts int           // Tries for a transient scheduling failure.
	EnqueueBackoff  time.Duration // Initial delay between scheduling tries; doubles each time.
	CancelTTL       time.Duration // Lifetime of a cancellation signal.
}

// DefaultTriggerConfig returns the production defaults.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		RateLimit:       100,
		RateWindow:      24 * time.Hour,
		JobAttempts:     3,
		EnqueueAttempts: 3,
		EnqueueBackoff:  time.Second,
		CancelTTL:       600 * time.Second,
	}
}

// TriggerService turns external events into scan records and scheduled jobs.
// It performs only short synchronous work and never runs a scan itself.
type TriggerService struct {
	scans  driven.ScanStore
	queue  driven.JobQueue
	signal driven.CancelSignal
	claims driven.ClaimStore
	cfg    TriggerConfig
	now    func() time.Time

	// admitMu serializes the rate-limit count with the insert it guards.
	admitMu sync.Mutex
	wake    func()
}

// NewTriggerService creates a new TriggerService. Zero-valued config fields
// fall back to DefaultTriggerConfig.
func NewTriggerService(
	scans driven.ScanStore,
	queue driven.JobQueue,
	signal driven.CancelSignal,
	claims driven.ClaimStore,
	cfg TriggerConfig,
) *TriggerService {
	def := DefaultTriggerConfig()
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.JobAttempts <= 0 {
		cfg.JobAttempts = def.JobAttempts
	}
	if cfg.EnqueueAttempts <= 0 {
		cfg.EnqueueAttempts = def.EnqueueAttempts
	}
	if cfg.EnqueueBackoff <= 0 {
		cfg.EnqueueBackoff = def.EnqueueBackoff
	}
	if cfg.CancelTTL <= 0 {
		cfg.CancelTTL = def.CancelTTL
	}

	return &TriggerService{
		scans:  scans,
		queue:  queue,
		signal: signal,
		claims: claims,
		cfg:    cfg,
		now:    time.Now,
		wake:   func() {},
	}
}

// OnScheduled registers fn to run after every successfully scheduled job, so
// an in-process worker pool can claim it without waiting for its next poll.
func (s *TriggerService) OnScheduled(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	s.wake = fn
}

// EnqueuePRScan records and schedules a scan of a pull request head. A newer
// push to the same PR requests cancellation of the in-flight job for it.
func (s *TriggerService) EnqueuePRScan(ctx context.Context, repoID string, prNumber int, headSHA string, installationID int64, deliveryID string) (string, error) {
	scan, err := s.admit(ctx, driven.NewScanRun{
		RepoID:      repoID,
		TriggerType: model.TriggerPR,
		TriggerRef:  strconv.Itoa(prNumber),
		CommitSHA:   headSHA,
	}, true)
	if errors.Is(err, ErrRateLimited) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("create PR scan for %s#%d: %w", repoID, prNumber, err)
	}

	key := model.PRScanJobKey(repoID, prNumber)
	s.supersedeInFlight(ctx, key)

	payload := model.JobPayload{
		ScanID:         scan.ID,
		RepoID:         repoID,
		PRNumber:       prNumber,
		HeadSHA:        headSHA,
		InstallationID: installationID,
		DeliveryID:     deliveryID,
	}
	if err := s.schedule(ctx, key, model.JobKindPRScan, payload); err != nil {
		return scan.ID, err
	}

	slog.Info("PR scan enqueued",
		"scan_id", scan.ID,
		"repo", repoID,
		"pr", prNumber,
		"head_sha", headSHA,
		"delivery_id", deliveryID,
	)

	return scan.ID, nil
}

// EnqueueFullScan records and schedules a scheduled sweep of the repository.
// Full scans never supersede each other and are not rate limited.
func (s *TriggerService) EnqueueFullScan(ctx context.Context, repoID string, installationID int64) (string, error) {
	return s.enqueueFull(ctx, repoID, installationID, model.TriggerScheduled, false)
}

// EnqueueManualScan is EnqueueFullScan for an explicit user request. It counts
// against the same rate limit as PR scans.
func (s *TriggerService) EnqueueManualScan(ctx context.Context, repoID string, installationID int64) (string, error) {
	return s.enqueueFull(ctx, repoID, installationID, model.TriggerManual, true)
}

func (s *TriggerService) enqueueFull(ctx context.Context, repoID string, installationID int64, trigger model.TriggerType, limited bool) (string, error) {
	scan, err := s.admit(ctx, driven.NewScanRun{RepoID: repoID, TriggerType: trigger}, limited)
	if errors.Is(err, ErrRateLimited) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("create %s scan for %s: %w", trigger, repoID, err)
	}

	key := model.FullScanJobKey(repoID, scan.CreatedAt)
	payload := model.JobPayload{
		ScanID:         scan.ID,
		RepoID:         repoID,
		InstallationID: installationID,
	}
	if err := s.schedule(ctx, key, model.JobKindFullScan, payload); err != nil {
		return scan.ID, err
	}

	slog.Info("full scan enqueued", "scan_id", scan.ID, "repo", repoID, "trigger", string(trigger))

	return scan.ID, nil
}

// CancelScan stops a scan. A queued scan is cancelled directly and a running
// scan is asked to stop at its next checkpoint. A failed scan whose job is
// waiting to retry has the retry withdrawn. Other finished scans are left
// alone.
func (s *TriggerService) CancelScan(ctx context.Context, scanID string) error {
	scan, err := s.scans.Get(ctx, scanID)
	if err != nil {
		return fmt.Errorf("cancel scan %s: %w", scanID, err)
	}

	switch scan.Status {
	case model.ScanStatusQueued:
		if err := s.scans.Transition(ctx, scanID, model.ScanStatusCancelled, model.ScanUpdate{}); err != nil {
			return fmt.Errorf("cancel queued scan %s: %w", scanID, err)
		}
		slog.Info("queued scan cancelled", "scan_id", scanID, "repo", scan.RepoID)
	case model.ScanStatusRunning:
		key, err := model.JobKeyForScan(scan)
		if err != nil {
			return fmt.Errorf("cancel running scan: %w", err)
		}
		if err := s.signal.RequestCancellation(ctx, key, s.cfg.CancelTTL); err != nil {
			return fmt.Errorf("signal cancellation for scan %s: %w", scanID, err)
		}
		slog.Info("cancellation requested", "scan_id", scanID, "job_key", key)
	case model.ScanStatusFailed:
		return s.cancelRetry(ctx, scan)
	default:
		slog.Debug("cancel ignored for finished scan", "scan_id", scanID, "status", string(scan.Status))
	}

	return nil
}

// cancelRetry withdraws the pending retry of a failed scan. A retry claimed in
// the meantime is signalled instead.
func (s *TriggerService) cancelRetry(ctx context.Context, scan model.ScanRun) error {
	job, err := s.queue.GetByScanID(ctx, scan.ID)
	if errors.Is(err, driven.ErrJobNotFound) {
		slog.Debug("cancel ignored for failed scan without a job", "scan_id", scan.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up job for scan %s: %w", scan.ID, err)
	}

	if job.Status != model.JobStatusWaiting && job.Status != model.JobStatusActive {
		slog.Debug("cancel ignored for finished scan", "scan_id", scan.ID, "job_status", string(job.Status))
		return nil
	}

	if job.Status == model.JobStatusWaiting {
		withdrawn, err := s.queue.Cancel(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("withdraw retry of scan %s: %w", scan.ID, err)
		}
		if withdrawn {
			if err := s.scans.Transition(ctx, scan.ID, model.ScanStatusCancelled, model.ScanUpdate{}); err != nil {
				return fmt.Errorf("cancel failed scan %s: %w", scan.ID, err)
			}
			slog.Info("pending retry cancelled", "scan_id", scan.ID, "job_id", job.ID)
			return nil
		}
		// Claimed between the lookup and the cancel.
	}

	if err := s.signal.RequestCancellation(ctx, job.Key, s.cfg.CancelTTL); err != nil {
		return fmt.Errorf("signal cancellation for scan %s: %w", scan.ID, err)
	}
	slog.Info("cancellation requested", "scan_id", scan.ID, "job_key", job.Key)
	return nil
}

// UpdateScanStatus transitions a scan and merges the given fields.
func (s *TriggerService) UpdateScanStatus(ctx context.Context, scanID string, status model.ScanStatus, update model.ScanUpdate) error {
	if err := s.scans.Transition(ctx, scanID, status, update); err != nil {
		return fmt.Errorf("update scan %s: %w", scanID, err)
	}
	return nil
}

// ResolveScope merges claims from changed documentation with claims mapped to
// the changed code files.
func (s *TriggerService) ResolveScope(ctx context.Context, repoID string, changedCodeFiles []string, docClaims []model.Claim, mapper driven.Mapper) ([]model.Claim, error) {
	return resolveScope(ctx, repoID, changedCodeFiles, docClaims, mapper, s.claims)
}

// resolveScope returns docClaims followed by the claims reverse-mapped from
// changedCodeFiles, without duplicates.
func resolveScope(ctx context.Context, repoID string, changedCodeFiles []string, docClaims []model.Claim, mapper driven.Mapper, claims driven.ClaimStore) ([]model.Claim, error) {
	scope := slices.Clone(docClaims)

	if len(changedCodeFiles) > 0 {
		mappings, err := mapper.FindClaimsByCodeFiles(ctx, repoID, changedCodeFiles)
		if err != nil {
			return nil, fmt.Errorf("find claims for changed code: %w", err)
		}

		ids := make([]string, 0, len(mappings))
		seen := make(map[string]struct{}, len(mappings))
		for _, m := range mappings {
			if _, dup := seen[m.ClaimID]; dup {
				continue
			}
			seen[m.ClaimID] = struct{}{}
			ids = append(ids, m.ClaimID)
		}

		if len(ids) > 0 {
			mapped, err := claims.GetByIDs(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("load mapped claims: %w", err)
			}
			scope = append(scope, mapped...)
		}
	}

	return Deduplicate(scope), nil
}

// admit creates the scan record. When limited, the rate-limit count and the
// insert run under one lock so concurrent triggers cannot overshoot the limit.
func (s *TriggerService) admit(ctx context.Context, run driven.NewScanRun, limited bool) (model.ScanRun, error) {
	if !limited {
		return s.scans.Create(ctx, run)
	}

	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	if err := s.checkRateLimit(ctx, run.RepoID); err != nil {
		return model.ScanRun{}, err
	}
	return s.scans.Create(ctx, run)
}

func (s *TriggerService) checkRateLimit(ctx context.Context, repoID string) error {
	count, err := s.scans.CountCreatedSince(ctx, repoID, s.now().Add(-s.cfg.RateWindow))
	if err != nil {
		return fmt.Errorf("check rate limit for %s: %w", repoID, err)
	}
	if count >= s.cfg.RateLimit {
		slog.Warn("scan rate limit reached", "repo", repoID, "count", count, "limit", s.cfg.RateLimit)
		return fmt.Errorf("%s: %d scans in %s: %w", repoID, count, s.cfg.RateWindow, ErrRateLimited)
	}
	return nil
}

// supersedeInFlight asks any queued or running job under key to stop. Errors
// are logged; the new scan is scheduled regardless.
func (s *TriggerService) supersedeInFlight(ctx context.Context, key string) {
	active, err := s.queue.IsActive(ctx, key)
	if err != nil {
		slog.Warn("in-flight job check failed", "job_key", key, "error", err)
		return
	}
	if !active {
		return
	}

	if err := s.signal.RequestCancellation(ctx, key, s.cfg.CancelTTL); err != nil {
		slog.Warn("cancellation request failed", "job_key", key, "error", err)
		return
	}
	slog.Info("superseding in-flight scan", "job_key", key)
}

// schedule enqueues the job, retrying transient failures with exponential
// backoff. A waiting job replaced by this one has its scan cancelled.
func (s *TriggerService) schedule(ctx context.Context, key string, kind model.JobKind, payload model.JobPayload) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.EnqueueBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	var result driven.EnqueueResult
	attempt := 0
	op := func() error {
		attempt++
		var err error
		result, err = s.queue.Enqueue(ctx, key, kind, payload, s.cfg.JobAttempts)
		if err != nil {
			slog.Warn("enqueue failed", "job_key", key, "attempt", attempt, "error", err)
		}
		return err
	}

	retries := uint64(s.cfg.EnqueueAttempts - 1)
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)); err != nil {
		slog.Error("scan left queued without a job", "scan_id", payload.ScanID, "job_key", key, "error", err)
		return fmt.Errorf("schedule %s after %d attempts: %w", key, attempt, err)
	}

	s.wake()

	if result.SupersededScanID != "" {
		err := s.scans.Transition(ctx, result.SupersededScanID, model.ScanStatusCancelled, model.ScanUpdate{})
		if err != nil {
			slog.Warn("cancel superseded scan failed", "scan_id", result.SupersededScanID, "error", err)
		} else {
			slog.Info("superseded queued scan cancelled", "scan_id", result.SupersededScanID, "job_key", key)
		}
	}

	return nil
}
