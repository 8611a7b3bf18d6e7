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

// FullScanScheduler schedules a full scan of one repository.
type FullScanScheduler interface {
	EnqueueFullScan(ctx context.Context, repoID string, installationID int64) (string, error)
}

// sweepRequest represents a manual sweep trigger.
type sweepRequest struct {
	done chan sweepResult
}

type sweepResult struct {
	enqueued int
	err      error
}

// SweepService periodically schedules a full scan of every watched
// repository. A repository whose previous full scan still has a job waiting or
// running is skipped for that round.
type SweepService struct {
	repoStore driven.RepoStore
	scans     driven.ScanStore
	queue     driven.JobQueue
	scheduler FullScanScheduler
	interval  time.Duration
	sweepCh   chan sweepRequest
}

// NewSweepService creates a new SweepService with all required dependencies.
func NewSweepService(
	repoStore driven.RepoStore,
	scans driven.ScanStore,
	queue driven.JobQueue,
	scheduler FullScanScheduler,
	interval time.Duration,
) *SweepService {
	return &SweepService{
		repoStore: repoStore,
		scans:     scans,
		queue:     queue,
		scheduler: scheduler,
		interval:  interval,
		sweepCh:   make(chan sweepRequest),
	}
}

// Start runs a sweep every interval and serves manual sweep requests. The
// first scheduled sweep happens one interval after start, so restarts do not
// trigger a burst of full scans. Start blocks until the context is canceled.
func (s *SweepService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep service stopped")
			return
		case <-ticker.C:
			if _, err := s.sweepAll(ctx); err != nil {
				slog.Error("sweep cycle failed", "error", err)
			}
		case req := <-s.sweepCh:
			n, err := s.sweepAll(ctx)
			req.done <- sweepResult{enqueued: n, err: err}
		}
	}
}

// SweepNow runs a sweep outside the schedule and reports how many full scans
// it enqueued. It blocks until the sweep completes or the context is canceled.
func (s *SweepService) SweepNow(ctx context.Context) (int, error) {
	req := sweepRequest{done: make(chan sweepResult, 1)}

	select {
	case s.sweepCh <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.enqueued, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// sweepAll enqueues a full scan for each watched repository.
func (s *SweepService) sweepAll(ctx context.Context) (int, error) {
	start := time.Now()

	repos, err := s.repoStore.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	var enqueued, skipped, sweepErrors int
	for _, repo := range repos {
		if ctx.Err() != nil {
			return enqueued, ctx.Err()
		}

		busy, err := s.hasActiveFullScan(ctx, repo.FullName)
		if err != nil {
			slog.Error("active scan check failed", "repo", repo.FullName, "error", err)
			sweepErrors++
			continue
		}
		if busy {
			skipped++
			continue
		}

		if _, err := s.scheduler.EnqueueFullScan(ctx, repo.FullName, repo.InstallationID); err != nil {
			slog.Error("full scan enqueue failed", "repo", repo.FullName, "error", err)
			sweepErrors++
			continue
		}
		enqueued++
	}

	slog.Info("sweep cycle complete",
		"repos", len(repos),
		"enqueued", enqueued,
		"skipped_busy", skipped,
		"errors", sweepErrors,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return enqueued, nil
}

// hasActiveFullScan reports whether a queued or running full scan of the
// repository still has a live job. A scan whose job is gone or finished is an
// orphan and does not block the sweep.
func (s *SweepService) hasActiveFullScan(ctx context.Context, repoID string) (bool, error) {
	active, err := s.scans.ListActive(ctx, repoID)
	if err != nil {
		return false, err
	}

	for _, run := range active {
		if run.TriggerType == model.TriggerPR {
			continue
		}

		job, err := s.queue.GetByScanID(ctx, run.ID)
		if errors.Is(err, driven.ErrJobNotFound) {
			slog.Warn("full scan has no job", "scan_id", run.ID, "repo", repoID, "status", string(run.Status))
			continue
		}
		if err != nil {
			return false, fmt.Errorf("look up job for scan %s: %w", run.ID, err)
		}

		if job.Status == model.JobStatusWaiting || job.Status == model.JobStatusActive {
			return true, nil
		}
	}

	return false, nil
}
