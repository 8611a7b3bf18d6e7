package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// JobHandler executes one claimed job. A nil error completes the job.
type JobHandler interface {
	Process(ctx context.Context, job model.ScanJob) error
}

// signalPurger is implemented by cancellation signal stores that need expired
// entries removed explicitly.
type signalPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// WorkerConfig holds the worker pool tunables.
type WorkerConfig struct {
	Concurrency   int           // Jobs processed at once.
	PollInterval  time.Duration // Base delay between polls of an empty queue.
	RetryBackoff  time.Duration // Delay before the first retry of a failed job; doubles per attempt.
	MaxRetryDelay time.Duration
	PurgeInterval time.Duration // How often expired cancellation signals are removed.
}

// DefaultWorkerConfig returns the production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:   4,
		PollInterval:  2 * time.Second,
		RetryBackoff:  30 * time.Second,
		MaxRetryDelay: 30 * time.Minute,
		PurgeInterval: 10 * time.Minute,
	}
}

// WorkerPool claims jobs from the queue and hands them to a JobHandler. It
// clears the cancellation signal of each job as it is claimed, so a signal
// only ever targets work that was already running when it was set.
type WorkerPool struct {
	queue   driven.JobQueue
	signal  driven.CancelSignal
	handler JobHandler
	cfg     WorkerConfig
	now     func() time.Time
	wake    chan struct{}
}

// NewWorkerPool creates a WorkerPool. Zero-valued config fields fall back to
// DefaultWorkerConfig.
func NewWorkerPool(queue driven.JobQueue, signal driven.CancelSignal, handler JobHandler, cfg WorkerConfig) *WorkerPool {
	def := DefaultWorkerConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = def.PurgeInterval
	}

	return &WorkerPool{
		queue:   queue,
		signal:  signal,
		handler: handler,
		cfg:     cfg,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Wake makes the dispatcher poll the queue now instead of waiting out its
// poll delay. It never blocks.
func (w *WorkerPool) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start returns jobs stranded by a previous process to the queue, then runs
// the dispatch loop until the context is canceled and waits for in-flight jobs
// to return.
func (w *WorkerPool) Start(ctx context.Context) {
	if n, err := w.queue.ReleaseActive(ctx); err != nil {
		slog.Error("releasing stranded jobs failed", "error", err)
	} else if n > 0 {
		slog.Warn("stranded jobs returned to the queue", "count", n)
	}

	var running errgroup.Group
	slots := make(chan struct{}, w.cfg.Concurrency)

	purge := time.NewTicker(w.cfg.PurgeInterval)
	defer purge.Stop()

	poll := time.NewTimer(0)
	defer poll.Stop()

	var lastClaim time.Time

	slog.Info("worker pool started", "concurrency", w.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			_ = running.Wait()
			slog.Info("worker pool stopped")
			return
		case <-purge.C:
			w.purgeSignals(ctx)
		case <-w.wake:
			if w.fill(ctx, &running, slots) > 0 {
				lastClaim = w.now()
				poll.Reset(w.cfg.PollInterval)
			}
		case <-poll.C:
			if w.fill(ctx, &running, slots) > 0 {
				lastClaim = w.now()
			}
			poll.Reset(pollDelay(w.cfg.PollInterval, classifyQueue(lastClaim, w.now())))
		}
	}
}

// fill claims jobs until the queue is empty or every slot is taken. It
// returns the number of jobs claimed.
func (w *WorkerPool) fill(ctx context.Context, running *errgroup.Group, slots chan struct{}) int {
	claimed := 0

	for ctx.Err() == nil {
		select {
		case slots <- struct{}{}:
		default:
			return claimed
		}

		job, found, err := w.queue.ClaimNext(ctx)
		if err != nil || !found {
			<-slots
			if err != nil && ctx.Err() == nil {
				slog.Error("claim job failed", "error", err)
			}
			return claimed
		}
		claimed++

		if err := w.signal.Clear(ctx, job.Key); err != nil {
			slog.Warn("clearing stale cancellation failed", "job_key", job.Key, "error", err)
		}

		running.Go(func() error {
			defer func() { <-slots }()
			w.execute(ctx, job)
			return nil
		})
	}

	return claimed
}

// execute runs one job and records its outcome on the queue. Outcome writes
// use a context detached from shutdown so an interrupted job is released.
func (w *WorkerPool) execute(ctx context.Context, job model.ScanJob) {
	start := time.Now()
	slog.Debug("job claimed", "job_id", job.ID, "job_key", job.Key, "kind", string(job.Kind), "attempt", job.Attempts)

	err := w.handler.Process(ctx, job)
	bg := context.WithoutCancel(ctx)

	if err == nil {
		if cerr := w.queue.Complete(bg, job.ID); cerr != nil {
			slog.Error("marking job complete failed", "job_id", job.ID, "error", cerr)
			return
		}
		slog.Debug("job completed", "job_id", job.ID, "duration", time.Since(start).Round(time.Millisecond))
		return
	}

	retryAt := w.now().Add(w.retryDelay(job.Attempts))
	if ctx.Err() != nil {
		retryAt = w.now()
		slog.Info("job interrupted by shutdown", "job_id", job.ID, "job_key", job.Key)
	}

	retrying, ferr := w.queue.Fail(bg, job.ID, err, retryAt)
	if ferr != nil {
		slog.Error("recording job failure failed", "job_id", job.ID, "error", ferr, "cause", err)
		return
	}

	if retrying {
		slog.Warn("job failed, will retry",
			"job_id", job.ID,
			"job_key", job.Key,
			"attempt", job.Attempts,
			"retry_at", retryAt,
			"error", err,
		)
		return
	}
	slog.Error("job failed permanently", "job_id", job.ID, "job_key", job.Key, "attempts", job.Attempts, "error", err)
}

// retryDelay is the exponential delay before retry n of a job (1-based).
func (w *WorkerPool) retryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.cfg.RetryBackoff
	policy.MaxInterval = w.cfg.MaxRetryDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()

	d := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = policy.NextBackOff()
	}
	return d
}

func (w *WorkerPool) purgeSignals(ctx context.Context) {
	p, ok := w.signal.(signalPurger)
	if !ok {
		return
	}
	n, err := p.PurgeExpired(ctx)
	if err != nil {
		slog.Warn("purging expired cancellations failed", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("expired cancellations purged", "count", n)
	}
}
