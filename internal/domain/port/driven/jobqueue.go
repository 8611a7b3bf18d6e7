package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
)

// ErrJobNotFound indicates the requested job does not exist.
var ErrJobNotFound = errors.New("job not found")

// EnqueueResult describes what scheduling a job did to the queue.
type EnqueueResult struct {
	JobID string
	// SupersededScanID is the scan of a waiting job with the same key that was
	// replaced by this one. Empty when nothing was superseded.
	SupersededScanID string
}

// JobQueue is a durable work queue with at most one active job per dedup key.
type JobQueue interface {
	// Enqueue adds a waiting job. A PR scan job supersedes any job still
	// waiting under the same key; full scan jobs never supersede.
	Enqueue(ctx context.Context, key string, kind model.JobKind, payload model.JobPayload, maxAttempts int) (EnqueueResult, error)
	// IsActive reports whether a job with the key is waiting or running.
	IsActive(ctx context.Context, key string) (bool, error)
	// ClaimNext marks the oldest available job whose key has no running job as
	// active. found is false when nothing is claimable.
	ClaimNext(ctx context.Context) (job model.ScanJob, found bool, err error)
	Complete(ctx context.Context, jobID string) error
	// Fail records the error. The job returns to waiting until retryAt while
	// attempts remain; otherwise it becomes failed.
	Fail(ctx context.Context, jobID string, cause error, retryAt time.Time) (retrying bool, err error)
	GetByScanID(ctx context.Context, scanID string) (model.ScanJob, error)
	// Cancel withdraws a waiting job. cancelled is false when the job is no
	// longer waiting.
	Cancel(ctx context.Context, jobID string) (cancelled bool, err error)
	// ReleaseActive returns every active job to waiting. It is called once at
	// startup, when no job of this process can still be running.
	ReleaseActive(ctx context.Context) (released int, err error)
}
