// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
)

// Sentinel errors returned by ScanStore implementations.
var (
	// ErrScanNotFound indicates the requested scan run does not exist.
	ErrScanNotFound = errors.New("scan run not found")

	// ErrInvalidTransition is returned by validating stores when a status
	// change is outside the scan lifecycle.
	ErrInvalidTransition = errors.New("invalid scan status transition")
)

// NewScanRun is the input to ScanStore.Create.
type NewScanRun struct {
	RepoID      string
	TriggerType model.TriggerType
	TriggerRef  string
	CommitSHA   string
}

// ScanStore defines the driven port for scan run persistence.
// Transition performs no lifecycle validation; any status may follow any other.
type ScanStore interface {
	// Create inserts a queued scan run with zeroed counters.
	Create(ctx context.Context, run NewScanRun) (model.ScanRun, error)
	// Transition sets the status, maintains started_at/completed_at, and merges
	// any fields present in update.
	Transition(ctx context.Context, scanID string, status model.ScanStatus, update model.ScanUpdate) error
	// Get returns ErrScanNotFound if the scan does not exist.
	Get(ctx context.Context, scanID string) (model.ScanRun, error)
	// ListActive returns queued and running scans for the repository, newest first.
	ListActive(ctx context.Context, repoID string) ([]model.ScanRun, error)
	// CountCreatedSince counts scans created for the repository at or after since.
	CountCreatedSince(ctx context.Context, repoID string, since time.Time) (int, error)
}
