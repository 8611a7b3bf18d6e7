package application

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ScanStore = (*ValidatingScanStore)(nil)

// allowedTransitions lists the lifecycle edges a ValidatingScanStore accepts.
// running to running covers a job resumed after the process stopped mid-scan.
var allowedTransitions = map[model.ScanStatus][]model.ScanStatus{
	model.ScanStatusQueued:    {model.ScanStatusRunning, model.ScanStatusCancelled},
	model.ScanStatusRunning:   {model.ScanStatusRunning, model.ScanStatusCompleted, model.ScanStatusFailed, model.ScanStatusCancelled},
	model.ScanStatusFailed:    {model.ScanStatusQueued, model.ScanStatusRunning, model.ScanStatusCancelled},
	model.ScanStatusCancelled: {model.ScanStatusQueued},
}

// ValidatingScanStore wraps a ScanStore and rejects status changes outside
// the scan lifecycle. The underlying store stays permissive so operators can
// still correct records directly.
type ValidatingScanStore struct {
	driven.ScanStore
}

// NewValidatingScanStore wraps inner.
func NewValidatingScanStore(inner driven.ScanStore) *ValidatingScanStore {
	return &ValidatingScanStore{ScanStore: inner}
}

// Transition returns driven.ErrInvalidTransition for an edge not in the
// lifecycle. The check and the write are not atomic.
func (s *ValidatingScanStore) Transition(ctx context.Context, scanID string, status model.ScanStatus, update model.ScanUpdate) error {
	current, err := s.ScanStore.Get(ctx, scanID)
	if err != nil {
		return err
	}

	if !transitionAllowed(current.Status, status) {
		return fmt.Errorf("scan %s %s -> %s: %w", scanID, current.Status, status, driven.ErrInvalidTransition)
	}

	return s.ScanStore.Transition(ctx, scanID, status, update)
}

func transitionAllowed(from, to model.ScanStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
