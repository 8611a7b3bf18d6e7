package model

import "time"

// ScanStatus represents the lifecycle state of a scan run.
type ScanStatus string

const (
	ScanStatusQueued    ScanStatus = "queued"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// IsTerminal reports whether no worker will touch a scan in this state again.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed || s == ScanStatusCancelled
}

// IsActive reports whether the scan is waiting for or occupying a worker.
func (s ScanStatus) IsActive() bool {
	return s == ScanStatusQueued || s == ScanStatusRunning
}

// TriggerType identifies what caused a scan to be scheduled.
type TriggerType string

const (
	TriggerPR        TriggerType = "pr"
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
)

// ScanRun is the durable record of one orchestrated scan attempt.
type ScanRun struct {
	ID            string
	RepoID        string // Repository full name ("owner/repo").
	TriggerType   TriggerType
	TriggerRef    string // PR number for PR scans, empty otherwise.
	CommitSHA     string
	Status        ScanStatus
	Stats         ScanStats
	CommentPosted bool
	CheckRunID    *int64
	CreatedAt     time.Time
	StartedAt     *time.Time // Set on transition to running.
	CompletedAt   *time.Time // Set on transition to a terminal status.
}

// ScanStats holds the aggregate counters written at terminal transitions.
type ScanStats struct {
	ClaimsChecked   int
	ClaimsDrifted   int
	ClaimsVerified  int
	ClaimsUncertain int
	TotalTokenCost  int
	TotalDurationMs int64
}

// ScanUpdate carries the optional fields merged into a ScanRun by a status
// transition. Nil fields are left untouched.
type ScanUpdate struct {
	Stats         *ScanStats
	CommentPosted *bool
	CheckRunID    *int64
	CommitSHA     string // Empty leaves the recorded revision unchanged.
}
