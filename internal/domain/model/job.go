package model

import (
	"fmt"
	"strconv"
	"time"
)

// JobKind selects which processor a queued job is routed to.
type JobKind string

const (
	JobKindPRScan   JobKind = "pr-scan"
	JobKindFullScan JobKind = "full-scan"
)

// JobStatus is the queue-level state of a scan job.
type JobStatus string

const (
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusActive     JobStatus = "active"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusSuperseded JobStatus = "superseded"
)

// ScanJob is a unit of scheduled work delivered to a queue worker.
type ScanJob struct {
	ID          string
	Key         string // Dedup key; at most one active job per key.
	Kind        JobKind
	Payload     JobPayload
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	LastError   string
	AvailableAt time.Time
	CreatedAt   time.Time
}

// JobPayload is the data a processor needs to execute a scan.
type JobPayload struct {
	ScanID         string `json:"scan_id"`
	RepoID         string `json:"repo_id"`
	PRNumber       int    `json:"pr_number,omitempty"`
	HeadSHA        string `json:"head_sha,omitempty"`
	InstallationID int64  `json:"installation_id,omitempty"`
	DeliveryID     string `json:"delivery_id,omitempty"`
}

// PRScanJobKey returns the dedup key for a pull request scan.
func PRScanJobKey(repoID string, prNumber int) string {
	return fmt.Sprintf("pr-scan-%s-%d", repoID, prNumber)
}

// FullScanJobKey returns the dedup key for a full scan created at the given
// time. The timestamp has the microsecond resolution scan records are stored
// with, so the key derived from a loaded record matches the scheduled one.
func FullScanJobKey(repoID string, createdAt time.Time) string {
	return fmt.Sprintf("full-scan-%s-%d", repoID, createdAt.UnixMicro())
}

// JobKeyForScan derives the dedup key that was used to schedule the scan.
func JobKeyForScan(scan ScanRun) (string, error) {
	switch scan.TriggerType {
	case TriggerPR:
		prNumber, err := strconv.Atoi(scan.TriggerRef)
		if err != nil {
			return "", fmt.Errorf("scan %s has invalid PR reference %q: %w", scan.ID, scan.TriggerRef, err)
		}
		return PRScanJobKey(scan.RepoID, prNumber), nil
	case TriggerScheduled, TriggerManual:
		return FullScanJobKey(scan.RepoID, scan.CreatedAt), nil
	default:
		return "", fmt.Errorf("scan %s has unknown trigger type %q", scan.ID, scan.TriggerType)
	}
}
