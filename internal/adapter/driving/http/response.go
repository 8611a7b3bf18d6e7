package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/driftwatch/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// ScanResponse is the JSON representation of a scan run.
type ScanResponse struct {
	ID            string        `json:"id"`
	Repository    string        `json:"repository"`
	TriggerType   string        `json:"trigger_type"`
	TriggerRef    string        `json:"trigger_ref,omitempty"`
	CommitSHA     string        `json:"commit_sha,omitempty"`
	Status        string        `json:"status"`
	Stats         StatsResponse `json:"stats"`
	CommentPosted bool          `json:"comment_posted"`
	CheckRunID    *int64        `json:"check_run_id"`
	CreatedAt     string        `json:"created_at"`
	StartedAt     *string       `json:"started_at"`
	CompletedAt   *string       `json:"completed_at"`
}

// StatsResponse is the JSON representation of a scan's counters.
type StatsResponse struct {
	ClaimsChecked   int   `json:"claims_checked"`
	ClaimsDrifted   int   `json:"claims_drifted"`
	ClaimsVerified  int   `json:"claims_verified"`
	ClaimsUncertain int   `json:"claims_uncertain"`
	TotalTokenCost  int   `json:"total_token_cost"`
	TotalDurationMs int64 `json:"total_duration_ms"`
}

// FindingResponse is the JSON representation of a drifted or uncertain claim.
type FindingResponse struct {
	ClaimID    string `json:"claim_id"`
	SourceFile string `json:"source_file"`
	LineNumber int    `json:"line_number"`
	ClaimText  string `json:"claim_text"`
	Verdict    string `json:"verdict"`
	Reasoning  string `json:"reasoning"`
}

// TriggerResponse is returned by endpoints that schedule scans.
type TriggerResponse struct {
	Status string `json:"status"`
	ScanID string `json:"scan_id,omitempty"`
}

// SweepResponse reports the result of a manual sweep.
type SweepResponse struct {
	Enqueued int `json:"enqueued"`
}

// RepoResponse is the JSON representation of a watched repository.
type RepoResponse struct {
	FullName       string `json:"full_name"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	InstallationID int64  `json:"installation_id"`
	AddedAt        string `json:"added_at"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// AddRepoRequest is the JSON body for the add repository endpoint.
type AddRepoRequest struct {
	FullName       string `json:"full_name"`
	InstallationID int64  `json:"installation_id"`
}

// toScanResponse converts a domain ScanRun to its JSON response representation.
func toScanResponse(run model.ScanRun) ScanResponse {
	return ScanResponse{
		ID:          run.ID,
		Repository:  run.RepoID,
		TriggerType: string(run.TriggerType),
		TriggerRef:  run.TriggerRef,
		CommitSHA:   run.CommitSHA,
		Status:      string(run.Status),
		Stats: StatsResponse{
			ClaimsChecked:   run.Stats.ClaimsChecked,
			ClaimsDrifted:   run.Stats.ClaimsDrifted,
			ClaimsVerified:  run.Stats.ClaimsVerified,
			ClaimsUncertain: run.Stats.ClaimsUncertain,
			TotalTokenCost:  run.Stats.TotalTokenCost,
			TotalDurationMs: run.Stats.TotalDurationMs,
		},
		CommentPosted: run.CommentPosted,
		CheckRunID:    run.CheckRunID,
		CreatedAt:     run.CreatedAt.UTC().Format(time.RFC3339),
		StartedAt:     formatOptional(run.StartedAt),
		CompletedAt:   formatOptional(run.CompletedAt),
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// toFindingResponse converts a domain Finding to its JSON response representation.
func toFindingResponse(f model.Finding) FindingResponse {
	return FindingResponse{
		ClaimID:    f.ClaimID,
		SourceFile: f.SourceFile,
		LineNumber: f.LineNumber,
		ClaimText:  f.ClaimText,
		Verdict:    string(f.Verdict),
		Reasoning:  f.Reasoning,
	}
}

// toRepoResponse converts a domain Repository to its JSON response representation.
func toRepoResponse(repo model.Repository) RepoResponse {
	return RepoResponse{
		FullName:       repo.FullName,
		Owner:          repo.Owner,
		Name:           repo.Name,
		InstallationID: repo.InstallationID,
		AddedAt:        repo.AddedAt.UTC().Format(time.RFC3339),
	}
}
