// Package httphandler is the HTTP driving adapter: the GitHub webhook
// receiver and the scan and repository REST API.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/driftwatch/internal/application"
	"github.com/ericfisherdev/driftwatch/internal/domain/model"
	"github.com/ericfisherdev/driftwatch/internal/domain/port/driven"
)

// ScanTrigger is the subset of the trigger service the API drives.
type ScanTrigger interface {
	EnqueuePRScan(ctx context.Context, repoID string, prNumber int, headSHA string, installationID int64, deliveryID string) (string, error)
	EnqueueManualScan(ctx context.Context, repoID string, installationID int64) (string, error)
	CancelScan(ctx context.Context, scanID string) error
}

// Sweeper runs an unscheduled full-scan sweep.
type Sweeper interface {
	SweepNow(ctx context.Context) (int, error)
}

// Handler is the HTTP driving adapter that serves the webhook and REST API.
type Handler struct {
	trigger       ScanTrigger
	sweeper       Sweeper
	scans         driven.ScanStore
	findings      driven.FindingStore
	repoStore     driven.RepoStore
	webhookSecret []byte
	logger        *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. sweeper may be
// nil, in which case the sweep endpoint reports 503. An empty webhookSecret
// disables signature checks and is meant for local development only.
func NewHandler(
	trigger ScanTrigger,
	sweeper Sweeper,
	scans driven.ScanStore,
	findings driven.FindingStore,
	repoStore driven.RepoStore,
	webhookSecret string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		trigger:       trigger,
		sweeper:       sweeper,
		scans:         scans,
		findings:      findings,
		repoStore:     repoStore,
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/webhooks/github", h.GitHubWebhook)

	mux.HandleFunc("GET /api/v1/repos", h.ListRepos)
	mux.HandleFunc("POST /api/v1/repos", h.AddRepo)
	mux.HandleFunc("DELETE /api/v1/repos/{owner}/{repo}", h.RemoveRepo)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/scans", h.TriggerScan)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/scans/active", h.ListActiveScans)

	mux.HandleFunc("GET /api/v1/scans/{id}", h.GetScan)
	mux.HandleFunc("POST /api/v1/scans/{id}/cancel", h.CancelScan)
	mux.HandleFunc("GET /api/v1/scans/{id}/findings", h.ListFindings)

	mux.HandleFunc("POST /api/v1/sweep", h.Sweep)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// TriggerScan schedules a manual full scan of a watched repository.
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	repo, err := h.repoStore.GetByFullName(r.Context(), fullName)
	if err != nil {
		h.logger.Error("failed to look up repo", "repo", fullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if repo == nil {
		writeError(w, http.StatusNotFound, "repository not found")
		return
	}

	scanID, err := h.trigger.EnqueueManualScan(r.Context(), repo.FullName, repo.InstallationID)
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, "scan rate limit exceeded")
			return
		}
		h.logger.Error("failed to enqueue manual scan", "repo", fullName, "scan_id", scanID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "scan could not be scheduled")
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerResponse{Status: "queued", ScanID: scanID})
}

// ListActiveScans returns queued and running scans for a repository.
func (h *Handler) ListActiveScans(w http.ResponseWriter, r *http.Request) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	runs, err := h.scans.ListActive(r.Context(), fullName)
	if err != nil {
		h.logger.Error("failed to list active scans", "repo", fullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]ScanResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toScanResponse(run))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetScan returns a single scan run.
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.scans.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, driven.ErrScanNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		h.logger.Error("failed to get scan", "scan_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toScanResponse(run))
}

// CancelScan stops a queued scan or asks a running one to stop. The scan's
// final status is visible through GetScan once the worker observes it.
func (h *Handler) CancelScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.trigger.CancelScan(r.Context(), id); err != nil {
		if errors.Is(err, driven.ErrScanNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		h.logger.Error("failed to cancel scan", "scan_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerResponse{Status: "cancel_requested", ScanID: id})
}

// ListFindings returns the findings recorded for a completed scan.
func (h *Handler) ListFindings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.scans.Get(r.Context(), id); err != nil {
		if errors.Is(err, driven.ErrScanNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		h.logger.Error("failed to get scan", "scan_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	findings, err := h.findings.GetFindings(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list findings", "scan_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]FindingResponse, 0, len(findings))
	for _, f := range findings {
		resp = append(resp, toFindingResponse(f))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Sweep schedules a full scan of every watched repository now.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeps are disabled")
		return
	}

	n, err := h.sweeper.SweepNow(r.Context())
	if err != nil {
		h.logger.Error("manual sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, SweepResponse{Enqueued: n})
}

// ListRepos returns all watched repositories.
func (h *Handler) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.repoStore.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list repos", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RepoResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, toRepoResponse(repo))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddRepo adds a repository to the scheduled sweep.
func (h *Handler) AddRepo(w http.ResponseWriter, r *http.Request) {
	var req AddRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !isValidRepoName(req.FullName) {
		writeError(w, http.StatusBadRequest, "invalid repository name: expected owner/repo format")
		return
	}

	parts := strings.SplitN(req.FullName, "/", 2)
	repo := model.Repository{
		FullName:       req.FullName,
		Owner:          parts[0],
		Name:           parts[1],
		InstallationID: req.InstallationID,
		AddedAt:        time.Now().UTC(),
	}

	if err := h.repoStore.Add(r.Context(), repo); err != nil {
		if errors.Is(err, driven.ErrRepoAlreadyExists) {
			writeError(w, http.StatusConflict, "repository already exists")
			return
		}
		h.logger.Error("failed to add repo", "repo", req.FullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toRepoResponse(repo))
}

// RemoveRepo removes a repository from the scheduled sweep.
func (h *Handler) RemoveRepo(w http.ResponseWriter, r *http.Request) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	if err := h.repoStore.Remove(r.Context(), fullName); err != nil {
		if errors.Is(err, driven.ErrRepoNotFound) {
			writeError(w, http.StatusNotFound, "repository not found")
			return
		}
		h.logger.Error("failed to remove repo", "repo", fullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// isValidRepoName validates that name is in owner/repo format where each part
// contains only alphanumeric characters, hyphens, dots, or underscores.
func isValidRepoName(name string) bool {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) != 2 {
		return false
	}

	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, ch := range part {
			if !isValidRepoChar(ch) {
				return false
			}
		}
	}

	return true
}

// isValidRepoChar returns true if the rune is allowed in a repository owner or name.
func isValidRepoChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '.' || ch == '_'
}
