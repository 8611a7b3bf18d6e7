package httphandler

import (
	"errors"
	"net/http"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/driftwatch/internal/application"
)

// maxWebhookBody matches the payload cap GitHub applies to webhook deliveries.
const maxWebhookBody = 25 << 20

// GitHubWebhook receives GitHub deliveries. Pull request pushes schedule a PR
// scan; every other event is acknowledged and ignored. The response is sent
// as soon as the scan is queued.
func (h *Handler) GitHubWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	payload, err := gh.ValidatePayload(r, h.webhookSecret)
	if err != nil {
		h.logger.Warn("rejected webhook delivery", "delivery_id", gh.DeliveryID(r), "error", err)
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	eventType := gh.WebHookType(r)
	event, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		h.logger.Debug("unparsed webhook event", "event", eventType, "error", err)
		writeJSON(w, http.StatusOK, TriggerResponse{Status: "ignored"})
		return
	}

	switch e := event.(type) {
	case *gh.PingEvent:
		writeJSON(w, http.StatusOK, TriggerResponse{Status: "pong"})
	case *gh.PullRequestEvent:
		h.handlePullRequest(w, r, e)
	default:
		writeJSON(w, http.StatusOK, TriggerResponse{Status: "ignored"})
	}
}

func (h *Handler) handlePullRequest(w http.ResponseWriter, r *http.Request, e *gh.PullRequestEvent) {
	switch e.GetAction() {
	case "opened", "synchronize", "reopened":
	default:
		writeJSON(w, http.StatusOK, TriggerResponse{Status: "ignored"})
		return
	}

	repo := e.GetRepo().GetFullName()
	number := e.GetNumber()
	headSHA := e.GetPullRequest().GetHead().GetSHA()
	if repo == "" || number == 0 || headSHA == "" {
		writeError(w, http.StatusBadRequest, "pull request event is missing repository, number or head")
		return
	}

	deliveryID := gh.DeliveryID(r)
	scanID, err := h.trigger.EnqueuePRScan(r.Context(), repo, number, headSHA, e.GetInstallation().GetID(), deliveryID)
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			writeJSON(w, http.StatusAccepted, TriggerResponse{Status: "rate_limited"})
			return
		}
		h.logger.Error("failed to enqueue PR scan",
			"repo", repo,
			"pr", number,
			"delivery_id", deliveryID,
			"scan_id", scanID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "scan could not be scheduled")
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerResponse{Status: "queued", ScanID: scanID})
}
