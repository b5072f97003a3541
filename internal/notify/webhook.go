package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"leadhub_backend/platform/config"
	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
)

// AssignmentNotification is the payload posted to the notifier collaborator.
type AssignmentNotification struct {
	LeadID         uuid.UUID `json:"leadId"`
	AssignedTo     uuid.UUID `json:"assignedTo"`
	OrganizationID uuid.UUID `json:"organizationId"`
	UnitKey        string    `json:"unitKey"`
	LeadSummary    string    `json:"leadSummary"`
}

// WebhookNotifier posts assignment notifications to the external notifier.
type WebhookNotifier struct {
	httpClient *http.Client
	url        string
	log        *logger.Logger
}

// NewWebhookNotifier creates a notifier client. Returns nil when no notifier
// URL is configured; callers treat a nil notifier as disabled.
func NewWebhookNotifier(cfg config.NotifierConfig, log *logger.Logger) *WebhookNotifier {
	if !cfg.IsNotifierEnabled() {
		return nil
	}
	return &WebhookNotifier{
		httpClient: &http.Client{Timeout: cfg.GetNotifierTimeout()},
		url:        strings.TrimRight(cfg.GetNotifierURL(), "/"),
		log:        log,
	}
}

// Notify posts one assignment notification.
func (n *WebhookNotifier) Notify(ctx context.Context, notification AssignmentNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.log.Error("notifier request failed", "lead_id", notification.LeadID, "error", err)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.log.Error("notifier upstream error", "lead_id", notification.LeadID, "status", resp.StatusCode)
		return fmt.Errorf("upstream error: status %d", resp.StatusCode)
	}
	return nil
}
