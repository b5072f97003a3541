// Package leadstore provides the HTTP client for the external lead store,
// the durable system of record for leads. A lead must exist there before any
// source record or assignment is written locally.
package leadstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"leadhub_backend/platform/apperr"
	"leadhub_backend/platform/config"
	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
)

// CreateLeadRequest is the payload for creating a lead in the store.
type CreateLeadRequest struct {
	OrganizationID uuid.UUID      `json:"organizationId"`
	Name           string         `json:"name,omitempty"`
	Email          string         `json:"email,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	Source         string         `json:"source"`
	CustomFields   map[string]any `json:"customFields,omitempty"`
}

// AssignLeadRequest records an assignment on an existing lead.
type AssignLeadRequest struct {
	AssigneeID uuid.UUID `json:"assigneeId"`
}

type createLeadResponse struct {
	LeadID uuid.UUID `json:"leadId"`
}

// Client is the HTTP client for the lead store API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *logger.Logger
}

// New creates a new lead store client.
func New(cfg config.LeadStoreConfig, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.GetLeadStoreTimeout()},
		baseURL:    strings.TrimRight(cfg.GetLeadStoreURL(), "/"),
		apiKey:     cfg.GetLeadStoreAPIKey(),
		log:        log,
	}
}

// CreateLead creates a lead in the external store and returns its id.
// Any failure maps to an unavailable error so callers can fail the whole
// capture attempt: nothing downstream may run without a durable lead.
func (c *Client) CreateLead(ctx context.Context, req CreateLeadRequest) (uuid.UUID, error) {
	var resp createLeadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/leads", req, &resp); err != nil {
		return uuid.Nil, apperr.Wrap(apperr.KindUnavailable, "lead store unavailable", err)
	}
	if resp.LeadID == uuid.Nil {
		return uuid.Nil, apperr.Unavailable("lead store returned no lead id")
	}
	return resp.LeadID, nil
}

// AssignLead records the assignee on an existing lead. Failures are returned
// for the caller to log; the assignment itself already happened locally.
func (c *Client) AssignLead(ctx context.Context, leadID uuid.UUID, req AssignLeadRequest) error {
	path := fmt.Sprintf("/v1/leads/%s/assignment", leadID)
	if err := c.doJSON(ctx, http.MethodPut, path, req, nil); err != nil {
		return fmt.Errorf("record assignment: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("lead store request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug("lead store request",
		"method", method, "path", path,
		"status", resp.StatusCode, "latency_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("lead store upstream error", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("upstream error: status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
