// Package orchestrator talks to the internal orchestrator and API gateway:
// fetching the desired-credential snapshot, posting heartbeats, and writing
// audit events. All three are plain HTTP, each with its own explicit
// timeout (spec.md §5).
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

const (
	credentialPollTimeout = 5 * time.Second
	heartbeatTimeout      = 10 * time.Second
	auditTimeout          = 10 * time.Second
)

// Client is the sidecar's single outbound connection to the orchestrator and
// API gateway.
type Client struct {
	httpClient     *http.Client
	apiGatewayURL  string
	orchestratorURL string
	internalAPIKey string
	logger         *slog.Logger
}

// New builds an orchestrator Client.
func New(apiGatewayURL, orchestratorURL, internalAPIKey string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:      &http.Client{},
		apiGatewayURL:   apiGatewayURL,
		orchestratorURL: orchestratorURL,
		internalAPIKey:  internalAPIKey,
		logger:          logger,
	}
}

// CredentialEntry is one row of the desired-credential snapshot, as returned
// by GET /internal/config/credentials.
type CredentialEntry struct {
	Name       string `json:"name"`
	PrivateKey string `json:"privateKey"`
	APIKey     string `json:"apiKey"`
	Active     bool   `json:"active"`
}

// CredentialSnapshot is the raw response shape: an optional legacy single
// credential plus a list of named entries (spec.md §4.5 step 2).
type CredentialSnapshot struct {
	Legacy  *CredentialEntry   `json:"legacy"`
	Entries []CredentialEntry  `json:"credentials"`
}

// FetchCredentials retrieves the desired-credential snapshot.
func (c *Client) FetchCredentials(ctx context.Context) (CredentialSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, credentialPollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiGatewayURL+"/internal/config/credentials", nil)
	if err != nil {
		return CredentialSnapshot{}, fmt.Errorf("orchestrator: building credentials request: %w", err)
	}
	req.Header.Set("X-Internal-API-Key", c.internalAPIKey)

	body, status, err := c.do(req)
	if err != nil {
		return CredentialSnapshot{}, err
	}
	if status < 200 || status >= 300 {
		return CredentialSnapshot{}, fmt.Errorf("orchestrator: credentials poll: status %d: %s", status, body)
	}

	var snap CredentialSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return CredentialSnapshot{}, fmt.Errorf("orchestrator: decoding credentials: %w", err)
	}
	return snap, nil
}

// SendHeartbeat posts one heartbeat event for a provider instance.
func (c *Client) SendHeartbeat(ctx context.Context, ev model.HeartbeatEvent) error {
	ctx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("orchestrator: marshalling heartbeat: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.orchestratorURL+"/inventory/heartbeat", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("orchestrator: building heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("orchestrator: heartbeat: status %d: %s", status, body)
	}
	return nil
}

// AuditEvent is one audit-log entry (spec.md §6).
type AuditEvent struct {
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Details      any    `json:"details"`
	Status       string `json:"status"`
}

// WriteAudit posts one audit event. Failures are logged, never surfaced to
// the caller — an audit-log outage must not interrupt a watchdog or launch
// path (mirrors how the teacher's background workers treat notification
// failures as non-fatal).
func (c *Client) WriteAudit(ctx context.Context, ev AuditEvent) {
	ctx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()

	raw, err := json.Marshal(ev)
	if err != nil {
		c.logger.Warn("orchestrator: failed to marshal audit event", "error", err, "action", ev.Action)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiGatewayURL+"/audit/internal/log", bytes.NewReader(raw))
	if err != nil {
		c.logger.Warn("orchestrator: failed to build audit request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-API-Key", c.internalAPIKey)

	body, status, err := c.do(req)
	if err != nil {
		c.logger.Warn("orchestrator: audit write failed", "error", err, "action", ev.Action)
		return
	}
	if status < 200 || status >= 300 {
		c.logger.Warn("orchestrator: audit write rejected", "status", status, "body", string(body), "action", ev.Action)
	}
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("orchestrator: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("orchestrator: reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}
