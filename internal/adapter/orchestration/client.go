// Package orchestration provides an HTTP client for the prompt enrichment and
// agent orchestration backends.
package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/metrics"
)

const (
	endpointEnrich      = "process_prompt"
	endpointOrchestrate = "orchestrate"
)

// Config holds the backend addresses and the per-call transport policy.
type Config struct {
	EnrichmentURL    string
	OrchestrationURL string
	Timeout          time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
}

// DefaultConfig mirrors the reference deployment: two ports on one host.
func DefaultConfig() Config {
	return Config{
		EnrichmentURL:    "http://localhost:8000",
		OrchestrationURL: "http://localhost:8001",
		Timeout:          120 * time.Second,
		MaxRetries:       3,
		RetryDelay:       time.Second,
	}
}

// Client is an HTTP client for the enrichment and orchestration endpoints.
// It is safe for concurrent use by independent sessions.
type Client struct {
	enrichURL      string
	orchestrateURL string
	httpClient     *http.Client
	maxRetries     int
	retryDelay     time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records call outcomes and retries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a new orchestration client.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		enrichURL:      strings.TrimSuffix(cfg.EnrichmentURL, "/"),
		orchestrateURL: strings.TrimSuffix(cfg.OrchestrationURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// orchestrateRequest is the orchestration body after enrichment.
type orchestrateRequest struct {
	domain.Request
	MCPACL *domain.MCPACL `json:"mcp_acl,omitempty"`
}

// ErrorResponse is the structured error body returned by the backends.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail any    `json:"detail"`
}

func (e ErrorResponse) message() string {
	if e.Error != "" {
		return e.Error
	}
	switch d := e.Detail.(type) {
	case string:
		return d
	case nil:
		return ""
	default:
		data, err := json.Marshal(d)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Submit sends req to the backend. Status checks and retries go straight to
// the orchestrator; fresh prompts are enriched first and the resulting
// planning structure is forwarded with the original fields.
func (c *Client) Submit(ctx context.Context, req domain.Request) (*domain.OrchestrationResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &domain.ValidationError{Field: "prompt", Message: "prompt is required"}
	}
	req = req.Normalized()
	log := c.logger.With(zap.String("session_id", req.SessionID))

	if req.Direct() {
		log.Debug("sending directly to orchestrator",
			zap.Bool("get_status", req.GetStatus),
			zap.Bool("is_retry", req.IsRetry))
		return c.Orchestrate(ctx, req, nil)
	}

	log.Debug("enriching prompt", zap.String("url", c.enrichURL+"/"+endpointEnrich))
	plan, err := c.Enrich(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Debug("prompt enriched", zap.Int("planned_actions", len(plan.Actions)))

	return c.Orchestrate(ctx, req, plan)
}

// Enrich calls POST /process_prompt and returns the planning structure.
func (c *Client) Enrich(ctx context.Context, req domain.Request) (*domain.MCPACL, error) {
	var resp struct {
		domain.EnrichmentResponse
		ErrorResponse
	}
	if err := c.post(ctx, endpointEnrich, c.enrichURL, req, &resp); err != nil {
		return nil, err
	}
	if resp.MCPACL == nil {
		msg := resp.message()
		if msg == "" {
			msg = "enrichment did not return required planning structure"
		}
		return nil, &domain.ProtocolError{Op: endpointEnrich, Message: msg}
	}
	return resp.MCPACL, nil
}

// Orchestrate calls POST /orchestrate, forwarding plan when it is non-nil.
func (c *Client) Orchestrate(ctx context.Context, req domain.Request, plan *domain.MCPACL) (*domain.OrchestrationResponse, error) {
	var resp domain.OrchestrationResponse
	body := orchestrateRequest{Request: req, MCPACL: plan}
	if err := c.post(ctx, endpointOrchestrate, c.orchestrateURL, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post sends one JSON request, retrying transient transport failures.
func (c *Client) post(ctx context.Context, endpoint, baseURL string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
	}
	url := baseURL + "/" + endpoint

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.BackendRetry(endpoint)
			c.logger.Warn("retrying backend call",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			if err := sleep(ctx, c.retryDelay); err != nil {
				lastErr = err
				break
			}
		}

		lastErr = c.do(ctx, endpoint, url, body, out)
		if lastErr == nil {
			break
		}
		var te *domain.TransportError
		if !errors.As(lastErr, &te) || !te.Retryable() || ctx.Err() != nil {
			break
		}
	}

	c.metrics.ObserveBackendCall(endpoint, lastErr, time.Since(start))
	if lastErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, endpoint, url string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &domain.TransportError{Op: endpoint, URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransportError{Op: endpoint, URL: url, StatusCode: 0, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		te := &domain.TransportError{Op: endpoint, URL: url, StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			te.Message = errResp.message()
		}
		if te.Message == "" {
			te.Err = fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, truncate(respBody, 256))
		}
		return te
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.ProtocolError{
			Op:      endpoint,
			Message: fmt.Sprintf("failed to decode response: %v", err),
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
