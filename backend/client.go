// Package backend is the HTTP client for the orchestration backend: the
// persisted run state query used as the detector's fallback channel and the
// resume command that carries a human decision back to a paused run.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/itsneelabh/hitlchat/core"
	"github.com/itsneelabh/hitlchat/hitl"
	"github.com/itsneelabh/hitlchat/resilience"
	"github.com/itsneelabh/hitlchat/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 64 << 10
)

// Client talks to the backend HTTP API. It implements hitl.RunStateQuerier
// and hitl.ResumeSubmitter and is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	userAgent  string
	logger     core.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The default is a traced client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger core.Logger) Option {
	return func(c *Client) {
		if logger == nil {
			return
		}
		c.logger = core.ComponentLogger(logger, "hitlchat/backend")
	}
}

// WithCircuitBreaker guards every request with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithRetry sets the retry policy of the state query. Resume submissions are
// never retried automatically.
func WithRetry(rc *resilience.RetryConfig) Option {
	return func(c *Client) {
		if rc != nil {
			c.retry = rc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q: %w", baseURL, core.ErrInvalidConfiguration)
	}

	c := &Client{
		baseURL:    u,
		httpClient: telemetry.NewTracedHTTPClient(nil, DefaultTimeout),
		retry:      resilience.DefaultRetryConfig(),
		userAgent:  "hitlchat",
		logger:     &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientFromConfig builds a client with the traced HTTP client, circuit
// breaker and retry policy described by cfg.
func NewClientFromConfig(cfg *core.Config, logger core.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil: %w", core.ErrMissingConfiguration)
	}

	timeout := cfg.Backend.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := []Option{
		WithHTTPClient(telemetry.NewTracedHTTPClient(nil, timeout)),
		WithRetry(resilience.RetryConfigFromCore(cfg.Resilience.Retry)),
		WithLogger(logger),
		WithUserAgent(cfg.Name),
	}

	if cfg.Resilience.CircuitBreaker.Enabled {
		cbConfig := resilience.FromCoreConfig("backend", cfg.Resilience.CircuitBreaker,
			core.ComponentLogger(logger, "hitlchat/resilience"))
		cbConfig.Metrics = resilience.NewTelemetryMetrics()
		cb, err := resilience.NewCircuitBreaker(cbConfig)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCircuitBreaker(cb))
	}

	return NewClient(cfg.Backend.BaseURL, opts...)
}

// QueryRunState fetches GET {base}/threads/{id}/state. Transient failures are
// retried; an open circuit fails fast.
func (c *Client) QueryRunState(ctx context.Context, scope hitl.Scope) (*hitl.RunState, error) {
	const op = "backend.QueryRunState"
	if scope.ConversationID == "" {
		return nil, &core.FrameworkError{Op: op, Kind: "backend", Err: core.ErrMissingConfiguration, Message: "conversation ID is required"}
	}

	var state hitl.RunState
	err := resilience.RetryWithCircuitBreaker(ctx, c.retry, c.breaker, func() error {
		state = hitl.RunState{}
		return c.do(ctx, http.MethodGet, c.threadURL(scope.ConversationID, "state"), scope.Credential, nil, &state)
	})
	if err != nil {
		return nil, &core.FrameworkError{Op: op, Kind: "backend", ID: scope.ConversationID, Err: err}
	}

	c.logger.DebugWithContext(ctx, "Run state fetched", map[string]interface{}{
		"operation":       "backend_query_state",
		"conversation_id": scope.ConversationID,
		"run_id":          state.RunID,
		"interrupts":      len(state.Candidates()),
	})
	return &state, nil
}

// SubmitResume sends POST {base}/threads/{id}/resume. It is attempted once.
func (c *Client) SubmitResume(ctx context.Context, scope hitl.Scope, req hitl.ResumeRequest) (*hitl.ResumeResult, error) {
	const op = "backend.SubmitResume"
	if scope.ConversationID == "" {
		return nil, &core.FrameworkError{Op: op, Kind: "backend", Err: core.ErrMissingConfiguration, Message: "conversation ID is required"}
	}

	var result hitl.ResumeResult
	call := func() error {
		return c.do(ctx, http.MethodPost, c.threadURL(scope.ConversationID, "resume"), scope.Credential, req, &result)
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		c.logger.WarnWithContext(ctx, "Resume request failed", map[string]interface{}{
			"operation":       "backend_resume",
			"conversation_id": scope.ConversationID,
			"interrupt_id":    req.InterruptID,
			"command_id":      req.CommandID,
			"error":           err.Error(),
		})
		return nil, &core.FrameworkError{Op: op, Kind: "backend", ID: scope.ConversationID, Err: err}
	}

	telemetry.AddSpanEvent(ctx, "hitl.resume.accepted",
		attribute.String("command_id", req.CommandID),
		attribute.String("run_id", result.RunID),
		attribute.String("status", result.Status),
	)
	return &result, nil
}

func (c *Client) threadURL(conversationID, action string) string {
	u := *c.baseURL
	raw := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/threads/" + conversationID + "/" + action
	u.RawPath = raw + "/threads/" + url.PathEscape(conversationID) + "/" + action
	return u.String()
}

func (c *Client) do(ctx context.Context, method, target, credential string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	// NewRequestWithContext carries the span so the traced transport propagates it
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", method, req.URL.Path, ctxErr)
		}
		return fmt.Errorf("%s %s: %v: %w", method, req.URL.Path, err, core.ErrConnectionFailed)
	}
	defer func() { _ = resp.Body.Close() }() // Error intentionally ignored in cleanup

	if resp.StatusCode >= 400 {
		return newAPIError(method, req.URL.Path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s %s response: %w", method, req.URL.Path, err)
	}
	return nil
}
