// Package action calls external pre-issue access token actions over HTTP and
// turns their responses into grant operations.
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-grants"
	"github.com/goliatone/go-print"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout          = 5 * time.Second
	DefaultMaxResponseBytes = 1 << 20
	DefaultRateLimit        = 50 // requests per second
)

// Invoker implements grants.ActionInvoker over HTTP POST.
type Invoker struct {
	httpClient       *http.Client
	logger           grants.Logger
	limiter          *rate.Limiter
	timeout          time.Duration
	maxResponseBytes int64
}

// Option configures the invoker
type Option func(*Invoker)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(i *Invoker) {
		if client != nil {
			i.httpClient = client
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger grants.Logger) Option {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithRateLimit caps outbound calls across all actions. A zero limit
// disables limiting.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(i *Invoker) {
		if limit <= 0 {
			i.limiter = nil
			return
		}
		i.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithDefaultTimeout is used for actions that do not set their own timeout
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(i *Invoker) {
		if timeout > 0 {
			i.timeout = timeout
		}
	}
}

// WithMaxResponseBytes bounds the response body read from an action
func WithMaxResponseBytes(n int64) Option {
	return func(i *Invoker) {
		if n > 0 {
			i.maxResponseBytes = n
		}
	}
}

// NewInvoker creates an action invoker
func NewInvoker(opts ...Option) *Invoker {
	i := &Invoker{
		httpClient:       &http.Client{},
		logger:           silentLogger{},
		limiter:          rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		timeout:          DefaultTimeout,
		maxResponseBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke posts the event to the action endpoint and returns the operations
// from a SUCCESS response. Transport failures, timeouts, and non 2xx
// answers are reported as action_execution_failed.
func (i *Invoker) Invoke(ctx context.Context, cfg grants.ActionConfig, event grants.ActionEvent) ([]grants.Operation, error) {
	if cfg.Endpoint == "" {
		return nil, grants.WrapError(grants.ErrActionExecutionFailed, nil, map[string]any{
			"action": cfg.ID,
			"reason": "action endpoint not configured",
		})
	}

	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, i.failure(cfg, err, nil)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = i.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return nil, i.failure(cfg, fmt.Errorf("rate limit wait: %w", err), nil)
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, i.failure(cfg, err, nil)
	}

	i.logger.Debug("invoking action %s: %v", cfg.ID, print.MaybePrettyJSON(event))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, i.failure(cfg, err, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if err := auth.Authenticate(req); err != nil {
		return nil, i.failure(cfg, err, nil)
	}

	start := time.Now()
	resp, err := i.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		meta := map[string]any{"elapsed": elapsed.String()}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			meta["reason"] = "timeout"
		}
		return nil, i.failure(cfg, err, meta)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxResponseBytes+1))
	if err != nil {
		return nil, i.failure(cfg, err, map[string]any{"elapsed": elapsed.String()})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		i.logger.Warn("action %s answered %d in %s", cfg.ID, resp.StatusCode, elapsed)
		return nil, i.failure(cfg, nil, map[string]any{
			"status":  resp.StatusCode,
			"elapsed": elapsed.String(),
		})
	}

	if int64(len(body)) > i.maxResponseBytes {
		return nil, grants.WrapError(grants.ErrInvalidActionResponse, nil, map[string]any{
			"action": cfg.ID,
			"reason": "response too large",
			"limit":  i.maxResponseBytes,
		})
	}

	ops, err := ParseResponse(body, cfg.MaxOperations)
	if err != nil {
		i.logger.Warn("action %s rejected: %v", cfg.ID, err)
		return nil, err
	}

	i.logger.Debug("action %s returned %d operations in %s", cfg.ID, len(ops), elapsed)
	return ops, nil
}

func (i *Invoker) failure(cfg grants.ActionConfig, err error, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["action"] = cfg.ID
	meta["endpoint"] = cfg.Endpoint
	i.logger.Error("action %s failed: %v", cfg.ID, err)
	return grants.WrapError(grants.ErrActionExecutionFailed, err, meta)
}

var _ grants.ActionInvoker = (*Invoker)(nil)

type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}
