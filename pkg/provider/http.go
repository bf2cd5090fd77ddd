package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 4 << 20

// Config holds the HTTP provider configuration.
type Config struct {
	// URL of the generation endpoint (REQUIRED)
	URL string `yaml:"url"`

	// APIKey is sent as a bearer token
	APIKey string `yaml:"api_key"`

	// Model is passed through to the provider
	Model string `yaml:"model"`

	// UserAgent header sent with every request
	UserAgent string `yaml:"user_agent"`

	// Timeout for a single HTTP request
	Timeout time.Duration `yaml:"timeout"`

	// RatePerSecond and Burst configure the client-side throttle.
	// RatePerSecond <= 0 disables throttling.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	// MaxTokens is the default output allowance for prompts that set none
	MaxTokens int `yaml:"max_tokens"`
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Model:         "default",
		UserAgent:     "learnforge/1.0",
		Timeout:       30 * time.Second,
		RatePerSecond: 5,
		Burst:         5,
		MaxTokens:     800,
	}
}

type generateRequest struct {
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Model     string `json:"model,omitempty"`
}

type generateResponse struct {
	Content string `json:"content"`
}

// LimitTracker follows the request budget the provider advertises in its
// response headers.
type LimitTracker interface {
	// ShouldAllowRequest reports whether a call may proceed; when it may
	// not, the duration is how long until the budget resets.
	ShouldAllowRequest(ctx context.Context) (bool, time.Duration, error)

	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// Option configures an HTTPProvider.
type Option func(*HTTPProvider)

// WithLimitTracker gates calls on the provider's advertised budget.
func WithLimitTracker(t LimitTracker) Option {
	return func(p *HTTPProvider) {
		p.tracker = t
	}
}

// HTTPProvider calls a JSON generation endpoint.
//
// Request:  POST {URL} {"system": ..., "prompt": ..., "max_tokens": ..., "model": ...}
// Response: 200 {"content": "..."}
type HTTPProvider struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	tracker    LimitTracker
	config     Config
	logger     zerolog.Logger
}

// NewHTTP creates a new HTTP provider.
func NewHTTP(cfg Config, logger zerolog.Logger, opts ...Option) (*HTTPProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("provider url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	p := &HTTPProvider{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Generate sends the prompt and returns the generated content.
func (p *HTTPProvider) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	if err := p.checkBudget(ctx); err != nil {
		return "", err
	}

	startTime := time.Now()
	defer func() {
		ProviderRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}
	body, err := json.Marshal(generateRequest{
		System:    prompt.System,
		Prompt:    prompt.User,
		MaxTokens: maxTokens,
		Model:     p.config.Model,
	})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", p.fail(&Error{
			Class:   ClassNetwork,
			Message: "request failed",
			Err:     err,
		})
	}
	defer resp.Body.Close()

	if p.tracker != nil {
		if err := p.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to record upstream rate limit")
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", p.fail(&Error{
			Class:      ClassNetwork,
			StatusCode: resp.StatusCode,
			Message:    "read response",
			Err:        err,
		})
	}

	if resp.StatusCode >= 400 {
		return "", p.fail(&Error{
			Class:      classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    statusMessage(resp, data),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		})
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", p.fail(&Error{
			Class:      ClassUnavailable,
			StatusCode: resp.StatusCode,
			Message:    "malformed response",
			Err:        err,
		})
	}
	if strings.TrimSpace(out.Content) == "" {
		return "", p.fail(&Error{
			Class:      ClassUnavailable,
			StatusCode: resp.StatusCode,
			Message:    "empty content",
		})
	}

	ProviderRequests.WithLabelValues("ok").Inc()
	p.logger.Debug().
		Int("status", resp.StatusCode).
		Int("content_length", len(out.Content)).
		Dur("duration", time.Since(startTime)).
		Msg("Provider request succeeded")

	return out.Content, nil
}

// wait blocks on the client-side throttle.
func (p *HTTPProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}

	start := time.Now()
	err := p.limiter.Wait(ctx)
	ProviderThrottleWait.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The limiter refuses waits that would outlive the deadline.
		return p.fail(&Error{
			Class:   ClassRateLimited,
			Message: "client-side throttle",
			Err:     err,
		})
	}
	return nil
}

// checkBudget refuses the call while the advertised budget is critical.
// A tracker failure lets the call through.
func (p *HTTPProvider) checkBudget(ctx context.Context) error {
	if p.tracker == nil {
		return nil
	}
	allowed, resetIn, err := p.tracker.ShouldAllowRequest(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn().Err(err).Msg("Upstream budget check failed")
		return nil
	}
	if allowed {
		return nil
	}
	return p.fail(&Error{
		Class:      ClassRateLimited,
		Message:    "upstream budget exhausted",
		RetryAfter: resetIn,
	})
}

func (p *HTTPProvider) fail(e *Error) error {
	ProviderRequests.WithLabelValues(string(e.Class)).Inc()

	evt := p.logger.Warn()
	if !e.Class.Retryable() {
		evt = p.logger.Error()
	}
	evt.Err(e.Err).
		Int("status", e.StatusCode).
		Str("error_class", string(e.Class)).
		Dur("retry_after", e.RetryAfter).
		Msg("Provider request failed")
	return e
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (p *HTTPProvider) SetHTTPClient(client *http.Client) {
	p.httpClient = client
}

// classifyStatus maps an HTTP error status to an error class.
func classifyStatus(status int) ErrorClass {
	switch status {
	case http.StatusTooManyRequests:
		return ClassRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassUnauthorized
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return ClassInvalidInput
	}
	// 5xx and any other 4xx are treated as transient.
	return ClassUnavailable
}

func statusMessage(resp *http.Response, body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return resp.Status
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

var _ Provider = (*HTTPProvider)(nil)
