// Package reasonclient is the caller side of the reasoner service. Reason
// calls go through a circuit breaker and a two-attempt retry; the other
// endpoints are plain single-attempt calls.
package reasonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
	"go.uber.org/zap"

	"dyad-reasoner/pkg/types"
)

const (
	DefaultBaseURL          = "http://localhost:5001"
	DefaultTimeout          = 8 * time.Second
	DefaultRetryDelay       = 500 * time.Millisecond
	DefaultMaxAttempts      = 2
	DefaultFailureThreshold = 3
	DefaultOpenDuration     = 60 * time.Second
)

type Config struct {
	BaseURL string
	Token   string

	Timeout          time.Duration
	RetryDelay       time.Duration
	MaxAttempts      int
	FailureThreshold int
	OpenDuration     time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
}

func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	switch {
	case c.RetryDelay == 0:
		c.RetryDelay = DefaultRetryDelay
	case c.RetryDelay < 0:
		c.RetryDelay = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = DefaultOpenDuration
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must be http(s), got %q", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL has no host: %q", c.BaseURL)
	}
	return nil
}

// Client is safe for concurrent use. The breaker is per instance.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *breaker
	logger     *zap.Logger
}

// ConfigFromEnv reads REASONER_BASE_URL, REASONER_TOKEN and
// REASONER_CLIENT_TIMEOUT (seconds).
func ConfigFromEnv() Config {
	cfg := Config{
		BaseURL: os.Getenv("REASONER_BASE_URL"),
		Token:   os.Getenv("REASONER_TOKEN"),
	}
	if v := os.Getenv("REASONER_CLIENT_TIMEOUT"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			cfg.Timeout = time.Duration(secs * float64(time.Second))
		}
	}
	return cfg.WithDefaults()
}

// New builds a client. A negative RetryDelay disables the pause between
// attempts.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		// Per-attempt timeouts come from contexts.
		hc = &http.Client{}
	}
	return &Client{
		cfg:        cfg,
		httpClient: hc,
		breaker:    newBreaker(cfg.FailureThreshold, cfg.OpenDuration, cfg.Now),
		logger:     logger.Named("reasonclient"),
	}, nil
}

// Reason posts req to /v1/reason through the breaker.
func (c *Client) Reason(ctx context.Context, req *types.ReasoningRequest) (*types.ReasoningResponse, error) {
	ok, fails := c.breaker.allow()
	if !ok {
		return nil, &Error{Kind: KindCircuitOpen, FailCount: fails, Err: ErrCircuitOpen}
	}

	body, err := json.Marshal(req)
	if err != nil {
		// Nothing was sent, so the breaker does not count it.
		return nil, &Error{
			Kind:      KindFailedAfterRetries,
			FailCount: fails,
			Err:       fmt.Errorf("marshal request: %w", err),
		}
	}

	var out types.ReasoningResponse
	attempts, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := c.newRequest(ctx, http.MethodPost, "/v1/reason", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}, &out)

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		fails, opened := c.breaker.failure()
		c.logger.Warn("reasoner call failed",
			zap.Int("attempts", attempts),
			zap.Int("fail_count", fails),
			zap.Bool("breaker_open", opened),
			zap.Error(err),
		)
		if opened {
			capitan.Error(ctx, BreakerOpened,
				BaseURLKey.Field(c.cfg.BaseURL),
				FailCountKey.Field(fails),
				OpenForMsKey.Field(int(c.cfg.OpenDuration.Milliseconds())),
				LastErrorKey.Field(err.Error()),
			)
		}
		return nil, &Error{Kind: KindFailedAfterRetries, FailCount: fails, Attempts: attempts, Err: err}
	}

	if c.breaker.success() {
		c.logger.Info("reasoner breaker closed")
		capitan.Info(ctx, BreakerClosed,
			BaseURLKey.Field(c.cfg.BaseURL),
			FailCountKey.Field(0),
		)
	}
	return &out, nil
}

// BreakerState exposes the failure count and the end of the open window.
func (c *Client) BreakerState() (failCount int, openUntil time.Time) {
	return c.breaker.state()
}

// Health always decodes the body: a degraded service answers 200 too.
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var out types.HealthResponse
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context) (*types.StatusResponse, error) {
	var out types.StatusResponse
	if err := c.get(ctx, "/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Models(ctx context.Context) (*types.ModelsResponse, error) {
	var out types.ModelsResponse
	if err := c.get(ctx, "/models", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CacheStats(ctx context.Context) (*types.CacheStats, error) {
	var out types.CacheStats
	if err := c.get(ctx, "/cache/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CacheClear(ctx context.Context) (*types.MessageResponse, error) {
	var out types.MessageResponse
	if err := c.single(ctx, http.MethodPost, "/cache/clear", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.single(ctx, http.MethodGet, path, out)
}

func (c *Client) single(ctx context.Context, method, path string, out any) error {
	err := c.attempt(ctx, c.cfg.Timeout, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, method, path, nil)
	}, out)
	var aerr *attemptError
	if errors.As(err, &aerr) {
		return aerr.err
	}
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set(types.TokenHeader, c.cfg.Token)
	}
	return req, nil
}
