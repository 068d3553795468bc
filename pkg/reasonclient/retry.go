package reasonclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"dyad-reasoner/pkg/types"
)

const maxResponseSize = 1 << 20

// attemptError carries whether a failed attempt is worth repeating.
type attemptError struct {
	err       error
	retryable bool
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// doWithRetry runs up to MaxAttempts attempts. Each attempt gets its own
// timeout: the first uses cfg.Timeout, later ones scale it by 1.5.
// Only timeouts, non-2xx statuses and connection errors are retried.
// Caller cancellation is returned unwrapped.
func (c *Client) doWithRetry(
	ctx context.Context,
	build func(ctx context.Context) (*http.Request, error),
	out any,
) (int, error) {
	var lastErr error
	timeout := c.cfg.Timeout

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		start := time.Now()
		err := c.attempt(ctx, timeout, build, out)
		c.logger.Debug("reasoner request attempt",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Duration("timeout", timeout),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}

		lastErr = err
		var aerr *attemptError
		if errors.As(err, &aerr) && !aerr.retryable {
			return attempt, aerr.err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
		timeout = scaleTimeout(timeout)
	}

	var aerr *attemptError
	if errors.As(lastErr, &aerr) {
		lastErr = aerr.err
	}
	return c.cfg.MaxAttempts, lastErr
}

func (c *Client) attempt(
	ctx context.Context,
	timeout time.Duration,
	build func(ctx context.Context) (*http.Request, error),
	out any,
) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		return &attemptError{err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTransientNetError(err) {
			return &attemptError{err: err, retryable: true}
		}
		return &attemptError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &attemptError{err: readStatusError(resp), retryable: true}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		// A deadline hit while reading the body is still a timeout.
		if attemptCtx.Err() != nil {
			return &attemptError{err: attemptCtx.Err(), retryable: true}
		}
		return &attemptError{err: err}
	}
	return nil
}

// scaleTimeout multiplies d by 1.5 and rounds up to a whole second, or to a
// whole millisecond when the result is under a second.
func scaleTimeout(d time.Duration) time.Duration {
	scaled := d + d/2
	unit := time.Second
	if scaled < time.Second {
		unit = time.Millisecond
	}
	if r := scaled % unit; r != 0 {
		scaled += unit - r
	}
	return scaled
}

func readStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	serr := &StatusError{StatusCode: resp.StatusCode}

	var er types.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		serr.Code = er.Error
		serr.Message = er.Message
		return serr
	}
	serr.Message = strings.TrimSpace(string(body))
	if len(serr.Message) > 200 {
		serr.Message = serr.Message[:200] + "..."
	}
	return serr
}

// isTransientNetError reports whether err looks like a timeout or a
// connection level failure.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	// Wrapped transport errors sometimes only survive as text.
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"no such host",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
