package reasonclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrCircuitOpen        = errors.New("reasonclient: circuit open")
	ErrFailedAfterRetries = errors.New("reasonclient: failed after retries")
)

type Kind string

const (
	KindCircuitOpen        Kind = "circuit_open"
	KindFailedAfterRetries Kind = "failed_after_retries"
)

// Error is returned by Reason when the breaker rejects a call or every
// attempt failed. Use errors.Is with ErrCircuitOpen / ErrFailedAfterRetries,
// or errors.As to inspect FailCount and the last attempt's error.
type Error struct {
	Kind      Kind
	FailCount int
	Attempts  int
	Err       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCircuitOpen:
		return fmt.Sprintf("reasonclient: circuit open after %d failures", e.FailCount)
	default:
		if e.Err == nil {
			return fmt.Sprintf("reasonclient: failed after %d attempts", e.Attempts)
		}
		return fmt.Sprintf("reasonclient: failed after %d attempts: %v", e.Attempts, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrCircuitOpen:
		return e.Kind == KindCircuitOpen
	case ErrFailedAfterRetries:
		return e.Kind == KindFailedAfterRetries
	}
	return false
}

// StatusError is a non-2xx answer from the reasoner service.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("reasoner returned %d (%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("reasoner returned %d: %s", e.StatusCode, msg)
}
