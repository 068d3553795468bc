package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind categorizes backend failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindUnavailable: the backend could not be reached.
	KindUnavailable
	KindTimeout
	// KindStatus: the backend answered with a non-2xx status.
	KindStatus
	// KindInvalidResponse: the body could not be decoded or was empty.
	KindInvalidResponse
	// KindInvalidRequest: rejected before any network call.
	KindInvalidRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindStatus:
		return "status"
	case KindInvalidResponse:
		return "invalid_response"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// ClientError is returned by every Client call that fails.
type ClientError struct {
	Kind       ErrorKind
	Op         string // "chat", "tags"
	StatusCode int
	Message    string
	Err        error
}

func (e *ClientError) Error() string {
	msg := fmt.Sprintf("llmclient: %s: %s", e.Op, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("llmclient: %s: upstream %d: %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ClientError) Unwrap() error { return e.Err }

// KindOf returns the kind of a *ClientError in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// transportError classifies an error from http.Client.Do.
func transportError(op string, err error) *ClientError {
	kind := KindUnavailable
	msg := "backend unreachable"

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
		msg = "request timed out"
	}
	return &ClientError{Kind: kind, Op: op, Message: msg, Err: err}
}
