package reasoner

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"dyad-reasoner/pkg/types"
)

// Error is a failed reasoning request, already mapped to an API code and
// HTTP status.
type Error struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func invalidRequest(err error) *Error {
	return &Error{Code: types.CodeInvalidRequest, Status: http.StatusBadRequest, Message: err.Error(), Err: err}
}

func backendUnavailable(err error) *Error {
	return &Error{Code: types.CodeBackendUnavailable, Status: http.StatusServiceUnavailable, Message: "LLM backend is not reachable", Err: err}
}

func modelUnavailable(err error) *Error {
	return &Error{Code: types.CodeModelUnavailable, Status: http.StatusServiceUnavailable, Message: err.Error(), Err: err}
}

func backendError(err error) *Error {
	return &Error{Code: types.CodeBackendError, Status: http.StatusBadGateway, Message: "LLM backend call failed", Err: err}
}

func timeoutError(err error) *Error {
	return &Error{Code: types.CodeTimeout, Status: http.StatusGatewayTimeout, Message: "reasoning timed out", Err: err}
}

func internalError(msg string, err error) *Error {
	return &Error{Code: types.CodeInternal, Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// contextError maps an abandoned wait to an API error.
func contextError(ctx context.Context) *Error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(err)
	}
	return &Error{Code: types.CodeTimeout, Status: http.StatusGatewayTimeout, Message: "request canceled", Err: err}
}

// AsError converts any error from this package into an *Error. Unknown
// errors become internal_server_error.
func AsError(err error) *Error {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}
	return internalError("unexpected error", err)
}
