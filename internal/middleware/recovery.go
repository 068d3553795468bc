package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"dyad-reasoner/pkg/logging"
	"dyad-reasoner/pkg/types"
)

// Recoverer turns a panic into a logged 500 with the standard error body.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.L(r.Context()).Error("panic recovered",
					zap.Any("error", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, types.CodeInternal, "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
