package middleware

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"dyad-reasoner/pkg/logging"
	"dyad-reasoner/pkg/types"
)

// RequireToken rejects requests whose X-Reasoner-Token header does not match
// token. An empty token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(types.TokenHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				logging.L(r.Context()).Warn("unauthorized request", zap.Bool("token_present", len(got) > 0))
				writeError(w, http.StatusUnauthorized, types.CodeUnauthorized, "missing or invalid "+types.TokenHeader)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
