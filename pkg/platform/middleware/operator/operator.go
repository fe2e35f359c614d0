// Package operator guards the scan API with a shared bearer token. Scan
// results carry personal data, so every scan route sits behind it when a
// token is configured.
package operator

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	request "mrtdreader/pkg/platform/middleware/request"
)

// HeaderOperatorID names the operator behind a request, for the audit trail.
const HeaderOperatorID = "X-Operator-ID"

type contextKeyOperatorID struct{}

// GetOperatorID returns the operator named by the request, or "".
func GetOperatorID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyOperatorID{}).(string); ok {
		return id
	}
	return ""
}

// RequireToken rejects requests whose Authorization header does not carry
// "Bearer <expected>". An empty expected token disables the check.
func RequireToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				logger.WarnContext(ctx, "operator token mismatch",
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="mrtdreader"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"operator token required"}`))
				return
			}

			if id := r.Header.Get(HeaderOperatorID); id != "" {
				ctx = context.WithValue(ctx, contextKeyOperatorID{}, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
