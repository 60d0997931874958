package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stackstart/stackstart/internal/identity"
)

// TokenVerifier validates an identity-provider session token.
type TokenVerifier interface {
	Verify(raw string) (*identity.Identity, error)
}

// Identity authenticates the caller from "Authorization: Bearer <token>"
// and stores the identity in the request context.
func Identity(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := verifier.Verify(bearerToken(r))
			if err != nil {
				reason := "invalid_token"
				switch {
				case errors.Is(err, identity.ErrMissingToken):
					reason = "missing_token"
				case errors.Is(err, identity.ErrTokenExpired):
					reason = "expired_token"
				}
				logger.Warn("identity authentication failed",
					slog.String("reason", reason),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing session token")
				return
			}

			ctx := identity.ContextWithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
