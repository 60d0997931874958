package auth

import (
	"context"

	"github.com/stackstart/stackstart/internal/model"
)

type contextKey string

const authContextKey contextKey = "api_key_auth"

// ContextWithAuth adds the API key AuthContext to the context.
func ContextWithAuth(ctx context.Context, auth *model.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// AuthFromContext retrieves the API key AuthContext from the context.
// Returns nil if not present.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	auth, ok := ctx.Value(authContextKey).(*model.AuthContext)
	if !ok {
		return nil
	}
	return auth
}
