// Package identity carries the authenticated identity supplied by the external
// identity provider and verifies the provider's session tokens.
package identity

import "context"

// Identity is an authenticated identity-provider account.
// Only ID is guaranteed; the provider may omit any other field.
type Identity struct {
	ID                   string
	PrimaryEmail         *string
	DisplayName          *string
	PrimaryEmailVerified *bool
	ProfileImageURL      *string
}

type contextKey struct{}

// ContextWithIdentity adds the identity to the context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
