// ABOUTME: Authenticated identity type and context propagation helpers
// ABOUTME: Provides WithIdentity/FromContext for passing identity to handlers

package auth

import (
	"context"
)

// Identity holds the verified identity extracted from a credential.
// It is recomputed per request and never persisted.
type Identity struct {
	Email   string // verified email claim
	Subject string // stable subject identifier from the provider
}

// identityKey is the key type for storing an Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	ident, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return ident
}
