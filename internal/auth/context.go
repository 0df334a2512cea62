// ABOUTME: Identity context for tracking the verified owner through request handlers
// ABOUTME: Provides WithOwner/OwnerFromContext for propagating identity via context

package auth

import (
	"context"
)

// ownerKey is the key type for storing the owner id in context.Context.
type ownerKey struct{}

// WithOwner returns a new context carrying the verified owner id.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the owner id stored by the middleware, or "" if none.
func OwnerFromContext(ctx context.Context) string {
	ownerID, _ := ctx.Value(ownerKey{}).(string)
	return ownerID
}

// RequireOwner returns the owner id from ctx or ErrUnauthenticated.
func RequireOwner(ctx context.Context) (string, error) {
	ownerID := OwnerFromContext(ctx)
	if ownerID == "" {
		return "", ErrUnauthenticated
	}
	return ownerID, nil
}
