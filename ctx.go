package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

// DefaultIdentityKey is the router locals key the protected routes store the
// authenticated Identity under.
const DefaultIdentityKey = "identity"

var identityCtxKey = &contextKey{"identity"}

type contextKey struct {
	name string
}

// WithIdentity sets the Identity in the given context
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext finds the identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	raw, ok := ctx.Value(identityCtxKey).(Identity)
	return raw, ok && raw != nil
}

// GetRouterIdentity extracts the Identity from the request locals.
func GetRouterIdentity(c router.Context, key string) (Identity, bool) {
	if key == "" {
		key = DefaultIdentityKey
	}
	raw := c.Locals(key)
	if raw == nil {
		return nil, false
	}
	identity, ok := raw.(Identity)
	return identity, ok
}

// HasRole reports whether the identity in ctx holds one of roles.
func HasRole(ctx context.Context, roles ...Role) bool {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return false
	}
	for _, role := range roles {
		if identity.Role() == string(role) {
			return true
		}
	}
	return false
}
