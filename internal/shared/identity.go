package shared

import "context"

// Identity carries the resolved tenant and acting user for a request. It is
// threaded through as explicit parameters into the service layer; nothing
// below the HTTP boundary reads it from ambient state.
type Identity struct {
	TenantID   int64
	TenantSlug string
	UserID     int64
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
