package auth

import "context"

type contextKey struct{}

var ctxPrincipalKey contextKey

// ContextWithPrincipal attaches the authenticated principal to a context.
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, principal)
}

// PrincipalFromContext returns the principal attached by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(ctxPrincipalKey).(*Principal)
	return principal, ok
}
