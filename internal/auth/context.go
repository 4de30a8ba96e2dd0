package auth

import "context"

type scopeContextKey struct{}
type tokenContextKey struct{}

// ContextWithScope attaches the authorization scope to the context.
func ContextWithScope(ctx context.Context, scope ScopedContext) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, &scope)
}

// ScopeFromContext extracts the authorization scope from the context.
func ScopeFromContext(ctx context.Context) (ScopedContext, bool) {
	if ctx == nil {
		return ScopedContext{}, false
	}
	v, ok := ctx.Value(scopeContextKey{}).(*ScopedContext)
	if !ok || v == nil {
		return ScopedContext{}, false
	}
	return *v, true
}

// ContextWithToken stores verified access claims inside the context; the
// logout handler needs the jti and expiry to denylist the presented token.
func ContextWithToken(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, &claims)
}

// TokenFromContext returns the verified claims if previously attached.
func TokenFromContext(ctx context.Context) (Claims, bool) {
	if ctx == nil {
		return Claims{}, false
	}
	v, ok := ctx.Value(tokenContextKey{}).(*Claims)
	if !ok || v == nil {
		return Claims{}, false
	}
	return *v, true
}
