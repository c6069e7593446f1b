package identity

import (
	"context"
)

var principalCtxKey = &contextKey{"principal"}

type contextKey struct {
	name string
}

// WithPrincipal sets the Principal in the given context
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, principal)
}

// PrincipalFromContext finds the principal in the context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	raw, ok := ctx.Value(principalCtxKey).(*Principal)
	return raw, ok && raw != nil
}

// Can is a convenience check against the principal stored in ctx.
func Can(ctx context.Context, authorizer *Authorizer, req Requirement) bool {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return false
	}
	return authorizer.Authorize(ctx, principal, req) == nil
}
