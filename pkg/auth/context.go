package auth

import (
	"context"
	"fmt"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PrincipalKey is the context key for the authenticated principal.
const PrincipalKey contextKey = "principal"

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal retrieves the authenticated principal from the context.
func GetPrincipal(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*Principal)
	return p, ok
}

// RequirePrincipal retrieves the principal or errors when the request was
// not authenticated.
func RequirePrincipal(ctx context.Context) (*Principal, error) {
	p, ok := GetPrincipal(ctx)
	if !ok || p == nil {
		return nil, fmt.Errorf("authentication required: no principal in context")
	}
	return p, nil
}
