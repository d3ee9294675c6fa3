// Package requestctx provides request-scoped values (the resolved portal
// principal) set by middleware.
package requestctx

import "context"

type contextKey struct{}

var principalKey = &contextKey{}

// Principal is the resolved identity of an authenticated portal request.
// Downstream components receive only this struct; the raw credential is
// never propagated past the auth middleware.
type Principal struct {
	SubjectID string
	TenantID  string
	Role      string
}

// SetPrincipal stores the resolved principal in the context.
func SetPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal from context. ok is false when no
// auth middleware ran for this request.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
