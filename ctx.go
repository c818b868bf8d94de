package oidcroles

import "context"

type ctxKeyClaimsPrincipalT int

var ctxKeyClaimsPrincipal ctxKeyClaimsPrincipalT

// ContextWithPrincipal attaches the principal to the context.
func ContextWithPrincipal(ctx context.Context, v ClaimsPrincipal) context.Context {
	return context.WithValue(ctx, ctxKeyClaimsPrincipal, v)
}

// PrincipalFromContext returns the attached principal, or an
// unauthenticated principal when none is attached.
func PrincipalFromContext(ctx context.Context) ClaimsPrincipal {
	if v, ok := ctx.Value(ctxKeyClaimsPrincipal).(ClaimsPrincipal); ok && v != nil {
		return v
	}

	return unauthenticatedClaimsPrincipal()
}
