package identity

import "context"

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithClaims stores the session claims in ctx.
func WithClaims(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext returns the session claims stored by WithClaims.
func ClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	claims, ok := ctx.Value(claimsCtxKey).(*TokenClaims)
	return claims, ok && claims != nil
}

// ActorID returns the user id of the session in ctx.
func ActorID(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.Subject
	}
	return ""
}
