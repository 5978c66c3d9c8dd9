package identity_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/goliatone/go-identity"
)

func TestClaimsContext(t *testing.T) {
	tests := []struct {
		name      string
		ctx       func() context.Context
		wantOK    bool
		wantActor string
	}{
		{
			name: "claims present",
			ctx: func() context.Context {
				return identity.WithClaims(context.Background(), &identity.TokenClaims{
					RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
					Role:             identity.RoleAdmin,
				})
			},
			wantOK:    true,
			wantActor: "user-1",
		},
		{
			name:   "no claims",
			ctx:    context.Background,
			wantOK: false,
		},
		{
			name: "nil claims",
			ctx: func() context.Context {
				return identity.WithClaims(context.Background(), nil)
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.ctx()
			claims, ok := identity.ClaimsFromContext(ctx)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, identity.RoleAdmin, claims.Role)
			}
			assert.Equal(t, tt.wantActor, identity.ActorID(ctx))
		})
	}
}
