package azuread

import (
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapClaims(t *testing.T) {
	tests := []struct {
		name     string
		claims   jwt.MapClaims
		email    string
		verified bool
	}{
		{
			name:     "domain owner verified",
			claims:   jwt.MapClaims{"oid": "o1", "email": "a@corp.com", "xms_edov": true},
			email:    "a@corp.com",
			verified: true,
		},
		{
			name:     "preferred username matching upn",
			claims:   jwt.MapClaims{"oid": "o2", "preferred_username": "b@corp.com", "upn": "B@corp.com"},
			email:    "b@corp.com",
			verified: true,
		},
		{
			name:   "unverified optional email",
			claims: jwt.MapClaims{"oid": "o3", "email": "c@gmail.com", "upn": "c@corp.com"},
			email:  "c@gmail.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := MapClaims("azuread", tt.claims)
			assert.Equal(t, tt.email, profile.Email)
			assert.Equal(t, tt.verified, profile.EmailVerified)
			assert.Equal(t, tt.claims["oid"], profile.Subject)
		})
	}
}

func TestNewSingleTenant(t *testing.T) {
	key := []byte("secret")
	p, err := New(Config{
		TenantID:       "contoso",
		ClientID:       "app",
		SigningMethods: []string{"HS256"},
		Keyfunc: keyfunc.NewGiven(map[string]keyfunc.GivenKey{
			"k": keyfunc.NewGivenCustom(key, keyfunc.GivenKeyOptions{Algorithm: "HS256"}),
		}).Keyfunc,
	})
	require.NoError(t, err)
	assert.Equal(t, "azuread", p.Name())
	assert.Contains(t, p.AuthCodeURL("s"), "https://login.microsoftonline.com/contoso/oauth2/v2.0/authorize?")

	sign := func(iss string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": iss,
			"aud": "app",
			"oid": "o1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		token.Header["kid"] = "k"
		signed, err := token.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	_, err = p.VerifyIDToken(sign("https://login.microsoftonline.com/contoso/v2.0"))
	assert.NoError(t, err)

	_, err = p.VerifyIDToken(sign("https://login.microsoftonline.com/fabrikam/v2.0"))
	assert.Error(t, err)
}
