package oidc

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-identity/oauth"
)

// MapStandardClaims maps the OpenID Connect standard claims.
func MapStandardClaims(name string, claims jwt.MapClaims) *oauth.Profile {
	return &oauth.Profile{
		Subject:       StringClaim(claims, "sub"),
		Provider:      name,
		Email:         StringClaim(claims, "email"),
		EmailVerified: BoolClaim(claims, "email_verified"),
		Name:          StringClaim(claims, "name"),
		Username:      StringClaim(claims, "preferred_username"),
		AvatarURL:     StringClaim(claims, "picture"),
		Raw: map[string]any{
			"iss": StringClaim(claims, "iss"),
			"sub": StringClaim(claims, "sub"),
		},
	}
}

func StringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

// BoolClaim accepts both JSON booleans and the "true" strings some
// issuers send.
func BoolClaim(claims jwt.MapClaims, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
