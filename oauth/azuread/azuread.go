// Package azuread configures the OpenID Connect provider for Microsoft
// Entra ID (Azure AD) v2.0 endpoints.
package azuread

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-identity/oauth"
	"github.com/goliatone/go-identity/oauth/oidc"
)

const defaultAuthority = "https://login.microsoftonline.com"

// Config holds the app registration of the tenant.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	// Authority overrides the login host, for sovereign clouds and tests.
	Authority      string
	SigningMethods []string
	Keyfunc        jwt.Keyfunc
	HTTPClient     *http.Client
}

// New returns an oidc.Provider named "azuread".
func New(cfg Config) (*oidc.Provider, error) {
	tenant := strings.TrimSpace(cfg.TenantID)
	if tenant == "" {
		tenant = "common"
	}
	authority := strings.TrimSuffix(cfg.Authority, "/")
	if authority == "" {
		authority = defaultAuthority
	}

	base := fmt.Sprintf("%s/%s", authority, tenant)

	// Tokens from multi tenant endpoints carry the signing tenant's issuer.
	return oidc.New(oidc.Config{
		Name:            "azuread",
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		CallbackURL:     cfg.CallbackURL,
		Scopes:          cfg.Scopes,
		Issuer:          base + "/v2.0",
		AuthURL:         base + "/oauth2/v2.0/authorize",
		TokenURL:        base + "/oauth2/v2.0/token",
		JWKSURL:         base + "/discovery/v2.0/keys",
		SkipIssuerCheck: isMultiTenant(tenant),
		SigningMethods:  cfg.SigningMethods,
		Keyfunc:         cfg.Keyfunc,
		ClaimsMapper:    MapClaims,
		HTTPClient:      cfg.HTTPClient,
	})
}

func isMultiTenant(tenant string) bool {
	switch strings.ToLower(tenant) {
	case "common", "organizations", "consumers":
		return true
	}
	return false
}

// MapClaims reads the email from "email" or "preferred_username". Entra ID
// never sends email_verified; an address counts as verified when the
// tenant owns its domain (xms_edov) or it is the user principal name.
func MapClaims(name string, claims jwt.MapClaims) *oauth.Profile {
	profile := oidc.MapStandardClaims(name, claims)

	if oid := oidc.StringClaim(claims, "oid"); oid != "" {
		profile.Subject = oid
	}

	upn := oidc.StringClaim(claims, "upn")
	if profile.Email == "" {
		profile.Email = oidc.StringClaim(claims, "preferred_username")
	}
	if profile.Email == "" {
		profile.Email = upn
	}

	profile.EmailVerified = profile.EmailVerified ||
		oidc.BoolClaim(claims, "xms_edov") ||
		(upn != "" && strings.EqualFold(upn, profile.Email))

	profile.Raw["tid"] = oidc.StringClaim(claims, "tid")
	return profile
}
