// Package oauth holds the pieces shared by the OAuth based sign in
// providers: the Provider contract, the normalized profile, provider
// errors and the encrypted state carried through the redirect.
package oauth

import (
	"context"
	"time"
)

// Provider is an OAuth2 authorization code provider.
type Provider interface {
	// Name returns the provider identifier, e.g. "github".
	Name() string

	// AuthCodeURL returns the URL the user is redirected to.
	AuthCodeURL(state string, opts ...AuthCodeOption) string

	// Exchange trades an authorization code for a token.
	Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*Token, error)

	// UserInfo fetches the profile of the token owner.
	UserInfo(ctx context.Context, token *Token) (*Profile, error)
}

// AuthCodeOption configures the authorization URL.
type AuthCodeOption func(*AuthCodeConfig)

// WithScopes adds scopes to the request.
func WithScopes(scopes ...string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Scopes = append(c.Scopes, scopes...)
	}
}

// WithPKCE sets the PKCE code challenge.
func WithPKCE(codeChallenge, method string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.CodeChallenge = codeChallenge
		c.CodeChallengeMethod = method
	}
}

// WithPrompt sets the prompt parameter, e.g. "select_account".
func WithPrompt(prompt string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Prompt = prompt
	}
}

// WithNonce sets the OpenID Connect nonce.
func WithNonce(nonce string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Nonce = nonce
	}
}

// ExchangeOption configures the token exchange.
type ExchangeOption func(*ExchangeConfig)

// WithCodeVerifier sets the PKCE code verifier.
func WithCodeVerifier(verifier string) ExchangeOption {
	return func(c *ExchangeConfig) {
		c.CodeVerifier = verifier
	}
}

// AuthCodeConfig is the applied set of AuthCodeOption values.
type AuthCodeConfig struct {
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
	Nonce               string
}

// ExchangeConfig is the applied set of ExchangeOption values.
type ExchangeConfig struct {
	CodeVerifier string
}

// ApplyAuthCodeOptions applies opts on top of the provider's default scopes.
func ApplyAuthCodeOptions(scopes []string, opts ...AuthCodeOption) AuthCodeConfig {
	cfg := AuthCodeConfig{Scopes: append([]string(nil), scopes...)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func ApplyExchangeOptions(opts ...ExchangeOption) ExchangeConfig {
	cfg := ExchangeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Token is an OAuth2 token response.
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
	Scopes       []string
}

// Profile is the normalized user information returned by a provider.
type Profile struct {
	Subject       string
	Provider      string
	Email         string
	EmailVerified bool
	Name          string
	Username      string
	AvatarURL     string
	Bio           string
	Company       string
	Raw           map[string]any
}

// DisplayName returns the best available human name for the profile.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.Name != "" {
		return p.Name
	}
	return p.Username
}
