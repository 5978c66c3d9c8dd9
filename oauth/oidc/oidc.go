// Package oidc is a generic OpenID Connect provider. The id_token returned
// by the token endpoint is verified against the issuer's JWKS.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-identity/oauth"
)

// ClaimsMapper turns verified id_token claims into a profile.
type ClaimsMapper func(name string, claims jwt.MapClaims) *oauth.Profile

// Config holds the provider endpoints and client credentials.
type Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	Issuer      string
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	JWKSURL     string

	// SkipIssuerCheck is for multi tenant endpoints whose tokens carry the
	// tenant's own issuer.
	SkipIssuerCheck bool
	SigningMethods  []string

	// Keyfunc overrides the JWKS lookup.
	Keyfunc      jwt.Keyfunc
	ClaimsMapper ClaimsMapper
	HTTPClient   *http.Client
}

func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

func defaultSigningMethods() []string {
	return []string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"}
}

// Provider implements oauth.Provider for an OpenID Connect issuer.
type Provider struct {
	config     Config
	httpClient *http.Client
	keyfunc    jwt.Keyfunc
	jwks       *keyfunc.JWKS
}

var _ oauth.Provider = (*Provider)(nil)

// New builds the provider. When no Keyfunc is given the JWKS is fetched
// once here and refreshed in the background.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "oidc"
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%s: client id is required", cfg.Name)
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("%s: auth and token urls are required", cfg.Name)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if len(cfg.SigningMethods) == 0 {
		cfg.SigningMethods = defaultSigningMethods()
	}
	if cfg.ClaimsMapper == nil {
		cfg.ClaimsMapper = MapStandardClaims
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	p := &Provider{config: cfg, httpClient: client, keyfunc: cfg.Keyfunc}

	if p.keyfunc == nil {
		if cfg.JWKSURL == "" {
			return nil, fmt.Errorf("%s: jwks url is required", cfg.Name)
		}
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			Client:            client,
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: failed to load jwks: %w", cfg.Name, err)
		}
		p.jwks = jwks
		p.keyfunc = jwks.Keyfunc
	}

	return p, nil
}

// Close stops the background JWKS refresh.
func (p *Provider) Close() {
	if p.jwks != nil {
		p.jwks.EndBackground()
	}
}

func (p *Provider) Name() string {
	return p.config.Name
}

func (p *Provider) AuthCodeURL(state string, opts ...oauth.AuthCodeOption) string {
	cfg := oauth.ApplyAuthCodeOptions(p.config.Scopes, opts...)

	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.CallbackURL},
		"response_type": {"code"},
		"scope":         {strings.Join(cfg.Scopes, " ")},
		"state":         {state},
	}
	if cfg.CodeChallenge != "" {
		method := cfg.CodeChallengeMethod
		if method == "" {
			method = "S256"
		}
		params.Set("code_challenge", cfg.CodeChallenge)
		params.Set("code_challenge_method", method)
	}
	if cfg.Prompt != "" {
		params.Set("prompt", cfg.Prompt)
	}
	if cfg.Nonce != "" {
		params.Set("nonce", cfg.Nonce)
	}

	sep := "?"
	if strings.Contains(p.config.AuthURL, "?") {
		sep = "&"
	}
	return p.config.AuthURL + sep + params.Encode()
}

func (p *Provider) Exchange(ctx context.Context, code string, opts ...oauth.ExchangeOption) (*oauth.Token, error) {
	cfg := oauth.ApplyExchangeOptions(opts...)

	data := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.config.CallbackURL},
		"grant_type":    {"authorization_code"},
	}
	if cfg.CodeVerifier != "" {
		data.Set("code_verifier", cfg.CodeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, status, err := p.do(req)
	if err != nil {
		return nil, p.providerError("exchange", 0, "", "", err)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, p.providerError("exchange", status, "invalid_response", "failed to decode token response", err)
	}
	if status != http.StatusOK || tokenResp.Error != "" {
		return nil, p.providerError("exchange", status, tokenResp.Error, tokenResp.ErrorDesc, nil)
	}
	if tokenResp.IDToken == "" {
		return nil, p.providerError("exchange", status, "missing_id_token", "missing id token", nil)
	}

	var expiresAt time.Time
	if tokenResp.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}

	return &oauth.Token{
		AccessToken:  tokenResp.AccessToken,
		TokenType:    tokenResp.TokenType,
		RefreshToken: tokenResp.RefreshToken,
		IDToken:      tokenResp.IDToken,
		ExpiresAt:    expiresAt,
		Scopes:       strings.Fields(tokenResp.Scope),
	}, nil
}

// UserInfo verifies the id_token and maps its claims. When the token
// carries no email and a userinfo endpoint is configured, the endpoint
// fills in the missing fields.
func (p *Provider) UserInfo(ctx context.Context, token *oauth.Token) (*oauth.Profile, error) {
	claims, err := p.VerifyIDToken(token.IDToken)
	if err != nil {
		return nil, err
	}

	profile := p.config.ClaimsMapper(p.config.Name, claims)
	if profile.Email != "" || p.config.UserInfoURL == "" || token.AccessToken == "" {
		return profile, nil
	}

	extra, err := p.fetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	if sub, _ := extra["sub"].(string); sub != "" && sub != profile.Subject {
		return nil, p.providerError("user_info", 0, "subject_mismatch", "userinfo subject does not match id token", nil)
	}

	merged := jwt.MapClaims{}
	for k, v := range extra {
		merged[k] = v
	}
	for k, v := range claims {
		merged[k] = v
	}
	return p.config.ClaimsMapper(p.config.Name, merged), nil
}

// VerifyIDToken checks signature, expiry, audience and issuer.
func (p *Provider) VerifyIDToken(raw string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(p.config.SigningMethods),
		jwt.WithAudience(p.config.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if p.config.Issuer != "" && !p.config.SkipIssuerCheck {
		opts = append(opts, jwt.WithIssuer(p.config.Issuer))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, p.keyfunc, opts...); err != nil {
		return nil, p.providerError("id_token", 0, "invalid_id_token", "id token verification failed", err)
	}
	return claims, nil
}

func (p *Provider) fetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, status, err := p.do(req)
	if err != nil {
		return nil, p.providerError("user_info", 0, "", "", err)
	}
	if status != http.StatusOK {
		return nil, p.providerError("user_info", status, "", strings.TrimSpace(string(body)), nil)
	}

	out := map[string]any{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, p.providerError("user_info", status, "invalid_response", "failed to decode userinfo response", err)
	}
	return out, nil
}

func (p *Provider) do(req *http.Request) ([]byte, int, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (p *Provider) providerError(operation string, status int, code, description string, err error) *oauth.ProviderError {
	return &oauth.ProviderError{
		Provider:    p.config.Name,
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}
