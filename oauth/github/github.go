package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-identity/oauth"
)

const (
	defaultAuthURL   = "https://github.com/login/oauth/authorize"
	defaultTokenURL  = "https://github.com/login/oauth/access_token"
	defaultUserURL   = "https://api.github.com/user"
	defaultEmailsURL = "https://api.github.com/user/emails"
)

// Config holds GitHub OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL   string
	TokenURL  string
	UserURL   string
	EmailsURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the default GitHub scopes.
func DefaultScopes() []string {
	return []string{"user:email", "read:user"}
}

// Provider implements oauth.Provider for GitHub.
type Provider struct {
	config     Config
	httpClient *http.Client
}

var _ oauth.Provider = (*Provider)(nil)

func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}
	if cfg.EmailsURL == "" {
		cfg.EmailsURL = defaultEmailsURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{config: cfg, httpClient: client}
}

func (p *Provider) Name() string {
	return "github"
}

func (p *Provider) AuthCodeURL(state string, opts ...oauth.AuthCodeOption) string {
	cfg := oauth.ApplyAuthCodeOptions(p.config.Scopes, opts...)

	params := url.Values{
		"client_id":    {p.config.ClientID},
		"redirect_uri": {p.config.CallbackURL},
		"scope":        {strings.Join(cfg.Scopes, " ")},
		"state":        {state},
	}

	if cfg.CodeChallenge != "" {
		method := cfg.CodeChallengeMethod
		if method == "" {
			method = "S256"
		}
		params.Set("code_challenge", cfg.CodeChallenge)
		params.Set("code_challenge_method", method)
	}

	return p.config.AuthURL + "?" + params.Encode()
}

func (p *Provider) Exchange(ctx context.Context, code string, opts ...oauth.ExchangeOption) (*oauth.Token, error) {
	cfg := oauth.ApplyExchangeOptions(opts...)

	data := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.config.CallbackURL},
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
		return nil, providerError("exchange", 0, "", "", err)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, providerError("exchange", status, "invalid_response", "failed to decode token response", err)
	}

	// GitHub reports exchange errors with a 200 status.
	if status != http.StatusOK || tokenResp.Error != "" {
		return nil, providerError("exchange", status, tokenResp.Error, tokenResp.ErrorDesc, nil)
	}
	if tokenResp.AccessToken == "" {
		return nil, providerError("exchange", status, "missing_access_token", "missing access token", nil)
	}

	return &oauth.Token{
		AccessToken: tokenResp.AccessToken,
		TokenType:   tokenResp.TokenType,
		Scopes:      splitCommaScopes(tokenResp.Scope),
	}, nil
}

// UserInfo loads the user and its primary email. The /user payload only
// exposes the public email, so the emails endpoint decides verification.
func (p *Provider) UserInfo(ctx context.Context, token *oauth.Token) (*oauth.Profile, error) {
	var u user
	if err := p.get(ctx, "user_info", p.config.UserURL, token.AccessToken, &u); err != nil {
		return nil, err
	}

	var emails []email
	if err := p.get(ctx, "emails", p.config.EmailsURL, token.AccessToken, &emails); err != nil {
		return nil, err
	}

	address, verified := primaryEmail(emails)
	return mapProfile(&u, address, verified), nil
}

func (p *Provider) get(ctx context.Context, operation, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	body, status, err := p.do(req)
	if err != nil {
		return providerError(operation, 0, "", "", err)
	}
	if status != http.StatusOK {
		return providerError(operation, status, "", apiErrorMessage(body), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return providerError(operation, status, "invalid_response", "failed to decode response", err)
	}
	return nil
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

func primaryEmail(emails []email) (string, bool) {
	for _, e := range emails {
		if e.Primary {
			return e.Email, e.Verified
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true
		}
	}
	return "", false
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

type apiError struct {
	Message string `json:"message"`
}

func apiErrorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "github request failed"
	}
	return msg
}

func splitCommaScopes(scopes string) []string {
	var out []string
	for _, part := range strings.Split(scopes, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func providerError(operation string, status int, code, description string, err error) *oauth.ProviderError {
	return &oauth.ProviderError{
		Provider:    "github",
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}

func fmtUserID(id int64) string {
	return fmt.Sprintf("%d", id)
}
