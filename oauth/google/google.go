package google

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
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// Config holds Google OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the default Google scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Provider implements oauth.Provider for Google.
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
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{config: cfg, httpClient: client}
}

func (p *Provider) Name() string {
	return "google"
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

	return p.config.AuthURL + "?" + params.Encode()
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

	body, status, err := p.do(req)
	if err != nil {
		return nil, providerError("exchange", 0, "", "", err)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, providerError("exchange", status, "invalid_response", "failed to decode token response", err)
	}

	if status != http.StatusOK || tokenResp.Error != "" {
		code, desc := tokenResp.Error, tokenResp.ErrorDesc
		if code == "" && desc == "" {
			code, desc = parseGoogleError(body)
		}
		return nil, providerError("exchange", status, code, desc, nil)
	}
	if tokenResp.AccessToken == "" {
		return nil, providerError("exchange", status, "missing_access_token", "missing access token", nil)
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

func (p *Provider) UserInfo(ctx context.Context, token *oauth.Token) (*oauth.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	body, status, err := p.do(req)
	if err != nil {
		return nil, providerError("user_info", 0, "", "", err)
	}
	if status != http.StatusOK {
		code, desc := parseGoogleError(body)
		return nil, providerError("user_info", status, code, desc, nil)
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, providerError("user_info", status, "invalid_response", "failed to decode userinfo response", err)
	}

	return mapProfile(&info), nil
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

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// parseGoogleError reads the structured API error used by the userinfo
// endpoint, falling back to the raw body.
func parseGoogleError(body []byte) (string, string) {
	var api apiError
	if err := json.Unmarshal(body, &api); err == nil && (api.Error.Message != "" || api.Error.Status != "") {
		code := api.Error.Status
		if code == "" && api.Error.Code != 0 {
			code = fmt.Sprintf("%d", api.Error.Code)
		}
		return code, api.Error.Message
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = "google request failed"
	}
	return "", msg
}

func providerError(operation string, status int, code, description string, err error) *oauth.ProviderError {
	return &oauth.ProviderError{
		Provider:    "google",
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}
