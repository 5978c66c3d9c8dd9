package httpapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/httpapi"
	"github.com/goliatone/go-identity/invites"
	"github.com/goliatone/go-identity/oauth"
	"github.com/goliatone/go-identity/strategy"
)

type fakeProvider struct {
	profile *oauth.Profile
}

func (p *fakeProvider) Name() string { return "corp" }

func (p *fakeProvider) AuthCodeURL(state string, _ ...oauth.AuthCodeOption) string {
	return "https://provider.example.com/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(context.Context, string, ...oauth.ExchangeOption) (*oauth.Token, error) {
	return &oauth.Token{AccessToken: "access"}, nil
}

func (p *fakeProvider) UserInfo(context.Context, *oauth.Token) (*oauth.Profile, error) {
	profile := *p.profile
	return &profile, nil
}

type testApp struct {
	app *fiber.App
	svc *identity.Service
}

func newTestApp(t *testing.T, configure func(*identity.Config)) *testApp {
	t.Helper()

	cfg := identity.DefaultConfig()
	if configure != nil {
		configure(cfg)
	}

	db, err := identity.OpenDB(identity.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, identity.Migrate(context.Background(), db))

	svc := identity.NewService(db, cfg,
		identity.WithHasher(&identity.BcryptHasher{MinLength: cfg.MinPasswordLength(), Cost: bcrypt.MinCost}),
	)
	tokens, err := identity.NewTokenService(identity.TokenConfig{SigningKey: "secret", TTL: time.Hour}, nil)
	require.NoError(t, err)
	states, err := oauth.NewEncryptedStateManager([]byte("0123456789abcdef"), []byte("hmac"), time.Minute)
	require.NoError(t, err)

	inviteStore := invites.NewStore(db, nil)
	provider := &fakeProvider{profile: &oauth.Profile{Subject: "s", Email: "sso@example.com", EmailVerified: true, Name: "Sso User"}}
	registry := strategy.New(
		strategy.Deps{Users: svc, Tokens: tokens, Config: cfg, Invites: inviteStore},
		strategy.NewLocal(svc, cfg, strategy.WithInviteStore(inviteStore)),
		strategy.NewOAuth(provider, states, "Corp", nil),
	)

	app := httpapi.NewApp(nil)
	httpapi.NewController(registry, svc, tokens, httpapi.WithInviter(inviteStore)).Register(app)
	return &testApp{app: app, svc: svc}
}

func (a *testApp) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	res, err := a.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, body
}

func postJSON(path string, body any) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestListStrategies(t *testing.T) {
	a := newTestApp(t, nil)

	res, body := a.do(t, httptest.NewRequest(http.MethodGet, "/auth/strategies", nil))
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got struct {
		Strategies []strategy.Metadata `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Strategies, 2)
	assert.Equal(t, "corp", got.Strategies[0].ID)
	assert.Equal(t, "/auth/corp/begin", got.Strategies[0].URL)
	assert.Equal(t, strategy.KindPassword, got.Strategies[1].Kind)
}

func TestRegisterLoginAndMe(t *testing.T) {
	a := newTestApp(t, nil)

	res, body := a.do(t, postJSON("/auth/local/register", map[string]string{
		"name":     "Ada",
		"email":    "ada@example.com",
		"password": "correct horse",
	}))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	var registered strategy.Session
	require.NoError(t, json.Unmarshal(body, &registered))
	assert.True(t, registered.IsNewUser)
	assert.Equal(t, identity.RoleAdmin, registered.Role)

	res, body = a.do(t, postJSON("/auth/local/login", map[string]string{
		"email":    "ada@example.com",
		"password": "correct horse",
	}))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	var session strategy.Session
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Equal(t, registered.UserID, session.UserID)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	res, body = a.do(t, req)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	var me identity.User
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "ada@example.com", me.Email)
}

func TestErrorResponses(t *testing.T) {
	a := newTestApp(t, nil)
	_, err := a.svc.CreateUser(context.Background(), identity.CreateUserInput{
		Name:     "Ada",
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      *http.Request
		status   int
		textCode string
	}{
		{
			name:     "bad password",
			req:      postJSON("/auth/local/login", map[string]string{"email": "ada@example.com", "password": "nope nope"}),
			status:   http.StatusUnauthorized,
			textCode: identity.TextCodeAuthFailed,
		},
		{
			name:     "email taken",
			req:      postJSON("/auth/local/register", map[string]string{"name": "Eve", "email": "ADA@example.com", "password": "correct horse"}),
			status:   http.StatusConflict,
			textCode: identity.TextCodeEmailTaken,
		},
		{
			name:     "weak password",
			req:      postJSON("/auth/local/register", map[string]string{"name": "Eve", "email": "eve@example.com", "password": "short"}),
			status:   http.StatusBadRequest,
			textCode: identity.TextCodePasswordTooShort,
		},
		{
			name:     "unknown strategy",
			req:      httptest.NewRequest(http.MethodGet, "/auth/nope/begin", nil),
			status:   http.StatusNotFound,
			textCode: strategy.TextCodeStrategyNotFound,
		},
		{
			name:     "local has no redirect",
			req:      httptest.NewRequest(http.MethodGet, "/auth/local/begin", nil),
			status:   http.StatusBadRequest,
			textCode: strategy.TextCodeNoRedirect,
		},
		{
			name:     "missing bearer",
			req:      httptest.NewRequest(http.MethodGet, "/auth/me", nil),
			status:   http.StatusUnauthorized,
			textCode: identity.TextCodeAuthFailed,
		},
		{
			name:     "provider error",
			req:      httptest.NewRequest(http.MethodGet, "/auth/corp/callback?error=access_denied", nil),
			status:   http.StatusUnauthorized,
			textCode: identity.TextCodeAuthFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, body := a.do(t, tt.req)
			require.Equal(t, tt.status, res.StatusCode, string(body))

			var got httpapi.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.textCode, got.TextCode)
			assert.NotEmpty(t, got.Category)
			assert.NotEmpty(t, got.Error)
		})
	}
}

func TestOAuthRedirectFlow(t *testing.T) {
	a := newTestApp(t, nil)

	res, _ := a.do(t, httptest.NewRequest(http.MethodGet, "/auth/corp/begin?redirect=/welcome", nil))
	require.Equal(t, http.StatusFound, res.StatusCode)

	location, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	res, body := a.do(t, httptest.NewRequest(http.MethodGet,
		"/auth/corp/callback?code=abc&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusFound, res.StatusCode, string(body))

	back, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/welcome", back.Path)

	fragment, err := url.ParseQuery(back.Fragment)
	require.NoError(t, err)
	assert.NotEmpty(t, fragment.Get("token"))

	user, err := a.svc.GetUserByEmail(context.Background(), "sso@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Sso User", user.Name)
}

func TestOAuthCallbackWithoutRedirectReturnsJSON(t *testing.T) {
	a := newTestApp(t, nil)

	res, _ := a.do(t, httptest.NewRequest(http.MethodGet, "/auth/corp/begin?redirect=https://evil.example.com", nil))
	location, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)

	res, body := a.do(t, httptest.NewRequest(http.MethodGet,
		"/auth/corp/callback?code=abc&state="+url.QueryEscape(location.Query().Get("state")), nil))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	var session strategy.Session
	require.NoError(t, json.Unmarshal(body, &session))
	assert.True(t, session.IsNewUser)
	assert.Empty(t, session.RedirectURL)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, nil)

	_, _ = a.do(t, postJSON("/auth/local/login", map[string]string{"email": "x@example.com", "password": "whatever1"}))

	res, body := a.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "identity_auth_attempts_total")
}

func (a *testApp) login(t *testing.T, email, password string) string {
	t.Helper()
	res, body := a.do(t, postJSON("/auth/local/login", map[string]string{"email": email, "password": password}))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	var session strategy.Session
	require.NoError(t, json.Unmarshal(body, &session))
	return session.Token
}

func authed(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAdminRoutes(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	adminID, err := a.svc.CreateUser(ctx, identity.CreateUserInput{Name: "Admin", Email: "admin@example.com", Password: "correct horse"})
	require.NoError(t, err)
	memberID, err := a.svc.CreateUser(ctx, identity.CreateUserInput{Name: "Member", Email: "member@example.com", Password: "correct horse"})
	require.NoError(t, err)

	adminToken := a.login(t, "admin@example.com", "correct horse")
	memberToken := a.login(t, "member@example.com", "correct horse")

	res, body := a.do(t, authed(httptest.NewRequest(http.MethodGet, "/admin/users", nil), memberToken))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(body))

	res, body = a.do(t, authed(httptest.NewRequest(http.MethodGet, "/admin/users?query=member", nil), adminToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var page identity.UserPage
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Users, 1)
	assert.Equal(t, memberID, page.Users[0].ID.String())

	req := authed(postJSON("/admin/users/"+adminID+"/role", map[string]string{"role": "server:user"}), adminToken)
	req.Method = http.MethodPut
	res, body = a.do(t, req)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	var errBody httpapi.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, identity.TextCodeLastAdmin, errBody.TextCode)

	req = authed(postJSON("/admin/users/"+memberID+"/role", map[string]string{"role": "server:admin"}), adminToken)
	req.Method = http.MethodPut
	res, body = a.do(t, req)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	// The member token predates the promotion; the role is read fresh.
	res, body = a.do(t, authed(httptest.NewRequest(http.MethodGet, "/admin/users", nil), memberToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, _ = a.do(t, authed(httptest.NewRequest(http.MethodDelete, "/admin/users/"+memberID, nil), adminToken))
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, _ = a.do(t, authed(httptest.NewRequest(http.MethodDelete, "/admin/users/"+memberID, nil), adminToken))
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = a.do(t, authed(httptest.NewRequest(http.MethodGet, "/auth/me", nil), memberToken))
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, "deleted users lose their session")
}

func TestAdminInvites(t *testing.T) {
	a := newTestApp(t, func(c *identity.Config) { c.RequireInvite = true })

	_, err := a.svc.CreateUser(context.Background(), identity.CreateUserInput{Name: "Admin", Email: "admin@example.com", Password: "correct horse"})
	require.NoError(t, err)
	adminToken := a.login(t, "admin@example.com", "correct horse")

	res, body := a.do(t, authed(postJSON("/admin/invites", map[string]string{"email": "new@example.com"}), adminToken))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	var invite struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &invite))
	require.NotEmpty(t, invite.Token)

	res, body = a.do(t, postJSON("/auth/local/register", map[string]string{
		"name": "New", "email": "new@example.com", "password": "correct horse",
	}))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(body))

	res, body = a.do(t, postJSON("/auth/local/register", map[string]string{
		"name": "New", "email": "new@example.com", "password": "correct horse", "invite_token": invite.Token,
	}))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	var session strategy.Session
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Equal(t, identity.RoleUser, session.Role)
}

func TestSessionCookie(t *testing.T) {
	a := newTestApp(t, nil)
	_, err := a.svc.CreateUser(context.Background(), identity.CreateUserInput{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)

	res, _ := a.do(t, postJSON("/auth/local/login", map[string]string{"email": "ada@example.com", "password": "correct horse"}))
	require.Equal(t, http.StatusOK, res.StatusCode)

	var cookie *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == httpapi.SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	res, body := a.do(t, req)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
}
