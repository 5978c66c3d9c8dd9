package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-identity"
)

func newTokens(t *testing.T) *identity.TokenService {
	t.Helper()
	tokens, err := identity.NewTokenService(identity.TokenConfig{SigningKey: "secret", TTL: time.Hour}, nil)
	require.NoError(t, err)
	return tokens
}

func TestRequireSessionLookups(t *testing.T) {
	tokens := newTokens(t)
	token, _, err := tokens.Generate("user-1", "ada@example.com", identity.RoleUser)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	app.Get("/", RequireSession(SessionConfig{
		Validator:   tokens,
		TokenLookup: "header:Authorization,query:token,cookie:sid",
	}), func(c *fiber.Ctx) error {
		claims, ok := SessionClaims(c)
		if !ok || identity.ActorID(c.UserContext()) != "user-1" {
			return fiber.ErrInternalServerError
		}
		return c.SendString(claims.Email)
	})

	tests := []struct {
		name   string
		setup  func(*http.Request)
		path   string
		status int
	}{
		{name: "header", path: "/", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, status: http.StatusOK},
		{name: "scheme is case insensitive", path: "/", setup: func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, status: http.StatusOK},
		{name: "query", path: "/?token=" + token, setup: func(*http.Request) {}, status: http.StatusOK},
		{name: "cookie", path: "/", setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "sid", Value: token}) }, status: http.StatusOK},
		{name: "wrong scheme", path: "/", setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token) }, status: http.StatusUnauthorized},
		{name: "missing", path: "/", setup: func(*http.Request) {}, status: http.StatusUnauthorized},
		{name: "garbage", path: "/", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer a.b.c") }, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.setup(req)
			res, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.StatusCode)
		})
	}
}

func TestRequireSessionMinimumRole(t *testing.T) {
	tokens := newTokens(t)
	userToken, _, err := tokens.Generate("user-1", "", identity.RoleUser)
	require.NoError(t, err)
	adminToken, _, err := tokens.Generate("admin-1", "", identity.RoleAdmin)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	app.Get("/admin", RequireSession(SessionConfig{
		Validator:   tokens,
		MinimumRole: identity.RoleAdmin,
	}), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	for token, status := range map[string]int{userToken: http.StatusForbidden, adminToken: http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, status, res.StatusCode)
	}
}

func TestRequireSessionFilter(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	app.Get("/health", RequireSession(SessionConfig{
		Validator: newTokens(t),
		Filter:    func(*fiber.Ctx) bool { return true },
	}), func(c *fiber.Ctx) error { return c.SendString("ok") })

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestSafeRedirect(t *testing.T) {
	for in, want := range map[string]string{
		"/dashboard":          "/dashboard",
		"//evil.example.com":  "",
		"/\\evil.example.com": "",
		"https://example.com": "",
		"":                    "",
	} {
		assert.Equal(t, want, safeRedirect(in), in)
	}
}
