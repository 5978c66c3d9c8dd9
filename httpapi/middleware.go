package httpapi

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-identity"
)

const defaultTokenLookup = "header:" + fiber.HeaderAuthorization

// LocalsClaims is the fiber locals key holding the session claims.
const LocalsClaims = "identity.claims"

// TokenValidator validates session tokens.
type TokenValidator interface {
	Validate(token string) (*identity.TokenClaims, error)
}

// SessionConfig configures RequireSession.
type SessionConfig struct {
	Validator TokenValidator
	// TokenLookup lists the token sources, e.g. "header:Authorization,cookie:jwt".
	TokenLookup string
	AuthScheme  string
	// MinimumRole rejects sessions below the role.
	MinimumRole identity.ServerRole
	// RoleLookup reads the current role instead of trusting the role
	// stamped in the token.
	RoleLookup func(ctx context.Context, userID string) (identity.ServerRole, error)
	// Filter skips the middleware when it returns true.
	Filter func(*fiber.Ctx) bool
}

var ErrTokenMissing = goerrors.New("missing or malformed session token", goerrors.CategoryAuth).
	WithTextCode(identity.TextCodeAuthFailed).
	WithCode(goerrors.CodeUnauthorized)

var ErrInsufficientRole = goerrors.New("insufficient server role", goerrors.CategoryAuthz).
	WithTextCode("INSUFFICIENT_ROLE").
	WithCode(goerrors.CodeForbidden)

// RequireSession validates the session token of the request and stores its
// claims in the locals and in the user context.
func RequireSession(cfg SessionConfig) fiber.Handler {
	if cfg.Validator == nil {
		panic("httpapi: RequireSession requires a token validator")
	}
	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	extractors := tokenExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw := ""
		for _, extract := range extractors {
			if raw = extract(c); raw != "" {
				break
			}
		}
		if raw == "" {
			return ErrTokenMissing.Clone()
		}

		claims, err := cfg.Validator.Validate(raw)
		if err != nil {
			return err
		}

		if cfg.RoleLookup != nil {
			role, err := cfg.RoleLookup(c.UserContext(), claims.Subject)
			if identity.IsNotFound(err) {
				return identity.ErrAuthenticationFailed.Clone()
			}
			if err != nil {
				return err
			}
			claims.Role = role
		}

		if cfg.MinimumRole != "" && !claims.Role.IsAtLeast(cfg.MinimumRole) {
			return ErrInsufficientRole.Clone().WithMetadata(map[string]any{
				"required": string(cfg.MinimumRole),
			})
		}

		c.Locals(LocalsClaims, claims)
		c.SetUserContext(identity.WithClaims(c.UserContext(), claims))
		return c.Next()
	}
}

// SessionClaims returns the claims stored by RequireSession.
func SessionClaims(c *fiber.Ctx) (*identity.TokenClaims, bool) {
	claims, ok := c.Locals(LocalsClaims).(*identity.TokenClaims)
	return claims, ok && claims != nil
}

type tokenExtractor func(*fiber.Ctx) string

// tokenExtractors parses "header:Authorization,cookie:jwt,query:token".
func tokenExtractors(lookup, scheme string) []tokenExtractor {
	var out []tokenExtractor
	for _, part := range strings.Split(lookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)

		switch strings.TrimSpace(source) {
		case "header":
			out = append(out, fromHeader(name, scheme))
		case "query":
			out = append(out, func(c *fiber.Ctx) string { return c.Query(name) })
		case "cookie":
			out = append(out, func(c *fiber.Ctx) string { return c.Cookies(name) })
		}
	}
	return out
}

func fromHeader(header, scheme string) tokenExtractor {
	return func(c *fiber.Ctx) string {
		value := c.Get(header)
		l := len(scheme)
		if len(value) > l+1 && strings.EqualFold(value[:l], scheme) && value[l] == ' ' {
			return strings.TrimSpace(value[l+1:])
		}
		return ""
	}
}
