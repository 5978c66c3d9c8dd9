package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenClaims are the claims of a session token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Role  ServerRole `json:"role,omitempty"`
	Email string     `json:"email,omitempty"`
}

// TokenService issues and validates HS256 session tokens.
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	now        func() time.Time
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenConfig, logger Logger) (*TokenService, error) {
	if cfg.SigningKey == "" {
		return nil, goerrors.New("token signing key is required", goerrors.CategoryBadInput)
	}
	if cfg.TTL < 0 {
		return nil, goerrors.New("token TTL must be non-negative", goerrors.CategoryBadInput)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		ttl:        ttl,
		issuer:     cfg.Issuer,
		audience:   jwt.ClaimStrings(cfg.Audience),
		logger:     ResolveLogger("tokens", nil, logger),
		now:        time.Now,
	}, nil
}

// Generate signs a token for the user id with its server role.
func (ts *TokenService) Generate(userID, email string, role ServerRole) (string, time.Time, error) {
	now := ts.now()
	expires := now.Add(ts.ttl)

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   userID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role:  role,
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, expires, nil
}

// Validate parses and validates a token string
func (ts *TokenService) Validate(tokenString string) (*TokenClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid token").
			WithTextCode(TextCodeAuthFailed).
			WithCode(goerrors.CodeUnauthorized)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrAuthenticationFailed.Clone()
	}
	return claims, nil
}
