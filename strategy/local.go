package strategy

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/metrics"
)

const (
	actionLogin    = "local.login"
	actionRegister = "local.register"
)

// Accounts is the part of identity.Service the password strategy needs.
type Accounts interface {
	ValidatePassword(ctx context.Context, email, password string) (string, bool, error)
	CreateUser(ctx context.Context, input identity.CreateUserInput, opts ...identity.CreateOption) (string, error)
}

// Local authenticates with email and password.
type Local struct {
	accounts Accounts
	limiter  identity.RateLimiter
	invites  identity.InviteStore
	config   identity.ServerConfig
	logger   identity.Logger
}

var _ Strategy = (*Local)(nil)

type LocalOption func(*Local)

func WithRateLimiter(limiter identity.RateLimiter) LocalOption {
	return func(l *Local) {
		if limiter != nil {
			l.limiter = limiter
		}
	}
}

func WithInviteStore(invites identity.InviteStore) LocalOption {
	return func(l *Local) {
		l.invites = invites
	}
}

func WithLocalLogger(logger identity.Logger) LocalOption {
	return func(l *Local) {
		l.logger = logger
	}
}

func NewLocal(accounts Accounts, config identity.ServerConfig, opts ...LocalOption) *Local {
	l := &Local{
		accounts: accounts,
		limiter:  allowAll{},
		config:   config,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = identity.ResolveLogger("strategy.local", nil, l.logger)
	return l
}

func (l *Local) ID() string { return LocalID }

func (l *Local) Metadata() Metadata {
	return Metadata{ID: LocalID, Name: "Email and password", Kind: KindPassword}
}

func (l *Local) BeginAuth(context.Context, BeginRequest) (*Redirect, error) {
	return nil, ErrNoRedirect.Clone()
}

// CompleteAuth checks the password of the account owning the email as
// primary. Unknown accounts and wrong passwords fail the same way.
func (l *Local) CompleteAuth(ctx context.Context, req CompleteRequest) (*Assertion, error) {
	email := identity.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, authFailed(LocalID, "missing_credentials")
	}

	if err := l.allow(ctx, actionLogin, email); err != nil {
		return nil, err
	}

	userID, ok, err := l.accounts.ValidatePassword(ctx, email, req.Password)
	switch {
	case identity.IsNotFound(err):
		return nil, authFailed(LocalID, "unknown_account")
	case err != nil:
		return nil, err
	case !ok:
		return nil, authFailed(LocalID, "bad_password")
	}

	return &Assertion{
		ExternalIdentity: identity.ExternalIdentity{
			Provider: LocalID,
			Subject:  userID,
			Email:    email,
		},
		UserID: userID,
	}, nil
}

// RegisterRequest is a password sign up.
type RegisterRequest struct {
	Name        string
	Email       string
	Password    string
	InviteToken string
	ClientIP    string
}

// Register creates a password account. Invite only servers require a
// valid invite for the email; the invite is finalized once the account
// exists.
func (l *Local) Register(ctx context.Context, req RegisterRequest) (string, error) {
	email := identity.NormalizeEmail(req.Email)

	if err := l.allow(ctx, actionRegister, rateKey(email, req.ClientIP)); err != nil {
		return "", err
	}

	token := strings.TrimSpace(req.InviteToken)
	if token == "" && l.config.InviteOnly(ctx) {
		return "", identity.ErrInviteRequired.Clone()
	}

	if token != "" {
		if l.invites == nil {
			return "", identity.ErrInvalidInvite.Clone()
		}
		if _, err := l.invites.Validate(ctx, email, token); err != nil {
			return "", err
		}
	}

	userID, err := l.accounts.CreateUser(ctx, identity.CreateUserInput{
		Name:     req.Name,
		Email:    email,
		Password: req.Password,
		Source:   LocalID,
	})
	if err != nil {
		return "", err
	}

	if token != "" {
		if err := l.invites.Finalize(ctx, email, userID); err != nil {
			l.logger.Error("failed to finalize invite", "user_id", userID, "error", err)
		}
	}
	return userID, nil
}

func (l *Local) allow(ctx context.Context, action, key string) error {
	allowed, err := l.limiter.Allow(ctx, action, key)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "rate limiter failed")
	}
	if !allowed {
		metrics.ObserveRateLimited(action)
		l.logger.Warn("attempt rate limited", "action", action)
		return identity.ErrRateLimited.Clone()
	}
	return nil
}

func rateKey(email, clientIP string) string {
	if clientIP == "" {
		return email
	}
	return email + "|" + clientIP
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string, string) (bool, error) { return true, nil }
