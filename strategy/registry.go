package strategy

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/metrics"
	"github.com/goliatone/go-identity/oauth"
	"github.com/goliatone/go-identity/oauth/azuread"
	"github.com/goliatone/go-identity/oauth/github"
	"github.com/goliatone/go-identity/oauth/google"
	"github.com/goliatone/go-identity/oauth/oidc"
)

// Users is the part of identity.Service the registry needs.
type Users interface {
	Accounts
	FindOrCreateUser(ctx context.Context, ext identity.ExternalIdentity) (*identity.ResolvedIdentity, error)
	GetUserByEmail(ctx context.Context, email string) (*identity.User, error)
	GetUserRole(ctx context.Context, id string) (identity.ServerRole, error)
}

// Deps are the collaborators shared by the strategies.
type Deps struct {
	Users          Users
	Tokens         *identity.TokenService
	Limiter        identity.RateLimiter
	Invites        identity.InviteStore
	Config         identity.ServerConfig
	LoggerProvider identity.LoggerProvider
	Logger         identity.Logger
	HTTPClient     *http.Client
	// PublicURL is the externally reachable base URL used for callbacks.
	PublicURL string
}

// Session is the outcome of a successful authentication.
type Session struct {
	UserID      string              `json:"user_id"`
	Email       string              `json:"email"`
	Role        identity.ServerRole `json:"role"`
	Token       string              `json:"token"`
	ExpiresAt   time.Time           `json:"expires_at"`
	IsNewUser   bool                `json:"is_new_user"`
	RedirectURL string              `json:"redirect_url,omitempty"`
}

// Registry holds the enabled strategies.
type Registry struct {
	deps       Deps
	strategies map[string]Strategy
	metadata   []Metadata
	closers    []func()
	logger     identity.Logger
}

// New builds a registry from ready strategies.
func New(deps Deps, strategies ...Strategy) *Registry {
	r := &Registry{
		deps:       deps,
		strategies: make(map[string]Strategy, len(strategies)),
		logger:     identity.ResolveLogger("strategies", deps.LoggerProvider, deps.Logger),
	}
	for _, s := range strategies {
		if s == nil {
			continue
		}
		r.strategies[s.ID()] = s
		r.metadata = append(r.metadata, s.Metadata())
	}
	sort.Slice(r.metadata, func(i, j int) bool {
		return r.metadata[i].ID < r.metadata[j].ID
	})
	return r
}

// NewRegistry builds the strategies enabled in cfg. OAuth strategies need
// the state keys.
func NewRegistry(cfg identity.StrategiesConfig, deps Deps) (*Registry, error) {
	if deps.Users == nil || deps.Tokens == nil || deps.Config == nil {
		return nil, goerrors.New("strategy registry requires users, tokens and config", goerrors.CategoryBadInput)
	}

	var strategies []Strategy
	if cfg.LocalEnabled {
		strategies = append(strategies, NewLocal(deps.Users, deps.Config,
			WithRateLimiter(deps.Limiter),
			WithInviteStore(deps.Invites),
			WithLocalLogger(identity.ResolveLogger("strategy.local", deps.LoggerProvider, deps.Logger)),
		))
	}

	providers, closers, err := buildProviders(cfg, deps)
	if err != nil {
		return nil, err
	}

	if len(providers) > 0 {
		states, err := oauth.NewEncryptedStateManager(
			[]byte(cfg.StateEncryptionKey),
			[]byte(cfg.StateSigningKey),
			cfg.StateTTL,
		)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid oauth state keys")
		}
		for _, p := range providers {
			logger := identity.ResolveLogger("strategy."+p.provider.Name(), deps.LoggerProvider, deps.Logger)
			strategies = append(strategies, NewOAuth(p.provider, states, p.name, logger))
		}
	}

	r := New(deps, strategies...)
	r.closers = closers
	return r, nil
}

type namedProvider struct {
	name     string
	provider oauth.Provider
}

func buildProviders(cfg identity.StrategiesConfig, deps Deps) ([]namedProvider, []func(), error) {
	var (
		out     []namedProvider
		closers []func()
	)

	if cfg.GitHub.Enabled() {
		out = append(out, namedProvider{name: "GitHub", provider: github.New(github.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			CallbackURL:  callbackURL(deps.PublicURL, GitHubID),
			Scopes:       cfg.GitHub.Scopes,
			HTTPClient:   deps.HTTPClient,
		})})
	}

	if cfg.Google.Enabled() {
		out = append(out, namedProvider{name: "Google", provider: google.New(google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			CallbackURL:  callbackURL(deps.PublicURL, GoogleID),
			Scopes:       cfg.Google.Scopes,
			HTTPClient:   deps.HTTPClient,
		})})
	}

	if cfg.AzureAD.Enabled() {
		p, err := azuread.New(azuread.Config{
			TenantID:     cfg.AzureAD.TenantID,
			ClientID:     cfg.AzureAD.ClientID,
			ClientSecret: cfg.AzureAD.ClientSecret,
			CallbackURL:  callbackURL(deps.PublicURL, AzureADID),
			Scopes:       cfg.AzureAD.Scopes,
			HTTPClient:   deps.HTTPClient,
		})
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, p.Close)
		out = append(out, namedProvider{name: "Microsoft", provider: p})
	}

	if cfg.OIDC.Enabled() {
		p, err := oidc.New(oidc.Config{
			Name:         OIDCID,
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			CallbackURL:  callbackURL(deps.PublicURL, OIDCID),
			Scopes:       cfg.OIDC.Scopes,
			Issuer:       cfg.OIDC.Issuer,
			AuthURL:      cfg.OIDC.AuthURL,
			TokenURL:     cfg.OIDC.TokenURL,
			UserInfoURL:  cfg.OIDC.UserInfoURL,
			JWKSURL:      cfg.OIDC.JWKSURL,
			HTTPClient:   deps.HTTPClient,
		})
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}
		closers = append(closers, p.Close)
		out = append(out, namedProvider{name: cfg.OIDC.Name, provider: p})
	}

	return out, closers, nil
}

func callbackURL(publicURL, id string) string {
	return strings.TrimSuffix(publicURL, "/") + "/auth/" + id + "/callback"
}

// Close stops background key refreshes of the providers.
func (r *Registry) Close() {
	for _, c := range r.closers {
		c()
	}
	r.closers = nil
}

// Get returns the strategy registered under id.
func (r *Registry) Get(id string) (Strategy, error) {
	s, ok := r.strategies[id]
	if !ok {
		return nil, ErrStrategyNotFound.Clone().WithMetadata(map[string]any{"strategy": id})
	}
	return s, nil
}

// Strategies lists the enabled strategies sorted by id.
func (r *Registry) Strategies() []Metadata {
	out := make([]Metadata, len(r.metadata))
	copy(out, r.metadata)
	return out
}

// Local returns the password strategy, if enabled.
func (r *Registry) Local() (*Local, bool) {
	s, ok := r.strategies[LocalID].(*Local)
	return s, ok
}

// Begin starts the redirect flow of the strategy.
func (r *Registry) Begin(ctx context.Context, id string, req BeginRequest) (*Redirect, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return s.BeginAuth(ctx, req)
}

// Authenticate completes an attempt and issues a session for the
// canonical user.
func (r *Registry) Authenticate(ctx context.Context, id string, req CompleteRequest) (*Session, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	session, err := r.authenticate(ctx, s, req)
	result := "success"
	if err != nil {
		result = attemptResult(err)
	}
	metrics.ObserveAuthAttempt(id, result, time.Since(start))

	if err != nil {
		r.logger.Debug("authentication failed", "strategy", id, "result", result, "error", err)
		return nil, err
	}
	r.logger.Info("authenticated", "strategy", id, "user_id", session.UserID, "new_user", session.IsNewUser)
	return session, nil
}

func (r *Registry) authenticate(ctx context.Context, s Strategy, req CompleteRequest) (*Session, error) {
	assertion, err := s.CompleteAuth(ctx, req)
	if err != nil {
		return nil, err
	}

	session := &Session{
		UserID:      assertion.UserID,
		Email:       assertion.Email,
		RedirectURL: assertion.RedirectURL,
	}

	if session.UserID == "" {
		resolved, err := r.resolve(ctx, assertion)
		if err != nil {
			return nil, err
		}
		session.UserID = resolved.ID
		session.Email = resolved.Email
		session.IsNewUser = resolved.IsNewUser
	}

	role, err := r.deps.Users.GetUserRole(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	session.Role = role

	token, expires, err := r.deps.Tokens.Generate(session.UserID, session.Email, role)
	if err != nil {
		return nil, err
	}
	session.Token = token
	session.ExpiresAt = expires
	return session, nil
}

// resolve maps the assertion to a user. On invite only servers a new
// account needs a valid invite for its email.
func (r *Registry) resolve(ctx context.Context, a *Assertion) (*identity.ResolvedIdentity, error) {
	needsInvite := false
	if r.deps.Config.InviteOnly(ctx) || a.InviteToken != "" {
		_, err := r.deps.Users.GetUserByEmail(ctx, a.Email)
		switch {
		case identity.IsNotFound(err):
			needsInvite = true
		case err != nil:
			return nil, err
		}
	}

	if needsInvite {
		if a.InviteToken == "" {
			if r.deps.Config.InviteOnly(ctx) {
				return nil, identity.ErrInviteRequired.Clone()
			}
			needsInvite = false
		} else if r.deps.Invites == nil {
			return nil, identity.ErrInvalidInvite.Clone()
		} else if _, err := r.deps.Invites.Validate(ctx, a.Email, a.InviteToken); err != nil {
			return nil, err
		}
	}

	resolved, err := r.deps.Users.FindOrCreateUser(ctx, a.ExternalIdentity)
	if err != nil {
		return nil, err
	}

	if needsInvite && resolved.IsNewUser {
		if err := r.deps.Invites.Finalize(ctx, resolved.Email, resolved.ID); err != nil {
			r.logger.Error("failed to finalize invite", "user_id", resolved.ID, "error", err)
		}
	}
	return resolved, nil
}

func attemptResult(err error) string {
	switch {
	case identity.IsRateLimited(err):
		return "rate_limited"
	case identity.IsAuthenticationFailed(err):
		return "failure"
	default:
		return "error"
	}
}
