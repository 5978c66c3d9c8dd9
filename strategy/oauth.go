package strategy

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/oauth"
)

// OAuth runs the authorization code flow with PKCE against a provider.
type OAuth struct {
	id       string
	name     string
	provider oauth.Provider
	states   oauth.StateManager
	logger   identity.Logger
}

var _ Strategy = (*OAuth)(nil)

// NewOAuth wraps provider as a strategy. The strategy id is the provider
// name; name is shown to clients.
func NewOAuth(provider oauth.Provider, states oauth.StateManager, name string, logger identity.Logger) *OAuth {
	id := provider.Name()
	if strings.TrimSpace(name) == "" {
		name = id
	}
	return &OAuth{
		id:       id,
		name:     name,
		provider: provider,
		states:   states,
		logger:   identity.ResolveLogger("strategy."+id, nil, logger),
	}
}

func (s *OAuth) ID() string { return s.id }

func (s *OAuth) Metadata() Metadata {
	return Metadata{
		ID:   s.id,
		Name: s.name,
		Kind: KindOAuth,
		URL:  "/auth/" + s.id + "/begin",
	}
}

// BeginAuth returns the provider authorization URL. The PKCE verifier,
// redirect and invite token travel inside the sealed state.
func (s *OAuth) BeginAuth(_ context.Context, req BeginRequest) (*Redirect, error) {
	verifier, err := oauth.GenerateCodeVerifier()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code verifier")
	}

	state, err := s.states.Encode(&oauth.State{
		Strategy:     s.id,
		CodeVerifier: verifier,
		RedirectURL:  req.RedirectURL,
		InviteToken:  strings.TrimSpace(req.InviteToken),
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode oauth state")
	}

	return &Redirect{
		URL:   s.provider.AuthCodeURL(state, oauth.WithPKCE(oauth.CodeChallenge(verifier), "S256")),
		State: state,
	}, nil
}

// CompleteAuth validates the returned state, exchanges the code and reads
// the profile. Only a verified email is accepted.
func (s *OAuth) CompleteAuth(ctx context.Context, req CompleteRequest) (*Assertion, error) {
	if req.Code == "" {
		return nil, authFailed(s.id, "missing_code")
	}

	state, err := s.states.Decode(req.State)
	if err != nil {
		return nil, oauth.WrapProviderError(identity.ErrAuthenticationFailed, s.id, "state", err)
	}
	if state.Strategy != s.id {
		return nil, authFailed(s.id, "state_mismatch")
	}

	token, err := s.provider.Exchange(ctx, req.Code, oauth.WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		s.logger.Warn("code exchange failed", "error", err)
		return nil, oauth.WrapProviderError(identity.ErrAuthenticationFailed, s.id, "exchange", err)
	}

	profile, err := s.provider.UserInfo(ctx, token)
	if err != nil {
		s.logger.Warn("user info failed", "error", err)
		return nil, oauth.WrapProviderError(identity.ErrAuthenticationFailed, s.id, "userinfo", err)
	}

	email := identity.NormalizeEmail(profile.Email)
	if email == "" {
		return nil, authFailed(s.id, "email_missing")
	}
	if !profile.EmailVerified {
		return nil, authFailed(s.id, "email_not_verified")
	}

	return &Assertion{
		ExternalIdentity: identity.ExternalIdentity{
			Provider: s.id,
			Subject:  profile.Subject,
			Email:    email,
			Name:     profile.DisplayName(),
			Avatar:   profile.AvatarURL,
			Bio:      profile.Bio,
			Company:  profile.Company,
		},
		RedirectURL: state.RedirectURL,
		InviteToken: state.InviteToken,
	}, nil
}
