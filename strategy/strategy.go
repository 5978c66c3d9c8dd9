// Package strategy turns an authentication attempt into a canonical user.
// A Strategy verifies the attempt and produces an assertion; the Registry
// resolves the assertion to a user and issues a session token.
package strategy

import (
	"context"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-identity"
)

// Kinds of strategy.
const (
	KindPassword = "password"
	KindOAuth    = "oauth"
)

// Strategy ids of the built in strategies.
const (
	LocalID   = "local"
	GitHubID  = "github"
	GoogleID  = "google"
	AzureADID = "azuread"
	OIDCID    = "oidc"
)

// Metadata describes a strategy to clients.
type Metadata struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"type"`
	// URL is the path starting the flow. Empty for password strategies.
	URL string `json:"url,omitempty"`
}

// BeginRequest starts a redirect based flow.
type BeginRequest struct {
	RedirectURL string
	InviteToken string
}

// Redirect is where the user agent is sent to authenticate.
type Redirect struct {
	URL   string
	State string
}

// CompleteRequest carries the credentials of an attempt. Password
// strategies read Email and Password, redirect strategies Code and State.
type CompleteRequest struct {
	Email    string
	Password string
	ClientIP string

	Code  string
	State string
}

// Assertion is the verified outcome of a strategy.
type Assertion struct {
	identity.ExternalIdentity
	// UserID is set when the strategy authenticated an existing account.
	UserID      string
	RedirectURL string
	InviteToken string
}

// Strategy is one way of authenticating.
type Strategy interface {
	ID() string
	Metadata() Metadata
	BeginAuth(ctx context.Context, req BeginRequest) (*Redirect, error)
	CompleteAuth(ctx context.Context, req CompleteRequest) (*Assertion, error)
}

const (
	TextCodeStrategyNotFound = "STRATEGY_NOT_FOUND"
	TextCodeNoRedirect       = "STRATEGY_NO_REDIRECT"
)

// ErrStrategyNotFound is returned for an unknown or disabled strategy id.
var ErrStrategyNotFound = goerrors.New("authentication strategy not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeStrategyNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrNoRedirect is returned by BeginAuth of strategies without a redirect step.
var ErrNoRedirect = goerrors.New("authentication strategy has no redirect step", goerrors.CategoryBadInput).
	WithTextCode(TextCodeNoRedirect).
	WithCode(goerrors.CodeBadRequest)

func authFailed(strategyID, reason string) *goerrors.Error {
	return identity.ErrAuthenticationFailed.Clone().WithMetadata(map[string]any{
		"strategy": strategyID,
		"reason":   reason,
	})
}
