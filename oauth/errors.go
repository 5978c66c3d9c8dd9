package oauth

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidState = "OAUTH_INVALID_STATE"
	TextCodeStateExpired = "OAUTH_STATE_EXPIRED"
)

// ErrInvalidState is returned when the state is malformed or tampered with.
var ErrInvalidState = goerrors.New("invalid oauth state", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(goerrors.CodeBadRequest)

// ErrStateExpired is returned when the state outlived its TTL.
var ErrStateExpired = goerrors.New("oauth state expired", goerrors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(goerrors.CodeBadRequest)

// ProviderError captures a failed provider call.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
	Raw         map[string]any
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	switch {
	case e.Provider != "" && e.Operation != "":
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	case e.Provider != "":
		scope = e.Provider
	case e.Operation != "":
		scope = e.Operation
	}

	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata flattens the error for logging and rich error metadata.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// WrapProviderError clones base and attaches the provider details of err.
func WrapProviderError(base *goerrors.Error, provider, operation string, err error) *goerrors.Error {
	meta := map[string]any{}
	if provider != "" {
		meta["provider"] = provider
	}
	if operation != "" {
		meta["operation"] = operation
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		for k, v := range perr.Metadata() {
			meta[k] = v
		}
	} else if err != nil {
		meta["error"] = err.Error()
	}

	clone := base.Clone()
	if err != nil {
		clone.Source = err
	}
	return clone.WithMetadata(meta)
}
