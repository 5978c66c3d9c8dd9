package identity_test

import (
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"

	"github.com/goliatone/go-identity"
)

func TestStructuredErrorProperties(t *testing.T) {
	tests := []struct {
		name     string
		err      *goerrors.Error
		category goerrors.Category
		textCode string
	}{
		{"ErrValidation", identity.ErrValidation, goerrors.CategoryValidation, identity.TextCodeValidationFailed},
		{"ErrInvalidRole", identity.ErrInvalidRole, goerrors.CategoryValidation, identity.TextCodeInvalidRole},
		{"ErrGuestModeDisabled", identity.ErrGuestModeDisabled, goerrors.CategoryValidation, identity.TextCodeGuestModeDisabled},
		{"ErrWeakCredential", identity.ErrWeakCredential, goerrors.CategoryValidation, identity.TextCodePasswordTooShort},
		{"ErrEmailTaken", identity.ErrEmailTaken, goerrors.CategoryConflict, identity.TextCodeEmailTaken},
		{"ErrPrimaryEmailExists", identity.ErrPrimaryEmailExists, goerrors.CategoryConflict, identity.TextCodePrimaryEmailExists},
		{"ErrLastAdmin", identity.ErrLastAdmin, goerrors.CategoryBadInput, identity.TextCodeLastAdmin},
		{"ErrLastEmail", identity.ErrLastEmail, goerrors.CategoryBadInput, identity.TextCodeLastEmail},
		{"ErrPrimaryEmailDelete", identity.ErrPrimaryEmailDelete, goerrors.CategoryBadInput, identity.TextCodePrimaryEmailDelete},
		{"ErrNotFound", identity.ErrNotFound, goerrors.CategoryNotFound, identity.TextCodeNotFound},
		{"ErrAuthenticationFailed", identity.ErrAuthenticationFailed, goerrors.CategoryAuth, identity.TextCodeAuthFailed},
		{"ErrRateLimited", identity.ErrRateLimited, goerrors.CategoryRateLimit, identity.TextCodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.textCode, tt.err.TextCode)
		})
	}
}

func TestErrorClassifiers(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", identity.ErrLastAdmin)

	assert.True(t, identity.IsInvariantViolation(wrapped))
	assert.True(t, identity.HasTextCode(wrapped, identity.TextCodeLastAdmin))
	assert.False(t, identity.IsConflict(wrapped))

	assert.True(t, identity.IsWeakCredential(identity.ErrWeakCredential))
	assert.True(t, identity.IsValidation(identity.ErrWeakCredential))
	assert.True(t, identity.IsConflict(identity.ErrPrimaryEmailExists))
	assert.True(t, identity.IsNotFound(identity.ErrNotFound))
	assert.True(t, identity.IsAuthenticationFailed(identity.ErrAuthenticationFailed))
	assert.True(t, identity.IsRateLimited(identity.ErrRateLimited))

	plain := errors.New("boom")
	assert.False(t, identity.IsValidation(plain))
	assert.False(t, identity.HasTextCode(plain, identity.TextCodeNotFound))
	assert.False(t, identity.IsInvariantViolation(nil))
}
