package identity

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidationFailed   = "VALIDATION_FAILED"
	TextCodeInvalidRole        = "INVALID_ROLE"
	TextCodeGuestModeDisabled  = "GUEST_MODE_DISABLED"
	TextCodePasswordTooShort   = "PASSWORD_TOO_SHORT"
	TextCodePasswordTooLong    = "PASSWORD_TOO_LONG"
	TextCodeEmailTaken         = "EMAIL_TAKEN"
	TextCodePrimaryEmailExists = "PRIMARY_EMAIL_EXISTS"
	TextCodeLastAdmin          = "LAST_ADMIN"
	TextCodeLastEmail          = "LAST_EMAIL"
	TextCodePrimaryEmailDelete = "PRIMARY_EMAIL_DELETE"
	TextCodeNotFound           = "NOT_FOUND"
	TextCodeAuthFailed         = "AUTHENTICATION_FAILED"
	TextCodeRateLimited        = "RATE_LIMITED"
	TextCodeInviteRequired     = "INVITE_REQUIRED"
	TextCodeInvalidInvite      = "INVALID_INVITE"
)

// ErrValidation is the base error for malformed input.
var ErrValidation = goerrors.New("validation failed", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidRole is returned when a role name is not one of the server roles.
var ErrInvalidRole = goerrors.New("invalid server role", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRole).
	WithCode(goerrors.CodeBadRequest)

// ErrGuestModeDisabled is returned when the guest role is requested while guest mode is off.
var ErrGuestModeDisabled = goerrors.New("guest role is not enabled on this server", goerrors.CategoryValidation).
	WithTextCode(TextCodeGuestModeDisabled).
	WithCode(goerrors.CodeBadRequest)

// ErrWeakCredential is returned when a password is shorter than the configured minimum.
var ErrWeakCredential = goerrors.New("password too short", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordTooShort).
	WithCode(goerrors.CodeBadRequest)

// ErrPasswordTooLong is returned when a password exceeds MaximumPasswordBytes.
var ErrPasswordTooLong = goerrors.New("password too long", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordTooLong).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailTaken is returned when the email already belongs to an account.
var ErrEmailTaken = goerrors.New("Email taken. Try logging in?", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrPrimaryEmailExists is returned when a second primary email is requested for a user.
var ErrPrimaryEmailExists = goerrors.New("A primary email already exists for this user", goerrors.CategoryConflict).
	WithTextCode(TextCodePrimaryEmailExists).
	WithCode(goerrors.CodeConflict)

// ErrLastAdmin is returned when a change would leave the server without an admin.
var ErrLastAdmin = goerrors.New("Cannot remove the last admin role from the server", goerrors.CategoryBadInput).
	WithTextCode(TextCodeLastAdmin).
	WithCode(goerrors.CodeBadRequest)

// ErrLastEmail is returned when deleting the only email of a user.
var ErrLastEmail = goerrors.New("Cannot delete last user email", goerrors.CategoryBadInput).
	WithTextCode(TextCodeLastEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrPrimaryEmailDelete is returned when deleting the primary email directly.
var ErrPrimaryEmailDelete = goerrors.New("Cannot delete primary email", goerrors.CategoryBadInput).
	WithTextCode(TextCodePrimaryEmailDelete).
	WithCode(goerrors.CodeBadRequest)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAuthenticationFailed is returned when a strategy cannot authenticate the attempt.
var ErrAuthenticationFailed = goerrors.New("authentication failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrRateLimited is returned when an attempt is throttled.
var ErrRateLimited = goerrors.New("too many attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(http.StatusTooManyRequests)

// ErrInviteRequired is returned when registration needs an invite and none was given.
var ErrInviteRequired = goerrors.New("this server is invite only", goerrors.CategoryAuthz).
	WithTextCode(TextCodeInviteRequired).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidInvite is returned when an invite token does not match the email.
var ErrInvalidInvite = goerrors.New("invalid invite", goerrors.CategoryAuthz).
	WithTextCode(TextCodeInvalidInvite).
	WithCode(goerrors.CodeForbidden)

// withMeta clones a sentinel and attaches metadata so the shared value is never mutated.
func withMeta(sentinel *goerrors.Error, meta map[string]any) *goerrors.Error {
	err := sentinel.Clone()
	if len(meta) > 0 {
		err = err.WithMetadata(meta)
	}
	return err
}

func validationError(message string, fields map[string]any) *goerrors.Error {
	err := ErrValidation.Clone()
	err.Message = message
	if len(fields) > 0 {
		err = err.WithMetadata(fields)
	}
	return err
}

// HasTextCode reports whether err is a rich error carrying the given text code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

func hasCategory(err error, category goerrors.Category) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == category
}

// IsValidation reports malformed input, including invalid roles and weak passwords.
func IsValidation(err error) bool {
	return hasCategory(err, goerrors.CategoryValidation)
}

// IsWeakCredential reports a password rejected for length.
func IsWeakCredential(err error) bool {
	return HasTextCode(err, TextCodePasswordTooShort) || HasTextCode(err, TextCodePasswordTooLong)
}

func IsConflict(err error) bool {
	return hasCategory(err, goerrors.CategoryConflict)
}

// IsInvariantViolation reports a rejected change that would break a server invariant.
func IsInvariantViolation(err error) bool {
	return HasTextCode(err, TextCodeLastAdmin) ||
		HasTextCode(err, TextCodeLastEmail) ||
		HasTextCode(err, TextCodePrimaryEmailDelete)
}

func IsNotFound(err error) bool {
	return hasCategory(err, goerrors.CategoryNotFound)
}

func IsAuthenticationFailed(err error) bool {
	return hasCategory(err, goerrors.CategoryAuth)
}

func IsRateLimited(err error) bool {
	return hasCategory(err, goerrors.CategoryRateLimit)
}
