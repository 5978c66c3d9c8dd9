package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"unicode/utf8"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// MinimumPasswordLength is the default minimum password length.
const MinimumPasswordLength = 8

// MaximumPasswordBytes is the longest password bcrypt can digest.
const MaximumPasswordBytes = 72

const randomPasswordLength = 20

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Compare returns false with a nil error on mismatch.
	Compare(password, digest string) (bool, error)
}

// BcryptHasher is the default PasswordHasher.
type BcryptHasher struct {
	MinLength int
	Cost      int
}

// NewBcryptHasher returns a hasher enforcing minLength, falling back to
// MinimumPasswordLength when minLength is not positive.
func NewBcryptHasher(minLength int) *BcryptHasher {
	if minLength <= 0 {
		minLength = MinimumPasswordLength
	}
	return &BcryptHasher{MinLength: minLength, Cost: passwordHashCost()}
}

// Hash will generate a password digest
func (h *BcryptHasher) Hash(password string) (string, error) {
	minLength := h.MinLength
	if minLength <= 0 {
		minLength = MinimumPasswordLength
	}

	if utf8.RuneCountInString(password) < minLength {
		return "", withMeta(ErrWeakCredential, map[string]any{
			"min_length": minLength,
		})
	}

	if len(password) > MaximumPasswordBytes {
		return "", withMeta(ErrPasswordTooLong, map[string]any{
			"max_bytes": MaximumPasswordBytes,
		})
	}

	cost := h.Cost
	if cost == 0 {
		cost = passwordHashCost()
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(digest), nil
}

// Compare will validate the given cleartext password matches the digest
func (h *BcryptHasher) Compare(password, digest string) (bool, error) {
	if digest == "" || len(password) > MaximumPasswordBytes {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, goerrors.Wrap(err, goerrors.CategoryInternal, "malformed password digest")
}

// RandomPassword returns a random url safe password for accounts created
// from external identities.
func RandomPassword() string {
	buf := make([]byte, randomPasswordLength)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:randomPasswordLength]
}
