package oauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// StateManager encodes the state carried through the provider redirect.
type StateManager interface {
	Encode(state *State) (string, error)
	Decode(token string) (*State, error)
}

// State is the payload of the state parameter.
type State struct {
	Nonce        string `json:"n"`
	Strategy     string `json:"s"`
	CodeVerifier string `json:"cv,omitempty"`
	RedirectURL  string `json:"r,omitempty"`
	InviteToken  string `json:"it,omitempty"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
}

// EncryptedStateManager seals the state with AES-GCM and signs the
// ciphertext with HMAC-SHA256.
type EncryptedStateManager struct {
	encryptionKey []byte
	hmacKey       []byte
	ttl           time.Duration
	now           func() time.Time
}

// NewEncryptedStateManager expects a 16, 24 or 32 byte encryption key.
func NewEncryptedStateManager(encryptionKey, hmacKey []byte, ttl time.Duration) (*EncryptedStateManager, error) {
	switch len(encryptionKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("oauth: state encryption key must be 16, 24 or 32 bytes, got %d", len(encryptionKey))
	}
	if len(hmacKey) == 0 {
		return nil, fmt.Errorf("oauth: state signing key is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &EncryptedStateManager{
		encryptionKey: encryptionKey,
		hmacKey:       hmacKey,
		ttl:           ttl,
		now:           time.Now,
	}, nil
}

func (sm *EncryptedStateManager) Encode(state *State) (string, error) {
	if state == nil {
		return "", ErrInvalidState.Clone()
	}

	now := sm.now()
	if state.IssuedAt == 0 {
		state.IssuedAt = now.Unix()
	}
	if state.ExpiresAt == 0 {
		state.ExpiresAt = now.Add(sm.ttl).Unix()
	}
	if state.Nonce == "" {
		state.Nonce = GenerateNonce()
	}

	plaintext, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	gcm, err := sm.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	result := append(sm.sign(ciphertext), ciphertext...)

	return base64.RawURLEncoding.EncodeToString(result), nil
}

func (sm *EncryptedStateManager) Decode(token string) (*State, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(data) < sha256.Size {
		return nil, ErrInvalidState.Clone()
	}

	signature, ciphertext := data[:sha256.Size], data[sha256.Size:]
	if !hmac.Equal(signature, sm.sign(ciphertext)) {
		return nil, ErrInvalidState.Clone()
	}

	gcm, err := sm.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidState.Clone()
	}

	plaintext, err := gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, ErrInvalidState.Clone()
	}

	var state State
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, ErrInvalidState.Clone()
	}

	if sm.now().Unix() > state.ExpiresAt {
		return nil, ErrStateExpired.Clone()
	}
	return &state, nil
}

func (sm *EncryptedStateManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (sm *EncryptedStateManager) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, sm.hmacKey)
	mac.Write(data)
	return mac.Sum(nil)
}

func GenerateNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// GenerateCodeVerifier returns a PKCE verifier.
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CodeChallenge returns the S256 challenge for verifier.
func CodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
