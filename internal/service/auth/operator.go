package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// OperatorVerifier checks operator bearer tokens.
type OperatorVerifier interface {
	// Verify returns nil when token matches the configured operator token.
	Verify(token string) error
	// Enabled reports whether an operator token is configured at all.
	Enabled() bool
}

// BcryptOperatorVerifier compares tokens against a bcrypt hash.
type BcryptOperatorVerifier struct {
	hash []byte
}

var _ OperatorVerifier = (*BcryptOperatorVerifier)(nil)

// NewBcryptOperatorVerifier creates a verifier for hash. An empty hash gives
// a verifier that rejects everything with ErrOperatorDisabled.
func NewBcryptOperatorVerifier(hash string) (*BcryptOperatorVerifier, error) {
	if hash == "" {
		return &BcryptOperatorVerifier{}, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("operator token hash is not a bcrypt hash: %w", err)
	}
	return &BcryptOperatorVerifier{hash: []byte(hash)}, nil
}

// Enabled implements OperatorVerifier.
func (v *BcryptOperatorVerifier) Enabled() bool {
	return len(v.hash) > 0
}

// Verify implements OperatorVerifier.
func (v *BcryptOperatorVerifier) Verify(token string) error {
	if !v.Enabled() {
		return ErrOperatorDisabled
	}
	if token == "" {
		return ErrMissingToken
	}
	err := bcrypt.CompareHashAndPassword(v.hash, []byte(token))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidToken
	}
	return err
}

// HashOperatorToken returns the bcrypt hash to configure for token.
func HashOperatorToken(token string) (string, error) {
	if len(token) < 16 {
		return "", fmt.Errorf("operator token must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash operator token: %w", err)
	}
	return string(hash), nil
}
