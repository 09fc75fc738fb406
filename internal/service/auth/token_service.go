package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/phrazzld/research-digest/internal/config"
	"github.com/phrazzld/research-digest/internal/platform/logger"
)

// Token actions. A token is only accepted for the action it was issued for.
const (
	ActionUnsubscribe = "unsubscribe"
	ActionManage      = "manage"
)

// MinSecretLength is the minimum length of the signing secret.
const MinSecretLength = 32

// TokenService issues and validates recipient-scoped tokens.
type TokenService interface {
	// IssueUnsubscribeToken returns a signed token that unsubscribes
	// recipientID when presented before it expires.
	IssueUnsubscribeToken(recipientID uuid.UUID) (string, error)

	// ValidateUnsubscribeToken checks the signature, expiry and action of
	// token and returns the recipient it was issued for.
	ValidateUnsubscribeToken(ctx context.Context, token string) (uuid.UUID, error)

	// IssueManageToken returns a signed token that authorises preference
	// updates for recipientID.
	IssueManageToken(recipientID uuid.UUID) (string, error)

	// ValidateManageToken is ValidateUnsubscribeToken for manage tokens.
	ValidateManageToken(ctx context.Context, token string) (uuid.UUID, error)
}

// recipientClaims are the claims carried by a recipient token.
type recipientClaims struct {
	Action string `json:"action"`
	jwt.RegisteredClaims
}

// hmacTokenService implements TokenService with HMAC-SHA256 signatures.
type hmacTokenService struct {
	signingKey []byte
	ttl        time.Duration
	timeFunc   func() time.Time
	clockSkew  time.Duration
}

var _ TokenService = (*hmacTokenService)(nil)

// NewTokenService creates an HS256 TokenService from the auth configuration.
func NewTokenService(cfg config.AuthConfig) (TokenService, error) {
	return newTokenService(cfg.UnsubscribeSecret, cfg.UnsubscribeTokenTTL, time.Now)
}

func newTokenService(secret string, ttl time.Duration, now func() time.Time) (*hmacTokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("unsubscribe secret must be at least %d characters", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("unsubscribe token ttl must be positive")
	}
	return &hmacTokenService{
		signingKey: []byte(secret),
		ttl:        ttl,
		timeFunc:   now,
		clockSkew:  2 * time.Minute,
	}, nil
}

// IssueUnsubscribeToken implements TokenService.
func (s *hmacTokenService) IssueUnsubscribeToken(recipientID uuid.UUID) (string, error) {
	return s.issue(recipientID, ActionUnsubscribe)
}

// IssueManageToken implements TokenService.
func (s *hmacTokenService) IssueManageToken(recipientID uuid.UUID) (string, error) {
	return s.issue(recipientID, ActionManage)
}

// ValidateUnsubscribeToken implements TokenService.
func (s *hmacTokenService) ValidateUnsubscribeToken(ctx context.Context, token string) (uuid.UUID, error) {
	return s.validate(ctx, token, ActionUnsubscribe)
}

// ValidateManageToken implements TokenService.
func (s *hmacTokenService) ValidateManageToken(ctx context.Context, token string) (uuid.UUID, error) {
	return s.validate(ctx, token, ActionManage)
}

func (s *hmacTokenService) issue(recipientID uuid.UUID, action string) (string, error) {
	now := s.timeFunc()
	claims := recipientClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   recipientID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token with HMAC-SHA256: %w", action, err)
	}
	return signed, nil
}

// validate checks token for action and returns its subject.
func (s *hmacTokenService) validate(ctx context.Context, token, action string) (uuid.UUID, error) {
	log := logger.FromContext(ctx).With("token_action", action)
	if token == "" {
		return uuid.Nil, ErrMissingToken
	}

	now := s.timeFunc()
	parsed, err := jwt.ParseWithClaims(
		token,
		&recipientClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			log.Debug("token expired")
			return uuid.Nil, ErrExpiredToken
		}
		log.Debug("token rejected",
			"error_type", fmt.Sprintf("%T", err))
		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*recipientClaims)
	if !ok || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	if claims.Action != action {
		log.Debug("token has wrong action", "action", claims.Action)
		return uuid.Nil, ErrWrongTokenAction
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}
