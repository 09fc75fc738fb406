package auth

import (
	"context"

	"github.com/google/uuid"
)

// MockTokenService is a function-field TokenService for tests.
type MockTokenService struct {
	IssueFn          func(recipientID uuid.UUID) (string, error)
	ValidateFn       func(ctx context.Context, token string) (uuid.UUID, error)
	IssueManageFn    func(recipientID uuid.UUID) (string, error)
	ValidateManageFn func(ctx context.Context, token string) (uuid.UUID, error)
}

var _ TokenService = (*MockTokenService)(nil)

// IssueUnsubscribeToken implements TokenService.
func (m *MockTokenService) IssueUnsubscribeToken(recipientID uuid.UUID) (string, error) {
	if m.IssueFn != nil {
		return m.IssueFn(recipientID)
	}
	return "token-" + recipientID.String(), nil
}

// ValidateUnsubscribeToken implements TokenService.
func (m *MockTokenService) ValidateUnsubscribeToken(ctx context.Context, token string) (uuid.UUID, error) {
	if m.ValidateFn != nil {
		return m.ValidateFn(ctx, token)
	}
	return uuid.Nil, ErrInvalidToken
}

// IssueManageToken implements TokenService.
func (m *MockTokenService) IssueManageToken(recipientID uuid.UUID) (string, error) {
	if m.IssueManageFn != nil {
		return m.IssueManageFn(recipientID)
	}
	return "manage-" + recipientID.String(), nil
}

// ValidateManageToken implements TokenService.
func (m *MockTokenService) ValidateManageToken(ctx context.Context, token string) (uuid.UUID, error) {
	if m.ValidateManageFn != nil {
		return m.ValidateManageFn(ctx, token)
	}
	return uuid.Nil, ErrInvalidToken
}
