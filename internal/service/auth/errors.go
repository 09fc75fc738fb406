package auth

import "errors"

// Common authentication errors
var (
	// ErrInvalidToken indicates the token format is invalid or signature doesn't match
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates the token has expired
	ErrExpiredToken = errors.New("token has expired")

	// ErrWrongTokenAction indicates a validly signed token issued for another purpose
	ErrWrongTokenAction = errors.New("token not valid for this action")

	// ErrMissingToken indicates a token was expected but not provided
	ErrMissingToken = errors.New("token is missing")

	// ErrOperatorDisabled is returned when no operator token hash is configured
	ErrOperatorDisabled = errors.New("operator access is not configured")
)
