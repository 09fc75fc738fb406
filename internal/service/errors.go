package service

import (
	"errors"
	"fmt"
)

var (
	// ErrRecipientInactive is returned when updating the preferences of a
	// recipient who has unsubscribed. Registering again reactivates them.
	ErrRecipientInactive = errors.New("recipient is unsubscribed")
)

// RecipientServiceError wraps errors from recipient operations with the
// operation that failed.
type RecipientServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for RecipientServiceError.
func (e *RecipientServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recipient service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("recipient service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *RecipientServiceError) Unwrap() error {
	return e.Err
}

// NewRecipientServiceError creates a new RecipientServiceError.
func NewRecipientServiceError(operation, message string, err error) *RecipientServiceError {
	return &RecipientServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
