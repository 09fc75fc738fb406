package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/research-digest/internal/api/shared"
	"github.com/phrazzld/research-digest/internal/catalog"
	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/service"
	"github.com/phrazzld/research-digest/internal/service/auth"
	"github.com/phrazzld/research-digest/internal/store"
	"github.com/phrazzld/research-digest/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing the error itself.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrWrongTokenAction),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	// Authorization errors
	case errors.Is(err, auth.ErrOperatorDisabled):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, store.ErrRecipientNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrContactExists),
		errors.Is(err, service.ErrRecipientInactive):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, catalog.ErrUnknownCategory):
		return http.StatusBadRequest

	// Background work cannot be accepted right now
	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err that reveals no
// internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "This link has expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrWrongTokenAction),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"
	case errors.Is(err, auth.ErrOperatorDisabled):
		return "Operator access is disabled"

	case errors.Is(err, store.ErrRecipientNotFound):
		return "Recipient not found"
	case errors.Is(err, store.ErrContactExists):
		return "Email already registered"
	case errors.Is(err, service.ErrRecipientInactive):
		return "Recipient is unsubscribed; register again to resubscribe"

	case errors.Is(err, catalog.ErrUnknownCategory):
		return "Unknown category"
	case errors.Is(err, domain.ErrInvalidCadence):
		return "Invalid frequency: must be DAILY, WEEKLY or MONTHLY"
	case errors.Is(err, domain.ErrInvalidContactAddress),
		errors.Is(err, domain.ErrEmptyContactAddress):
		return "Invalid email address"
	case errors.Is(err, domain.ErrNoCategories),
		errors.Is(err, domain.ErrEmptyCategory):
		return "At least one category is required"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return "Too much work queued, try again later"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err, logging the
// redacted details. A non-empty fallback replaces the generic message of
// unmapped errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		msg = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}

// SanitizeValidationError turns a validator error into a message naming the
// first failing field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	field := fe.Field()
	if ns := fe.Namespace(); strings.Contains(ns, ".") {
		_, field, _ = strings.Cut(ns, ".")
	}
	return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "email":
		return "invalid email format"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
