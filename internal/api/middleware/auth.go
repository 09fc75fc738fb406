package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/research-digest/internal/api/shared"
	"github.com/phrazzld/research-digest/internal/service/auth"
)

// bearerToken extracts the token of an "Authorization: Bearer <token>"
// header. ok is false when the header is missing or malformed.
func bearerToken(r *http.Request) (token string, msg string, ok bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Authorization header required", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", "Invalid authorization format", false
	}
	return strings.TrimSpace(token), "", true
}

// RecipientAuth authenticates recipients by the manage token issued at
// registration.
type RecipientAuth struct {
	tokens auth.TokenService
}

// NewRecipientAuth creates a RecipientAuth.
func NewRecipientAuth(tokens auth.TokenService) *RecipientAuth {
	return &RecipientAuth{tokens: tokens}
}

// Authenticate validates the bearer manage token and stores the recipient ID
// in the request context.
func (m *RecipientAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, msg, ok := bearerToken(r)
		if !ok {
			shared.RespondWithError(w, r, http.StatusUnauthorized, msg)
			return
		}

		id, err := m.tokens.ValidateManageToken(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrExpiredToken):
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Token expired")
			return
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrWrongTokenAction),
			errors.Is(err, auth.ErrMissingToken):
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
			return
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Authentication error", err)
			return
		}

		next.ServeHTTP(w, r.WithContext(shared.WithRecipientID(r.Context(), id)))
	})
}

// OperatorAuth guards the administrative routes with the operator bearer
// token.
type OperatorAuth struct {
	verifier auth.OperatorVerifier
}

// NewOperatorAuth creates an OperatorAuth.
func NewOperatorAuth(verifier auth.OperatorVerifier) *OperatorAuth {
	return &OperatorAuth{verifier: verifier}
}

// Authenticate rejects requests without the operator token. Failed attempts
// are logged at warn level.
func (m *OperatorAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.verifier.Enabled() {
			shared.RespondWithError(w, r, http.StatusForbidden, "Operator access is disabled")
			return
		}

		token, msg, ok := bearerToken(r)
		if !ok {
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, msg, auth.ErrMissingToken,
				shared.WithElevatedLogLevel())
			return
		}

		if err := m.verifier.Verify(token); err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Invalid token", err,
					shared.WithElevatedLogLevel())
				return
			}
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Authentication error", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
