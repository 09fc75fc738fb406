package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/phrazzld/research-digest/internal/api/shared"
	"github.com/phrazzld/research-digest/internal/catalog"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/service"
)

// ManageTokenIssuer issues the token returned at registration.
type ManageTokenIssuer interface {
	IssueManageToken(recipientID uuid.UUID) (string, error)
}

// RecipientHandler serves the subscriber endpoints.
type RecipientHandler struct {
	recipients service.RecipientService
	tokens     ManageTokenIssuer
	catalog    *catalog.Catalog
	logger     *slog.Logger
}

// NewRecipientHandler creates a RecipientHandler.
func NewRecipientHandler(
	recipients service.RecipientService,
	tokens ManageTokenIssuer,
	cat *catalog.Catalog,
	log *slog.Logger,
) *RecipientHandler {
	return &RecipientHandler{
		recipients: recipients,
		tokens:     tokens,
		catalog:    cat,
		logger:     log.With("component", "recipient_handler"),
	}
}

// Categories handles GET /api/categories.
func (h *RecipientHandler) Categories(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]any{"groups": h.catalog.Groups()})
}

// Register handles POST /api/recipients. An existing address is updated
// and reactivated rather than rejected.
func (h *RecipientHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	recipient, created, err := h.recipients.Register(r.Context(), service.Registration{
		ContactAddress: req.Email,
		DisplayName:    req.Name,
		Categories:     req.Categories,
		Cadence:        req.Frequency,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to register")
		return
	}

	token, err := h.tokens.IssueManageToken(recipient.ID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to issue token")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	shared.RespondWithJSON(w, r, status, RegisterResponse{
		RecipientResponse: recipientToResponse(recipient),
		Created:           created,
		ManageToken:       token,
	})
}

// UpdatePreferences handles PUT /api/recipients/{id}. The manage token in
// the request context must belong to the recipient in the path.
func (h *RecipientHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid recipient ID")
		return
	}
	authenticated, ok := shared.GetRecipientID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
		return
	}
	if authenticated != id {
		log.Warn("manage token used for another recipient",
			slog.String("token_recipient", authenticated.String()),
			slog.String("path_recipient", id.String()))
		shared.RespondWithError(w, r, http.StatusForbidden, "Token does not grant access to this recipient")
		return
	}

	var req UpdatePreferencesRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	recipient, err := h.recipients.UpdatePreferences(r.Context(), id, service.PreferencesUpdate{
		DisplayName: req.Name,
		Categories:  req.Categories,
		Cadence:     req.Frequency,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to update preferences")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, recipientToResponse(recipient))
}

// Unsubscribe handles GET /unsubscribe?token=, the target of the link in
// every digest.
func (h *RecipientHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing token")
		return
	}

	if _, err := h.recipients.Unsubscribe(r.Context(), token); err != nil {
		HandleAPIError(w, r, err, "Failed to unsubscribe")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, MessageResponse{Message: "Successfully unsubscribed"})
}
