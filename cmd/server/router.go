package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/research-digest/internal/api"
	apiMiddleware "github.com/phrazzld/research-digest/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
// It accepts the application dependencies to create handlers and register routes.
// Returns the configured router.
func (app *application) setupRouter() http.Handler {
	// Create a router
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	// Create API handlers using the application's services
	recipientHandler := api.NewRecipientHandler(app.recipientService, app.tokenService, app.catalog, app.logger)
	adminHandler := api.NewAdminHandler(app.eventEmitter, app.statsService, app.catalog, app.logger)
	recipientAuth := apiMiddleware.NewRecipientAuth(app.tokenService)
	operatorAuth := apiMiddleware.NewOperatorAuth(app.operatorVerifier)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		// Subscriber endpoints
		r.Get("/categories", recipientHandler.Categories)
		r.Post("/recipients", recipientHandler.Register)
		r.With(recipientAuth.Authenticate).Put("/recipients/{id}", recipientHandler.UpdatePreferences)

		// Operator endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Use(operatorAuth.Authenticate)
			r.Post("/trigger/fetch", adminHandler.TriggerFetch)
			r.Post("/trigger/summarize", adminHandler.TriggerSummarize)
			r.Post("/trigger/dispatch", adminHandler.TriggerDispatch)
			r.Get("/stats", adminHandler.Stats)
		})
	})

	// Digest unsubscribe links point here
	r.Get("/unsubscribe", recipientHandler.Unsubscribe)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := app.db.PingContext(ctx); err != nil {
			app.logger.Error("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNAVAILABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		if err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
