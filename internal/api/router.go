/**
 * @description
 * This file sets up the HTTP router for kudoku-server. It applies the shared
 * middleware stack, keeps the auth endpoints public and puts everything else behind
 * bearer authentication. The account event stream is mounted outside the request
 * timeout because it stays open.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers every kudoku-server route.
func NewRouter(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	allowCredentials := true
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowCredentials = false
		}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.SignupHandler)
			r.Post("/login", h.LoginHandler)
			r.Post("/otp/send", h.SendOTPHandler)
			r.Post("/otp/verify", h.VerifyOTPHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.service))

			r.Get("/me", h.MeHandler)
			r.Get("/profile", h.GetProfileHandler)
			r.Patch("/profile", h.UpdateProfileHandler)

			r.Get("/institutions", h.ListInstitutionsHandler)

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", h.ListAccountsHandler)
				r.Post("/", h.CreateAccountHandler)
				r.Post("/link", h.LinkAccountHandler)
				r.Get("/ref/{type}/{ref}", h.GetAccountByRefHandler)
				r.Get("/{id}", h.GetAccountHandler)
				r.Patch("/{id}", h.RenameAccountHandler)
				r.Delete("/{id}", h.DeleteAccountHandler)
				r.Post("/{id}/reconcile", h.ReconcileAccountHandler)
				r.Post("/{id}/sync", h.SyncAccountHandler)
				r.Get("/{id}/transactions", h.ListAccountTransactionsHandler)
			})

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListTransactionsHandler)
				r.Post("/", h.CreateTransactionHandler)
				r.Get("/{id}", h.GetTransactionHandler)
				r.Patch("/{id}", h.EditTransactionHandler)
				r.Delete("/{id}", h.DeleteTransactionHandler)
				r.Post("/{id}/internal-transfer/select", h.SelectInternalTransferHandler)
				r.Post("/{id}/internal-transfer/create", h.CreateInternalTransferHandler)
			})

			r.Route("/merchants", func(r chi.Router) {
				r.Get("/", h.ListMerchantsHandler)
				r.Post("/", h.CreateMerchantHandler)
				r.Get("/{id}", h.GetMerchantHandler)
				r.Patch("/{id}", h.UpdateMerchantHandler)
				r.Delete("/{id}", h.DeleteMerchantHandler)
			})

			r.Route("/budgets", func(r chi.Router) {
				r.Get("/", h.ListBudgetsHandler)
				r.Post("/", h.CreateBudgetHandler)
				r.Get("/{id}", h.GetBudgetHandler)
				r.Patch("/{id}", h.UpdateBudgetHandler)
				r.Delete("/{id}", h.DeleteBudgetHandler)
				r.Get("/{id}/summary", h.BudgetSummaryHandler)
			})
		})
	})

	// Streams stay open for the life of the client connection.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.service))
		r.Get("/events/accounts/{id}", h.AccountEventsHandler)
	})

	return r
}
