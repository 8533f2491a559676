package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	mW "github.com/fleetpay/treasury/internal/middleware"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups every HTTP handler the API mounts.
type Handlers struct {
	Auth        *AuthHandler
	Topups      *TopupHandler
	Ledger      *LedgerHandler
	AuthKey     *AuthKeyHandler
	Closings    *ClosingHandler
	Maintenance *MaintenanceHandler
}

// NewRouter builds the chi router. A nil registry leaves /metrics unmounted.
func NewRouter(h Handlers, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	staff := mW.RequireRole(models.RoleTreasury, models.RoleAdmin)
	admin := mW.RequireRole(models.RoleAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/login", h.Auth.Login)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/auth/logout", h.Auth.Logout)

			r.Route("/topups", func(r chi.Router) {
				r.With(mW.RequireRole(models.RoleOwner, models.RoleDriver)).Post("/", h.Topups.Submit)
				r.With(staff).Get("/pending", h.Topups.ListPending)
				r.With(staff).Post("/{id}/approve", h.Topups.Approve)
				r.With(staff).Post("/{id}/reject", h.Topups.Reject)
			})

			r.With(admin).Post("/ledger/entries", h.Ledger.PostEntry)
			r.With(mW.RequireRole(models.RoleOwner, models.RoleAdmin)).Post("/ledger/transfers", h.Ledger.Transfer)
			r.Get("/accounts/{type}/{principal}", h.Ledger.GetBalance)
			r.Get("/accounts/{type}/{principal}/entries", h.Ledger.Statement)

			r.Route("/authorization-key", func(r chi.Router) {
				r.With(staff).Post("/verify", h.AuthKey.Verify)

				r.Group(func(r chi.Router) {
					r.Use(admin)
					r.Get("/", h.AuthKey.Status)
					r.Put("/", h.AuthKey.SetKey)
					r.Delete("/", h.AuthKey.Clear)
					r.Post("/reveal", h.AuthKey.Reveal)
				})
			})

			r.Route("/closings", func(r chi.Router) {
				r.With(staff).Post("/", h.Closings.Perform)
				r.With(staff).Get("/", h.Closings.List)
				r.With(staff).Get("/{id}", h.Closings.Get)
				r.With(staff).Get("/{id}/entries", h.Closings.Entries)
				r.With(admin).Post("/{id}/reopen", h.Closings.Reopen)
				r.With(admin).Post("/{id}/adjust", h.Closings.Adjust)
			})

			r.Route("/maintenance", func(r chi.Router) {
				r.Use(admin)
				r.Post("/purge", h.Maintenance.Purge)
				r.Get("/progress", h.Maintenance.Progress)
			})
		})
	})

	return r
}
