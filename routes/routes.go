package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/sessionguard/app"
	"github.com/upb/sessionguard/utils"
)

const defaultRequestTimeout = 30 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	timeout := deps.Config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Session endpoints are public; refresh carries its token in the body
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", deps.AuthHandler.HandleRegister)
			r.Post("/login", deps.AuthHandler.HandleLogin)
			r.Post("/refresh", deps.AuthHandler.HandleRefresh)
		})

		r.Route("/principals", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/me", deps.PrincipalHandler.HandleMe)
			r.Get("/", deps.PrincipalHandler.HandleList)
			r.Get("/{id}", deps.PrincipalHandler.HandleGet)
			r.Put("/{id}", deps.PrincipalHandler.HandleUpdate)
			r.Delete("/{id}", deps.PrincipalHandler.HandleDelete)
			r.Put("/{id}/status", deps.PrincipalHandler.HandleSetStatus)
			r.Get("/{id}/audit", deps.PrincipalHandler.HandleHistory)
		})

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/principals", deps.PrincipalHandler.HandleListTenant)
			r.Post("/principals", deps.PrincipalHandler.HandleEnroll)
			r.Post("/admins", deps.PrincipalHandler.HandleAssignTenantAdmin)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
