package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/garage/internal/auth"
	"github.com/BradenHooton/garage/internal/handlers"
	"github.com/BradenHooton/garage/internal/middleware"
	"github.com/BradenHooton/garage/internal/models"
	"github.com/go-chi/chi/v5"
)

// Handlers groups everything RegisterRoutes mounts
type Handlers struct {
	Auth       *handlers.AuthHandler
	MFA        *handlers.MFAHandler
	Audit      *handlers.AuditHandler
	Principals *handlers.PrincipalHandler
	Vehicles   *handlers.VehicleHandler
	Health     *handlers.HealthHandler
	Metrics    http.Handler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	tokenManager *auth.TokenManager,
	principals auth.PrincipalLookup,
	authRateLimit middleware.RateLimitConfig,
	logger *slog.Logger,
) {
	router.Get("/health", h.Health.Health)
	if h.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	staff := auth.RequireRole(principals, logger, models.RoleAdmin, models.RoleSuperAdmin)
	superAdmin := auth.RequireRole(principals, logger, models.RoleSuperAdmin)

	// Public login and registration, behind a coarse per-client throttle
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(authRateLimit))

		r.Post("/auth/login/plaintext", h.Auth.LoginPlaintext)
		r.Post("/auth/login/hashed", h.Auth.LoginHashed)
		r.Post("/auth/login/google", h.Auth.LoginGoogle)
		r.Post("/auth/mfa/verify", h.Auth.VerifySecondFactor)
		r.Post("/auth/register/plaintext", h.Auth.RegisterPlaintext)
		r.Post("/auth/register/hashed", h.Auth.RegisterHashed)
	})

	// Protected routes - a session assertion is required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))

		r.Get("/auth/me", h.Auth.Me)

		r.Get("/mfa/status", h.MFA.Status)
		r.Post("/mfa/setup", h.MFA.Setup)
		r.Post("/mfa/enable", h.MFA.Enable)
		r.Post("/mfa/disable", h.MFA.Disable)

		r.Get("/vehicles", h.Vehicles.List)
		r.Get("/vehicles/{id}", h.Vehicles.Get)

		// Inventory writes and the audit trail are staff only
		r.Group(func(r chi.Router) {
			r.Use(staff)

			r.Post("/vehicles", h.Vehicles.Create)
			r.Patch("/vehicles/{id}", h.Vehicles.Update)
			r.Post("/vehicles/{id}/enable", h.Vehicles.Enable)
			r.Post("/vehicles/{id}/disable", h.Vehicles.Disable)

			r.Get("/audit/logins", h.Audit.Logins)
			r.Get("/audit/stats", h.Audit.Stats)
			r.Get("/audit/blocked-clients", h.Audit.BlockedClients)
			r.Get("/audit/endpoints", h.Audit.Endpoints)
			r.Get("/audit/suspicious-clients", h.Audit.SuspiciousClients)
			r.Get("/audit/activity", h.Audit.Activity)
			r.Get("/audit/trends", h.Audit.Trends)
		})

		r.Group(func(r chi.Router) {
			r.Use(superAdmin)

			r.Get("/principals", h.Principals.List)
			r.Get("/principals/{id}", h.Principals.Get)
			r.Patch("/principals/{id}/role", h.Principals.UpdateRole)
			r.Delete("/principals/{id}", h.Principals.Delete)
		})
	})
}
