package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/handlers"
	"github.com/orecrest/authcore/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	deviceHandler *handlers.DeviceHandler,
	sessionHandler *handlers.SessionHandler,
	eventHandler *handlers.SecurityEventHandler,
	resolver auth.SessionResolver,
	edgePerMin int,
) {
	// Public routes - edge rate limit on top of the per-account throttle
	// inside the login service.
	router.Group(func(r chi.Router) {
		r.Use(middleware.EdgeRateLimit(edgePerMin))
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/mfa/verify", authHandler.VerifyMFA)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(resolver))

		r.Post("/auth/logout", authHandler.Logout)
		r.Post("/auth/logout-all", authHandler.LogoutAll)
		r.Post("/auth/password", authHandler.ChangePassword)

		r.Post("/mfa/enroll", mfaHandler.Enroll)
		r.Post("/mfa/activate", mfaHandler.Activate)
		r.Post("/mfa/disable", mfaHandler.Disable)
		r.Post("/mfa/recovery-codes", mfaHandler.RegenerateRecoveryCodes)

		r.Get("/devices", deviceHandler.List)
		r.Post("/devices/{deviceID}/trust", deviceHandler.Trust)
		r.Post("/devices/{deviceID}/untrust", deviceHandler.Untrust)
		r.Delete("/devices/{deviceID}", deviceHandler.Remove)

		r.Get("/sessions", sessionHandler.List)
		r.Delete("/sessions/{sessionID}", sessionHandler.Revoke)

		r.Get("/events", eventHandler.History)
	})
}
