// internal/app/features/profile/routes.go
package profile

import (
	"github.com/dalemusser/vecinal/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router mounted at /me.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)

	r.Get("/", h.ServeMe)
	r.Put("/profile", h.ServeUpdate)

	return r
}
