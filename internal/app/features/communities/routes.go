// internal/app/features/communities/routes.go
package communities

import (
	"github.com/dalemusser/vecinal/internal/app/system/auth"
	"github.com/dalemusser/vecinal/internal/app/system/ratelimit"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router for /communities. Search and reads are public;
// creating and joining require a signed-in user. searchLimit bounds search
// requests per client IP.
func Routes(h *Handler, searchLimit *ratelimit.Limiter) chi.Router {
	r := chi.NewRouter()

	r.With(ratelimit.PerIP(searchLimit)).Get("/search", h.ServeSearch)
	r.Get("/{id}", h.ServeGet)

	r.Group(func(pr chi.Router) {
		pr.Use(auth.RequireSignedIn)
		pr.Post("/", h.ServeCreate)
		pr.Post("/{id}/join", h.ServeJoin)
	})

	return r
}

// MineRoutes returns the router mounted at /me/communities.
func MineRoutes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)
	r.Get("/", h.ServeMine)
	return r
}
