// internal/app/features/authphone/routes.go
package authphone

import "github.com/go-chi/chi/v5"

// Routes returns the router for phone sign-in. These routes are public.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	// POST /auth/phone/start - send a code
	r.Post("/start", h.ServeStart)

	// POST /auth/phone/resend - send a fresh code once the cooldown passes
	r.Post("/resend", h.ServeResend)

	// POST /auth/phone/verify - exchange a code for a session and token
	r.Post("/verify", h.ServeVerify)

	return r
}
