// internal/app/features/errors/errors.go
package errors

import (
	"net/http"

	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
)

// Handler writes JSON bodies for requests the router cannot serve.
// No DB needed.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// NotFound is installed as the router's 404 handler.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	jsonresp.Error(w, http.StatusNotFound, "not_found", "No route matches "+r.Method+" "+r.URL.Path+".")
}

// MethodNotAllowed is installed as the router's 405 handler.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	jsonresp.Error(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not supported on "+r.URL.Path+".")
}
