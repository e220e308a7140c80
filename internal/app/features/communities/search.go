// internal/app/features/communities/search.go
package communities

import (
	"context"
	"net/http"

	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
	"github.com/dalemusser/vecinal/internal/app/system/opstate"
	"github.com/dalemusser/vecinal/internal/app/system/timeouts"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"go.uber.org/zap"
)

type listResponse struct {
	Communities []models.Community `json:"communities"`
	Skipped     int                `json:"skipped,omitempty"`
	Status      opstate.Status     `json:"status"`
}

// ServeSearch handles GET /communities/search?q=.
func (h *Handler) ServeSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	s := h.session()
	res, err := s.Search(ctx, r.URL.Query().Get("q"))
	if err != nil {
		h.writeFailure(w, "search", err, s.Searching.Status())
		return
	}
	if res.Skipped > 0 {
		h.Log.Warn("search skipped malformed communities", zap.Int("skipped", res.Skipped))
	}
	jsonresp.OK(w, listResponse{Communities: res.Communities, Skipped: res.Skipped, Status: s.Searching.Status()})
}

// ServeMine handles GET /me/communities.
func (h *Handler) ServeMine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	s := h.session()
	list, err := s.Mine(ctx)
	if err != nil {
		h.writeFailure(w, "mine", err, s.Loading.Status())
		return
	}
	if list == nil {
		list = []models.Community{}
	}
	jsonresp.OK(w, listResponse{Communities: list, Status: s.Loading.Status()})
}
