// internal/app/features/communities/join.go
package communities

import (
	"context"
	"net/http"

	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
	"github.com/dalemusser/vecinal/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ServeJoin handles POST /communities/{id}/join.
func (h *Handler) ServeJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := communityID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	s := h.session()
	c, err := s.JoinByID(ctx, id)
	if err != nil {
		h.writeFailure(w, "join", err, s.Joining.Status())
		return
	}
	jsonresp.OK(w, communityResponse{Community: c, Status: s.Joining.Status()})
}

// ServeGet handles GET /communities/{id}.
func (h *Handler) ServeGet(w http.ResponseWriter, r *http.Request) {
	id, ok := communityID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	s := h.session()
	c, err := s.Get(ctx, id)
	if err != nil {
		h.writeFailure(w, "get", err, s.Loading.Status())
		return
	}
	jsonresp.OK(w, communityResponse{Community: c, Status: s.Loading.Status()})
}

// communityID parses the {id} URL parameter, writing a 400 when it is not
// an ObjectID.
func communityID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		jsonresp.Error(w, http.StatusBadRequest, "bad_request", "Invalid community id.")
		return primitive.NilObjectID, false
	}
	return id, true
}
