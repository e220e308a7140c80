// internal/app/features/communities/create.go
package communities

import (
	"context"
	"net/http"

	"github.com/dalemusser/vecinal/internal/app/system/htmlsanitize"
	"github.com/dalemusser/vecinal/internal/app/system/inputval"
	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
	"github.com/dalemusser/vecinal/internal/app/system/opstate"
	"github.com/dalemusser/vecinal/internal/app/system/timeouts"
	"github.com/dalemusser/vecinal/internal/domain/models"
)

type createRequest struct {
	Name        string `json:"name" validate:"notblank,max=120"`
	Address     string `json:"address" validate:"notblank,max=200"`
	Description string `json:"description" validate:"max=2000"`
	ImageURL    string `json:"image_url" validate:"omitempty,url,max=500"`
	IsPublic    *bool  `json:"is_public"`
}

type communityResponse struct {
	Community models.Community `json:"community"`
	Status    opstate.Status   `json:"status"`
}

// ServeCreate handles POST /communities.
func (h *Handler) ServeCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := jsonresp.Decode(r, &req); err != nil {
		writeInvalid(w, err)
		return
	}
	req.Name = htmlsanitize.Text(req.Name)
	req.Address = htmlsanitize.Text(req.Address)
	req.Description = htmlsanitize.Rich(req.Description)
	if err := inputval.Struct(req, r.Header.Get("Accept-Language")); err != nil {
		writeInvalid(w, err)
		return
	}

	draft := models.Community{
		Name:        req.Name,
		Address:     req.Address,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		IsPublic:    true,
	}
	if req.IsPublic != nil {
		draft.IsPublic = *req.IsPublic
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	s := h.session()
	c, err := s.Create(ctx, draft)
	if err != nil {
		h.writeFailure(w, "create", err, s.Creating.Status())
		return
	}
	jsonresp.Write(w, http.StatusCreated, communityResponse{Community: c, Status: s.Creating.Status()})
}
