// internal/app/features/profile/profile.go
package profile

import (
	"context"
	"errors"
	"net/http"

	userstore "github.com/dalemusser/vecinal/internal/app/store/users"
	"github.com/dalemusser/vecinal/internal/app/system/auth"
	"github.com/dalemusser/vecinal/internal/app/system/htmlsanitize"
	"github.com/dalemusser/vecinal/internal/app/system/inputval"
	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
	"github.com/dalemusser/vecinal/internal/app/system/timeouts"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"go.uber.org/zap"
)

type profileResponse struct {
	User            models.User `json:"user"`
	ProfileComplete bool        `json:"profile_complete"`
}

type updateRequest struct {
	Name     string `json:"name" validate:"notblank,max=80"`
	City     string `json:"city" validate:"notblank,max=80"`
	PhotoURL string `json:"photo_url" validate:"omitempty,url,max=500"`
}

// ServeMe handles GET /me.
func (h *Handler) ServeMe(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentUser(r)
	if !ok {
		jsonresp.Error(w, http.StatusUnauthorized, "unauthenticated", "Sign in to continue.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, err := h.Users.GetByHex(ctx, p.UserID)
	if err != nil {
		h.writeLoadError(w, p.UserID, err)
		return
	}
	jsonresp.OK(w, profileResponse{User: u, ProfileComplete: u.ProfileComplete()})
}

// ServeUpdate handles PUT /me/profile.
func (h *Handler) ServeUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentUser(r)
	if !ok {
		jsonresp.Error(w, http.StatusUnauthorized, "unauthenticated", "Sign in to continue.")
		return
	}

	var req updateRequest
	if err := jsonresp.Decode(r, &req); err != nil {
		jsonresp.Error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.Name = htmlsanitize.Text(req.Name)
	req.City = htmlsanitize.Text(req.City)
	if err := inputval.Struct(req, r.Header.Get("Accept-Language")); err != nil {
		var fe inputval.FieldErrors
		if errors.As(err, &fe) {
			jsonresp.ErrorWithDetails(w, http.StatusBadRequest, "validation", "Some fields are not valid.", fe)
			return
		}
		jsonresp.Error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	current, err := h.Users.GetByHex(ctx, p.UserID)
	if err != nil {
		h.writeLoadError(w, p.UserID, err)
		return
	}
	if current.Blocked {
		jsonresp.Error(w, http.StatusForbidden, "blocked", "This account is blocked.")
		return
	}

	u, err := h.Users.UpdateProfile(ctx, current.ID, userstore.ProfileUpdate{
		Name:     req.Name,
		City:     req.City,
		PhotoURL: req.PhotoURL,
	})
	if err != nil {
		h.writeLoadError(w, p.UserID, err)
		return
	}
	jsonresp.OK(w, profileResponse{User: u, ProfileComplete: u.ProfileComplete()})
}

func (h *Handler) writeLoadError(w http.ResponseWriter, uid string, err error) {
	if errors.Is(err, userstore.ErrNotFound) {
		jsonresp.Error(w, http.StatusNotFound, "not_found", "User not found.")
		return
	}
	h.Log.Error("user lookup failed", zap.String("user_id", uid), zap.Error(err))
	jsonresp.Error(w, http.StatusInternalServerError, "internal", "Could not load your profile.")
}
