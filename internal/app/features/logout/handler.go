// internal/app/features/logout/handler.go
package logout

import (
	"net/http"

	"github.com/dalemusser/vecinal/internal/app/system/auth"
	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
	"go.uber.org/zap"
)

type Handler struct {
	Log        *zap.Logger
	SessionMgr *auth.SessionManager
	Events     *auth.Events
}

func NewHandler(sessionMgr *auth.SessionManager, events *auth.Events, logger *zap.Logger) *Handler {
	return &Handler{
		Log:        logger,
		SessionMgr: sessionMgr,
		Events:     events,
	}
}

type logoutResponse struct {
	SignedOut bool `json:"signed_out"`
}

// ServeLogout handles POST /auth/logout. The session cookie is always
// expired; SignedOut is announced for whichever user the request carried.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	uid, err := h.SessionMgr.SignOut(w, r)
	if err != nil {
		h.Log.Error("logout: save session", zap.Error(err))
	}
	if uid == "" {
		// Bearer-only clients have no session; use the token's subject.
		if p, ok := auth.CurrentUser(r); ok {
			uid = p.UserID
		}
	}

	if uid != "" {
		if h.Events != nil {
			h.Events.SignedOut(uid)
		}
		h.Log.Info("user signed out", zap.String("user_id", uid))
	}
	jsonresp.OK(w, logoutResponse{SignedOut: uid != ""})
}
