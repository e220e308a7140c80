// internal/app/features/communities/handler.go
package communities

import (
	"errors"
	"net/http"

	"github.com/dalemusser/vecinal/internal/app/system/communities"
	"github.com/dalemusser/vecinal/internal/app/system/inputval"
	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
	"github.com/dalemusser/vecinal/internal/app/system/opstate"
	"go.uber.org/zap"
)

// Handler serves the community endpoints. Each request gets its own
// communities.Session so operation status never leaks between callers.
type Handler struct {
	Repo *communities.Repository
	Log  *zap.Logger
}

// NewHandler creates a new communities handler.
func NewHandler(repo *communities.Repository, logger *zap.Logger) *Handler {
	return &Handler{
		Repo: repo,
		Log:  logger,
	}
}

func (h *Handler) session() *communities.Session {
	s := communities.NewSession(h.Repo)
	s.Subscribe(func(name string, st opstate.Status) {
		if st.State == opstate.Failed {
			h.Log.Debug("community operation failed",
				zap.String("op", name),
				zap.String("kind", st.Kind),
				zap.String("message", st.Message))
		}
	})
	return s
}

// statusFor maps a repository error kind to an HTTP status.
func statusFor(err error) int {
	switch communities.KindOf(err) {
	case communities.KindUnauthenticated:
		return http.StatusUnauthorized
	case communities.KindAlreadyMember:
		return http.StatusConflict
	case communities.KindNotFound:
		return http.StatusNotFound
	case communities.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure reports err with the operation status attached as details.
func (h *Handler) writeFailure(w http.ResponseWriter, op string, err error, st opstate.Status) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.Log.Error("community operation error", zap.String("op", op), zap.Error(err))
	}
	kind := st.Kind
	if kind == "" {
		kind = "internal"
	}
	jsonresp.ErrorWithDetails(w, code, kind, st.Message, st)
}

// writeInvalid reports a request that failed decoding or field validation.
func writeInvalid(w http.ResponseWriter, err error) {
	var fe inputval.FieldErrors
	if errors.As(err, &fe) {
		jsonresp.ErrorWithDetails(w, http.StatusBadRequest, "validation", "Some fields are not valid.", fe)
		return
	}
	jsonresp.Error(w, http.StatusBadRequest, "bad_request", err.Error())
}
