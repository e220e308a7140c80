// internal/app/features/authphone/phone.go
package authphone

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	otpstore "github.com/dalemusser/vecinal/internal/app/store/otp"
	"github.com/dalemusser/vecinal/internal/app/system/inputval"
	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
	"github.com/dalemusser/vecinal/internal/app/system/ratelimit"
	"github.com/dalemusser/vecinal/internal/app/system/timeouts"
	"go.uber.org/zap"
)

type startRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
}

type verifyRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type startResponse struct {
	Sent     bool `json:"sent"`
	ResendIn int  `json:"resend_in"` // seconds
}

// normalizePhone drops the separators people type inside numbers.
func normalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// ServeStart handles POST /auth/phone/start.
func (h *Handler) ServeStart(w http.ResponseWriter, r *http.Request) {
	h.sendCode(w, r)
}

// ServeResend handles POST /auth/phone/resend. The cooldown applies exactly
// as it does to start.
func (h *Handler) ServeResend(w http.ResponseWriter, r *http.Request) {
	h.sendCode(w, r)
}

func (h *Handler) sendCode(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := jsonresp.Decode(r, &req); err != nil {
		jsonresp.Error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.Phone = normalizePhone(req.Phone)
	if err := inputval.Struct(req, r.Header.Get("Accept-Language")); err != nil {
		writeInvalid(w, err)
		return
	}

	if h.Limiter != nil {
		if ok, retry := h.Limiter.Check(r, req.Phone); !ok {
			ratelimit.TooMany(w, retry)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	code, err := h.Codes.Issue(ctx, req.Phone)
	if errors.Is(err, otpstore.ErrCooldown) {
		wait, _ := h.Codes.CooldownRemaining(ctx, req.Phone)
		if wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(seconds(wait)))
		}
		jsonresp.ErrorWithDetails(w, http.StatusTooManyRequests, "cooldown", "A code was sent recently. Please wait before requesting another.",
			map[string]int{"resend_in": seconds(wait)})
		return
	}
	if err != nil {
		h.Log.Error("otp issue failed", zap.Error(err))
		jsonresp.Error(w, http.StatusInternalServerError, "internal", "Could not create a verification code.")
		return
	}

	if err := h.Sender.Send(ctx, req.Phone, code); err != nil {
		h.Log.Error("otp delivery failed", zap.String("phone", mask(req.Phone)), zap.Error(err))
		jsonresp.Error(w, http.StatusBadGateway, "send_failed", "Could not send the verification code.")
		return
	}

	wait, _ := h.Codes.CooldownRemaining(ctx, req.Phone)
	jsonresp.OK(w, startResponse{Sent: true, ResendIn: seconds(wait)})
}

// ServeVerify handles POST /auth/phone/verify.
func (h *Handler) ServeVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := jsonresp.Decode(r, &req); err != nil {
		jsonresp.Error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.Phone = normalizePhone(req.Phone)
	req.Code = strings.TrimSpace(req.Code)
	if err := inputval.Struct(req, r.Header.Get("Accept-Language")); err != nil {
		writeInvalid(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	switch err := h.Codes.Verify(ctx, req.Phone, req.Code); {
	case err == nil:
	case errors.Is(err, otpstore.ErrNoCode):
		jsonresp.Error(w, http.StatusBadRequest, "no_code", "No active code for this phone. Request a new one.")
		return
	case errors.Is(err, otpstore.ErrMismatch):
		jsonresp.Error(w, http.StatusUnauthorized, "invalid_code", "The code is incorrect.")
		return
	case errors.Is(err, otpstore.ErrTooManyAttempts):
		jsonresp.Error(w, http.StatusTooManyRequests, "too_many_attempts", "Too many incorrect attempts. Request a new code.")
		return
	default:
		h.Log.Error("otp verify failed", zap.Error(err))
		jsonresp.Error(w, http.StatusInternalServerError, "internal", "Could not verify the code.")
		return
	}

	u, err := h.Users.UpsertByPhone(ctx, req.Phone)
	if err != nil {
		h.Log.Error("user upsert by phone failed", zap.Error(err))
		jsonresp.Error(w, http.StatusInternalServerError, "internal", "Could not sign you in.")
		return
	}
	if u.Blocked {
		jsonresp.Error(w, http.StatusForbidden, "blocked", "This account is blocked.")
		return
	}

	res, err := h.Completer.Complete(w, r, u)
	if err != nil {
		h.Log.Error("sign-in completion failed", zap.Error(err))
		jsonresp.Error(w, http.StatusInternalServerError, "internal", "Could not sign you in.")
		return
	}
	if h.Limiter != nil {
		h.Limiter.ResetPhone(req.Phone)
	}
	h.Log.Info("user signed in", zap.String("user_id", u.ID.Hex()), zap.String("method", "phone"))
	jsonresp.OK(w, res)
}

func writeInvalid(w http.ResponseWriter, err error) {
	var fe inputval.FieldErrors
	if errors.As(err, &fe) {
		jsonresp.ErrorWithDetails(w, http.StatusBadRequest, "validation", "Some fields are not valid.", fe)
		return
	}
	jsonresp.Error(w, http.StatusBadRequest, "bad_request", err.Error())
}
