// internal/app/features/authphone/handler.go
package authphone

import (
	"context"
	"time"

	"github.com/dalemusser/vecinal/internal/app/system/auth"
	"github.com/dalemusser/vecinal/internal/app/system/ratelimit"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"go.uber.org/zap"
)

// CodeStore issues and checks one-time codes per phone.
type CodeStore interface {
	Issue(ctx context.Context, phone string) (string, error)
	Verify(ctx context.Context, phone, code string) error
	CooldownRemaining(ctx context.Context, phone string) (time.Duration, error)
}

// UserStore finds or creates the user owning a verified phone.
type UserStore interface {
	UpsertByPhone(ctx context.Context, phone string) (models.User, error)
}

// Handler serves phone sign-in.
type Handler struct {
	Codes     CodeStore
	Users     UserStore
	Sender    Sender
	Limiter   *ratelimit.PhoneLimiter
	Completer *auth.Completer
	Log       *zap.Logger
}

// NewHandler creates a new phone sign-in handler. A nil sender logs codes
// instead of delivering them.
func NewHandler(codes CodeStore, users UserStore, sender Sender, limiter *ratelimit.PhoneLimiter, completer *auth.Completer, logger *zap.Logger) *Handler {
	if sender == nil {
		sender = LogSender{Log: logger}
	}
	return &Handler{
		Codes:     codes,
		Users:     users,
		Sender:    sender,
		Limiter:   limiter,
		Completer: completer,
		Log:       logger,
	}
}
