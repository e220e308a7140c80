// internal/app/features/profile/handler.go
package profile

import (
	"context"

	userstore "github.com/dalemusser/vecinal/internal/app/store/users"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// UserStore reads and updates the caller's user record.
type UserStore interface {
	GetByHex(ctx context.Context, hex string) (models.User, error)
	UpdateProfile(ctx context.Context, id primitive.ObjectID, upd userstore.ProfileUpdate) (models.User, error)
}

type Handler struct {
	Users UserStore
	Log   *zap.Logger
}

func NewHandler(users UserStore, logger *zap.Logger) *Handler {
	return &Handler{
		Users: users,
		Log:   logger,
	}
}
