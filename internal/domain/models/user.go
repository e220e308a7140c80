// internal/domain/models/user.go
package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Neighborhood roles a user can hold outside any single community.
const (
	UserRoleVecino     = "VECINO"
	UserRolePresidente = "PRESIDENTE"
	UserRoleSecretario = "SECRETARIO"
	UserRoleTesorero   = "TESORERO"
)

// User is a signed-in neighbor. A user signs in with a verified phone number,
// a Google account, or both.
//
// NOTE:
//   - Community membership is not embedded on User.
//     Use the user_communities collection to discover a user's communities.
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Phone    *string            `bson:"phone,omitempty" json:"phone,omitempty"`
	GoogleID *string            `bson:"google_id,omitempty" json:"-"`
	Email    string             `bson:"email,omitempty" json:"email,omitempty"`
	Name     string             `bson:"name" json:"name"`
	City     string             `bson:"city" json:"city"`
	PhotoURL string             `bson:"photo_url,omitempty" json:"photo_url,omitempty"`
	Role     string             `bson:"role" json:"role"`
	Approved bool               `bson:"approved" json:"approved"`
	Blocked  bool               `bson:"blocked" json:"blocked"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ProfileComplete reports whether the user has filled in the fields the
// app requires before showing communities.
func (u User) ProfileComplete() bool {
	return strings.TrimSpace(u.Name) != "" && strings.TrimSpace(u.City) != ""
}
