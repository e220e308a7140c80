// internal/domain/models/usercommunity.go
package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Index record roles. These are labels on the per-user pointer and are
// deliberately coarser than Role.
const (
	IndexRoleAdmin  = "admin"
	IndexRoleMember = "member"
)

// UserCommunity is the per-user pointer to a community, used to answer
// "which communities is this user in" without scanning communities.
// Exactly one document per (user_id, community_id).
type UserCommunity struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	UserID      string             `bson:"user_id" json:"user_id"`
	CommunityID primitive.ObjectID `bson:"community_id" json:"community_id"`
	Role        string             `bson:"role" json:"role"`           // "admin" | "member"
	JoinedAt    int64              `bson:"joined_at" json:"joined_at"` // epoch milliseconds
}
