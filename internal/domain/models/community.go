// internal/domain/models/community.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role is a member's role inside one community.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleModerator Role = "MODERATOR"
	RoleMember    Role = "MEMBER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// Status is shared by membership requests and reports.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Community is the root tenant entity grouping members and content.
//
// NOTE:
//   - Members always holds structured Membership records, never bare user ids.
//   - NameCI/AddressCI are folded copies (lowercase, diacritics stripped).
//     NameKeys/AddressKeys hold the folded text starting at each word, so a
//     prefix range on them matches any word start ("siempre" finds
//     "Av. Siempre Viva"). Search queries touch only these fields.
//   - The per-user index lives in the user_communities collection and must
//     agree with Members (see store/usercommunities).
type Community struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	Name        string             `bson:"name" json:"name"`
	NameCI      string             `bson:"name_ci" json:"-"`
	Address     string             `bson:"address" json:"address"`
	AddressCI   string             `bson:"address_ci" json:"-"`
	NameKeys    []string           `bson:"name_keys" json:"-"`
	AddressKeys []string           `bson:"address_keys" json:"-"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	ImageURL    string             `bson:"image_url,omitempty" json:"image_url,omitempty"`
	IsPublic    bool               `bson:"is_public" json:"is_public"`
	CreatorID   string             `bson:"creator_id" json:"creator_id"`

	Members            []Membership        `bson:"members" json:"members"`
	MembershipRequests []MembershipRequest `bson:"membership_requests,omitempty" json:"membership_requests,omitempty"`
	Directive          []DirectiveMember   `bson:"directive,omitempty" json:"directive,omitempty"`

	Announcements []Announcement `bson:"announcements,omitempty" json:"announcements,omitempty"`
	Events        []Event        `bson:"events,omitempty" json:"events,omitempty"`
	Proposals     []Proposal     `bson:"proposals,omitempty" json:"proposals,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// HasMember reports whether userID already appears in the member list.
func (c Community) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Membership binds a user to a role within one community.
type Membership struct {
	UserID   string    `bson:"user_id" json:"user_id"`
	Role     Role      `bson:"role" json:"role"`
	JoinedAt time.Time `bson:"joined_at" json:"joined_at"`
}

// MembershipRequest is a pending request to join a private community.
type MembershipRequest struct {
	UserID      string    `bson:"user_id" json:"user_id"`
	RequestedAt time.Time `bson:"requested_at" json:"requested_at"`
	Status      Status    `bson:"status" json:"status"`
}

// DirectiveMember is a seat on the community board.
type DirectiveMember struct {
	UserID      string    `bson:"user_id" json:"user_id"`
	Role        Role      `bson:"role" json:"role"`
	AppointedAt time.Time `bson:"appointed_at" json:"appointed_at"`
}
