// internal/domain/models/content.go
package models

import "time"

// RsvpStatus is a member's answer to an event invitation.
type RsvpStatus string

const (
	RsvpGoing     RsvpStatus = "GOING"
	RsvpMaybe     RsvpStatus = "MAYBE"
	RsvpDeclined  RsvpStatus = "DECLINED"
	RsvpUndecided RsvpStatus = "UNDECIDED"
)

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

type Attachment struct {
	URL  string `bson:"url" json:"url"`
	Type string `bson:"type" json:"type"` // image | document
}

type Comment struct {
	ID        string    `bson:"id" json:"id"`
	AuthorID  string    `bson:"author_id" json:"author_id"`
	Content   string    `bson:"content" json:"content"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type Rsvp struct {
	UserID      string     `bson:"user_id" json:"user_id"`
	Status      RsvpStatus `bson:"status" json:"status"`
	RespondedAt time.Time  `bson:"responded_at" json:"responded_at"`
}

type Vote struct {
	UserID  string    `bson:"user_id" json:"user_id"`
	VotedAt time.Time `bson:"voted_at" json:"voted_at"`
}

// Report flags a piece of content for the directive to moderate.
type Report struct {
	ID          string    `bson:"id" json:"id"`
	CommunityID string    `bson:"community_id" json:"community_id"`
	EntityType  string    `bson:"entity_type" json:"entity_type"` // announcement | event | proposal
	EntityID    string    `bson:"entity_id" json:"entity_id"`
	ReportedBy  string    `bson:"reported_by" json:"reported_by"`
	Reason      string    `bson:"reason" json:"reason"`
	Status      Status    `bson:"status" json:"status"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

type Announcement struct {
	ID          string       `bson:"id" json:"id"`
	Title       string       `bson:"title" json:"title"`
	Body        string       `bson:"body" json:"body"`
	ImageURL    string       `bson:"image_url,omitempty" json:"image_url,omitempty"`
	AuthorID    string       `bson:"author_id" json:"author_id"`
	Attachments []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Comments    []Comment    `bson:"comments,omitempty" json:"comments,omitempty"`
	Rsvps       []Rsvp       `bson:"rsvps,omitempty" json:"rsvps,omitempty"`
	Reports     []Report     `bson:"reports,omitempty" json:"reports,omitempty"`
	VoteCount   int          `bson:"vote_count" json:"vote_count"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at" json:"updated_at"`
}

type Event struct {
	ID          string       `bson:"id" json:"id"`
	Title       string       `bson:"title" json:"title"`
	Description string       `bson:"description" json:"description"`
	DateTime    *time.Time   `bson:"date_time,omitempty" json:"date_time,omitempty"`
	Location    *GeoPoint    `bson:"location,omitempty" json:"location,omitempty"`
	ImageURL    string       `bson:"image_url,omitempty" json:"image_url,omitempty"`
	OrganizerID string       `bson:"organizer_id" json:"organizer_id"`
	Attachments []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Comments    []Comment    `bson:"comments,omitempty" json:"comments,omitempty"`
	Rsvps       []Rsvp       `bson:"rsvps,omitempty" json:"rsvps,omitempty"`
	Reports     []Report     `bson:"reports,omitempty" json:"reports,omitempty"`
	VoteCount   int          `bson:"vote_count" json:"vote_count"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at" json:"updated_at"`
}

type Proposal struct {
	ID          string       `bson:"id" json:"id"`
	Title       string       `bson:"title" json:"title"`
	Description string       `bson:"description" json:"description"`
	ProposerID  string       `bson:"proposer_id" json:"proposer_id"`
	Attachments []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Comments    []Comment    `bson:"comments,omitempty" json:"comments,omitempty"`
	Votes       []Vote       `bson:"votes,omitempty" json:"votes,omitempty"`
	Reports     []Report     `bson:"reports,omitempty" json:"reports,omitempty"`
	VoteCount   int          `bson:"vote_count" json:"vote_count"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at" json:"updated_at"`
}
