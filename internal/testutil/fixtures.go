package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	communitystore "github.com/dalemusser/vecinal/internal/app/store/communities"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser inserts a phone-verified user with a complete profile.
func (f *Fixtures) CreateUser(ctx context.Context, name, city, phone string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	u := models.User{
		ID:        primitive.NewObjectID(),
		Name:      name,
		City:      city,
		Role:      models.UserRoleVecino,
		Approved:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if phone != "" {
		u.Phone = &phone
	}
	if _, err := f.db.Collection("users").InsertOne(ctx, u); err != nil {
		f.t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

// CreateCommunity inserts a community whose only member is creatorID as
// MODERATOR, together with the matching user_communities record.
func (f *Fixtures) CreateCommunity(ctx context.Context, name, address, creatorID string) models.Community {
	f.t.Helper()

	now := time.Now().UTC()
	c := models.Community{
		ID:        primitive.NewObjectID(),
		Name:      name,
		NameCI:    text.Fold(name),
		Address:   address,
		AddressCI: text.Fold(address),
		IsPublic:  true,
		CreatorID: creatorID,
		Members:   []models.Membership{{UserID: creatorID, Role: models.RoleModerator, JoinedAt: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.NameKeys = communitystore.WordKeys(c.NameCI)
	c.AddressKeys = communitystore.WordKeys(c.AddressCI)
	if _, err := f.db.Collection("communities").InsertOne(ctx, c); err != nil {
		f.t.Fatalf("CreateCommunity failed: %v", err)
	}

	rec := models.UserCommunity{
		UserID:      creatorID,
		CommunityID: c.ID,
		Role:        models.IndexRoleAdmin,
		JoinedAt:    now.UnixMilli(),
	}
	if _, err := f.db.Collection("user_communities").InsertOne(ctx, rec); err != nil {
		f.t.Fatalf("CreateCommunity index record failed: %v", err)
	}
	return c
}
