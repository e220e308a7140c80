// internal/app/store/usercommunities/usercommunitystore.go
package usercommunitystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/vecinal/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrDuplicate is returned when an index record for (user, community)
	// already exists. The unique index uniq_uc_user_community enforces it.
	ErrDuplicate = errors.New("user is already indexed for this community")
	ErrNotFound  = errors.New("index record not found")
	errBadRole   = errors.New(`role must be "admin"|"member"`)
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("user_communities")}
}

// Insert writes one index record.
func (s *Store) Insert(ctx context.Context, rec models.UserCommunity) error {
	if rec.Role != models.IndexRoleAdmin && rec.Role != models.IndexRoleMember {
		return errBadRole
	}
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	if _, err := s.c.InsertOne(ctx, rec); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert index record: %w", err)
	}
	return nil
}

// Get loads the record for (userID, communityID).
func (s *Store) Get(ctx context.Context, userID string, communityID primitive.ObjectID) (models.UserCommunity, error) {
	var rec models.UserCommunity
	err := s.c.FindOne(ctx, bson.M{"user_id": userID, "community_id": communityID}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.UserCommunity{}, ErrNotFound
		}
		return models.UserCommunity{}, err
	}
	return rec, nil
}

// Exists reports whether userID has an index record for communityID.
func (s *Store) Exists(ctx context.Context, userID string, communityID primitive.ObjectID) (bool, error) {
	n, err := s.c.CountDocuments(ctx,
		bson.M{"user_id": userID, "community_id": communityID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the record for (userID, communityID). Returns the number of
// documents deleted (0 or 1).
func (s *Store) Delete(ctx context.Context, userID string, communityID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"user_id": userID, "community_id": communityID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ListByUser returns every record for userID, oldest join first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.UserCommunity, error) {
	opts := options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}, {Key: "community_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.UserCommunity
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountByCommunity returns how many users are indexed for communityID.
func (s *Store) CountByCommunity(ctx context.Context, communityID primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"community_id": communityID})
}
