package userstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/vecinal/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

var (
	ErrNotFound = errors.New("user not found")
	// ErrIdentityTaken is returned when a phone or Google id already belongs
	// to another user.
	ErrIdentityTaken = errors.New("this sign-in identity belongs to another user")
	errEmptyPhone    = errors.New("phone is required")
	errEmptyGoogleID = errors.New("google id is required")
)

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

// GetByHex loads a user by the hex form of its ObjectID, as carried in
// tokens and sessions.
func (s *Store) GetByHex(ctx context.Context, hex string) (models.User, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return models.User{}, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// upsertBy finds the user matching filter or creates one from onInsert.
// Users created this way start as VECINO, approved and not blocked.
func (s *Store) upsertBy(ctx context.Context, filter bson.M, set, onInsert bson.M) (models.User, error) {
	now := time.Now().UTC()
	set["updated_at"] = now
	onInsert["role"] = models.UserRoleVecino
	onInsert["approved"] = true
	onInsert["blocked"] = false
	onInsert["name"] = ""
	onInsert["city"] = ""
	onInsert["created_at"] = now
	for k := range set {
		delete(onInsert, k)
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	update := bson.M{"$set": set, "$setOnInsert": onInsert}
	var u models.User
	err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&u)
	if wafflemongo.IsDup(err) {
		// Two first sign-ins raced on the same identity; the loser now
		// matches the winner's document.
		err = s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&u)
	}
	if err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrIdentityTaken
		}
		return models.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// UpsertByPhone returns the user for a verified E.164 phone number,
// creating it on first sign-in.
func (s *Store) UpsertByPhone(ctx context.Context, phone string) (models.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return models.User{}, errEmptyPhone
	}
	return s.upsertBy(ctx,
		bson.M{"phone": phone},
		bson.M{},
		bson.M{"phone": phone})
}

// GoogleProfile is the subset of Google userinfo kept on the user.
type GoogleProfile struct {
	Subject  string
	Email    string
	Name     string
	PhotoURL string
}

// UpsertByGoogle returns the user for a Google account, creating it on first
// sign-in. Email is refreshed on every sign-in; name and photo only seed a
// new user so later profile edits are not overwritten.
func (s *Store) UpsertByGoogle(ctx context.Context, p GoogleProfile) (models.User, error) {
	if strings.TrimSpace(p.Subject) == "" {
		return models.User{}, errEmptyGoogleID
	}
	set := bson.M{}
	if p.Email != "" {
		set["email"] = strings.ToLower(strings.TrimSpace(p.Email))
	}
	onInsert := bson.M{"google_id": p.Subject}
	if p.PhotoURL != "" {
		onInsert["photo_url"] = p.PhotoURL
	}
	u, err := s.upsertBy(ctx, bson.M{"google_id": p.Subject}, set, onInsert)
	if err != nil {
		return u, err
	}
	if u.Name == "" && strings.TrimSpace(p.Name) != "" {
		// Seed the display name once; the profile form owns it afterwards.
		if err := s.c.FindOneAndUpdate(ctx,
			bson.M{"_id": u.ID, "name": ""},
			bson.M{"$set": bson.M{"name": strings.TrimSpace(p.Name)}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&u); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, fmt.Errorf("seed user name: %w", err)
		}
	}
	return u, nil
}

// ProfileUpdate holds the fields the profile form may change.
type ProfileUpdate struct {
	Name     string
	City     string
	PhotoURL string
}

// UpdateProfile sets name, city and photo and returns the updated user.
func (s *Store) UpdateProfile(ctx context.Context, id primitive.ObjectID, upd ProfileUpdate) (models.User, error) {
	set := bson.M{
		"name":       strings.TrimSpace(upd.Name),
		"city":       strings.TrimSpace(upd.City),
		"photo_url":  strings.TrimSpace(upd.PhotoURL),
		"updated_at": time.Now().UTC(),
	}
	var u models.User
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

// SetBlocked blocks or unblocks a user. Blocked users cannot sign in.
func (s *Store) SetBlocked(ctx context.Context, id primitive.ObjectID, blocked bool) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{"blocked": blocked, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
