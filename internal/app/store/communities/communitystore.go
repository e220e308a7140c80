// internal/app/store/communities/communitystore.go
package communitystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/vecinal/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Word-key fields that prefix search may range over.
const (
	FieldNameKeys    = "name_keys"
	FieldAddressKeys = "address_keys"
)

// PrefixLimit caps how many documents one prefix sub-query returns.
const PrefixLimit = 50

// maxKeyWords bounds how many word-start keys are stored per field.
const maxKeyWords = 12

// sortField orders each key field's results by its folded source text.
var sortField = map[string]string{
	FieldNameKeys:    "name_ci",
	FieldAddressKeys: "address_ci",
}

var (
	ErrNotFound      = errors.New("community not found")
	ErrAlreadyMember = errors.New("user is already in the community member list")
	errBadField      = errors.New("prefix search field must be name_keys or address_keys")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("communities")}
}

// NewID allocates an identifier without writing anything.
func (s *Store) NewID() primitive.ObjectID {
	return primitive.NewObjectID()
}

// Create inserts c. A zero ID is replaced with a fresh one; folded search
// fields and timestamps are always recomputed.
func (s *Store) Create(ctx context.Context, c models.Community) (models.Community, error) {
	now := time.Now().UTC()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	c.NameCI = text.Fold(c.Name)
	c.AddressCI = text.Fold(c.Address)
	c.NameKeys = WordKeys(c.NameCI)
	c.AddressKeys = WordKeys(c.AddressCI)
	if c.Members == nil {
		c.Members = []models.Membership{}
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, c); err != nil {
		return models.Community{}, fmt.Errorf("insert community: %w", err)
	}
	return c, nil
}

func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Community, error) {
	var c models.Community
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Community{}, ErrNotFound
		}
		return models.Community{}, err
	}
	return c, nil
}

// AddMember appends m to the member list unless a Membership for the same
// user is already present, and returns the document as stored afterwards.
// It returns ErrAlreadyMember or ErrNotFound when nothing was written.
func (s *Store) AddMember(ctx context.Context, id primitive.ObjectID, m models.Membership) (models.Community, error) {
	filter := bson.M{
		"_id":             id,
		"members.user_id": bson.M{"$ne": m.UserID},
	}
	update := bson.M{
		"$push": bson.M{"members": m},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var c models.Community
	err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&c)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.Community{}, fmt.Errorf("add member: %w", err)
	}

	// The conditional push matched nothing: either the community is gone or
	// the user is already listed.
	n, cerr := s.c.CountDocuments(ctx, bson.M{"_id": id})
	if cerr != nil {
		return models.Community{}, fmt.Errorf("add member: %w", cerr)
	}
	if n == 0 {
		return models.Community{}, ErrNotFound
	}
	return models.Community{}, ErrAlreadyMember
}

// Delete removes a community by ID. Returns the number of documents deleted (0 or 1).
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// WordKeys returns folded followed by each suffix of it that starts at a
// word boundary. "av. siempre viva" yields
// ["av. siempre viva", "siempre viva", "viva"].
func WordKeys(folded string) []string {
	words := strings.Fields(folded)
	if len(words) > maxKeyWords {
		words = words[:maxKeyWords]
	}
	keys := make([]string, 0, len(words))
	for i := range words {
		keys = append(keys, strings.Join(words[i:], " "))
	}
	return keys
}

// FindByPrefix returns raw documents having a key in field within the
// inclusive range [lo, lo+text.High], ordered by the field's folded source
// text then _id. lo must already be folded. Documents are returned undecoded
// so the caller can validate each one.
func (s *Store) FindByPrefix(ctx context.Context, field, lo string) ([]bson.Raw, error) {
	sortBy, ok := sortField[field]
	if !ok {
		return nil, errBadField
	}
	filter := bson.M{field: bson.M{"$gte": lo, "$lte": lo + text.High}}
	opts := options.Find().
		SetSort(bson.D{{Key: sortBy, Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(PrefixLimit)

	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("prefix query on %s: %w", field, err)
	}
	defer cur.Close(ctx)

	var out []bson.Raw
	for cur.Next(ctx) {
		// cur.Current is reused by the cursor; copy before keeping it.
		raw := make(bson.Raw, len(cur.Current))
		copy(raw, cur.Current)
		out = append(out, raw)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("prefix query on %s: %w", field, err)
	}
	return out, nil
}

// FindByIDs loads the communities with the given ids, in _id order.
// Ids with no document are silently absent from the result.
func (s *Store) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Community, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Community
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
