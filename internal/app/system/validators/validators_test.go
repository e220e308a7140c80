package validators_test

import (
	"testing"
	"time"

	"github.com/dalemusser/vecinal/internal/app/system/validators"
	"github.com/dalemusser/vecinal/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func setup(t *testing.T) *mongo.Database {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := validators.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	return db
}

func TestEnsureAll_Idempotent(t *testing.T) {
	db := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := validators.EnsureAll(ctx, db); err != nil {
		t.Fatalf("Second EnsureAll failed: %v", err)
	}
}

func TestEnsureAll_CreatesCollections(t *testing.T) {
	db := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		t.Fatalf("ListCollectionNames failed: %v", err)
	}
	have := map[string]bool{}
	for _, n := range names {
		have[n] = true
	}
	for _, want := range []string{"communities", "user_communities", "users", "oauth_states"} {
		if !have[want] {
			t.Errorf("expected collection %q to exist", want)
		}
	}
}

func validCommunity() bson.M {
	now := time.Now().UTC()
	return bson.M{
		"_id":          primitive.NewObjectID(),
		"name":         "Los Pinos",
		"name_ci":      "los pinos",
		"address":      "Calle 1",
		"address_ci":   "calle 1",
		"name_keys":    bson.A{"los pinos", "pinos"},
		"address_keys": bson.A{"calle 1", "1"},
		"is_public":    true,
		"creator_id":   "u1",
		"members":      bson.A{bson.M{"user_id": "u1", "role": "MODERATOR", "joined_at": now}},
		"created_at":   now,
		"updated_at":   now,
	}
}

func TestCommunitiesValidator(t *testing.T) {
	db := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	coll := db.Collection("communities")

	if _, err := coll.InsertOne(ctx, validCommunity()); err != nil {
		t.Fatalf("Insert valid community failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(bson.M)
	}{
		{"blank name", func(d bson.M) { d["name"] = "   " }},
		{"missing creator", func(d bson.M) { delete(d, "creator_id") }},
		{"bad member role", func(d bson.M) {
			d["members"] = bson.A{bson.M{"user_id": "u1", "role": "KING"}}
		}},
		{"bare member id", func(d bson.M) { d["members"] = bson.A{"u1"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validCommunity()
			tt.mutate(doc)
			if _, err := coll.InsertOne(ctx, doc); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestUserCommunitiesValidator(t *testing.T) {
	db := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	coll := db.Collection("user_communities")

	ok := bson.M{"user_id": "u1", "community_id": primitive.NewObjectID(), "role": "admin", "joined_at": time.Now().UnixMilli()}
	if _, err := coll.InsertOne(ctx, ok); err != nil {
		t.Fatalf("Insert valid record failed: %v", err)
	}
	bad := bson.M{"user_id": "u1", "community_id": primitive.NewObjectID(), "role": "owner", "joined_at": int64(1)}
	if _, err := coll.InsertOne(ctx, bad); err == nil {
		t.Error("expected validation error for unknown role")
	}
}

func TestUsersValidator(t *testing.T) {
	db := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	coll := db.Collection("users")

	good := bson.M{"phone": "+5491122334455", "name": "", "city": "", "role": "VECINO",
		"approved": true, "blocked": false, "created_at": time.Now()}
	if _, err := coll.InsertOne(ctx, good); err != nil {
		t.Fatalf("Insert valid user failed: %v", err)
	}

	badPhone := bson.M{"phone": "1122334455", "role": "VECINO", "approved": true, "blocked": false, "created_at": time.Now()}
	if _, err := coll.InsertOne(ctx, badPhone); err == nil {
		t.Error("expected validation error for non-E.164 phone")
	}
	if _, err := coll.InsertOne(ctx, bson.M{"name": "x"}); err == nil {
		t.Error("expected validation error for missing required fields")
	}
}
