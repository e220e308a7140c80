package oauthstate_test

import (
	"testing"
	"time"

	"github.com/dalemusser/vecinal/internal/app/store/oauthstate"
	"github.com/dalemusser/vecinal/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
)

func TestStore_SaveAndConsume(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := oauthstate.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.Save(ctx, "state-1", "verifier-1", "/me", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	st, ok, err := store.Consume(ctx, "state-1")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !ok {
		t.Fatal("expected state to be valid")
	}
	if st.Verifier != "verifier-1" {
		t.Errorf("Verifier: got %q, want %q", st.Verifier, "verifier-1")
	}
	if st.ReturnURL != "/me" {
		t.Errorf("ReturnURL: got %q, want %q", st.ReturnURL, "/me")
	}
}

func TestStore_Consume_OneTimeUse(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := oauthstate.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_ = store.Save(ctx, "state-2", "v", "", time.Now().Add(10*time.Minute))

	if _, ok, _ := store.Consume(ctx, "state-2"); !ok {
		t.Fatal("expected first consume to succeed")
	}
	if _, ok, err := store.Consume(ctx, "state-2"); err != nil || ok {
		t.Errorf("expected second consume to fail without error; ok=%v err=%v", ok, err)
	}
}

func TestStore_Consume_Expired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := oauthstate.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_ = store.Save(ctx, "state-3", "v", "", time.Now().Add(-time.Minute))

	if _, ok, err := store.Consume(ctx, "state-3"); err != nil || ok {
		t.Errorf("expected expired state to be rejected; ok=%v err=%v", ok, err)
	}
}

func TestStore_Consume_Unknown(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := oauthstate.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, ok, err := store.Consume(ctx, "nope"); err != nil || ok {
		t.Errorf("expected unknown state to be rejected; ok=%v err=%v", ok, err)
	}
}

func TestStore_CleanupExpired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := oauthstate.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_ = store.Save(ctx, "old-1", "v", "", time.Now().Add(-time.Hour))
	_ = store.Save(ctx, "old-2", "v", "", time.Now().Add(-time.Minute))
	_ = store.Save(ctx, "fresh", "v", "", time.Now().Add(time.Hour))

	n, err := store.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	left, _ := db.Collection("oauth_states").CountDocuments(ctx, bson.M{})
	if left != 1 {
		t.Errorf("expected 1 state left, got %d", left)
	}
}
