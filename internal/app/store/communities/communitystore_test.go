package communitystore_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	communitystore "github.com/dalemusser/vecinal/internal/app/store/communities"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"github.com/dalemusser/vecinal/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newCommunity(name, address, creator string) models.Community {
	return models.Community{
		Name:      name,
		Address:   address,
		IsPublic:  true,
		CreatorID: creator,
		Members: []models.Membership{
			{UserID: creator, Role: models.RoleModerator, JoinedAt: time.Now().UTC()},
		},
	}
}

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c, err := store.Create(ctx, newCommunity("Los Piños", "Av. Siempre Viva 123", "u1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.ID.IsZero() {
		t.Error("expected ID to be assigned")
	}
	if c.NameCI != "los pinos" {
		t.Errorf("NameCI: got %q, want %q", c.NameCI, "los pinos")
	}
	if !strings.Contains(c.AddressCI, "siempre viva") {
		t.Errorf("AddressCI: got %q, want it to contain %q", c.AddressCI, "siempre viva")
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	got, err := store.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Name != "Los Piños" || len(got.Members) != 1 {
		t.Errorf("unexpected stored community: %+v", got)
	}
}

func TestStore_Create_KeepsPreallocatedID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	id := store.NewID()
	draft := newCommunity("Centro", "Calle 1", "u1")
	draft.ID = id
	c, err := store.Create(ctx, draft)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.ID != id {
		t.Errorf("ID: got %s, want %s", c.ID.Hex(), id.Hex())
	}
}

func TestStore_GetByID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.GetByID(ctx, primitive.NewObjectID())
	if !errors.Is(err, communitystore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_AddMember(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c, err := store.Create(ctx, newCommunity("Norte", "Calle 2", "u1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := store.AddMember(ctx, c.ID, models.Membership{UserID: "u2", Role: models.RoleMember, JoinedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if len(updated.Members) != 2 || updated.Members[1].UserID != "u2" {
		t.Errorf("expected u2 appended, got %+v", updated.Members)
	}
	if updated.Members[1].Role != models.RoleMember {
		t.Errorf("Role: got %q, want %q", updated.Members[1].Role, models.RoleMember)
	}
}

func TestStore_AddMember_AlreadyMember(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c, _ := store.Create(ctx, newCommunity("Sur", "Calle 3", "u1"))

	_, err := store.AddMember(ctx, c.ID, models.Membership{UserID: "u1", Role: models.RoleMember})
	if !errors.Is(err, communitystore.ErrAlreadyMember) {
		t.Errorf("expected ErrAlreadyMember, got %v", err)
	}

	got, _ := store.GetByID(ctx, c.ID)
	if len(got.Members) != 1 {
		t.Errorf("expected member list unchanged, got %d entries", len(got.Members))
	}
}

func TestStore_AddMember_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.AddMember(ctx, primitive.NewObjectID(), models.Membership{UserID: "u2", Role: models.RoleMember})
	if !errors.Is(err, communitystore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_AddMember_ConcurrentSameUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c, _ := store.Create(ctx, newCommunity("Este", "Calle 4", "u1"))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.AddMember(ctx, c.ID, models.Membership{UserID: "u2", Role: models.RoleMember})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, communitystore.ErrAlreadyMember):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one successful append, got %d", wins)
	}

	got, _ := store.GetByID(ctx, c.ID)
	count := 0
	for _, m := range got.Members {
		if m.UserID == "u2" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected u2 listed once, got %d", count)
	}
}

func TestStore_Delete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c, _ := store.Create(ctx, newCommunity("Temporal", "Calle 6", "u1"))
	n, err := store.Delete(ctx, c.ID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	if _, err := store.GetByID(ctx, c.ID); !errors.Is(err, communitystore.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_FindByPrefix(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for _, c := range []models.Community{
		newCommunity("Los Pinos", "Av. Siempre Viva 123", "u1"),
		newCommunity("Los Peñascos", "Ruta 9", "u1"),
		newCommunity("Las Lomas", "Los Pinos 40", "u1"),
	} {
		if _, err := store.Create(ctx, c); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	tests := []struct {
		field  string
		sortBy string
		lo     string
		want   []string
	}{
		{communitystore.FieldNameKeys, "name_ci", "los p", []string{"los penascos", "los pinos"}},
		{communitystore.FieldNameKeys, "name_ci", "pin", []string{"los pinos"}},
		{communitystore.FieldAddressKeys, "address_ci", "los p", []string{"los pinos 40"}},
		{communitystore.FieldAddressKeys, "address_ci", "siempre", []string{"av. siempre viva 123"}},
		{communitystore.FieldNameKeys, "name_ci", "zzz", nil},
	}
	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.lo, func(t *testing.T) {
			raws, err := store.FindByPrefix(ctx, tt.field, tt.lo)
			if err != nil {
				t.Fatalf("FindByPrefix failed: %v", err)
			}
			if len(raws) != len(tt.want) {
				t.Fatalf("got %d docs, want %d", len(raws), len(tt.want))
			}
			for i, raw := range raws {
				got, _ := raw.Lookup(tt.sortBy).StringValueOK()
				if got != tt.want[i] {
					t.Errorf("doc %d: got %q, want %q", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestStore_FindByPrefix_RejectsUnknownField(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.FindByPrefix(ctx, "description", "x"); err == nil {
		t.Error("expected error for unsearchable field")
	}
}

func TestWordKeys(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"centro", []string{"centro"}},
		{"av. siempre  viva", []string{"av. siempre viva", "siempre viva", "viva"}},
	}
	for _, tt := range tests {
		got := communitystore.WordKeys(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("WordKeys(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStore_FindByIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := communitystore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	a, _ := store.Create(ctx, newCommunity("A", "1", "u1"))
	b, _ := store.Create(ctx, newCommunity("B", "2", "u1"))
	// A raw document without the expected shape should not break the lookup of others.
	_, _ = db.Collection("communities").InsertOne(ctx, bson.M{"_id": primitive.NewObjectID(), "name": "orphan"})

	got, err := store.FindByIDs(ctx, []primitive.ObjectID{b.ID, a.ID, primitive.NewObjectID()})
	if err != nil {
		t.Fatalf("FindByIDs failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 communities, got %d", len(got))
	}
	if got[0].ID != a.ID || got[1].ID != b.ID {
		t.Error("expected results in _id order")
	}

	none, err := store.FindByIDs(ctx, nil)
	if err != nil || none != nil {
		t.Errorf("expected nil, nil for empty ids; got %v, %v", none, err)
	}
}
