package communities_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	communitystore "github.com/dalemusser/vecinal/internal/app/store/communities"
	"github.com/dalemusser/vecinal/internal/app/system/auth"
	"github.com/dalemusser/vecinal/internal/app/system/communities"
	"github.com/dalemusser/vecinal/internal/app/system/events"
	"github.com/dalemusser/vecinal/internal/app/system/repair"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type env struct {
	c     *fakeCommunities
	ix    *fakeIndex
	tx    *fakeTxn
	pub   *recordingPublisher
	queue *repair.LocalQueue
	repo  *communities.Repository
}

// newEnv builds a repository over fakes. transactional selects whether the
// transaction path is available.
func newEnv(transactional bool) *env {
	e := &env{
		c:     newFakeCommunities(),
		ix:    newFakeIndex(),
		pub:   &recordingPublisher{},
		queue: repair.NewLocalQueue(8),
	}
	e.tx = &fakeTxn{unsupported: !transactional, c: e.c, ix: e.ix}
	e.repo = e.newRepo()
	return e
}

func (e *env) newRepo() *communities.Repository {
	return communities.New(communities.Deps{
		Communities: e.c,
		Index:       e.ix,
		Identity:    auth.ContextIdentity{},
		Txn:         e.tx,
		Events:      e.pub,
		Repair:      e.queue,
	})
}

func as(uid string) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{UserID: uid, Source: "test"})
}

func draft(name, address string) models.Community {
	return models.Community{Name: name, Address: address, IsPublic: true}
}

func mustCreate(t *testing.T, e *env, uid, name, address string) models.Community {
	t.Helper()
	c, err := e.repo.Create(as(uid), draft(name, address))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return c
}

func ids(cs []models.Community) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

/*─────────────────────────────────────────────────────────────────────────────*
| Create                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

func TestCreate_StampsCreatorAsOnlyModerator(t *testing.T) {
	for _, transactional := range []bool{true, false} {
		e := newEnv(transactional)
		in := draft("Los Pinos", "Av. Siempre Viva 123")
		in.Members = []models.Membership{{UserID: "intruder", Role: models.RoleAdmin}}
		in.CreatorID = "intruder"

		c, err := e.repo.Create(as("u1"), in)
		if err != nil {
			t.Fatalf("Create (txn=%v) failed: %v", transactional, err)
		}
		if c.ID.IsZero() {
			t.Error("expected an assigned id")
		}
		if c.CreatorID != "u1" {
			t.Errorf("CreatorID: got %q, want u1", c.CreatorID)
		}
		if len(c.Members) != 1 || c.Members[0].UserID != "u1" || c.Members[0].Role != models.RoleModerator {
			t.Errorf("Members: got %+v, want one MODERATOR u1", c.Members)
		}

		rec, ok := e.ix.get("u1", c.ID)
		if !ok {
			t.Fatal("expected an index record for the creator")
		}
		if rec.Role != models.IndexRoleAdmin || rec.JoinedAt == 0 {
			t.Errorf("index record: got %+v", rec)
		}
		if got := e.pub.types(); !reflect.DeepEqual(got, []string{events.CommunityCreated}) {
			t.Errorf("events: got %v", got)
		}
	}
}

func TestCreate_Unauthenticated(t *testing.T) {
	e := newEnv(false)
	_, err := e.repo.Create(context.Background(), draft("Los Pinos", "Calle 1"))
	if !errors.Is(err, communities.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if e.c.writes.Load() != 0 || e.ix.writes.Load() != 0 {
		t.Error("expected no writes")
	}
}

func TestCreate_Validation(t *testing.T) {
	e := newEnv(false)
	long := make([]rune, communities.MaxNameRunes+1)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		name string
		in   models.Community
	}{
		{"missing name", draft("  ", "Calle 1")},
		{"missing address", draft("Los Pinos", "")},
		{"name too long", draft(string(long), "Calle 1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.repo.Create(as("u1"), tt.in)
			if communities.KindOf(err) != communities.KindValidation {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
	if e.c.count() != 0 {
		t.Error("expected nothing stored")
	}
}

func TestCreate_TxnRollsBackOnIndexFailure(t *testing.T) {
	e := newEnv(true)
	e.ix.insertErr = errors.New("index down")

	_, err := e.repo.Create(as("u1"), draft("Los Pinos", "Calle 1"))
	if communities.KindOf(err) != communities.KindStore {
		t.Fatalf("expected store error, got %v", err)
	}
	if e.c.count() != 0 {
		t.Error("expected the community write to be rolled back")
	}
	if len(e.pub.types()) != 0 {
		t.Error("expected no events on failure")
	}
}

func TestCreate_OrderedCompensatesOnIndexFailure(t *testing.T) {
	e := newEnv(false)
	e.ix.insertErr = errors.New("index down")

	_, err := e.repo.Create(as("u1"), draft("Los Pinos", "Calle 1"))
	if !errors.Is(err, communities.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if e.c.count() != 0 {
		t.Error("expected the orphaned community to be deleted")
	}
	if len(e.queue.Tasks()) != 0 {
		t.Error("expected no repair task when compensation succeeds")
	}
}

func TestCreate_OrderedQueuesRepairWhenCompensationFails(t *testing.T) {
	e := newEnv(false)
	e.ix.insertErr = errors.New("index down")
	e.c.deleteErr = errors.New("delete down")

	_, err := e.repo.Create(as("u1"), draft("Los Pinos", "Calle 1"))
	if !errors.Is(err, communities.ErrPartialWrite) {
		t.Fatalf("expected ErrPartialWrite, got %v", err)
	}

	select {
	case task := <-e.queue.Tasks():
		if task.Kind != repair.RollbackCreate || task.UserID != "u1" {
			t.Errorf("task: got %+v", task)
		}
		if task.Reason == "" {
			t.Error("expected the failure reason on the task")
		}
	default:
		t.Fatal("expected a repair task")
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Join                                                                        |
*─────────────────────────────────────────────────────────────────────────────*/

func TestJoin_AppendsMember(t *testing.T) {
	for _, transactional := range []bool{true, false} {
		e := newEnv(transactional)
		c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")

		got, err := e.repo.Join(as("u2"), c)
		if err != nil {
			t.Fatalf("Join (txn=%v) failed: %v", transactional, err)
		}
		if len(got.Members) != 2 || got.Members[1].UserID != "u2" || got.Members[1].Role != models.RoleMember {
			t.Errorf("Members: got %+v", got.Members)
		}
		rec, ok := e.ix.get("u2", c.ID)
		if !ok || rec.Role != models.IndexRoleMember {
			t.Errorf("index record: got %+v, %v", rec, ok)
		}
		want := []string{events.CommunityCreated, events.CommunityMemberJoined}
		if got := e.pub.types(); !reflect.DeepEqual(got, want) {
			t.Errorf("events: got %v, want %v", got, want)
		}
	}
}

func TestJoin_AlreadyMemberWritesNothing(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")
	cw, iw := e.c.writes.Load(), e.ix.writes.Load()

	_, err := e.repo.Join(as("owner"), c)
	if !errors.Is(err, communities.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
	if e.c.writes.Load() != cw || e.ix.writes.Load() != iw {
		t.Error("expected no writes for an existing member")
	}
	if e.tx.runs.Load() != 0 {
		t.Error("expected no transaction for an existing member")
	}
}

func TestJoin_Unauthenticated(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")
	if _, err := e.repo.Join(context.Background(), c); !errors.Is(err, communities.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestJoin_MissingCommunity(t *testing.T) {
	for _, transactional := range []bool{true, false} {
		e := newEnv(transactional)
		ghost := models.Community{ID: primitive.NewObjectID()}

		_, err := e.repo.Join(as("u2"), ghost)
		if !errors.Is(err, communities.ErrNotFound) {
			t.Fatalf("expected ErrNotFound (txn=%v), got %v", transactional, err)
		}
		if _, ok := e.ix.get("u2", ghost.ID); ok {
			t.Errorf("expected no dangling index record (txn=%v)", transactional)
		}
	}
}

func TestJoin_OrderedCompensatesOnAppendFailure(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")
	e.c.addMemberErr = errors.New("update failed")

	_, err := e.repo.Join(as("u2"), c)
	if !errors.Is(err, communities.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if _, ok := e.ix.get("u2", c.ID); ok {
		t.Error("expected the index record to be removed")
	}
}

func TestJoin_OrderedQueuesRepairWhenCompensationFails(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")
	e.c.addMemberErr = errors.New("update failed")
	e.ix.deleteErr = errors.New("delete failed")

	_, err := e.repo.Join(as("u2"), c)
	if !errors.Is(err, communities.ErrPartialWrite) {
		t.Fatalf("expected ErrPartialWrite, got %v", err)
	}
	select {
	case task := <-e.queue.Tasks():
		if task.Kind != repair.RollbackJoin || task.CommunityID != c.ID.Hex() || task.UserID != "u2" {
			t.Errorf("task: got %+v", task)
		}
	default:
		t.Fatal("expected a repair task")
	}
}

func TestJoin_HealsMemberWithoutIndexRecord(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")
	if _, err := e.c.AddMember(context.Background(), c.ID, models.Membership{UserID: "u2", Role: models.RoleMember}); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	got, err := e.repo.Join(as("u2"), c)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if len(got.Members) != 2 {
		t.Errorf("expected the existing membership to be kept once, got %+v", got.Members)
	}
	if _, ok := e.ix.get("u2", c.ID); !ok {
		t.Error("expected the missing index record to be written")
	}
}

// Two processes join for the same user and community; both pass the
// existence check before either writes.
func TestJoin_RaceAcrossProcessesCommitsOneMembership(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")

	var ready sync.WaitGroup
	ready.Add(2)
	e.ix.beforeInsert = func() {
		ready.Done()
		ready.Wait()
	}

	repos := []*communities.Repository{e.newRepo(), e.newRepo()}
	errs := make([]error, len(repos))
	var wg sync.WaitGroup
	for i, repo := range repos {
		wg.Add(1)
		go func(i int, repo *communities.Repository) {
			defer wg.Done()
			_, errs[i] = repo.Join(as("u2"), c)
		}(i, repo)
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, communities.ErrAlreadyMember):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || already != 1 {
		t.Errorf("expected one success and one AlreadyMember, got %d and %d", ok, already)
	}

	stored, _ := e.c.get(c.ID)
	n := 0
	for _, m := range stored.Members {
		if m.UserID == "u2" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("expected exactly one committed membership, got %d", n)
	}
}

func TestJoin_CoalescesWithinProcess(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")

	release := make(chan struct{})
	e.ix.beforeInsert = func() { <-release }

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.repo.Join(as("u2"), c)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	stored, _ := e.c.get(c.ID)
	if len(stored.Members) != 2 {
		t.Errorf("expected one new membership, got %+v", stored.Members)
	}
	for i, err := range errs {
		if err != nil && !errors.Is(err, communities.ErrAlreadyMember) {
			t.Errorf("join %d: unexpected error %v", i, err)
		}
	}
}

func TestJoin_SharedFlightSurvivesFirstCallerCancel(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.ix.beforeInsert = func() {
		once.Do(func() { close(entered) })
		<-release
	}

	firstCtx, cancelFirst := context.WithCancel(as("u2"))
	firstErr := make(chan error, 1)
	go func() {
		_, err := e.repo.Join(firstCtx, c)
		firstErr <- err
	}()
	<-entered

	second := make(chan error, 1)
	go func() {
		_, err := e.repo.Join(as("u2"), c)
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller: expected context.Canceled, got %v", err)
	}
	close(release)
	if err := <-second; err != nil {
		t.Errorf("second caller: expected the shared join to succeed, got %v", err)
	}
	stored, _ := e.c.get(c.ID)
	if !stored.HasMember("u2") {
		t.Error("expected u2 to be a member")
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Search                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

func TestSearch_ShortQueryDoesNotQueryStore(t *testing.T) {
	e := newEnv(false)
	mustCreate(t, e, "owner", "Los Pinos", "Calle 1")

	for _, q := range []string{"", "a", "lo", "  lo  ", "ñá"} {
		res, err := e.repo.Search(context.Background(), q)
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", q, err)
		}
		if res.Communities == nil || len(res.Communities) != 0 {
			t.Errorf("Search(%q): expected empty non-nil result, got %+v", q, res.Communities)
		}
	}
	if n := e.c.prefixQueries.Load(); n != 0 {
		t.Errorf("expected no store queries, got %d", n)
	}
}

func TestSearch_CreateThenSearch(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Av. Siempre Viva 123")
	mustCreate(t, e, "owner", "Villa Norte", "Calle Falsa 742")

	for _, q := range []string{"los p", "siempre", "LOS PIÑOS", "Av. Sie"} {
		res, err := e.repo.Search(context.Background(), q)
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", q, err)
		}
		if len(res.Communities) != 1 || res.Communities[0].ID != c.ID {
			t.Errorf("Search(%q): expected only Los Pinos, got %+v", q, res.Communities)
		}
	}
}

func TestSearch_CollapsesInnerWhitespace(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")

	for _, q := range []string{"los p", "los  p", "  LOS \t P  "} {
		res, err := e.repo.Search(context.Background(), q)
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", q, err)
		}
		if len(res.Communities) != 1 || res.Communities[0].ID != c.ID {
			t.Errorf("Search(%q): expected Los Pinos, got %+v", q, res.Communities)
		}
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := map[string]string{
		"Los Pinos":        "los pinos",
		"  los \t  pinos ": "los pinos",
		"Ñandú":            text.Fold("Ñandú"),
	}
	for in, want := range tests {
		if got := communities.NormalizeQuery(in); got != want {
			t.Errorf("NormalizeQuery(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSearch_DeduplicatesNameAndAddressMatches(t *testing.T) {
	e := newEnv(false)
	both := mustCreate(t, e, "owner", "Centro Vecinal", "Centro 10")
	addr := mustCreate(t, e, "owner", "Barrio Sur", "Calle Centro 5")

	res, err := e.repo.Search(context.Background(), "centro")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	got := ids(res.Communities)
	want := []primitive.ObjectID{both.ID, addr.ID}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected name matches first then address matches once each, got %v want %v", got, want)
	}
}

func TestSearch_RepeatableOrder(t *testing.T) {
	e := newEnv(false)
	for _, n := range []string{"Pinar Alto", "Pinar Bajo", "Los Pinares", "Pinar del Río"} {
		mustCreate(t, e, "owner", n, "Calle Pinar 1")
	}
	first, err := e.repo.Search(context.Background(), "pinar")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	second, err := e.repo.Search(context.Background(), "pinar")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(first.Communities) != 4 {
		t.Fatalf("expected 4 results, got %d", len(first.Communities))
	}
	if !reflect.DeepEqual(ids(first.Communities), ids(second.Communities)) {
		t.Error("expected identical results for the same query")
	}
}

func TestSearch_NoMatchIsEmptySuccess(t *testing.T) {
	e := newEnv(false)
	mustCreate(t, e, "owner", "Los Pinos", "Calle 1")
	res, err := e.repo.Search(context.Background(), "zzz")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Communities) != 0 || res.Skipped != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestSearch_CountsMalformedDocuments(t *testing.T) {
	e := newEnv(false)
	good := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")

	noName, _ := bson.Marshal(bson.M{"_id": primitive.NewObjectID(), "name": "", "creator_id": "x"})
	badRole, _ := bson.Marshal(bson.M{
		"_id": primitive.NewObjectID(), "name": "Los Pinos Dos", "creator_id": "x",
		"members": bson.A{bson.M{"user_id": "x", "role": "KING"}},
	})
	noID, _ := bson.Marshal(bson.M{"name": "Los Pinos Tres"})
	wrongType, _ := bson.Marshal(bson.M{"_id": primitive.NewObjectID(), "name": 42})
	e.c.extra[communitystore.FieldNameKeys] = []bson.Raw{noName, badRole, noID, wrongType}

	res, err := e.repo.Search(context.Background(), "los")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Communities) != 1 || res.Communities[0].ID != good.ID {
		t.Errorf("expected only the well-formed community, got %+v", res.Communities)
	}
	if res.Skipped != 4 {
		t.Errorf("Skipped: got %d, want 4", res.Skipped)
	}
}

func TestSearch_ResultIsCallerOwned(t *testing.T) {
	e := newEnv(false)
	mustCreate(t, e, "owner", "Los Pinos", "Calle 1")
	a, _ := e.repo.Search(context.Background(), "los")
	a.Communities[0].Name = "changed"
	b, _ := e.repo.Search(context.Background(), "los")
	if b.Communities[0].Name != "Los Pinos" {
		t.Error("expected a caller's edits not to leak into other results")
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Reads                                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

func TestGet(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")

	got, err := e.repo.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Los Pinos" {
		t.Errorf("Name: got %q", got.Name)
	}
	if _, err := e.repo.Get(context.Background(), primitive.NewObjectID()); !errors.Is(err, communities.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMine_JoinOrderAndCache(t *testing.T) {
	e := newEnv(false)
	now := time.Unix(1_700_000_000, 0)
	e.repo = communities.New(communities.Deps{
		Communities: e.c,
		Index:       e.ix,
		Identity:    auth.ContextIdentity{},
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
	})

	a := mustCreate(t, e, "u1", "Alpha", "Calle 1")
	b := mustCreate(t, e, "owner", "Beta", "Calle 2")
	if _, err := e.repo.Join(as("u1"), b); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	list, err := e.repo.Mine(as("u1"))
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if !reflect.DeepEqual(ids(list), []primitive.ObjectID{a.ID, b.ID}) {
		t.Errorf("expected join order, got %v", ids(list))
	}

	lists := e.ix.lists.Load()
	if _, err := e.repo.Mine(as("u1")); err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if e.ix.lists.Load() != lists {
		t.Error("expected the second call to be served from cache")
	}

	e.repo.ForgetUser("u1")
	if _, err := e.repo.Mine(as("u1")); err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if e.ix.lists.Load() != lists+1 {
		t.Error("expected ForgetUser to drop the cached list")
	}
}

func TestMine_InvalidatedByJoin(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")

	before, _ := e.repo.Mine(as("u2"))
	if len(before) != 0 {
		t.Fatalf("expected no communities yet, got %d", len(before))
	}
	if _, err := e.repo.Join(as("u2"), c); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	after, err := e.repo.Mine(as("u2"))
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if len(after) != 1 || after[0].ID != c.ID {
		t.Errorf("expected the joined community, got %+v", after)
	}
}

func TestMine_JoinDuringReadIsNotCachedStale(t *testing.T) {
	e := newEnv(false)
	c := mustCreate(t, e, "owner", "Los Pinos", "Calle 1")

	listed := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.ix.afterList = func() {
		once.Do(func() {
			close(listed)
			<-release
		})
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.repo.Mine(as("u2"))
		done <- err
	}()
	<-listed
	if _, err := e.repo.Join(as("u2"), c); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Mine failed: %v", err)
	}

	after, err := e.repo.Mine(as("u2"))
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if len(after) != 1 || after[0].ID != c.ID {
		t.Errorf("expected the joined community after the racing read, got %+v", after)
	}
}

func TestMine_SkipsDanglingIndexRecords(t *testing.T) {
	e := newEnv(false)
	_ = e.ix.Insert(context.Background(), models.UserCommunity{
		UserID: "u1", CommunityID: primitive.NewObjectID(), Role: models.IndexRoleMember, JoinedAt: 1,
	})
	list, err := e.repo.Mine(as("u1"))
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected dangling record to be skipped, got %+v", list)
	}
}

func TestMine_Unauthenticated(t *testing.T) {
	e := newEnv(false)
	if _, err := e.repo.Mine(context.Background()); !errors.Is(err, communities.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestPublishFailureDoesNotFailCreate(t *testing.T) {
	e := newEnv(false)
	e.pub.err = errors.New("broker down")
	if _, err := e.repo.Create(as("u1"), draft("Los Pinos", "Calle 1")); err != nil {
		t.Fatalf("expected Create to succeed, got %v", err)
	}
}
