package communities_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	communitystore "github.com/dalemusser/vecinal/internal/app/store/communities"
	usercommunitystore "github.com/dalemusser/vecinal/internal/app/store/usercommunities"
	"github.com/dalemusser/vecinal/internal/app/system/events"
	"github.com/dalemusser/vecinal/internal/app/system/txn"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeCommunities is an in-memory communitystore.Store.
type fakeCommunities struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]models.Community
	// extra raw documents returned by FindByPrefix for a field, after the
	// real matches.
	extra map[string][]bson.Raw

	createErr    error
	addMemberErr error
	deleteErr    error

	prefixQueries atomic.Int64
	writes        atomic.Int64
}

func newFakeCommunities() *fakeCommunities {
	return &fakeCommunities{docs: map[primitive.ObjectID]models.Community{}, extra: map[string][]bson.Raw{}}
}

func (f *fakeCommunities) NewID() primitive.ObjectID { return primitive.NewObjectID() }

func (f *fakeCommunities) Create(_ context.Context, c models.Community) (models.Community, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return models.Community{}, f.createErr
	}
	f.writes.Add(1)
	c.NameCI = text.Fold(c.Name)
	c.AddressCI = text.Fold(c.Address)
	c.NameKeys = communitystore.WordKeys(c.NameCI)
	c.AddressKeys = communitystore.WordKeys(c.AddressCI)
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	f.docs[c.ID] = c
	return c, nil
}

func (f *fakeCommunities) GetByID(_ context.Context, id primitive.ObjectID) (models.Community, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.docs[id]
	if !ok {
		return models.Community{}, communitystore.ErrNotFound
	}
	return c, nil
}

func (f *fakeCommunities) AddMember(_ context.Context, id primitive.ObjectID, m models.Membership) (models.Community, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addMemberErr != nil {
		return models.Community{}, f.addMemberErr
	}
	c, ok := f.docs[id]
	if !ok {
		return models.Community{}, communitystore.ErrNotFound
	}
	if c.HasMember(m.UserID) {
		return models.Community{}, communitystore.ErrAlreadyMember
	}
	f.writes.Add(1)
	c.Members = append(append([]models.Membership(nil), c.Members...), m)
	f.docs[id] = c
	return c, nil
}

func (f *fakeCommunities) Delete(_ context.Context, id primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	if _, ok := f.docs[id]; !ok {
		return 0, nil
	}
	f.writes.Add(1)
	delete(f.docs, id)
	return 1, nil
}

func (f *fakeCommunities) FindByPrefix(_ context.Context, field, lo string) ([]bson.Raw, error) {
	f.prefixQueries.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	var hits []models.Community
	for _, c := range f.docs {
		keys := c.NameKeys
		if field == communitystore.FieldAddressKeys {
			keys = c.AddressKeys
		}
		for _, k := range keys {
			if strings.HasPrefix(k, lo) {
				hits = append(hits, c)
				break
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i].NameCI, hits[j].NameCI
		if field == communitystore.FieldAddressKeys {
			a, b = hits[i].AddressCI, hits[j].AddressCI
		}
		if a != b {
			return a < b
		}
		return hits[i].ID.Hex() < hits[j].ID.Hex()
	})

	out := make([]bson.Raw, 0, len(hits)+len(f.extra[field]))
	for _, c := range hits {
		raw, err := bson.Marshal(c)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return append(out, f.extra[field]...), nil
}

func (f *fakeCommunities) FindByIDs(_ context.Context, ids []primitive.ObjectID) ([]models.Community, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Community
	for _, id := range ids {
		if c, ok := f.docs[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCommunities) get(id primitive.ObjectID) (models.Community, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.docs[id]
	return c, ok
}

func (f *fakeCommunities) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

// fakeIndex is an in-memory usercommunitystore.Store with the unique
// (user_id, community_id) constraint.
type fakeIndex struct {
	mu   sync.Mutex
	recs map[string]models.UserCommunity

	insertErr error
	deleteErr error

	// beforeInsert runs with no lock held, letting tests line up racing
	// joins after their existence checks.
	beforeInsert func()
	// afterList runs with no lock held once ListByUser has its snapshot.
	afterList func()

	writes atomic.Int64
	lists  atomic.Int64
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{recs: map[string]models.UserCommunity{}}
}

func ixKey(uid string, cid primitive.ObjectID) string { return uid + "|" + cid.Hex() }

func (f *fakeIndex) Insert(ctx context.Context, rec models.UserCommunity) error {
	if f.beforeInsert != nil {
		f.beforeInsert()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	k := ixKey(rec.UserID, rec.CommunityID)
	if _, ok := f.recs[k]; ok {
		return usercommunitystore.ErrDuplicate
	}
	f.writes.Add(1)
	f.recs[k] = rec
	return nil
}

func (f *fakeIndex) Exists(_ context.Context, uid string, cid primitive.ObjectID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.recs[ixKey(uid, cid)]
	return ok, nil
}

func (f *fakeIndex) Delete(_ context.Context, uid string, cid primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	k := ixKey(uid, cid)
	if _, ok := f.recs[k]; !ok {
		return 0, nil
	}
	f.writes.Add(1)
	delete(f.recs, k)
	return 1, nil
}

func (f *fakeIndex) ListByUser(_ context.Context, uid string) ([]models.UserCommunity, error) {
	f.lists.Add(1)
	f.mu.Lock()
	var out []models.UserCommunity
	for _, rec := range f.recs {
		if rec.UserID == uid {
			out = append(out, rec)
		}
	}
	f.mu.Unlock()
	if f.afterList != nil {
		f.afterList()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].CommunityID.Hex() < out[j].CommunityID.Hex()
	})
	return out, nil
}

func (f *fakeIndex) get(uid string, cid primitive.ObjectID) (models.UserCommunity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[ixKey(uid, cid)]
	return rec, ok
}

// fakeTxn snapshots both fakes and restores them when fn fails.
type fakeTxn struct {
	unsupported bool
	c           *fakeCommunities
	ix          *fakeIndex
	runs        atomic.Int64
}

func (t *fakeTxn) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.unsupported {
		return txn.ErrNotSupported
	}
	t.runs.Add(1)

	t.c.mu.Lock()
	docs := make(map[primitive.ObjectID]models.Community, len(t.c.docs))
	for k, v := range t.c.docs {
		docs[k] = v
	}
	t.c.mu.Unlock()
	t.ix.mu.Lock()
	recs := make(map[string]models.UserCommunity, len(t.ix.recs))
	for k, v := range t.ix.recs {
		recs[k] = v
	}
	t.ix.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.c.mu.Lock()
		t.c.docs = docs
		t.c.mu.Unlock()
		t.ix.mu.Lock()
		t.ix.recs = recs
		t.ix.mu.Unlock()
		return err
	}
	return nil
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}
