// Package communities implements the community membership and search
// workflow: create, join, search, get, and list-mine.
//
// A community's member array and the per-user index (user_communities) must
// agree. Writes to both run in one transaction when the deployment supports
// it. Otherwise they run in order; a failed second write is undone in line,
// and when the undo fails a repair task is queued and the caller gets
// KindPartialWrite.
package communities

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bluele/gcache"
	communitystore "github.com/dalemusser/vecinal/internal/app/store/communities"
	usercommunitystore "github.com/dalemusser/vecinal/internal/app/store/usercommunities"
	"github.com/dalemusser/vecinal/internal/app/system/events"
	"github.com/dalemusser/vecinal/internal/app/system/repair"
	"github.com/dalemusser/vecinal/internal/app/system/txn"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// MinQueryRunes is the shortest query, after trimming, that reaches the store.
const MinQueryRunes = 3

// Field length limits for Create.
const (
	MaxNameRunes    = 120
	MaxAddressRunes = 200
)

// CommunityStore is the subset of communitystore.Store used here.
type CommunityStore interface {
	NewID() primitive.ObjectID
	Create(ctx context.Context, c models.Community) (models.Community, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Community, error)
	AddMember(ctx context.Context, id primitive.ObjectID, m models.Membership) (models.Community, error)
	Delete(ctx context.Context, id primitive.ObjectID) (int64, error)
	FindByPrefix(ctx context.Context, field, lo string) ([]bson.Raw, error)
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Community, error)
}

// IndexStore is the subset of usercommunitystore.Store used here.
type IndexStore interface {
	Insert(ctx context.Context, rec models.UserCommunity) error
	Exists(ctx context.Context, userID string, communityID primitive.ObjectID) (bool, error)
	Delete(ctx context.Context, userID string, communityID primitive.ObjectID) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]models.UserCommunity, error)
}

// Identity resolves the signed-in user for a call.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// Transactor runs fn atomically. It returns txn.ErrNotSupported, having
// committed nothing, when the deployment cannot run transactions.
type Transactor interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps wires a Repository. Txn, Events, and Repair may be nil.
type Deps struct {
	Communities CommunityStore
	Index       IndexStore
	Identity    Identity
	Txn         Transactor
	Events      events.Publisher
	Repair      repair.Queue
	Logger      *zap.Logger

	MineCacheSize int           // default 1024 users
	MineCacheTTL  time.Duration // default 1 minute
	Now           func() time.Time
}

// SearchResult is the outcome of Search. Skipped counts stored documents
// that matched but failed validation.
type SearchResult struct {
	Communities []models.Community `json:"communities"`
	Skipped     int                `json:"skipped"`
}

// Repository implements the community workflow. It is safe for concurrent use.
type Repository struct {
	communities CommunityStore
	index       IndexStore
	identity    Identity
	txn         Transactor
	events      events.Publisher
	repair      repair.Queue
	log         *zap.Logger
	now         func() time.Time

	mine     gcache.Cache
	mineMu   sync.Mutex
	mineGen  map[string]uint64
	joins    singleflight.Group
	searches singleflight.Group
}

func New(d Deps) *Repository {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.MineCacheSize <= 0 {
		d.MineCacheSize = 1024
	}
	if d.MineCacheTTL <= 0 {
		d.MineCacheTTL = time.Minute
	}
	return &Repository{
		communities: d.Communities,
		index:       d.Index,
		identity:    d.Identity,
		txn:         d.Txn,
		events:      d.Events,
		repair:      d.Repair,
		log:         d.Logger,
		now:         d.Now,
		mine:        gcache.New(d.MineCacheSize).LRU().Expiration(d.MineCacheTTL).Build(),
		mineGen:     map[string]uint64{},
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Create                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// Create persists draft as a new community owned by the caller. ID,
// CreatorID, and Members in draft are ignored; the caller becomes the only
// member, as MODERATOR.
func (r *Repository) Create(ctx context.Context, draft models.Community) (models.Community, error) {
	const op = "create"
	uid, ok := r.identity.CurrentUserID(ctx)
	if !ok {
		return models.Community{}, newErr(KindUnauthenticated, op, "sign in to create a community", nil)
	}
	if err := validateDraft(draft); err != nil {
		return models.Community{}, newErr(KindValidation, op, err.Error(), nil)
	}

	now := r.now().UTC()
	c := draft
	c.ID = r.communities.NewID()
	c.CreatorID = uid
	c.Name = strings.TrimSpace(c.Name)
	c.Address = strings.TrimSpace(c.Address)
	c.Members = []models.Membership{{UserID: uid, Role: models.RoleModerator, JoinedAt: now}}
	rec := models.UserCommunity{
		UserID:      uid,
		CommunityID: c.ID,
		Role:        models.IndexRoleAdmin,
		JoinedAt:    now.UnixMilli(),
	}

	created, err := r.createTxn(ctx, c, rec)
	if errors.Is(err, txn.ErrNotSupported) {
		created, err = r.createOrdered(ctx, c, rec)
	} else if err != nil {
		err = newErr(KindStore, op, "could not create the community", err)
	}
	if err != nil {
		return models.Community{}, err
	}

	r.ForgetUser(uid)
	r.publish(events.Event{
		Type:        events.CommunityCreated,
		CommunityID: created.ID.Hex(),
		UserID:      uid,
		Role:        models.IndexRoleAdmin,
		At:          now,
	})
	return created, nil
}

func (r *Repository) createTxn(ctx context.Context, c models.Community, rec models.UserCommunity) (models.Community, error) {
	if r.txn == nil {
		return models.Community{}, txn.ErrNotSupported
	}
	var created models.Community
	err := r.txn.Run(ctx, func(ctx context.Context) error {
		var err error
		if created, err = r.communities.Create(ctx, c); err != nil {
			return err
		}
		return r.index.Insert(ctx, rec)
	})
	return created, err
}

func (r *Repository) createOrdered(ctx context.Context, c models.Community, rec models.UserCommunity) (models.Community, error) {
	const op = "create"
	created, err := r.communities.Create(ctx, c)
	if err != nil {
		return models.Community{}, newErr(KindStore, op, "could not create the community", err)
	}
	if err := r.index.Insert(ctx, rec); err != nil {
		cctx, cancel := detached(ctx)
		defer cancel()
		if _, derr := r.communities.Delete(cctx, created.ID); derr != nil {
			r.queueRepair(cctx, repair.NewTask(repair.RollbackCreate, rec.UserID, created.ID, err))
			return models.Community{}, newErr(KindPartialWrite, op,
				"the community was saved but could not be linked to your account; it will be cleaned up", err)
		}
		return models.Community{}, newErr(KindStore, op, "could not create the community", err)
	}
	return created, nil
}

func validateDraft(c models.Community) error {
	name := strings.TrimSpace(c.Name)
	addr := strings.TrimSpace(c.Address)
	switch {
	case name == "":
		return errors.New("name is required")
	case utf8.RuneCountInString(name) > MaxNameRunes:
		return errors.New("name is too long")
	case addr == "":
		return errors.New("address is required")
	case utf8.RuneCountInString(addr) > MaxAddressRunes:
		return errors.New("address is too long")
	}
	return nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Join                                                                        |
*─────────────────────────────────────────────────────────────────────────────*/

// Join adds the caller to community as a MEMBER and returns the community as
// stored afterwards. Only community.ID is read. When the caller is already
// indexed for the community it fails with KindAlreadyMember and writes
// nothing. Concurrent joins for the same user and community within this
// process share one execution and its result.
func (r *Repository) Join(ctx context.Context, community models.Community) (models.Community, error) {
	const op = "join"
	uid, ok := r.identity.CurrentUserID(ctx)
	if !ok {
		return models.Community{}, newErr(KindUnauthenticated, op, "sign in to join a community", nil)
	}
	if community.ID.IsZero() {
		return models.Community{}, newErr(KindValidation, op, "community id is required", nil)
	}

	ch := r.joins.DoChan(uid+":"+community.ID.Hex(), func() (interface{}, error) {
		fctx, cancel := flight(ctx)
		defer cancel()
		return r.join(fctx, uid, community.ID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Community{}, res.Err
		}
		return res.Val.(models.Community), nil
	case <-ctx.Done():
		return models.Community{}, newErr(KindStore, op, "the request was cancelled", ctx.Err())
	}
}

func (r *Repository) join(ctx context.Context, uid string, cid primitive.ObjectID) (models.Community, error) {
	const op = "join"
	exists, err := r.index.Exists(ctx, uid, cid)
	if err != nil {
		return models.Community{}, newErr(KindStore, op, "could not check your membership", err)
	}
	if exists {
		return models.Community{}, newErr(KindAlreadyMember, op, "you are already a member of this community", nil)
	}

	now := r.now().UTC()
	rec := models.UserCommunity{UserID: uid, CommunityID: cid, Role: models.IndexRoleMember, JoinedAt: now.UnixMilli()}
	m := models.Membership{UserID: uid, Role: models.RoleMember, JoinedAt: now}

	updated, err := r.joinTxn(ctx, rec, m)
	if errors.Is(err, txn.ErrNotSupported) {
		updated, err = r.joinOrdered(ctx, rec, m)
	} else if err != nil {
		err = joinErr(err)
	}
	if err != nil {
		return models.Community{}, err
	}

	r.ForgetUser(uid)
	r.publish(events.Event{
		Type:        events.CommunityMemberJoined,
		CommunityID: cid.Hex(),
		UserID:      uid,
		Role:        models.IndexRoleMember,
		At:          now,
	})
	return updated, nil
}

func (r *Repository) joinTxn(ctx context.Context, rec models.UserCommunity, m models.Membership) (models.Community, error) {
	if r.txn == nil {
		return models.Community{}, txn.ErrNotSupported
	}
	var updated models.Community
	err := r.txn.Run(ctx, func(ctx context.Context) error {
		if err := r.index.Insert(ctx, rec); err != nil {
			return err
		}
		c, err := r.appendMember(ctx, rec.CommunityID, m)
		if err != nil {
			return err
		}
		updated = c
		return nil
	})
	return updated, err
}

func (r *Repository) joinOrdered(ctx context.Context, rec models.UserCommunity, m models.Membership) (models.Community, error) {
	const op = "join"
	if err := r.index.Insert(ctx, rec); err != nil {
		return models.Community{}, joinErr(err)
	}

	c, err := r.appendMember(ctx, rec.CommunityID, m)
	if err == nil {
		return c, nil
	}

	cctx, cancel := detached(ctx)
	defer cancel()
	if _, derr := r.index.Delete(cctx, rec.UserID, rec.CommunityID); derr != nil {
		r.queueRepair(cctx, repair.NewTask(repair.RollbackJoin, rec.UserID, rec.CommunityID, err))
		return models.Community{}, newErr(KindPartialWrite, op,
			"your membership was only partly saved; it will be cleaned up", err)
	}
	return models.Community{}, joinErr(err)
}

// appendMember pushes m. A user already in the member list (index record
// was missing) counts as success; the index record written just before
// restores agreement.
func (r *Repository) appendMember(ctx context.Context, cid primitive.ObjectID, m models.Membership) (models.Community, error) {
	c, err := r.communities.AddMember(ctx, cid, m)
	if errors.Is(err, communitystore.ErrAlreadyMember) {
		r.log.Warn("member list already held user without index record",
			zap.String("community_id", cid.Hex()),
			zap.String("user_id", m.UserID))
		return r.communities.GetByID(ctx, cid)
	}
	return c, err
}

func joinErr(err error) error {
	const op = "join"
	switch {
	case errors.Is(err, usercommunitystore.ErrDuplicate):
		return newErr(KindAlreadyMember, op, "you are already a member of this community", nil)
	case errors.Is(err, communitystore.ErrNotFound):
		return newErr(KindNotFound, op, "that community no longer exists", nil)
	}
	return newErr(KindStore, op, "could not join the community", err)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Search and reads                                                            |
*─────────────────────────────────────────────────────────────────────────────*/

// NormalizeQuery folds q and collapses runs of whitespace to one space, the
// same shape communitystore.WordKeys stores.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(text.Fold(q)), " ")
}

// Search returns communities whose name or address has a word starting with
// query, name matches first, each community once. Queries shorter than
// MinQueryRunes return an empty result without touching the store.
func (r *Repository) Search(ctx context.Context, query string) (SearchResult, error) {
	const op = "search"
	q := strings.TrimSpace(query)
	if utf8.RuneCountInString(q) < MinQueryRunes {
		return SearchResult{Communities: []models.Community{}}, nil
	}
	folded := NormalizeQuery(q)

	ch := r.searches.DoChan(folded, func() (interface{}, error) {
		fctx, cancel := flight(ctx)
		defer cancel()
		return r.search(fctx, folded)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return SearchResult{}, newErr(KindStore, op, "search is unavailable right now", res.Err)
		}
		shared := res.Val.(SearchResult)
		out := SearchResult{Skipped: shared.Skipped, Communities: make([]models.Community, len(shared.Communities))}
		copy(out.Communities, shared.Communities)
		return out, nil
	case <-ctx.Done():
		return SearchResult{}, newErr(KindStore, op, "the request was cancelled", ctx.Err())
	}
}

func (r *Repository) search(ctx context.Context, folded string) (SearchResult, error) {
	var byName, byAddress []bson.Raw
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byName, err = r.communities.FindByPrefix(gctx, communitystore.FieldNameKeys, folded)
		return err
	})
	g.Go(func() error {
		var err error
		byAddress, err = r.communities.FindByPrefix(gctx, communitystore.FieldAddressKeys, folded)
		return err
	})
	if err := g.Wait(); err != nil {
		return SearchResult{}, err
	}

	res := SearchResult{Communities: make([]models.Community, 0, len(byName)+len(byAddress))}
	seen := make(map[primitive.ObjectID]struct{}, len(byName)+len(byAddress))
	for _, raw := range append(byName, byAddress...) {
		id, ok := raw.Lookup("_id").ObjectIDOK()
		if !ok || id.IsZero() {
			res.Skipped++
			r.log.Warn("search skipped document without object id")
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		c, err := decodeCommunity(raw)
		if err != nil {
			res.Skipped++
			r.log.Warn("search skipped malformed community",
				zap.String("community_id", id.Hex()),
				zap.Error(err))
			continue
		}
		res.Communities = append(res.Communities, c)
	}
	return res, nil
}

// decodeCommunity decodes raw and checks the fields every reader relies on.
func decodeCommunity(raw bson.Raw) (models.Community, error) {
	var c models.Community
	if err := bson.Unmarshal(raw, &c); err != nil {
		return models.Community{}, err
	}
	switch {
	case c.ID.IsZero():
		return models.Community{}, errors.New("missing _id")
	case strings.TrimSpace(c.Name) == "":
		return models.Community{}, errors.New("missing name")
	case c.CreatorID == "":
		return models.Community{}, errors.New("missing creator_id")
	}
	for i, m := range c.Members {
		if m.UserID == "" || !m.Role.Valid() {
			return models.Community{}, errors.New("invalid member at position " + strconv.Itoa(i))
		}
	}
	return c, nil
}

// Get loads one community.
func (r *Repository) Get(ctx context.Context, id primitive.ObjectID) (models.Community, error) {
	const op = "get"
	c, err := r.communities.GetByID(ctx, id)
	if errors.Is(err, communitystore.ErrNotFound) {
		return models.Community{}, newErr(KindNotFound, op, "community not found", nil)
	}
	if err != nil {
		return models.Community{}, newErr(KindStore, op, "could not load the community", err)
	}
	return c, nil
}

// Mine lists the caller's communities in the order they were joined.
// Results are cached per user until the user creates or joins a community,
// signs out, or the cache entry expires.
func (r *Repository) Mine(ctx context.Context) ([]models.Community, error) {
	const op = "mine"
	uid, ok := r.identity.CurrentUserID(ctx)
	if !ok {
		return nil, newErr(KindUnauthenticated, op, "sign in to see your communities", nil)
	}

	if v, err := r.mine.Get(uid); err == nil {
		return cloneList(v.([]models.Community)), nil
	} else if !errors.Is(err, gcache.KeyNotFoundError) {
		r.log.Warn("my-communities cache read failed", zap.Error(err))
	}

	gen := r.mineGeneration(uid)
	recs, err := r.index.ListByUser(ctx, uid)
	if err != nil {
		return nil, newErr(KindStore, op, "could not load your communities", err)
	}
	ids := make([]primitive.ObjectID, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.CommunityID)
	}
	found, err := r.communities.FindByIDs(ctx, ids)
	if err != nil {
		return nil, newErr(KindStore, op, "could not load your communities", err)
	}

	byID := make(map[primitive.ObjectID]models.Community, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	list := make([]models.Community, 0, len(recs))
	for _, rec := range recs {
		c, ok := byID[rec.CommunityID]
		if !ok {
			r.log.Warn("index record points at missing community",
				zap.String("user_id", uid),
				zap.String("community_id", rec.CommunityID.Hex()))
			continue
		}
		list = append(list, c)
	}

	r.storeMine(uid, gen, list)
	return cloneList(list), nil
}

// ForgetUser drops the cached community list for userID. A Mine call that
// read the index before ForgetUser does not cache its result.
func (r *Repository) ForgetUser(userID string) {
	r.mineMu.Lock()
	defer r.mineMu.Unlock()
	r.mineGen[userID]++
	r.mine.Remove(userID)
}

func (r *Repository) mineGeneration(uid string) uint64 {
	r.mineMu.Lock()
	defer r.mineMu.Unlock()
	return r.mineGen[uid]
}

// storeMine caches list unless uid was forgotten since gen was read.
func (r *Repository) storeMine(uid string, gen uint64, list []models.Community) {
	r.mineMu.Lock()
	defer r.mineMu.Unlock()
	if r.mineGen[uid] != gen {
		return
	}
	if err := r.mine.Set(uid, list); err != nil {
		r.log.Warn("my-communities cache write failed", zap.Error(err))
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Helpers                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

func (r *Repository) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.events.Publish(ctx, ev); err != nil {
		r.log.Warn("event publish failed",
			zap.String("type", ev.Type),
			zap.String("community_id", ev.CommunityID),
			zap.Error(err))
	}
}

func (r *Repository) queueRepair(ctx context.Context, t repair.Task) {
	log := r.log.With(
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("user_id", t.UserID),
		zap.String("community_id", t.CommunityID),
		zap.String("reason", t.Reason))
	if r.repair == nil {
		log.Error("partial write with no repair queue configured")
		return
	}
	if err := r.repair.Enqueue(ctx, t); err != nil {
		log.Error("repair enqueue failed", zap.Error(err))
		return
	}
	log.Warn("partial write queued for repair")
}

// detached returns a context that survives the caller's cancellation, for
// undoing a write the caller can no longer observe.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

// flight returns the context a shared join or search runs on. It outlives
// the first caller so the others still get a result when that caller goes
// away; each caller stops waiting on its own cancellation.
func flight(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
}

func cloneList(in []models.Community) []models.Community {
	out := make([]models.Community, len(in))
	copy(out, in)
	return out
}
