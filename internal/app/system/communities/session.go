// internal/app/system/communities/session.go
package communities

import (
	"context"

	"github.com/dalemusser/vecinal/internal/app/system/opstate"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Tracker names.
const (
	OpLoading   = "loading"
	OpCreating  = "creating"
	OpJoining   = "joining"
	OpSearching = "searching"
)

// Session wraps a Repository for one caller and records the status of each
// operation. Create one per caller (per request, per screen); trackers are
// never shared between callers.
type Session struct {
	repo *Repository

	Loading   *opstate.Tracker
	Creating  *opstate.Tracker
	Joining   *opstate.Tracker
	Searching *opstate.Tracker
}

func NewSession(repo *Repository) *Session {
	return &Session{
		repo:      repo,
		Loading:   opstate.NewTracker(OpLoading),
		Creating:  opstate.NewTracker(OpCreating),
		Joining:   opstate.NewTracker(OpJoining),
		Searching: opstate.NewTracker(OpSearching),
	}
}

// Subscribe registers fn on every tracker. The returned function removes it.
func (s *Session) Subscribe(fn func(name string, st opstate.Status)) func() {
	unsubs := []func(){
		s.Loading.Subscribe(fn),
		s.Creating.Subscribe(fn),
		s.Joining.Subscribe(fn),
		s.Searching.Subscribe(fn),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (s *Session) Create(ctx context.Context, draft models.Community) (c models.Community, err error) {
	err = s.Creating.Run(func() error {
		c, err = s.repo.Create(ctx, draft)
		return err
	})
	return c, err
}

func (s *Session) Join(ctx context.Context, community models.Community) (c models.Community, err error) {
	err = s.Joining.Run(func() error {
		c, err = s.repo.Join(ctx, community)
		return err
	})
	return c, err
}

// JoinByID loads the community and joins it. Both steps report on Joining.
func (s *Session) JoinByID(ctx context.Context, id primitive.ObjectID) (c models.Community, err error) {
	err = s.Joining.Run(func() error {
		target, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		c, err = s.repo.Join(ctx, target)
		return err
	})
	return c, err
}

func (s *Session) Search(ctx context.Context, query string) (res SearchResult, err error) {
	err = s.Searching.Run(func() error {
		res, err = s.repo.Search(ctx, query)
		return err
	})
	return res, err
}

func (s *Session) Get(ctx context.Context, id primitive.ObjectID) (c models.Community, err error) {
	err = s.Loading.Run(func() error {
		c, err = s.repo.Get(ctx, id)
		return err
	})
	return c, err
}

func (s *Session) Mine(ctx context.Context) (list []models.Community, err error) {
	err = s.Loading.Run(func() error {
		list, err = s.repo.Mine(ctx)
		return err
	})
	return list, err
}
