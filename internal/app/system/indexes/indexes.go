// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup. Each ensure* function is idempotent.
Errors are aggregated so every problem is visible and startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	sets := []struct {
		name   string
		ensure func(context.Context, *mongo.Database) error
	}{
		{"communities", ensureCommunities},
		{"user_communities", ensureUserCommunities},
		{"users", ensureUsers},
		{"oauth_states", ensureOAuthStates},
	}

	var problems []string
	for _, s := range sets {
		if err := s.ensure(ctx, db); err != nil {
			problems = append(problems, s.name+": "+err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name               string `bson:"name"`
	Key                bson.D `bson:"key"`
	Unique             *bool  `bson:"unique,omitempty"`
	Sparse             *bool  `bson:"sparse,omitempty"`
	ExpireAfterSeconds *int32 `bson:"expireAfterSeconds,omitempty"`
}

// desiredIndex is the comparable view of a mongo.IndexModel.
type desiredIndex struct {
	model  mongo.IndexModel
	name   string
	sig    string
	unique bool
	sparse bool
	ttl    int32 // -1 when the index is not a TTL index
}

func describe(m mongo.IndexModel) desiredIndex {
	d := desiredIndex{model: m, sig: keySig(m.Keys.(bson.D)), ttl: -1}
	if o := m.Options; o != nil {
		if o.Name != nil {
			d.name = *o.Name
		}
		d.unique = o.Unique != nil && *o.Unique
		d.sparse = o.Sparse != nil && *o.Sparse
		if o.ExpireAfterSeconds != nil {
			d.ttl = *o.ExpireAfterSeconds
		}
	}
	return d
}

// sameOptions reports whether ex can serve as d without being rebuilt.
func (d desiredIndex) sameOptions(ex existingIndex) bool {
	ttl := int32(-1)
	if ex.ExpireAfterSeconds != nil {
		ttl = *ex.ExpireAfterSeconds
	}
	return d.unique == boolOf(ex.Unique) && d.sparse == boolOf(ex.Sparse) && d.ttl == ttl
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func boolOf(p *bool) bool {
	return p != nil && *p
}

// Best-effort duplicate-detector (works cross-vendors)
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "E11000") || strings.Contains(strings.ToLower(s), "duplicate key")
}

func listIndexes(ctx context.Context, coll *mongo.Collection) (map[string]existingIndex, error) {
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := map[string]existingIndex{} // sig -> index
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()),
				zap.Error(err))
			continue
		}
		out[keySig(idx.Key)] = idx
	}
	return out, cur.Err()
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	existing, err := listIndexes(ctx, coll)
	if err != nil {
		// A collection that does not exist yet lists as an error on some
		// servers; treat it as having no indexes.
		existing = map[string]existingIndex{}
	}

	var errs []string
	for _, m := range models {
		d := describe(m)
		start := time.Now()
		log := zap.L().With(
			zap.String("collection", coll.Name()),
			zap.String("name", d.name),
			zap.String("keys", d.sig))

		ex, found := existing[d.sig]
		switch {
		case found && d.sameOptions(ex) && (d.name == "" || ex.Name == d.name):
			log.Debug("reusing existing index")
			continue
		case found:
			// Same keys under another name or with other options: rebuild.
			if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
				log.Warn("drop existing index failed", zap.String("existing", ex.Name), zap.Error(err))
				errs = append(errs, fmt.Sprintf("%s(%s): drop failed: %v", coll.Name(), d.name, err))
				continue
			}
		}

		if _, err := coll.Indexes().CreateOne(ctx, d.model); err != nil {
			log.Warn("index ensure failed", zap.Error(err))
			if isDuplicateKeyErr(err) && d.unique {
				errs = append(errs, fmt.Sprintf("%s(%s): cannot create unique index (duplicates present)", coll.Name(), d.name))
			} else {
				errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), d.name, err))
			}
			continue
		}
		log.Info("index ensured",
			zap.Bool("unique", d.unique),
			zap.Bool("rebuilt", found),
			zap.String("took", time.Since(start).String()))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Collection-specific index sets                                              */
/* -------------------------------------------------------------------------- */

func ensureCommunities(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("communities")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// Prefix search on word starts. Multikey; the sort field and _id
		// follow so the range scan can also serve the sort.
		{
			Keys:    bson.D{{Key: "name_keys", Value: 1}, {Key: "name_ci", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_communities_namekeys_nameci_id"),
		},
		{
			Keys:    bson.D{{Key: "address_keys", Value: 1}, {Key: "address_ci", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_communities_addresskeys_addressci_id"),
		},
		// Membership lookups and the conditional push filter.
		{
			Keys:    bson.D{{Key: "members.user_id", Value: 1}},
			Options: options.Index().SetName("idx_communities_members_user"),
		},
		{
			Keys:    bson.D{{Key: "creator_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_communities_creator_created"),
		},
	})
}

func ensureUserCommunities(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("user_communities")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// Exactly one index record per (user, community). Racing joins rely on it.
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "community_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_uc_user_community"),
		},
		// "My communities" in join order.
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "joined_at", Value: 1}, {Key: "community_id", Value: 1}},
			Options: options.Index().SetName("idx_uc_user_joined"),
		},
		// Repair and per-community counts.
		{
			Keys:    bson.D{{Key: "community_id", Value: 1}},
			Options: options.Index().SetName("idx_uc_community"),
		},
	})
}

func ensureUsers(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("users")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// Sign-in identities. Sparse so users with only one identity do not collide.
		{
			Keys:    bson.D{{Key: "phone", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_users_phone"),
		},
		{
			Keys:    bson.D{{Key: "google_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_users_google"),
		},
	})
}

func ensureOAuthStates(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("oauth_states")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "state", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_oauth_state"),
		},
		// Expired states are removed by the TTL monitor.
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_oauth_expires_ttl"),
		},
	})
}
