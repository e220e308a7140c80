// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/vecinal/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates collections (if missing) and tries to attach JSON-Schema
// validators. On servers that don't support collMod/validators (e.g. some
// DocumentDB versions), we log and skip gracefully.
//
// Validation is "moderate": documents already stored that break the schema
// are left alone, so readers still have to check what they decode.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	ensure := func(coll string, schema bson.M) {
		if _, err := ensureCollection(ctx, db, coll); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema); err != nil {
			if isNoSuchCommand(err) || isNotImplemented(err) {
				zap.L().Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	ensure("communities", communitiesSchema())
	ensure("user_communities", userCommunitiesSchema())
	ensure("users", usersSchema())

	// Short-lived; no validator.
	ensure("oauth_states", nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* ---------------------- collection helpers & logging ---------------------- */

func collectionExists(ctx context.Context, db *mongo.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// ensureCollection idempotently makes sure <name> exists.
// Returns created==true only if we actually created it.
func ensureCollection(ctx context.Context, db *mongo.Database, name string) (created bool, err error) {
	exists, listErr := collectionExists(ctx, db, name)
	if listErr == nil && exists {
		zap.L().Debug("collection exists", zap.String("collection", name))
		return false, nil
	}
	if err := db.CreateCollection(ctx, name); err != nil {
		// Lost a race with another instance, or listing failed above.
		if isNamespaceExistsErr(err) {
			return false, nil
		}
		zap.L().Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	zap.L().Info("created collection", zap.String("collection", name))
	return true, nil
}

/* ------------------------------ validators ------------------------------- */

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return err
	}
	zap.L().Info("validator ensured", zap.String("collection", name))
	return nil
}

/* ------------------------- error helpers ------------------------- */

func commandError(err error) (mongo.CommandError, bool) {
	var ce mongo.CommandError
	ok := errors.As(err, &ce)
	return ce, ok
}

func isNamespaceExistsErr(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := commandError(err); ok && ce.Code == 48 {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "already exists") || strings.Contains(s, "namespace exists")
}

func isNoSuchCommand(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := commandError(err); ok && ce.Code == 59 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such command")
}

func isNotImplemented(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := commandError(err); ok && ce.Code == 115 {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not implemented") || strings.Contains(s, "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

var nonBlank = bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"}

func communitiesSchema() bson.M {
	roles := bson.A{string(models.RoleAdmin), string(models.RoleModerator), string(models.RoleMember)}
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"name", "name_ci", "address", "address_ci", "creator_id", "members", "created_at"},
			"properties": bson.M{
				"name":         nonBlank,
				"name_ci":      nonBlank,
				"address":      nonBlank,
				"address_ci":   nonBlank,
				"name_keys":    bson.M{"bsonType": "array", "items": bson.M{"bsonType": "string"}},
				"address_keys": bson.M{"bsonType": "array", "items": bson.M{"bsonType": "string"}},
				"is_public":    bson.M{"bsonType": "bool"},
				"creator_id":   nonBlank,
				"members": bson.M{
					"bsonType": "array",
					"items": bson.M{
						"bsonType": "object",
						"required": bson.A{"user_id", "role"},
						"properties": bson.M{
							"user_id":   nonBlank,
							"role":      bson.M{"enum": roles},
							"joined_at": bson.M{"bsonType": "date"},
						},
					},
				},
				"created_at": bson.M{"bsonType": "date"},
				"updated_at": bson.M{"bsonType": "date"},
			},
		},
	}
}

func userCommunitiesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"user_id", "community_id", "role", "joined_at"},
			"properties": bson.M{
				"user_id":      nonBlank,
				"community_id": bson.M{"bsonType": "objectId"},
				"role":         bson.M{"enum": bson.A{models.IndexRoleAdmin, models.IndexRoleMember}},
				"joined_at":    bson.M{"bsonType": bson.A{"long", "int"}},
			},
		},
	}
}

func usersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"role", "approved", "blocked", "created_at"},
			"properties": bson.M{
				"phone":     bson.M{"bsonType": "string", "pattern": "^\\+[1-9][0-9]{6,14}$"},
				"google_id": nonBlank,
				"email":     bson.M{"bsonType": "string"},
				"name":      bson.M{"bsonType": "string"},
				"city":      bson.M{"bsonType": "string"},
				"role": bson.M{"enum": bson.A{
					models.UserRoleVecino, models.UserRolePresidente, models.UserRoleSecretario, models.UserRoleTesorero,
				}},
				"approved":   bson.M{"bsonType": "bool"},
				"blocked":    bson.M{"bsonType": "bool"},
				"created_at": bson.M{"bsonType": "date"},
			},
		},
	}
}
