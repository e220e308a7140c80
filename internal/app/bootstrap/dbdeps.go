// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/vecinal/internal/app/system/txn"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
//
// WAFFLE passes DBDeps by value to every hook, so state built in Startup
// lives behind the App pointer allocated in ConnectDB.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database
	Redis         redis.UniversalClient
	Txn           *txn.Runner

	App *services
}
