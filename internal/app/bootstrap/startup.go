// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	communitystore "github.com/dalemusser/vecinal/internal/app/store/communities"
	"github.com/dalemusser/vecinal/internal/app/store/oauthstate"
	otpstore "github.com/dalemusser/vecinal/internal/app/store/otp"
	usercommunitystore "github.com/dalemusser/vecinal/internal/app/store/usercommunities"
	userstore "github.com/dalemusser/vecinal/internal/app/store/users"
	"github.com/dalemusser/vecinal/internal/app/system/auth"
	"github.com/dalemusser/vecinal/internal/app/system/communities"
	"github.com/dalemusser/vecinal/internal/app/system/events"
	"github.com/dalemusser/vecinal/internal/app/system/ratelimit"
	"github.com/dalemusser/vecinal/internal/app/system/repair"
	"github.com/dalemusser/vecinal/internal/app/system/timeouts"
	"github.com/dalemusser/vecinal/internal/app/system/workers"
	"github.com/dalemusser/vecinal/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// services is everything Startup builds that handlers and Shutdown share.
type services struct {
	users       *userstore.Store
	states      *oauthstate.Store
	codes       *otpstore.Store
	communities *communities.Repository

	tokens    *auth.Tokens
	sessions  *auth.SessionManager
	principal *auth.Events

	phoneLimit  *ratelimit.PhoneLimiter
	searchLimit *ratelimit.Limiter

	publisher   events.Publisher
	repairQueue repair.Queue
	repairer    *workers.RepairWorker
	cleanup     *workers.OAuthStateCleanup

	stopWatch func()
}

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It builds
// the stores and the community repository, starts the background workers,
// and seeds the admin user when configured.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.App == nil {
		return errors.New("startup: DBDeps.App is nil; ConnectDB must run first")
	}
	current := timeouts.Current()
	logger.Info("handler timeouts",
		zap.Duration("short", current.Short),
		zap.Duration("medium", current.Medium),
		zap.Duration("long", current.Long))

	if err := buildServices(coreCfg, appCfg, deps, logger); err != nil {
		return err
	}

	if appCfg.SeedAdminPhone != "" {
		seedCtx, cancel := context.WithTimeout(ctx, timeouts.Medium())
		defer cancel()
		if err := ensureSeedAdmin(seedCtx, deps, appCfg.SeedAdminPhone, logger); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	svc := deps.App
	svc.repairer.Start()
	svc.cleanup.Start()
	svc.stopWatch = watchPrincipals(svc.principal, svc.communities, logger)
	logger.Info("background workers started", zap.Bool("kafka", len(appCfg.KafkaBrokers) > 0))
	return nil
}

func buildServices(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	svc := deps.App
	db := deps.MongoDatabase

	cs := communitystore.New(db)
	ix := usercommunitystore.New(db)
	svc.users = userstore.New(db)
	svc.states = oauthstate.New(db)
	svc.codes = otpstore.New(deps.Redis, otpstore.Config{
		TTL:         appCfg.OTPTTL,
		Cooldown:    appCfg.OTPCooldown,
		MaxAttempts: appCfg.OTPMaxAttempts,
	})

	reconciler := repair.NewReconciler(cs, ix, logger)
	repairOpts := workers.RepairOptions{Workers: appCfg.RepairWorkers}
	var err error
	if len(appCfg.KafkaBrokers) > 0 {
		svc.publisher = events.NewKafkaPublisher(appCfg.KafkaBrokers, appCfg.KafkaEventsTopic, logger)
		svc.repairQueue = repair.NewKafkaQueue(appCfg.KafkaBrokers, appCfg.KafkaRepairTopic)
		svc.repairer, err = workers.NewKafkaRepairWorker(appCfg.KafkaBrokers, appCfg.KafkaRepairTopic, appCfg.KafkaRepairGroup, reconciler, repairOpts, logger)
	} else {
		local := repair.NewLocalQueue(256)
		svc.publisher = events.Nop{}
		svc.repairQueue = local
		svc.repairer, err = workers.NewLocalRepairWorker(local, reconciler, repairOpts, logger)
	}
	if err != nil {
		return fmt.Errorf("repair worker: %w", err)
	}

	var tx communities.Transactor
	if deps.Txn != nil {
		tx = deps.Txn
	}
	svc.communities = communities.New(communities.Deps{
		Communities:   cs,
		Index:         ix,
		Identity:      auth.ContextIdentity{},
		Txn:           tx,
		Events:        svc.publisher,
		Repair:        svc.repairQueue,
		Logger:        logger,
		MineCacheSize: appCfg.MineCacheSize,
		MineCacheTTL:  appCfg.MineCacheTTL,
	})

	svc.tokens, err = auth.NewTokens(appCfg.JWTSecret, appCfg.JWTTTL)
	if err != nil {
		return fmt.Errorf("tokens: %w", err)
	}
	// Secure cookies are enabled in production mode.
	secure := coreCfg != nil && coreCfg.Env == "prod"
	svc.sessions, err = auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	svc.principal = auth.NewEvents()

	svc.phoneLimit = ratelimit.NewPhoneLimiter()
	limit, window := appCfg.SearchRateLimit, appCfg.SearchRateWindow
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	svc.searchLimit = ratelimit.New(limit, window)

	svc.cleanup = workers.NewOAuthStateCleanup(svc.states, logger, 0)
	return nil
}

// forgetter drops cached per-user state.
type forgetter interface {
	ForgetUser(userID string)
}

// watchPrincipals drops a user's cached community list when they sign in or
// out, so the next Mine call reads fresh data. The returned func stops it.
func watchPrincipals(ev *auth.Events, cache forgetter, logger *zap.Logger) func() {
	ch, unsubscribe := ev.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			cache.ForgetUser(e.UserID)
			logger.Debug("principal changed", zap.String("kind", e.Kind.String()), zap.String("user_id", e.UserID))
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

// ensureSeedAdmin makes sure the user owning phone exists, is approved and
// holds the PRESIDENTE role. Running it again is a no-op.
func ensureSeedAdmin(ctx context.Context, deps DBDeps, phone string, logger *zap.Logger) error {
	users := userstore.New(deps.MongoDatabase)
	u, err := users.UpsertByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if u.Role == models.UserRolePresidente && u.Approved && !u.Blocked {
		return nil
	}
	_, err = deps.MongoDatabase.Collection("users").UpdateByID(ctx, u.ID, bson.M{"$set": bson.M{
		"role":       models.UserRolePresidente,
		"approved":   true,
		"blocked":    false,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	logger.Info("seed admin ensured", zap.String("user_id", u.ID.Hex()))
	return nil
}
