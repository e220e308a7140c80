// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

const (
	devSessionKey = "dev-only-change-me-please-0123456789ABCDEF"
	devJWTSecret  = "dev-only-jwt-secret-change-me-0123456789"
)

// appConfigKeys defines the configuration keys for Vecinal.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: VECINAL_MONGO_URI, VECINAL_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "vecinal", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	{Name: "redis_addr", Default: "localhost:6379", Desc: "Redis address for verification codes"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},
	{Name: "redis_db", Default: 0, Desc: "Redis logical database"},

	{Name: "kafka_brokers", Default: "", Desc: "Comma-separated Kafka brokers (blank keeps events in-process)"},
	{Name: "kafka_events_topic", Default: "vecinal.community.events", Desc: "Topic for community domain events"},
	{Name: "kafka_repair_topic", Default: "vecinal.membership.repair", Desc: "Topic for membership repair tasks"},
	{Name: "kafka_repair_group", Default: "vecinal-repair", Desc: "Consumer group for the repair worker"},

	{Name: "session_key", Default: devSessionKey, Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "vecinal-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "720h", Desc: "Session cookie lifetime"},

	{Name: "jwt_secret", Default: devJWTSecret, Desc: "HS256 secret for access tokens (must be strong in production)"},
	{Name: "jwt_ttl", Default: "24h", Desc: "Access token lifetime"},

	{Name: "google_client_id", Default: "", Desc: "Google OAuth2 client ID"},
	{Name: "google_client_secret", Default: "", Desc: "Google OAuth2 client secret"},
	{Name: "base_url", Default: "http://localhost:8080", Desc: "Public base URL for OAuth callbacks"},

	{Name: "cors_allowed_origins", Default: "*", Desc: "Comma-separated CORS origins"},
	{Name: "trust_proxy", Default: false, Desc: "Take the client IP from X-Forwarded-For/X-Real-IP (only behind a trusted proxy)"},

	{Name: "otp_ttl", Default: "5m", Desc: "Verification code lifetime"},
	{Name: "otp_cooldown", Default: "30s", Desc: "Minimum time between codes for one phone"},
	{Name: "otp_max_attempts", Default: 5, Desc: "Wrong guesses allowed per code"},

	{Name: "search_rate_limit", Default: 60, Desc: "Search requests allowed per IP per window"},
	{Name: "search_rate_window", Default: "1m", Desc: "Search rate limit window"},

	{Name: "mine_cache_size", Default: 1024, Desc: "Users kept in the my-communities cache"},
	{Name: "mine_cache_ttl", Default: "1m", Desc: "My-communities cache entry lifetime"},

	{Name: "repair_workers", Default: 4, Desc: "Concurrent membership repair tasks"},

	{Name: "timeout_short", Default: "5s", Desc: "Timeout for single-document operations"},
	{Name: "timeout_medium", Default: "10s", Desc: "Timeout for queries and small batches"},
	{Name: "timeout_long", Default: "30s", Desc: "Timeout for multi-write operations"},

	{Name: "seed_admin_phone", Default: "", Desc: "E.164 phone promoted to PRESIDENTE on startup"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles .env files, config files,
// VECINAL_* environment variables and flags, merged with precedence
// flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "VECINAL", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		RedisAddr:     appValues.String("redis_addr"),
		RedisPassword: appValues.String("redis_password"),
		RedisDB:       appValues.Int("redis_db"),

		KafkaBrokers:     splitList(appValues.String("kafka_brokers")),
		KafkaEventsTopic: appValues.String("kafka_events_topic"),
		KafkaRepairTopic: appValues.String("kafka_repair_topic"),
		KafkaRepairGroup: appValues.String("kafka_repair_group"),

		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),
		SessionMaxAge: appValues.Duration("session_max_age", 30*24*time.Hour),

		JWTSecret: appValues.String("jwt_secret"),
		JWTTTL:    appValues.Duration("jwt_ttl", 24*time.Hour),

		GoogleClientID:     appValues.String("google_client_id"),
		GoogleClientSecret: appValues.String("google_client_secret"),
		BaseURL:            appValues.String("base_url"),

		CORSAllowedOrigins: splitList(appValues.String("cors_allowed_origins")),
		TrustProxy:         appValues.Bool("trust_proxy"),

		OTPTTL:         appValues.Duration("otp_ttl", 5*time.Minute),
		OTPCooldown:    appValues.Duration("otp_cooldown", 30*time.Second),
		OTPMaxAttempts: appValues.Int("otp_max_attempts"),

		SearchRateLimit:  appValues.Int("search_rate_limit"),
		SearchRateWindow: appValues.Duration("search_rate_window", time.Minute),

		MineCacheSize: appValues.Int("mine_cache_size"),
		MineCacheTTL:  appValues.Duration("mine_cache_ttl", time.Minute),

		RepairWorkers: appValues.Int("repair_workers"),

		TimeoutShort:  appValues.Duration("timeout_short", 5*time.Second),
		TimeoutMedium: appValues.Duration("timeout_medium", 10*time.Second),
		TimeoutLong:   appValues.Duration("timeout_long", 30*time.Second),

		SeedAdminPhone: strings.TrimSpace(appValues.String("seed_admin_phone")),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// Vecinal validates the MongoDB URI format, refuses development secrets in
// production, and checks that Google credentials come in pairs.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if appCfg.RedisAddr == "" {
		return errors.New("redis_addr is required")
	}

	if coreCfg != nil && coreCfg.Env == "prod" {
		if appCfg.SessionKey == devSessionKey || len(appCfg.SessionKey) < 32 {
			return errors.New("session_key must be a random value of at least 32 characters in prod")
		}
		if appCfg.JWTSecret == devJWTSecret || len(appCfg.JWTSecret) < 32 {
			return errors.New("jwt_secret must be a random value of at least 32 characters in prod")
		}
	}

	if (appCfg.GoogleClientID == "") != (appCfg.GoogleClientSecret == "") {
		return errors.New("google_client_id and google_client_secret must be set together")
	}
	if appCfg.GoogleClientID != "" {
		u, err := url.Parse(appCfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base_url %q must be an absolute URL when Google sign-in is enabled", appCfg.BaseURL)
		}
	}

	if len(appCfg.KafkaBrokers) > 0 && (appCfg.KafkaEventsTopic == "" || appCfg.KafkaRepairTopic == "") {
		return errors.New("kafka_events_topic and kafka_repair_topic are required with kafka_brokers")
	}

	return nil
}

// splitList parses a comma-separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
