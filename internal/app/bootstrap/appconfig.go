// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers
// ports, TLS, log level and the environment name; everything specific to
// Vecinal lives here.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Redis (verification codes)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka. Empty brokers keeps events in-process: publishing is a no-op
	// and repair tasks go to a local queue.
	KafkaBrokers     []string
	KafkaEventsTopic string
	KafkaRepairTopic string
	KafkaRepairGroup string

	// Session management configuration
	SessionKey    string
	SessionName   string
	SessionDomain string
	SessionMaxAge time.Duration

	// Bearer tokens
	JWTSecret string
	JWTTTL    time.Duration

	// Google OAuth
	GoogleClientID     string
	GoogleClientSecret string
	BaseURL            string // public origin, used for the OAuth callback

	// CORS
	CORSAllowedOrigins []string

	// TrustProxy rewrites RemoteAddr from proxy headers before rate limiting.
	TrustProxy bool

	// Phone sign-in
	OTPTTL         time.Duration
	OTPCooldown    time.Duration
	OTPMaxAttempts int

	// Search rate limit per client IP
	SearchRateLimit  int
	SearchRateWindow time.Duration

	// My-communities cache
	MineCacheSize int
	MineCacheTTL  time.Duration

	// Repair worker
	RepairWorkers int

	// Handler timeouts (zero keeps the defaults)
	TimeoutShort  time.Duration
	TimeoutMedium time.Duration
	TimeoutLong   time.Duration

	// SeedAdminPhone, when set, is ensured to exist as an approved
	// PRESIDENTE on startup.
	SeedAdminPhone string
}
