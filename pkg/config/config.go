package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Dispatch      DispatchConfig
	Signup        SignupConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"DISPATCH_APP_ENV" required:"true"`
	Port         string   `envconfig:"DISPATCH_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"DISPATCH_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"DISPATCH_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"DISPATCH_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"DISPATCH_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DISPATCH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DISPATCH_DB_DSN"`
	Driver string `envconfig:"DISPATCH_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DISPATCH_DB_HOST"`
	LegacyPort     int    `envconfig:"DISPATCH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DISPATCH_DB_USER"`
	LegacyPassword string `envconfig:"DISPATCH_DB_PASSWORD"`
	LegacyName     string `envconfig:"DISPATCH_DB_NAME"`
	LegacySSLMode  string `envconfig:"DISPATCH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DISPATCH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DISPATCH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DISPATCH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DISPATCH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DISPATCH_REDIS_URL"`
	Address      string        `envconfig:"DISPATCH_REDIS_ADDR"`
	Password     string        `envconfig:"DISPATCH_REDIS_PASSWORD"`
	DB           int           `envconfig:"DISPATCH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DISPATCH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DISPATCH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DISPATCH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DISPATCH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DISPATCH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"DISPATCH_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"DISPATCH_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"DISPATCH_JWT_EXPIRATION_MINUTES" default:"60"`
	RefreshTTLHours   int    `envconfig:"DISPATCH_JWT_REFRESH_TTL_HOURS" default:"336"`
}

// RefreshTokenTTL is the lifetime of a refresh session.
func (c JWTConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTTLHours) * time.Hour
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"DISPATCH_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"DISPATCH_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"DISPATCH_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"DISPATCH_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"DISPATCH_ARGON_KEY_LEN" default:"32"`
}

// AuthRateLimitConfig throttles the unauthenticated login and signup routes.
type AuthRateLimitConfig struct {
	LoginWindow      time.Duration `envconfig:"DISPATCH_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit  int           `envconfig:"DISPATCH_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit     int           `envconfig:"DISPATCH_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	SignupWindow     time.Duration `envconfig:"DISPATCH_AUTH_RATE_LIMIT_SIGNUP_WINDOW" default:"5m"`
	SignupEmailLimit int           `envconfig:"DISPATCH_AUTH_RATE_LIMIT_SIGNUP_EMAIL_LIMIT" default:"5"`
	SignupIPLimit    int           `envconfig:"DISPATCH_AUTH_RATE_LIMIT_SIGNUP_IP_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"DISPATCH_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"DISPATCH_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	RealtimeTopic        string `envconfig:"DISPATCH_PUBSUB_REALTIME_TOPIC" default:"dispatch-realtime-events"`
	RealtimeSubscription string `envconfig:"DISPATCH_PUBSUB_REALTIME_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DISPATCH_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DISPATCH_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DISPATCH_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"DISPATCH_OUTBOX_RETENTION_DAYS" default:"30"`
}

// DispatchConfig holds bid window policy knobs.
type DispatchConfig struct {
	CompetitiveWindow     time.Duration `envconfig:"DISPATCH_BID_COMPETITIVE_WINDOW" default:"30m"`
	EmergencyWindow       time.Duration `envconfig:"DISPATCH_BID_EMERGENCY_WINDOW" default:"2h"`
	DefaultEmergencyBonus int           `envconfig:"DISPATCH_BID_EMERGENCY_BONUS_PERCENT" default:"20"`
	ExpirySweepInterval   time.Duration `envconfig:"DISPATCH_BID_EXPIRY_SWEEP_INTERVAL" default:"1m"`
}

// SignupConfig holds onboarding reservation policy knobs.
type SignupConfig struct {
	StaleReservationAfter   time.Duration `envconfig:"DISPATCH_SIGNUP_STALE_RESERVATION_AFTER" default:"15m"`
	InviteTTL               time.Duration `envconfig:"DISPATCH_SIGNUP_INVITE_TTL" default:"168h"`
	OrganizationCreateTries int           `envconfig:"DISPATCH_SIGNUP_ORG_CREATE_ATTEMPTS" default:"6"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"DISPATCH_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"DISPATCH_CRON_LOCK_TTL" default:"5m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
