package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App             AppConfig
	Service         ServiceConfig
	DB              DBConfig
	Redis           RedisConfig
	JWT             JWTConfig
	Password        PasswordConfig
	AuthRateLimit   AuthRateLimitConfig
	FeatureFlags    FeatureFlagsConfig
	Ledger          LedgerConfig
	Referral        ReferralConfig
	LoginProtection LoginProtectionConfig
	Tracker         TrackerConfig
	Cron            CronConfig
	Idempotency     IdempotencyConfig
	CORS            CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Referral.validate(); err != nil {
		return nil, err
	}
	if !cfg.Ledger.CreditsPerUnit.IsPositive() {
		return nil, fmt.Errorf("%s must be positive", EnvLedgerCreditsPerUnit)
	}
	if cfg.App.IsProd() {
		if err := cfg.checkProd(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// checkProd rejects the single-node shortcuts that are only safe locally.
func (c *Config) checkProd() error {
	if strings.EqualFold(c.DB.Driver, "sqlite") {
		return fmt.Errorf("%s=sqlite is not allowed in prod", EnvDBDriver)
	}
	if !c.Redis.Enabled() {
		return fmt.Errorf("redis is required in prod")
	}
	if c.Tracker.Backend != TrackerBackendRedis {
		return fmt.Errorf("%s must be %q in prod", EnvTrackerBackend, TrackerBackendRedis)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"CREDITS_APP_ENV" required:"true"`
	Port         string `envconfig:"CREDITS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CREDITS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CREDITS_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"CREDITS_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CREDITS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CREDITS_DB_DSN"`
	Driver string `envconfig:"CREDITS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CREDITS_DB_HOST"`
	LegacyPort     int    `envconfig:"CREDITS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CREDITS_DB_USER"`
	LegacyPassword string `envconfig:"CREDITS_DB_PASSWORD"`
	LegacyName     string `envconfig:"CREDITS_DB_NAME"`
	LegacySSLMode  string `envconfig:"CREDITS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CREDITS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CREDITS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CREDITS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CREDITS_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"CREDITS_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CREDITS_REDIS_URL"`
	Address      string        `envconfig:"CREDITS_REDIS_ADDR"`
	Password     string        `envconfig:"CREDITS_REDIS_PASSWORD"`
	DB           int           `envconfig:"CREDITS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CREDITS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CREDITS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CREDITS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CREDITS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CREDITS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"CREDITS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CREDITS_JWT_ISSUER" required:"true"`
	Audience          string `envconfig:"CREDITS_JWT_AUDIENCE" default:"credits-api"`
	ExpirationMinutes int    `envconfig:"CREDITS_JWT_EXPIRATION_MINUTES" default:"60"`
}

func (j JWTConfig) Expiration() time.Duration {
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"CREDITS_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"CREDITS_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"CREDITS_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"CREDITS_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"CREDITS_ARGON_KEY_LEN" default:"32"`
}

// AuthRateLimitConfig is the coarse per-route limiter placed in front of the auth endpoints.
type AuthRateLimitConfig struct {
	LoginWindow       time.Duration `envconfig:"CREDITS_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginIPLimit      int           `envconfig:"CREDITS_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow    time.Duration `envconfig:"CREDITS_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterIPLimit   int           `envconfig:"CREDITS_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
	RegisterUserLimit int           `envconfig:"CREDITS_AUTH_RATE_LIMIT_REGISTER_USER_LIMIT" default:"3"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CREDITS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CREDITS_AUTO_MIGRATE" default:"false"`
}

type LedgerConfig struct {
	// PoolAccountID funds promotional credits; zero disables pool funding.
	PoolAccountID            uuid.UUID       `envconfig:"CREDITS_LEDGER_POOL_ACCOUNT_ID"`
	CreditsPerUnit           decimal.Decimal `envconfig:"CREDITS_LEDGER_CREDITS_PER_UNIT" default:"100"`
	LargeAdjustmentThreshold int64           `envconfig:"CREDITS_LEDGER_LARGE_ADJUSTMENT_THRESHOLD" default:"1000"`
	HistoryMaxLimit          int             `envconfig:"CREDITS_LEDGER_HISTORY_MAX_LIMIT" default:"100"`
}

// Reversal modes for rejecting an already rewarded referral.
const (
	ReversalModeCap  = "cap"
	ReversalModeSkip = "skip"
)

type ReferralConfig struct {
	RewardPerReferral    int64         `envconfig:"CREDITS_REFERRAL_REWARD" default:"50"`
	WelcomeBonus         int64         `envconfig:"CREDITS_REFERRAL_WELCOME_BONUS" default:"25"`
	SignupBonus          int64         `envconfig:"CREDITS_REFERRAL_SIGNUP_BONUS" default:"0"`
	MonthlyCap           int64         `envconfig:"CREDITS_REFERRAL_MONTHLY_CAP" default:"500"`
	TotalCap             int64         `envconfig:"CREDITS_REFERRAL_TOTAL_CAP" default:"5000"`
	Milestones           map[int]int64 `envconfig:"CREDITS_REFERRAL_MILESTONES" default:"5:100,10:250"`
	VerificationDays     int           `envconfig:"CREDITS_REFERRAL_VERIFICATION_DAYS" default:"7"`
	RequireActivity      bool          `envconfig:"CREDITS_REFERRAL_REQUIRE_ACTIVITY" default:"true"`
	MaxPerIP             int           `envconfig:"CREDITS_REFERRAL_MAX_PER_IP" default:"5"`
	IPWindow             time.Duration `envconfig:"CREDITS_REFERRAL_IP_WINDOW" default:"24h"`
	SuspiciousRate       int           `envconfig:"CREDITS_REFERRAL_SUSPICIOUS_RATE" default:"10"`
	SuspiciousWindow     time.Duration `envconfig:"CREDITS_REFERRAL_SUSPICIOUS_WINDOW" default:"1h"`
	FlagPendingOnIPBlock bool          `envconfig:"CREDITS_REFERRAL_FLAG_PENDING_ON_IP_BLOCK" default:"false"`
	ReversalMode         string        `envconfig:"CREDITS_REFERRAL_REVERSAL_MODE" default:"cap"`
	CodeTTL              time.Duration `envconfig:"CREDITS_REFERRAL_CODE_TTL" default:"0"`
	AutomationSignatures []string      `envconfig:"CREDITS_REFERRAL_AUTOMATION_SIGNATURES" default:"curl,wget,python-requests,go-http-client,headless,selenium,phantomjs,scrapy,bot,spider,crawler"`
	SweepBatchSize       int           `envconfig:"CREDITS_REFERRAL_SWEEP_BATCH_SIZE" default:"200"`
}

// VerificationWindow is how long a referral may stay pending before the sweep resolves it.
func (r ReferralConfig) VerificationWindow() time.Duration {
	return time.Duration(r.VerificationDays) * 24 * time.Hour
}

func (r ReferralConfig) validate() error {
	if r.MaxPerIP <= 0 {
		return fmt.Errorf("%s must be positive", EnvReferralMaxPerIP)
	}
	switch r.ReversalMode {
	case ReversalModeCap, ReversalModeSkip:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvReferralReversalMode, ReversalModeCap, ReversalModeSkip)
	}
	for count, bonus := range r.Milestones {
		if count <= 0 || bonus <= 0 {
			return fmt.Errorf("%s entries must be positive, got %d:%d", EnvReferralMilestones, count, bonus)
		}
	}
	return nil
}

// LoginProtectionConfig drives failed-login detection and escalating lockouts.
type LoginProtectionConfig struct {
	Window               time.Duration `envconfig:"CREDITS_LOGIN_WINDOW" default:"5m"`
	SuccessLookback      time.Duration `envconfig:"CREDITS_LOGIN_SUCCESS_LOOKBACK" default:"30m"`
	SuspiciousSuccessMin int           `envconfig:"CREDITS_LOGIN_SUSPICIOUS_SUCCESS_MIN" default:"3"`

	IPThreshold        int           `envconfig:"CREDITS_LOGIN_IP_THRESHOLD" default:"5"`
	IPLockoutStep      time.Duration `envconfig:"CREDITS_LOGIN_IP_LOCKOUT_STEP" default:"10m"`
	IPLockoutMax       time.Duration `envconfig:"CREDITS_LOGIN_IP_LOCKOUT_MAX" default:"60m"`
	UserThreshold      int           `envconfig:"CREDITS_LOGIN_USER_THRESHOLD" default:"3"`
	UserLockoutStep    time.Duration `envconfig:"CREDITS_LOGIN_USER_LOCKOUT_STEP" default:"5m"`
	UserLockoutMax     time.Duration `envconfig:"CREDITS_LOGIN_USER_LOCKOUT_MAX" default:"30m"`
	AdminIPThreshold   int           `envconfig:"CREDITS_LOGIN_ADMIN_IP_THRESHOLD" default:"3"`
	AdminIPStep        time.Duration `envconfig:"CREDITS_LOGIN_ADMIN_IP_LOCKOUT_STEP" default:"30m"`
	AdminIPMax         time.Duration `envconfig:"CREDITS_LOGIN_ADMIN_IP_LOCKOUT_MAX" default:"240m"`
	AdminUserThreshold int           `envconfig:"CREDITS_LOGIN_ADMIN_USER_THRESHOLD" default:"2"`
	AdminUserStep      time.Duration `envconfig:"CREDITS_LOGIN_ADMIN_USER_LOCKOUT_STEP" default:"20m"`
	AdminUserMax       time.Duration `envconfig:"CREDITS_LOGIN_ADMIN_USER_LOCKOUT_MAX" default:"120m"`
}

// Tracker backends.
const (
	TrackerBackendMemory = "memory"
	TrackerBackendRedis  = "redis"
)

type TrackerConfig struct {
	Backend string `envconfig:"CREDITS_TRACKER_BACKEND" default:"redis"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"CREDITS_CRON_INTERVAL" default:"1h"`
	LockTTL               time.Duration `envconfig:"CREDITS_CRON_LOCK_TTL" default:"10m"`
	JobTimeout            time.Duration `envconfig:"CREDITS_CRON_JOB_TIMEOUT" default:"5m"`
	NotificationRetention time.Duration `envconfig:"CREDITS_CRON_NOTIFICATION_RETENTION" default:"720h"`
	IPLogRetention        time.Duration `envconfig:"CREDITS_CRON_IP_LOG_RETENTION" default:"2160h"`
	AuditLookback         time.Duration `envconfig:"CREDITS_CRON_AUDIT_LOOKBACK" default:"2h"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CREDITS_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	MaxAge         int      `envconfig:"CREDITS_CORS_MAX_AGE" default:"300"`
}

type IdempotencyConfig struct {
	TTL      time.Duration `envconfig:"CREDITS_IDEMPOTENCY_TTL" default:"24h"`
	MoneyTTL time.Duration `envconfig:"CREDITS_IDEMPOTENCY_MONEY_TTL" default:"168h"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = "sqlite"
	}
	if db.DSN != "" {
		return nil
	}
	if strings.EqualFold(db.Driver, "sqlite") {
		db.DSN = "file:credits.db?_foreign_keys=on"
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
