package config

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "CREDITS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv     = "CREDITS_APP_ENV"
	EnvPort       = "CREDITS_APP_PORT"
	EnvLogLevel   = "CREDITS_LOG_LEVEL"
	EnvDBDSN      = "CREDITS_DB_DSN"
	EnvDBDriver   = "CREDITS_DB_DRIVER"
	EnvDBHost     = "CREDITS_DB_HOST"
	EnvDBUser     = "CREDITS_DB_USER"
	EnvDBName     = "CREDITS_DB_NAME"
	EnvRedisURL   = "CREDITS_REDIS_URL"
	EnvJWTSecret  = "CREDITS_JWT_SECRET"
	EnvJWTIssuer  = "CREDITS_JWT_ISSUER"
	EnvJWTExpMins = "CREDITS_JWT_EXPIRATION_MINUTES"

	EnvLedgerPoolAccountID      = "CREDITS_LEDGER_POOL_ACCOUNT_ID"
	EnvLedgerCreditsPerUnit     = "CREDITS_LEDGER_CREDITS_PER_UNIT"
	EnvReferralMilestones       = "CREDITS_REFERRAL_MILESTONES"
	EnvReferralMaxPerIP         = "CREDITS_REFERRAL_MAX_PER_IP"
	EnvReferralReversalMode     = "CREDITS_REFERRAL_REVERSAL_MODE"
	EnvTrackerBackend           = "CREDITS_TRACKER_BACKEND"
	EnvLoginAdminIPThreshold    = "CREDITS_LOGIN_ADMIN_IP_THRESHOLD"
	EnvLoginAdminIPLockoutLimit = "CREDITS_LOGIN_ADMIN_IP_LOCKOUT_MAX"
)

// legacyDBEnvVars must all be present when no DSN is supplied.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
