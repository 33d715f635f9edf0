package config

const EnvPrefix = "MARGINGUARD"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "MARGINGUARD_APP_ENV"
	EnvPort     = "MARGINGUARD_APP_PORT"
	EnvLogLevel = "MARGINGUARD_LOG_LEVEL"

	EnvDBDSN  = "MARGINGUARD_DB_DSN"
	EnvDBHost = "MARGINGUARD_DB_HOST"
	EnvDBUser = "MARGINGUARD_DB_USER"
	EnvDBName = "MARGINGUARD_DB_NAME"

	EnvUseSQLite = "MARGINGUARD_USE_SQLITE"
	EnvRedisURL  = "MARGINGUARD_REDIS_URL"

	EnvRiskWindowDays      = "MARGINGUARD_RISK_WINDOW_DAYS"
	EnvRiskRefundWeight    = "MARGINGUARD_RISK_REFUND_WEIGHT"
	EnvRiskLevelSafeMax    = "MARGINGUARD_RISK_LEVEL_SAFE_MAX"
	EnvRiskLevelUnawareMax = "MARGINGUARD_RISK_LEVEL_UNAWARE_MAX"

	EnvPlansHighOrderVolume     = "MARGINGUARD_PLANS_HIGH_ORDER_VOLUME"
	EnvPlansVeryHighOrderVolume = "MARGINGUARD_PLANS_VERY_HIGH_ORDER_VOLUME"
	EnvPlansHighTierID          = "MARGINGUARD_PLANS_HIGH_TIER_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
