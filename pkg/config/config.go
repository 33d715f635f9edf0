package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	API          APIConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Pipeline     PipelineConfig
	Backfill     BackfillConfig
	AdSpend      AdSpendConfig
	Cron         CronConfig
	Risk         RiskConfig
	Plans        PlansConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Risk.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Plans.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARGINGUARD_APP_ENV" required:"true"`
	Port         string `envconfig:"MARGINGUARD_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MARGINGUARD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARGINGUARD_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"MARGINGUARD_LOG_FORMAT"`
	// BaseCurrency is applied to payloads that omit a currency.
	BaseCurrency string `envconfig:"MARGINGUARD_BASE_CURRENCY" default:"USD"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type APIConfig struct {
	CORSOrigins []string `envconfig:"MARGINGUARD_API_CORS_ORIGINS" default:"http://localhost:3000"`
	// Ingest throttling is a fixed window per merchant and per client IP.
	IngestRateWindow    time.Duration `envconfig:"MARGINGUARD_API_INGEST_RATE_WINDOW" default:"1m"`
	IngestMerchantLimit int           `envconfig:"MARGINGUARD_API_INGEST_MERCHANT_LIMIT" default:"600"`
	IngestIPLimit       int           `envconfig:"MARGINGUARD_API_INGEST_IP_LIMIT" default:"1200"`
	MaxBackfills        int           `envconfig:"MARGINGUARD_API_MAX_BACKFILLS" default:"4"`
	ShutdownTimeout     time.Duration `envconfig:"MARGINGUARD_API_SHUTDOWN_TIMEOUT" default:"20s"`
}

type ServiceConfig struct {
	Kind string `envconfig:"MARGINGUARD_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARGINGUARD_DB_DSN"`
	Driver string `envconfig:"MARGINGUARD_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARGINGUARD_DB_HOST"`
	LegacyPort     int    `envconfig:"MARGINGUARD_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARGINGUARD_DB_USER"`
	LegacyPassword string `envconfig:"MARGINGUARD_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARGINGUARD_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARGINGUARD_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"MARGINGUARD_SQLITE_PATH" default:"marginguard.db"`

	MaxOpenConns    int           `envconfig:"MARGINGUARD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARGINGUARD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARGINGUARD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARGINGUARD_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery logs statements slower than this at warn; zero disables it.
	SlowQuery time.Duration `envconfig:"MARGINGUARD_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARGINGUARD_REDIS_URL"`
	Address      string        `envconfig:"MARGINGUARD_REDIS_ADDR"`
	Password     string        `envconfig:"MARGINGUARD_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARGINGUARD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARGINGUARD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARGINGUARD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARGINGUARD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARGINGUARD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARGINGUARD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite        bool `envconfig:"MARGINGUARD_USE_SQLITE" default:"false"`
	AutoMigrate      bool `envconfig:"MARGINGUARD_AUTO_MIGRATE" default:"false"`
	InlineProjection bool `envconfig:"MARGINGUARD_INLINE_PROJECTION" default:"true"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"MARGINGUARD_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARGINGUARD_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MARGINGUARD_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARGINGUARD_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	IngestTopic        string `envconfig:"MARGINGUARD_PUBSUB_INGEST_TOPIC" default:"mg-ingest-events"`
	IngestSubscription string `envconfig:"MARGINGUARD_PUBSUB_INGEST_SUBSCRIPTION"`
	PlanTopic          string `envconfig:"MARGINGUARD_PUBSUB_PLAN_TOPIC" default:"mg-plan-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARGINGUARD_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARGINGUARD_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARGINGUARD_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"MARGINGUARD_OUTBOX_RETENTION_DAYS" default:"30"`
}

type PipelineConfig struct {
	SweepBatchSize int `envconfig:"MARGINGUARD_PIPELINE_SWEEP_BATCH_SIZE" default:"500"`
}

type BackfillConfig struct {
	GatewayURL    string        `envconfig:"MARGINGUARD_BACKFILL_GATEWAY_URL"`
	GatewayToken  string        `envconfig:"MARGINGUARD_BACKFILL_GATEWAY_TOKEN"`
	PageSize      int           `envconfig:"MARGINGUARD_BACKFILL_PAGE_SIZE" default:"250"`
	CheckpointTTL time.Duration `envconfig:"MARGINGUARD_BACKFILL_CHECKPOINT_TTL" default:"72h"`
	HTTPTimeout   time.Duration `envconfig:"MARGINGUARD_BACKFILL_HTTP_TIMEOUT" default:"30s"`
}

type AdSpendConfig struct {
	GatewayURL     string        `envconfig:"MARGINGUARD_ADSPEND_GATEWAY_URL"`
	GatewayToken   string        `envconfig:"MARGINGUARD_ADSPEND_GATEWAY_TOKEN"`
	RatePerSecond  float64       `envconfig:"MARGINGUARD_ADSPEND_RATE_PER_SECOND" default:"5"`
	Burst          int           `envconfig:"MARGINGUARD_ADSPEND_BURST" default:"5"`
	Concurrency    int           `envconfig:"MARGINGUARD_ADSPEND_CONCURRENCY" default:"4"`
	MaxJitter      time.Duration `envconfig:"MARGINGUARD_ADSPEND_MAX_JITTER" default:"2s"`
	DailyQuota     int64         `envconfig:"MARGINGUARD_ADSPEND_DAILY_QUOTA" default:"10000"`
	HTTPTimeout    time.Duration `envconfig:"MARGINGUARD_ADSPEND_HTTP_TIMEOUT" default:"15s"`
	LookbackDays   int           `envconfig:"MARGINGUARD_ADSPEND_LOOKBACK_DAYS" default:"1"`
	PlatformFilter string        `envconfig:"MARGINGUARD_ADSPEND_PLATFORMS"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"MARGINGUARD_CRON_INTERVAL" default:"15m"`
	RiskActivityDays  int           `envconfig:"MARGINGUARD_CRON_RISK_ACTIVITY_DAYS" default:"90"`
	RiskConcurrency   int           `envconfig:"MARGINGUARD_CRON_RISK_CONCURRENCY" default:"4"`
	EnableAdSpendPoll bool          `envconfig:"MARGINGUARD_CRON_ENABLE_ADSPEND_POLL" default:"false"`
}

type RiskConfig struct {
	WindowDays int `envconfig:"MARGINGUARD_RISK_WINDOW_DAYS" default:"30"`

	RefundWeight       float64 `envconfig:"MARGINGUARD_RISK_REFUND_WEIGHT" default:"0.25"`
	FeeWeight          float64 `envconfig:"MARGINGUARD_RISK_FEE_WEIGHT" default:"0.15"`
	ROASWeight         float64 `envconfig:"MARGINGUARD_RISK_ROAS_WEIGHT" default:"0.25"`
	CashFlowWeight     float64 `envconfig:"MARGINGUARD_RISK_CASH_FLOW_WEIGHT" default:"0.20"`
	ToxicProductWeight float64 `envconfig:"MARGINGUARD_RISK_TOXIC_PRODUCT_WEIGHT" default:"0.15"`

	AcceptableRefundRate float64 `envconfig:"MARGINGUARD_RISK_ACCEPTABLE_REFUND_RATE" default:"0.05"`
	FeeRatioFloor        float64 `envconfig:"MARGINGUARD_RISK_FEE_RATIO_FLOOR" default:"0.03"`
	FeeRatioCeiling      float64 `envconfig:"MARGINGUARD_RISK_FEE_RATIO_CEILING" default:"0.15"`
	ROASSensitivity      float64 `envconfig:"MARGINGUARD_RISK_ROAS_SENSITIVITY" default:"0.5"`
	RunwaySafetyDays     float64 `envconfig:"MARGINGUARD_RISK_RUNWAY_SAFETY_DAYS" default:"60"`
	FixedDailyCost       float64 `envconfig:"MARGINGUARD_RISK_FIXED_DAILY_COST" default:"0"`
	MinProductMargin     float64 `envconfig:"MARGINGUARD_RISK_MIN_PRODUCT_MARGIN" default:"0.15"`
	MaxToxicShare        float64 `envconfig:"MARGINGUARD_RISK_MAX_TOXIC_SHARE" default:"0.5"`

	SafeMax     float64 `envconfig:"MARGINGUARD_RISK_LEVEL_SAFE_MAX" default:"30"`
	UnawareMax  float64 `envconfig:"MARGINGUARD_RISK_LEVEL_UNAWARE_MAX" default:"60"`
	PainfulMax  float64 `envconfig:"MARGINGUARD_RISK_LEVEL_PAINFUL_MAX" default:"80"`
}

func (r RiskConfig) validate() error {
	if r.WindowDays <= 0 {
		return fmt.Errorf("%s must be positive", EnvRiskWindowDays)
	}
	if !(r.SafeMax <= r.UnawareMax && r.UnawareMax <= r.PainfulMax) {
		return fmt.Errorf("risk level cut-points must be ascending")
	}
	if r.FeeRatioCeiling <= r.FeeRatioFloor {
		return fmt.Errorf("fee ratio ceiling must exceed floor")
	}
	return nil
}

type PlansConfig struct {
	LowTierID  string `envconfig:"MARGINGUARD_PLANS_LOW_TIER_ID" default:"starter"`
	MidTierID  string `envconfig:"MARGINGUARD_PLANS_MID_TIER_ID" default:"growth"`
	HighTierID string `envconfig:"MARGINGUARD_PLANS_HIGH_TIER_ID" default:"scale"`

	LowBandMax float64 `envconfig:"MARGINGUARD_PLANS_LOW_BAND_MAX" default:"30"`
	MidBandMax float64 `envconfig:"MARGINGUARD_PLANS_MID_BAND_MAX" default:"60"`

	HighOrderVolume     int64 `envconfig:"MARGINGUARD_PLANS_HIGH_ORDER_VOLUME" default:"500"`
	VeryHighOrderVolume int64 `envconfig:"MARGINGUARD_PLANS_VERY_HIGH_ORDER_VOLUME" default:"2000"`
	ChannelThreshold    int64 `envconfig:"MARGINGUARD_PLANS_CHANNEL_THRESHOLD" default:"3"`
	VolumeWindowDays    int   `envconfig:"MARGINGUARD_PLANS_VOLUME_WINDOW_DAYS" default:"30"`
}

func (p PlansConfig) validate() error {
	if p.LowTierID == "" || p.MidTierID == "" || p.HighTierID == "" {
		return fmt.Errorf("all plan tier ids are required")
	}
	if p.LowBandMax > p.MidBandMax {
		return fmt.Errorf("plan band cut-points must be ascending")
	}
	if p.HighOrderVolume > p.VeryHighOrderVolume {
		return fmt.Errorf("%s must not exceed %s", EnvPlansHighOrderVolume, EnvPlansVeryHighOrderVolume)
	}
	return nil
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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
