package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Ledger       LedgerConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate reports every invalid setting at once.
func (c *Config) validate() error {
	var errs error
	if err := c.DB.ensureDSN(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := c.Ledger.AmountTolerance(); err != nil {
		errs = multierr.Append(errs, err)
	}
	switch c.App.LogFormat {
	case "", "json", "console":
	default:
		errs = multierr.Append(errs, fmt.Errorf("BILLING_LOG_FORMAT must be json or console, got %q", c.App.LogFormat))
	}
	if c.JWT.Leeway < 0 {
		errs = multierr.Append(errs, fmt.Errorf("BILLING_JWT_LEEWAY must not be negative"))
	}
	if c.DB.TxRetries < 0 {
		errs = multierr.Append(errs, fmt.Errorf("BILLING_DB_TX_RETRIES must not be negative"))
	}
	if c.Cron.AuditRelayMaxAttempts < 0 {
		errs = multierr.Append(errs, fmt.Errorf("BILLING_CRON_AUDIT_RELAY_MAX_ATTEMPTS must not be negative"))
	}
	return errs
}

type AppConfig struct {
	Env          string `envconfig:"BILLING_APP_ENV" required:"true"`
	Port         string `envconfig:"BILLING_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"BILLING_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"BILLING_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"BILLING_LOG_WARN_STACK" default:"false"`

	CORSOrigins     []string      `envconfig:"BILLING_CORS_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout time.Duration `envconfig:"BILLING_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILLING_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BILLING_DB_DSN"`
	Driver string `envconfig:"BILLING_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILLING_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLING_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLING_DB_USER"`
	LegacyPassword string `envconfig:"BILLING_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLING_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLING_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"BILLING_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
	TxRetries          int           `envconfig:"BILLING_DB_TX_RETRIES" default:"2"`
}

// IsSQLite reports whether the configured driver is the embedded SQLite engine.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLING_REDIS_URL"`
	Address      string        `envconfig:"BILLING_REDIS_ADDR"`
	Password     string        `envconfig:"BILLING_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string        `envconfig:"BILLING_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"BILLING_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"BILLING_JWT_EXPIRATION_MINUTES" default:"60"`
	Leeway            time.Duration `envconfig:"BILLING_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BILLING_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BILLING_AUTO_MIGRATE" default:"false"`
}

// LedgerConfig tunes the payment ledger engine.
type LedgerConfig struct {
	Tolerance          string        `envconfig:"BILLING_LEDGER_AMOUNT_TOLERANCE" default:"0.01"`
	DuplicateWindow    time.Duration `envconfig:"BILLING_LEDGER_DUPLICATE_WINDOW" default:"2m"`
	IdempotencyTTL     time.Duration `envconfig:"BILLING_LEDGER_IDEMPOTENCY_TTL" default:"168h"`
	TransactionTimeout time.Duration `envconfig:"BILLING_LEDGER_TX_TIMEOUT" default:"15s"`
}

// AmountTolerance parses the configured rounding tolerance.
func (l LedgerConfig) AmountTolerance() (decimal.Decimal, error) {
	raw := strings.TrimSpace(l.Tolerance)
	if raw == "" {
		return decimal.NewFromFloat(0.01), nil
	}
	tol, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", EnvLedgerTolerance, raw, err)
	}
	if tol.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must be non-negative", EnvLedgerTolerance)
	}
	return tol, nil
}

type GCPConfig struct {
	ProjectID       string `envconfig:"BILLING_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"BILLING_GCP_CREDENTIALS_FILE"`
}

// PubSubConfig names the topic audit events are relayed to. Leaving the topic
// empty keeps the relay on the structured log.
type PubSubConfig struct {
	AuditTopic     string        `envconfig:"BILLING_PUBSUB_AUDIT_TOPIC"`
	PublishTimeout time.Duration `envconfig:"BILLING_PUBSUB_PUBLISH_TIMEOUT" default:"15s"`
}

// Enabled reports whether audit events should be published to Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.AuditTopic) != ""
}

type CronConfig struct {
	Interval               time.Duration `envconfig:"BILLING_CRON_INTERVAL" default:"24h"`
	LockTTL                time.Duration `envconfig:"BILLING_CRON_LOCK_TTL" default:"25h"`
	JobTimeout             time.Duration `envconfig:"BILLING_CRON_JOB_TIMEOUT" default:"30m"`
	ReconcileBatchSize     int           `envconfig:"BILLING_CRON_RECONCILE_BATCH_SIZE" default:"200"`
	AuditRetentionDays     int           `envconfig:"BILLING_CRON_AUDIT_RETENTION_DAYS" default:"90"`
	AuditRelayPageSize     int           `envconfig:"BILLING_CRON_AUDIT_RELAY_PAGE_SIZE" default:"500"`
	AuditRelayMaxAttempts  int           `envconfig:"BILLING_CRON_AUDIT_RELAY_MAX_ATTEMPTS" default:"10"`
	IdempotencyRetentionOn bool          `envconfig:"BILLING_CRON_IDEMPOTENCY_RETENTION" default:"true"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = defaultSQLiteDSN
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
