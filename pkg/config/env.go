package config

const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file:billing.db?_busy_timeout=5000&_foreign_keys=on"
)

const (
	EnvAppEnv          = "BILLING_APP_ENV"
	EnvPort            = "BILLING_APP_PORT"
	EnvLogLevel        = "BILLING_LOG_LEVEL"
	EnvDBDSN           = "BILLING_DB_DSN"
	EnvDBDriver        = "BILLING_DB_DRIVER"
	EnvDBHost          = "BILLING_DB_HOST"
	EnvDBUser          = "BILLING_DB_USER"
	EnvDBPassword      = "BILLING_DB_PASSWORD"
	EnvDBName          = "BILLING_DB_NAME"
	EnvRedisURL        = "BILLING_REDIS_URL"
	EnvJWTSecret       = "BILLING_JWT_SECRET"
	EnvJWTIssuer       = "BILLING_JWT_ISSUER"
	EnvUseSQLite       = "BILLING_USE_SQLITE"
	EnvLedgerTolerance = "BILLING_LEDGER_AMOUNT_TOLERANCE"
	EnvLedgerWindow    = "BILLING_LEDGER_DUPLICATE_WINDOW"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
