package config

const (
	EnvPrefix = "DISPATCH"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "DISPATCH_APP_ENV"
	EnvPort      = "DISPATCH_APP_PORT"
	EnvDBDSN     = "DISPATCH_DB_DSN"
	EnvDBHost    = "DISPATCH_DB_HOST"
	EnvDBUser    = "DISPATCH_DB_USER"
	EnvDBName    = "DISPATCH_DB_NAME"
	EnvRedisURL  = "DISPATCH_REDIS_URL"
	EnvJWTSecret = "DISPATCH_JWT_SECRET"
	EnvJWTIssuer = "DISPATCH_JWT_ISSUER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
