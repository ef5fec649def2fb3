package internal

const (
	DotEnvPath    = "./.env"
	MigrationsDir = "migrations"
)
