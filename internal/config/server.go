// Package config provides configuration management for the freightdesk backup tooling.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// RecordStore selects where backup records are kept.
type RecordStore string

const (
	// StorePostgres keeps records in Postgres via DATABASE_URL.
	StorePostgres RecordStore = "postgres"
	// StoreSQLite keeps records in a local SQLite file.
	StoreSQLite RecordStore = "sqlite"
)

// ServerConfig holds process-level settings loaded from environment variables.
type ServerConfig struct {
	Environment  Environment
	LogLevel     string
	OpsAddr      string // listen address for the ops HTTP endpoints (default: ":9090")
	RecordStore  RecordStore
	DatabaseURL  string // Postgres connection string for the record store
	SQLitePath   string // record store file when RecordStore is sqlite
	AlertMinutes int    // health alert loop interval in minutes, 0 to disable (default: 60)
}

// LoadServerConfig reads process configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	store := RecordStore(strings.ToLower(os.Getenv("RECORD_STORE")))
	switch store {
	case StorePostgres, StoreSQLite:
		// valid
	default:
		if os.Getenv("DATABASE_URL") != "" {
			store = StorePostgres
		} else {
			store = StoreSQLite
		}
	}

	alertMinutes := getEnvInt("ALERT_INTERVAL_MINUTES", 60)
	if alertMinutes < 0 {
		alertMinutes = 60
	}

	return ServerConfig{
		Environment:  env,
		LogLevel:     getEnvString("LOG_LEVEL", "info"),
		OpsAddr:      getEnvString("OPS_ADDR", ":9090"),
		RecordStore:  store,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SQLitePath:   getEnvString("SQLITE_PATH", "storage/app/backups/records.db"),
		AlertMinutes: alertMinutes,
	}
}

// IsProduction reports whether the process runs in production.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnvString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
