// Package config loads the process-wide settings. Values are read once
// at startup and never mutated at request time.
package config

import (
	"os"
	"strconv"
	"time"
)

// Storage backend selectors.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendPostgREST = "postgrest"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// Storage
	StoreBackend string // memory | sqlite | postgres | postgrest
	DatabaseURL  string // postgres DSN
	SQLitePath   string
	PostgRESTURL string // ".../rest/v1" root of the hosted datastore
	PostgRESTKey string

	// Admission bounds
	MaxEventBytes int64
	MaxFutureSkew time.Duration
	MaxPageSize   int
	RuleFile      string // optional YAML kind-rule file

	// Backpressure
	RateLimitRPM   int
	RateLimitBurst int
	RedisAddr      string // empty means in-process buckets
	RedisPassword  string
	RedisDB        int

	// Telemetry
	OTLPEndpoint string
	OTelEnabled  bool
}

// Load reads configuration from environment variables, applying the
// defaults a local development instance wants.
func Load() *Config {
	return &Config{
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		StoreBackend: getenv("STORE_BACKEND", BackendSQLite),
		DatabaseURL:  getenv("DATABASE_URL", "postgres://nostrmart@localhost:5432/nostrmart?sslmode=disable"),
		SQLitePath:   getenv("SQLITE_PATH", "nostrmart.db"),
		PostgRESTURL: os.Getenv("POSTGREST_URL"),
		PostgRESTKey: os.Getenv("POSTGREST_KEY"),

		MaxEventBytes: getenvInt64("MAX_EVENT_BYTES", 65536),
		MaxFutureSkew: time.Duration(getenvInt64("CLOCK_SKEW_SECONDS", 900)) * time.Second,
		MaxPageSize:   int(getenvInt64("MAX_PAGE_SIZE", 100)),
		RuleFile:      os.Getenv("KIND_RULE_FILE"),

		RateLimitRPM:   int(getenvInt64("RATE_LIMIT_RPM", 120)),
		RateLimitBurst: int(getenvInt64("RATE_LIMIT_BURST", 20)),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        int(getenvInt64("REDIS_DB", 0)),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
