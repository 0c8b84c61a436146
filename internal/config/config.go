// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage settings. When DatabaseURL is empty the service falls back
	// to the local SQLite store at LocalDBPath.
	DatabaseURL string // PgBouncer or direct Postgres URL.
	LocalDBPath string

	// Summary mirroring: write line_summaries rows on the ingest path.
	SummaryEnabled bool

	// JWT settings for ingest tokens.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Bootstrap ingest key accepted alongside JWTs.
	AdminIngestKey string

	// Outbound LLM connection settings.
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIOrganization string
	AzureAPIKey        string
	AzureEndpoint      string
	AzureAPIVersion    string

	// OTEL settings for the service's own telemetry.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible
// defaults. Malformed values are collected and reported together so one
// run surfaces every bad variable.
func Load() (Config, error) {
	var errs []error
	collectInt := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	collectBool := func(key string, def bool) bool {
		v, err := envBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	collectDuration := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		Port:                collectInt("SENRO_PORT", 8080),
		ReadTimeout:         collectDuration("SENRO_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        collectDuration("SENRO_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		LocalDBPath:         envStr("SENRO_LOCAL_DB_PATH", "senro.db"),
		SummaryEnabled:      collectBool("SENRO_SUMMARY_ENABLED", true),
		JWTPrivateKeyPath:   envStr("SENRO_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("SENRO_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       collectDuration("SENRO_JWT_EXPIRATION", 24*time.Hour),
		AdminIngestKey:      envStr("SENRO_ADMIN_INGEST_KEY", ""),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       envStr("OPENAI_BASE_URL", ""),
		OpenAIOrganization:  envStr("OPENAI_ORGANIZATION", ""),
		AzureAPIKey:         envStr("AZURE_OPENAI_API_KEY", ""),
		AzureEndpoint:       envStr("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIVersion:     envStr("AZURE_OPENAI_API_VERSION", ""),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "senro"),
		LogLevel:            envStr("SENRO_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(collectInt("SENRO_MAX_REQUEST_BODY_BYTES", 16*1024*1024)), // OTLP batches run large
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DatabaseURL == "" && c.LocalDBPath == "" {
		return fmt.Errorf("config: one of DATABASE_URL or SENRO_LOCAL_DB_PATH is required")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SENRO_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.AzureEndpoint != "" && c.AzureAPIKey == "" {
		return fmt.Errorf("config: AZURE_OPENAI_API_KEY is required when AZURE_OPENAI_ENDPOINT is set")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
