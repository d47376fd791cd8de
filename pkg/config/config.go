package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crossfield/ssobroker/pkg/observability"
	"github.com/crossfield/ssobroker/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Identity resolution configuration
	Identity IdentityConfig

	// Application registry configuration
	Registry RegistryConfig

	// Upstream SSO configuration
	SSO SSOConfig

	// Durable audit trail configuration
	Audit AuditConfig

	// Scheduled export configuration
	Export ExportConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// RateLimitEnabled applies per-app and per-IP request limits.
	// Redis-backed when a Redis URL is configured, in-process otherwise.
	RateLimitEnabled bool
}

// IdentityConfig holds identity resolution settings.
type IdentityConfig struct {
	// DefaultEmailOrder is the system-wide comma-separated domain priority
	// used when an application has no ordering of its own.
	DefaultEmailOrder string
}

// RegistryConfig holds application registry settings.
type RegistryConfig struct {
	// Path to the YAML registry of consuming applications.
	Path string
	// WatchForChanges reloads the registry when the file is rewritten.
	WatchForChanges bool
}

// SSOConfig holds upstream identity provider settings.
type SSOConfig struct {
	// SAML service-provider settings for the upstream IdP.
	SAMLMetadataURL string
	SAMLEntityID    string
	SAMLACSURL      string

	// OIDC settings for the upstream IdP.
	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	// Session lifetime for broker sessions issued after upstream login.
	SessionTTL time.Duration
	// Cron expression for expired-session cleanup.
	SessionCleanupSchedule string
}

// ExportConfig holds scheduled user export settings.
type ExportConfig struct {
	// Schedule is a cron expression for recurring CSV exports to S3.
	// Empty disables scheduled exports. Requires the S3 bucket config.
	Schedule string
	// Timeout bounds a single export run.
	Timeout time.Duration
}

// AuditConfig holds durable audit trail settings. When disabled, audit
// events still appear in the structured logs but are not persisted.
type AuditConfig struct {
	Enabled bool
	// Backend selects where events are persisted: "file" or "db". The db
	// backend requires postgres storage.
	Backend string
	// Path is the base path for the file backend.
	Path string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Identity:      loadIdentityConfig(),
		Registry:      loadRegistryConfig(),
		SSO:           loadSSOConfig(),
		Audit:         loadAuditConfig(),
		Export:        loadExportConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:             getEnv("SSOB_HOST", "0.0.0.0"),
		Port:             getEnv("SSOB_PORT", "8080"),
		ReadTimeout:      getEnvDuration("SSOB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:     getEnvDuration("SSOB_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:      getEnvDuration("SSOB_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:  getEnvDuration("SSOB_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:       getEnv("SSOB_HEALTH_PORT", "9090"),
		RateLimitEnabled: getEnvBool("SSOB_RATE_LIMIT_ENABLED", true),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// Storage type
	if storageType := getEnv("SSOB_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}

	// PostgreSQL config
	if pgURL := getEnv("SSOB_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("SSOB_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("SSOB_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("SSOB_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// SQLite config
	if path := getEnv("SSOB_SQLITE_PATH", ""); path != "" {
		cfg.SQLitePath = path
	}

	// Redis config
	if redisURL := getEnv("SSOB_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("SSOB_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("SSOB_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("SSOB_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("SSOB_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	if cacheEnabled := getEnv("SSOB_CACHE_ENABLED", ""); cacheEnabled != "" {
		cfg.CacheEnabled = strings.ToLower(cacheEnabled) == "true"
	}
	if l1CacheSize := getEnvInt("SSOB_L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}

	// S3 export config
	if s3Endpoint := getEnv("SSOB_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("SSOB_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("SSOB_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("SSOB_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("SSOB_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("SSOB_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	return cfg
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		DefaultEmailOrder: getEnv("SSOB_DEFAULT_EMAIL_ORDER", ""),
	}
}

func loadRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Path:            getEnv("SSOB_REGISTRY_PATH", "applications.yaml"),
		WatchForChanges: getEnvBool("SSOB_REGISTRY_WATCH", true),
	}
}

func loadSSOConfig() SSOConfig {
	return SSOConfig{
		SAMLMetadataURL:        getEnv("SSOB_SAML_METADATA_URL", ""),
		SAMLEntityID:           getEnv("SSOB_SAML_ENTITY_ID", ""),
		SAMLACSURL:             getEnv("SSOB_SAML_ACS_URL", ""),
		OIDCIssuerURL:          getEnv("SSOB_OIDC_ISSUER_URL", ""),
		OIDCClientID:           getEnv("SSOB_OIDC_CLIENT_ID", ""),
		OIDCClientSecret:       getEnv("SSOB_OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:        getEnv("SSOB_OIDC_REDIRECT_URL", ""),
		SessionTTL:             getEnvDuration("SSOB_SESSION_TTL", 10*time.Hour),
		SessionCleanupSchedule: getEnv("SSOB_SESSION_CLEANUP_SCHEDULE", "@hourly"),
	}
}

func loadExportConfig() ExportConfig {
	return ExportConfig{
		Schedule: getEnv("SSOB_EXPORT_SCHEDULE", ""),
		Timeout:  getEnvDuration("SSOB_EXPORT_TIMEOUT", 5*time.Minute),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled: getEnvBool("SSOB_AUDIT_ENABLED", false),
		Backend: getEnv("SSOB_AUDIT_BACKEND", "file"),
		Path:    getEnv("SSOB_AUDIT_PATH", "/var/log/ssobroker/audit"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("SSOB_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SSOB_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SSOB_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SSOB_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SSOB_OTEL_SERVICE_NAME", "ssobroker"),
		OTelServiceVersion: getEnv("SSOB_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SSOB_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case "memory":
		// No further requirements; data is lost on restart.
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, postgres, or sqlite)", c.Storage.Type)
	}

	if c.Storage.CacheEnabled && c.Storage.RedisURL != "" {
		if !strings.Contains(c.Storage.RedisURL, "://") {
			return fmt.Errorf("redis URL must include a scheme, e.g. redis://host:6379")
		}
	}

	if c.Registry.Path == "" {
		return fmt.Errorf("application registry path is required")
	}

	if c.Export.Schedule != "" && c.Storage.S3Bucket == "" {
		return fmt.Errorf("scheduled exports require the S3 bucket config")
	}

	if c.Audit.Enabled {
		switch c.Audit.Backend {
		case "file":
			if c.Audit.Path == "" {
				return fmt.Errorf("audit path is required for the file audit backend")
			}
		case "db":
			if c.Storage.Type != "postgres" {
				return fmt.Errorf("db audit backend requires postgres storage")
			}
		default:
			return fmt.Errorf("invalid audit backend: %s (must be file or db)", c.Audit.Backend)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
