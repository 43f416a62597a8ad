package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/appvend/appvend/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Blob          BlobConfig
	Auth          AuthConfig
	Limits        LimitsConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Sweeper       SweeperConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds the optional Redis settings. An empty URL disables
// Redis; the cache falls back to in-process memory.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// BlobConfig selects and configures the package blob store.
type BlobConfig struct {
	Type string // "filesystem" or "s3"

	FilesystemRoot string

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// AuthConfig holds credential verification settings.
type AuthConfig struct {
	// APIKeySecret signs service-account API keys. Required.
	APIKeySecret string

	// OIDC federation for host identities; optional. The secret and
	// redirect URL additionally enable the browser login flow.
	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	// SSOConfigFile points at the SAML provider YAML; optional.
	SSOConfigFile string
}

// LimitsConfig bounds in-memory file handling, in bytes. Zero means
// unlimited for that dimension.
type LimitsConfig struct {
	UploadLimit int64
	PostLimit   int64
	MemoryLimit int64
}

// AuditConfig selects audit sinks.
type AuditConfig struct {
	Mode     string // "db", "file", "both" or "off"
	FilePath string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// SweeperConfig drives the background maintenance process.
type SweeperConfig struct {
	Schedule string // cron spec
	RunOnce  bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("APPVEND_HOST", "0.0.0.0"),
			Port:            getEnv("APPVEND_PORT", "8080"),
			ReadTimeout:     getEnvDuration("APPVEND_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("APPVEND_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("APPVEND_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("APPVEND_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("APPVEND_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("APPVEND_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("APPVEND_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("APPVEND_POSTGRES_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:      getEnv("APPVEND_REDIS_URL", ""),
			Password: getEnv("APPVEND_REDIS_PASSWORD", ""),
			DB:       getEnvInt("APPVEND_REDIS_DB", 0),
		},
		Blob: BlobConfig{
			Type:           getEnv("APPVEND_BLOB_TYPE", "filesystem"),
			FilesystemRoot: getEnv("APPVEND_BLOB_ROOT", "/var/lib/appvend/blobs"),
			S3Endpoint:     getEnv("APPVEND_S3_ENDPOINT", ""),
			S3Region:       getEnv("APPVEND_S3_REGION", "us-east-1"),
			S3Bucket:       getEnv("APPVEND_S3_BUCKET", ""),
			S3AccessKey:    getEnv("APPVEND_S3_ACCESS_KEY", ""),
			S3SecretKey:    getEnv("APPVEND_S3_SECRET_KEY", ""),
			S3UsePathStyle: getEnvBool("APPVEND_S3_USE_PATH_STYLE", false),
		},
		Auth: AuthConfig{
			APIKeySecret:     getEnv("APPVEND_API_KEY_SECRET", ""),
			OIDCIssuerURL:    getEnv("APPVEND_OIDC_ISSUER_URL", ""),
			OIDCClientID:     getEnv("APPVEND_OIDC_CLIENT_ID", ""),
			OIDCClientSecret: getEnv("APPVEND_OIDC_CLIENT_SECRET", ""),
			OIDCRedirectURL:  getEnv("APPVEND_OIDC_REDIRECT_URL", ""),
			SSOConfigFile:    getEnv("APPVEND_SSO_CONFIG", ""),
		},
		Limits: LimitsConfig{
			UploadLimit: getEnvInt64("APPVEND_UPLOAD_LIMIT", 64<<20),
			PostLimit:   getEnvInt64("APPVEND_POST_LIMIT", 64<<20),
			MemoryLimit: getEnvInt64("APPVEND_MEMORY_LIMIT", 256<<20),
		},
		Audit: AuditConfig{
			Mode:     getEnv("APPVEND_AUDIT_MODE", "db"),
			FilePath: getEnv("APPVEND_AUDIT_FILE", "/var/log/appvend/audit.log"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("APPVEND_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("APPVEND_METRICS_ENABLED", true),
		},
		Sweeper: SweeperConfig{
			Schedule: getEnv("APPVEND_SWEEPER_SCHEDULE", "@every 15m"),
			RunOnce:  getEnvBool("APPVEND_SWEEPER_RUN_ONCE", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.APIKeySecret == "" {
		return fmt.Errorf("API key secret is required")
	}

	switch c.Blob.Type {
	case "filesystem":
		if c.Blob.FilesystemRoot == "" {
			return fmt.Errorf("blob root is required for filesystem storage")
		}
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("invalid blob type: %s (must be filesystem or s3)", c.Blob.Type)
	}

	switch c.Audit.Mode {
	case "db", "off":
	case "file", "both":
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit file path is required for file audit mode")
		}
	default:
		return fmt.Errorf("invalid audit mode: %s (must be db, file, both or off)", c.Audit.Mode)
	}

	return nil
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
