package config

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds kernel configuration.
type Config struct {
	LogLevel        string
	DatabaseURL     string
	RedisAddr       string
	OTLPEndpoint    string
	JWTSecret       string
	ArchiveBucket   string
	ManifestPath    string
	ApprovalTimeout time.Duration
}

// Load loads configuration from environment variables. Empty backend
// addresses select the in-memory implementations, so the kernel boots
// with no infrastructure at all.
func Load() *Config {
	logLevel := os.Getenv("GATEHOUSE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	jwtSecret := os.Getenv("GATEHOUSE_JWT_SECRET")
	if jwtSecret == "" {
		// Local development only; real deployments set their own
		jwtSecret = "gatehouse-dev-secret"
	}

	approvalTimeout := 300 * time.Second
	if v := os.Getenv("GATEHOUSE_APPROVAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			approvalTimeout = d
		}
	}

	return &Config{
		LogLevel:        logLevel,
		DatabaseURL:     os.Getenv("GATEHOUSE_DB_URL"),
		RedisAddr:       os.Getenv("GATEHOUSE_REDIS_ADDR"),
		OTLPEndpoint:    os.Getenv("GATEHOUSE_OTLP_ENDPOINT"),
		JWTSecret:       jwtSecret,
		ArchiveBucket:   os.Getenv("GATEHOUSE_ARCHIVE_BUCKET"),
		ManifestPath:    os.Getenv("GATEHOUSE_MANIFEST"),
		ApprovalTimeout: approvalTimeout,
	}
}

// SlogLevel maps the configured level onto slog's scale. Unknown values
// fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
