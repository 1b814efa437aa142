package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"bizledger/internal/logger"
)

// Config holds application configuration values for both the ledger server
// and the point-of-sale agent.
type Config struct {
	Secret      string
	DatabaseDSN string
	HTTPPort    string
	UsersCSV    string

	PendingDSN     string
	LedgerURL      string
	LedgerEmail    string
	LedgerPassword string
	BusinessID     string

	RequestTimeout    time.Duration
	ProbeInterval     time.Duration
	SyncRetryInterval time.Duration

	LogLevel  string
	LogFormat string
	LogOutput string
}

// Load reads configuration from environment variables with reasonable defaults.
func Load() (Config, error) {
	cfg := Config{
		Secret:         getEnv("SECRET", "dev_secret"),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "file:ledger.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"),
		UsersCSV:       getEnv("USERS_CSV", ""),
		PendingDSN:     getEnv("PENDING_DSN", "file:pending.db?_pragma=busy_timeout(5000)"),
		LedgerURL:      getEnv("LEDGER_URL", "http://localhost:8080"),
		LedgerEmail:    getEnv("LEDGER_EMAIL", ""),
		LedgerPassword: getEnv("LEDGER_PASSWORD", ""),
		BusinessID:     getEnv("BUSINESS_ID", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		LogOutput:      getEnv("LOG_OUTPUT", "stderr"),
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ProbeInterval, err = getDuration("PROBE_INTERVAL", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SyncRetryInterval, err = getDuration("SYNC_RETRY_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}

	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		return Config{}, fmt.Errorf("invalid HTTP_PORT value %q", cfg.HTTPPort)
	}

	return cfg, nil
}

// LoggerConfig returns the logging section of the configuration.
func (c Config) LoggerConfig() logger.LogConfig {
	lc := logger.DefaultConfig()
	lc.Level = c.LogLevel
	lc.Format = c.LogFormat
	lc.Output = c.LogOutput
	return lc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("30s") or a bare number of seconds.
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if secs, convErr := strconv.Atoi(raw); convErr == nil {
		d, err = time.Duration(secs)*time.Second, nil
	}
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return d, nil
}
