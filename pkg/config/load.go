package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix of every environment variable override.
const envPrefix = "TOLLGATE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
//
// A file that omits reset.hour resets at DefaultResetHour.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Reset: ResetConfig{Hour: DefaultResetHour}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TOLLGATE_SECTION_FIELD (e.g., TOLLGATE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Identity
	envString("IDENTITY_SUBJECT_HEADER", &cfg.Identity.SubjectHeader)
	envString("IDENTITY_TIER_HEADER", &cfg.Identity.TierHeader)
	envBool("IDENTITY_TRUST_FORWARDED_FOR", &cfg.Identity.TrustForwardedFor)

	// Redis
	envString("REDIS_ADDRESS", &cfg.Redis.Address)
	envString("REDIS_USERNAME", &cfg.Redis.Username)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)
	envDuration("REDIS_OP_TIMEOUT", &cfg.Redis.OpTimeout)
	envString("REDIS_KEY_PREFIX", &cfg.Redis.KeyPrefix)

	// Backends
	envString("COUNTERS_BACKEND", &cfg.Counters.Backend)
	envString("CACHE_BACKEND", &cfg.Cache.Backend)

	// Store
	envString("STORE_DRIVER", &cfg.Store.Driver)
	envString("STORE_DSN", &cfg.Store.DSN)
	envString("STORE_PATH", &cfg.Store.Path)
	envDuration("STORE_OP_TIMEOUT", &cfg.Store.OpTimeout)
	envBool("STORE_SOFT_LIMITS", &cfg.Store.SoftLimits)

	// Reset
	envInt("RESET_HOUR", &cfg.Reset.Hour)
	envInt("RESET_UTC_OFFSET_MINUTES", &cfg.Reset.UTCOffsetMinutes)
	envString("RESET_SWEEP_SCHEDULE", &cfg.Reset.SweepSchedule)
	envBool("RESET_DISABLE_SWEEP", &cfg.Reset.DisableSweep)

	// Cache
	envDuration("CACHE_LOCAL_TTL", &cfg.Cache.LocalTTL)
	envDuration("CACHE_DISTRIBUTED_TTL", &cfg.Cache.DistributedTTL)
	envDuration("CACHE_CLEANUP_INTERVAL", &cfg.Cache.CleanupInterval)

	// Telemetry
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
}

func envString(name string, dst *string) {
	if val := os.Getenv(envPrefix + name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(envPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
