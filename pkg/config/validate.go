package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "quota.tiers[0].name").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateBackends(cfg)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateRateLimits(cfg.RateLimits)...)
	errs = append(errs, validateQuota(&cfg.Quota)...)
	errs = append(errs, validateReset(&cfg.Reset)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if !strings.Contains(cfg.ListenAddress, ":") {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: must be host:port", cfg.ListenAddress),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "must not be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "must not be negative"})
	}
	if cfg.RequestTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.request_timeout", Message: "must not be negative"})
	}

	return errs
}

// validateBackends validates the counter and cache backend selection.
func validateBackends(cfg *Config) []FieldError {
	var errs []FieldError

	validBackends := map[string]bool{"memory": true, "redis": true}
	if !validBackends[cfg.Counters.Backend] {
		errs = append(errs, FieldError{
			Field:   "counters.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'redis'", cfg.Counters.Backend),
		})
	}
	if !validBackends[cfg.Cache.Backend] {
		errs = append(errs, FieldError{
			Field:   "cache.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'redis'", cfg.Cache.Backend),
		})
	}

	if (cfg.Counters.Backend == "redis" || cfg.Cache.Backend == "redis") && cfg.Redis.Address == "" {
		errs = append(errs, FieldError{
			Field:   "redis.address",
			Message: "redis address is required when a redis backend is selected",
		})
	}
	if cfg.Redis.OpTimeout < 0 {
		errs = append(errs, FieldError{Field: "redis.op_timeout", Message: "must not be negative"})
	}
	if cfg.Counters.MaxEntries < 0 {
		errs = append(errs, FieldError{Field: "counters.max_entries", Message: "must not be negative"})
	}

	return errs
}

// validateStore validates the quota store configuration.
func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case "memory":
	case "sqlite", "sqlite3":
		if cfg.DSN == "" && cfg.Path == "" {
			errs = append(errs, FieldError{
				Field:   "store.path",
				Message: "sqlite path is required when no dsn is given",
			})
		}
	case "postgres", "mysql":
		if cfg.DSN == "" {
			errs = append(errs, FieldError{
				Field:   "store.dsn",
				Message: fmt.Sprintf("dsn is required for driver %q", cfg.Driver),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "store.driver",
			Message: fmt.Sprintf("invalid driver %q: must be 'memory', 'sqlite', 'sqlite3', 'postgres' or 'mysql'", cfg.Driver),
		})
	}

	if cfg.OpTimeout < 0 {
		errs = append(errs, FieldError{Field: "store.op_timeout", Message: "must not be negative"})
	}

	return errs
}

// validateRateLimits validates every named rate limiter.
func validateRateLimits(limits map[string]RateLimitConfig) []FieldError {
	var errs []FieldError

	validStrategies := map[string]bool{"ip": true, "subject": true, "subject_or_ip": true}
	for name, rl := range limits {
		prefix := fmt.Sprintf("rate_limits.%s", name)

		if strings.ContainsAny(name, ": ") || name == "" {
			errs = append(errs, FieldError{
				Field:   prefix,
				Message: "limiter name must be non-empty and contain no spaces or colons",
			})
		}
		if rl.Window <= 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".window",
				Message: "window must be positive",
			})
		} else if rl.Window%time.Second != 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".window",
				Message: "window must be a whole number of seconds",
			})
		}
		if rl.Max <= 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".max",
				Message: "max must be positive",
			})
		}
		if !validStrategies[rl.KeyStrategy] {
			errs = append(errs, FieldError{
				Field:   prefix + ".key_strategy",
				Message: fmt.Sprintf("invalid key strategy %q: must be 'ip', 'subject' or 'subject_or_ip'", rl.KeyStrategy),
			})
		}
	}

	return errs
}

// validateQuota validates the tier table. Every tier must define a limit for
// every feature, and no tier may name a feature outside the feature list.
func validateQuota(cfg *QuotaConfig) []FieldError {
	var errs []FieldError

	if len(cfg.Tiers) == 0 {
		return append(errs, FieldError{
			Field:   "quota.tiers",
			Message: "at least one tier is required",
		})
	}
	if len(cfg.Features) == 0 {
		errs = append(errs, FieldError{
			Field:   "quota.features",
			Message: "at least one feature is required",
		})
	}

	features := make(map[string]bool, len(cfg.Features))
	for i, f := range cfg.Features {
		if f == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("quota.features[%d]", i),
				Message: "feature name must not be empty",
			})
			continue
		}
		if features[f] {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("quota.features[%d]", i),
				Message: fmt.Sprintf("duplicate feature %q", f),
			})
		}
		features[f] = true
	}

	tiers := make(map[string]bool, len(cfg.Tiers))
	for i, tier := range cfg.Tiers {
		prefix := fmt.Sprintf("quota.tiers[%d]", i)

		if tier.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "tier name is required"})
		} else if tiers[tier.Name] {
			errs = append(errs, FieldError{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate tier %q", tier.Name),
			})
		}
		tiers[tier.Name] = true

		for feature, limit := range tier.Limits {
			if !features[feature] {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("%s.limits.%s", prefix, feature),
					Message: fmt.Sprintf("unknown feature %q", feature),
				})
			}
			if limit < 0 {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("%s.limits.%s", prefix, feature),
					Message: "limit must not be negative",
				})
			}
		}
		for _, feature := range cfg.Features {
			if _, ok := tier.Limits[feature]; !ok && feature != "" {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("%s.limits.%s", prefix, feature),
					Message: fmt.Sprintf("tier %q does not define a limit for feature %q", tier.Name, feature),
				})
			}
		}
	}

	if cfg.DefaultTier != "" && !tiers[cfg.DefaultTier] {
		errs = append(errs, FieldError{
			Field:   "quota.default_tier",
			Message: fmt.Sprintf("default tier %q is not in the tier table", cfg.DefaultTier),
		})
	}

	return errs
}

// validateReset validates the reset clock and sweep schedule.
func validateReset(cfg *ResetConfig) []FieldError {
	var errs []FieldError

	if cfg.Hour < 0 || cfg.Hour > 23 {
		errs = append(errs, FieldError{
			Field:   "reset.hour",
			Message: fmt.Sprintf("hour %d out of range 0-23", cfg.Hour),
		})
	}
	if cfg.UTCOffsetMinutes < -12*60 || cfg.UTCOffsetMinutes > 14*60 {
		errs = append(errs, FieldError{
			Field:   "reset.utc_offset_minutes",
			Message: fmt.Sprintf("offset %d out of range -720..840", cfg.UTCOffsetMinutes),
		})
	}
	if !cfg.DisableSweep {
		if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "reset.sweep_schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.SweepSchedule, err),
			})
		}
	}

	return errs
}

// validateCache validates cache TTLs and bounds.
func validateCache(cfg *CacheConfig) []FieldError {
	var errs []FieldError

	if cfg.LocalTTL <= 0 {
		errs = append(errs, FieldError{Field: "cache.local_ttl", Message: "must be positive"})
	}
	if cfg.LocalMaxEntries <= 0 {
		errs = append(errs, FieldError{Field: "cache.local_max_entries", Message: "must be positive"})
	}
	if cfg.DistributedTTL <= 0 {
		errs = append(errs, FieldError{Field: "cache.distributed_ttl", Message: "must be positive"})
	}

	return errs
}

// validateTelemetry validates logging, metrics and tracing configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}
