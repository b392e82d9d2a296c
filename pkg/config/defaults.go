package config

import (
	"sort"
	"time"
)

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultRequestTimeout  = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Identity defaults
	DefaultSubjectHeader = "X-Subject-ID"
	DefaultTierHeader    = "X-Subject-Tier"

	// Redis defaults
	DefaultRedisPoolSize    = 20
	DefaultRedisDialTimeout = 2 * time.Second
	DefaultRedisOpTimeout   = 250 * time.Millisecond
	DefaultRedisKeyPrefix   = "tollgate:"

	// Counter store defaults
	DefaultCountersBackend         = "memory"
	DefaultCountersMaxEntries      = 100000
	DefaultCountersCleanupInterval = time.Minute

	// Quota store defaults
	DefaultStoreDriver       = "sqlite"
	DefaultStorePath         = "data/quota.db"
	DefaultStoreMaxOpenConns = 10
	DefaultStoreBusyTimeout  = 5 * time.Second
	DefaultStoreOpTimeout    = 2 * time.Second

	// Rate limit defaults
	DefaultKeyStrategy = "ip"

	// Quota defaults
	DefaultQuotaVersion = "1"

	// Reset defaults
	DefaultResetHour     = 4
	DefaultSweepSchedule = "*/10 * * * *"

	// Cache defaults
	DefaultCacheBackend         = "memory"
	DefaultCacheLocalTTL        = 60 * time.Second
	DefaultCacheLocalMaxEntries = 10000
	DefaultCacheDistributedTTL  = 5 * time.Minute
	DefaultCacheCleanupInterval = time.Minute

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "tollgate"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "tollgate"
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
//
// Reset.Hour has no zero-value default because midnight is a valid reset
// hour; NewDefaultConfig seeds it instead.
func ApplyDefaults(cfg *Config) {
	// Server
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	// Identity
	if cfg.Identity.SubjectHeader == "" {
		cfg.Identity.SubjectHeader = DefaultSubjectHeader
	}
	if cfg.Identity.TierHeader == "" {
		cfg.Identity.TierHeader = DefaultTierHeader
	}

	// Redis
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if cfg.Redis.OpTimeout == 0 {
		cfg.Redis.OpTimeout = DefaultRedisOpTimeout
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Counters
	if cfg.Counters.Backend == "" {
		cfg.Counters.Backend = DefaultCountersBackend
	}
	if cfg.Counters.MaxEntries == 0 {
		cfg.Counters.MaxEntries = DefaultCountersMaxEntries
	}
	if cfg.Counters.CleanupInterval == 0 {
		cfg.Counters.CleanupInterval = DefaultCountersCleanupInterval
	}

	// Store
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DefaultStoreDriver
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = DefaultStoreMaxOpenConns
	}
	if cfg.Store.BusyTimeout == 0 {
		cfg.Store.BusyTimeout = DefaultStoreBusyTimeout
	}
	if cfg.Store.OpTimeout == 0 {
		cfg.Store.OpTimeout = DefaultStoreOpTimeout
	}

	// Rate limits
	for name, rl := range cfg.RateLimits {
		if rl.KeyStrategy == "" {
			rl.KeyStrategy = DefaultKeyStrategy
			cfg.RateLimits[name] = rl
		}
	}

	applyQuotaDefaults(&cfg.Quota)

	// Reset
	if cfg.Reset.SweepSchedule == "" {
		cfg.Reset.SweepSchedule = DefaultSweepSchedule
	}

	// Cache
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = DefaultCacheBackend
	}
	if cfg.Cache.LocalTTL == 0 {
		cfg.Cache.LocalTTL = DefaultCacheLocalTTL
	}
	if cfg.Cache.LocalMaxEntries == 0 {
		cfg.Cache.LocalMaxEntries = DefaultCacheLocalMaxEntries
	}
	if cfg.Cache.DistributedTTL == 0 {
		cfg.Cache.DistributedTTL = DefaultCacheDistributedTTL
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = DefaultCacheCleanupInterval
	}

	// Telemetry
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
}

// applyQuotaDefaults fills the tier table version, default tier and feature
// list from the first tier when they are not given explicitly.
func applyQuotaDefaults(cfg *QuotaConfig) {
	if cfg.Version == "" {
		cfg.Version = DefaultQuotaVersion
	}
	if len(cfg.Tiers) == 0 {
		return
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = cfg.Tiers[0].Name
	}
	if len(cfg.Features) == 0 {
		for feature := range cfg.Tiers[0].Limits {
			cfg.Features = append(cfg.Features, feature)
		}
		sort.Strings(cfg.Features)
	}
}

// NewDefaultConfig returns a configuration with every default applied, the
// default reset hour, an "api" rate limiter and a three-tier table. It is
// used by tests and by commands that run without a configuration file.
func NewDefaultConfig() *Config {
	cfg := &Config{
		RateLimits: map[string]RateLimitConfig{
			"api": {Window: 15 * time.Minute, Max: 100, KeyStrategy: DefaultKeyStrategy},
		},
		Quota: QuotaConfig{
			Tiers: []TierConfig{
				{Name: "free", Limits: map[string]int64{"questions": 20, "chapterTests": 3}},
				{Name: "silver", Limits: map[string]int64{"questions": 500, "chapterTests": 10}},
				{Name: "gold", Limits: map[string]int64{"questions": 5000, "chapterTests": 100}},
			},
		},
		Reset: ResetConfig{Hour: DefaultResetHour},
	}
	ApplyDefaults(cfg)
	return cfg
}
