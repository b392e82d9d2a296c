package config

import "time"

// Config is the root configuration structure for tollgate.
// It is loaded once at process start and treated as immutable afterwards.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Identity controls how subjects and network addresses are read from
	// inbound requests.
	Identity IdentityConfig `yaml:"identity"`

	// Redis contains connection settings shared by the Redis-backed
	// counter store and distributed cache.
	Redis RedisConfig `yaml:"redis"`

	// Counters selects the atomic counter store backing the rate limiter.
	Counters CountersConfig `yaml:"counters"`

	// Store selects the durable quota store.
	Store StoreConfig `yaml:"store"`

	// RateLimits defines named fixed-window rate limiters.
	// Keys are limiter names (e.g., "api", "login").
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits"`

	// Quota contains the tier table and default entitlement.
	Quota QuotaConfig `yaml:"quota"`

	// Reset contains the daily reset time and sweep schedule.
	Reset ResetConfig `yaml:"reset"`

	// Cache contains the process-local and distributed cache settings.
	Cache CacheConfig `yaml:"cache"`

	// Telemetry contains configuration for logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RequestTimeout bounds the handling of a single API request.
	// Default: 5s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ShutdownTimeout is the maximum time to wait for in-flight requests
	// during graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header.
	// Default: 1MB
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// IdentityConfig controls the header-based identity resolver.
type IdentityConfig struct {
	// SubjectHeader carries the authenticated subject id.
	// Default: "X-Subject-ID"
	SubjectHeader string `yaml:"subject_header"`

	// TierHeader carries the subject's current entitlement tier.
	// Default: "X-Subject-Tier"
	TierHeader string `yaml:"tier_header"`

	// TrustForwardedFor uses the first X-Forwarded-For hop as the client
	// address. Enable only behind a trusted proxy.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// Address is the Redis server address in "host:port" form.
	// Required when any backend is "redis".
	Address string `yaml:"address"`

	// Username for Redis ACL authentication.
	Username string `yaml:"username"`

	// Password for Redis authentication.
	Password string `yaml:"password"`

	// DB selects the Redis logical database.
	DB int `yaml:"db"`

	// PoolSize is the maximum number of socket connections.
	// Default: 20
	PoolSize int `yaml:"pool_size"`

	// DialTimeout bounds establishing new connections.
	// Default: 2s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// OpTimeout bounds every individual Redis operation.
	// Default: 250ms
	OpTimeout time.Duration `yaml:"op_timeout"`

	// KeyPrefix namespaces every key written by tollgate.
	// Default: "tollgate:"
	KeyPrefix string `yaml:"key_prefix"`
}

// CountersConfig selects the atomic counter store.
type CountersConfig struct {
	// Backend is "memory" or "redis".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// MaxEntries bounds the in-memory counter store.
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`

	// CleanupInterval is how often expired in-memory windows are purged.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// StoreConfig selects and configures the durable quota store.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite" (pure Go), "sqlite3" (cgo),
	// "postgres" or "mysql".
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// DSN is the database connection string. Required for postgres and
	// mysql.
	DSN string `yaml:"dsn"`

	// Path is the SQLite database file, used when DSN is empty.
	// Default: "data/quota.db"
	Path string `yaml:"path"`

	// MaxOpenConns limits open connections for network databases.
	// SQLite always uses a single connection.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// BusyTimeout is the SQLite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// OpTimeout bounds every individual store operation.
	// Default: 2s
	OpTimeout time.Duration `yaml:"op_timeout"`

	// SoftLimits disables the conditional increment so consume uses
	// check-then-increment and may overshoot a limit under concurrency.
	SoftLimits bool `yaml:"soft_limits"`
}

// RateLimitConfig defines a single fixed-window rate limiter.
type RateLimitConfig struct {
	// Window is the fixed window length.
	Window time.Duration `yaml:"window"`

	// Max is the number of requests allowed per window.
	Max int64 `yaml:"max"`

	// KeyStrategy is "ip", "subject" or "subject_or_ip".
	// Default: "ip"
	KeyStrategy string `yaml:"key_strategy"`

	// SkipFailedRequests compensates the counter when the guarded
	// operation fails. Best effort.
	SkipFailedRequests bool `yaml:"skip_failed_requests"`
}

// QuotaConfig contains the tier table.
type QuotaConfig struct {
	// Version identifies the tier table. Cached snapshots from a different
	// version are ignored.
	// Default: "1"
	Version string `yaml:"version"`

	// DefaultTier is applied to subjects created without an explicit tier.
	// Default: the first tier.
	DefaultTier string `yaml:"default_tier"`

	// Features lists every metered feature. Default: the features of the
	// first tier, sorted.
	Features []string `yaml:"features"`

	// Tiers lists tiers from lowest to highest entitlement.
	Tiers []TierConfig `yaml:"tiers"`
}

// TierConfig is one row of the tier table.
type TierConfig struct {
	// Name is the tier identifier (e.g., "free", "silver", "gold").
	Name string `yaml:"name"`

	// Limits maps feature name to daily limit.
	Limits map[string]int64 `yaml:"limits"`
}

// ResetConfig controls the daily quota reset.
type ResetConfig struct {
	// Hour is the local hour of day (0-23) at which quotas reset.
	// Default: 4
	Hour int `yaml:"hour"`

	// UTCOffsetMinutes is the fixed offset of the reset clock from UTC.
	// No DST rules are applied.
	UTCOffsetMinutes int `yaml:"utc_offset_minutes"`

	// SweepSchedule is the cron expression of the background sweep.
	// Default: "*/10 * * * *"
	SweepSchedule string `yaml:"sweep_schedule"`

	// DisableSweep turns off the background sweep. Lazy resets still apply.
	DisableSweep bool `yaml:"disable_sweep"`
}

// CacheConfig controls the two cache tiers in front of the quota store.
type CacheConfig struct {
	// Backend is the distributed cache backend, "memory" or "redis".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// LocalTTL is how long a process-local freshness entry is trusted.
	// Default: 60s
	LocalTTL time.Duration `yaml:"local_ttl"`

	// LocalMaxEntries bounds the process-local cache.
	// Default: 10000
	LocalMaxEntries int `yaml:"local_max_entries"`

	// DistributedTTL is the TTL of quota snapshots in the distributed cache.
	// Default: 5m
	DistributedTTL time.Duration `yaml:"distributed_ttl"`

	// CleanupInterval is how often the memory backend purges expired
	// snapshots.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains configuration for structured logging.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig contains configuration for Prometheus metrics.
type MetricsConfig struct {
	// Enabled exposes the metrics endpoint.
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path of the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "tollgate"
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains configuration for OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on span export.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of traces sampled.
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is reported as the service.name resource attribute.
	// Default: "tollgate"
	ServiceName string `yaml:"service_name"`
}
