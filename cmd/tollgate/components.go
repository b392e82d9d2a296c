package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits"
	"mercator-hq/tollgate/pkg/limits/cache"
	"mercator-hq/tollgate/pkg/limits/counter"
	"mercator-hq/tollgate/pkg/limits/quota"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/reset"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// loadConfig reads, defaults, overrides from the environment and validates
// the configuration file.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, cli.NewConfigError("", "failed to load config", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. verbose forces debug level.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) (*slog.Logger, error) {
	lc := cfg.Telemetry.Logging
	if verbose {
		lc.Level = "debug"
	}
	logger, err := logging.New(lc, w)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", "invalid logging configuration", err)
	}
	return logger, nil
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	})
}

// components is the assembled enforcement stack.
type components struct {
	redis    *redis.Client
	counters counter.Store
	cache    cache.Cache
	store    storage.Store
	tiers    *quota.TierTable
	schedule *reset.Schedule
	manager  *quota.Manager
	engine   *limits.Engine
	sweeper  *reset.Sweeper

	closers []func() error
}

// buildComponents connects the backends selected by cfg and wires the
// engine on top. The quota store must be reachable; Redis may not be, since
// the rate limiter fails open and cache misses fall through to the store.
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) (*components, error) {
	c := &components{}

	tiers, err := quota.NewTierTable(cfg.Quota)
	if err != nil {
		return nil, cli.NewConfigError("quota", "invalid tier table", err)
	}
	c.tiers = tiers

	schedule, err := reset.NewSchedule(cfg.Reset.Hour, cfg.Reset.UTCOffsetMinutes)
	if err != nil {
		return nil, cli.NewConfigError("reset", "invalid reset schedule", err)
	}
	c.schedule = schedule

	if cfg.Counters.Backend == "redis" || cfg.Cache.Backend == "redis" {
		c.redis = newRedisClient(cfg.Redis)
		c.closers = append(c.closers, c.redis.Close)
	}

	g, gctx := errgroup.WithContext(ctx)
	if c.redis != nil {
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(gctx, cfg.Redis.DialTimeout)
			defer cancel()
			if err := c.redis.Ping(pingCtx).Err(); err != nil {
				logger.Warn("redis unreachable at startup, rate limits will fail open until it recovers",
					"address", cfg.Redis.Address,
					"error", err,
				)
			}
			return nil
		})
	}
	g.Go(func() error {
		store, err := storage.Open(gctx, storage.Options{
			Driver:       cfg.Store.Driver,
			DSN:          cfg.Store.DSN,
			Path:         cfg.Store.Path,
			MaxOpenConns: cfg.Store.MaxOpenConns,
			BusyTimeout:  cfg.Store.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to open quota store (%s %s): %w",
				cfg.Store.Driver, logging.RedactDSN(cfg.Store.DSN), err)
		}
		c.store = store
		return nil
	})
	if err := g.Wait(); err != nil {
		c.Close()
		return nil, err
	}
	c.closers = append(c.closers, c.store.Close)

	switch cfg.Counters.Backend {
	case "redis":
		c.counters = counter.NewRedisStore(c.redis,
			counter.WithKeyPrefix(cfg.Redis.KeyPrefix),
			counter.WithOpTimeout(cfg.Redis.OpTimeout),
		)
	default:
		c.counters = counter.NewMemoryStore(
			counter.WithMaxEntries(cfg.Counters.MaxEntries),
			counter.WithCleanupInterval(cfg.Counters.CleanupInterval),
		)
	}
	c.closers = append(c.closers, c.counters.Close)

	switch cfg.Cache.Backend {
	case "redis":
		c.cache = cache.NewRedisCache(c.redis, cfg.Redis.KeyPrefix, cfg.Redis.OpTimeout)
	default:
		c.cache = cache.NewMemoryCache(time.Now, cache.WithCleanupInterval(cfg.Cache.CleanupInterval))
	}
	c.closers = append(c.closers, c.cache.Close)

	c.manager, err = quota.NewManager(quota.Config{
		Store:           c.store,
		Tiers:           tiers,
		Schedule:        schedule,
		Cache:           c.cache,
		LocalTTL:        cfg.Cache.LocalTTL,
		LocalMaxEntries: cfg.Cache.LocalMaxEntries,
		DistributedTTL:  cfg.Cache.DistributedTTL,
		OpTimeout:       cfg.Store.OpTimeout,
		SoftLimits:      cfg.Store.SoftLimits,
		Metrics:         collector,
		Logger:          logger.With("component", "limits.quota"),
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	c.engine, err = limits.NewEngine(limits.Config{
		Limiter: ratelimit.NewLimiter(c.counters,
			ratelimit.WithMetrics(collector),
			ratelimit.WithLogger(logger.With("component", "limits.ratelimit")),
		),
		Policies: ratelimit.NewRegistry(cfg.RateLimits),
		Quota:    c.manager,
		Logger:   logger.With("component", "limits.engine"),
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	c.sweeper = reset.NewSweeper(c.store, schedule,
		reset.WithInvalidator(c.manager),
		reset.WithMetrics(collector),
	)
	return c, nil
}

// Close releases every backend in reverse order of creation.
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
