package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/identity"
	"mercator-hq/tollgate/pkg/limits/reset"
	"mercator-hq/tollgate/pkg/server"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

type runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the tollgate API server",
		Long: `Start the tollgate API server with the specified configuration.

The server admits operations against the configured rate limits and quotas
and runs the background reset sweep on its cron schedule. It shuts down
gracefully on SIGINT or SIGTERM.

Examples:
  # Start with default config
  tollgate run

  # Start with custom config
  tollgate run --config /etc/tollgate/config.yaml

  # Override listen address
  tollgate run --listen 0.0.0.0:8080

  # Validate config without starting server
  tollgate run --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, opts, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.listenAddress, "listen", "l", "", "override listen address")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "validate config without starting server")
	return cmd
}

func runServer(cmd *cobra.Command, opts *rootOptions, flags *runFlags) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(opts.cfgFile)
	if err != nil {
		return err
	}
	if flags.listenAddress != "" {
		cfg.Server.ListenAddress = flags.listenAddress
	}
	if flags.logLevel != "" {
		cfg.Telemetry.Logging.Level = flags.logLevel
	}

	logger, err := newLogger(cfg, opts.verbose, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if flags.dryRun {
		cli.Success(out, "Configuration valid")
		return nil
	}

	printBanner(out, opts.cfgFile, cfg)

	ctx, cancel := cli.SetupSignalHandler()
	defer cancel()

	tp, err := tracing.New(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to initialize tracing: %w", err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()
	if tp.Enabled() {
		cli.Success(out, "Tracing enabled (%s)", cfg.Telemetry.Tracing.Endpoint)
	}

	var (
		collector      *metrics.Collector
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
		metricsHandler = collector.Handler()
	}

	c, err := buildComponents(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			slog.Warn("error closing backends", "error", err)
		}
	}()
	cli.Success(out, "Quota store ready (%s)", cfg.Store.Driver)
	cli.Success(out, "Tier table loaded (%d tiers, %d features)", len(c.tiers.Tiers()), len(c.tiers.Features()))

	if cfg.Reset.DisableSweep {
		cli.Warning(out, "Background sweep disabled, quotas reset lazily on access")
	} else {
		scheduler := reset.NewScheduler(c.sweeper, cfg.Reset.SweepSchedule)
		if err := scheduler.Start(ctx); err != nil {
			return cli.NewCommandError("run", err)
		}
		defer scheduler.Stop()
		if next := scheduler.NextRun(); next != nil {
			slog.Debug("reset sweep scheduled", "next_run", next)
		}
		cli.Success(out, "Reset sweep scheduled (%s)", cfg.Reset.SweepSchedule)
	}

	checker := health.New(0)
	checker.RegisterCheck("quota_store", health.PingCheck(c.store))
	if c.redis != nil {
		checker.RegisterCheck("redis", func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		})
	}

	srv, err := server.NewServer(server.Options{
		Config:      cfg.Server,
		Engine:      c.engine,
		Sweeper:     c.sweeper,
		Resolver:    identity.NewHeaderResolver(cfg.Identity),
		Health:      checker,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Logger:      logger,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out)
	cli.Success(out, "Server listening on %s", cfg.Server.ListenAddress)
	cli.Success(out, "Health endpoint: http://%s/health", cfg.Server.ListenAddress)
	if metricsHandler != nil {
		cli.Success(out, "Metrics endpoint: http://%s%s", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	cli.Success(out, "Server stopped")
	return nil
}

func printBanner(w io.Writer, cfgFile string, cfg *config.Config) {
	fmt.Fprintf(w, "Tollgate v%s\n", Version)
	fmt.Fprintf(w, "Loading configuration from: %s\n", cfgFile)
	cli.Success(w, "Configuration loaded")

	slog.Debug("backends configured",
		"counters", cfg.Counters.Backend,
		"cache", cfg.Cache.Backend,
		"store", cfg.Store.Driver,
	)
	slog.Debug("rate limits configured", "count", len(cfg.RateLimits))
}
