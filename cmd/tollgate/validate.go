package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits/quota"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/reset"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

type validateFlags struct {
	ping bool
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	flags := &validateFlags{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the tier table",
		Long: `Load and validate a configuration file, including environment overrides,
and print the effective tier table, rate limits and reset schedule.

With --ping the configured quota store and Redis are contacted as well.

Examples:
  # Validate the default config file
  tollgate validate

  # Validate and check connectivity
  tollgate validate -c /etc/tollgate/config.yaml --ping

  # Machine-readable summary
  tollgate validate -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd, opts, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.ping, "ping", false, "check connectivity to the quota store and Redis")
	return cmd
}

func validateConfig(cmd *cobra.Command, opts *rootOptions, flags *validateFlags) error {
	formatter, err := opts.formatter()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.cfgFile)
	if err != nil {
		return err
	}

	tiers, err := quota.NewTierTable(cfg.Quota)
	if err != nil {
		return cli.NewConfigError("quota", "invalid tier table", err)
	}
	schedule, err := reset.NewSchedule(cfg.Reset.Hour, cfg.Reset.UTCOffsetMinutes)
	if err != nil {
		return cli.NewConfigError("reset", "invalid reset schedule", err)
	}

	if flags.ping {
		if err := pingBackends(cmd.Context(), cfg); err != nil {
			return cli.NewCommandError("validate", err)
		}
	}

	summary := newConfigSummary(opts.cfgFile, cfg, tiers, schedule, time.Now())
	summary.Pinged = flags.ping
	return formatter.FormatTo(cmd.OutOrStdout(), summary)
}

// pingBackends opens the quota store and, when configured, Redis.
func pingBackends(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:       cfg.Store.Driver,
		DSN:          cfg.Store.DSN,
		Path:         cfg.Store.Path,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		BusyTimeout:  cfg.Store.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("quota store: %w", err)
	}
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.OpTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return fmt.Errorf("quota store: %w", err)
	}

	if cfg.Counters.Backend == "redis" || cfg.Cache.Backend == "redis" {
		rdb := newRedisClient(cfg.Redis)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Address, err)
		}
	}
	return nil
}

// configSummary is the output of the validate command.
type configSummary struct {
	ConfigFile    string         `json:"config_file"`
	ListenAddress string         `json:"listen_address"`
	Counters      string         `json:"counters_backend"`
	Cache         string         `json:"cache_backend"`
	StoreDriver   string         `json:"store_driver"`
	StoreDSN      string         `json:"store_dsn,omitempty"`
	QuotaVersion  string         `json:"quota_version"`
	DefaultTier   string         `json:"default_tier"`
	Features      []string       `json:"features"`
	Tiers         []tierRow      `json:"tiers"`
	RateLimits    []rateLimitRow `json:"rate_limits"`
	Reset         resetSummary   `json:"reset"`
	Pinged        bool           `json:"pinged"`
}

type tierRow struct {
	Name   string           `json:"name"`
	Limits map[string]int64 `json:"limits"`
}

type rateLimitRow struct {
	Name               string `json:"name"`
	Window             string `json:"window"`
	Max                int64  `json:"max"`
	KeyStrategy        string `json:"key_strategy"`
	SkipFailedRequests bool   `json:"skip_failed_requests"`
}

type resetSummary struct {
	Hour             int       `json:"hour"`
	UTCOffsetMinutes int       `json:"utc_offset_minutes"`
	Zone             string    `json:"zone"`
	SweepSchedule    string    `json:"sweep_schedule,omitempty"`
	NextReset        time.Time `json:"next_reset"`
}

func newConfigSummary(path string, cfg *config.Config, tiers *quota.TierTable, schedule *reset.Schedule, now time.Time) *configSummary {
	s := &configSummary{
		ConfigFile:    path,
		ListenAddress: cfg.Server.ListenAddress,
		Counters:      cfg.Counters.Backend,
		Cache:         cfg.Cache.Backend,
		StoreDriver:   cfg.Store.Driver,
		StoreDSN:      logging.RedactDSN(cfg.Store.DSN),
		QuotaVersion:  tiers.Version(),
		DefaultTier:   tiers.DefaultTier(),
		Features:      tiers.Features(),
		Reset: resetSummary{
			Hour:             schedule.Hour(),
			UTCOffsetMinutes: schedule.UTCOffsetMinutes(),
			Zone:             schedule.Location().String(),
			NextReset:        schedule.ComputeNextReset(now),
		},
	}
	if s.StoreDSN == "" && cfg.Store.Driver != "memory" {
		s.StoreDSN = cfg.Store.Path
	}
	if !cfg.Reset.DisableSweep {
		s.Reset.SweepSchedule = cfg.Reset.SweepSchedule
	}

	for _, name := range tiers.Tiers() {
		row := tierRow{Name: name, Limits: make(map[string]int64, len(s.Features))}
		for _, feature := range s.Features {
			row.Limits[feature], _ = tiers.Limit(name, feature)
		}
		s.Tiers = append(s.Tiers, row)
	}

	policies := ratelimit.NewRegistry(cfg.RateLimits)
	for _, name := range policies.Names() {
		p, _ := policies.Lookup(name)
		s.RateLimits = append(s.RateLimits, rateLimitRow{
			Name:               p.Name,
			Window:             p.Window.String(),
			Max:                p.Max,
			KeyStrategy:        string(p.KeyStrategy),
			SkipFailedRequests: p.SkipFailedRequests,
		})
	}
	return s
}

// WriteText implements cli.TextWriter.
func (s *configSummary) WriteText(w io.Writer) error {
	cli.Success(w, "Configuration valid: %s", s.ConfigFile)
	if s.Pinged {
		cli.Success(w, "Backends reachable")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Listen address:  %s\n", s.ListenAddress)
	fmt.Fprintf(w, "Rate counters:   %s\n", s.Counters)
	fmt.Fprintf(w, "Quota cache:     %s\n", s.Cache)
	if s.StoreDSN != "" {
		fmt.Fprintf(w, "Quota store:     %s (%s)\n", s.StoreDriver, s.StoreDSN)
	} else {
		fmt.Fprintf(w, "Quota store:     %s\n", s.StoreDriver)
	}

	fmt.Fprintf(w, "\nTier table (version %s, default tier %s):\n", s.QuotaVersion, s.DefaultTier)
	table := tablewriter.NewWriter(w)
	table.SetHeader(append([]string{"tier"}, s.Features...))
	for _, tier := range s.Tiers {
		row := []string{tier.Name}
		for _, feature := range s.Features {
			row = append(row, humanize.Comma(tier.Limits[feature]))
		}
		table.Append(row)
	}
	table.Render()

	if len(s.RateLimits) > 0 {
		fmt.Fprintln(w, "\nRate limits:")
		table = tablewriter.NewWriter(w)
		table.SetHeader([]string{"limiter", "window", "max", "key", "skip failed"})
		for _, rl := range s.RateLimits {
			table.Append([]string{
				rl.Name,
				rl.Window,
				strconv.FormatInt(rl.Max, 10),
				rl.KeyStrategy,
				strconv.FormatBool(rl.SkipFailedRequests),
			})
		}
		table.Render()
	}

	fmt.Fprintf(w, "\nQuotas reset daily at %02d:00 (%s), next reset %s (%s)\n",
		s.Reset.Hour,
		s.Reset.Zone,
		s.Reset.NextReset.Format(time.RFC3339),
		humanize.Time(s.Reset.NextReset),
	)
	if s.Reset.SweepSchedule != "" {
		fmt.Fprintf(w, "Background sweep: %s\n", s.Reset.SweepSchedule)
	} else {
		cli.Warning(w, "Background sweep disabled")
	}
	return nil
}
