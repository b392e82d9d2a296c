package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/limits/reset"
)

type sweepFlags struct {
	at string
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	flags := &sweepFlags{}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reset every due quota record once",
		Long: `Run a single reset sweep against the configured quota store.

Every record whose reset time is at or before the reference time is zeroed
and given the next reset time. Sweeps are safe to run while servers are
running and concurrently with scheduled sweeps; a record is never reset
twice for the same window.

Examples:
  # Sweep now
  tollgate sweep -c /etc/tollgate/config.yaml

  # Sweep as of a given instant
  tollgate sweep --at 2026-10-20T04:00:00Z -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, opts, flags)
		},
	}

	cmd.Flags().StringVar(&flags.at, "at", "", "reference time (RFC 3339), default now")
	return cmd
}

func runSweep(cmd *cobra.Command, opts *rootOptions, flags *sweepFlags) error {
	formatter, err := opts.formatter()
	if err != nil {
		return err
	}
	now, err := parseReferenceTime(flags.at)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.cfgFile)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, opts.verbose, os.Stderr)
	if err != nil {
		return err
	}

	c, err := buildComponents(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}
	defer c.Close()

	result, err := c.sweeper.SweepAll(cmd.Context(), now)
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}
	return formatter.FormatTo(cmd.OutOrStdout(), &sweepOutput{result})
}

type sweepOutput struct {
	*reset.SweepResult
}

// WriteText implements cli.TextWriter.
func (s *sweepOutput) WriteText(w io.Writer) error {
	cli.Success(w, "Sweep %s reset %s records in %s",
		s.RunID, humanize.Comma(int64(s.ResetCount)), s.Duration.Round(time.Millisecond))
	for _, id := range s.Subjects {
		fmt.Fprintf(w, "  %s\n", id)
	}
	fmt.Fprintf(w, "Next reset: %s\n", s.NextReset.Format(time.RFC3339))
	return nil
}

// parseReferenceTime parses an --at flag value. Empty means now.
func parseReferenceTime(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: expected RFC 3339 (e.g. 2026-10-20T04:00:00Z)", s)
	}
	return t, nil
}
