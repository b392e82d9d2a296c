package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/limits/reset"
)

type nextResetFlags struct {
	at    string
	count int
}

func newNextResetCmd(opts *rootOptions) *cobra.Command {
	flags := &nextResetFlags{}

	cmd := &cobra.Command{
		Use:   "next-reset",
		Short: "Print the next quota reset instants",
		Long: `Print when quotas reset next under the configured reset hour and UTC
offset. A reference time exactly at the reset hour resets the following
day.

Examples:
  # Next reset from now
  tollgate next-reset

  # Next three resets after a given instant
  tollgate next-reset --at 2026-10-19T22:30:00Z --count 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNextReset(cmd, opts, flags)
		},
	}

	cmd.Flags().StringVar(&flags.at, "at", "", "reference time (RFC 3339), default now")
	cmd.Flags().IntVarP(&flags.count, "count", "n", 1, "number of upcoming resets to print")
	return cmd
}

func runNextReset(cmd *cobra.Command, opts *rootOptions, flags *nextResetFlags) error {
	formatter, err := opts.formatter()
	if err != nil {
		return err
	}
	if flags.count < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	ref, err := parseReferenceTime(flags.at)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.cfgFile)
	if err != nil {
		return err
	}
	schedule, err := reset.NewSchedule(cfg.Reset.Hour, cfg.Reset.UTCOffsetMinutes)
	if err != nil {
		return cli.NewConfigError("reset", "invalid reset schedule", err)
	}

	out := &nextResetOutput{Reference: ref, relativeToNow: flags.at == ""}
	next := ref
	for i := 0; i < flags.count; i++ {
		next = schedule.ComputeNextReset(next)
		out.Resets = append(out.Resets, next)
	}
	return formatter.FormatTo(cmd.OutOrStdout(), out)
}

type nextResetOutput struct {
	Reference time.Time   `json:"reference"`
	Resets    []time.Time `json:"resets"`

	relativeToNow bool
}

// WriteText implements cli.TextWriter.
func (n *nextResetOutput) WriteText(w io.Writer) error {
	for _, t := range n.Resets {
		rel := humanize.RelTime(t, n.Reference, "before reference", "after reference")
		if n.relativeToNow {
			rel = humanize.Time(t)
		}
		fmt.Fprintf(w, "%s (%s)\n", t.Format(time.RFC3339), rel)
	}
	return nil
}
