package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile string
	verbose bool
	output  string
}

func (o *rootOptions) formatter() (cli.Formatter, error) {
	format, err := cli.ParseOutputFormat(o.output)
	if err != nil {
		return nil, err
	}
	return cli.NewFormatter(format), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tollgate",
		Short: "Tollgate - quota and rate limit enforcement engine",
		Long: `Tollgate decides, for every rate-sensitive or metered operation, whether it
may proceed right now, and tracks how much of a tiered daily allowance each
subject has consumed.

It provides:
  - Fixed-window rate limiting keyed by client address or subject
  - Per-feature daily quotas by tier, reset at a fixed wall-clock hour
  - A lazy reset on read plus a scheduled sweep of due records
  - An HTTP API and embeddable middleware`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "config.yaml", "config file path")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newSweepCmd(opts),
		newNextResetCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command and exits with the code of its error.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
