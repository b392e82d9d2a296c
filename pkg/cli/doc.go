/*
Package cli provides command-line interface utilities for tollgate.

The cli package includes output formatters, status printers, error types
with exit codes and signal handling used by the tollgate command.

Output Formatting:

Command results render as text or JSON:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Results that implement TextWriter control their own text rendering.

Exit Codes:

	os.Exit(cli.ExitCode(err))

Configuration errors exit with ExitConfig, everything else with ExitError.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, cancel := cli.SetupSignalHandler()
	defer cancel()
	// Use ctx for operations that should be cancelled on shutdown
*/
package cli
