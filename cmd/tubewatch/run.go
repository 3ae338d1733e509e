package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tubewatch/internal/app"
	"tubewatch/internal/relay"
)

func runCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll every source once and notify new items",
		Long: `Poll every source once, notify items newer than the stored cursor
and persist the advanced cursors.

Exit status: 0 when every source succeeded, 1 when any source failed or
had failed notifications, 2 when the run could not start.

Examples:
  # One pass, e.g. from cron
  tubewatch run

  # Show what would be sent without sending or saving anything
  tubewatch run --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, app.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sum, err := a.RunOnce(ctx)
			if code := app.ExitCode(sum, err); code != relay.ExitOK {
				return &exitError{code: code, err: err}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log what would be notified; send and persist nothing")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run on the configured schedule until interrupted",
		Long: `Run once immediately, then on the "schedule" from the config
(default "` + app.DefaultSchedule + `"). Runs never overlap. The config file
is watched; logging settings and the source list apply without a restart.

When status.enabled is set, a read-only HTTP endpoint serves /healthz,
/runs/last and /cursors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := a.Serve(ctx); err != nil {
				return &exitError{code: relay.ExitFatal, err: err}
			}
			return nil
		},
	}
}
