// tubewatch relays new YouTube uploads and GitHub releases to Slack or
// Telegram, notifying each item once.
//
// Usage:
//
//	tubewatch run                 # one pass; exit 0 ok, 1 failures, 2 fatal
//	tubewatch run --dry-run       # log what would be sent, persist nothing
//	tubewatch serve               # run on the configured schedule
//	tubewatch sources             # validate and list tracked sources
//	tubewatch cursors             # list stored cursors
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tubewatch/internal/app"
	"tubewatch/internal/relay"
)

const defaultConfigPath = "tubewatch.yaml"

var (
	version    = "dev"
	configPath string
	outputFmt  string
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	rootCmd := &cobra.Command{
		Use:   "tubewatch",
		Short: "Relay new uploads and releases to a chat channel",
		Long: `tubewatch polls a fixed list of YouTube channels and GitHub repositories
and posts every item published since the last run to Slack or Telegram.

Per-source cursors are persisted so that each item is announced once.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the config file (yaml or json)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sourcesCmd())
	rootCmd.AddCommand(cursorsCmd())

	if err := rootCmd.Execute(); err != nil {
		code := relay.ExitFatal
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
			err = ee.err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(code)
	}
}

// newApp loads the config. An explicitly passed --config must exist.
func newApp(cmd *cobra.Command, opts app.Options) (*app.App, error) {
	opts.ConfigPath = configPath
	opts.ConfigRequired = cmd.Flags().Changed("config")
	opts.Stdout = cmd.OutOrStdout()
	a, err := app.New(opts)
	if err != nil {
		return nil, &exitError{code: relay.ExitFatal, err: err}
	}
	return a, nil
}
