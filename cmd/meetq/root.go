package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/meetq/meetq/internal/app"
	"github.com/meetq/meetq/internal/projectconfig"
)

var version = "dev"

// rootOptions carries the persistent flags and the hooks tests use to swap
// out the remote and connectivity probe.
type rootOptions struct {
	dataDir  string
	openOpts []app.OpenOption
}

func newRootCommand(openOpts ...app.OpenOption) *cobra.Command {
	opts := &rootOptions{openOpts: openOpts}

	cmd := &cobra.Command{
		Use:   "meetq",
		Short: "meetq - offline-first meeting recording sync",
		Long: `meetq records meeting sessions locally and uploads them for
transcription and summarization whenever a connection is available.

Sessions survive restarts: a capture is queued as soon as it ends and is
retried on later passes until it uploads or runs out of attempts.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Directory holding the session store and captures (overrides config)")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newStartCommand(opts))
	cmd.AddCommand(newStopCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newPendingCommand(opts))
	cmd.AddCommand(newRefreshCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newClearCommand(opts))
	cmd.AddCommand(newJournalCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}

func (o *rootOptions) loadConfig() (*projectconfig.Config, error) {
	cfg, err := projectconfig.Load(".")
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.Paths.DataDir = o.dataDir
	}
	return cfg, nil
}

func (o *rootOptions) openApp() (*app.App, *projectconfig.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Open(cfg, o.openOpts...)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

// isTerminal reports whether v is an *os.File attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

//nolint:errcheck // display-only writes
func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
