package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meetq/meetq/internal/journal"
)

func newJournalCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "View sync journals",
		Long: `View the NDJSON journals written by sync passes.

One journal is kept per day. Each records pass start, deferral and
completion, plus every upload, failure, purge and eviction.`,
	}

	cmd.AddCommand(newJournalListCommand(opts))
	cmd.AddCommand(newJournalViewCommand(opts))

	return cmd
}

func journalDir(opts *rootOptions, dir string) (string, error) {
	if dir != "" {
		return filepath.Abs(dir)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.JournalDir(), nil
}

func newJournalListCommand(opts *rootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded journals",
		RunE: func(cmd *cobra.Command, args []string) error {
			absDir, err := journalDir(opts, dir)
			if err != nil {
				return err
			}

			files, err := journal.ListJournals(absDir)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("listing journals: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				printf(out, "No journals found.\n")
				return nil
			}

			printf(out, "%-24s %-8s %s\n", "File", "Events", "Modified")
			printf(out, "─────────────────────────────────────────────────────\n")
			for _, f := range files {
				printf(out, "%-24s %-8d %s\n", f.Name, f.NumEvents, f.ModTime.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Journal directory (defaults to <data-dir>/journal)")

	return cmd
}

func newJournalViewCommand(opts *rootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "view <journal-file>",
		Short: "View a journal timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !filepath.IsAbs(path) {
				absDir, err := journalDir(opts, dir)
				if err != nil {
					return err
				}
				path = filepath.Join(absDir, path)
			}

			events, err := journal.ReadEvents(path)
			if err != nil {
				return fmt.Errorf("reading journal: %w", err)
			}

			journal.RenderTimeline(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Journal directory (defaults to <data-dir>/journal)")

	return cmd
}
