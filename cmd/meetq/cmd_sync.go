package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meetq/meetq/internal/app"
	"github.com/meetq/meetq/internal/models"
	"github.com/meetq/meetq/internal/spinner"
	"github.com/meetq/meetq/internal/syncer"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload every queued session now",
		Long: `Run one sync pass over every pending or failed session.

Exits with code 1 when the pass finishes and some sessions are still failed.
Without connectivity the pass is deferred and nothing changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if isTerminal(cmd.ErrOrStderr()) {
				spin := spinner.Start(cmd.ErrOrStderr(), "Syncing sessions")
				unsubscribe := a.Subscribe(func(s models.SyncStatus) {
					if s.Syncing && s.CurrentSessionID != "" {
						spin.Update(fmt.Sprintf("Uploading %s (%d pending)", s.CurrentSessionID, s.PendingCount))
					}
				})
				defer spin.Stop()
				defer unsubscribe()
			}

			status := a.TriggerSync(cmd.Context())
			out := cmd.OutOrStdout()
			if status.Error == syncer.NoNetworkMessage {
				printf(out, "Offline, sync deferred\n")
				return nil
			}
			if status.Error != "" {
				return fmt.Errorf("sync: %s", status.Error)
			}
			printf(out, "Sync complete, %d pending\n", status.PendingCount)
			return failedSessionsError(cmd, a)
		},
	}

	return cmd
}

// failedSessionsError returns a *SyncFailureError when any session is in
// the failed state.
func failedSessionsError(cmd *cobra.Command, a *app.App) error {
	records, err := a.ListHistory(cmd.Context())
	if err != nil {
		return err
	}
	failed := 0
	for _, rec := range records {
		if rec.State == models.StateFailed {
			failed++
		}
	}
	if failed > 0 {
		return &SyncFailureError{Message: fmt.Sprintf("sync finished with %d failed session(s)", failed)}
	}
	return nil
}

func newRetryCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <session-id>",
		Short: "Reset a session's attempts and upload it now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ok, err := a.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok {
				printf(cmd.OutOrStdout(), "Session %s uploaded\n", args[0])
				return nil
			}

			msg := fmt.Sprintf("session %s was not uploaded", args[0])
			if rec, err := a.Get(cmd.Context(), args[0]); err == nil && rec.LastError != "" {
				msg += ": " + rec.LastError
			}
			return &SyncFailureError{Message: msg}
		},
	}

	return cmd
}

func newPendingCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Print how many sessions wait for upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			n, err := a.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%d\n", n)
			return nil
		},
	}

	return cmd
}

func newRefreshCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch summaries and transcripts for uploaded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			n, err := a.RefreshResults(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%d session(s) updated\n", n)
			return nil
		},
	}

	return cmd
}
