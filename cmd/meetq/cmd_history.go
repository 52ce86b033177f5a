package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/meetq/meetq/internal/models"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.State(state)
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("unknown state %q", state)
			}

			a, _, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			records, err := a.ListHistory(cmd.Context())
			if err != nil {
				return err
			}
			var rows []models.SessionRecord
			for _, rec := range records {
				if filter == "" || rec.State == filter {
					rows = append(rows, rec)
				}
			}
			if len(rows) == 0 {
				printf(cmd.OutOrStdout(), "No sessions found.\n")
				return nil
			}
			renderHistory(cmd.OutOrStdout(), rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only show sessions in this state (recording, pending_upload, uploading, uploaded, failed)")

	return cmd
}

var historyColumns = []struct {
	title string
	width int
}{
	{"ID", 26},
	{"State", 15},
	{"Location", 20},
	{"Started", 17},
	{"Tries", 5},
	{"Last error", 0},
}

//nolint:errcheck // display-only writes
func renderHistory(w io.Writer, records []models.SessionRecord) {
	var header strings.Builder
	for _, c := range historyColumns {
		header.WriteString(padRight(c.title, c.width))
		header.WriteString(" ")
	}
	fmt.Fprintln(w, strings.TrimRight(header.String(), " "))
	fmt.Fprintln(w, strings.Repeat("─", 100))

	for _, rec := range records {
		cells := []string{
			rec.ID,
			string(rec.State),
			rec.Location,
			rec.StartedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprint(rec.UploadAttempts),
			rec.LastError,
		}
		var line strings.Builder
		for i, c := range historyColumns {
			cell := cells[i]
			if c.width > 0 {
				cell = padRight(runewidth.Truncate(cell, c.width, "…"), c.width)
			}
			line.WriteString(cell)
			line.WriteString(" ")
		}
		fmt.Fprintln(w, strings.TrimRight(line.String(), " "))
	}
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	var transcript bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			rec, err := a.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderSession(cmd.OutOrStdout(), rec, transcript)
			return nil
		},
	}

	cmd.Flags().BoolVar(&transcript, "transcript", false, "Also print the full transcript")

	return cmd
}

//nolint:errcheck // display-only writes
func renderSession(w io.Writer, rec *models.SessionRecord, transcript bool) {
	fmt.Fprintf(w, "Session:   %s\n", rec.ID)
	fmt.Fprintf(w, "Location:  %s\n", rec.Location)
	fmt.Fprintf(w, "State:     %s\n", rec.State)
	fmt.Fprintf(w, "Started:   %s\n", rec.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if rec.EndedAt != nil {
		fmt.Fprintf(w, "Duration:  %s\n", rec.Duration().Round(time.Second))
	}
	fmt.Fprintf(w, "Attempts:  %d\n", rec.UploadAttempts)
	if rec.RemoteID != "" {
		fmt.Fprintf(w, "Remote id: %s\n", rec.RemoteID)
	}
	if rec.LastError != "" {
		fmt.Fprintf(w, "Error:     %s\n", rec.LastError)
	}

	fmt.Fprintln(w, "Participants:")
	for _, p := range rec.Participants {
		if p.DisplayName != "" {
			fmt.Fprintf(w, "  - %s <%s>\n", p.DisplayName, p.Contact)
		} else {
			fmt.Fprintf(w, "  - %s\n", p.Contact)
		}
	}

	if rec.Result == nil {
		fmt.Fprintln(w, "\nNo summary yet.")
		return
	}
	fmt.Fprintln(w, "\nSummary:")
	fmt.Fprintln(w, markdownToText(rec.Result.Summary))
	if transcript && rec.Result.Transcript != "" {
		fmt.Fprintln(w, "\nTranscript:")
		fmt.Fprintln(w, rec.Result.Transcript)
	}
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if err := a.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	return cmd
}

func newClearCommand(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every session and capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete every session without --yes")
			}

			a, _, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			n, err := a.ClearAll(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Deleted %d session(s)\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting every session")

	return cmd
}
