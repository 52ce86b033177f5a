package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meetq/meetq/internal/models"
	"github.com/meetq/meetq/internal/wizard"
)

func newStartCommand(opts *rootOptions) *cobra.Command {
	var participants []string

	cmd := &cobra.Command{
		Use:   "start [location]",
		Short: "Start recording a session",
		Long: `Start a new session in the recording state and print its id.

Participants are given as --participant contact[:Display Name], repeatable.
When no location or participants are given and stdin is a terminal, a form
prompts for them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location := ""
			if len(args) == 1 {
				location = args[0]
			}
			var parsed []models.Participant
			for _, p := range participants {
				parsed = append(parsed, models.ParseParticipant(p))
			}

			if strings.TrimSpace(location) == "" || len(parsed) == 0 {
				if !wizard.IsInteractive(cmd.InOrStdin()) {
					return fmt.Errorf("a location and at least one --participant are required")
				}
				spec, err := wizard.RunSessionWizard(cmd.InOrStdin(), cmd.OutOrStdout(), location)
				if err != nil {
					return err
				}
				location = spec.Location
				parsed = spec.Participants
			}

			a, _, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			id, err := a.StartSession(cmd.Context(), location, parsed)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", id)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&participants, "participant", "p", nil, "Participant as contact[:Display Name] (repeatable)")

	return cmd
}

func newStopCommand(opts *rootOptions) *cobra.Command {
	var audio string

	cmd := &cobra.Command{
		Use:   "stop <session-id>",
		Short: "End a recording and queue it for upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if err := a.EndSession(cmd.Context(), args[0], audio); err != nil {
				return err
			}
			n, err := a.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Session %s queued for upload (%d pending)\n", args[0], n)
			return nil
		},
	}

	cmd.Flags().StringVar(&audio, "audio", "", "Path to the captured audio file")
	_ = cmd.MarkFlagRequired("audio")

	return cmd
}
