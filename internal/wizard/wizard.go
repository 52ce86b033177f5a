// Package wizard prompts for the details of a new capture session.
package wizard

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/meetq/meetq/internal/models"
)

// SessionSpec holds all fields collected during the interactive wizard.
type SessionSpec struct {
	Location     string
	Participants []models.Participant
}

// IsInteractive reports whether in is a terminal.
func IsInteractive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// RunSessionWizard runs a huh form to collect the location and participants.
// A non-empty initialLocation pre-populates the location field.
func RunSessionWizard(in io.Reader, out io.Writer, initialLocation string) (*SessionSpec, error) {
	var (
		location        = initialLocation
		participantsRaw string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Location").
				Description("Where the meeting takes place").
				Placeholder("Room 4").
				Value(&location).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("location is required")
					}
					return nil
				}),
			huh.NewText().
				Title("Participants").
				Description("One per line or comma-separated, as contact or contact:Display Name").
				Placeholder("alice@example.com:Alice").
				Value(&participantsRaw).
				Validate(func(s string) error {
					return models.ValidateParticipants(ParseParticipants(s))
				}),
		),
	).
		WithInput(in).
		WithOutput(out)

	// Use accessible mode for non-TTY input (e.g., tests, piped input).
	if !IsInteractive(in) {
		form = form.WithAccessible(true)
	}

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("wizard failed: %w", err)
	}

	return &SessionSpec{
		Location:     strings.TrimSpace(location),
		Participants: ParseParticipants(participantsRaw),
	}, nil
}

// ParseParticipants splits raw on commas and newlines and parses each
// entry as contact[:name]. Blank entries are dropped.
func ParseParticipants(raw string) []models.Participant {
	var out []models.Participant
	for _, entry := range splitAndTrim(strings.ReplaceAll(raw, "\n", ",")) {
		out = append(out, models.ParseParticipant(entry))
	}
	return out
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
