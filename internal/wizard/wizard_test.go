package wizard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meetq/meetq/internal/models"
)

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"single", "hello", []string{"hello"}},
		{"multiple", "a, b, c", []string{"a", "b", "c"}},
		{"with blanks", "a,, b, ,c", []string{"a", "b", "c"}},
		{"whitespace only", "  ,  ,  ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitAndTrim(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseParticipants(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []models.Participant
	}{
		{"empty", "", nil},
		{"contact only", "alice@example.com", []models.Participant{{Contact: "alice@example.com"}}},
		{
			"names and newlines",
			"alice@example.com:Alice Smith\n bob@example.com ,carol@example.com: Carol",
			[]models.Participant{
				{Contact: "alice@example.com", DisplayName: "Alice Smith"},
				{Contact: "bob@example.com"},
				{Contact: "carol@example.com", DisplayName: "Carol"},
			},
		},
		{"blank lines", "\n\na@x.com\n\n", []models.Participant{{Contact: "a@x.com"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseParticipants(tt.input))
		})
	}
}

func TestIsInteractive_NonFileReader(t *testing.T) {
	assert.False(t, IsInteractive(strings.NewReader("x")))
}
