package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the upload lifecycle state of a session record.
type State string

const (
	StateRecording     State = "recording"
	StatePendingUpload State = "pending_upload"
	StateUploading     State = "uploading"
	StateUploaded      State = "uploaded"
	StateFailed        State = "failed"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateRecording, StatePendingUpload, StateUploading, StateUploaded, StateFailed:
		return true
	}
	return false
}

// Queued reports whether a record in this state is waiting for an upload pass.
func (s State) Queued() bool {
	return s == StatePendingUpload || s == StateFailed
}

// Participant is one attendee of a recorded session.
type Participant struct {
	Contact     string `json:"contact"`
	DisplayName string `json:"displayName,omitempty"`
}

// Result holds what the remote service produced for an uploaded session.
type Result struct {
	Summary    string `json:"summary"`
	Transcript string `json:"transcript"`
}

// SessionRecord is the unit of durability: one capture-to-upload lifecycle.
type SessionRecord struct {
	ID             string        `json:"id"`
	Location       string        `json:"location"`
	Participants   []Participant `json:"participants"`
	AudioRef       string        `json:"audioRef"`
	StartedAt      time.Time     `json:"startedAt"`
	EndedAt        *time.Time    `json:"endedAt,omitempty"`
	State          State         `json:"state"`
	UploadAttempts int           `json:"uploadAttempts"`
	LastError      string        `json:"lastError,omitempty"`
	Result         *Result       `json:"result,omitempty"`
	RemoteID       string        `json:"remoteId,omitempty"`
}

// Duration returns how long the capture ran, or zero while still recording.
func (r *SessionRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// NewSessionID returns a client-generated id of the form
// local_<YYYYMMDDhhmmss>_<4 chars>. The timestamp prefix keeps ids roughly
// ordered by creation time; the suffix avoids collisions within a second.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return fmt.Sprintf("local_%s_%s", now.UTC().Format("20060102150405"), suffix)
}

// NormalizeContact lowercases and trims a contact for uniqueness checks.
func NormalizeContact(contact string) string {
	return strings.ToLower(strings.TrimSpace(contact))
}

// ValidateParticipants checks that there is at least one participant and
// that every contact is non-empty and unique within the list.
func ValidateParticipants(participants []Participant) error {
	if len(participants) == 0 {
		return fmt.Errorf("at least one participant is required")
	}
	seen := make(map[string]bool, len(participants))
	for i, p := range participants {
		key := NormalizeContact(p.Contact)
		if key == "" {
			return fmt.Errorf("participant %d: contact is required", i+1)
		}
		if seen[key] {
			return fmt.Errorf("participant %q listed more than once", p.Contact)
		}
		seen[key] = true
	}
	return nil
}

// ParseParticipant parses "contact" or "contact:Display Name".
func ParseParticipant(s string) Participant {
	contact, name, _ := strings.Cut(s, ":")
	return Participant{
		Contact:     strings.TrimSpace(contact),
		DisplayName: strings.TrimSpace(name),
	}
}
