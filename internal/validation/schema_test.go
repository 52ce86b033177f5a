package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const validRecordsJSON = `[
  {
    "id": "local_20250101100000_ab12",
    "location": "Room 4",
    "participants": [{"contact": "a@example.com", "displayName": "Ada"}],
    "audioRef": "/data/meetings/local_20250101100000_ab12.m4a",
    "startedAt": "2025-01-01T10:00:00Z",
    "endedAt": "2025-01-01T10:30:00Z",
    "state": "pending_upload",
    "uploadAttempts": 0
  }
]`

func TestValidateRecordsBytes_Valid(t *testing.T) {
	require.Empty(t, ValidateRecordsBytes([]byte(validRecordsJSON)))
}

func TestValidateRecordsBytes_Empty(t *testing.T) {
	require.Empty(t, ValidateRecordsBytes([]byte(`[]`)))
}

func TestValidateRecordsBytes_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantLoc string
	}{
		{"not an array", `{"id": "x"}`, "/"},
		{"unknown state", strings.Replace(validRecordsJSON, `"pending_upload"`, `"paused"`, 1), "/0/state"},
		{"negative attempts", strings.Replace(validRecordsJSON, `"uploadAttempts": 0`, `"uploadAttempts": -1`, 1), "/0/uploadAttempts"},
		{"missing id", strings.Replace(validRecordsJSON, `"id": "local_20250101100000_ab12",`, ``, 1), "/0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRecordsBytes([]byte(tt.doc))
			require.NotEmpty(t, errs)
			found := false
			for _, e := range errs {
				if strings.HasPrefix(e, tt.wantLoc) {
					found = true
				}
			}
			require.True(t, found, "expected an error at %s, got %v", tt.wantLoc, errs)
		})
	}
}

func TestValidateRecordsBytes_Malformed(t *testing.T) {
	errs := ValidateRecordsBytes([]byte(`[{`))
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "JSON parse error")
}
