package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetq/meetq/internal/models"
)

var testParticipants = []models.Participant{
	{Contact: "a@example.com", DisplayName: "Alice"},
	{Contact: "b@example.com"},
}

func newTestHTTPClient(t *testing.T, handler http.Handler) (*HTTPClient, afero.Fs) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	fsys := afero.NewMemMapFs()
	c, err := NewHTTPClient(HTTPParams{BaseURL: srv.URL, Token: "secret"}, fsys)
	require.NoError(t, err)
	return c, fsys
}

func TestHTTPClient_CreateSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /meetings/start", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body struct {
			Room      string     `json:"room"`
			Attendees []attendee `json:"attendees"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Room 7", body.Room)
		assert.Equal(t, []attendee{{Email: "a@example.com", Name: "Alice"}, {Email: "b@example.com"}}, body.Attendees)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"meeting_id":"m-1","status":"recording"}`))
	})

	c, _ := newTestHTTPClient(t, mux)
	id, err := c.CreateSession(context.Background(), "Room 7", testParticipants)
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
}

func TestHTTPClient_CreateSessionError(t *testing.T) {
	c, _ := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	}))

	_, err := c.CreateSession(context.Background(), "Room", testParticipants)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.Body, "database down")
}

func TestHTTPClient_AttachCapture(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /meetings/m-1/end", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		f, hdr, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "audio-bytes", string(data))
		assert.Equal(t, "recording.m4a", hdr.Filename)
		assert.Equal(t, "audio/m4a", hdr.Header.Get("Content-Type"))

		var attendees []attendee
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("attendees")), &attendees))
		assert.Len(t, attendees, 2)

		_, _ = w.Write([]byte(`{"status":"processing"}`))
	})

	c, fsys := newTestHTTPClient(t, mux)
	require.NoError(t, afero.WriteFile(fsys, "/data/meetings/s1.m4a", []byte("audio-bytes"), 0o644))

	err := c.AttachCapture(context.Background(), "m-1", "/data/meetings/s1.m4a", testParticipants)
	require.NoError(t, err)
}

func TestHTTPClient_AttachCaptureMissingFile(t *testing.T) {
	called := false
	c, _ := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	err := c.AttachCapture(context.Background(), "m-1", "/data/meetings/gone.m4a", testParticipants)
	require.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
	assert.False(t, called)
}

func TestHTTPClient_FetchStatusAndResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /meetings/m-1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"meeting_id":"m-1","status":"completed","steps":{"upload":"completed","summary":"completed"}}`))
	})
	mux.HandleFunc("GET /meetings/m-1/summary", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"meeting_id":"m-1","summary":"# Notes","transcript":"hello"}`))
	})
	mux.HandleFunc("GET /meetings/m-2/summary", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "still processing", http.StatusBadRequest)
	})

	c, _ := newTestHTTPClient(t, mux)
	ctx := context.Background()

	st, err := c.FetchStatus(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, st.Completed())
	assert.Equal(t, "completed", st.Steps["summary"])

	res, err := c.FetchResult(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, &models.Result{Summary: "# Notes", Transcript: "hello"}, res)

	_, err = c.FetchResult(ctx, "m-2")
	require.ErrorIs(t, err, ErrResultNotReady)
}

func TestNewHTTPClient_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(HTTPParams{}, afero.NewMemMapFs())
	require.Error(t, err)
}
