package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/meetq/meetq/internal/app"
	"github.com/meetq/meetq/internal/connectivity"
	"github.com/meetq/meetq/internal/models"
	"github.com/meetq/meetq/internal/remote"
	"github.com/meetq/meetq/internal/store"
)

type cli struct {
	dataDir string
	remote  *remote.MockClient
	prober  *connectivity.StaticProber
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("MEETQ_DATA_DIR", "")
	return &cli{
		dataDir: t.TempDir(),
		remote:  remote.NewMockClient(gomock.NewController(t)),
		prober:  connectivity.NewStaticProber(true),
	}
}

func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(
		app.WithRemote(c.remote),
		app.WithProber(c.prober),
		app.WithOpenLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--data-dir", c.dataDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// recorded starts and stops a session, returning its id.
func (c *cli) recorded(t *testing.T, location string) string {
	t.Helper()
	out, err := c.run(t, "start", location, "--participant", "alice@example.com:Alice", "-p", "bob@example.com")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(id, "local_"), "unexpected id %q", id)

	audio := filepath.Join(t.TempDir(), "capture.m4a")
	require.NoError(t, os.WriteFile(audio, []byte("audio"), 0o644))
	_, err = c.run(t, "stop", id, "--audio", audio)
	require.NoError(t, err)
	return id
}

func TestStartStopSyncHistory(t *testing.T) {
	c := newCLI(t)
	id := c.recorded(t, "Room 4")

	out, err := c.run(t, "pending")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	c.remote.EXPECT().CreateSession(gomock.Any(), "Room 4", []models.Participant{
		{Contact: "alice@example.com", DisplayName: "Alice"},
		{Contact: "bob@example.com"},
	}).Return("m-1", nil)
	c.remote.EXPECT().AttachCapture(gomock.Any(), "m-1", filepath.Join(c.dataDir, "meetings", id+".m4a"), gomock.Any()).Return(nil)

	out, err = c.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Sync complete, 0 pending")

	out, err = c.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "uploaded")
	assert.Contains(t, out, "Room 4")

	out, err = c.run(t, "history", "--state", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found.")

	_, err = c.run(t, "history", "--state", "bogus")
	require.Error(t, err)
}

func TestStart_RequiresParticipantsWhenNotInteractive(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "start", "Room 4")
	require.ErrorContains(t, err, "at least one --participant")

	_, err = c.run(t, "start", "Room 4", "-p", "a@x.com", "-p", "A@X.com")
	require.ErrorIs(t, err, app.ErrInvalidSession)
}

func TestStop_Errors(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "stop", "missing", "--audio", "/tmp/x.m4a")
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = c.run(t, "stop", "missing")
	require.Error(t, err)
}

func TestSync_FailedSessionsExitAsSyncFailure(t *testing.T) {
	c := newCLI(t)
	c.recorded(t, "Room 4")

	c.remote.EXPECT().CreateSession(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("503 from server"))

	_, err := c.run(t, "sync")
	var syncErr *SyncFailureError
	require.ErrorAs(t, err, &syncErr)
	assert.Contains(t, syncErr.Message, "1 failed session(s)")
}

func TestSync_Offline(t *testing.T) {
	c := newCLI(t)
	c.recorded(t, "Room 4")
	c.prober.Set(false)

	out, err := c.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Offline, sync deferred")

	out, err = c.run(t, "pending")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestRetry(t *testing.T) {
	c := newCLI(t)
	id := c.recorded(t, "Room 4")

	c.remote.EXPECT().CreateSession(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("timeout"))
	_, err := c.run(t, "retry", id)
	var syncErr *SyncFailureError
	require.ErrorAs(t, err, &syncErr)
	assert.Contains(t, syncErr.Message, "timeout")

	c.remote.EXPECT().CreateSession(gomock.Any(), gomock.Any(), gomock.Any()).Return("m-2", nil)
	c.remote.EXPECT().AttachCapture(gomock.Any(), "m-2", gomock.Any(), gomock.Any()).Return(nil)
	out, err := c.run(t, "retry", id)
	require.NoError(t, err)
	assert.Contains(t, out, "uploaded")

	_, err = c.run(t, "retry", "missing")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestRefreshAndShow(t *testing.T) {
	c := newCLI(t)
	id := c.recorded(t, "Room 4")

	c.remote.EXPECT().CreateSession(gomock.Any(), gomock.Any(), gomock.Any()).Return("m-1", nil)
	c.remote.EXPECT().AttachCapture(gomock.Any(), "m-1", gomock.Any(), gomock.Any()).Return(nil)
	_, err := c.run(t, "sync")
	require.NoError(t, err)

	out, err := c.run(t, "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "No summary yet.")
	assert.Contains(t, out, "Alice <alice@example.com>")

	c.remote.EXPECT().FetchStatus(gomock.Any(), "m-1").Return(&remote.Status{State: remote.StatusCompleted}, nil)
	c.remote.EXPECT().FetchResult(gomock.Any(), "m-1").Return(&models.Result{
		Summary:    "# Decisions\n\n**Ship** the beta.\n\n- Alice owns rollout\n- Bob writes notes",
		Transcript: "Alice: hello",
	}, nil)
	out, err = c.run(t, "refresh")
	require.NoError(t, err)
	assert.Equal(t, "1 session(s) updated\n", out)

	out, err = c.run(t, "show", id, "--transcript")
	require.NoError(t, err)
	assert.Contains(t, out, "Remote id: m-1")
	assert.Contains(t, out, "Decisions")
	assert.Contains(t, out, "Ship the beta.")
	assert.Contains(t, out, "- Alice owns rollout")
	assert.NotContains(t, out, "**")
	assert.Contains(t, out, "Alice: hello")
}

func TestDeleteAndClear(t *testing.T) {
	c := newCLI(t)
	first := c.recorded(t, "Room 1")
	c.recorded(t, "Room 2")

	out, err := c.run(t, "delete", first)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted "+first)

	_, err = c.run(t, "delete", first)
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = c.run(t, "clear")
	require.ErrorContains(t, err, "--yes")

	out, err = c.run(t, "clear", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 1 session(s)\n", out)

	out, err = c.run(t, "pending")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestJournalListAndView(t *testing.T) {
	c := newCLI(t)
	c.recorded(t, "Room 4")

	c.prober.Set(false)
	_, err := c.run(t, "sync")
	require.NoError(t, err)

	out, err := c.run(t, "journal", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "-sync.jsonl")

	files, err := filepath.Glob(filepath.Join(c.dataDir, "journal", "*-sync.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	out, err = c.run(t, "journal", "view", filepath.Base(files[0]))
	require.NoError(t, err)
	assert.Contains(t, out, "SYNC TIMELINE")
	assert.Contains(t, out, "deferred")
}

func TestJournalList_MissingDir(t *testing.T) {
	c := newCLI(t)

	out, err := c.run(t, "journal", "list", "--dir", filepath.Join(c.dataDir, "nowhere"))
	require.NoError(t, err)
	assert.Contains(t, out, "No journals found.")
}
