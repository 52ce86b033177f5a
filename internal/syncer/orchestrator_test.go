package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"github.com/meetq/meetq/internal/blob"
	"github.com/meetq/meetq/internal/connectivity"
	"github.com/meetq/meetq/internal/journal"
	"github.com/meetq/meetq/internal/models"
	"github.com/meetq/meetq/internal/remote"
	"github.com/meetq/meetq/internal/store"
)

var fixedNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type memJournal struct {
	mu     sync.Mutex
	events []journal.Event
}

func (j *memJournal) Log(ev journal.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) types() []journal.EventType {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journal.EventType
	for _, ev := range j.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	remote  *remote.MockClient
	store   *store.Store
	fs      afero.Fs
	blobs   *blob.Persister
	prober  *connectivity.StaticProber
	monitor *connectivity.Monitor
	journal *memJournal
	orch    *Orchestrator

	mu       sync.Mutex
	statuses []models.SyncStatus
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		remote:  remote.NewMockClient(ctrl),
		store:   store.New(store.NewMemoryBackend()),
		fs:      afero.NewMemMapFs(),
		prober:  connectivity.NewStaticProber(true),
		journal: &memJournal{},
	}
	h.blobs = blob.New(h.fs, "/data", blob.WithLogger(logger))
	h.monitor = connectivity.NewMonitor(h.prober, connectivity.WithLogger(logger))

	base := []Option{
		WithRecordDelay(0),
		WithSettleDelay(10 * time.Millisecond),
		WithJournal(h.journal),
		WithLogger(logger),
		WithClock(func() time.Time { return fixedNow }),
	}
	h.orch = New(h.store, h.blobs, h.monitor, h.remote, append(base, opts...)...)
	h.orch.Subscribe(func(s models.SyncStatus) {
		h.mu.Lock()
		h.statuses = append(h.statuses, s)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) addRecord(t *testing.T, id string, state models.State, attempts int) models.SessionRecord {
	t.Helper()
	ref := h.blobs.PathFor(id, ".m4a")
	require.NoError(t, afero.WriteFile(h.fs, ref, []byte("audio-"+id), 0o644))

	ended := fixedNow.Add(-time.Hour)
	rec := models.SessionRecord{
		ID:             id,
		Location:       "Room " + id,
		Participants:   []models.Participant{{Contact: id + "@example.com"}},
		AudioRef:       ref,
		StartedAt:      ended.Add(-30 * time.Minute),
		EndedAt:        &ended,
		State:          state,
		UploadAttempts: attempts,
	}
	require.NoError(t, h.store.Upsert(context.Background(), rec))
	return rec
}

func (h *harness) get(t *testing.T, id string) *models.SessionRecord {
	t.Helper()
	rec, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (h *harness) seen() []models.SyncStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.SyncStatus(nil), h.statuses...)
}

func (h *harness) expectUpload(rec models.SessionRecord, remoteID string) {
	h.remote.EXPECT().CreateSession(gomock.Any(), rec.Location, rec.Participants).Return(remoteID, nil)
	h.remote.EXPECT().AttachCapture(gomock.Any(), remoteID, rec.AudioRef, rec.Participants).Return(nil)
}

func TestTriggerSync_UploadsPendingRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.addRecord(t, "r1", models.StatePendingUpload, 0)
	h.expectUpload(rec, "m-1")

	status := h.orch.TriggerSync(ctx)
	assert.False(t, status.Syncing)
	assert.Equal(t, 0, status.PendingCount)
	require.NotNil(t, status.LastSyncTime)
	assert.True(t, fixedNow.Equal(*status.LastSyncTime))

	got := h.get(t, "r1")
	assert.Equal(t, models.StateUploaded, got.State)
	assert.Equal(t, 1, got.UploadAttempts)
	assert.Equal(t, "m-1", got.RemoteID)

	statuses := h.seen()
	require.Len(t, statuses, 3)
	assert.Equal(t, models.SyncStatus{Syncing: true, PendingCount: 1}, statuses[0])
	assert.Equal(t, "r1", statuses[1].CurrentSessionID)
	assert.True(t, statuses[1].Syncing)
	assert.False(t, statuses[2].Syncing)
	assert.NotNil(t, statuses[2].LastSyncTime)

	assert.Equal(t, []journal.EventType{
		journal.EventPassStart,
		journal.EventRecordUploading,
		journal.EventRecordUploaded,
		journal.EventPassComplete,
	}, h.journal.types())
}

func TestTriggerSync_NothingQueued(t *testing.T) {
	h := newHarness(t)
	h.addRecord(t, "done", models.StateUploaded, 1)

	status := h.orch.TriggerSync(context.Background())
	assert.Equal(t, models.SyncStatus{}, status)
	assert.Empty(t, h.seen())
	assert.False(t, h.orch.Syncing())
}

func TestTriggerSync_ConcurrentTriggersUploadOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.addRecord(t, "r1", models.StatePendingUpload, 0)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.remote.EXPECT().CreateSession(gomock.Any(), rec.Location, gomock.Any()).
		DoAndReturn(func(context.Context, string, []models.Participant) (string, error) {
			close(entered)
			<-release
			return "m-1", nil
		}).Times(1)
	h.remote.EXPECT().AttachCapture(gomock.Any(), "m-1", rec.AudioRef, gomock.Any()).Return(nil).Times(1)

	var g errgroup.Group
	var first models.SyncStatus
	g.Go(func() error {
		first = h.orch.TriggerSync(ctx)
		return nil
	})

	<-entered
	second := h.orch.TriggerSync(ctx)
	assert.True(t, second.Syncing)
	assert.Equal(t, "r1", second.CurrentSessionID)

	_, err := h.orch.Retry(ctx, "r1")
	require.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	require.NoError(t, g.Wait())

	assert.False(t, first.Syncing)
	got := h.get(t, "r1")
	assert.Equal(t, models.StateUploaded, got.State)
	assert.Equal(t, 1, got.UploadAttempts)
}

func TestTriggerSync_PurgesRecordWithMissingCapture(t *testing.T) {
	for _, online := range []bool{true, false} {
		t.Run(fmt.Sprintf("online=%v", online), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			rec := h.addRecord(t, "r1", models.StatePendingUpload, 0)
			require.NoError(t, h.fs.Remove(rec.AudioRef))
			h.prober.Set(online)

			h.orch.TriggerSync(ctx)

			_, err := h.store.Get(ctx, "r1")
			require.ErrorIs(t, err, store.ErrSessionNotFound)
			assert.Contains(t, h.journal.types(), journal.EventRecordPurged)
		})
	}
}

func TestTriggerSync_SweepKeepsRecordingAndUploaded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	uploaded := h.addRecord(t, "up", models.StateUploaded, 1)
	require.NoError(t, h.fs.Remove(uploaded.AudioRef))
	require.NoError(t, h.store.Upsert(ctx, models.SessionRecord{
		ID:           "rec",
		Location:     "Room rec",
		Participants: []models.Participant{{Contact: "x@example.com"}},
		StartedAt:    fixedNow,
		State:        models.StateRecording,
	}))

	h.orch.TriggerSync(ctx)

	records, err := h.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestTriggerSync_PurgesWhenTransportReportsMissingFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.addRecord(t, "r1", models.StatePendingUpload, 0)

	h.remote.EXPECT().CreateSession(gomock.Any(), gomock.Any(), gomock.Any()).Return("m-1", nil)
	h.remote.EXPECT().AttachCapture(gomock.Any(), "m-1", rec.AudioRef, gomock.Any()).
		Return(fmt.Errorf("opening capture: %w", fs.ErrNotExist))

	h.orch.TriggerSync(ctx)

	_, err := h.store.Get(ctx, "r1")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestTriggerSync_DeferredWhileOffline(t *testing.T) {
	h := newHarness(t)
	h.addRecord(t, "r1", models.StatePendingUpload, 0)
	h.prober.Set(false)

	status := h.orch.TriggerSync(context.Background())
	assert.Equal(t, NoNetworkMessage, status.Error)
	assert.False(t, status.Syncing)
	assert.False(t, h.orch.Syncing())

	got := h.get(t, "r1")
	assert.Equal(t, models.StatePendingUpload, got.State)
	assert.Equal(t, 0, got.UploadAttempts)
	assert.Empty(t, h.seen())
	assert.Equal(t, []journal.EventType{journal.EventPassDeferred}, h.journal.types())
}

func TestTriggerSync_FailureContinuesInDiscoveryOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Upsert prepends, so adding r2 first leaves the collection as [r1, r2].
	r2 := h.addRecord(t, "r2", models.StatePendingUpload, 0)
	r1 := h.addRecord(t, "r1", models.StatePendingUpload, 0)

	gomock.InOrder(
		h.remote.EXPECT().CreateSession(gomock.Any(), r1.Location, gomock.Any()).Return("", errors.New("HTTP 503: unavailable")),
		h.remote.EXPECT().CreateSession(gomock.Any(), r2.Location, gomock.Any()).Return("m-2", nil),
		h.remote.EXPECT().AttachCapture(gomock.Any(), "m-2", r2.AudioRef, gomock.Any()).Return(nil),
	)

	status := h.orch.TriggerSync(ctx)
	assert.Equal(t, 1, status.PendingCount)

	got1 := h.get(t, "r1")
	assert.Equal(t, models.StateFailed, got1.State)
	assert.Equal(t, 1, got1.UploadAttempts)
	assert.Equal(t, "HTTP 503: unavailable", got1.LastError)

	got2 := h.get(t, "r2")
	assert.Equal(t, models.StateUploaded, got2.State)
	assert.Equal(t, 1, got2.UploadAttempts)
}

func TestTriggerSync_AttemptCapThenManualRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.addRecord(t, "r1", models.StatePendingUpload, 0)

	h.remote.EXPECT().CreateSession(gomock.Any(), rec.Location, gomock.Any()).
		Return("", errors.New("timeout")).Times(DefaultAttemptCap)

	for i := 0; i < DefaultAttemptCap+2; i++ {
		h.orch.TriggerSync(ctx)
	}

	got := h.get(t, "r1")
	assert.Equal(t, models.StateFailed, got.State)
	assert.Equal(t, DefaultAttemptCap, got.UploadAttempts)

	h.expectUpload(rec, "m-1")
	ok, err := h.orch.Retry(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	got = h.get(t, "r1")
	assert.Equal(t, models.StateUploaded, got.State)
	assert.Equal(t, 1, got.UploadAttempts)
	assert.Empty(t, got.LastError)
	assert.Contains(t, h.journal.types(), journal.EventRecordRetry)
}

func TestRetry_Failure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.addRecord(t, "r1", models.StateFailed, 5)

	h.remote.EXPECT().CreateSession(gomock.Any(), rec.Location, gomock.Any()).Return("", errors.New("still down"))

	ok, err := h.orch.Retry(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	got := h.get(t, "r1")
	assert.Equal(t, models.StateFailed, got.State)
	assert.Equal(t, 1, got.UploadAttempts)
	assert.Equal(t, "still down", got.LastError)
	assert.False(t, h.orch.Syncing())
}

func TestRetry_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Retry(ctx, "missing")
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	require.NoError(t, h.store.Upsert(ctx, models.SessionRecord{
		ID:           "live",
		Participants: []models.Participant{{Contact: "x@example.com"}},
		StartedAt:    fixedNow,
		State:        models.StateRecording,
	}))
	_, err = h.orch.Retry(ctx, "live")
	require.ErrorIs(t, err, ErrStillRecording)
	assert.False(t, h.orch.Syncing())
}

func TestTriggerSync_RetentionEvictsOldestUploaded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < DefaultRetention; i++ {
		h.addRecord(t, fmt.Sprintf("u%02d", i), models.StateUploaded, 1)
	}
	rec := h.addRecord(t, "new", models.StatePendingUpload, 0)
	h.expectUpload(rec, "m-new")

	h.orch.TriggerSync(ctx)

	_, err := h.store.Get(ctx, "u00")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
	exists, err := h.blobs.Exists(h.blobs.PathFor("u00", ".m4a"))
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = h.blobs.Exists(h.blobs.PathFor("u01", ".m4a"))
	require.NoError(t, err)
	assert.True(t, exists)

	records, err := h.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, DefaultRetention)
	assert.Equal(t, "new", records[0].ID)
	assert.Contains(t, h.journal.types(), journal.EventRecordEvicted)
}

func TestStart_SyncsAfterReconnect(t *testing.T) {
	h := newHarness(t, WithSettleDelay(20*time.Millisecond))
	ctx := context.Background()
	rec := h.addRecord(t, "r1", models.StatePendingUpload, 0)

	h.prober.Set(false)
	status := h.orch.TriggerSync(ctx)
	assert.Equal(t, NoNetworkMessage, status.Error)
	got := h.get(t, "r1")
	assert.Equal(t, models.StatePendingUpload, got.State)
	assert.Equal(t, 0, got.UploadAttempts)

	h.expectUpload(rec, "m-1")
	stop := h.orch.Start(ctx)
	defer stop()

	h.prober.Set(true)
	h.monitor.Check(ctx)

	require.Eventually(t, func() bool {
		r, err := h.store.Get(ctx, "r1")
		return err == nil && r.State == models.StateUploaded
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.get(t, "r1").UploadAttempts)
}

func TestStart_RequeuesInterruptedUploads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addRecord(t, "r1", models.StateUploading, 2)
	h.prober.Set(false)

	stop := h.orch.Start(ctx)
	stop()

	got := h.get(t, "r1")
	assert.Equal(t, models.StatePendingUpload, got.State)
	assert.Equal(t, 2, got.UploadAttempts)
}

func TestStart_StopCancelsScheduledPass(t *testing.T) {
	h := newHarness(t, WithSettleDelay(time.Hour))
	ctx := context.Background()
	h.prober.Set(false)

	stop := h.orch.Start(ctx)
	h.prober.Set(true)
	h.monitor.Check(ctx)

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var calls int
	unsubscribe := h.orch.Subscribe(func(models.SyncStatus) { calls++ })
	unsubscribe()

	rec := h.addRecord(t, "r1", models.StatePendingUpload, 0)
	h.expectUpload(rec, "m-1")
	h.orch.TriggerSync(ctx)

	assert.Equal(t, 0, calls)
	assert.NotEmpty(t, h.seen())
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addRecord(t, "r1", models.StateFailed, 5)
	h.addRecord(t, "r2", models.StatePendingUpload, 5)

	h.orch.TriggerSync(ctx)

	status, err := h.orch.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Syncing)
	assert.Equal(t, 2, status.PendingCount)
	require.NotNil(t, status.LastSyncTime)
}

func TestRefreshResults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	done := models.SessionRecord{
		ID: "done", Location: "A", Participants: []models.Participant{{Contact: "a@example.com"}},
		StartedAt: fixedNow, State: models.StateUploaded, UploadAttempts: 1, RemoteID: "m-done",
	}
	busy := done
	busy.ID, busy.RemoteID = "busy", "m-busy"
	local := done
	local.ID, local.RemoteID = "local", ""
	for _, r := range []models.SessionRecord{done, busy, local} {
		require.NoError(t, h.store.Upsert(ctx, r))
	}

	h.remote.EXPECT().FetchStatus(gomock.Any(), "m-done").Return(&remote.Status{State: remote.StatusCompleted}, nil)
	h.remote.EXPECT().FetchResult(gomock.Any(), "m-done").Return(&models.Result{Summary: "## Notes", Transcript: "hi"}, nil)
	h.remote.EXPECT().FetchStatus(gomock.Any(), "m-busy").Return(&remote.Status{State: remote.StatusProcessing}, nil)

	n, err := h.orch.RefreshResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := h.get(t, "done")
	require.NotNil(t, got.Result)
	assert.Equal(t, "## Notes", got.Result.Summary)
	assert.Nil(t, h.get(t, "busy").Result)

	// A second refresh skips records that already have a result.
	h.remote.EXPECT().FetchStatus(gomock.Any(), "m-busy").Return(nil, errors.New("network down"))
	n, err = h.orch.RefreshResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
