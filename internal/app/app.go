// Package app is the facade the CLI and local API use to capture sessions
// and drive syncing.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/meetq/meetq/internal/blob"
	"github.com/meetq/meetq/internal/connectivity"
	"github.com/meetq/meetq/internal/models"
	"github.com/meetq/meetq/internal/store"
	"github.com/meetq/meetq/internal/syncer"
)

var (
	// ErrNotRecording is returned when ending a session that is not recording.
	ErrNotRecording = errors.New("session is not recording")

	// ErrInvalidSession is returned when session input fails validation.
	ErrInvalidSession = errors.New("invalid session")
)

// App ties the record store, capture persistence and sync orchestrator together.
type App struct {
	store   *store.Store
	blobs   *blob.Persister
	orch    *syncer.Orchestrator
	monitor *connectivity.Monitor
	logger  *slog.Logger
	now     func() time.Time
	closers []io.Closer
}

// Option configures an App.
type Option func(*App)

// WithMonitor attaches the connectivity monitor used by Watch.
func WithMonitor(m *connectivity.Monitor) Option {
	return func(a *App) {
		a.monitor = m
	}
}

// WithLogger sets the app's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// WithClock overrides the time source for new sessions.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// WithClosers registers resources released by Close.
func WithClosers(c ...io.Closer) Option {
	return func(a *App) {
		a.closers = append(a.closers, c...)
	}
}

// New assembles an App from already constructed components.
func New(st *store.Store, blobs *blob.Persister, orch *syncer.Orchestrator, opts ...Option) *App {
	a := &App{
		store:  st,
		blobs:  blobs,
		orch:   orch,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// StartSession creates a record in recording state and returns its id.
func (a *App) StartSession(ctx context.Context, location string, participants []models.Participant) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", fmt.Errorf("%w: location is required", ErrInvalidSession)
	}
	if err := models.ValidateParticipants(participants); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	now := a.now().UTC()
	rec := models.SessionRecord{
		ID:           models.NewSessionID(now),
		Location:     location,
		Participants: participants,
		StartedAt:    now,
		State:        models.StateRecording,
	}
	if err := a.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	a.logger.Info("Started session", "session", rec.ID, "location", location)
	return rec.ID, nil
}

// EndSession persists the capture and queues the session for upload. A
// capture that does not exist is rejected and the session keeps recording.
func (a *App) EndSession(ctx context.Context, id string, transientAudioRef string) error {
	if strings.TrimSpace(transientAudioRef) == "" {
		return fmt.Errorf("%w: audio reference is required", ErrInvalidSession)
	}
	rec, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.State != models.StateRecording {
		return fmt.Errorf("%w: %s is %s", ErrNotRecording, id, rec.State)
	}

	exists, err := a.blobs.Exists(transientAudioRef)
	if err != nil {
		return fmt.Errorf("checking capture: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: capture %s not found", ErrInvalidSession, transientAudioRef)
	}

	ref := a.blobs.Persist(transientAudioRef, id)
	ended := a.now().UTC()
	pending := models.StatePendingUpload
	applied, err := a.store.Patch(ctx, id, store.Patch{
		State:    &pending,
		AudioRef: &ref,
		EndedAt:  &ended,
	})
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	if !applied {
		return store.ErrSessionNotFound
	}
	a.logger.Info("Ended session", "session", id, "audio", ref)
	return nil
}

// PendingCount returns how many records wait for an upload pass.
func (a *App) PendingCount(ctx context.Context) (int, error) {
	queued, err := a.store.PendingOrFailed(ctx)
	if err != nil {
		return 0, err
	}
	return len(queued), nil
}

// TriggerSync runs a sync pass now.
func (a *App) TriggerSync(ctx context.Context) models.SyncStatus {
	return a.orch.TriggerSync(ctx)
}

// Retry resets and re-uploads a single session.
func (a *App) Retry(ctx context.Context, id string) (bool, error) {
	return a.orch.Retry(ctx, id)
}

// Subscribe registers fn for sync status updates.
func (a *App) Subscribe(fn syncer.Listener) (unsubscribe func()) {
	return a.orch.Subscribe(fn)
}

// Status returns the current sync status.
func (a *App) Status(ctx context.Context) (models.SyncStatus, error) {
	return a.orch.Status(ctx)
}

// ListHistory returns every session, newest first.
func (a *App) ListHistory(ctx context.Context) ([]models.SessionRecord, error) {
	return a.store.List(ctx)
}

// Get returns a single session.
func (a *App) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	return a.store.Get(ctx, id)
}

// Delete removes a session and its capture.
func (a *App) Delete(ctx context.Context, id string) error {
	rec, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	_ = a.blobs.Delete(rec.AudioRef)
	if err := a.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}
	a.logger.Info("Deleted session", "session", id)
	return nil
}

// ClearAll removes every session and capture, returning how many were removed.
func (a *App) ClearAll(ctx context.Context) (int, error) {
	records, err := a.store.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		_ = a.blobs.Delete(rec.AudioRef)
	}
	if err := a.store.Replace(ctx, nil); err != nil {
		return 0, fmt.Errorf("clearing sessions: %w", err)
	}
	a.logger.Info("Cleared all sessions", "count", len(records))
	return len(records), nil
}

// RefreshResults fetches summaries for uploaded sessions.
func (a *App) RefreshResults(ctx context.Context) (int, error) {
	return a.orch.RefreshResults(ctx)
}

// Start enables automatic syncing on connectivity changes.
func (a *App) Start(ctx context.Context) (stop func()) {
	return a.orch.Start(ctx)
}

// Watch re-checks connectivity every interval until ctx is done. It returns
// immediately when the app has no monitor.
func (a *App) Watch(ctx context.Context, interval time.Duration) {
	if a.monitor == nil || interval <= 0 {
		return
	}
	a.monitor.Watch(ctx, interval)
}

// Close releases the store and journal.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
