package syncer

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/meetq/meetq/internal/journal"
	"github.com/meetq/meetq/internal/models"
	"github.com/meetq/meetq/internal/store"
)

type outcome int

const (
	outcomeUploaded outcome = iota
	outcomeFailed
	outcomePurged
	outcomeSkipped
	outcomeInterrupted
)

// TriggerSync runs one pass, or returns the in-progress status if a pass
// is already running here or in another process sharing the pass lock. It
// never returns an error; problems are reported in the status and on the
// affected records.
//
// Cancelling ctx stops the pass before the next record. Records not yet
// attempted are left untouched, and an upload cut short by cancellation is
// returned to its previous state without counting an attempt.
func (o *Orchestrator) TriggerSync(ctx context.Context) models.SyncStatus {
	if !o.acquire() {
		o.logger.Debug("Sync already in progress")
		return o.inProgressStatus()
	}
	return o.runPass(ctx)
}

func (o *Orchestrator) runPass(ctx context.Context) models.SyncStatus {
	start := time.Now()
	// Store writes must land even when the caller goes away mid-pass.
	sctx := context.WithoutCancel(ctx)
	purged := o.sweepInvalid(sctx)

	if !o.conn.Check(ctx) {
		o.release()
		o.logger.Info("No connectivity, deferring sync")
		o.record(journal.EventPassDeferred, journal.PassDeferredData(NoNetworkMessage))
		return models.SyncStatus{Error: NoNetworkMessage}
	}

	queued, err := o.store.PendingOrFailed(sctx)
	if err != nil {
		o.release()
		o.logger.Error("Failed to read pending sessions", "error", err)
		return models.SyncStatus{Error: err.Error()}
	}
	if len(queued) == 0 {
		o.release()
		return models.SyncStatus{}
	}

	o.logger.Info("Starting sync pass", "pending", len(queued))
	o.notify(models.SyncStatus{Syncing: true, PendingCount: len(queued)})
	o.record(journal.EventPassStart, journal.PassStartData(len(queued)))

	var uploaded, failed, skipped int
	attempted := false
loop:
	for _, rec := range queued {
		if rec.UploadAttempts >= o.attemptCap {
			o.logger.Debug("Skipping session past attempt cap", "session", rec.ID, "attempts", rec.UploadAttempts)
			skipped++
			continue
		}
		if attempted && !o.pause(ctx) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		attempted = true

		switch o.upload(ctx, rec.ID, len(queued)) {
		case outcomeUploaded:
			uploaded++
		case outcomeFailed:
			failed++
		case outcomePurged:
			purged++
		case outcomeSkipped:
			skipped++
		case outcomeInterrupted:
			break loop
		}
	}
	if ctx.Err() != nil {
		o.logger.Info("Sync pass interrupted, remaining sessions left queued", "error", ctx.Err())
	}

	o.evictUploaded(sctx)

	status := o.completed(o.pendingCount(sctx))
	o.release()

	o.logger.Info("Sync pass complete", "uploaded", uploaded, "failed", failed, "purged", purged, "skipped", skipped)
	o.record(journal.EventPassComplete, journal.PassCompleteData(uploaded, failed, purged, skipped, time.Since(start).Milliseconds()))
	o.notify(status)
	return status
}

// pause waits out the inter-record delay. It returns false if ctx is
// cancelled first.
func (o *Orchestrator) pause(ctx context.Context) bool {
	if o.recordDelay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-o.after(o.recordDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

// sweepInvalid removes every record that is not uploaded and whose capture
// no longer exists. It returns how many were removed.
func (o *Orchestrator) sweepInvalid(ctx context.Context) int {
	records, err := o.store.List(ctx)
	if err != nil {
		o.logger.Error("Failed to list sessions for sweep", "error", err)
		return 0
	}
	removed := 0
	for _, rec := range records {
		if rec.State == models.StateUploaded || rec.AudioRef == "" {
			continue
		}
		exists, err := o.artifacts.Exists(rec.AudioRef)
		if err != nil {
			o.logger.Warn("Cannot check capture, keeping session", "session", rec.ID, "error", err)
			continue
		}
		if exists {
			continue
		}
		if o.purge(ctx, rec, "capture missing") {
			removed++
		}
	}
	return removed
}

func (o *Orchestrator) purge(ctx context.Context, rec models.SessionRecord, reason string) bool {
	_ = o.artifacts.Delete(rec.AudioRef)
	if err := o.store.Remove(ctx, rec.ID); err != nil {
		o.logger.Error("Failed to remove session", "session", rec.ID, "error", err)
		return false
	}
	o.logger.Warn("Removed session", "session", rec.ID, "reason", reason)
	o.record(journal.EventRecordPurged, journal.RecordData(rec.ID, map[string]any{"reason": reason}))
	return true
}

// upload pushes a single record to the remote. The record is re-read first
// since it may have changed since the candidates were selected.
func (o *Orchestrator) upload(ctx context.Context, id string, pending int) outcome {
	sctx := context.WithoutCancel(ctx)
	rec, err := o.store.Get(sctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return outcomeSkipped
	}
	if err != nil {
		o.logger.Error("Failed to read session", "session", id, "error", err)
		return outcomeSkipped
	}
	if !rec.State.Queued() {
		return outcomeSkipped
	}

	if rec.AudioRef == "" {
		o.purge(sctx, *rec, "capture missing")
		return outcomePurged
	}
	if exists, err := o.artifacts.Exists(rec.AudioRef); err != nil {
		o.logger.Warn("Cannot check capture, leaving session queued", "session", id, "error", err)
		return outcomeSkipped
	} else if !exists {
		o.purge(sctx, *rec, "capture missing")
		return outcomePurged
	}

	uploading := models.StateUploading
	if _, err := o.store.Patch(sctx, id, store.Patch{State: &uploading}); err != nil {
		o.logger.Error("Failed to mark session uploading", "session", id, "error", err)
		return outcomeSkipped
	}
	o.notify(models.SyncStatus{Syncing: true, PendingCount: pending, CurrentSessionID: id})
	o.record(journal.EventRecordUploading, journal.RecordData(id, map[string]any{"attempt": rec.UploadAttempts + 1}))

	attempts := rec.UploadAttempts + 1
	remoteID, err := o.remote.CreateSession(ctx, rec.Location, rec.Participants)
	if err == nil {
		err = o.remote.AttachCapture(ctx, remoteID, rec.AudioRef, rec.Participants)
	}

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled by the caller, not rejected by the remote.
			prev := rec.State
			if _, perr := o.store.Patch(sctx, id, store.Patch{State: &prev}); perr != nil {
				o.logger.Error("Failed to requeue interrupted session", "session", id, "error", perr)
			}
			o.logger.Info("Upload interrupted", "session", id, "error", ctx.Err())
			return outcomeInterrupted
		}
		if errors.Is(err, fs.ErrNotExist) {
			o.purge(sctx, *rec, "capture missing")
			return outcomePurged
		}

		msg := err.Error()
		failed := models.StateFailed
		if _, perr := o.store.Patch(sctx, id, store.Patch{State: &failed, UploadAttempts: &attempts, LastError: &msg}); perr != nil {
			o.logger.Error("Failed to record upload failure", "session", id, "error", perr)
		}
		o.logger.Warn("Upload failed", "session", id, "attempts", attempts, "error", err)
		o.record(journal.EventRecordFailed, journal.RecordData(id, map[string]any{"attempts": attempts, "error": msg}))
		return outcomeFailed
	}

	uploaded := models.StateUploaded
	if _, err := o.store.Patch(sctx, id, store.Patch{
		State:          &uploaded,
		UploadAttempts: &attempts,
		RemoteID:       &remoteID,
		ClearLastError: true,
	}); err != nil {
		o.logger.Error("Failed to mark session uploaded", "session", id, "error", err)
	}
	o.logger.Info("Uploaded session", "session", id, "remote_id", remoteID)
	o.record(journal.EventRecordUploaded, journal.RecordData(id, map[string]any{"remote_id": remoteID}))
	return outcomeUploaded
}

// evictUploaded applies the retention limit and reclaims evicted captures.
func (o *Orchestrator) evictUploaded(ctx context.Context) {
	if o.retention <= 0 {
		return
	}
	evicted, err := o.store.EvictUploaded(ctx, o.retention)
	if err != nil {
		o.logger.Error("Retention sweep failed", "error", err)
		return
	}
	for _, rec := range evicted {
		_ = o.artifacts.Delete(rec.AudioRef)
		o.logger.Debug("Evicted uploaded session", "session", rec.ID)
		o.record(journal.EventRecordEvicted, journal.RecordData(rec.ID, nil))
	}
}

// Retry resets a record's attempts and uploads it immediately. It reports
// whether the upload succeeded. It fails with ErrSyncInProgress while a
// pass is running, store.ErrSessionNotFound for an unknown id and
// ErrStillRecording for a capture that has not ended.
func (o *Orchestrator) Retry(ctx context.Context, id string) (bool, error) {
	if !o.acquire() {
		return false, ErrSyncInProgress
	}
	sctx := context.WithoutCancel(ctx)

	rec, err := o.store.Get(sctx, id)
	if err != nil {
		o.release()
		return false, err
	}
	if rec.State == models.StateRecording {
		o.release()
		return false, ErrStillRecording
	}

	pending := models.StatePendingUpload
	zero := 0
	if _, err := o.store.Patch(sctx, id, store.Patch{State: &pending, UploadAttempts: &zero, ClearLastError: true}); err != nil {
		o.release()
		return false, err
	}
	o.logger.Info("Retrying session", "session", id)
	o.record(journal.EventRecordRetry, journal.RecordData(id, nil))

	result := o.upload(ctx, id, o.pendingCount(sctx))
	o.evictUploaded(sctx)

	status := o.completed(o.pendingCount(sctx))
	o.release()
	o.notify(status)

	if result == outcomeInterrupted {
		return false, ctx.Err()
	}
	return result == outcomeUploaded, nil
}
