package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/meetq/meetq/internal/journal"
	"github.com/meetq/meetq/internal/models"
	"github.com/meetq/meetq/internal/remote"
	"github.com/meetq/meetq/internal/store"
)

// Start wires automatic syncing: it returns records interrupted mid-upload
// to the queue, subscribes to connectivity transitions and runs a first
// pass in the background. The returned stop function unsubscribes, cancels
// scheduled passes and waits for running ones.
func (o *Orchestrator) Start(ctx context.Context) (stop func()) {
	o.mu.Lock()
	o.stopped = false
	o.mu.Unlock()

	o.recoverInterrupted(ctx)

	unsubscribe := o.conn.Subscribe(func(connected bool) {
		if connected {
			o.logger.Info("Connectivity restored, scheduling sync", "delay", o.settleDelay)
			o.schedule(ctx, o.settleDelay)
		}
	})

	o.schedule(ctx, 0)

	return func() {
		unsubscribe()

		o.mu.Lock()
		o.stopped = true
		for t := range o.timers {
			if t.Stop() {
				o.wg.Done()
			}
			delete(o.timers, t)
		}
		o.mu.Unlock()

		o.wg.Wait()
	}
}

// schedule runs a pass after delay unless the orchestrator is stopped first.
func (o *Orchestrator) schedule(ctx context.Context, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}

	o.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer o.wg.Done()

		o.mu.Lock()
		delete(o.timers, t)
		stopped := o.stopped
		o.mu.Unlock()

		if stopped || ctx.Err() != nil {
			return
		}
		o.TriggerSync(ctx)
	})
	o.timers[t] = struct{}{}
}

// recoverInterrupted moves records left in uploading by a previous process
// back to pending_upload. It only runs when no pass holds the flag.
func (o *Orchestrator) recoverInterrupted(ctx context.Context) {
	if !o.acquire() {
		return
	}
	defer o.release()

	records, err := o.store.List(ctx)
	if err != nil {
		o.logger.Error("Failed to list sessions for recovery", "error", err)
		return
	}
	pending := models.StatePendingUpload
	for _, rec := range records {
		if rec.State != models.StateUploading {
			continue
		}
		if _, err := o.store.Patch(ctx, rec.ID, store.Patch{State: &pending}); err != nil {
			o.logger.Error("Failed to requeue interrupted session", "session", rec.ID, "error", err)
			continue
		}
		o.logger.Info("Requeued interrupted upload", "session", rec.ID)
	}
}

// RefreshResults fetches summaries for uploaded records the remote has
// finished processing. Per-record failures are logged and skipped; it
// returns how many records received a result.
func (o *Orchestrator) RefreshResults(ctx context.Context) (int, error) {
	records, err := o.store.List(ctx)
	if err != nil {
		return 0, err
	}

	fetched := 0
	for _, rec := range records {
		if rec.State != models.StateUploaded || rec.RemoteID == "" || rec.Result != nil {
			continue
		}

		status, err := o.remote.FetchStatus(ctx, rec.RemoteID)
		if err != nil {
			o.logger.Warn("Failed to fetch remote status", "session", rec.ID, "error", err)
			continue
		}
		if !status.Completed() {
			o.logger.Debug("Remote still processing", "session", rec.ID, "status", status.State)
			continue
		}

		result, err := o.remote.FetchResult(ctx, rec.RemoteID)
		if errors.Is(err, remote.ErrResultNotReady) {
			continue
		}
		if err != nil {
			o.logger.Warn("Failed to fetch result", "session", rec.ID, "error", err)
			continue
		}

		applied, err := o.store.Patch(ctx, rec.ID, store.Patch{Result: result})
		if err != nil {
			o.logger.Error("Failed to store result", "session", rec.ID, "error", err)
			continue
		}
		if applied {
			fetched++
			o.record(journal.EventResultFetched, journal.RecordData(rec.ID, map[string]any{"remote_id": rec.RemoteID}))
		}
	}
	return fetched, nil
}
