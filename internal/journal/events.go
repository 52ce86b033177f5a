// Package journal records sync lifecycle events as NDJSON and renders them
// back as a timeline.
package journal

import "time"

// EventType identifies the kind of journal event.
type EventType string

const (
	EventPassStart       EventType = "pass_start"
	EventPassDeferred    EventType = "pass_deferred"
	EventPassComplete    EventType = "pass_complete"
	EventRecordUploading EventType = "record_uploading"
	EventRecordUploaded  EventType = "record_uploaded"
	EventRecordFailed    EventType = "record_failed"
	EventRecordPurged    EventType = "record_purged"
	EventRecordEvicted   EventType = "record_evicted"
	EventRecordRetry     EventType = "record_retry"
	EventResultFetched   EventType = "result_fetched"
)

// Event is a single timestamped entry in a journal.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Type:      t,
		Data:      data,
	}
}

// PassStartData returns event data for the start of a sync pass.
func PassStartData(candidates int) map[string]any {
	return map[string]any{
		"candidates": candidates,
	}
}

// PassDeferredData returns event data for a pass skipped for lack of connectivity.
func PassDeferredData(reason string) map[string]any {
	return map[string]any{
		"reason": reason,
	}
}

// PassCompleteData returns event data for the end of a sync pass.
func PassCompleteData(uploaded, failed, purged, skipped int, durationMs int64) map[string]any {
	return map[string]any{
		"uploaded":    uploaded,
		"failed":      failed,
		"purged":      purged,
		"skipped":     skipped,
		"duration_ms": durationMs,
	}
}

// RecordData returns event data naming a session and any extra fields.
func RecordData(sessionID string, details map[string]any) map[string]any {
	d := map[string]any{
		"session": sessionID,
	}
	for k, v := range details {
		d[k] = v
	}
	return d
}
