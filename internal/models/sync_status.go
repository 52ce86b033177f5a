package models

import "time"

// SyncStatus is the snapshot reported to sync subscribers and returned by a
// sync trigger.
type SyncStatus struct {
	Syncing          bool       `json:"syncing"`
	PendingCount     int        `json:"pendingCount"`
	LastSyncTime     *time.Time `json:"lastSyncTime,omitempty"`
	CurrentSessionID string     `json:"currentSessionId,omitempty"`
	Error            string     `json:"error,omitempty"`
}
