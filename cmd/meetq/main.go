package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess    = 0 // Everything synced or nothing to do
	ExitSyncFailed = 1 // Sync finished but some sessions failed to upload
	ExitError      = 2 // Configuration or runtime error
)

// SyncFailureError indicates that a sync pass ran, but one or more
// sessions are still in the failed state afterwards.
type SyncFailureError struct {
	Message string
}

func (e *SyncFailureError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var syncFailureErr *SyncFailureError
		if errors.As(err, &syncFailureErr) {
			os.Exit(ExitSyncFailed)
		}

		// All other errors are configuration/runtime errors
		os.Exit(ExitError)
	}
}
