package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// File describes a journal file on disk.
type File struct {
	Path      string
	Name      string
	Size      int64
	ModTime   time.Time
	NumEvents int
}

// ListJournals finds journal files in dir, newest first.
func ListJournals(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading journal directory: %w", err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), journalSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(dir, e.Name())
		n, _ := countLines(path) //nolint:errcheck
		files = append(files, File{
			Path:      path,
			Name:      e.Name(),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			NumEvents: n,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name > files[j].Name
	})

	return files, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close() //nolint:errcheck
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

// ReadEvents parses all events from a journal file, skipping malformed lines.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return events, nil
}

// RenderTimeline writes a human-readable sync timeline to w.
//
//nolint:errcheck // display-only writes; errors are not actionable
func RenderTimeline(w io.Writer, events []Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w, " SYNC TIMELINE")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	for _, ev := range events {
		ts := ev.Timestamp.Local().Format("15:04:05")
		session, _ := ev.Data["session"].(string) //nolint:errcheck

		switch ev.Type {
		case EventPassStart:
			fmt.Fprintf(w, "[%s] 🔄 Sync pass started  candidates=%d\n", ts, jsonNumber(ev.Data["candidates"]))

		case EventPassDeferred:
			reason, _ := ev.Data["reason"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] ⏸  Sync deferred: %s\n", ts, reason)

		case EventRecordUploading:
			fmt.Fprintf(w, "[%s] ▶  Uploading %s (attempt %d)\n", ts, session, jsonNumber(ev.Data["attempt"]))

		case EventRecordUploaded:
			remoteID, _ := ev.Data["remote_id"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] ✓  Uploaded %s  remote=%s\n", ts, session, remoteID)

		case EventRecordFailed:
			msg, _ := ev.Data["error"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] ✗  Upload failed %s (attempts=%d): %s\n", ts, session, jsonNumber(ev.Data["attempts"]), msg)

		case EventRecordPurged:
			reason, _ := ev.Data["reason"].(string) //nolint:errcheck
			fmt.Fprintf(w, "[%s] 🗑  Purged %s: %s\n", ts, session, reason)

		case EventRecordEvicted:
			fmt.Fprintf(w, "[%s] 🧹 Evicted %s\n", ts, session)

		case EventRecordRetry:
			fmt.Fprintf(w, "[%s] ↻  Manual retry %s\n", ts, session)

		case EventResultFetched:
			fmt.Fprintf(w, "[%s] 📝 Result fetched %s\n", ts, session)

		case EventPassComplete:
			fmt.Fprintf(w, "[%s] 🏁 Sync pass complete  %d uploaded  %d failed  %d purged  %d skipped  (%dms)\n",
				ts,
				jsonNumber(ev.Data["uploaded"]),
				jsonNumber(ev.Data["failed"]),
				jsonNumber(ev.Data["purged"]),
				jsonNumber(ev.Data["skipped"]),
				jsonNumber(ev.Data["duration_ms"]))

		default:
			fmt.Fprintf(w, "[%s] %s %v\n", ts, ev.Type, ev.Data)
		}
	}
	fmt.Fprintln(w)
}

// jsonNumber extracts a number from a JSON-decoded value.
func jsonNumber(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64() //nolint:errcheck
		return int(i)
	}
	return 0
}
