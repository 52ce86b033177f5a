package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// ErrClosed is returned by Log after Close.
var ErrClosed = errors.New("journal is closed")

const journalSuffix = "-sync.jsonl"

// Logger defines the interface for journal event logging.
type Logger interface {
	Log(event Event) error
	Close() error
}

// DailyLogger appends events as NDJSON to one file per UTC day. The file
// is chosen from each event's timestamp, so a process that runs past
// midnight starts the next day's file with its first event of that day.
type DailyLogger struct {
	fs  afero.Fs
	dir string
	now func() time.Time

	mu     sync.Mutex
	day    string
	file   afero.File
	enc    *json.Encoder
	closed bool
}

// DailyOption configures a DailyLogger.
type DailyOption func(*DailyLogger)

// WithFs replaces the OS filesystem.
func WithFs(fsys afero.Fs) DailyOption {
	return func(l *DailyLogger) {
		l.fs = fsys
	}
}

// WithClock sets the time used for events that carry no timestamp.
func WithClock(now func() time.Time) DailyOption {
	return func(l *DailyLogger) {
		l.now = now
	}
}

// NewDailyLogger creates dir if needed and returns a logger writing into
// it. No file is opened until the first event.
func NewDailyLogger(dir string, opts ...DailyOption) (*DailyLogger, error) {
	l := &DailyLogger{fs: afero.NewOsFs(), dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	return l, nil
}

// Log writes event as one line of the file for its day.
func (l *DailyLogger) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	day := event.Timestamp.UTC().Format("20060102")

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if day != l.day {
		if err := l.open(day); err != nil {
			return err
		}
	}
	return l.enc.Encode(event)
}

func (l *DailyLogger) open(day string) error {
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("closing journal: %w", err)
		}
		l.file, l.enc, l.day = nil, nil, ""
	}
	path := filepath.Join(l.dir, day+journalSuffix)
	f, err := l.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	l.file, l.enc, l.day = f, json.NewEncoder(f), day
	return nil
}

// Path returns the file currently written to, or "" before the first event.
func (l *DailyLogger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close closes the current file. Later calls to Log fail with ErrClosed.
func (l *DailyLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file, l.enc = nil, nil
	return err
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Log(Event) error { return nil }

func (NopLogger) Close() error { return nil }

// DefaultLogPath returns the journal file inside dir for the UTC day of t.
func DefaultLogPath(dir string, t time.Time) string {
	return filepath.Join(dir, t.UTC().Format("20060102")+journalSuffix)
}
