// Package syncer drains the local queue of session records to the remote
// meeting service.
//
// At most one pass runs at a time per Orchestrator. A pass sweeps out
// records whose capture has gone missing, defers when the remote is
// unreachable, and otherwise uploads every queued record below the attempt
// cap, one at a time, in collection order.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meetq/meetq/internal/connectivity"
	"github.com/meetq/meetq/internal/journal"
	"github.com/meetq/meetq/internal/models"
	"github.com/meetq/meetq/internal/remote"
	"github.com/meetq/meetq/internal/store"
)

var (
	// ErrSyncInProgress is returned by Retry while a pass is running.
	ErrSyncInProgress = errors.New("sync in progress")

	// ErrStillRecording is returned by Retry for a session whose capture has not ended.
	ErrStillRecording = errors.New("session is still recording")
)

// NoNetworkMessage is the status error reported when a pass is deferred.
const NoNetworkMessage = "no network connection"

const (
	DefaultAttemptCap  = 5
	DefaultRecordDelay = time.Second
	DefaultSettleDelay = 2 * time.Second
	DefaultRetention   = 50
)

// Artifacts is the capture storage the orchestrator checks and reclaims.
// Exists reports false with a nil error only when the capture is gone.
type Artifacts interface {
	Exists(ref string) (bool, error)
	Delete(ref string) error
}

// PassLock extends single-flight across processes sharing a data
// directory. A *flock.Flock from github.com/gofrs/flock satisfies it.
type PassLock interface {
	TryLock() (bool, error)
	Unlock() error
}

// Connectivity is the reachability source the orchestrator reacts to.
type Connectivity interface {
	Check(ctx context.Context) bool
	Subscribe(fn connectivity.Listener) (unsubscribe func())
}

// Listener receives sync status updates.
type Listener func(status models.SyncStatus)

// Orchestrator owns the single-flight flag and the status subscribers.
type Orchestrator struct {
	store     *store.Store
	artifacts Artifacts
	conn      Connectivity
	remote    remote.Client
	journal   journal.Logger
	logger    *slog.Logger
	now       func() time.Time

	attemptCap  int
	recordDelay time.Duration
	settleDelay time.Duration
	retention   int

	syncing  atomic.Bool
	passLock PassLock
	lockHeld bool
	after    func(time.Duration) <-chan time.Time

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]Listener
	current   models.SyncStatus
	lastSync  *time.Time
	timers    map[*time.Timer]struct{}
	stopped   bool
	wg        sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAttemptCap sets how many attempts a record gets before automatic
// passes leave it alone.
func WithAttemptCap(n int) Option {
	return func(o *Orchestrator) {
		o.attemptCap = n
	}
}

// WithRecordDelay sets the pause between records within a pass.
func WithRecordDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.recordDelay = d
	}
}

// WithSettleDelay sets how long to wait after reconnecting before a pass.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.settleDelay = d
	}
}

// WithRetention sets how many uploaded records are kept.
func WithRetention(n int) Option {
	return func(o *Orchestrator) {
		o.retention = n
	}
}

// WithPassLock makes passes and retries also hold l, so only one process
// at a time syncs a shared store.
func WithPassLock(l PassLock) Option {
	return func(o *Orchestrator) {
		o.passLock = l
	}
}

// WithJournal records lifecycle events to j.
func WithJournal(j journal.Logger) Option {
	return func(o *Orchestrator) {
		o.journal = j
	}
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock overrides the time source used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator. Each instance has its own flag and
// subscribers, so several may coexist over different stores.
func New(st *store.Store, artifacts Artifacts, conn Connectivity, client remote.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		artifacts:   artifacts,
		conn:        conn,
		remote:      client,
		journal:     journal.NopLogger{},
		logger:      slog.Default(),
		now:         time.Now,
		after:       time.After,
		attemptCap:  DefaultAttemptCap,
		recordDelay: DefaultRecordDelay,
		settleDelay: DefaultSettleDelay,
		retention:   DefaultRetention,
		listeners:   map[uint64]Listener{},
		timers:      map[*time.Timer]struct{}{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers fn for status updates and returns a function that
// removes it.
func (o *Orchestrator) Subscribe(fn Listener) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}

func (o *Orchestrator) notify(status models.SyncStatus) {
	o.mu.Lock()
	o.current = status
	listeners := make([]Listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		listeners = append(listeners, l)
	}
	o.mu.Unlock()

	for _, l := range listeners {
		l(status)
	}
}

func (o *Orchestrator) record(t journal.EventType, data map[string]any) {
	if err := o.journal.Log(journal.NewEvent(t, data)); err != nil {
		o.logger.Warn("Failed to write journal event", "type", t, "error", err)
	}
}

// acquire takes the single-flight flag and, when configured, the
// cross-process pass lock. A lock that cannot be checked is logged and
// ignored so a broken lock file never stops syncing.
func (o *Orchestrator) acquire() bool {
	if !o.syncing.CompareAndSwap(false, true) {
		return false
	}
	o.lockHeld = false
	if o.passLock == nil {
		return true
	}
	ok, err := o.passLock.TryLock()
	if err != nil {
		o.logger.Warn("Pass lock unavailable, syncing without it", "error", err)
		return true
	}
	if !ok {
		o.syncing.Store(false)
		return false
	}
	o.lockHeld = true
	return true
}

func (o *Orchestrator) release() {
	if o.lockHeld {
		o.lockHeld = false
		if err := o.passLock.Unlock(); err != nil {
			o.logger.Warn("Failed to release pass lock", "error", err)
		}
	}
	o.syncing.Store(false)
}

// Syncing reports whether a pass or retry currently holds the flag.
func (o *Orchestrator) Syncing() bool {
	return o.syncing.Load()
}

// Status returns the current status with a fresh pending count.
func (o *Orchestrator) Status(ctx context.Context) (models.SyncStatus, error) {
	o.mu.Lock()
	status := o.current
	if o.lastSync != nil {
		t := *o.lastSync
		status.LastSyncTime = &t
	}
	o.mu.Unlock()

	status.Syncing = o.syncing.Load()
	if !status.Syncing {
		status.CurrentSessionID = ""
	}
	queued, err := o.store.PendingOrFailed(ctx)
	if err != nil {
		return status, err
	}
	status.PendingCount = len(queued)
	return status, nil
}

func (o *Orchestrator) inProgressStatus() models.SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	status := o.current
	status.Syncing = true
	return status
}

func (o *Orchestrator) completed(pending int) models.SyncStatus {
	now := o.now().UTC()
	o.mu.Lock()
	o.lastSync = &now
	o.mu.Unlock()
	return models.SyncStatus{PendingCount: pending, LastSyncTime: &now}
}

func (o *Orchestrator) pendingCount(ctx context.Context) int {
	queued, err := o.store.PendingOrFailed(ctx)
	if err != nil {
		o.logger.Error("Failed to count pending sessions", "error", err)
		return 0
	}
	return len(queued)
}
