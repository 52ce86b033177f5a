package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"github.com/meetq/meetq/internal/blob"
	"github.com/meetq/meetq/internal/connectivity"
	"github.com/meetq/meetq/internal/journal"
	"github.com/meetq/meetq/internal/projectconfig"
	"github.com/meetq/meetq/internal/remote"
	"github.com/meetq/meetq/internal/store"
	"github.com/meetq/meetq/internal/syncer"
)

// OpenOption adjusts how Open builds the components.
type OpenOption func(*openOptions)

type openOptions struct {
	fs     afero.Fs
	remote remote.Client
	prober connectivity.Prober
	logger *slog.Logger
}

// WithFs replaces the OS filesystem.
func WithFs(fsys afero.Fs) OpenOption {
	return func(o *openOptions) {
		o.fs = fsys
	}
}

// WithRemote replaces the configured remote transport.
func WithRemote(c remote.Client) OpenOption {
	return func(o *openOptions) {
		o.remote = c
	}
}

// WithProber replaces the configured connectivity prober.
func WithProber(p connectivity.Prober) OpenOption {
	return func(o *openOptions) {
		o.prober = p
	}
}

// WithOpenLogger sets the logger shared by every component.
func WithOpenLogger(l *slog.Logger) OpenOption {
	return func(o *openOptions) {
		o.logger = l
	}
}

// Open builds an App from configuration.
func Open(cfg *projectconfig.Config, opts ...OpenOption) (*App, error) {
	o := openOptions{fs: afero.NewOsFs(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var closers []interface{ Close() error }

	backend, closer, err := openBackend(cfg, o.fs)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	client := o.remote
	if client == nil {
		client, err = remote.New(remote.Config{
			Kind:   remote.Kind(cfg.Remote.Kind),
			Params: cfg.Remote.Params,
		}, o.fs)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("configuring remote: %w", err)
		}
	}

	prober := o.prober
	if prober == nil {
		prober, err = newProber(cfg)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
	}

	var jl journal.Logger = journal.NopLogger{}
	if cfg.Journal.Enabled != nil && *cfg.Journal.Enabled {
		l, err := journal.NewDailyLogger(cfg.JournalDir(), journal.WithFs(o.fs))
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		jl = l
		closers = append(closers, l)
	}

	storeOpts, syncOpts, err := processLocks(cfg, o.fs)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	st := store.New(backend, storeOpts...)
	blobs := blob.New(o.fs, cfg.Paths.DataDir, blob.WithLogger(o.logger))
	monitor := connectivity.NewMonitor(prober, connectivity.WithLogger(o.logger))
	orch := syncer.New(st, blobs, monitor, client, append([]syncer.Option{
		syncer.WithAttemptCap(cfg.Sync.AttemptCap),
		syncer.WithRecordDelay(cfg.Sync.RecordDelay),
		syncer.WithSettleDelay(cfg.Sync.SettleDelay),
		syncer.WithRetention(cfg.Sync.Retention),
		syncer.WithJournal(jl),
		syncer.WithLogger(o.logger),
	}, syncOpts...)...)

	appOpts := []Option{WithMonitor(monitor), WithLogger(o.logger)}
	for _, c := range closers {
		appOpts = append(appOpts, WithClosers(c))
	}
	return New(st, blobs, orch, appOpts...), nil
}

func openBackend(cfg *projectconfig.Config, fsys afero.Fs) (store.Backend, interface{ Close() error }, error) {
	switch cfg.Store.Backend {
	case "file", "":
		return store.NewFileBackend(fsys, cfg.StorePath()), nil, nil
	case "sqlite":
		b, err := store.OpenSQLite(cfg.StorePath())
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return b, b, nil
	case "memory":
		return store.NewMemoryBackend(), nil, nil
	default:
		return nil, nil, fmt.Errorf("'%s' is not a valid store backend", cfg.Store.Backend)
	}
}

// PassLockFile is the lock file, inside the data directory, that keeps two
// processes from running sync passes over the same store at once.
const PassLockFile = "sync.lock"

// processLocks returns the lock-file options for stores that live on the
// real filesystem. The file backend gets a lock next to its document; a
// sqlite store serializes its own writes.
func processLocks(cfg *projectconfig.Config, fsys afero.Fs) ([]store.Option, []syncer.Option, error) {
	_, onDisk := fsys.(*afero.OsFs)
	switch {
	case cfg.Store.Backend == "memory":
		return nil, nil, nil
	case cfg.Store.Backend == "sqlite":
		onDisk = true
	case !onDisk:
		return nil, nil, nil
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}

	var storeOpts []store.Option
	if cfg.Store.Backend != "sqlite" {
		lock := cfg.StorePath() + ".lock"
		if err := os.MkdirAll(filepath.Dir(lock), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating store dir: %w", err)
		}
		storeOpts = append(storeOpts, store.WithLockFile(lock))
	}
	pass := flock.New(filepath.Join(cfg.Paths.DataDir, PassLockFile))
	return storeOpts, []syncer.Option{syncer.WithPassLock(pass)}, nil
}

func newProber(cfg *projectconfig.Config) (connectivity.Prober, error) {
	if cfg.Connectivity.Offline != nil && *cfg.Connectivity.Offline {
		return connectivity.NewStaticProber(false), nil
	}
	if cfg.Connectivity.ProbeAddr != "" {
		return &connectivity.DialProber{Addr: cfg.Connectivity.ProbeAddr, Timeout: cfg.Connectivity.ProbeTimeout}, nil
	}
	if base := cfg.RemoteBaseURL(); base != "" {
		p, err := connectivity.NewDialProberForURL(base, cfg.Connectivity.ProbeTimeout)
		if err != nil {
			return nil, fmt.Errorf("deriving connectivity probe: %w", err)
		}
		return p, nil
	}
	if url, ok := cfg.Remote.Params["account_url"].(string); ok && url != "" {
		p, err := connectivity.NewDialProberForURL(url, cfg.Connectivity.ProbeTimeout)
		if err != nil {
			return nil, fmt.Errorf("deriving connectivity probe: %w", err)
		}
		return p, nil
	}
	return connectivity.NewStaticProber(true), nil
}

func closeAll(closers []interface{ Close() error }) {
	for _, c := range closers {
		_ = c.Close()
	}
}
