// Package projectconfig provides the Config struct and loader for
// .meetq.yaml configuration files.
package projectconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up from the working directory.
const FileName = ".meetq.yaml"

// Default values for configuration. New() references them and no other
// code should duplicate them.
const (
	DefaultDataDirName = ".meetq"

	DefaultStoreBackend = "file"
	DefaultStoreFile    = "meetings.json"
	DefaultSQLiteFile   = "meetq.db"

	DefaultAttemptCap  = 5
	DefaultRecordDelay = time.Second
	DefaultSettleDelay = 2 * time.Second
	DefaultRetention   = 50

	DefaultProbeTimeout  = 3 * time.Second
	DefaultWatchInterval = 30 * time.Second

	DefaultRemoteKind    = "http"
	DefaultRemoteBaseURL = "http://127.0.0.1:8000/api"

	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = 8420

	DefaultJournalDirName = "journal"
)

// Environment variables that override file values.
const (
	EnvDataDir     = "MEETQ_DATA_DIR"
	EnvRemoteURL   = "MEETQ_REMOTE_URL"
	EnvRemoteToken = "MEETQ_REMOTE_TOKEN"
)

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	DataDir string `yaml:"data_dir,omitempty"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"`
	File    string `yaml:"file,omitempty"`
	SQLite  string `yaml:"sqlite,omitempty"`
}

// SyncConfig holds orchestrator tuning.
type SyncConfig struct {
	AttemptCap  int           `yaml:"attempt_cap,omitempty"`
	RecordDelay time.Duration `yaml:"record_delay,omitempty"`
	SettleDelay time.Duration `yaml:"settle_delay,omitempty"`
	Retention   int           `yaml:"retention,omitempty"`
}

// ConnectivityConfig holds reachability probing settings. An empty
// ProbeAddr derives host:port from the remote base URL.
type ConnectivityConfig struct {
	ProbeAddr     string        `yaml:"probe_addr,omitempty"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout,omitempty"`
	WatchInterval time.Duration `yaml:"watch_interval,omitempty"`
	Offline       *bool         `yaml:"offline,omitempty"`
}

// RemoteConfig selects the remote transport and its parameters.
type RemoteConfig struct {
	Kind   string         `yaml:"kind,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`
}

// ServerConfig holds local API server settings.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// JournalConfig holds sync journal settings.
type JournalConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

// Config is the top-level configuration loaded from .meetq.yaml.
type Config struct {
	Paths        PathsConfig        `yaml:"paths,omitempty"`
	Store        StoreConfig        `yaml:"store,omitempty"`
	Sync         SyncConfig         `yaml:"sync,omitempty"`
	Connectivity ConnectivityConfig `yaml:"connectivity,omitempty"`
	Remote       RemoteConfig       `yaml:"remote,omitempty"`
	Server       ServerConfig       `yaml:"server,omitempty"`
	Journal      JournalConfig      `yaml:"journal,omitempty"`
}

// New returns a Config with all hard-coded defaults populated.
func New() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: DefaultDataDir(),
		},
		Store: StoreConfig{
			Backend: DefaultStoreBackend,
			File:    DefaultStoreFile,
			SQLite:  DefaultSQLiteFile,
		},
		Sync: SyncConfig{
			AttemptCap:  DefaultAttemptCap,
			RecordDelay: DefaultRecordDelay,
			SettleDelay: DefaultSettleDelay,
			Retention:   DefaultRetention,
		},
		Connectivity: ConnectivityConfig{
			ProbeTimeout:  DefaultProbeTimeout,
			WatchInterval: DefaultWatchInterval,
			Offline:       boolPtr(false),
		},
		Remote: RemoteConfig{
			Kind: DefaultRemoteKind,
			Params: map[string]any{
				"base_url": DefaultRemoteBaseURL,
			},
		},
		Server: ServerConfig{
			Host: DefaultServerHost,
			Port: DefaultServerPort,
		},
		Journal: JournalConfig{
			Enabled: boolPtr(true),
		},
	}
}

// DefaultDataDir returns ~/.meetq, or .meetq when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDirName
	}
	return filepath.Join(home, DefaultDataDirName)
}

// StorePath returns the location of the store document or database for
// the configured backend, relative paths resolved against the data dir.
func (c *Config) StorePath() string {
	name := c.Store.File
	if c.Store.Backend == "sqlite" {
		name = c.Store.SQLite
	}
	return c.resolve(name)
}

// JournalDir returns the directory journal files are written to.
func (c *Config) JournalDir() string {
	if c.Journal.Dir == "" {
		return filepath.Join(c.Paths.DataDir, DefaultJournalDirName)
	}
	return c.resolve(c.Journal.Dir)
}

// RemoteBaseURL returns the base_url remote parameter, if set.
func (c *Config) RemoteBaseURL() string {
	s, _ := c.Remote.Params["base_url"].(string)
	return s
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.DataDir, p)
}

// Load finds .meetq.yaml by walking up from startDir (max 10 levels),
// merges it onto the defaults and then applies MEETQ_* environment
// overrides. If no config file is found the defaults are used.
// Real I/O errors (e.g. permission denied) are returned to the caller.
func Load(startDir string) (*Config, error) {
	cfg := New()

	data, err := findConfigFile(startDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	default:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
		mergeConfig(cfg, &fileCfg)
		if err := decodeSync(data, &cfg.Sync); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	}

	applyEnv(cfg, os.Getenv)
	return cfg, nil
}

// findConfigFile walks up from dir looking for .meetq.yaml (max 10 levels).
// Returns os.ErrNotExist if no config file is found.
func findConfigFile(dir string) ([]byte, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, FileName)
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, os.ErrNotExist
}

// decodeSync decodes the sync section directly onto dst, so keys present
// in the file replace the defaults even when set to zero (record_delay: 0
// disables the pause between uploads, retention: 0 keeps every uploaded
// session).
func decodeSync(data []byte, dst *SyncConfig) error {
	doc := struct {
		Sync *SyncConfig `yaml:"sync"`
	}{Sync: dst}
	return yaml.Unmarshal(data, &doc)
}

// mergeConfig overlays non-zero values from src onto dst. Sync is handled
// by decodeSync.
func mergeConfig(dst, src *Config) {
	// Paths
	if src.Paths.DataDir != "" {
		dst.Paths.DataDir = src.Paths.DataDir
	}

	// Store
	if src.Store.Backend != "" {
		dst.Store.Backend = src.Store.Backend
	}
	if src.Store.File != "" {
		dst.Store.File = src.Store.File
	}
	if src.Store.SQLite != "" {
		dst.Store.SQLite = src.Store.SQLite
	}


	// Connectivity
	if src.Connectivity.ProbeAddr != "" {
		dst.Connectivity.ProbeAddr = src.Connectivity.ProbeAddr
	}
	if src.Connectivity.ProbeTimeout != 0 {
		dst.Connectivity.ProbeTimeout = src.Connectivity.ProbeTimeout
	}
	if src.Connectivity.WatchInterval != 0 {
		dst.Connectivity.WatchInterval = src.Connectivity.WatchInterval
	}
	if src.Connectivity.Offline != nil {
		dst.Connectivity.Offline = src.Connectivity.Offline
	}

	// Remote: a different kind replaces the params wholesale, the same
	// kind overlays them key by key.
	if src.Remote.Kind != "" && src.Remote.Kind != dst.Remote.Kind {
		dst.Remote.Kind = src.Remote.Kind
		dst.Remote.Params = map[string]any{}
	}
	for k, v := range src.Remote.Params {
		if dst.Remote.Params == nil {
			dst.Remote.Params = map[string]any{}
		}
		dst.Remote.Params[k] = v
	}

	// Server
	if src.Server.Host != "" {
		dst.Server.Host = src.Server.Host
	}
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}

	// Journal
	if src.Journal.Enabled != nil {
		dst.Journal.Enabled = src.Journal.Enabled
	}
	if src.Journal.Dir != "" {
		dst.Journal.Dir = src.Journal.Dir
	}
}

// applyEnv overlays MEETQ_* environment variables onto cfg.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvDataDir); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := getenv(EnvRemoteURL); v != "" {
		setParam(cfg, "base_url", v)
	}
	if v := getenv(EnvRemoteToken); v != "" {
		setParam(cfg, "token", v)
	}
}

func setParam(cfg *Config, key, value string) {
	if cfg.Remote.Params == nil {
		cfg.Remote.Params = map[string]any{}
	}
	cfg.Remote.Params[key] = value
}

func boolPtr(b bool) *bool {
	return &b
}
