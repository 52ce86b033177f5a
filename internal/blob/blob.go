// Package blob copies transient capture artifacts into stable,
// session-scoped files under the data directory.
package blob

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

// DefaultExt is used when the transient artifact has no extension.
const DefaultExt = ".m4a"

// Persister owns the <dataDir>/meetings directory.
type Persister struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
}

// Option configures a Persister.
type Option func(*Persister)

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Persister) {
		p.logger = l
	}
}

// New returns a Persister storing artifacts in <dataDir>/meetings.
func New(fsys afero.Fs, dataDir string, opts ...Option) *Persister {
	p := &Persister{
		fs:     fsys,
		dir:    filepath.Join(dataDir, "meetings"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dir returns the directory durable artifacts are written to.
func (p *Persister) Dir() string {
	return p.dir
}

// PathFor returns the durable location for a session's artifact.
func (p *Persister) PathFor(sessionID, ext string) string {
	if ext == "" {
		ext = DefaultExt
	}
	return filepath.Join(p.dir, sessionID+ext)
}

// Persist copies the artifact at transientRef to the session's durable
// location and returns that location. On any failure the transient ref is
// returned unchanged so the caller never loses the capture.
func (p *Persister) Persist(transientRef, sessionID string) string {
	dest := p.PathFor(sessionID, filepath.Ext(transientRef))
	if err := p.copyFile(transientRef, dest); err != nil {
		p.logger.Warn("Failed to persist capture, keeping transient reference",
			"session", sessionID, "ref", transientRef, "error", err)
		return transientRef
	}
	p.logger.Debug("Persisted capture", "session", sessionID, "path", dest)
	return dest
}

func (p *Persister) copyFile(src, dest string) error {
	if err := p.fs.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", p.dir, err)
	}

	in, err := p.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := afero.TempFile(p.fs, p.dir, "."+filepath.Base(dest)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = p.fs.Remove(tmpName)
		return fmt.Errorf("copying: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = p.fs.Remove(tmpName)
		return err
	}
	if err := p.fs.Rename(tmpName, dest); err != nil {
		_ = p.fs.Remove(tmpName)
		return err
	}
	return nil
}

// Delete removes the artifact at ref. A missing artifact is not an error;
// other failures are logged and returned.
func (p *Persister) Delete(ref string) error {
	if ref == "" {
		return nil
	}
	err := p.fs.Remove(ref)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	p.logger.Warn("Failed to delete capture", "ref", ref, "error", err)
	return err
}

// Exists reports whether an artifact is present at ref. Only a missing
// file reports false with a nil error; any other stat failure is returned
// so callers do not mistake an unreadable capture for a lost one.
func (p *Persister) Exists(ref string) (bool, error) {
	if ref == "" {
		return false, nil
	}
	_, err := p.fs.Stat(ref)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Open opens the artifact at ref for reading.
func (p *Persister) Open(ref string) (afero.File, error) {
	return p.fs.Open(ref)
}
