package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/meetq/meetq/internal/models"
)

// FileBackend stores the collection as one JSON document on an afero filesystem.
type FileBackend struct {
	fs   afero.Fs
	path string
}

// NewFileBackend returns a backend that reads and writes the document at path.
func NewFileBackend(fsys afero.Fs, path string) *FileBackend {
	return &FileBackend{fs: fsys, path: path}
}

// Path returns the location of the document.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(ctx context.Context) ([]models.SessionRecord, error) {
	data, err := afero.ReadFile(b.fs, b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}
	return decodeRecords(data)
}

// Save writes the document to a temp file in the same directory and renames
// it over the previous one.
func (b *FileBackend) Save(ctx context.Context, records []models.SessionRecord) error {
	data, err := encodeRecords(records)
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(b.fs, dir, "."+filepath.Base(b.path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := b.fs.Rename(tmpName, b.path); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", b.path, err)
	}
	return nil
}

var _ Backend = (*FileBackend)(nil)
