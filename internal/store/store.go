// Package store persists session records as a single collection behind a
// narrow load/save Backend. Every Store operation is a read-modify-write of
// the whole collection, serialized by the Store so that concurrent callers
// never interleave. With a lock file, or a backend that runs updates in a
// transaction, writers in other processes are serialized too.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/meetq/meetq/internal/models"
)

var (
	// ErrSessionNotFound is returned when an id does not match any stored record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCorruptStore is returned when the persisted collection fails schema
	// validation or cannot be decoded.
	ErrCorruptStore = errors.New("record store is corrupt")
)

// DocumentKey is the well-known key the collection is stored under.
const DocumentKey = "meetings"

// Backend loads and saves the full record collection.
type Backend interface {
	// Load returns the stored collection, or an empty one if nothing was saved yet.
	Load(ctx context.Context) ([]models.SessionRecord, error)
	// Save replaces the stored collection.
	Save(ctx context.Context, records []models.SessionRecord) error
}

// Patch lists the fields to merge into an existing record. Nil fields are
// left untouched.
type Patch struct {
	State          *models.State
	UploadAttempts *int
	LastError      *string
	ClearLastError bool
	AudioRef       *string
	EndedAt        *time.Time
	Result         *models.Result
	RemoteID       *string
}

func (p Patch) apply(r *models.SessionRecord) {
	if p.State != nil {
		r.State = *p.State
	}
	if p.UploadAttempts != nil {
		r.UploadAttempts = *p.UploadAttempts
	}
	if p.ClearLastError {
		r.LastError = ""
	}
	if p.LastError != nil {
		r.LastError = *p.LastError
	}
	if p.AudioRef != nil {
		r.AudioRef = *p.AudioRef
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		r.EndedAt = &t
	}
	if p.Result != nil {
		res := *p.Result
		r.Result = &res
	}
	if p.RemoteID != nil {
		r.RemoteID = *p.RemoteID
	}
}

// UpdateFunc transforms the collection and reports whether it changed.
type UpdateFunc func([]models.SessionRecord) ([]models.SessionRecord, bool)

// Updater is implemented by backends that can apply an UpdateFunc
// atomically with respect to other handles on the same storage.
type Updater interface {
	Update(ctx context.Context, fn UpdateFunc) error
}

// lockRetryDelay is how often a busy lock file is polled.
const lockRetryDelay = 10 * time.Millisecond

// Store is the exclusive owner of the persisted record collection.
type Store struct {
	backend Backend
	mu      sync.Mutex
	lock    *flock.Flock
}

// Option configures a Store.
type Option func(*Store)

// WithLockFile serializes writes with every other Store, in this process
// or another, that uses the same lock path.
func WithLockFile(path string) Option {
	return func(s *Store) {
		s.lock = flock.New(path)
	}
}

// New creates a Store over the given backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns all records, most recently created first.
func (s *Store) List(ctx context.Context) ([]models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Load(ctx)
}

// Get returns a fresh copy of a single record.
func (s *Store) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, ErrSessionNotFound
}

// Upsert replaces the record with the same id, or prepends it if absent.
func (s *Store) Upsert(ctx context.Context, rec models.SessionRecord) error {
	return s.update(ctx, func(records []models.SessionRecord) ([]models.SessionRecord, bool) {
		for i := range records {
			if records[i].ID == rec.ID {
				records[i] = rec
				return records, true
			}
		}
		return append([]models.SessionRecord{rec}, records...), true
	})
}

// Patch merges p into the record with the given id. It reports false and
// leaves the collection untouched when the id is absent.
func (s *Store) Patch(ctx context.Context, id string, p Patch) (bool, error) {
	applied := false
	err := s.update(ctx, func(records []models.SessionRecord) ([]models.SessionRecord, bool) {
		for i := range records {
			if records[i].ID == id {
				p.apply(&records[i])
				applied = true
				return records, true
			}
		}
		return records, false
	})
	return applied, err
}

// Remove deletes the record with the given id. Removing an absent id is not an error.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.update(ctx, func(records []models.SessionRecord) ([]models.SessionRecord, bool) {
		for i := range records {
			if records[i].ID == id {
				return append(records[:i], records[i+1:]...), true
			}
		}
		return records, false
	})
}

// PendingOrFailed returns the records waiting for an upload pass, in
// collection order.
func (s *Store) PendingOrFailed(ctx context.Context) ([]models.SessionRecord, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var queued []models.SessionRecord
	for _, r := range records {
		if r.State.Queued() {
			queued = append(queued, r)
		}
	}
	return queued, nil
}

// Replace overwrites the whole collection.
func (s *Store) Replace(ctx context.Context, records []models.SessionRecord) error {
	return s.update(ctx, func([]models.SessionRecord) ([]models.SessionRecord, bool) {
		return records, true
	})
}

// EvictUploaded keeps the newest keep uploaded records and removes the rest,
// returning the evicted records so their artifacts can be reclaimed.
func (s *Store) EvictUploaded(ctx context.Context, keep int) ([]models.SessionRecord, error) {
	var evicted []models.SessionRecord
	err := s.update(ctx, func(records []models.SessionRecord) ([]models.SessionRecord, bool) {
		uploaded := 0
		kept := records[:0:0]
		for _, r := range records {
			if r.State == models.StateUploaded {
				uploaded++
				if uploaded > keep {
					evicted = append(evicted, r)
					continue
				}
			}
			kept = append(kept, r)
		}
		return kept, len(evicted) > 0
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

// update runs fn over the current collection under the store lock and saves
// the result when fn reports a change.
func (s *Store) update(ctx context.Context, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return fmt.Errorf("locking %s: %w", s.lock.Path(), err)
		}
		if !ok {
			return fmt.Errorf("locking %s: %w", s.lock.Path(), ctx.Err())
		}
		defer s.lock.Unlock()
	}

	if u, ok := s.backend.(Updater); ok {
		return u.Update(ctx, fn)
	}

	records, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}
	updated, changed := fn(records)
	if !changed {
		return nil
	}
	if err := s.backend.Save(ctx, updated); err != nil {
		return fmt.Errorf("saving records: %w", err)
	}
	return nil
}
