package store

import (
	"context"
	"sync"

	"github.com/meetq/meetq/internal/models"
)

// MemoryBackend keeps the encoded collection in memory. Records round-trip
// through the same codec as the durable backends, so callers never share
// memory with the stored copy.
type MemoryBackend struct {
	mu  sync.Mutex
	doc []byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Load(ctx context.Context) ([]models.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decodeRecords(m.doc)
}

func (m *MemoryBackend) Save(ctx context.Context, records []models.SessionRecord) error {
	data, err := encodeRecords(records)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = data
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
