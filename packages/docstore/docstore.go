// Package docstore persists serialized workbook documents keyed by
// document id.
package docstore

import (
	"context"
	"sync"

	"github.com/Cube-Core-Pro/sheet-engine/packages/spreadsheet"
)

// Store is the persistence boundary for workbook documents.
type Store interface {
	// Load returns the serialized document, or a NotFound AppError.
	Load(ctx context.Context, id string) ([]byte, error)
	// Save writes the serialized document.
	Save(ctx context.Context, id string, content []byte) error
	// Delete removes the document. deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore is a map-backed Store for tests and ephemeral use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (m *MemoryStore) Load(ctx context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.docs[id]
	if !ok {
		return nil, spreadsheet.NewApplicationError(spreadsheet.NotFound, "document "+id+" not found")
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (m *MemoryStore) Save(ctx context.Context, id string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(content))
	copy(stored, content)
	m.docs[id] = stored
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
