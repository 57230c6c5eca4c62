package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/stine-notifier/stine/pkg/entity"
)

// MemoryStore keeps encoded records in a map. Records go through the same
// encoding as the persistent backends so corruption handling is exercised.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[entity.Key][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[entity.Key][]byte)}
}

func (m *MemoryStore) Load(ctx context.Context, key entity.Key) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.RLock()
	b, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return decodeRecord(key, b)
}

func (m *MemoryStore) Save(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encodeRecord(e)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[e.Value.Key] = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key entity.Key) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// PutRaw stores raw bytes under key, bypassing encoding.
func (m *MemoryStore) PutRaw(key entity.Key, b []byte) {
	m.mu.Lock()
	m.records[key] = append([]byte(nil), b...)
	m.mu.Unlock()
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
