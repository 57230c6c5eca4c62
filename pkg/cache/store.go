package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/stine-notifier/stine/pkg/entity"
)

// SchemaVersion is written with every persisted entry. Entries carrying any
// other version are reported as corrupt and refetched.
const SchemaVersion = 1

var (
	ErrNotFound = errors.New("cache entry not found")
	ErrCorrupt  = errors.New("cache entry corrupt")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is a cached value with the time it was last fetched.
type Entry struct {
	Value     entity.Value
	FetchedAt time.Time
}

// Store persists one entry per key. Save must replace the entry of its key
// atomically without touching other keys. Load returns an error wrapping
// ErrNotFound or ErrCorrupt when there is nothing usable.
type Store interface {
	Load(ctx context.Context, key entity.Key) (Entry, error)
	Save(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key entity.Key) error
}

// Record is the serialized form of an Entry used by key-value backends.
type Record struct {
	SchemaVersion int                 `json:"schema_version"`
	Key           entity.Key          `json:"key"`
	Level         int                 `json:"level"`
	Fields        jsoniter.RawMessage `json:"fields"`
	FetchedAt     time.Time           `json:"fetched_at"`
}

func RecordOf(e Entry) Record {
	fields := e.Value.Fields
	if len(fields) == 0 {
		fields = entity.NewFields()
	}
	return Record{
		SchemaVersion: SchemaVersion,
		Key:           e.Value.Key,
		Level:         int(e.Value.Level),
		Fields:        jsoniter.RawMessage(fields.Clone()),
		FetchedAt:     e.FetchedAt.UTC(),
	}
}

// Entry validates a record read back from a store.
func (r Record) Entry(key entity.Key) (Entry, error) {
	return CheckEntry(key, r.SchemaVersion, r.Level, r.Fields, r.FetchedAt)
}

// CheckEntry rebuilds an entry from persisted columns, rejecting unknown
// schema versions and payloads that do not match their level.
func CheckEntry(key entity.Key, version, level int, fields []byte, fetchedAt time.Time) (Entry, error) {
	if version != SchemaVersion {
		return Entry{}, fmt.Errorf("%w: %s has schema version %d, want %d", ErrCorrupt, key, version, SchemaVersion)
	}
	l := entity.Level(level)
	if !l.Valid() {
		return Entry{}, fmt.Errorf("%w: %s has level %d", ErrCorrupt, key, level)
	}
	f, err := entity.ParseFields(fields)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	v := entity.Value{Key: key, Level: l, Fields: f}
	if err := v.Covers(l); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return Entry{Value: v, FetchedAt: fetchedAt}, nil
}

func encodeRecord(e Entry) ([]byte, error) {
	return json.Marshal(RecordOf(e))
}

func decodeRecord(key entity.Key, b []byte) (Entry, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if r.Key != key {
		return Entry{}, fmt.Errorf("%w: record for %s stored under %s", ErrCorrupt, r.Key, key)
	}
	return r.Entry(key)
}
