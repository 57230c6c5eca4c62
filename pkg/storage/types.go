package storage

import "time"

// Change is a row of the change log.
type Change struct {
	ID         int64     `db:"id"`
	RunID      string    `db:"run_id"`
	OccurredAt time.Time `db:"-"`
	Kind       string    `db:"kind"`
	EntityID   string    `db:"entity_id"`
	Language   string    `db:"language"`
	ChangeType string    `db:"change_type"` // added | removed | field_changed
	Field      string    `db:"field"`
	OldValue   string    `db:"old_value"`
	NewValue   string    `db:"new_value"`

	OccurredAtMs int64 `db:"occurred_at"`
}

// ChangeFilter selects rows of the change log. Zero fields match anything.
type ChangeFilter struct {
	Kind     string
	Language string
	RunID    string
	Since    time.Time
	Limit    int
}

// KindStats summarizes cached entries of one kind and language.
type KindStats struct {
	Kind     string
	Language string
	Summary  int
	Detailed int
	Full     int
	Changes  int
}

func (s KindStats) Total() int { return s.Summary + s.Detailed + s.Full }

type cacheRow struct {
	SchemaVersion int    `db:"schema_version"`
	Level         int    `db:"level"`
	Fields        string `db:"fields"`
	FetchedAt     int64  `db:"fetched_at"`
}
