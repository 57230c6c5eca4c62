package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/stine-notifier/stine/pkg/cache"
	"github.com/stine-notifier/stine/pkg/changes"
	"github.com/stine-notifier/stine/pkg/entity"
)

const (
	dialectSQLite = "sqlite3"

	tableCache   = "cache_entries"
	tableChanges = "entity_changes"

	colID         = "id"
	colRunID      = "run_id"
	colOccurredAt = "occurred_at"
	colKind       = "kind"
	colEntityID   = "entity_id"
	colLanguage   = "language"
	colChangeType = "change_type"
	colField      = "field"
	colOldValue   = "old_value"
	colNewValue   = "new_value"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
  kind           TEXT NOT NULL,
  entity_id      TEXT NOT NULL,
  language       TEXT NOT NULL,
  schema_version INTEGER NOT NULL,
  level          INTEGER NOT NULL,
  fields         TEXT NOT NULL,
  fetched_at     INTEGER NOT NULL,
  PRIMARY KEY (kind, entity_id, language)
);
CREATE TABLE IF NOT EXISTS entity_changes (
  id          INTEGER PRIMARY KEY,
  run_id      TEXT NOT NULL,
  occurred_at INTEGER NOT NULL,
  kind        TEXT NOT NULL,
  entity_id   TEXT NOT NULL,
  language    TEXT NOT NULL,
  change_type TEXT NOT NULL CHECK (change_type IN ('added','removed','field_changed')),
  field       TEXT NOT NULL DEFAULT '',
  old_value   TEXT NOT NULL DEFAULT '',
  new_value   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_changes_time ON entity_changes(occurred_at);
CREATE INDEX IF NOT EXISTS idx_changes_kind ON entity_changes(kind, language, occurred_at);
`

// DB is the SQLite state database: the entity cache and the change log.
type DB struct {
	sql     *sqlx.DB
	dialect goqu.DialectWrapper
	path    string
}

func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{sql: db, dialect: goqu.Dialect(dialectSQLite), path: path}, nil
}

func (d *DB) Path() string { return d.path }

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Load implements cache.Store.
func (d *DB) Load(ctx context.Context, key entity.Key) (cache.Entry, error) {
	var row cacheRow
	err := d.sql.GetContext(ctx, &row,
		`SELECT schema_version, level, fields, fetched_at FROM cache_entries WHERE kind = ? AND entity_id = ? AND language = ?`,
		string(key.Kind), key.ID, string(key.Language))
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, fmt.Errorf("%s: %w", key, cache.ErrNotFound)
	}
	if err != nil {
		return cache.Entry{}, err
	}
	return cache.CheckEntry(key, row.SchemaVersion, row.Level, []byte(row.Fields), time.UnixMilli(row.FetchedAt).UTC())
}

// Save implements cache.Store. The upsert is a single statement, so a
// crash leaves either the old or the new row.
func (d *DB) Save(ctx context.Context, e cache.Entry) error {
	k := e.Value.Key
	fields := e.Value.Fields
	if len(fields) == 0 {
		fields = entity.NewFields()
	}
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO cache_entries(kind, entity_id, language, schema_version, level, fields, fetched_at)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(kind, entity_id, language) DO UPDATE SET
  schema_version = excluded.schema_version,
  level = excluded.level,
  fields = excluded.fields,
  fetched_at = excluded.fetched_at`,
		string(k.Kind), k.ID, string(k.Language), cache.SchemaVersion, int(e.Value.Level), string(fields), e.FetchedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save %s: %w", k, err)
	}
	return nil
}

// Delete implements cache.Store.
func (d *DB) Delete(ctx context.Context, key entity.Key) error {
	_, err := d.sql.ExecContext(ctx, `DELETE FROM cache_entries WHERE kind = ? AND entity_id = ? AND language = ?`,
		string(key.Kind), key.ID, string(key.Language))
	return err
}

// DeleteKind drops every cached entry of a kind and language.
func (d *DB) DeleteKind(ctx context.Context, kind entity.Kind, lang entity.Language) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM cache_entries WHERE kind = ? AND language = ?`, string(kind), string(lang))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListKeys returns the cached keys of a kind and language ordered by id.
func (d *DB) ListKeys(ctx context.Context, kind entity.Kind, lang entity.Language) ([]entity.Key, error) {
	var ids []string
	if err := d.sql.SelectContext(ctx, &ids,
		`SELECT entity_id FROM cache_entries WHERE kind = ? AND language = ? ORDER BY entity_id`,
		string(kind), string(lang)); err != nil {
		return nil, err
	}
	keys := make([]entity.Key, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, entity.Key{Kind: kind, ID: id, Language: lang})
	}
	return keys, nil
}

// RecordChanges appends events to the change log in one transaction.
func (d *DB) RecordChanges(ctx context.Context, events []changes.Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	rows := make([]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, goqu.Record{
			colRunID:      e.RunID,
			colOccurredAt: e.OccurredAt.UnixMilli(),
			colKind:       string(e.Key.Kind),
			colEntityID:   e.Key.ID,
			colLanguage:   string(e.Key.Language),
			colChangeType: string(e.Type),
			colField:      e.Field,
			colOldValue:   e.Old,
			colNewValue:   e.New,
		})
	}
	q, args, err := d.dialect.Insert(tableChanges).Rows(rows...).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build change insert: %w", err)
	}

	tx, err := d.sql.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("record changes: %w", err)
	}
	return tx.Commit()
}

// ListRecentChanges returns change log rows matching f, newest first.
func (d *DB) ListRecentChanges(ctx context.Context, f ChangeFilter) ([]Change, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	ds := d.dialect.From(tableChanges).
		Select(colID, colRunID, colOccurredAt, colKind, colEntityID, colLanguage, colChangeType, colField, colOldValue, colNewValue).
		Order(goqu.C(colOccurredAt).Desc(), goqu.C(colID).Asc()).
		Limit(uint(limit))
	if f.Kind != "" {
		ds = ds.Where(goqu.C(colKind).Eq(f.Kind))
	}
	if f.Language != "" {
		ds = ds.Where(goqu.C(colLanguage).Eq(f.Language))
	}
	if f.RunID != "" {
		ds = ds.Where(goqu.C(colRunID).Eq(f.RunID))
	}
	if !f.Since.IsZero() {
		ds = ds.Where(goqu.C(colOccurredAt).Gte(f.Since.UnixMilli()))
	}
	q, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build change query: %w", err)
	}

	out := []Change{}
	if err := d.sql.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].OccurredAt = time.UnixMilli(out[i].OccurredAtMs).UTC()
	}
	return out, nil
}

// GetStats counts cached entries per kind, language and level, plus the
// logged changes of each kind.
func (d *DB) GetStats(ctx context.Context) ([]KindStats, error) {
	var rows []struct {
		Kind     string `db:"kind"`
		Language string `db:"language"`
		Level    int    `db:"level"`
		N        int    `db:"n"`
	}
	if err := d.sql.SelectContext(ctx, &rows, `
		SELECT kind, language, level, COUNT(*) AS n
		FROM cache_entries
		GROUP BY kind, language, level
		ORDER BY kind, language`); err != nil {
		return nil, err
	}

	var changeRows []struct {
		Kind     string `db:"kind"`
		Language string `db:"language"`
		N        int    `db:"n"`
	}
	if err := d.sql.SelectContext(ctx, &changeRows, `
		SELECT kind, language, COUNT(*) AS n
		FROM entity_changes
		GROUP BY kind, language`); err != nil {
		return nil, err
	}

	var stats []KindStats
	index := map[string]int{}
	slot := func(kind, lang string) *KindStats {
		k := kind + "/" + lang
		i, ok := index[k]
		if !ok {
			stats = append(stats, KindStats{Kind: kind, Language: lang})
			i = len(stats) - 1
			index[k] = i
		}
		return &stats[i]
	}
	for _, r := range rows {
		s := slot(r.Kind, r.Language)
		switch entity.Level(r.Level) {
		case entity.LevelSummary:
			s.Summary += r.N
		case entity.LevelDetailed:
			s.Detailed += r.N
		case entity.LevelFull:
			s.Full += r.N
		}
	}
	for _, r := range changeRows {
		slot(r.Kind, r.Language).Changes += r.N
	}
	return stats, nil
}
