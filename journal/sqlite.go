package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal (
  id          TEXT PRIMARY KEY,
  device_id   TEXT NOT NULL,
  kind        TEXT NOT NULL,
  from_value  TEXT NOT NULL DEFAULT '',
  to_value    TEXT NOT NULL DEFAULT '',
  reason      TEXT NOT NULL DEFAULT '',
  sequence    INTEGER NOT NULL DEFAULT 0,
  at_ms       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS journal_at ON journal(at_ms DESC);
`

// SQLiteJournal persists entries with modernc.org/sqlite.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the journal database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Append(ctx context.Context, e Entry) error {
	e = normalize(e)
	if _, err := j.db.ExecContext(ctx, `
INSERT INTO journal(id, device_id, kind, from_value, to_value, reason, sequence, at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.ID, e.DeviceID, string(e.Kind), e.From, e.To, e.Reason, int64(e.Sequence), e.At.UnixMilli(),
	); err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, device_id, kind, from_value, to_value, reason, sequence, at_ms
FROM journal
ORDER BY at_ms DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			kind string
			seq  int64
			atMs int64
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &kind, &e.From, &e.To, &e.Reason, &seq, &atMs); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.Kind = Kind(kind)
		e.Sequence = uint64(seq)
		e.At = time.UnixMilli(atMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Open returns a SQLite journal when path is set and a memory ring
// otherwise.
func Open(ctx context.Context, path string) (Journal, error) {
	if path == "" {
		return NewMemoryJournal(0), nil
	}
	return OpenSQLite(ctx, path)
}
