package actionlog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DB is the SQLite-backed journal of everything the agent did: one row per
// visit outcome, a dedup set of content already replied to, and named
// cursors for polling collaborators. It is bookkeeping, not the ledger: the
// engagement history of record stays in the CSV ledger.
type DB struct{ sql *sql.DB }

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS actions (
	  id TEXT PRIMARY KEY,
	  ts INTEGER NOT NULL,
	  type TEXT NOT NULL,
	  account TEXT NOT NULL,
	  ref TEXT,
	  note TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_actions_ts ON actions(ts);
	CREATE INDEX IF NOT EXISTS idx_actions_type_ts ON actions(type, ts);
	CREATE TABLE IF NOT EXISTS replied (
	  uri TEXT PRIMARY KEY,
	  ts INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS cursors (
	  key TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`)
	return err
}

// Action is one journaled event.
type Action struct {
	ID      string
	TS      time.Time
	Type    string
	Account string
	Ref     string
	Note    string
}

// Record journals an action with a fresh id.
func (d *DB) Record(ctx context.Context, ts time.Time, typ, account, ref, note string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO actions(id, ts, type, account, ref, note) VALUES(?,?,?,?,?,?)`,
		uuid.NewString(), ts.Unix(), typ, account, ref, note)
	return err
}

// CountWithin returns how many actions of a type fall in [start, end).
func (d *DB) CountWithin(ctx context.Context, start, end time.Time, typ string) (int, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM actions WHERE type=? AND ts>=? AND ts<?`,
		typ, start.Unix(), end.Unix())
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Range returns actions in [start, end), oldest first; typ filters when
// non-empty.
func (d *DB) Range(ctx context.Context, start, end time.Time, typ string) ([]Action, error) {
	var rows *sql.Rows
	var err error
	if typ == "" {
		rows, err = d.sql.QueryContext(ctx,
			`SELECT id, ts, type, account, COALESCE(ref,''), COALESCE(note,'') FROM actions WHERE ts>=? AND ts<? ORDER BY ts`,
			start.Unix(), end.Unix())
	} else {
		rows, err = d.sql.QueryContext(ctx,
			`SELECT id, ts, type, account, COALESCE(ref,''), COALESCE(note,'') FROM actions WHERE ts>=? AND ts<? AND type=? ORDER BY ts`,
			start.Unix(), end.Unix(), typ)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Action
	for rows.Next() {
		var a Action
		var ts int64
		if err := rows.Scan(&a.ID, &ts, &a.Type, &a.Account, &a.Ref, &a.Note); err != nil {
			return nil, err
		}
		a.TS = time.Unix(ts, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkReplied records a content URI as replied-to. Idempotent.
func (d *DB) MarkReplied(ctx context.Context, uri string, ts time.Time) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO replied(uri, ts) VALUES(?,?) ON CONFLICT(uri) DO NOTHING`,
		uri, ts.Unix())
	return err
}

// HasReplied reports whether a content URI was already replied to.
func (d *DB) HasReplied(ctx context.Context, uri string) (bool, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT 1 FROM replied WHERE uri=?`, uri)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SaveCursor stores a named cursor for simple polling collaborators.
func (d *DB) SaveCursor(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO cursors(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

// LoadCursor returns a named cursor value, or "" when unset.
func (d *DB) LoadCursor(ctx context.Context, key string) (string, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT value FROM cursors WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}
