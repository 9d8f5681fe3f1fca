// Package history keeps an audit trail of loop events in SQLite. It is never
// read back into control state.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"modbus-pump-control/internal/control"
	"modbus-pump-control/internal/level"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	ts                 TEXT    NOT NULL,
	loop_state         TEXT    NOT NULL,
	action             TEXT    NOT NULL,
	mode               TEXT    NOT NULL,
	reading            TEXT    NOT NULL DEFAULT '',
	level_m            REAL    NOT NULL DEFAULT 0,
	tank               TEXT    NOT NULL DEFAULT '',
	command            TEXT    NOT NULL DEFAULT '',
	written            INTEGER NOT NULL DEFAULT 0,
	pump               TEXT    NOT NULL,
	consecutive_errors INTEGER NOT NULL DEFAULT 0,
	connected          INTEGER NOT NULL DEFAULT 0,
	next_state         TEXT    NOT NULL DEFAULT '',
	error_kind         TEXT    NOT NULL DEFAULT '',
	error              TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_ts ON events(ts);
`

// tsLayout is fixed width so stored timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one stored event.
type Record struct {
	ID int64 `json:"id"`
	control.Event
}

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save inserts e.
func (s *Store) Save(ctx context.Context, e control.Event) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO events (ts, loop_state, action, mode, reading, level_m, tank, command, written,
	pump, consecutive_errors, connected, next_state, error_kind, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().Format(tsLayout), string(e.State), string(e.Action), string(e.Mode),
		e.Reading, e.Level, string(e.Tank), string(e.Command), boolInt(e.Written),
		string(e.Pump), e.Health.ConsecutiveErrors, boolInt(e.Health.Connected), string(e.Next),
		e.ErrKind, e.Err)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

const selectColumns = `id, ts, loop_state, action, mode, reading, level_m, tank, command, written,
	pump, consecutive_errors, connected, next_state, error_kind, error`

// Recent returns the last n events in chronological order. n <= 0 returns all.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	q := `SELECT ` + selectColumns + ` FROM events ORDER BY id DESC`
	args := []any{}
	if n > 0 {
		q += ` LIMIT ?`
		args = append(args, n)
	}
	recs, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// Since returns events at or after t, oldest first.
func (s *Store) Since(ctx context.Context, t time.Time) ([]Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM events WHERE ts >= ? ORDER BY id`,
		t.UTC().Format(tsLayout))
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                                  Record
			ts, state, action, mode, tank, cmd string
			pump, next                         string
			written, connected                 int
		)
		if err := rows.Scan(&r.ID, &ts, &state, &action, &mode, &r.Reading, &r.Level, &tank, &cmd, &written,
			&pump, &r.Health.ConsecutiveErrors, &connected, &next, &r.ErrKind, &r.Err); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if r.Time, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("event %d: bad timestamp %q: %w", r.ID, ts, err)
		}
		r.State = control.LoopState(state)
		r.Action = control.Action(action)
		r.Mode = level.Mode(mode)
		r.Tank = level.TankState(tank)
		r.Command = level.PumpCommand(cmd)
		r.Pump = level.PumpState(pump)
		r.Next = control.LoopState(next)
		r.Written = written != 0
		r.Health.Connected = connected != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
