// Package outbox records session-store writes that could not be delivered so
// they can be reconciled later.
//
// Calls never block on the session store: when a save or transcript append
// fails after the adapter's own retries, the write lands here in a local
// SQLite file. [Outbox.Replay] re-applies pending writes, oldest first, to any
// sessionstore.Store and removes the ones that succeed. Only the newest
// parked save of a field is replayed, and [Outbox.Supersede] drops parked
// saves once a later save of the field reached the store.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore"
)

// Op names a store operation.
type Op string

const (
	OpSaveAnswer       Op = "save_answer"
	OpAppendTranscript Op = "append_transcript"
	OpFinalize         Op = "finalize"
)

// Write is one failed store call.
type Write struct {
	ID        int64
	SessionID string
	Op        Op

	// Field is set for OpSaveAnswer.
	Field string

	// Value is the answer for OpSaveAnswer or the line for OpAppendTranscript.
	Value any

	Attempts  int
	LastError string
	CreatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS failed_writes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT    NOT NULL,
	op          TEXT    NOT NULL,
	field       TEXT    NOT NULL DEFAULT '',
	value_json  TEXT    NOT NULL DEFAULT 'null',
	attempts    INTEGER NOT NULL DEFAULT 1,
	last_error  TEXT    NOT NULL DEFAULT '',
	created_at  TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failed_writes_field ON failed_writes(session_id, field)`

// Outbox is a SQLite-backed failed-write log. Safe for concurrent use.
type Outbox struct {
	db *sql.DB
}

// Open opens or creates the outbox at path.
func Open(path string) (*Outbox, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("outbox: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("outbox: open %q: %w", path, err)
	}
	// One writer at a time; SQLite serialises anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("outbox: migrate: %w", err)
	}
	return &Outbox{db: db}, nil
}

// Close closes the database.
func (o *Outbox) Close() error { return o.db.Close() }

// Record stores w. Its ID, Attempts and CreatedAt are assigned here.
func (o *Outbox) Record(ctx context.Context, w Write, cause error) error {
	val, err := json.Marshal(w.Value)
	if err != nil {
		return fmt.Errorf("outbox: record: encode value: %w", err)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err = o.db.ExecContext(ctx,
		`INSERT INTO failed_writes (session_id, op, field, value_json, last_error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		w.SessionID, string(w.Op), w.Field, string(val), msg, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("outbox: record: %w", err)
	}
	return nil
}

// Pending returns up to limit writes, oldest first. limit <= 0 returns all.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Write, error) {
	q := `SELECT id, session_id, op, field, value_json, attempts, last_error, created_at FROM failed_writes ORDER BY id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := o.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox: pending: %w", err)
	}
	defer rows.Close()

	var out []Write
	for rows.Next() {
		var (
			w         Write
			op, val   string
			createdAt string
		)
		if err := rows.Scan(&w.ID, &w.SessionID, &op, &w.Field, &val, &w.Attempts, &w.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("outbox: pending: scan: %w", err)
		}
		w.Op = Op(op)
		if err := json.Unmarshal([]byte(val), &w.Value); err != nil {
			return nil, fmt.Errorf("outbox: pending: decode value %d: %w", w.ID, err)
		}
		w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: pending: %w", err)
	}
	return out, nil
}

// Supersede removes the parked saves of field for sessionID.
func (o *Outbox) Supersede(ctx context.Context, sessionID, field string) error {
	_, err := o.db.ExecContext(ctx,
		`DELETE FROM failed_writes WHERE session_id = ? AND op = ? AND field = ?`,
		sessionID, string(OpSaveAnswer), field)
	if err != nil {
		return fmt.Errorf("outbox: supersede %s/%s: %w", sessionID, field, err)
	}
	return nil
}

// Replay applies pending writes to store in order. A save with a newer save
// of the same field behind it is dropped unapplied. Writes that succeed are
// removed; writes that fail stay with their attempt count bumped. Writes for
// sessions the store does not know are dropped. A row superseded while the
// replay runs is skipped. It returns the number applied and the failures
// joined.
func (o *Outbox) Replay(ctx context.Context, store sessionstore.Store) (int, error) {
	pending, err := o.Pending(ctx, 0)
	if err != nil {
		return 0, err
	}

	type fieldKey struct{ session, field string }
	newest := make(map[fieldKey]int64)
	for _, w := range pending {
		if w.Op == OpSaveAnswer {
			newest[fieldKey{w.SessionID, w.Field}] = w.ID
		}
	}

	var (
		applied int
		errs    []error
	)
	for _, w := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if w.Op == OpSaveAnswer {
			if newest[fieldKey{w.SessionID, w.Field}] != w.ID {
				if err := o.remove(ctx, w.ID); err != nil {
					errs = append(errs, err)
				}
				continue
			}
			live, err := o.exists(ctx, w.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !live {
				continue
			}
		}
		err := apply(ctx, store, w)
		switch {
		case err == nil:
			applied++
			err = o.remove(ctx, w.ID)
		case errors.Is(err, sessionstore.ErrNotFound):
			err = o.remove(ctx, w.ID)
		default:
			err = errors.Join(fmt.Errorf("outbox: replay %d: %w", w.ID, err), o.bump(ctx, w.ID, err))
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return applied, errors.Join(errs...)
}

func apply(ctx context.Context, store sessionstore.Store, w Write) error {
	switch w.Op {
	case OpSaveAnswer:
		return store.SaveAnswer(ctx, w.SessionID, w.Field, w.Value)
	case OpAppendTranscript:
		line, _ := w.Value.(string)
		return store.AppendTranscript(ctx, w.SessionID, line)
	case OpFinalize:
		return store.FinalizeSession(ctx, w.SessionID)
	}
	return fmt.Errorf("unknown op %q", w.Op)
}

func (o *Outbox) exists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_writes WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("outbox: lookup %d: %w", id, err)
	}
	return n > 0, nil
}

func (o *Outbox) remove(ctx context.Context, id int64) error {
	if _, err := o.db.ExecContext(ctx, `DELETE FROM failed_writes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("outbox: remove %d: %w", id, err)
	}
	return nil
}

func (o *Outbox) bump(ctx context.Context, id int64, cause error) error {
	if _, err := o.db.ExecContext(ctx,
		`UPDATE failed_writes SET attempts = attempts + 1, last_error = ? WHERE id = ?`, cause.Error(), id); err != nil {
		return fmt.Errorf("outbox: bump %d: %w", id, err)
	}
	return nil
}
