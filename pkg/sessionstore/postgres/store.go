// Package postgres implements sessionstore.Store on a PostgreSQL
// conversation_sessions table.
//
// Answers live in a JSONB column and are merged with the || operator, so
// saving a field is a single idempotent UPDATE. Transcript lines are appended
// to a text column, one per line.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore"
)

var (
	_ sessionstore.Store  = (*Store)(nil)
	_ sessionstore.Pinger = (*Store)(nil)
)

// Store is a PostgreSQL session store. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate]. maxConns
// caps the pool when positive.
func NewStore(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sessionstore postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionstore postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// CreateSession implements sessionstore.Store.
func (s *Store) CreateSession(ctx context.Context, tenantID string) (string, error) {
	if tenantID == "" {
		return "", errors.New("sessionstore postgres: create session: tenant_id required")
	}
	id := uuid.NewString()
	const q = `INSERT INTO conversation_sessions (id, tenant_id) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, q, id, tenantID); err != nil {
		return "", fmt.Errorf("sessionstore postgres: create session: %w", err)
	}
	return id, nil
}

// SaveAnswer implements sessionstore.Store.
func (s *Store) SaveAnswer(ctx context.Context, id, field string, value any) error {
	patch, err := json.Marshal(map[string]any{field: value})
	if err != nil {
		return fmt.Errorf("sessionstore postgres: save answer %q: %w", field, err)
	}
	const q = `
		UPDATE conversation_sessions
		SET    collected_data = collected_data || $2::jsonb,
		       updated_at     = now()
		WHERE  id = $1`
	tag, err := s.pool.Exec(ctx, q, id, patch)
	if err != nil {
		return fmt.Errorf("sessionstore postgres: save answer %q: %w", field, err)
	}
	if tag.RowsAffected() == 0 {
		return sessionstore.ErrNotFound
	}
	return nil
}

// GetCollectedData implements sessionstore.Store.
func (s *Store) GetCollectedData(ctx context.Context, id string) (map[string]any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT collected_data FROM conversation_sessions WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sessionstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore postgres: get collected data: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("sessionstore postgres: decode collected data: %w", err)
	}
	return out, nil
}

// AppendTranscript implements sessionstore.Store.
func (s *Store) AppendTranscript(ctx context.Context, id, line string) error {
	const q = `
		UPDATE conversation_sessions
		SET    transcript = transcript || E'\n' || $2,
		       updated_at = now()
		WHERE  id = $1`
	tag, err := s.pool.Exec(ctx, q, id, line)
	if err != nil {
		return fmt.Errorf("sessionstore postgres: append transcript: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionstore.ErrNotFound
	}
	return nil
}

// FinalizeSession implements sessionstore.Store.
func (s *Store) FinalizeSession(ctx context.Context, id string) error {
	const q = `UPDATE conversation_sessions SET state = 'COMPLETED', updated_at = now() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("sessionstore postgres: finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionstore.ErrNotFound
	}
	return nil
}

// Transcript returns the session transcript lines in order.
func (s *Store) Transcript(ctx context.Context, id string) (string, error) {
	var t string
	err := s.pool.QueryRow(ctx, `SELECT transcript FROM conversation_sessions WHERE id = $1`, id).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", sessionstore.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sessionstore postgres: transcript: %w", err)
	}
	return t, nil
}

// Ping implements sessionstore.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }
