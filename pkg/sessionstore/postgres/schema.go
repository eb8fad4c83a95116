package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The table mirrors the one the clinic backend owns, so an agent can share a
// database with it.
const ddl = `
CREATE TABLE IF NOT EXISTS conversation_sessions (
    id              TEXT         PRIMARY KEY,
    tenant_id       TEXT         NOT NULL,
    state           TEXT         NOT NULL DEFAULT 'GREETING',
    collected_data  JSONB        NOT NULL DEFAULT '{}'::jsonb,
    transcript      TEXT         NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_sessions_tenant
    ON conversation_sessions (tenant_id);
`

// Migrate creates the conversation_sessions table. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("sessionstore postgres: migrate: %w", err)
	}
	return nil
}
