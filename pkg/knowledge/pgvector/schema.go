package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl returns the schema with the embedding dimension baked into the column
// type. Changing the dimension later needs a manual migration.
func ddl(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS knowledge_chunks (
    id          TEXT         PRIMARY KEY,
    tenant_id   TEXT         NOT NULL,
    title       TEXT         NOT NULL DEFAULT '',
    content     TEXT         NOT NULL,
    tags        TEXT[]       NOT NULL DEFAULT '{}',
    embedding   vector(%d)   NOT NULL,
    model_id    TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_tenant
    ON knowledge_chunks (tenant_id);

CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_embedding
    ON knowledge_chunks USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Migrate creates the knowledge_chunks table and indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("knowledge pgvector: migrate: invalid dimension %d", dimensions)
	}
	if _, err := pool.Exec(ctx, ddl(dimensions)); err != nil {
		return fmt.Errorf("knowledge pgvector: migrate: %w", err)
	}
	return nil
}
