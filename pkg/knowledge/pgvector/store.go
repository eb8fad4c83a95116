// Package pgvector implements knowledge.Querier as cosine-similarity search
// over a PostgreSQL knowledge_chunks table with a pgvector HNSW index.
//
// Chunks are loaded with [Store.Ingest], which embeds their text with the
// configured embeddings provider. Queries are embedded with the same provider,
// so the vector dimension is fixed when the table is first migrated.
//
//	store, err := pgvector.NewStore(ctx, dsn, embedder)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Ingest(ctx, "demo_clinic", []pgvector.Chunk{{Title: "Timings", Content: "…"}})
//	resp, _ := store.Query(ctx, "demo_clinic", "when do you open?", 5)
package pgvector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/embeddings"
)

var _ knowledge.Querier = (*Store)(nil)

// Chunk is one unit of clinic knowledge to ingest. An empty ID is assigned a
// random UUID.
type Chunk struct {
	ID      string
	Title   string
	Content string
	Tags    []string
}

// Store is safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewStore connects to dsn, registers pgvector types on every connection and
// runs [Migrate] with the embedder's dimension.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("knowledge pgvector: embeddings provider is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge pgvector: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge pgvector: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge pgvector: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge pgvector: migrate: %w", err)
	}
	return &Store{pool: pool, embedder: embedder}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Ingest embeds and upserts chunks for tenantID in one transaction.
func (s *Store) Ingest(ctx context.Context, tenantID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Title + "\n" + c.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("knowledge pgvector: embed: %w", err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("knowledge pgvector: embed: got %d vectors for %d chunks", len(vecs), len(chunks))
	}

	const q = `
		INSERT INTO knowledge_chunks (id, tenant_id, title, content, tags, embedding, model_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    tenant_id  = EXCLUDED.tenant_id,
		    title      = EXCLUDED.title,
		    content    = EXCLUDED.content,
		    tags       = EXCLUDED.tags,
		    embedding  = EXCLUDED.embedding,
		    model_id   = EXCLUDED.model_id,
		    updated_at = now()`

	batch := &pgx.Batch{}
	for i, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		tags := c.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(q, id, tenantID, c.Title, c.Content, tags, pgv.NewVector(vecs[i]), s.embedder.ModelID())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("knowledge pgvector: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("knowledge pgvector: ingest: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("knowledge pgvector: commit: %w", err)
	}
	return nil
}

// Clear deletes every chunk for tenantID and returns how many were removed.
func (s *Store) Clear(ctx context.Context, tenantID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM knowledge_chunks WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("knowledge pgvector: clear: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Query implements knowledge.Querier. Results are ordered most similar first
// and Score is 1 minus the cosine distance.
func (s *Store) Query(ctx context.Context, tenantID, text string, topK int) (*knowledge.Response, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("knowledge pgvector: embed query: %w", err)
	}

	const q = `
		SELECT id, title, content, tags, embedding <=> $1 AS distance
		FROM   knowledge_chunks
		WHERE  tenant_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgv.NewVector(vec), tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge pgvector: query: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.Result, error) {
		var (
			r        knowledge.Result
			distance float64
		)
		if err := row.Scan(&r.ID, &r.Title, &r.Content, &r.Tags, &distance); err != nil {
			return knowledge.Result{}, err
		}
		r.Score = 1 - distance
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge pgvector: scan rows: %w", err)
	}
	return knowledge.NewResponse(text, results), nil
}
