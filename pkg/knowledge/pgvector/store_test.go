package pgvector_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge/pgvector"
	embmock "github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/embeddings/mock"
)

// testDSN skips the test unless INTAKE_TEST_POSTGRES_DSN is set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("INTAKE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INTAKE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *pgvector.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS knowledge_chunks CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	s, err := pgvector.NewStore(ctx, dsn, &embmock.Provider{DimensionsValue: 8, ModelIDValue: "mock-embed"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestIngestAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := []pgvector.Chunk{
		{ID: "timings", Title: "Timings", Content: "We are open Monday to Saturday, 9am to 7pm.", Tags: []string{"timings"}},
		{ID: "fees", Title: "Fees", Content: "A consultation costs 2000 rupees."},
	}
	if err := s.Ingest(ctx, "demo_clinic", chunks); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// Re-ingesting the same IDs upserts.
	if err := s.Ingest(ctx, "demo_clinic", chunks); err != nil {
		t.Fatalf("Ingest again: %v", err)
	}

	resp, err := s.Query(ctx, "demo_clinic", "Timings\nWe are open Monday to Saturday, 9am to 7pm.", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Count != 1 || resp.Results[0].ID != "timings" {
		t.Fatalf("Query = %+v, want the timings chunk first", resp)
	}
	if resp.Results[0].Score < 0.99 {
		t.Errorf("score = %v, want ~1 for identical text", resp.Results[0].Score)
	}

	other, err := s.Query(ctx, "other_clinic", "fees", 5)
	if err != nil || other.Count != 0 {
		t.Errorf("other tenant = %+v, %v; want empty", other, err)
	}

	n, err := s.Clear(ctx, "demo_clinic")
	if err != nil || n != 2 {
		t.Errorf("Clear = %d, %v; want 2", n, err)
	}
}
