// Package kbfile reads clinic knowledge files and feeds them to a backend
// that can ingest chunks.
//
// Example:
//
//	tenant: demo_clinic
//	chunks:
//	  - id: hours
//	    title: "Opening hours"
//	    content: "We are open Monday to Saturday, 9am to 7pm."
//	    tags: [timings]
package kbfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge/pgvector"
)

// File is the top-level structure of a knowledge file.
type File struct {
	// Tenant is the clinic the chunks belong to. The ingest command may
	// override it.
	Tenant string  `yaml:"tenant"`
	Chunks []Chunk `yaml:"chunks"`
}

// Chunk is one entry of a knowledge file.
type Chunk struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Content string   `yaml:"content"`
	Tags    []string `yaml:"tags"`
}

// Ingester stores chunks for a tenant. *pgvector.Store implements it.
type Ingester interface {
	Ingest(ctx context.Context, tenantID string, chunks []pgvector.Chunk) error
}

// DefaultBatchSize is the number of chunks embedded and written per Ingest
// call.
const DefaultBatchSize = 64

// Load reads and validates the knowledge file at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kbfile: open %q: %w", path, err)
	}
	defer f.Close()

	kf, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("kbfile: %q: %w", path, err)
	}
	return kf, nil
}

// Parse decodes and validates a knowledge file from r. Unknown keys are
// rejected to catch typos.
func Parse(r io.Reader) (*File, error) {
	var kf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&kf); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := kf.Validate(); err != nil {
		return nil, err
	}
	return &kf, nil
}

// Validate reports every chunk without content and every duplicate ID.
func (f *File) Validate() error {
	var errs []error
	seen := make(map[string]int, len(f.Chunks))
	for i, c := range f.Chunks {
		if strings.TrimSpace(c.Content) == "" {
			errs = append(errs, fmt.Errorf("chunks[%d]: content is required", i))
		}
		if c.ID == "" {
			continue
		}
		if j, dup := seen[c.ID]; dup {
			errs = append(errs, fmt.Errorf("chunks[%d]: id %q already used by chunks[%d]", i, c.ID, j))
		}
		seen[c.ID] = i
	}
	return errors.Join(errs...)
}

// Import writes every chunk of f for tenantID in batches of batchSize (or
// [DefaultBatchSize] when non-positive). It returns the number of chunks
// written; a failed batch stops the import.
func Import(ctx context.Context, dst Ingester, tenantID string, f *File, batchSize int) (int, error) {
	if tenantID == "" {
		tenantID = f.Tenant
	}
	if tenantID == "" {
		return 0, errors.New("kbfile: tenant is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	n := 0
	for start := 0; start < len(f.Chunks); start += batchSize {
		end := min(start+batchSize, len(f.Chunks))
		batch := make([]pgvector.Chunk, 0, end-start)
		for _, c := range f.Chunks[start:end] {
			batch = append(batch, pgvector.Chunk{
				ID:      c.ID,
				Title:   strings.TrimSpace(c.Title),
				Content: strings.TrimSpace(c.Content),
				Tags:    c.Tags,
			})
		}
		if err := dst.Ingest(ctx, tenantID, batch); err != nil {
			return n, fmt.Errorf("kbfile: import chunks %d-%d: %w", start, end-1, err)
		}
		n += len(batch)
	}
	return n, nil
}
