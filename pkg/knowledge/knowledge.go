// Package knowledge defines the clinic knowledge collaborator: ranked text
// chunks for a tenant, retrieved by free-text query and used to ground RAG
// answers.
package knowledge

import (
	"context"
	"strings"
)

// Separator joins formatted chunks in [Response.Context].
const Separator = "\n\n---\n\n"

// Result is one ranked chunk.
type Result struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`

	// Score is the similarity in [0, 1]; higher is closer.
	Score float64 `json:"score"`
}

// Response is the outcome of one query.
type Response struct {
	Query   string   `json:"query"`
	Context string   `json:"context"`
	Count   int      `json:"count"`
	Results []Result `json:"results"`
}

// Querier retrieves knowledge for a tenant. Implementations must be safe for
// concurrent use.
type Querier interface {
	// Query returns at most topK chunks relevant to text. An empty result is
	// not an error.
	Query(ctx context.Context, tenantID, text string, topK int) (*Response, error)
}

// FormatContext renders results as "[title]\ncontent" blocks joined by
// [Separator]. Chunks without a title are rendered as content only.
func FormatContext(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		content := strings.TrimSpace(r.Content)
		if content == "" {
			continue
		}
		if r.Title != "" {
			content = "[" + r.Title + "]\n" + content
		}
		parts = append(parts, content)
	}
	return strings.Join(parts, Separator)
}

// NewResponse builds a Response for query with Context and Count derived from
// results.
func NewResponse(query string, results []Result) *Response {
	if results == nil {
		results = []Result{}
	}
	return &Response{
		Query:   query,
		Context: FormatContext(results),
		Count:   len(results),
		Results: results,
	}
}
