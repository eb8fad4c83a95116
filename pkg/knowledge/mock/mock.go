// Package mock provides a test double for knowledge.Querier.
package mock

import (
	"context"
	"sync"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge"
)

// QueryCall records one invocation of Query.
type QueryCall struct {
	TenantID string
	Text     string
	TopK     int
}

// Querier is a mock implementation of knowledge.Querier.
//
// Results maps query text to the chunks returned for it; unknown queries
// return an empty response. QueryFunc, when set, overrides Results.
type Querier struct {
	mu sync.Mutex

	QueryFunc func(ctx context.Context, tenantID, text string, topK int) (*knowledge.Response, error)
	Results   map[string][]knowledge.Result
	QueryErr  error

	calls []QueryCall
}

var _ knowledge.Querier = (*Querier)(nil)

// Query implements knowledge.Querier.
func (q *Querier) Query(ctx context.Context, tenantID, text string, topK int) (*knowledge.Response, error) {
	q.mu.Lock()
	q.calls = append(q.calls, QueryCall{TenantID: tenantID, Text: text, TopK: topK})
	fn, err := q.QueryFunc, q.QueryErr
	results := q.Results[text]
	q.mu.Unlock()

	if fn != nil {
		return fn(ctx, tenantID, text, topK)
	}
	if err != nil {
		return nil, err
	}
	if len(results) > topK && topK > 0 {
		results = results[:topK]
	}
	return knowledge.NewResponse(text, results), nil
}

// Calls returns a snapshot of the recorded calls.
func (q *Querier) Calls() []QueryCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueryCall, len(q.calls))
	copy(out, q.calls)
	return out
}
