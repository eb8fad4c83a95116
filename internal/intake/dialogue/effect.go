package dialogue

import (
	"context"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/rag"
)

// EffectKind names a side effect requested by a transition.
type EffectKind string

const (
	// EffectSave upserts Field = Value in the session store.
	EffectSave EffectKind = "save"

	// EffectQueryContext fetches general clinic knowledge on entry to Rag.
	EffectQueryContext EffectKind = "query_context"
)

// Effect is one side effect. Err is set after dispatch when the executor
// reported a failure; failures never change the spoken prompt.
type Effect struct {
	Kind  EffectKind
	Field string
	Value any
	Err   error
}

// Executor carries out effects for one session.
type Executor interface {
	// Save persists one collected field. Implementations may queue the write
	// and return before it lands.
	Save(ctx context.Context, field string, value any) error

	// QueryContext returns general knowledge text for the RAG phase.
	QueryContext(ctx context.Context) (string, error)

	// CollectedData reads back the collected fields, after any pending
	// saves have landed. On failure it may return partial data with the
	// error.
	CollectedData(ctx context.Context) (map[string]any, error)

	rag.Memory
}

// Responder answers questions in the Rag phase. *rag.Responder satisfies it.
type Responder interface {
	Answer(ctx context.Context, question string, mem rag.Memory, p *rag.Pacing) rag.Answer
}

// Checker gives a second opinion on a value the deterministic validator
// rejected. *llmcheck.Checker satisfies it.
type Checker interface {
	Check(ctx context.Context, value, field string) (plausible bool, rationale string)
}
