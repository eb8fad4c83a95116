package call

import (
	"context"
	"time"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/dialogue"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore/outbox"
)

var _ dialogue.Executor = (*executor)(nil)

// executor carries out dialogue effects for one call. Saves land in the
// session memory immediately and reach the store through the call's writer.
type executor struct {
	s *Session
}

// Save never reports store failures; those go to the outbox. A cancelled
// turn saves nothing, since its state will be discarded.
func (e *executor) Save(ctx context.Context, field string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.s.mem.Remember(e.s.sessionID, field, value)
	e.s.writer.enqueue(outbox.Write{SessionID: e.s.sessionID, Op: outbox.OpSaveAnswer, Field: field, Value: value})
	return nil
}

func (e *executor) QueryContext(ctx context.Context) (string, error) {
	if e.s.responder == nil {
		return "", nil
	}
	return e.s.responder.Prefetch(ctx)
}

// CollectedData reads back what the store holds. Pending saves are flushed
// first so the read-back sees them, bounded by the flush timeout.
func (e *executor) CollectedData(ctx context.Context) (map[string]any, error) {
	fctx, cancel := context.WithTimeout(ctx, e.s.flushTimeout)
	defer cancel()
	if err := e.s.writer.flush(fctx); err != nil {
		e.s.log.DebugContext(ctx, "call: flush before read-back timed out", "err", err)
	}
	return e.s.mem.Collected(ctx, e.s.sessionID)
}

func (e *executor) FirstName(ctx context.Context) string {
	return e.s.mem.FirstName(ctx, e.s.sessionID)
}

// defaultFlushTimeout bounds the wait for pending writes before a read-back.
const defaultFlushTimeout = 2 * time.Second
