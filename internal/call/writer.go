package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/observe"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore/outbox"
)

// errQueueFull is recorded in the outbox when a write could not be queued.
var errQueueFull = errors.New("call: write queue full")

// Recorder parks writes the store could not take. *outbox.Outbox implements
// it.
type Recorder interface {
	Record(ctx context.Context, w outbox.Write, cause error) error

	// Supersede drops parked saves of field for sessionID. It is called after
	// a newer save of that field reached the store.
	Supersede(ctx context.Context, sessionID, field string) error
}

// job is one queued store write, or a flush marker when done is non-nil.
type job struct {
	w    outbox.Write
	done chan struct{}
}

// writer applies a call's store writes in order on its own goroutine so a
// slow store never holds up a prompt. Writes that fail are handed to the
// recorder.
type writer struct {
	store    sessionstore.Store
	recorder Recorder
	metrics  *observe.Metrics
	log      *slog.Logger

	// saved runs after the store accepted a save.
	saved func(outbox.Write)

	queue chan job

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newWriter(store sessionstore.Store, recorder Recorder, metrics *observe.Metrics, log *slog.Logger, size int, saved func(outbox.Write)) *writer {
	w := &writer{
		store:    store,
		recorder: recorder,
		metrics:  metrics,
		log:      log,
		saved:    saved,
		queue:    make(chan job, max(size, 1)),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *writer) run() {
	defer w.wg.Done()
	for j := range w.queue {
		if j.done != nil {
			close(j.done)
			continue
		}
		w.apply(j.w)
	}
}

// apply runs on a background context: a write outlives the utterance that
// caused it.
func (w *writer) apply(wr outbox.Write) {
	ctx := context.Background()
	err := observe.TimeCollaborator(ctx, w.metrics, observe.CollaboratorSessionStore, string(wr.Op), func(ctx context.Context) error {
		switch wr.Op {
		case outbox.OpSaveAnswer:
			return w.store.SaveAnswer(ctx, wr.SessionID, wr.Field, wr.Value)
		case outbox.OpAppendTranscript:
			line, _ := wr.Value.(string)
			return w.store.AppendTranscript(ctx, wr.SessionID, line)
		case outbox.OpFinalize:
			return w.store.FinalizeSession(ctx, wr.SessionID)
		}
		return nil
	})
	switch {
	case err != nil:
		w.park(ctx, wr, err)
	case wr.Op == outbox.OpSaveAnswer:
		w.settle(ctx, wr)
	}
}

// settle runs once a save reached the store. Older parked saves of the same
// field would overwrite it on replay, so they are dropped.
func (w *writer) settle(ctx context.Context, wr outbox.Write) {
	if w.recorder != nil {
		if err := w.recorder.Supersede(ctx, wr.SessionID, wr.Field); err != nil {
			w.log.WarnContext(ctx, "call: drop superseded outbox saves", "field", wr.Field, "err", err)
		}
	}
	if w.saved != nil {
		w.saved(wr)
	}
}

func (w *writer) park(ctx context.Context, wr outbox.Write, cause error) {
	w.log.WarnContext(ctx, "call: store write failed", "op", wr.Op, "field", wr.Field, "err", cause)
	if w.recorder == nil {
		return
	}
	if err := w.recorder.Record(ctx, wr, cause); err != nil {
		w.log.ErrorContext(ctx, "call: outbox record failed, write lost", "op", wr.Op, "field", wr.Field, "err", err)
		return
	}
	if w.metrics != nil {
		w.metrics.OutboxRecords.Add(ctx, 1, metricOp(wr.Op))
	}
}

// enqueue queues wr without blocking. A full queue or a closed writer sends
// the write straight to the outbox.
func (w *writer) enqueue(wr outbox.Write) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.park(context.Background(), wr, errors.New("call: writer closed"))
		return
	}
	select {
	case w.queue <- job{w: wr}:
	default:
		w.park(context.Background(), wr, errQueueFull)
	}
}

// flush waits until every write queued before it has been applied, or ctx is
// done.
func (w *writer) flush(ctx context.Context) error {
	done := make(chan struct{})
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	select {
	case w.queue <- job{done: done}:
	case <-ctx.Done():
		w.mu.Unlock()
		return ctx.Err()
	}
	w.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting writes and waits up to timeout for the queue to
// drain. Writes still queued after that keep draining in the background.
func (w *writer) close(timeout time.Duration) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(timeout):
		w.log.Warn("call: writer drain timed out", "timeout", timeout)
	}
}
