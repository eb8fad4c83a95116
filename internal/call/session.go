package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/dialogue"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/memory"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/observe"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/rag"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore/outbox"
)

// Reply is what a call says back for one utterance.
type Reply struct {
	Speak   string
	Phase   dialogue.Phase
	Outcome dialogue.Outcome
}

// Info describes a live call.
type Info struct {
	CallID    string
	SessionID string
	TenantID  string
	Phase     dialogue.Phase
	Turn      int
	StartedAt time.Time

	// Local is true when the store was down at start and the session ID was
	// generated here.
	Local bool
}

// Session is one live call.
type Session struct {
	callID    string
	sessionID string
	tenantID  string
	local     bool
	startedAt time.Time

	// life is cancelled when the call ends. Every utterance runs under it as
	// well as under its own request context.
	life   context.Context
	cancel context.CancelFunc

	machine      *dialogue.Machine
	responder    *rag.Responder
	mem          *memory.Cache
	writer       *writer
	flushTimeout time.Duration
	drainTimeout time.Duration
	log          *slog.Logger

	active atomic.Int64

	mu     sync.Mutex
	state  dialogue.State
	closed bool
}

// ID returns the call ID.
func (s *Session) ID() string { return s.callID }

// SessionID returns the store session ID.
func (s *Session) SessionID() string { return s.sessionID }

// Done is closed when the call ends.
func (s *Session) Done() <-chan struct{} { return s.life.Done() }

// Info returns a snapshot of the call. It waits for an utterance in progress.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		CallID:    s.callID,
		SessionID: s.sessionID,
		TenantID:  s.tenantID,
		Phase:     s.state.Phase,
		Turn:      s.state.TurnNumber,
		StartedAt: s.startedAt,
		Local:     s.local,
	}
}

// Handle processes one final transcript. Utterances are processed one at a
// time. The new dialogue state is kept only if neither ctx nor the call was
// cancelled while the turn ran.
func (s *Session) Handle(ctx context.Context, text string) (reply Reply, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Reply{}, ErrSessionClosed
	}

	ctx, span := observe.StartTurn(ctx, s.callID, string(s.state.Phase))
	defer func() {
		span.SetAttributes(observe.AttrOutcome.String(string(reply.Outcome)))
		observe.EndSpan(span, err)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.life, cancel)
	defer stop()

	s.touch()
	s.transcript("user", text)

	next, res := s.machine.Handle(ctx, s.state, text)
	if cerr := ctx.Err(); cerr != nil {
		s.log.InfoContext(ctx, "call: utterance abandoned", "phase", s.state.Phase, "err", cerr)
		if s.life.Err() != nil {
			return Reply{}, ErrSessionClosed
		}
		return Reply{}, fmt.Errorf("call: handle: %w", cerr)
	}
	s.state = next
	s.transcript("agent", res.Speak)
	return Reply{Speak: res.Speak, Phase: res.To, Outcome: res.Outcome}, nil
}

// end cancels in-flight work, waits for it to return, then finalizes the
// session through the writer and drains it.
func (s *Session) end() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.writer.enqueue(outbox.Write{SessionID: s.sessionID, Op: outbox.OpFinalize})
	s.writer.close(s.drainTimeout)
	s.mem.Forget(s.sessionID)
}

func (s *Session) transcript(speaker, text string) {
	if text == "" {
		return
	}
	s.writer.enqueue(outbox.Write{SessionID: s.sessionID, Op: outbox.OpAppendTranscript, Value: speaker + ": " + text})
}

func (s *Session) touch() { s.active.Store(time.Now().UnixNano()) }

func (s *Session) lastActive() time.Time { return time.Unix(0, s.active.Load()) }
