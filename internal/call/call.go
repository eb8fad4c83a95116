// Package call runs intake calls. Each call is an independent actor: it owns
// its dialogue state, processes one utterance at a time and writes to the
// session store through its own ordered queue.
//
// A [Manager] starts calls, looks them up by call ID, ends them on request
// and reaps calls that went quiet. Configuration that may change at runtime
// (prompt script, RAG tuning, validation toggle) is read from [Settings]
// when a call starts; calls already running keep what they started with.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/dialogue"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/script"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/memory"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/observe"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/rag"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore/outbox"
)

var (
	// ErrCallNotFound is returned for unknown or ended call IDs.
	ErrCallNotFound = errors.New("call: not found")

	// ErrSessionClosed is returned by [Session.Handle] after the call ended.
	ErrSessionClosed = errors.New("call: session closed")
)

// Settings are the per-call dialogue settings. A call copies them at start.
type Settings struct {
	Script *script.Script

	// Checker is the model second opinion for rejected values. Nil disables
	// it.
	Checker dialogue.Checker

	// Responder answers questions once the intake is done. It is scoped to
	// the call's tenant with [rag.Responder.ForTenant]. Nil makes every
	// question get the apology.
	Responder *rag.Responder

	Language   string
	ClinicName string

	// FlushTimeout bounds the wait for pending writes before the
	// confirmation read-back. Default: 2s.
	FlushTimeout time.Duration
}

// Config holds the dependencies of a [Manager].
type Config struct {
	Store sessionstore.Store

	// Outbox receives writes the store rejected. May be nil.
	Outbox Recorder

	// Memory caches collected fields per session. Required.
	Memory *memory.Cache

	Metrics *observe.Metrics
	Logger  *slog.Logger

	// TenantID is used when Start is called without one.
	TenantID string

	// IdleTimeout ends calls without an utterance for this long. Zero
	// disables reaping.
	IdleTimeout time.Duration

	// WriteQueueSize is the per-call write queue length. Default: 64.
	WriteQueueSize int

	// DrainTimeout bounds how long End waits for queued writes. Default: 5s.
	DrainTimeout time.Duration

	Settings Settings
}

// Manager owns the live calls. Safe for concurrent use.
type Manager struct {
	cfg      Config
	log      *slog.Logger
	settings atomic.Pointer[Settings]

	mu    sync.Mutex
	calls map[string]*Session
}

// NewManager returns a Manager. Store and Memory are required.
func NewManager(cfg Config) (*Manager, error) {
	var errs []error
	if cfg.Store == nil {
		errs = append(errs, errors.New("call: store is required"))
	}
	if cfg.Memory == nil {
		errs = append(errs, errors.New("call: memory is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = 64
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	m := &Manager{cfg: cfg, log: cfg.Logger, calls: map[string]*Session{}}
	m.SetSettings(cfg.Settings)
	return m, nil
}

// SetSettings replaces the settings used by calls started from now on.
func (m *Manager) SetSettings(s Settings) {
	if s.Script == nil {
		s.Script = script.Default()
	}
	if s.FlushTimeout <= 0 {
		s.FlushTimeout = defaultFlushTimeout
	}
	m.settings.Store(&s)
}

// Settings returns the current settings.
func (m *Manager) Settings() Settings { return *m.settings.Load() }

// Start opens a call for tenantID (or the configured tenant) and returns it
// with the greeting. When the store cannot create a session the call runs on
// a local session ID and its writes go to the outbox.
func (m *Manager) Start(ctx context.Context, tenantID string) (*Session, Reply, error) {
	if tenantID == "" {
		tenantID = m.cfg.TenantID
	}
	st := m.Settings()

	local := false
	var sessionID string
	err := observe.TimeCollaborator(ctx, m.cfg.Metrics, observe.CollaboratorSessionStore, "create_session", func(ctx context.Context) error {
		var err error
		sessionID, err = m.cfg.Store.CreateSession(ctx, tenantID)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, Reply{}, fmt.Errorf("call: start: %w", ctx.Err())
		}
		sessionID, local = uuid.NewString(), true
		m.log.WarnContext(ctx, "call: session store unavailable, using local session id",
			"session_id", sessionID, "err", err)
	}

	callID := uuid.NewString()
	log := m.log.With("call_id", callID, "session_id", sessionID)
	life, cancel := context.WithCancel(context.Background())

	s := &Session{
		callID:       callID,
		sessionID:    sessionID,
		tenantID:     tenantID,
		local:        local,
		startedAt:    time.Now(),
		life:         life,
		cancel:       cancel,
		mem:          m.cfg.Memory,
		flushTimeout: st.FlushTimeout,
		drainTimeout: m.cfg.DrainTimeout,
		log:          log,
		state:        dialogue.NewState(st.Language),
	}
	if st.Responder != nil {
		s.responder = st.Responder.ForTenant(tenantID)
	}
	s.touch()
	s.writer = newWriter(m.cfg.Store, m.cfg.Outbox, m.cfg.Metrics, log, m.cfg.WriteQueueSize, func(w outbox.Write) {
		m.cfg.Memory.Acknowledge(w.SessionID, w.Field, w.Value)
	})

	var responder dialogue.Responder
	if s.responder != nil {
		responder = s.responder
	}
	s.machine = dialogue.New(&executor{s: s}, responder,
		dialogue.WithScript(st.Script),
		dialogue.WithChecker(st.Checker),
		dialogue.WithMetrics(m.cfg.Metrics),
		dialogue.WithClinicName(st.ClinicName),
		dialogue.WithLogger(log),
	)

	greet := s.machine.Greet(s.state)
	s.transcript("agent", greet.Speak)

	m.mu.Lock()
	m.calls[callID] = s
	m.mu.Unlock()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveCalls.Add(ctx, 1)
	}
	log.InfoContext(ctx, "call started", "tenant_id", tenantID, "local_session", local)

	return s, Reply{Speak: greet.Speak, Phase: s.state.Phase}, nil
}

// Get returns the live call with callID.
func (m *Manager) Get(callID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return s, nil
}

// Handle passes one utterance to the call with callID.
func (m *Manager) Handle(ctx context.Context, callID, text string) (Reply, error) {
	s, err := m.Get(callID)
	if err != nil {
		return Reply{}, err
	}
	return s.Handle(ctx, text)
}

// Len returns the number of live calls.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// End stops the call with callID: in-flight work is cancelled, queued writes
// drain and the session is finalized on a best-effort basis.
func (m *Manager) End(ctx context.Context, callID string) error {
	m.mu.Lock()
	s, ok := m.calls[callID]
	delete(m.calls, callID)
	m.mu.Unlock()
	if !ok {
		return ErrCallNotFound
	}
	s.end()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveCalls.Add(ctx, -1)
	}
	s.log.InfoContext(ctx, "call ended", "duration", time.Since(s.startedAt).Round(time.Millisecond))
	return nil
}

// Run reaps idle calls until ctx is done. It returns immediately when idle
// reaping is disabled.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	tick := time.NewTicker(max(m.cfg.IdleTimeout/4, 100*time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			m.reap(ctx, now)
		}
	}
}

func (m *Manager) reap(ctx context.Context, now time.Time) {
	var idle []string
	m.mu.Lock()
	for id, s := range m.calls {
		if now.Sub(s.lastActive()) >= m.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()
	for _, id := range idle {
		m.log.InfoContext(ctx, "call: ending idle call", "call_id", id, "idle_timeout", m.cfg.IdleTimeout)
		_ = m.End(ctx, id)
	}
}

// Close ends every live call.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Go(func() { _ = m.End(ctx, id) })
	}
	wg.Wait()
}

func metricOp(op outbox.Op) metric.AddOption {
	return metric.WithAttributes(observe.Attr("op", string(op)))
}
