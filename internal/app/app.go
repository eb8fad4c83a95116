// Package app wires the intake agent together: session store, outbox,
// knowledge backend, model providers, the call manager and the HTTP server.
//
// New builds every subsystem from the config, Run serves until the context
// is cancelled, and Shutdown tears everything down in order. Tests inject
// doubles through the functional options (WithSessionStore, WithKnowledge,
// and so on); anything not injected is created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/call"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/config"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/health"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/memory"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/observe"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/resilience"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/server"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge"
	kbhttp "github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge/httpapi"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge/pgvector"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/embeddings"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/llm"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore"
	storehttp "github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore/httpapi"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore/mock"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore/outbox"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore/postgres"
)

// Providers holds the model backends built by main from the registry. LLM
// is the primary followed by its fallbacks; an empty slice leaves the agent
// without a model (no second opinions, every question gets the apology).
type Providers struct {
	LLM      []NamedLLM
	Embedder embeddings.Provider
}

// NamedLLM is one entry of the model chain.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// App owns the lifetime of every subsystem.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	store   sessionstore.Store
	outbox  *outbox.Outbox
	kb      knowledge.Querier
	model   llm.Provider
	mem     *memory.Cache
	manager *call.Manager
	health  *health.Handler
	handler http.Handler

	// closers run in order during Shutdown.
	closers []func() error

	mu       sync.Mutex
	srv      *http.Server
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s sessionstore.Store) Option { return func(a *App) { a.store = s } }

// WithKnowledge injects a knowledge backend instead of creating one from config.
func WithKnowledge(q knowledge.Querier) Option { return func(a *App) { a.kb = q } }

// WithOutbox injects an opened outbox instead of opening cfg's path.
func WithOutbox(o *outbox.Outbox) Option { return func(a *App) { a.outbox = o } }

// WithMetrics records on m. Without it metrics come from the global meter
// provider when enabled in the config.
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *App) { a.log = l } }

// WithLevelVar lets config reloads change the log level of the handler built
// on lv.
func WithLevelVar(lv *slog.LevelVar) Option { return func(a *App) { a.level = lv } }

// New wires the application. It connects to the configured backends
// synchronously, so a bad DSN or unreachable Postgres fails here.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil && cfg.Telemetry.MetricsEnabled() {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	if err := a.initOutbox(); err != nil {
		a.closeAll()
		return nil, err
	}
	a.model = a.buildModel()
	if err := a.initKnowledge(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	if err := a.initCalls(); err != nil {
		a.closeAll()
		return nil, err
	}
	a.initHTTP()

	a.log.InfoContext(ctx, "app: ready",
		"session_store", cfg.SessionStore.Backend,
		"knowledge", cfg.Knowledge.Backend,
		"models", len(providers.LLM),
		"tenant", cfg.Tenant.ID)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.SessionStore
	switch sc.Backend {
	case config.BackendHTTP:
		c, err := storehttp.New(sc.BaseURL,
			storehttp.WithTimeout(sc.Timeout),
			storehttp.WithRetry(sc.Retries, sc.RetryBackoff))
		if err != nil {
			return fmt.Errorf("app: session store: %w", err)
		}
		a.store = c
	case config.BackendPostgres:
		s, err := postgres.NewStore(ctx, sc.PostgresDSN, sc.MaxConns)
		if err != nil {
			return fmt.Errorf("app: session store: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, func() error { s.Close(); return nil })
	case config.BackendMemory:
		a.log.Warn("app: using the in-memory session store; sessions are lost on restart")
		a.store = mock.New()
	default:
		return fmt.Errorf("app: unsupported session store backend %q", sc.Backend)
	}
	return nil
}

func (a *App) initOutbox() error {
	if a.outbox != nil {
		return nil
	}
	path := a.cfg.SessionStore.OutboxPath
	if path == "" {
		return nil
	}
	o, err := outbox.Open(path)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.outbox = o
	a.closers = append(a.closers, o.Close)
	return nil
}

// buildModel chains the configured models behind per-model breakers.
func (a *App) buildModel() llm.Provider {
	chain := a.providers.LLM
	if len(chain) == 0 {
		a.log.Warn("app: no LLM configured; questions will get the fallback apology")
		return nil
	}
	if len(chain) == 1 {
		return chain[0].Provider
	}
	kb := a.cfg.Knowledge.Breaker
	fb := resilience.NewLLMFallback(chain[0].Provider, chain[0].Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  kb.MaxFailures,
			ResetTimeout: kb.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				a.log.Warn("app: llm breaker state change", "provider", name, "from", from, "to", to)
			},
		},
	})
	for _, e := range chain[1:] {
		fb.AddFallback(e.Name, e.Provider)
	}
	return fb
}

func (a *App) initKnowledge(ctx context.Context) error {
	if a.kb != nil {
		return nil
	}
	kc := a.cfg.Knowledge
	switch kc.Backend {
	case config.BackendHTTP:
		cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "knowledge",
			MaxFailures:  kc.Breaker.MaxFailures,
			ResetTimeout: kc.Breaker.ResetTimeout,
		})
		c, err := kbhttp.New(kc.BaseURL, kbhttp.WithTimeout(kc.Timeout), kbhttp.WithBreaker(cb))
		if err != nil {
			return fmt.Errorf("app: knowledge: %w", err)
		}
		a.kb = c
	case config.BackendPGVector:
		if a.providers.Embedder == nil {
			return errors.New("app: knowledge: pgvector backend needs an embeddings provider")
		}
		s, err := pgvector.NewStore(ctx, kc.PostgresDSN, a.providers.Embedder)
		if err != nil {
			return fmt.Errorf("app: knowledge: %w", err)
		}
		a.kb = s
		a.closers = append(a.closers, func() error { s.Close(); return nil })
	case config.BackendNone, "":
		a.log.Info("app: no knowledge backend; answers are ungrounded")
	default:
		return fmt.Errorf("app: unsupported knowledge backend %q", kc.Backend)
	}
	return nil
}

func (a *App) initCalls() error {
	a.mem = memory.New(a.store, a.cfg.Memory.TTL, a.cfg.Memory.CleanupInterval)

	settings, err := a.buildSettings(a.cfg)
	if err != nil {
		return err
	}
	var rec call.Recorder
	if a.outbox != nil {
		rec = a.outbox
	}
	m, err := call.NewManager(call.Config{
		Store:          a.store,
		Outbox:         rec,
		Memory:         a.mem,
		Metrics:        a.metrics,
		Logger:         a.log,
		TenantID:       a.cfg.Tenant.ID,
		IdleTimeout:    a.cfg.Server.SessionIdleTimeout,
		WriteQueueSize: a.cfg.SessionStore.WriteQueueSize,
		Settings:       settings,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.manager = m
	return nil
}

func (a *App) initHTTP() {
	var checkers []health.Checker
	if p, ok := a.store.(sessionstore.Pinger); ok {
		checkers = append(checkers, health.Checker{Name: "session_store", Check: p.Ping})
	}
	if p, ok := a.kb.(sessionstore.Pinger); ok {
		checkers = append(checkers, health.Checker{Name: "knowledge", Check: p.Ping})
	}
	a.health = health.New(checkers)

	opts := []server.Option{
		server.WithHealth(a.health),
		server.WithCORSOrigins(a.cfg.Server.CORSOrigins),
		server.WithLogger(a.log),
	}
	if a.metrics != nil {
		opts = append(opts, server.WithMetrics(a.metrics, observe.MetricsHandler()))
	}
	a.handler = server.New(a.manager, opts...)
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.handler }

// Calls returns the call manager.
func (a *App) Calls() *call.Manager { return a.manager }

// Run serves HTTP, reaps idle calls and replays the outbox until ctx is
// cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.mu.Lock()
	a.srv = srv
	a.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("app: listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		a.manager.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.replayLoop(ctx, replayInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown ends every live call, stops the HTTP server if Run is still
// serving and runs the closers. It respects the ctx deadline: closers not
// yet run when it expires are skipped and ctx's error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("app: shutting down", "calls", a.manager.Len(), "closers", len(a.closers))

		a.mu.Lock()
		srv := a.srv
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				a.log.Warn("app: http shutdown", "err", err)
			}
		}

		a.manager.Close(ctx)

		// A last replay picks up whatever the final drains parked.
		if a.outbox != nil {
			if n, err := a.outbox.Replay(ctx, a.store); n > 0 || err != nil {
				a.log.Info("app: final outbox replay", "replayed", n, "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("app: closer error", "index", i, "err", err)
			}
		}
		a.log.Info("app: shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what a failed New already opened.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
