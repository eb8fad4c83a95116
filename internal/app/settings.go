package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/call"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/config"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/script"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/intake/validate/llmcheck"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/rag"
)

// replayInterval is how often parked writes are retried against the store.
const replayInterval = 30 * time.Second

// buildSettings derives the per-call settings from cfg.
func (a *App) buildSettings(cfg *config.Config) (call.Settings, error) {
	scr := script.Default()
	if p := cfg.Dialogue.ScriptPath; p != "" {
		var err error
		if scr, err = script.Load(p); err != nil {
			return call.Settings{}, fmt.Errorf("app: %w", err)
		}
	}

	st := call.Settings{
		Script:       scr,
		Language:     cfg.Dialogue.Language,
		ClinicName:   cfg.Tenant.ClinicName,
		FlushTimeout: cfg.Dialogue.FlushTimeout,
	}
	if a.model != nil && cfg.Dialogue.LLMValidationEnabled() {
		st.Checker = llmcheck.New(a.model, llmcheck.WithTimeout(cfg.Dialogue.ValidatorTimeout))
	}
	if a.model != nil {
		r := cfg.RAG
		st.Responder = rag.New(a.kb, a.model,
			rag.WithTenant(cfg.Tenant.ID),
			rag.WithTopK(r.TopK, r.FallbackTopK),
			rag.WithFallbackQuery(r.FallbackQuery),
			rag.WithGeneration(r.Temperature, r.MaxTokens),
			rag.WithTimeout(r.Timeout),
			rag.WithMaxSentences(r.MaxSentences),
			rag.WithBackchannelProbability(r.BackchannelChance()),
			rag.WithMetrics(a.metrics),
		)
	}
	return st, nil
}

// Reload applies the hot-reloadable part of next as described by d. It has
// the [config.ChangeFunc] signature so it can be handed to a watcher. Calls
// already running keep the settings they started with. Everything else in
// next needs a restart and is ignored.
func (a *App) Reload(_, next *config.Config, d config.ConfigDiff) {
	if !d.Any() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(slogLevel(d.NewLogLevel))
		a.log.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.ScriptChanged || d.RAGChanged || d.ValidationChanged {
		st, err := a.buildSettings(next)
		if err != nil {
			a.log.Error("app: reload rejected, keeping current settings", "err", err)
			return
		}
		a.manager.SetSettings(st)
		a.log.Info("app: dialogue settings reloaded",
			"script", d.ScriptChanged, "rag", d.RAGChanged, "validation", d.ValidationChanged)
	}
}

// replayLoop retries parked writes until ctx is done.
func (a *App) replayLoop(ctx context.Context, every time.Duration) {
	if a.outbox == nil {
		return
	}
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := a.outbox.Replay(ctx, a.store)
			switch {
			case err != nil:
				a.log.Warn("app: outbox replay incomplete", "replayed", n, "err", err)
			case n > 0:
				a.log.Info("app: outbox replayed", "replayed", n)
			}
		}
	}
}

// slogLevel maps a config level to slog. Unknown values mean info.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SlogLevel is exported for main, which builds the handler before the App.
func SlogLevel(l config.LogLevel) slog.Level { return slogLevel(l) }
