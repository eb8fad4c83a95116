package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc receives the previous and the new config together with what
// changed between them.
type ChangeFunc func(old, next *Config, d ConfigDiff)

// Watcher polls the config file and the prompt script it references
// (dialogue.script_path). When either changes and the config still
// validates, the callback runs with the new config. An edit to the script
// alone is reported as [ConfigDiff.ScriptChanged].
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	loadOpts []LoadOption

	mu      sync.Mutex
	current *Config
	config  fileStamp
	script  fileStamp

	done     chan struct{}
	stopOnce sync.Once
}

// fileStamp identifies one version of a watched file. The zero value stands
// for "no file".
type fileStamp struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLoadOptions passes opts to every reload. Pass [WithEnv] so environment
// overrides keep applying; without it a reload sees the bare file.
func WithLoadOptions(opts ...LoadOption) WatcherOption {
	return func(w *Watcher) { w.loadOpts = append(w.loadOpts, opts...) }
}

// NewWatcher loads the config at path and starts polling it in the
// background. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	script, err := stampFile(cfg.Dialogue.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.config, w.script = cfg, stamp, script

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads when the config file or the script changed on disk. Touches
// that leave the content unchanged only refresh the recorded mtimes.
func (w *Watcher) check() {
	w.mu.Lock()
	prev, prevCfg, prevScript := w.current, w.config, w.script
	w.mu.Unlock()

	if !modified(w.path, prevCfg.mtime) && !modified(prev.Dialogue.ScriptPath, prevScript.mtime) {
		return
	}

	cfg, stamp, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping current config", "path", w.path, "err", err)
		return
	}
	script, err := stampFile(cfg.Dialogue.ScriptPath)
	if err != nil {
		slog.Warn("config watcher: keeping current config", "script", cfg.Dialogue.ScriptPath, "err", err)
		return
	}

	w.mu.Lock()
	w.config, w.script = stamp, script
	if stamp.sum == prevCfg.sum && script.sum == prevScript.sum {
		w.mu.Unlock()
		return
	}
	w.current = cfg
	w.mu.Unlock()

	d := Diff(prev, cfg)
	if script.sum != prevScript.sum {
		d.ScriptChanged = true
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path,
		"log_level", d.LogLevelChanged, "script", d.ScriptChanged, "rag", d.RAGChanged, "validation", d.ValidationChanged)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(prev, cfg, d)
	}
}

// load reads, validates and stamps the config file.
func (w *Watcher) load() (*Config, fileStamp, error) {
	stamp, data, err := readStamped(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data), w.loadOpts...)
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, stamp, nil
}

// stampFile stamps the script at path. An empty path yields the zero stamp.
func stampFile(path string) (fileStamp, error) {
	if path == "" {
		return fileStamp{}, nil
	}
	stamp, _, err := readStamped(path)
	return stamp, err
}

func readStamped(path string) (fileStamp, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileStamp{}, nil, err
	}
	return fileStamp{mtime: info.ModTime(), sum: sha256.Sum256(data)}, data, nil
}

// modified reports whether the file at path has an mtime other than last.
// A file that disappeared counts as modified so the reload reports it.
func modified(path string, last time.Time) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", path, "err", err)
		return false
	}
	return !info.ModTime().Equal(last)
}
