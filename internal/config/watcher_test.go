package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
session_store:
  base_url: http://backend:8000
rag:
  fallback_query: clinic timings
`

const watcherUpdatedYAML = `
server:
  log_level: debug
session_store:
  base_url: http://backend:8000
rag:
  fallback_query: clinic services and doctors
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// bump moves path's mtime forward so the next poll sees it even on
// filesystems with coarse timestamps.
func bump(t *testing.T, path string) {
	t.Helper()
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
}

// changes collects watcher callbacks.
type changes struct {
	mu  sync.Mutex
	got []config.ConfigDiff
	old []*config.Config
	new []*config.Config
	ch  chan struct{}
}

func newChanges() *changes { return &changes{ch: make(chan struct{}, 8)} }

func (c *changes) record(old, next *config.Config, d config.ConfigDiff) {
	c.mu.Lock()
	c.got = append(c.got, d)
	c.old = append(c.old, old)
	c.new = append(c.new, next)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *changes) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func startWatcher(t *testing.T, path string, c *changes) *config.Watcher {
	t.Helper()
	var fn config.ChangeFunc
	if c != nil {
		fn = c.record
	}
	w, err := config.NewWatcher(path, fn, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	w := startWatcher(t, path, nil)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want info", got)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)
	c := newChanges()
	w := startWatcher(t, path, c)

	writeFile(t, path, watcherUpdatedYAML)
	bump(t, path)
	c.wait(t)

	c.mu.Lock()
	d, old, next := c.got[0], c.old[0], c.new[0]
	c.mu.Unlock()
	if old.Server.LogLevel != config.LogInfo || next.Server.LogLevel != config.LogDebug {
		t.Errorf("old = %q, new = %q", old.Server.LogLevel, next.Server.LogLevel)
	}
	if !d.LogLevelChanged || !d.RAGChanged || d.ScriptChanged {
		t.Errorf("diff = %+v", d)
	}
	if w.Current() != next {
		t.Error("Current() is not the reloaded config")
	}
}

func TestWatcher_ScriptEditTriggersReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script := filepath.Join(dir, "script.yaml")
	writeFile(t, script, "en:\n  greeting: \"Hello from {clinic_name}.\"\n")
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, watcherValidYAML+"dialogue:\n  script_path: "+script+"\n")

	c := newChanges()
	startWatcher(t, path, c)

	writeFile(t, script, "en:\n  greeting: \"Welcome to {clinic_name}.\"\n")
	bump(t, script)
	c.wait(t)

	c.mu.Lock()
	d := c.got[0]
	c.mu.Unlock()
	if !d.ScriptChanged || d.LogLevelChanged || d.RAGChanged {
		t.Errorf("diff = %+v, want only the script change", d)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)
	c := newChanges()
	w := startWatcher(t, path, c)

	writeFile(t, path, watcherInvalidYAML)
	bump(t, path)
	time.Sleep(200 * time.Millisecond)

	if n := c.count(); n != 0 {
		t.Errorf("callback ran %d times for an invalid config", n)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the old info", got)
	}
}

func TestWatcher_MissingScriptKeepsOldConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, watcherValidYAML)
	c := newChanges()
	w := startWatcher(t, path, c)

	writeFile(t, path, watcherUpdatedYAML+"dialogue:\n  script_path: "+filepath.Join(dir, "gone.yaml")+"\n")
	bump(t, path)
	time.Sleep(200 * time.Millisecond)

	if n := c.count(); n != 0 {
		t.Errorf("callback ran %d times with a missing script", n)
	}
	if w.Current().Dialogue.ScriptPath != "" {
		t.Error("config with a missing script was adopted")
	}
}

func TestWatcher_AppliesLoadOptions(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	env := func(key string) (string, bool) {
		if key == "TENANT_ID" {
			return "clinic-7", true
		}
		return "", false
	}
	w, err := config.NewWatcher(path, nil,
		config.WithInterval(50*time.Millisecond),
		config.WithLoadOptions(config.WithEnv(env)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if got := w.Current().Tenant.ID; got != "clinic-7" {
		t.Errorf("tenant id = %q, want clinic-7", got)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for a missing file")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, watcherValidYAML+"dialogue:\n  script_path: "+filepath.Join(dir, "nope.yaml")+"\n")
	_, err := config.NewWatcher(path, nil)
	if err == nil || !strings.Contains(err.Error(), "nope.yaml") {
		t.Errorf("err = %v, want the missing script named", err)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)
	c := newChanges()
	startWatcher(t, path, c)

	bump(t, path)
	time.Sleep(200 * time.Millisecond)

	if n := c.count(); n != 0 {
		t.Errorf("callback ran %d times for a touch", n)
	}
}
