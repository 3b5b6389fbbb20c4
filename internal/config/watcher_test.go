package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/ander/internal/config"
)

const (
	speakingYAML = `
server:
  log_level: info
voice:
  response_enabled: true
`
	quietYAML = `
server:
  log_level: debug
voice:
  response_enabled: false
`
	// Same settings as speakingYAML with a comment and different layout.
	speakingReformattedYAML = `# voice responses on
server: {log_level: info}
voice: {response_enabled: true}
`
	badLevelYAML = `
server:
  log_level: bananas
`
)

const pollEvery = 20 * time.Millisecond

// reloads records every ReloadFunc call and every reported error.
type reloads struct {
	mu     sync.Mutex
	next   []*config.Config
	diffs  []config.ConfigDiff
	errs   []error
	notify chan struct{}
}

func newReloads() *reloads { return &reloads{notify: make(chan struct{}, 16)} }

func (r *reloads) reload(next *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.next = append(r.next, next)
	r.diffs = append(r.diffs, d)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *reloads) fail(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *reloads) counts() (reloaded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.next), len(r.errs)
}

func (r *reloads) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not react within 2s")
	}
}

// startWatcher writes content to a fresh config file and watches it.
func startWatcher(t *testing.T, content string) (string, *config.Watcher, *reloads) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ander.yaml")
	writeConfig(t, path, content, time.Now().Add(-time.Minute))
	r := newReloads()
	w, err := config.NewWatcher(path, r.reload, config.WithInterval(pollEvery), config.WithErrorHandler(r.fail))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, r
}

// writeConfig writes the file and pins its mtime so successive writes are
// always seen as a stat change.
func writeConfig(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, speakingYAML)

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo || !cfg.Voice.SpeaksResponses() {
		t.Errorf("initial config = %+v", cfg.Server)
	}
	if cfg.Home.DefaultOwner != config.DefaultOwner {
		t.Errorf("defaults not applied: owner = %q", cfg.Home.DefaultOwner)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"missing", ""},
		{"invalid", badLevelYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "ander.yaml")
			if tt.content != "" {
				writeConfig(t, path, tt.content, time.Now())
			}
			if _, err := config.NewWatcher(path, nil); err == nil {
				t.Fatal("NewWatcher succeeded")
			}
		})
	}
}

func TestWatcher_ReloadCarriesDiff(t *testing.T) {
	t.Parallel()
	path, w, r := startWatcher(t, speakingYAML)

	writeConfig(t, path, quietYAML, time.Now())
	r.wait(t)

	r.mu.Lock()
	next, d := r.next[0], r.diffs[0]
	r.mu.Unlock()
	if next.Voice.SpeaksResponses() {
		t.Error("reloaded config still speaks responses")
	}
	if !d.VoiceChanged || !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if w.Current() != next {
		t.Error("Current() is not the reloaded config")
	}
}

func TestWatcher_EquivalentRewriteIsAbsorbed(t *testing.T) {
	t.Parallel()
	path, w, r := startWatcher(t, speakingYAML)
	before := w.Current()

	// A touch and an equivalent rewrite, then a real change to prove the
	// watcher kept polling.
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * pollEvery)
	writeConfig(t, path, speakingReformattedYAML, now.Add(time.Second))
	time.Sleep(5 * pollEvery)
	if n, _ := r.counts(); n != 0 {
		t.Fatalf("reloads after equivalent rewrites = %d, want 0", n)
	}
	if w.Current() != before {
		t.Error("equivalent rewrite replaced the current config")
	}

	writeConfig(t, path, quietYAML, now.Add(2*time.Second))
	r.wait(t)
	if n, _ := r.counts(); n != 1 {
		t.Errorf("reloads = %d, want 1", n)
	}
}

func TestWatcher_InvalidFileReportedOnce(t *testing.T) {
	t.Parallel()
	path, w, r := startWatcher(t, speakingYAML)

	writeConfig(t, path, badLevelYAML, time.Now())
	r.wait(t)
	time.Sleep(5 * pollEvery)

	reloaded, failed := r.counts()
	if reloaded != 0 || failed != 1 {
		t.Errorf("reloads = %d, errors = %d, want 0 and 1", reloaded, failed)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Error("invalid file replaced the current config")
	}

	// Fixing the file recovers.
	writeConfig(t, path, quietYAML, time.Now().Add(time.Second))
	r.wait(t)
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("fixed file was not picked up")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, speakingYAML)
	w.Stop()
	w.Stop()
}
