package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// ReloadFunc receives a newly loaded config together with its difference to
// the config it replaces.
type ReloadFunc func(next *Config, d ConfigDiff)

// Watcher polls a config file and hands every valid, materially different
// version to a [ReloadFunc]. Rewrites that leave the file equivalent (a
// touch, reformatting, a comment) are absorbed. A file that fails to parse
// or validate is reported and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc
	onError  func(error)

	mu      sync.Mutex
	current *Config
	seen    fingerprint

	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// fingerprint identifies one version of the file on disk.
type fingerprint struct {
	mod  time.Time
	size int64
	sum  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithErrorHandler receives load failures of changed files. The default
// logs them as warnings.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		if fn != nil {
			w.onError = fn
		}
	}
}

// NewWatcher loads path and starts polling it. onReload may be nil, in which
// case the watcher only keeps [Watcher.Current] up to date. The first load
// must succeed.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
		onError: func(err error) {
			slog.Warn("config watcher: keeping previous config", "path", path, "err", err)
		},
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen = cfg, fp

	go w.loop()
	return w, nil
}

// Current returns the config in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight reload to return. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.poll()
		}
	}
}

// poll reloads the file when its stat or content changed.
func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.onError(err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mod) && info.Size() == w.seen.size
	w.mu.Unlock()
	if unchanged {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.onError(err)
		return
	}
	fp := fingerprint{mod: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}

	w.mu.Lock()
	if fp.sum == w.seen.sum {
		w.seen = fp
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		// Remember the rejected version so it is reported once.
		w.mu.Lock()
		w.seen = fp
		w.mu.Unlock()
		w.onError(err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.seen = fp
	d := Diff(prev, next)
	if !d.Empty() {
		w.current = next
	}
	w.mu.Unlock()

	if d.Empty() {
		return
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path,
		"hot", d.Changed(), "restart_required", d.RestartRequired)
	if w.onReload != nil {
		w.onReload(next, d)
	}
}

// load reads, parses and fingerprints the file.
func (w *Watcher) load() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{mod: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
