package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Info describes one owner's controller.
type Info struct {
	Owner string   `json:"owner"`
	State State    `json:"state"`
	Last  *Outcome `json:"last,omitempty"`
}

// Manager hands out one [Controller] per owner, creating them on first use
// from a shared template. All exported methods are safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	template    Config
	controllers map[string]*Controller
}

// NewManager creates a Manager. template.Owner is ignored; each controller
// gets its own.
func NewManager(template Config) *Manager {
	if template.Settings.Fallbacks.Unrecognized == nil && template.Settings.Fallbacks.DeviceNotFound == nil {
		template.Settings.Fallbacks = DefaultSettings().Fallbacks
	}
	return &Manager{template: template, controllers: make(map[string]*Controller)}
}

// For returns owner's controller, creating it when needed.
func (m *Manager) For(owner string) *Controller {
	owner = strings.TrimSpace(owner)
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.controllers[owner]; ok {
		return c
	}
	cfg := m.template
	cfg.Owner = owner
	c := NewController(cfg)
	m.controllers[owner] = c
	slog.Debug("session: controller created", "owner", owner)
	return c
}

// Run starts a session for owner. See [Controller.Run].
func (m *Manager) Run(ctx context.Context, owner string, trig Trigger) (Outcome, error) {
	return m.For(owner).Run(ctx, trig)
}

// Stop stops owner's in-flight session, if any.
func (m *Manager) Stop(owner string) {
	m.mu.Lock()
	c, ok := m.controllers[strings.TrimSpace(owner)]
	m.mu.Unlock()
	if ok {
		c.Stop()
	}
}

// StopAll stops every in-flight session. It is called on shutdown.
func (m *Manager) StopAll() {
	for _, c := range m.snapshot() {
		c.Stop()
	}
}

// SetSettings updates the settings of every current and future controller.
func (m *Manager) SetSettings(s Settings) {
	m.mu.Lock()
	m.template.Settings = s
	m.mu.Unlock()
	for _, c := range m.snapshot() {
		c.SetSettings(s)
	}
}

// Settings returns the settings new controllers start with.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.template.Settings
}

// List describes every controller, sorted by owner.
func (m *Manager) List() []Info {
	ctrls := m.snapshot()
	out := make([]Info, 0, len(ctrls))
	for _, c := range ctrls {
		out = append(out, Info{Owner: c.Owner(), State: c.State(), Last: c.Last()})
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Owner, b.Owner) })
	return out
}

func (m *Manager) snapshot() []*Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		out = append(out, c)
	}
	return out
}
