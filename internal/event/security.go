package event

import (
	"context"
	"sync"
	"time"
)

// SecurityState is the last known security mode and door lock state of an
// owner's home. Zero values mean no event has been seen yet.
type SecurityState struct {
	Mode      string    `json:"mode,omitempty"`
	Locked    *bool     `json:"locked,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// StatusReader reports the last known [SecurityState].
type StatusReader interface {
	SecurityStatus(ctx context.Context, owner string) (SecurityState, error)
}

// Mirror keeps the latest [SecurityState] per owner in memory by listening
// to the bus. It backs the security status view when no Redis sink is
// configured.
type Mirror struct {
	mu     sync.RWMutex
	states map[string]SecurityState
}

var _ StatusReader = (*Mirror)(nil)

// NewMirror returns an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{states: make(map[string]SecurityState)}
}

// Handle is a [Handler] updating the mirror.
func (m *Mirror) Handle(_ context.Context, ev Event) {
	if ev.Kind == StateChanged {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[ev.Owner]
	st = apply(st, ev)
	m.states[ev.Owner] = st
}

// SecurityStatus implements [StatusReader].
func (m *Mirror) SecurityStatus(_ context.Context, owner string) (SecurityState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[owner], nil
}

// apply folds a security or door event into st.
func apply(st SecurityState, ev Event) SecurityState {
	switch ev.Kind {
	case SecurityModeChanged:
		st.Mode = ev.Mode
	case DoorLocked, DoorUnlocked:
		if ev.Locked != nil {
			v := *ev.Locked
			st.Locked = &v
		}
	default:
		return st
	}
	st.UpdatedAt = ev.At
	return st
}
