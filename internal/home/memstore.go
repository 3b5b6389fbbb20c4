package home

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	_ Rooms         = (*MemStore)(nil)
	_ SafetySystems = memSafety{}
)

// MemStore is an in-memory [Rooms] repository. [MemStore.Safety] returns
// the [SafetySystems] view over the same data.
// The mutex protects the maps only; it does not make a caller's
// read-modify-write sequence atomic.
type MemStore struct {
	mu      sync.RWMutex
	rooms   map[string]Room
	systems map[string]SafetySystem
	seq     map[string]int // insertion order for stable listing
	next    int
	now     func() time.Time
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		rooms:   make(map[string]Room),
		systems: make(map[string]SafetySystem),
		seq:     make(map[string]int),
		now:     time.Now,
	}
}

// Get implements [Rooms.Get].
func (s *MemStore) Get(_ context.Context, id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return Room{}, fmt.Errorf("room %q: %w", id, ErrNotFound)
	}
	return cloneRoom(r), nil
}

// Filter implements [Rooms.Filter].
func (s *MemStore) Filter(_ context.Context, owner string) ([]Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Room{}
	for _, r := range s.rooms {
		if r.Owner == owner {
			out = append(out, cloneRoom(r))
		}
	}
	slices.SortFunc(out, func(a, b Room) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(s.seq[a.ID], s.seq[b.ID]))
	})
	return out, nil
}

// Create implements [Rooms.Create].
func (s *MemStore) Create(_ context.Context, r Room) (Room, error) {
	if err := r.Validate(); err != nil {
		return Room{}, fmt.Errorf("home: create room: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	for i := range r.Appliances {
		if r.Appliances[i].ID == "" {
			r.Appliances[i].ID = uuid.NewString()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[r.ID]; exists {
		return Room{}, fmt.Errorf("home: create room: id %q already in use", r.ID)
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	s.rooms[r.ID] = cloneRoom(r)
	s.next++
	s.seq[r.ID] = s.next
	return cloneRoom(r), nil
}

// Update implements [Rooms.Update].
func (s *MemStore) Update(_ context.Context, id string, patch RoomPatch) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return Room{}, fmt.Errorf("room %q: %w", id, ErrNotFound)
	}
	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.Occupancy != nil {
		r.Occupancy = *patch.Occupancy
	}
	if patch.Appliances != nil {
		r.Appliances = cloneAppliances(patch.Appliances)
	}
	r.UpdatedAt = s.now()
	s.rooms[id] = r
	return cloneRoom(r), nil
}

// FilterSystems returns owner's safety systems of type t in insertion order.
func (s *MemStore) FilterSystems(_ context.Context, owner string, t SystemType) ([]SafetySystem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []SafetySystem{}
	for _, sys := range s.systems {
		if sys.Owner == owner && (t == "" || sys.SystemType == t) {
			out = append(out, cloneSystem(sys))
		}
	}
	slices.SortFunc(out, func(a, b SafetySystem) int { return cmp.Compare(s.seq[a.ID], s.seq[b.ID]) })
	return out, nil
}

// CreateSystem inserts a safety system.
func (s *MemStore) CreateSystem(_ context.Context, sys SafetySystem) (SafetySystem, error) {
	if err := sys.Validate(); err != nil {
		return SafetySystem{}, fmt.Errorf("home: create safety system: %w", err)
	}
	if sys.ID == "" {
		sys.ID = uuid.NewString()
	}
	if sys.Status == "" {
		sys.Status = StatusSafe
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.systems[sys.ID]; exists {
		return SafetySystem{}, fmt.Errorf("home: create safety system: id %q already in use", sys.ID)
	}
	sys.UpdatedAt = s.now()
	s.systems[sys.ID] = cloneSystem(sys)
	s.next++
	s.seq[sys.ID] = s.next
	return cloneSystem(sys), nil
}

// UpdateSystem applies patch to a safety system.
func (s *MemStore) UpdateSystem(_ context.Context, id string, patch SafetyPatch) (SafetySystem, error) {
	if patch.Status != nil && !patch.Status.IsValid() {
		return SafetySystem{}, fmt.Errorf("home: update safety system: status %q is not a recognised status", *patch.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sys, ok := s.systems[id]
	if !ok {
		return SafetySystem{}, fmt.Errorf("safety system %q: %w", id, ErrNotFound)
	}
	if patch.Status != nil {
		sys.Status = *patch.Status
	}
	if patch.LastTriggered != nil {
		t := *patch.LastTriggered
		sys.LastTriggered = &t
	}
	sys.UpdatedAt = s.now()
	s.systems[id] = sys
	return cloneSystem(sys), nil
}

// Safety returns the [SafetySystems] view of s.
func (s *MemStore) Safety() SafetySystems {
	return memSafety{s}
}

type memSafety struct{ s *MemStore }

func (m memSafety) Filter(ctx context.Context, owner string, t SystemType) ([]SafetySystem, error) {
	return m.s.FilterSystems(ctx, owner, t)
}

func (m memSafety) Create(ctx context.Context, sys SafetySystem) (SafetySystem, error) {
	return m.s.CreateSystem(ctx, sys)
}

func (m memSafety) Update(ctx context.Context, id string, patch SafetyPatch) (SafetySystem, error) {
	return m.s.UpdateSystem(ctx, id, patch)
}

func cloneRoom(r Room) Room {
	r.Appliances = cloneAppliances(r.Appliances)
	if r.Automation != nil {
		a := *r.Automation
		r.Automation = &a
	}
	return r
}

func cloneAppliances(in []Appliance) []Appliance {
	if in == nil {
		return []Appliance{}
	}
	out := make([]Appliance, len(in))
	for i, a := range in {
		if a.PowerUsage != nil {
			v := *a.PowerUsage
			a.PowerUsage = &v
		}
		if a.Intensity != nil {
			v := *a.Intensity
			a.Intensity = &v
		}
		if a.AutoMode != nil {
			v := *a.AutoMode
			a.AutoMode = &v
		}
		out[i] = a
	}
	return out
}

func cloneSystem(s SafetySystem) SafetySystem {
	s.SensorReadings = maps.Clone(s.SensorReadings)
	if s.LastTriggered != nil {
		t := *s.LastTriggered
		s.LastTriggered = &t
	}
	return s
}
