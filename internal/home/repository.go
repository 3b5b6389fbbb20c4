package home

import (
	"context"
	"time"
)

// RoomPatch is a partial room update. Nil fields are left unchanged; a
// non-nil Appliances replaces the whole appliance list.
type RoomPatch struct {
	Name       *string
	Appliances []Appliance
	Occupancy  *bool
}

// Rooms is the room repository.
type Rooms interface {
	// Get returns the room with id or [ErrNotFound].
	Get(ctx context.Context, id string) (Room, error)

	// Filter returns owner's rooms ordered by their Order field.
	Filter(ctx context.Context, owner string) ([]Room, error)

	// Create inserts r, assigning room and appliance ids where empty.
	Create(ctx context.Context, r Room) (Room, error)

	// Update applies patch to the room with id and returns the result.
	Update(ctx context.Context, id string, patch RoomPatch) (Room, error)
}

// SafetyPatch is a partial safety-system update.
type SafetyPatch struct {
	Status        *Status
	LastTriggered *time.Time
}

// SafetySystems is the safety-system repository.
type SafetySystems interface {
	// Filter returns owner's systems of type t. An empty t returns all.
	Filter(ctx context.Context, owner string, t SystemType) ([]SafetySystem, error)

	// Create inserts s, assigning an id when empty.
	Create(ctx context.Context, s SafetySystem) (SafetySystem, error)

	// Update applies patch to the system with id.
	Update(ctx context.Context, id string, patch SafetyPatch) (SafetySystem, error)
}
