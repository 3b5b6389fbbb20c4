package home

import (
	"context"
	"errors"
	"fmt"
)

// AppliancePatch changes the boolean fields of one appliance. Nil fields are
// left unchanged.
type AppliancePatch struct {
	Status   *bool `json:"status,omitempty"`
	AutoMode *bool `json:"auto_mode,omitempty"`
}

// ErrEmptyPatch is returned by [SetAppliance] for a patch without fields.
var ErrEmptyPatch = errors.New("home: appliance patch sets no field")

// SetAppliance applies patch to appliance applianceID of owner's room
// roomID with a read-modify-write of the room's appliance list. Rooms of
// other owners and unknown appliances yield [ErrNotFound].
func SetAppliance(ctx context.Context, rooms Rooms, owner, roomID, applianceID string, patch AppliancePatch) (Appliance, error) {
	if patch.Status == nil && patch.AutoMode == nil {
		return Appliance{}, ErrEmptyPatch
	}
	room, err := rooms.Get(ctx, roomID)
	if err != nil {
		return Appliance{}, fmt.Errorf("home: set appliance: %w", err)
	}
	if room.Owner != owner {
		return Appliance{}, fmt.Errorf("home: set appliance: room %s: %w", roomID, ErrNotFound)
	}
	idx := room.Appliance(applianceID)
	if idx < 0 {
		return Appliance{}, fmt.Errorf("home: set appliance: appliance %q in room %q: %w", applianceID, room.Name, ErrNotFound)
	}

	appliances := room.Appliances
	if patch.Status != nil {
		_ = appliances[idx].SetBool("status", *patch.Status)
	}
	if patch.AutoMode != nil {
		_ = appliances[idx].SetBool("auto_mode", *patch.AutoMode)
	}
	updated, err := rooms.Update(ctx, room.ID, RoomPatch{Appliances: appliances})
	if err != nil {
		return Appliance{}, fmt.Errorf("home: set appliance: %w", err)
	}
	if i := updated.Appliance(applianceID); i >= 0 {
		return updated.Appliances[i], nil
	}
	return appliances[idx], nil
}
