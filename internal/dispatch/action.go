package dispatch

import (
	"slices"

	"github.com/MrWong99/ander/internal/command"
	"github.com/MrWong99/ander/internal/home"
)

// Action is the closed set of things a command can do. The unexported
// marker method keeps the set sealed to this package; [Dispatcher.Execute]
// switches over every variant.
type Action interface {
	isAction()
}

// DirectControl writes Binding.StateValue to one appliance field.
type DirectControl struct {
	Binding command.Binding
}

// SetAllOfType switches every appliance of Type in every room.
type SetAllOfType struct {
	Type home.ApplianceType
	On   bool
}

// SetRoomOfType switches every appliance of Type in the room named in the
// transcript.
type SetRoomOfType struct {
	Type home.ApplianceType
	On   bool
}

// SetAllDevices switches every appliance in every room.
type SetAllDevices struct {
	On bool
}

// SetSocket switches the socket named in the transcript, in the room named
// in the transcript.
type SetSocket struct {
	On bool
}

// SecurityMode transitions the home to Mode. Away also switches every
// appliance off.
type SecurityMode struct {
	Mode string
}

// DoorLock locks or unlocks the owner's front door lock.
type DoorLock struct {
	Lock bool
}

// Informational commands only speak their response.
type Informational struct {
	Tag string
}

// Unimplemented is any tag without a handler. It is acknowledged as a
// success without mutating anything.
type Unimplemented struct {
	Tag string
}

func (DirectControl) isAction() {}
func (SetAllOfType) isAction()  {}
func (SetRoomOfType) isAction() {}
func (SetAllDevices) isAction() {}
func (SetSocket) isAction()     {}
func (SecurityMode) isAction()  {}
func (DoorLock) isAction()      {}
func (Informational) isAction() {}
func (Unimplemented) isAction() {}

// Security modes.
const (
	ModeAway = "away"
	ModeHome = "home"
)

type actionEntry struct {
	action  Action
	message string
}

var actions = map[string]actionEntry{
	"all_devices_on":  {SetAllDevices{On: true}, "All devices turned on"},
	"all_devices_off": {SetAllDevices{On: false}, "All devices turned off"},

	"lights_all_on":   {SetAllOfType{home.Lighting, true}, "All lights turned on"},
	"lights_all_off":  {SetAllOfType{home.Lighting, false}, "All lights turned off"},
	"lights_room_on":  {SetRoomOfType{home.Lighting, true}, "Room lights turned on"},
	"lights_room_off": {SetRoomOfType{home.Lighting, false}, "Room lights turned off"},

	// Windows and curtains are both shading appliances.
	"windows_all_open":    {SetAllOfType{home.Shading, true}, "All windows opened"},
	"windows_all_close":   {SetAllOfType{home.Shading, false}, "All windows closed"},
	"windows_room_open":   {SetRoomOfType{home.Shading, true}, "Room windows opened"},
	"windows_room_close":  {SetRoomOfType{home.Shading, false}, "Room windows closed"},
	"curtains_all_open":   {SetAllOfType{home.Shading, true}, "All curtains opened"},
	"curtains_all_close":  {SetAllOfType{home.Shading, false}, "All curtains closed"},
	"curtains_room_open":  {SetRoomOfType{home.Shading, true}, "Room curtains opened"},
	"curtains_room_close": {SetRoomOfType{home.Shading, false}, "Room curtains closed"},

	"ac_all_on":   {SetAllOfType{home.HVAC, true}, "All AC units turned on"},
	"ac_all_off":  {SetAllOfType{home.HVAC, false}, "All AC units turned off"},
	"ac_room_on":  {SetRoomOfType{home.HVAC, true}, "Room AC turned on"},
	"ac_room_off": {SetRoomOfType{home.HVAC, false}, "Room AC turned off"},

	"sockets_all_on":      {SetAllOfType{home.Socket, true}, "All sockets turned on"},
	"sockets_all_off":     {SetAllOfType{home.Socket, false}, "All sockets turned off"},
	"sockets_room_on":     {SetRoomOfType{home.Socket, true}, "Room sockets turned on"},
	"sockets_room_off":    {SetRoomOfType{home.Socket, false}, "Room sockets turned off"},
	"socket_specific_on":  {SetSocket{On: true}, "Socket turned on"},
	"socket_specific_off": {SetSocket{On: false}, "Socket turned off"},

	"away_mode":   {SecurityMode{ModeAway}, "Away mode activated"},
	"home_mode":   {SecurityMode{ModeHome}, "Home mode activated"},
	"lock_door":   {DoorLock{Lock: true}, "Door locked"},
	"unlock_door": {DoorLock{Lock: false}, "Door unlocked"},

	"wake_up":       {Informational{"wake_up"}, "Action completed"},
	"system_check":  {Informational{"system_check"}, "Action completed"},
	"energy_report": {Informational{"energy_report"}, "Action completed"},
	"introduction":  {Informational{"introduction"}, "Action completed"},
	"help":          {Informational{"help"}, "Action completed"},
}

// ParseAction maps an action tag to its [Action]. device_control yields a
// [DirectControl] only when b is complete; it and every unknown tag
// otherwise yield [Unimplemented]. ParseAction never returns nil.
func ParseAction(tag string, b *command.Binding) Action {
	if tag == command.ActionDeviceControl && b.Complete() {
		return DirectControl{Binding: *b}
	}
	if e, ok := actions[tag]; ok {
		return e.action
	}
	return Unimplemented{Tag: tag}
}

// Tags returns every action tag with a handler, device_control included,
// in sorted order.
func Tags() []string {
	out := make([]string, 0, len(actions)+1)
	out = append(out, command.ActionDeviceControl)
	for t := range actions {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func messageFor(tag string) string {
	return actions[tag].message
}
