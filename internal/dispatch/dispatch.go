// Package dispatch executes a matched command's action against the home
// layout and reports what happened.
//
// A command takes one of two paths. A device_control command with a
// complete [command.Binding] writes exactly one appliance field of a room
// the dispatching owner holds. Every other action tag is parsed into an
// [Action] and run by a generic handler that extracts the target room and
// socket from the transcript. device_control without a complete binding
// is an unimplemented tag.
//
// All room writes follow the read-full, mutate, write-full pattern of
// [home.Rooms]. The dispatcher does not lock rooms; concurrent writers to
// the same room are last-write-wins.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ander/internal/command"
	"github.com/MrWong99/ander/internal/event"
	"github.com/MrWong99/ander/internal/home"
	"github.com/MrWong99/ander/internal/observe"
)

// Reason explains an unsuccessful [Result].
type Reason string

const (
	// ReasonDeviceNotFound means a target room, appliance, socket or safety
	// system could not be resolved. Nothing was written.
	ReasonDeviceNotFound Reason = "device_not_found"

	// ReasonExecutionError means the store failed mid-dispatch.
	ReasonExecutionError Reason = "execution_error"

	// ReasonNoAction means the command has no action tag.
	ReasonNoAction Reason = "no_action"
)

// Result is the outcome of [Dispatcher.Execute].
type Result struct {
	Success bool   `json:"success"`
	Reason  Reason `json:"reason,omitempty"`

	// Message describes a successful action, e.g. "All lights turned on".
	Message string `json:"message,omitempty"`

	// Mutated counts the records written.
	Mutated int `json:"mutated"`
}

// RoomNames is the room vocabulary searched for in transcripts, in match
// priority order.
var RoomNames = []string{"living room", "dining room", "kitchen", "bedroom"}

// SocketNames is the socket vocabulary searched for in transcripts.
var SocketNames = []string{"tv socket", "dispenser socket", "free socket"}

// Dispatcher runs command actions. It is safe for concurrent use.
type Dispatcher struct {
	rooms   home.Rooms
	systems home.SafetySystems
	events  event.Publisher
}

// New returns a dispatcher writing to rooms and systems and publishing to
// events.
func New(rooms home.Rooms, systems home.SafetySystems, events event.Publisher) *Dispatcher {
	return &Dispatcher{rooms: rooms, systems: systems, events: events}
}

// Execute runs cmd's action for owner. transcript is the recognised
// utterance used to resolve room and socket names.
//
// Outcomes that are not store faults (device not found, no action) are
// reported in the Result with a nil error. A store fault returns a Result
// with [ReasonExecutionError] and the wrapped error.
func (d *Dispatcher) Execute(ctx context.Context, owner string, cmd command.Command, transcript string) (Result, error) {
	if cmd.ActionTag == "" {
		return Result{Reason: ReasonNoAction}, nil
	}

	act := ParseAction(cmd.ActionTag, cmd.Binding)
	res, err := d.run(ctx, owner, act, strings.ToLower(transcript))
	if err != nil {
		observe.Logger(ctx).Error("dispatch: action failed", "command", cmd.Name, "action", cmd.ActionTag, "err", err)
		return Result{Reason: ReasonExecutionError}, fmt.Errorf("dispatch: %s: %w", cmd.ActionTag, err)
	}
	if res.Success && res.Message == "" {
		res.Message = messageFor(cmd.ActionTag)
	}
	if res.Mutated > 0 {
		d.events.Publish(ctx, event.Event{Kind: event.StateChanged, Owner: owner})
	}

	observe.Logger(ctx).Debug("dispatch: executed", "command", cmd.Name, "action", cmd.ActionTag,
		"success", res.Success, "reason", res.Reason, "mutated", res.Mutated)
	return res, nil
}

func (d *Dispatcher) run(ctx context.Context, owner string, act Action, transcript string) (Result, error) {
	switch a := act.(type) {
	case DirectControl:
		return d.direct(ctx, owner, a.Binding)
	case SetAllOfType:
		return d.setAll(ctx, owner, func(ap home.Appliance) bool { return ap.Type == a.Type }, a.On)
	case SetAllDevices:
		return d.setAll(ctx, owner, func(home.Appliance) bool { return true }, a.On)
	case SetRoomOfType:
		return d.setInRoom(ctx, owner, transcript, func(ap home.Appliance) bool { return ap.Type == a.Type }, a.On, false)
	case SetSocket:
		socket := extractSocket(transcript)
		if socket == "" {
			return Result{Reason: ReasonDeviceNotFound}, nil
		}
		return d.setInRoom(ctx, owner, transcript, func(ap home.Appliance) bool {
			return ap.Type == home.Socket && strings.Contains(strings.ToLower(ap.Name), socket)
		}, a.On, true)
	case SecurityMode:
		return d.securityMode(ctx, owner, a.Mode)
	case DoorLock:
		return d.doorLock(ctx, owner, a.Lock)
	case Informational:
		return Result{Success: true}, nil
	case Unimplemented:
		observe.Logger(ctx).Warn("dispatch: unhandled action tag", "action", a.Tag)
		return Result{Success: true, Message: fmt.Sprintf("Action '%s' acknowledged but not implemented.", a.Tag)}, nil
	default:
		return Result{}, fmt.Errorf("unhandled action variant %T", act)
	}
}

// ── Direct binding ───────────────────────────────────────────────────────────

// direct writes one bound appliance field. A room of another owner is
// reported like a missing one.
func (d *Dispatcher) direct(ctx context.Context, owner string, b command.Binding) (Result, error) {
	room, err := d.rooms.Get(ctx, b.RoomID)
	if errors.Is(err, home.ErrNotFound) {
		return Result{Reason: ReasonDeviceNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("get room: %w", err)
	}
	if room.Owner != owner {
		observe.Logger(ctx).Warn("dispatch: binding targets a foreign room", "room", room.ID)
		return Result{Reason: ReasonDeviceNotFound}, nil
	}

	i := room.Appliance(b.ApplianceID)
	if i < 0 {
		return Result{Reason: ReasonDeviceNotFound}, nil
	}
	apps := room.Appliances
	if err := apps[i].SetBool(b.StateKey, b.StateValue == "true"); err != nil {
		return Result{}, err
	}

	if _, err := d.rooms.Update(ctx, room.ID, home.RoomPatch{Appliances: apps}); err != nil {
		return Result{}, fmt.Errorf("update room %s: %w", room.ID, err)
	}
	return Result{Success: true, Mutated: 1}, nil
}

// ── Keyword handlers ─────────────────────────────────────────────────────────

// setAll switches every selected appliance in every room. Rooms with no
// selected appliance are not written. Rooms are written concurrently.
func (d *Dispatcher) setAll(ctx context.Context, owner string, sel func(home.Appliance) bool, on bool) (Result, error) {
	rooms, err := d.rooms.Filter(ctx, owner)
	if err != nil {
		return Result{}, fmt.Errorf("list rooms: %w", err)
	}

	var pending []home.Room
	for _, r := range rooms {
		if setMatching(r.Appliances, sel, on) > 0 {
			pending = append(pending, r)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range pending {
		g.Go(func() error {
			if _, err := d.rooms.Update(gctx, r.ID, home.RoomPatch{Appliances: r.Appliances}); err != nil {
				return fmt.Errorf("update room %s: %w", r.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return Result{Success: true, Mutated: len(pending)}, nil
}

// setInRoom switches the selected appliances of the room named in the
// transcript. A resolved room without a selected appliance succeeds
// without a write unless requireMatch is set, in which case it is
// reported as device_not_found.
func (d *Dispatcher) setInRoom(ctx context.Context, owner, transcript string, sel func(home.Appliance) bool, on, requireMatch bool) (Result, error) {
	name := extractRoom(transcript)
	if name == "" {
		return Result{Reason: ReasonDeviceNotFound}, nil
	}

	rooms, err := d.rooms.Filter(ctx, owner)
	if err != nil {
		return Result{}, fmt.Errorf("list rooms: %w", err)
	}
	var room *home.Room
	for i := range rooms {
		if strings.ToLower(rooms[i].Name) == name {
			room = &rooms[i]
			break
		}
	}
	if room == nil {
		return Result{Reason: ReasonDeviceNotFound}, nil
	}

	if setMatching(room.Appliances, sel, on) == 0 {
		if requireMatch {
			return Result{Reason: ReasonDeviceNotFound}, nil
		}
		return Result{Success: true}, nil
	}
	if _, err := d.rooms.Update(ctx, room.ID, home.RoomPatch{Appliances: room.Appliances}); err != nil {
		return Result{}, fmt.Errorf("update room %s: %w", room.ID, err)
	}
	return Result{Success: true, Mutated: 1}, nil
}

func (d *Dispatcher) securityMode(ctx context.Context, owner, mode string) (Result, error) {
	var res Result
	if mode == ModeAway {
		var err error
		res, err = d.setAll(ctx, owner, func(home.Appliance) bool { return true }, false)
		if err != nil {
			return Result{}, err
		}
	}
	d.events.Publish(ctx, event.Event{Kind: event.SecurityModeChanged, Owner: owner, Mode: mode})
	res.Success = true
	return res, nil
}

func (d *Dispatcher) doorLock(ctx context.Context, owner string, lock bool) (Result, error) {
	locks, err := d.systems.Filter(ctx, owner, home.FrontDoorLock)
	if err != nil {
		return Result{}, fmt.Errorf("list door locks: %w", err)
	}
	if len(locks) == 0 {
		return Result{Reason: ReasonDeviceNotFound}, nil
	}

	status := home.StatusSafe
	kind := event.DoorUnlocked
	if lock {
		status = home.StatusActive
		kind = event.DoorLocked
	}
	if _, err := d.systems.Update(ctx, locks[0].ID, home.SafetyPatch{Status: &status}); err != nil {
		return Result{}, fmt.Errorf("update door lock %s: %w", locks[0].ID, err)
	}

	d.events.Publish(ctx, event.Event{Kind: kind, Owner: owner, Locked: &lock})
	return Result{Success: true, Mutated: 1}, nil
}

// setMatching sets Status on every appliance selected by sel and returns
// how many were selected.
func setMatching(apps []home.Appliance, sel func(home.Appliance) bool, on bool) int {
	n := 0
	for i := range apps {
		if sel(apps[i]) {
			apps[i].Status = on
			n++
		}
	}
	return n
}

// extractRoom returns the first room vocabulary entry found in the
// lower-cased transcript, or "".
func extractRoom(transcript string) string {
	for _, r := range RoomNames {
		if strings.Contains(transcript, r) {
			return r
		}
	}
	return ""
}

// extractSocket returns the socket name found in the lower-cased transcript
// without its " socket" suffix, or "".
func extractSocket(transcript string) string {
	for _, s := range SocketNames {
		if strings.Contains(transcript, s) {
			return strings.TrimSuffix(s, " socket")
		}
	}
	return ""
}
