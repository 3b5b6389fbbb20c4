// Package command manages the voice-command table: the stored bindings from
// spoken keyword phrases to a canned response and an optional action tag.
//
// Commands are owned by a single user account. A fresh account is seeded
// from the embedded default table ([Seed]); afterwards commands are edited
// one at a time through the [Editor] or wiped and re-seeded with [Reset].
//
// Commands in [CategoryAdmin] are fallback responses. They carry no keywords
// and are looked up by name ([Fallbacks]) instead of being matched.
//
// All store implementations are safe for concurrent use.
package command

import (
	"errors"
	"fmt"
	"time"
)

// CategoryAdmin is the reserved category for fallback response commands.
const CategoryAdmin = "admin_commands"

// CategoryGeneral is assigned when a command is saved without a category.
const CategoryGeneral = "general"

// ActionDeviceControl marks a command whose [Binding] names the exact
// appliance field to mutate.
const ActionDeviceControl = "device_control"

// ActionFallback is the action tag carried by seeded fallback commands.
const ActionFallback = "fallback"

// Command is a stored keyword-to-response-to-action binding.
type Command struct {
	// ID is the store-assigned identifier.
	ID string `yaml:"id,omitempty" json:"id"`

	// Owner is the user account the command belongs to.
	Owner string `yaml:"owner,omitempty" json:"owner"`

	// Category groups commands for display (e.g. "lighting_control").
	Category string `yaml:"category" json:"category"`

	// Name is unique within an owner's command set.
	Name string `yaml:"name" json:"name"`

	// Keywords are the free-text phrases the matcher scores a transcript
	// against. Phrases may contain {placeholder} tokens.
	Keywords []string `yaml:"keywords" json:"keywords"`

	// Response is the text spoken back after the command runs.
	Response string `yaml:"response" json:"response"`

	// ActionTag selects the dispatch handler. Empty means the command only
	// speaks its response.
	ActionTag string `yaml:"action,omitempty" json:"action_tag,omitempty"`

	// Enabled commands take part in matching.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Binding, when complete, targets one appliance field directly.
	Binding *Binding `yaml:"binding,omitempty" json:"binding,omitempty"`

	CreatedAt time.Time `yaml:"-" json:"created_at"`
	UpdatedAt time.Time `yaml:"-" json:"updated_at"`
}

// Binding names a single appliance field and the literal value to write to it.
type Binding struct {
	RoomID      string `yaml:"room_id" json:"room_id"`
	ApplianceID string `yaml:"appliance_id" json:"appliance_id"`
	StateKey    string `yaml:"state_key" json:"state_key"`
	StateValue  string `yaml:"state_value" json:"state_value"`
}

// Complete reports whether every binding field is set. Only complete
// bindings take the direct dispatch path.
func (b *Binding) Complete() bool {
	return b != nil && b.RoomID != "" && b.ApplianceID != "" && b.StateKey != "" && b.StateValue != ""
}

// IsFallback reports whether c is a reserved fallback command.
func (c Command) IsFallback() bool {
	return c.Category == CategoryAdmin
}

// Matchable reports whether c can be returned by the matcher.
func (c Command) Matchable() bool {
	return c.Enabled && !c.IsFallback() && len(c.Keywords) > 0
}

// Validate checks c for required fields. Fallback commands may omit
// keywords; every other command needs at least one.
func (c Command) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if c.Response == "" {
		errs = append(errs, errors.New("response must not be empty"))
	}
	if !c.IsFallback() && len(c.Keywords) == 0 {
		errs = append(errs, errors.New("at least one keyword is required"))
	}
	for i, kw := range c.Keywords {
		if kw == "" {
			errs = append(errs, fmt.Errorf("keywords[%d]: must not be empty", i))
		}
	}
	if c.Binding != nil && c.ActionTag != ActionDeviceControl && c.Binding.Complete() {
		errs = append(errs, fmt.Errorf("binding requires action %q, got %q", ActionDeviceControl, c.ActionTag))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
