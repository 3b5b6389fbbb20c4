package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Form is the editable representation of a command. Keywords arrive as a
// single comma-separated string.
type Form struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Category  string   `json:"category,omitempty"`
	Keywords  string   `json:"keywords"`
	Response  string   `json:"response"`
	ActionTag string   `json:"action_tag,omitempty"`
	Enabled   *bool    `json:"enabled,omitempty"`
	Binding   *Binding `json:"binding,omitempty"`
}

// ParseKeywords splits a comma-separated keyword list, trims every phrase
// and drops empty ones.
func ParseKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Editor saves [Form] values into a [Store].
type Editor struct {
	store Store
}

// NewEditor returns an editor writing to store.
func NewEditor(store Store) *Editor {
	return &Editor{store: store}
}

// Save creates the command when f.ID is empty and updates it otherwise.
// Name, keywords and response are required. A form without Enabled
// creates an enabled command and leaves an updated one as it was.
func (e *Editor) Save(ctx context.Context, owner string, f Form) (Command, error) {
	c := Command{
		ID:        f.ID,
		Owner:     owner,
		Name:      strings.TrimSpace(f.Name),
		Category:  strings.TrimSpace(f.Category),
		Keywords:  ParseKeywords(f.Keywords),
		Response:  strings.TrimSpace(f.Response),
		ActionTag: strings.TrimSpace(f.ActionTag),
		Enabled:   true,
		Binding:   f.Binding,
	}
	if f.Enabled != nil {
		c.Enabled = *f.Enabled
	}

	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(c.Keywords) == 0 {
		errs = append(errs, errors.New("keywords are required"))
	}
	if c.Response == "" {
		errs = append(errs, errors.New("response is required"))
	}
	if len(errs) > 0 {
		return Command{}, fmt.Errorf("command: save: %w: %w", ErrInvalid, errors.Join(errs...))
	}
	if c.Category == "" {
		c.Category = CategoryGeneral
	}
	if c.Binding != nil && !c.Binding.Complete() {
		c.Binding = nil
	}

	if c.ID == "" {
		saved, err := e.store.Create(ctx, c)
		if err != nil {
			return Command{}, fmt.Errorf("command: save %q: %w", c.Name, err)
		}
		return saved, nil
	}

	prev, err := e.store.Get(ctx, c.ID)
	if err != nil {
		return Command{}, fmt.Errorf("command: save %q: %w", c.Name, err)
	}
	if prev.Owner != owner {
		return Command{}, fmt.Errorf("command: save %q: %w", c.Name, ErrNotFound)
	}
	if f.Enabled == nil {
		c.Enabled = prev.Enabled
	}
	saved, err := e.store.Update(ctx, c)
	if err != nil {
		return Command{}, fmt.Errorf("command: save %q: %w", c.Name, err)
	}
	return saved, nil
}
