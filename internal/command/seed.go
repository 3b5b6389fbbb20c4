package command

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// SeedFile is the YAML layout of a command table.
//
// Example:
//
//	commands:
//	  - name: turn_on_all_lights
//	    category: lighting_control
//	    keywords: ["turn on all lights", "all lights on"]
//	    response: "Turning on all lights."
//	    action: lights_all_on
type SeedFile struct {
	Commands []SeedCommand `yaml:"commands"`
}

// SeedCommand is one entry of a [SeedFile]. Enabled defaults to true.
type SeedCommand struct {
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
	Response string   `yaml:"response"`
	Action   string   `yaml:"action"`
	Enabled  *bool    `yaml:"enabled"`
	Binding  *Binding `yaml:"binding"`
}

// LoadSeedFromReader parses a command table. Unknown keys are rejected.
func LoadSeedFromReader(r io.Reader) (*SeedFile, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("command: decode seed yaml: %w", err)
	}
	return &sf, nil
}

// Defaults returns the built-in command table, owned by owner.
func Defaults(owner string) ([]Command, error) {
	sf, err := LoadSeedFromReader(bytes.NewReader(defaultsYAML))
	if err != nil {
		return nil, err
	}
	return sf.ToCommands(owner), nil
}

// ToCommands converts the file entries into commands owned by owner.
func (sf *SeedFile) ToCommands(owner string) []Command {
	out := make([]Command, 0, len(sf.Commands))
	for _, sc := range sf.Commands {
		c := Command{
			Owner:     owner,
			Name:      sc.Name,
			Category:  sc.Category,
			Keywords:  sc.Keywords,
			Response:  sc.Response,
			ActionTag: sc.Action,
			Enabled:   true,
			Binding:   sc.Binding,
		}
		if c.Category == "" {
			c.Category = CategoryGeneral
		}
		if sc.Enabled != nil {
			c.Enabled = *sc.Enabled
		}
		out = append(out, c)
	}
	return out
}

// Seed bulk-creates the default table when owner has no commands yet.
// It returns the number of commands inserted, zero when the set was
// already populated.
func Seed(ctx context.Context, store Store, owner string) (int, error) {
	existing, err := store.List(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("command: seed: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	defaults, err := Defaults(owner)
	if err != nil {
		return 0, fmt.Errorf("command: seed: %w", err)
	}
	n, err := store.BulkCreate(ctx, defaults)
	if err != nil {
		return n, fmt.Errorf("command: seed: %w", err)
	}
	return n, nil
}

// Reset deletes every command owned by owner and re-seeds the defaults.
func Reset(ctx context.Context, store Store, owner string) (int, error) {
	if err := store.DeleteAll(ctx, owner); err != nil {
		return 0, fmt.Errorf("command: reset: %w", err)
	}
	return Seed(ctx, store, owner)
}
