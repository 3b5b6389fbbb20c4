package home

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LayoutFile is the YAML description of one owner's home.
//
// Example:
//
//	owner: alice@example.com
//	rooms:
//	  - name: Living Room
//	    appliances:
//	      - name: TV Socket
//	        type: smart_socket
//	      - name: Ceiling Light
//	        type: smart_lighting
//	safety_systems:
//	  - system_id: door-1
//	    system_type: front_door_lock
//	    room_name: Hallway
//	    status: safe
type LayoutFile struct {
	Owner         string         `yaml:"owner"`
	Rooms         []Room         `yaml:"rooms"`
	SafetySystems []SafetySystem `yaml:"safety_systems"`
}

// LoadLayoutFile reads and parses a layout YAML file from disk.
func LoadLayoutFile(path string) (*LayoutFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("home: open layout file %q: %w", path, err)
	}
	defer f.Close()

	lf, err := LoadLayoutFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("home: parse layout file %q: %w", path, err)
	}
	return lf, nil
}

// LoadLayoutFromReader parses layout YAML from r. Unknown keys are rejected.
func LoadLayoutFromReader(r io.Reader) (*LayoutFile, error) {
	var lf LayoutFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&lf); err != nil {
		return nil, fmt.Errorf("home: decode layout yaml: %w", err)
	}
	return &lf, nil
}

// ImportResult counts the records created by [ImportLayout].
type ImportResult struct {
	Rooms         int  `json:"rooms"`
	SafetySystems int  `json:"safety_systems"`
	Skipped       bool `json:"skipped"`
}

// ImportLayout creates the rooms and safety systems of layout for owner.
// An empty owner falls back to layout.Owner. Owners that already have rooms
// are skipped so that restarting the server does not duplicate the layout.
func ImportLayout(ctx context.Context, rooms Rooms, systems SafetySystems, owner string, layout *LayoutFile) (ImportResult, error) {
	var res ImportResult
	if layout == nil {
		return res, fmt.Errorf("home: layout must not be nil")
	}
	if owner == "" {
		owner = layout.Owner
	}
	if owner == "" {
		return res, fmt.Errorf("home: import layout: owner must not be empty")
	}

	existing, err := rooms.Filter(ctx, owner)
	if err != nil {
		return res, fmt.Errorf("home: import layout: %w", err)
	}
	if len(existing) > 0 {
		res.Skipped = true
		return res, nil
	}

	for i, r := range layout.Rooms {
		r.Owner = owner
		if r.Order == 0 {
			r.Order = i
		}
		if _, err := rooms.Create(ctx, r); err != nil {
			return res, fmt.Errorf("home: import room %q: %w", r.Name, err)
		}
		res.Rooms++
	}
	for _, s := range layout.SafetySystems {
		s.Owner = owner
		if _, err := systems.Create(ctx, s); err != nil {
			return res, fmt.Errorf("home: import safety system %q: %w", s.SystemID, err)
		}
		res.SafetySystems++
	}
	return res, nil
}
