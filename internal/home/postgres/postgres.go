// Package postgres provides PostgreSQL implementations of [home.Rooms] and
// [home.SafetySystems] using pgx. A room's appliance list is a single JSONB
// column and is always rewritten in full.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/ander/internal/home"
)

// Schema is the SQL DDL for the home tables.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id          TEXT PRIMARY KEY,
    owner       TEXT NOT NULL,
    name        TEXT NOT NULL,
    appliances  JSONB NOT NULL DEFAULT '[]',
    occupancy   BOOLEAN NOT NULL DEFAULT false,
    order_index INTEGER NOT NULL DEFAULT 0,
    automation  JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_rooms_owner ON rooms(owner, order_index);

CREATE TABLE IF NOT EXISTS safety_systems (
    id              TEXT PRIMARY KEY,
    owner           TEXT NOT NULL,
    system_id       TEXT NOT NULL DEFAULT '',
    system_type     TEXT NOT NULL,
    room_name       TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'safe',
    sensor_readings JSONB NOT NULL DEFAULT '{}',
    last_triggered  TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_safety_systems_owner ON safety_systems(owner, system_type);
`

// DB is the database interface used by the repositories. Both
// *pgxpool.Pool and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate executes [Schema] against db.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("home/postgres: migrate: %w", err)
	}
	return nil
}

// Rooms is a [home.Rooms] backed by the rooms table.
type Rooms struct {
	db DB
}

var _ home.Rooms = (*Rooms)(nil)

// NewRooms returns a room repository using db.
func NewRooms(db DB) *Rooms {
	return &Rooms{db: db}
}

const roomColumns = `id, owner, name, appliances, occupancy, order_index, automation, created_at, updated_at`

// Get implements [home.Rooms.Get].
func (s *Rooms) Get(ctx context.Context, id string) (home.Room, error) {
	r, err := scanRoom(s.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return home.Room{}, fmt.Errorf("room %q: %w", id, home.ErrNotFound)
		}
		return home.Room{}, fmt.Errorf("home/postgres: get room %q: %w", id, err)
	}
	return r, nil
}

// Filter implements [home.Rooms.Filter].
func (s *Rooms) Filter(ctx context.Context, owner string) ([]home.Room, error) {
	rows, err := s.db.Query(ctx, `SELECT `+roomColumns+` FROM rooms WHERE owner = $1 ORDER BY order_index, created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("home/postgres: filter rooms: %w", err)
	}
	defer rows.Close()

	rooms := []home.Room{}
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("home/postgres: filter rooms scan: %w", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("home/postgres: filter rooms: %w", err)
	}
	return rooms, nil
}

// Create implements [home.Rooms.Create].
func (s *Rooms) Create(ctx context.Context, r home.Room) (home.Room, error) {
	if err := r.Validate(); err != nil {
		return home.Room{}, fmt.Errorf("home/postgres: create room: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Appliances == nil {
		r.Appliances = []home.Appliance{}
	}
	for i := range r.Appliances {
		if r.Appliances[i].ID == "" {
			r.Appliances[i].ID = uuid.NewString()
		}
	}
	appJSON, err := json.Marshal(r.Appliances)
	if err != nil {
		return home.Room{}, fmt.Errorf("home/postgres: marshal appliances: %w", err)
	}
	var autoJSON []byte
	if r.Automation != nil {
		if autoJSON, err = json.Marshal(r.Automation); err != nil {
			return home.Room{}, fmt.Errorf("home/postgres: marshal automation: %w", err)
		}
	}

	const query = `
		INSERT INTO rooms (id, owner, name, appliances, occupancy, order_index, automation)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`

	if err := s.db.QueryRow(ctx, query,
		r.ID, r.Owner, r.Name, appJSON, r.Occupancy, r.Order, autoJSON,
	).Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		return home.Room{}, fmt.Errorf("home/postgres: create room: %w", err)
	}
	return r, nil
}

// Update implements [home.Rooms.Update]. Unset patch fields keep their
// stored value via COALESCE.
func (s *Rooms) Update(ctx context.Context, id string, patch home.RoomPatch) (home.Room, error) {
	var appJSON []byte
	if patch.Appliances != nil {
		var err error
		if appJSON, err = json.Marshal(patch.Appliances); err != nil {
			return home.Room{}, fmt.Errorf("home/postgres: marshal appliances: %w", err)
		}
	}

	const query = `
		UPDATE rooms SET
			name = COALESCE($2, name),
			appliances = COALESCE($3, appliances),
			occupancy = COALESCE($4, occupancy),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + roomColumns

	r, err := scanRoom(s.db.QueryRow(ctx, query, id, patch.Name, appJSON, patch.Occupancy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return home.Room{}, fmt.Errorf("room %q: %w", id, home.ErrNotFound)
		}
		return home.Room{}, fmt.Errorf("home/postgres: update room %q: %w", id, err)
	}
	return r, nil
}

func scanRoom(row pgx.Row) (home.Room, error) {
	var (
		r        home.Room
		appJSON  []byte
		autoJSON []byte
	)
	if err := row.Scan(&r.ID, &r.Owner, &r.Name, &appJSON, &r.Occupancy, &r.Order, &autoJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return home.Room{}, err
	}
	if err := json.Unmarshal(appJSON, &r.Appliances); err != nil {
		return home.Room{}, fmt.Errorf("unmarshal appliances: %w", err)
	}
	if r.Appliances == nil {
		r.Appliances = []home.Appliance{}
	}
	if len(autoJSON) > 0 && string(autoJSON) != "null" {
		var a home.AutomationSettings
		if err := json.Unmarshal(autoJSON, &a); err != nil {
			return home.Room{}, fmt.Errorf("unmarshal automation: %w", err)
		}
		r.Automation = &a
	}
	return r, nil
}

// SafetySystems is a [home.SafetySystems] backed by the safety_systems table.
type SafetySystems struct {
	db DB
}

var _ home.SafetySystems = (*SafetySystems)(nil)

// NewSafetySystems returns a safety-system repository using db.
func NewSafetySystems(db DB) *SafetySystems {
	return &SafetySystems{db: db}
}

const systemColumns = `id, owner, system_id, system_type, room_name, status, sensor_readings, last_triggered, updated_at`

// Filter implements [home.SafetySystems.Filter].
func (s *SafetySystems) Filter(ctx context.Context, owner string, t home.SystemType) ([]home.SafetySystem, error) {
	const query = `SELECT ` + systemColumns + ` FROM safety_systems
		WHERE owner = $1 AND ($2 = '' OR system_type = $2)
		ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query, owner, string(t))
	if err != nil {
		return nil, fmt.Errorf("home/postgres: filter safety systems: %w", err)
	}
	defer rows.Close()

	out := []home.SafetySystem{}
	for rows.Next() {
		sys, err := scanSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("home/postgres: filter safety systems scan: %w", err)
		}
		out = append(out, sys)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("home/postgres: filter safety systems: %w", err)
	}
	return out, nil
}

// Create implements [home.SafetySystems.Create].
func (s *SafetySystems) Create(ctx context.Context, sys home.SafetySystem) (home.SafetySystem, error) {
	if err := sys.Validate(); err != nil {
		return home.SafetySystem{}, fmt.Errorf("home/postgres: create safety system: %w", err)
	}
	if sys.ID == "" {
		sys.ID = uuid.NewString()
	}
	if sys.Status == "" {
		sys.Status = home.StatusSafe
	}
	readings := sys.SensorReadings
	if readings == nil {
		readings = map[string]any{}
	}
	readJSON, err := json.Marshal(readings)
	if err != nil {
		return home.SafetySystem{}, fmt.Errorf("home/postgres: marshal sensor_readings: %w", err)
	}

	const query = `
		INSERT INTO safety_systems (id, owner, system_id, system_type, room_name, status, sensor_readings, last_triggered)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING updated_at`

	if err := s.db.QueryRow(ctx, query,
		sys.ID, sys.Owner, sys.SystemID, string(sys.SystemType), sys.RoomName, string(sys.Status), readJSON, sys.LastTriggered,
	).Scan(&sys.UpdatedAt); err != nil {
		return home.SafetySystem{}, fmt.Errorf("home/postgres: create safety system: %w", err)
	}
	return sys, nil
}

// Update implements [home.SafetySystems.Update].
func (s *SafetySystems) Update(ctx context.Context, id string, patch home.SafetyPatch) (home.SafetySystem, error) {
	var status *string
	if patch.Status != nil {
		if !patch.Status.IsValid() {
			return home.SafetySystem{}, fmt.Errorf("home/postgres: update safety system: status %q is not a recognised status", *patch.Status)
		}
		v := string(*patch.Status)
		status = &v
	}

	const query = `
		UPDATE safety_systems SET
			status = COALESCE($2, status),
			last_triggered = COALESCE($3, last_triggered),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + systemColumns

	sys, err := scanSystem(s.db.QueryRow(ctx, query, id, status, patch.LastTriggered))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return home.SafetySystem{}, fmt.Errorf("safety system %q: %w", id, home.ErrNotFound)
		}
		return home.SafetySystem{}, fmt.Errorf("home/postgres: update safety system %q: %w", id, err)
	}
	return sys, nil
}

func scanSystem(row pgx.Row) (home.SafetySystem, error) {
	var (
		sys        home.SafetySystem
		systemType string
		status     string
		readJSON   []byte
		last       *time.Time
	)
	if err := row.Scan(&sys.ID, &sys.Owner, &sys.SystemID, &systemType, &sys.RoomName, &status, &readJSON, &last, &sys.UpdatedAt); err != nil {
		return home.SafetySystem{}, err
	}
	sys.SystemType = home.SystemType(systemType)
	sys.Status = home.Status(status)
	sys.LastTriggered = last
	if len(readJSON) > 0 {
		if err := json.Unmarshal(readJSON, &sys.SensorReadings); err != nil {
			return home.SafetySystem{}, fmt.Errorf("unmarshal sensor_readings: %w", err)
		}
	}
	return sys, nil
}
