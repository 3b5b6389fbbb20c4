// Package home models a user's home layout: rooms with their embedded
// appliances, and the safety systems installed around the house.
//
// Appliances are not standalone records. A room's appliance list is read and
// written as one document, so every change follows the same pattern: fetch
// the room, mutate the list in memory, write the full list back. Two writers
// updating the same room race with last-write-wins semantics; repositories
// do not add optimistic concurrency on top of that contract.
package home

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a room or safety system does not exist.
var ErrNotFound = errors.New("home: not found")

// ApplianceType classifies an appliance.
type ApplianceType string

const (
	Lighting     ApplianceType = "smart_lighting"
	HVAC         ApplianceType = "smart_hvac"
	Shading      ApplianceType = "smart_shading"
	Socket       ApplianceType = "smart_socket"
	Camera       ApplianceType = "smart_camera"
	MotionSensor ApplianceType = "motion_sensor"
	AirQuality   ApplianceType = "air_quality"
)

// IsValid reports whether t is a known appliance type.
func (t ApplianceType) IsValid() bool {
	switch t {
	case Lighting, HVAC, Shading, Socket, Camera, MotionSensor, AirQuality:
		return true
	}
	return false
}

// Appliance is a device embedded in a [Room]. Its ID is unique within the
// room only.
type Appliance struct {
	ID         string        `yaml:"id" json:"id"`
	Name       string        `yaml:"name" json:"name"`
	Type       ApplianceType `yaml:"type" json:"type"`
	Series     string        `yaml:"series,omitempty" json:"series,omitempty"`
	DeviceID   string        `yaml:"device_id,omitempty" json:"device_id,omitempty"`
	Status     bool          `yaml:"status" json:"status"`
	PowerUsage *float64      `yaml:"power_usage,omitempty" json:"power_usage,omitempty"`
	Intensity  *int          `yaml:"intensity,omitempty" json:"intensity,omitempty"`
	ColorTint  string        `yaml:"color_tint,omitempty" json:"color_tint,omitempty"`
	AutoMode   *bool         `yaml:"auto_mode,omitempty" json:"auto_mode,omitempty"`
}

// ErrUnknownField is returned by [Appliance.SetBool] for a field that is
// not a boolean appliance field.
var ErrUnknownField = errors.New("home: unknown appliance field")

// SetBool sets the boolean field named key ("status" or "auto_mode").
func (a *Appliance) SetBool(key string, v bool) error {
	switch key {
	case "status":
		a.Status = v
	case "auto_mode":
		a.AutoMode = &v
	default:
		return fmt.Errorf("%w %q", ErrUnknownField, key)
	}
	return nil
}

// AutomationSettings holds a room's automation thresholds and schedule.
type AutomationSettings struct {
	AutoMode                 bool     `yaml:"auto_mode" json:"auto_mode"`
	TemperatureThresholdHigh *float64 `yaml:"temperature_threshold_high,omitempty" json:"temperature_threshold_high,omitempty"`
	TemperatureThresholdLow  *float64 `yaml:"temperature_threshold_low,omitempty" json:"temperature_threshold_low,omitempty"`
	MorningOn                string   `yaml:"morning_on,omitempty" json:"morning_on,omitempty"`
	EveningOff               string   `yaml:"evening_off,omitempty" json:"evening_off,omitempty"`
}

// Room is an owner's room and the appliances in it.
type Room struct {
	ID         string              `yaml:"id,omitempty" json:"id"`
	Owner      string              `yaml:"-" json:"owner"`
	Name       string              `yaml:"name" json:"name"`
	Appliances []Appliance         `yaml:"appliances" json:"appliances"`
	Occupancy  bool                `yaml:"occupancy" json:"occupancy"`
	Order      int                 `yaml:"order" json:"order"`
	Automation *AutomationSettings `yaml:"automation,omitempty" json:"automation_settings,omitempty"`
	CreatedAt  time.Time           `yaml:"-" json:"created_at"`
	UpdatedAt  time.Time           `yaml:"-" json:"updated_at"`
}

// Appliance returns the index of the appliance with id, or -1.
func (r Room) Appliance(id string) int {
	for i, a := range r.Appliances {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// Validate checks the room name and every appliance.
func (r Room) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("room name must not be empty"))
	}
	seen := make(map[string]bool, len(r.Appliances))
	for i, a := range r.Appliances {
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("appliances[%d]: name must not be empty", i))
		}
		if !a.Type.IsValid() {
			errs = append(errs, fmt.Errorf("appliances[%d]: type %q is not a recognised appliance type", i, a.Type))
		}
		if a.ID != "" {
			if seen[a.ID] {
				errs = append(errs, fmt.Errorf("appliances[%d]: duplicate id %q", i, a.ID))
			}
			seen[a.ID] = true
		}
	}
	return errors.Join(errs...)
}

// SystemType classifies a safety system.
type SystemType string

const (
	FireDetection SystemType = "fire_detection"
	WindowRain    SystemType = "window_rain"
	GasLeak       SystemType = "gas_leak"
	WaterOverflow SystemType = "water_overflow"
	FrontDoorLock SystemType = "front_door_lock"
)

// IsValid reports whether t is a known safety system type.
func (t SystemType) IsValid() bool {
	switch t {
	case FireDetection, WindowRain, GasLeak, WaterOverflow, FrontDoorLock:
		return true
	}
	return false
}

// Status is the state of a safety system. For a door lock, [StatusActive]
// means locked and [StatusSafe] means unlocked.
type Status string

const (
	StatusSafe              Status = "safe"
	StatusAlert             Status = "alert"
	StatusActive            Status = "active"
	StatusSuppressionActive Status = "suppression_active"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusSafe, StatusAlert, StatusActive, StatusSuppressionActive:
		return true
	}
	return false
}

// SafetySystem is a sensor or actuator guarding part of the house.
// RoomName is a denormalized copy of the room's name; renaming the room
// does not update it.
type SafetySystem struct {
	ID             string         `yaml:"id,omitempty" json:"id"`
	Owner          string         `yaml:"-" json:"owner"`
	SystemID       string         `yaml:"system_id" json:"system_id"`
	SystemType     SystemType     `yaml:"system_type" json:"system_type"`
	RoomName       string         `yaml:"room_name" json:"room_name"`
	Status         Status         `yaml:"status" json:"status"`
	SensorReadings map[string]any `yaml:"sensor_readings,omitempty" json:"sensor_readings,omitempty"`
	LastTriggered  *time.Time     `yaml:"last_triggered,omitempty" json:"last_triggered,omitempty"`
	UpdatedAt      time.Time      `yaml:"-" json:"updated_at"`
}

// Validate checks the type and status of s.
func (s SafetySystem) Validate() error {
	var errs []error
	if !s.SystemType.IsValid() {
		errs = append(errs, fmt.Errorf("system_type %q is not a recognised safety system type", s.SystemType))
	}
	if s.Status != "" && !s.Status.IsValid() {
		errs = append(errs, fmt.Errorf("status %q is not a recognised status", s.Status))
	}
	return errors.Join(errs...)
}
