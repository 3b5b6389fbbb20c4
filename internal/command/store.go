package command

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested command or audio record does not exist.
var ErrNotFound = errors.New("command not found")

// ErrDuplicateName is returned when an owner already has a command with the same name.
var ErrDuplicateName = errors.New("command with that name already exists")

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid command")

// Store persists commands.
//
// List returns an owner's commands in store order. The matcher breaks score
// ties by this order, so implementations should keep it stable.
type Store interface {
	// List returns every command belonging to owner.
	List(ctx context.Context, owner string) ([]Command, error)

	// Get returns the command with the given id or [ErrNotFound].
	Get(ctx context.Context, id string) (Command, error)

	// Create validates and inserts c, assigning an ID when empty.
	// Returns [ErrDuplicateName] if the owner already uses c.Name.
	Create(ctx context.Context, c Command) (Command, error)

	// Update validates and replaces an existing command.
	Update(ctx context.Context, c Command) (Command, error)

	// Delete removes a command by id. Returns [ErrNotFound] if absent.
	Delete(ctx context.Context, id string) error

	// BulkCreate inserts cmds in order and returns how many were stored
	// before the first error.
	BulkCreate(ctx context.Context, cmds []Command) (int, error)

	// DeleteAll removes every command owned by owner.
	DeleteAll(ctx context.Context, owner string) error
}

// ResponseAudio is the pre-recorded rendering of a command's response.
type ResponseAudio struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	CommandID       string    `json:"command_id"`
	StoragePath     string    `json:"storage_path"`
	Provider        string    `json:"provider,omitempty"`
	VoiceID         string    `json:"voice_id,omitempty"`
	Format          string    `json:"format,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AudioStore persists [ResponseAudio] records, at most one per command.
type AudioStore interface {
	// FindByCommandID returns the audio for a command or [ErrNotFound].
	FindByCommandID(ctx context.Context, commandID string) (ResponseAudio, error)

	// PutAudio creates or replaces the audio record of a.CommandID.
	PutAudio(ctx context.Context, a ResponseAudio) (ResponseAudio, error)

	// DeleteAudio removes the audio record of commandID.
	DeleteAudio(ctx context.Context, commandID string) error
}
