package command

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time assertions that MemStore satisfies both store interfaces.
var (
	_ Store      = (*MemStore)(nil)
	_ AudioStore = (*MemStore)(nil)
)

// MemStore is a thread-safe, in-memory implementation of [Store] and
// [AudioStore]. Commands are listed in insertion order.
type MemStore struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string
	audio    map[string]ResponseAudio // keyed by command id
	now      func() time.Time
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		commands: make(map[string]Command),
		audio:    make(map[string]ResponseAudio),
		now:      time.Now,
	}
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context, owner string) ([]Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Command, 0, len(s.order))
	for _, id := range s.order {
		c := s.commands[id]
		if c.Owner == owner {
			out = append(out, cloneCommand(c))
		}
	}
	return out, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commands[id]
	if !ok {
		return Command{}, ErrNotFound
	}
	return cloneCommand(c), nil
}

// Create implements [Store.Create].
func (s *MemStore) Create(_ context.Context, c Command) (Command, error) {
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.commands[c.ID]; exists {
		return Command{}, fmt.Errorf("command: create %q: id %q already in use", c.Name, c.ID)
	}
	if s.nameTaken(c.Owner, c.Name, "") {
		return Command{}, ErrDuplicateName
	}

	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	c = cloneCommand(c)
	s.commands[c.ID] = c
	s.order = append(s.order, c.ID)
	return cloneCommand(c), nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(_ context.Context, c Command) (Command, error) {
	if err := c.Validate(); err != nil {
		return Command{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.commands[c.ID]
	if !ok {
		return Command{}, ErrNotFound
	}
	if s.nameTaken(c.Owner, c.Name, c.ID) {
		return Command{}, ErrDuplicateName
	}

	c.CreatedAt = prev.CreatedAt
	c.UpdatedAt = s.now()
	c = cloneCommand(c)
	s.commands[c.ID] = c
	return cloneCommand(c), nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.commands[id]; !ok {
		return ErrNotFound
	}
	s.remove(id)
	return nil
}

// BulkCreate implements [Store.BulkCreate].
func (s *MemStore) BulkCreate(ctx context.Context, cmds []Command) (int, error) {
	n := 0
	for _, c := range cmds {
		if _, err := s.Create(ctx, c); err != nil {
			return n, fmt.Errorf("command: bulk create at index %d (name %q): %w", n, c.Name, err)
		}
		n++
	}
	return n, nil
}

// DeleteAll implements [Store.DeleteAll].
func (s *MemStore) DeleteAll(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range slices.Clone(s.order) {
		if s.commands[id].Owner == owner {
			s.remove(id)
		}
	}
	return nil
}

// FindByCommandID implements [AudioStore.FindByCommandID].
func (s *MemStore) FindByCommandID(_ context.Context, commandID string) (ResponseAudio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.audio[commandID]
	if !ok {
		return ResponseAudio{}, ErrNotFound
	}
	return a, nil
}

// PutAudio implements [AudioStore.PutAudio].
func (s *MemStore) PutAudio(_ context.Context, a ResponseAudio) (ResponseAudio, error) {
	if a.CommandID == "" || a.StoragePath == "" {
		return ResponseAudio{}, fmt.Errorf("%w: audio needs command_id and storage_path", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.commands[a.CommandID]; !ok {
		return ResponseAudio{}, ErrNotFound
	}
	if prev, ok := s.audio[a.CommandID]; ok {
		a.ID = prev.ID
	} else if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	s.audio[a.CommandID] = a
	return a, nil
}

// DeleteAudio implements [AudioStore.DeleteAudio].
func (s *MemStore) DeleteAudio(_ context.Context, commandID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.audio[commandID]; !ok {
		return ErrNotFound
	}
	delete(s.audio, commandID)
	return nil
}

// remove deletes id and its audio. Caller holds the write lock.
func (s *MemStore) remove(id string) {
	delete(s.commands, id)
	delete(s.audio, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// nameTaken reports whether owner already has a command called name other
// than the one with id except. Caller holds the lock.
func (s *MemStore) nameTaken(owner, name, except string) bool {
	for id, c := range s.commands {
		if id != except && c.Owner == owner && c.Name == name {
			return true
		}
	}
	return false
}

// cloneCommand copies the slices and binding so callers cannot alias store state.
func cloneCommand(c Command) Command {
	c.Keywords = slices.Clone(c.Keywords)
	if c.Binding != nil {
		b := *c.Binding
		c.Binding = &b
	}
	return c
}
