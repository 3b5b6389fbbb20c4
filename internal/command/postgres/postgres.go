// Package postgres provides PostgreSQL implementations of [command.Store]
// and [command.AudioStore] using pgx.
//
// Keywords and bindings are stored as JSONB. Rows carry a serial sequence
// column so that List returns commands in insertion order, which is the
// order the matcher uses to break score ties.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/ander/internal/command"
)

// Schema is the SQL DDL for the command tables.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_commands (
    seq        BIGSERIAL,
    id         TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    category   TEXT NOT NULL DEFAULT 'general',
    name       TEXT NOT NULL,
    keywords   JSONB NOT NULL DEFAULT '[]',
    response   TEXT NOT NULL,
    action_tag TEXT,
    enabled    BOOLEAN NOT NULL DEFAULT true,
    binding    JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (owner, name)
);
CREATE INDEX IF NOT EXISTS idx_voice_commands_owner ON voice_commands(owner, seq);

CREATE TABLE IF NOT EXISTS voice_response_audio (
    id               TEXT PRIMARY KEY,
    owner            TEXT NOT NULL DEFAULT '',
    command_id       TEXT NOT NULL UNIQUE REFERENCES voice_commands(id) ON DELETE CASCADE,
    storage_path     TEXT NOT NULL,
    provider         TEXT NOT NULL DEFAULT '',
    voice_id         TEXT NOT NULL DEFAULT '',
    format           TEXT NOT NULL DEFAULT '',
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [command.Store] and [command.AudioStore] backed by PostgreSQL.
type Store struct {
	db DB
}

var (
	_ command.Store      = (*Store)(nil)
	_ command.AudioStore = (*Store)(nil)
)

// New returns a [Store] using db. Call [Store.Migrate] before first use.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("command/postgres: migrate: %w", err)
	}
	return nil
}

const selectColumns = `id, owner, category, name, keywords, response, action_tag, enabled, binding, created_at, updated_at`

// List implements [command.Store.List].
func (s *Store) List(ctx context.Context, owner string) ([]command.Command, error) {
	const query = `SELECT ` + selectColumns + ` FROM voice_commands WHERE owner = $1 ORDER BY seq`

	rows, err := s.db.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("command/postgres: list: %w", err)
	}
	defer rows.Close()

	cmds := []command.Command{}
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("command/postgres: list scan: %w", err)
		}
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("command/postgres: list: %w", err)
	}
	return cmds, nil
}

// Get implements [command.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (command.Command, error) {
	const query = `SELECT ` + selectColumns + ` FROM voice_commands WHERE id = $1`

	c, err := scanCommand(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return command.Command{}, command.ErrNotFound
		}
		return command.Command{}, fmt.Errorf("command/postgres: get %q: %w", id, err)
	}
	return c, nil
}

// Create implements [command.Store.Create].
func (s *Store) Create(ctx context.Context, c command.Command) (command.Command, error) {
	if err := c.Validate(); err != nil {
		return command.Command{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	kwJSON, bindJSON, err := marshalFields(c)
	if err != nil {
		return command.Command{}, err
	}

	const query = `
		INSERT INTO voice_commands (id, owner, category, name, keywords, response, action_tag, enabled, binding)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		c.ID, c.Owner, defaultCategory(c.Category), c.Name, kwJSON, c.Response,
		nullString(c.ActionTag), c.Enabled, bindJSON,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return command.Command{}, fmt.Errorf("command/postgres: create %q: %w", c.Name, command.ErrDuplicateName)
		}
		return command.Command{}, fmt.Errorf("command/postgres: create: %w", err)
	}
	c.Category = defaultCategory(c.Category)
	return c, nil
}

// Update implements [command.Store.Update].
func (s *Store) Update(ctx context.Context, c command.Command) (command.Command, error) {
	if err := c.Validate(); err != nil {
		return command.Command{}, err
	}
	kwJSON, bindJSON, err := marshalFields(c)
	if err != nil {
		return command.Command{}, err
	}

	const query = `
		UPDATE voice_commands SET
			owner = $2, category = $3, name = $4, keywords = $5, response = $6,
			action_tag = $7, enabled = $8, binding = $9, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		c.ID, c.Owner, defaultCategory(c.Category), c.Name, kwJSON, c.Response,
		nullString(c.ActionTag), c.Enabled, bindJSON,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return command.Command{}, command.ErrNotFound
		}
		if isDuplicateKeyError(err) {
			return command.Command{}, fmt.Errorf("command/postgres: update %q: %w", c.Name, command.ErrDuplicateName)
		}
		return command.Command{}, fmt.Errorf("command/postgres: update: %w", err)
	}
	c.Category = defaultCategory(c.Category)
	return c, nil
}

// Delete implements [command.Store.Delete].
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM voice_commands WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("command/postgres: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return command.ErrNotFound
	}
	return nil
}

// BulkCreate implements [command.Store.BulkCreate]. Rows are inserted one
// statement at a time to keep their sequence order.
func (s *Store) BulkCreate(ctx context.Context, cmds []command.Command) (int, error) {
	n := 0
	for _, c := range cmds {
		if _, err := s.Create(ctx, c); err != nil {
			return n, fmt.Errorf("command/postgres: bulk create at index %d (name %q): %w", n, c.Name, err)
		}
		n++
	}
	return n, nil
}

// DeleteAll implements [command.Store.DeleteAll].
func (s *Store) DeleteAll(ctx context.Context, owner string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM voice_commands WHERE owner = $1`, owner); err != nil {
		return fmt.Errorf("command/postgres: delete all for %q: %w", owner, err)
	}
	return nil
}

// FindByCommandID implements [command.AudioStore.FindByCommandID].
func (s *Store) FindByCommandID(ctx context.Context, commandID string) (command.ResponseAudio, error) {
	const query = `
		SELECT id, owner, command_id, storage_path, provider, voice_id, format, duration_seconds, created_at
		FROM voice_response_audio
		WHERE command_id = $1`

	var a command.ResponseAudio
	err := s.db.QueryRow(ctx, query, commandID).Scan(
		&a.ID, &a.Owner, &a.CommandID, &a.StoragePath, &a.Provider,
		&a.VoiceID, &a.Format, &a.DurationSeconds, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return command.ResponseAudio{}, command.ErrNotFound
		}
		return command.ResponseAudio{}, fmt.Errorf("command/postgres: find audio for %q: %w", commandID, err)
	}
	return a, nil
}

// PutAudio implements [command.AudioStore.PutAudio].
func (s *Store) PutAudio(ctx context.Context, a command.ResponseAudio) (command.ResponseAudio, error) {
	if a.CommandID == "" || a.StoragePath == "" {
		return command.ResponseAudio{}, fmt.Errorf("%w: audio needs command_id and storage_path", command.ErrInvalid)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO voice_response_audio (id, owner, command_id, storage_path, provider, voice_id, format, duration_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (command_id) DO UPDATE SET
			storage_path = EXCLUDED.storage_path,
			provider = EXCLUDED.provider,
			voice_id = EXCLUDED.voice_id,
			format = EXCLUDED.format,
			duration_seconds = EXCLUDED.duration_seconds,
			created_at = now()
		RETURNING id, created_at`

	err := s.db.QueryRow(ctx, query,
		a.ID, a.Owner, a.CommandID, a.StoragePath, a.Provider, a.VoiceID, a.Format, a.DurationSeconds,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return command.ResponseAudio{}, command.ErrNotFound
		}
		return command.ResponseAudio{}, fmt.Errorf("command/postgres: put audio: %w", err)
	}
	return a, nil
}

// DeleteAudio implements [command.AudioStore.DeleteAudio].
func (s *Store) DeleteAudio(ctx context.Context, commandID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM voice_response_audio WHERE command_id = $1`, commandID)
	if err != nil {
		return fmt.Errorf("command/postgres: delete audio for %q: %w", commandID, err)
	}
	if tag.RowsAffected() == 0 {
		return command.ErrNotFound
	}
	return nil
}

// scanCommand reads one row in [selectColumns] order.
func scanCommand(row pgx.Row) (command.Command, error) {
	var (
		c         command.Command
		kwJSON    []byte
		bindJSON  []byte
		actionTag *string
	)
	if err := row.Scan(
		&c.ID, &c.Owner, &c.Category, &c.Name, &kwJSON, &c.Response,
		&actionTag, &c.Enabled, &bindJSON, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return command.Command{}, err
	}
	if actionTag != nil {
		c.ActionTag = *actionTag
	}
	if err := json.Unmarshal(kwJSON, &c.Keywords); err != nil {
		return command.Command{}, fmt.Errorf("unmarshal keywords: %w", err)
	}
	if len(bindJSON) > 0 && string(bindJSON) != "null" {
		var b command.Binding
		if err := json.Unmarshal(bindJSON, &b); err != nil {
			return command.Command{}, fmt.Errorf("unmarshal binding: %w", err)
		}
		c.Binding = &b
	}
	return c, nil
}

// marshalFields encodes the JSONB columns. A nil binding is stored as SQL NULL.
func marshalFields(c command.Command) (kw []byte, binding []byte, err error) {
	kw, err = json.Marshal(emptySlice(c.Keywords))
	if err != nil {
		return nil, nil, fmt.Errorf("command/postgres: marshal keywords: %w", err)
	}
	if c.Binding != nil {
		binding, err = json.Marshal(c.Binding)
		if err != nil {
			return nil, nil, fmt.Errorf("command/postgres: marshal binding: %w", err)
		}
	}
	return kw, binding, nil
}

func defaultCategory(cat string) string {
	if cat == "" {
		return command.CategoryGeneral
	}
	return cat
}

// nullString maps the empty action tag to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// emptySlice returns s if non-nil, otherwise an empty non-nil slice so the
// JSON encoding is "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError reports a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isForeignKeyError reports a foreign-key violation (SQLSTATE 23503).
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
