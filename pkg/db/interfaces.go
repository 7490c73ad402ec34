package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/urmzd/homelink/pkg/schema"
)

var ErrInterfaceNotFound = errors.New("interface not found")

// Interface is one monitored connection of the central.
type Interface struct {
	ID        string         `json:"id" yaml:"id"`
	ProfileID int64          `json:"profile_id" yaml:"-"`
	Kind      string         `json:"kind" yaml:"kind"`
	Address   string         `json:"address" yaml:"address"`
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Options   map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"-"`
}

// InterfaceStore provides interface CRUD operations scoped to a profile.
type InterfaceStore interface {
	Get(ctx context.Context, profileID int64, id string) (*Interface, error)
	List(ctx context.Context, profileID int64) ([]*Interface, error)
	ListEnabled(ctx context.Context, profileID int64) ([]*Interface, error)
	Upsert(ctx context.Context, iface *Interface) error
	SetEnabled(ctx context.Context, profileID int64, id string, enabled bool) error
	Delete(ctx context.Context, profileID int64, id string) error
}

// Interfaces returns an InterfaceStore for this database. Options are
// validated against the schema of the interface kind before writes.
func (db *DB) Interfaces() InterfaceStore {
	return &interfaceStore{db: db, validator: db.validator()}
}

type interfaceStore struct {
	db        *DB
	validator *schema.Validator
}

const interfaceColumns = `id, profile_id, kind, address, enabled, options, created_at, updated_at`

func scanInterface(row rowScanner) (*Interface, error) {
	i := &Interface{}
	var options, createdAt, updatedAt string
	if err := row.Scan(&i.ID, &i.ProfileID, &i.Kind, &i.Address, &i.Enabled, &options, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &i.Options); err != nil {
		return nil, fmt.Errorf("interface %s: failed to decode options: %w", i.ID, err)
	}
	i.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	i.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return i, nil
}

func (s *interfaceStore) Get(ctx context.Context, profileID int64, id string) (*Interface, error) {
	i, err := scanInterface(s.db.QueryRowContext(ctx,
		`SELECT `+interfaceColumns+` FROM interfaces WHERE profile_id = ? AND id = ?`, profileID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInterfaceNotFound
	}
	return i, err
}

func (s *interfaceStore) List(ctx context.Context, profileID int64) ([]*Interface, error) {
	return s.list(ctx, `profile_id = ?`, profileID)
}

func (s *interfaceStore) ListEnabled(ctx context.Context, profileID int64) ([]*Interface, error) {
	return s.list(ctx, `profile_id = ? AND enabled = 1`, profileID)
}

func (s *interfaceStore) list(ctx context.Context, where string, args ...any) ([]*Interface, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+interfaceColumns+` FROM interfaces WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Interface
	for rows.Next() {
		i, err := scanInterface(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *interfaceStore) Upsert(ctx context.Context, i *Interface) error {
	if i.ID == "" {
		return errors.New("interface id is required")
	}
	if err := s.validator.ValidateOptions(i.Kind, i.Options); err != nil {
		return fmt.Errorf("interface %s: %w", i.ID, err)
	}
	options, err := encodeOptions(i.Options)
	if err != nil {
		return fmt.Errorf("interface %s: %w", i.ID, err)
	}
	return upsertInterface(ctx, s.db, i, options)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertInterface(ctx context.Context, ex execer, i *Interface, options string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO interfaces (id, profile_id, kind, address, enabled, options)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id, id) DO UPDATE SET
			kind = excluded.kind,
			address = excluded.address,
			enabled = excluded.enabled,
			options = excluded.options,
			updated_at = datetime('now')
	`, i.ID, i.ProfileID, i.Kind, i.Address, i.Enabled, options)
	if err != nil {
		return fmt.Errorf("failed to save interface %s: %w", i.ID, err)
	}
	return nil
}

func encodeOptions(options map[string]any) (string, error) {
	if options == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("failed to encode options: %w", err)
	}
	return string(raw), nil
}

func (s *interfaceStore) SetEnabled(ctx context.Context, profileID int64, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE interfaces SET enabled = ?, updated_at = datetime('now')
		WHERE profile_id = ? AND id = ?
	`, enabled, profileID, id)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrInterfaceNotFound)
}

func (s *interfaceStore) Delete(ctx context.Context, profileID int64, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM interfaces WHERE profile_id = ? AND id = ?`, profileID, id)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrInterfaceNotFound)
}
