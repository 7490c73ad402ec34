package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrAPIServerNotFound = errors.New("api server config not found")

// APIServer is the listen address of the status API.
type APIServer struct {
	ID        int64
	ProfileID int64
	Host      string
	Port      int
	CreatedAt time.Time
}

// Address returns the API server listen address (host:port).
func (a *APIServer) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// APIServerStore reads and writes the per-profile API listen address.
type APIServerStore interface {
	Get(ctx context.Context, profileID int64) (*APIServer, error)
	Save(ctx context.Context, a *APIServer) error
}

// APIServers returns an APIServerStore for this database.
func (db *DB) APIServers() APIServerStore {
	return &apiServerStore{db: db}
}

type apiServerStore struct {
	db *DB
}

func (s *apiServerStore) Get(ctx context.Context, profileID int64) (*APIServer, error) {
	a := &APIServer{}
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, profile_id, host, port, created_at
		FROM api_servers WHERE profile_id = ?
	`, profileID).Scan(&a.ID, &a.ProfileID, &a.Host, &a.Port, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIServerNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return a, nil
}

// Save creates or replaces the profile's API server address. Empty host and
// zero port fall back to 0.0.0.0:8080.
func (s *apiServerStore) Save(ctx context.Context, a *APIServer) error {
	return saveAPIServer(ctx, s.db, a)
}

const (
	defaultAPIHost = "0.0.0.0"
	defaultAPIPort = 8080
)

func saveAPIServer(ctx context.Context, ex execer, a *APIServer) error {
	if a.Host == "" {
		a.Host = defaultAPIHost
	}
	if a.Port == 0 {
		a.Port = defaultAPIPort
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO api_servers (profile_id, host, port) VALUES (?, ?, ?)
		ON CONFLICT (profile_id) DO UPDATE SET host = excluded.host, port = excluded.port
	`, a.ProfileID, a.Host, a.Port)
	if err != nil {
		return fmt.Errorf("failed to save API server: %w", err)
	}
	return nil
}

// requireAffected maps a statement that touched no rows to notFound.
func requireAffected(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
