package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresBackend keeps the values of many sessions in one table. Rows are
// deleted when their session is cleared.
type PostgresBackend struct {
	db *sqlx.DB
}

// NewPostgresBackend connects and creates the session_values table if it
// does not exist.
func NewPostgresBackend(dataSourceName string) (*PostgresBackend, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS session_values (
		session_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (session_id, key)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session_values table: %w", err)
	}

	return &PostgresBackend{db: db}, nil
}

// Session returns the Store of one session.
func (b *PostgresBackend) Session(id string) Store {
	return &PostgresStore{db: b.db, sessionID: id}
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore is the Store of a single session inside a PostgresBackend.
type PostgresStore struct {
	db        *sqlx.DB
	sessionID string
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM session_values WHERE session_id = $1 AND key = $2", s.sessionID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get session value: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_values (session_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, s.sessionID, key, value)
	if err != nil {
		return fmt.Errorf("failed to save session value: %w", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_values WHERE session_id = $1", s.sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
