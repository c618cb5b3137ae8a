// File: internal/credentials/sqlite.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattn/go-sqlite3"

	"github.com/momentics/hioload-chat/api"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	username   TEXT PRIMARY KEY,
	secret     TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// SQLiteStore persists users in a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens dsn (a file path or ":memory:") and creates the schema.
func OpenSQLite(ctx context.Context, dsn string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	log.Info("credential store opened", "backend", "sqlite", "dsn", dsn)
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, username string) (string, bool, error) {
	var secret string
	err := s.db.QueryRowContext(ctx, `SELECT secret FROM users WHERE username = ?`, username).Scan(&secret)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("sqlite lookup %s: %w: %w", username, api.ErrBackendDown, err)
	}
	return secret, true, nil
}

func (s *SQLiteStore) Store(ctx context.Context, u api.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, secret, first_name, last_name) VALUES (?, ?, ?, ?)`,
		u.Username, u.Secret, u.FirstName, u.LastName)
	var serr sqlite3.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint:
		return api.ErrAlreadyExists
	}
	return fmt.Errorf("sqlite store %s: %w: %w", u.Username, api.ErrBackendDown, err)
}

// Profile returns the stored names of username.
func (s *SQLiteStore) Profile(ctx context.Context, username string) (api.User, error) {
	u := api.User{Username: username}
	err := s.db.QueryRowContext(ctx,
		`SELECT first_name, last_name FROM users WHERE username = ?`, username).Scan(&u.FirstName, &u.LastName)
	if errors.Is(err, sql.ErrNoRows) {
		return u, api.ErrNotFound
	}
	return u, err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
