// Package store is the durable local store: mirrored entity rows, the
// per-collection sync status and the id alias table, persisted in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/erauner12/garagesync/internal/schema"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the SQLite database shared by the mirrored collections and the
// pending operation queue.
type Store struct {
	db       *sql.DB
	registry *schema.Registry

	// excl serializes read-modify-write sequences across components.
	excl sync.Mutex
}

// Open creates or opens the database at path and applies the schema.
// The database uses WAL mode and a single connection, since SQLite only
// supports one writer at a time.
func Open(path string, registry *schema.Registry) (*Store, error) {
	if registry == nil {
		return nil, errors.New("store: registry is required")
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("local store opened")

	return &Store{db: db, registry: registry}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database. The pending operation queue lives in
// the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Registry returns the collection registry used for validation.
func (s *Store) Registry() *schema.Registry {
	return s.registry
}

// Exclusive runs fn while holding the store-wide critical section.
// Store methods never take this lock themselves, so fn may call them freely.
// Never hold it across network calls.
func (s *Store) Exclusive(fn func() error) error {
	s.excl.Lock()
	defer s.excl.Unlock()
	return fn()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
