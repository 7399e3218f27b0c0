package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/erauner12/garagesync/internal/models"
)

// LastSync returns the last successful sync of a collection (0 = never).
func (s *Store) LastSync(ctx context.Context, collection string) (int64, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync FROM sync_status WHERE collection = ?`, collection).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sync status for %s: %w", collection, err)
	}
	return ms, nil
}

// SetLastSync records a successful sync of a collection.
func (s *Store) SetLastSync(ctx context.Context, collection string, ms int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (collection, last_sync) VALUES (?, ?)
		ON CONFLICT (collection) DO UPDATE SET last_sync = excluded.last_sync
	`, collection, ms)
	if err != nil {
		return fmt.Errorf("failed to write sync status for %s: %w", collection, err)
	}
	return nil
}

// SyncStatuses returns the status of every registered collection, including
// those never synced.
func (s *Store) SyncStatuses(ctx context.Context) ([]models.SyncStatus, error) {
	names := s.registry.Names()
	out := make([]models.SyncStatus, 0, len(names))
	for _, name := range names {
		ms, err := s.LastSync(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, models.SyncStatus{Collection: name, LastSync: ms})
	}
	return out, nil
}
