package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/syncx"
)

// Query selects a page of rows from one collection.
type Query struct {
	// Filters are exact-match predicates on top-level fields.
	Filters map[string]any
	Offset  int
	// Limit <= 0 means no limit.
	Limit int
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get returns the row with the given id, including bookkeeping fields.
func (s *Store) Get(ctx context.Context, collection string, id int64) (models.Record, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, is_offline, last_sync FROM entities WHERE collection = ? AND id = ?`,
		collection, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%d: %w", collection, id, err)
	}
	return rec, nil
}

// Put inserts or replaces a row. The id, _isOffline and last_sync keys of rec
// are stored as columns; everything else is the document.
func (s *Store) Put(ctx context.Context, collection string, rec models.Record) error {
	return s.put(ctx, s.db, collection, rec)
}

// PutMany upserts every record inside one transaction.
func (s *Store) PutMany(ctx context.Context, collection string, recs []models.Record) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range recs {
			if err := s.put(ctx, tx, collection, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) put(ctx context.Context, ex execer, collection string, rec models.Record) error {
	c, err := s.registry.Lookup(collection)
	if err != nil {
		return err
	}
	if err := c.Validate(rec); err != nil {
		return err
	}

	id := rec.ID()
	data, err := json.Marshal(rec.WithoutBookkeeping())
	if err != nil {
		return fmt.Errorf("failed to encode %s/%d: %w", collection, id, err)
	}

	var lastSync any
	if ms := rec.LastSync(); ms > 0 {
		lastSync = ms
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO entities (collection, id, data, is_offline, last_sync)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			data       = excluded.data,
			is_offline = excluded.is_offline,
			last_sync  = excluded.last_sync
	`, collection, id, string(data), boolToInt(rec.Offline()), lastSync)
	if err != nil {
		return fmt.Errorf("failed to write %s/%d: %w", collection, id, err)
	}
	return nil
}

// Delete removes a row. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, collection string, id int64) error {
	if _, err := s.registry.Lookup(collection); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%d: %w", collection, id, err)
	}
	return nil
}

// Clear removes every row of a collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	if _, err := s.registry.Lookup(collection); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE collection = ?`, collection)
	return err
}

// Count returns the number of rows in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE collection = ?`, collection).Scan(&n)
	return n, err
}

// List returns the rows matching q ordered by id, plus the number of rows
// matching the filters before pagination.
func (s *Store) List(ctx context.Context, collection string, q Query) ([]models.Record, int, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, is_offline, last_sync FROM entities WHERE collection = ? ORDER BY id`,
		collection)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	matched := make([]models.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		if MatchesFilters(rec, q.Filters) {
			matched = append(matched, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	total := len(matched)
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return matched[start:end], total, nil
}

// Rekey moves a row from a local id to a server-assigned id in one
// transaction. The moved row is marked confirmed and an alias is recorded so
// lookups by the old id still resolve.
func (s *Store) Rekey(ctx context.Context, collection string, oldID, newID int64, lastSync int64) (models.Record, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return nil, err
	}

	var moved models.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, data, is_offline, last_sync FROM entities WHERE collection = ? AND id = ?`,
			collection, oldID)
		rec, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entities WHERE collection = ? AND id = ?`, collection, oldID); err != nil {
			return err
		}

		rec[models.FieldID] = newID
		rec[models.FieldOffline] = false
		rec[models.FieldLastSync] = lastSync
		if err := s.put(ctx, tx, collection, rec); err != nil {
			return err
		}

		if oldID < 0 && newID > 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO id_aliases (collection, local_id, server_id, created_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (collection, local_id) DO UPDATE SET server_id = excluded.server_id
			`, collection, oldID, newID, time.Now().UnixMilli()); err != nil {
				return err
			}
		}

		moved = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// Resolve maps a translated local id to its server id. Ids without an alias
// are returned unchanged.
func (s *Store) Resolve(ctx context.Context, collection string, id int64) (int64, error) {
	if id >= 0 {
		return id, nil
	}
	var serverID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT server_id FROM id_aliases WHERE collection = ? AND local_id = ?`,
		collection, id).Scan(&serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return id, nil
	}
	if err != nil {
		return id, fmt.Errorf("failed to resolve %s/%d: %w", collection, id, err)
	}
	return serverID, nil
}

// RewriteReferences replaces oldID with newID in field of every row of
// collection, returning the number of rows changed.
func (s *Store) RewriteReferences(ctx context.Context, collection, field string, oldID, newID int64) (int, error) {
	path := "$." + field
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET data = json_set(data, ?, ?)
		WHERE collection = ? AND json_extract(data, ?) = ?
	`, path, newID, collection, path, oldID)
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite %s.%s references: %w", collection, field, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.Record, error) {
	var (
		id       int64
		data     string
		offline  int
		lastSync sql.NullInt64
	)
	if err := row.Scan(&id, &data, &offline, &lastSync); err != nil {
		return nil, err
	}

	rec := models.Record{}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("corrupt document for id %d: %w", id, err)
	}
	rec[models.FieldID] = id
	rec[models.FieldOffline] = offline != 0
	if lastSync.Valid && lastSync.Int64 > 0 {
		rec[models.FieldLastSync] = lastSync.Int64
	}
	return rec, nil
}

// MatchesFilters reports whether every filter key equals the record's value.
// Equality is exact: values are compared by their JSON encoding, with numbers
// compared numerically. No range or partial matching.
func MatchesFilters(rec models.Record, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := rec[k]
		if !ok || !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
		return false
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string, bool, nil:
		return 0, false
	}
	if i, ok := syncx.ToInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
