// Package queue is the durable pending operation queue. Entries live in the
// local store's database and are read back in enqueue order.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/erauner12/garagesync/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when an operation id is not queued.
var ErrNotFound = errors.New("pending operation not found")

// Queue stores pending operations. Timestamps assigned by Enqueue are
// strictly increasing within a process.
type Queue struct {
	db *sql.DB

	mu     sync.Mutex
	seeded bool
	lastTS int64
	now    func() time.Time
}

// New returns a queue over db. The pending_operations table must already
// exist (store.Open creates it).
func New(db *sql.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Filter narrows Count. Empty fields match everything.
type Filter struct {
	TableName     string
	OperationType models.OperationType
}

// Patch rewrites fields of a queued operation in place. Nil fields are left
// untouched. Changing URL, Method, Body or OperationType bumps the revision.
type Patch struct {
	URL              *string
	Method           *string
	Body             json.RawMessage
	OperationType    *models.OperationType
	ResourceID       *int64
	RetryCount       *int
	LastAttempt      *int64
	LastErrorMessage *string
}

func (p Patch) changesPayload() bool {
	return p.URL != nil || p.Method != nil || p.Body != nil || p.OperationType != nil || p.ResourceID != nil
}

// Enqueue appends op and returns its id. A missing id is generated; the
// timestamp is always assigned here.
func (q *Queue) Enqueue(ctx context.Context, op models.PendingOperation) (string, error) {
	if !op.OperationType.Valid() {
		return "", fmt.Errorf("invalid operation type %q", op.OperationType)
	}
	if op.TableName == "" {
		return "", errors.New("pending operation requires a table name")
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	op.Method = strings.ToUpper(op.Method)
	ts, err := q.nextTimestamp(ctx)
	if err != nil {
		return "", err
	}
	op.Timestamp = ts

	headers, err := json.Marshal(op.Headers)
	if err != nil {
		return "", fmt.Errorf("failed to encode headers: %w", err)
	}
	if op.Headers == nil {
		headers = []byte("{}")
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO pending_operations (
			id, timestamp, url, method, headers, body, table_name, resource_id,
			operation_type, retry_count, last_attempt, last_error_message, revision
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.Timestamp, op.URL, op.Method, string(headers), nullableBody(op.Body),
		op.TableName, op.ResourceID, string(op.OperationType), op.RetryCount,
		nullableInt(op.LastAttempt), nullableString(op.LastErrorMessage), op.Revision)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue operation: %w", err)
	}
	return op.ID, nil
}

// nextTimestamp continues after the newest persisted entry, so a clock that
// went backwards across restarts cannot order new entries before old ones.
func (q *Queue) nextTimestamp(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.seeded {
		var last sql.NullInt64
		if err := q.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM pending_operations`).Scan(&last); err != nil {
			return 0, fmt.Errorf("failed to read last queue timestamp: %w", err)
		}
		if last.Valid && last.Int64 > q.lastTS {
			q.lastTS = last.Int64
		}
		q.seeded = true
	}
	ts := q.now().UnixMilli()
	if ts <= q.lastTS {
		ts = q.lastTS + 1
	}
	q.lastTS = ts
	return ts, nil
}

const selectColumns = `id, timestamp, url, method, headers, body, table_name, resource_id,
	operation_type, retry_count, last_attempt, last_error_message, revision`

// All returns every queued operation, oldest first.
func (q *Queue) All(ctx context.Context) ([]models.PendingOperation, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM pending_operations ORDER BY timestamp ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// Get returns a single operation.
func (q *Queue) Get(ctx context.Context, id string) (models.PendingOperation, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM pending_operations WHERE id = ?`, id)
	op, err := scanOp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PendingOperation{}, ErrNotFound
	}
	return op, err
}

// Remove deletes an operation. Removing a missing id is not an error.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove operation %s: %w", id, err)
	}
	return nil
}

// RemoveIfRevision deletes the operation only if its payload has not been
// rewritten since rev was read. It reports whether a row was removed.
func (q *Queue) RemoveIfRevision(ctx context.Context, id string, rev int) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM pending_operations WHERE id = ? AND revision = ?`, id, rev)
	if err != nil {
		return false, fmt.Errorf("failed to remove operation %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Rewrite applies p to the operation in a single statement.
func (q *Queue) Rewrite(ctx context.Context, id string, p Patch) error {
	var (
		sets []string
		args []any
	)
	if p.URL != nil {
		sets, args = append(sets, "url = ?"), append(args, *p.URL)
	}
	if p.Method != nil {
		sets, args = append(sets, "method = ?"), append(args, strings.ToUpper(*p.Method))
	}
	if p.Body != nil {
		sets, args = append(sets, "body = ?"), append(args, string(p.Body))
	}
	if p.OperationType != nil {
		if !p.OperationType.Valid() {
			return fmt.Errorf("invalid operation type %q", *p.OperationType)
		}
		sets, args = append(sets, "operation_type = ?"), append(args, string(*p.OperationType))
	}
	if p.ResourceID != nil {
		sets, args = append(sets, "resource_id = ?"), append(args, *p.ResourceID)
	}
	if p.RetryCount != nil {
		sets, args = append(sets, "retry_count = ?"), append(args, *p.RetryCount)
	}
	if p.LastAttempt != nil {
		sets, args = append(sets, "last_attempt = ?"), append(args, *p.LastAttempt)
	}
	if p.LastErrorMessage != nil {
		sets, args = append(sets, "last_error_message = ?"), append(args, *p.LastErrorMessage)
	}
	if len(sets) == 0 {
		return nil
	}
	if p.changesPayload() {
		sets = append(sets, "revision = revision + 1")
	}

	args = append(args, id)
	res, err := q.db.ExecContext(ctx,
		`UPDATE pending_operations SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to rewrite operation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of queued operations matching f.
func (q *Queue) Count(ctx context.Context, f Filter) (int, error) {
	query := `SELECT COUNT(*) FROM pending_operations WHERE 1 = 1`
	var args []any
	if f.TableName != "" {
		query += ` AND table_name = ?`
		args = append(args, f.TableName)
	}
	if f.OperationType != "" {
		query += ` AND operation_type = ?`
		args = append(args, string(f.OperationType))
	}
	var n int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

// FindByResource returns the oldest operation of the given type targeting a
// resource, or ErrNotFound.
func (q *Queue) FindByResource(ctx context.Context, table string, resourceID int64, opType models.OperationType) (models.PendingOperation, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM pending_operations
		WHERE table_name = ? AND resource_id = ? AND operation_type = ?
		ORDER BY timestamp ASC, seq ASC LIMIT 1`, table, resourceID, string(opType))
	op, err := scanOp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PendingOperation{}, ErrNotFound
	}
	return op, err
}

// ListByResource returns every operation targeting a resource, oldest first.
func (q *Queue) ListByResource(ctx context.Context, table string, resourceID int64) ([]models.PendingOperation, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM pending_operations
		WHERE table_name = ? AND resource_id = ?
		ORDER BY timestamp ASC, seq ASC`, table, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOp(row scanner) (models.PendingOperation, error) {
	var (
		op          models.PendingOperation
		headers     string
		body        sql.NullString
		opType      string
		lastAttempt sql.NullInt64
		lastError   sql.NullString
	)
	err := row.Scan(&op.ID, &op.Timestamp, &op.URL, &op.Method, &headers, &body,
		&op.TableName, &op.ResourceID, &opType, &op.RetryCount, &lastAttempt,
		&lastError, &op.Revision)
	if err != nil {
		return op, err
	}
	op.OperationType = models.OperationType(opType)
	if headers != "" && headers != "{}" {
		if err := json.Unmarshal([]byte(headers), &op.Headers); err != nil {
			return op, fmt.Errorf("corrupt headers on operation %s: %w", op.ID, err)
		}
	}
	if body.Valid {
		op.Body = json.RawMessage(body.String)
	}
	op.LastAttempt = lastAttempt.Int64
	op.LastErrorMessage = lastError.String
	return op, nil
}

func scanAll(rows *sql.Rows) ([]models.PendingOperation, error) {
	out := make([]models.PendingOperation, 0)
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func nullableBody(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
