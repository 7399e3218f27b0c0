package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/schema"
	"github.com/erauner12/garagesync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "local.db"), schema.DefaultRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s.DB())
}

func createOp(table string, resourceID int64, body string) models.PendingOperation {
	return models.PendingOperation{
		URL:           "/api/" + table,
		Method:        "post",
		Body:          json.RawMessage(body),
		TableName:     table,
		ResourceID:    resourceID,
		OperationType: models.OperationCreate,
	}
}

func TestQueue_EnqueueAssignsIDAndTimestamp(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, createOp("clients", -1, `{"name":"a"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	op, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "POST", op.Method)
	assert.Equal(t, int64(-1), op.ResourceID)
	assert.Equal(t, models.OperationCreate, op.OperationType)
	assert.JSONEq(t, `{"name":"a"}`, string(op.Body))
	assert.Positive(t, op.Timestamp)
	assert.Zero(t, op.RetryCount)
}

func TestQueue_RejectsInvalidType(t *testing.T) {
	q := newTestQueue(t)

	op := createOp("clients", -1, `{}`)
	op.OperationType = "upsert"
	_, err := q.Enqueue(context.Background(), op)
	assert.Error(t, err)
}

func TestQueue_TimestampsStrictlyIncrease(t *testing.T) {
	q := newTestQueue(t)
	frozen := time.UnixMilli(1700000000000)
	q.now = func() time.Time { return frozen }
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue(ctx, createOp("clients", int64(-1-i), `{}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ops, err := q.All(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 5)
	for i, op := range ops {
		assert.Equal(t, ids[i], op.ID)
		if i > 0 {
			assert.Greater(t, op.Timestamp, ops[i-1].Timestamp)
		}
	}
}

func TestQueue_RewriteRetryBookkeepingKeepsRevision(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, createOp("clients", -1, `{}`))
	require.NoError(t, err)

	retries, at, msg := 2, int64(99), "boom"
	require.NoError(t, q.Rewrite(ctx, id, Patch{RetryCount: &retries, LastAttempt: &at, LastErrorMessage: &msg}))

	op, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, op.RetryCount)
	assert.Equal(t, int64(99), op.LastAttempt)
	assert.Equal(t, "boom", op.LastErrorMessage)
	assert.Zero(t, op.Revision)
}

func TestQueue_RewritePayloadBumpsRevision(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, createOp("clients", -1, `{"name":"a"}`))
	require.NoError(t, err)

	require.NoError(t, q.Rewrite(ctx, id, Patch{Body: json.RawMessage(`{"name":"b"}`)}))

	op, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, op.Revision)
	assert.JSONEq(t, `{"name":"b"}`, string(op.Body))

	removed, err := q.RemoveIfRevision(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = q.RemoveIfRevision(ctx, id, 1)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = q.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_RewriteMissing(t *testing.T) {
	q := newTestQueue(t)

	n := 1
	err := q.Rewrite(context.Background(), "missing", Patch{RetryCount: &n})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_CountByFilter(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, createOp("clients", -1, `{}`))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, createOp("vehicles", -2, `{}`))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.PendingOperation{
		URL: "/api/clients/4", Method: "DELETE", TableName: "clients",
		ResourceID: 4, OperationType: models.OperationDelete,
	})
	require.NoError(t, err)

	n, err := q.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = q.Count(ctx, Filter{TableName: "clients"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = q.Count(ctx, Filter{TableName: "clients", OperationType: models.OperationDelete})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.Count(ctx, Filter{OperationType: models.OperationUpdate})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_FindByResource(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, createOp("clients", -7, `{}`))
	require.NoError(t, err)

	op, err := q.FindByResource(ctx, "clients", -7, models.OperationCreate)
	require.NoError(t, err)
	assert.Equal(t, id, op.ID)

	_, err = q.FindByResource(ctx, "vehicles", -7, models.OperationCreate)
	assert.ErrorIs(t, err, ErrNotFound)

	ops, err := q.ListByResource(ctx, "clients", -7)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	require.NoError(t, q.Remove(ctx, id))
	require.NoError(t, q.Remove(ctx, id))
	n, _ := q.Count(ctx, Filter{})
	assert.Zero(t, n)
}

func TestQueue_TimestampsContinueAfterPersistedEntries(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "local.db"), schema.DefaultRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	first := New(s.DB())
	first.now = func() time.Time { return time.UnixMilli(1700000005000) }
	oldID, err := first.Enqueue(ctx, createOp("clients", -1, `{}`))
	require.NoError(t, err)

	// A new process whose clock is behind the last persisted entry.
	second := New(s.DB())
	second.now = func() time.Time { return time.UnixMilli(1700000000000) }
	newID, err := second.Enqueue(ctx, createOp("clients", -2, `{}`))
	require.NoError(t, err)

	ops, err := second.All(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, oldID, ops[0].ID)
	assert.Equal(t, newID, ops[1].ID)
	assert.Equal(t, int64(1700000005001), ops[1].Timestamp)
}
