package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/erauner12/garagesync/internal/events"
	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/queue"
	"github.com/erauner12/garagesync/internal/remote"
	"github.com/erauner12/garagesync/internal/schema"
	"github.com/erauner12/garagesync/internal/store"
	"github.com/erauner12/garagesync/internal/syncx"
)

// errMissingID marks a create answered without a usable server id.
var errMissingID = errors.New("create response carries no positive id")

func (e *Engine) drain(ctx context.Context) (Result, error) {
	var res Result

	if !e.signal.Online() {
		e.logger.Debug().Msg("offline, skipping drain")
		return res, nil
	}

	ops, err := e.queue.All(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(ops) == 0 {
		return res, nil
	}
	e.logger.Info().Int("queued", len(ops)).Msg("drain started")

	touched := make(map[string]bool)

	for _, snap := range ops {
		if ctx.Err() != nil {
			break
		}

		// Re-read: the accessor may have cancelled or absorbed into this
		// operation since the snapshot was taken.
		op, err := e.queue.Get(ctx, snap.ID)
		if errors.Is(err, queue.ErrNotFound) {
			e.logger.Debug().Str("opId", snap.ID).Msg("operation cancelled before replay")
			continue
		}
		if err != nil {
			return res, err
		}

		if op.RetryCount >= e.maxRetries {
			if err := e.queue.Remove(ctx, op.ID); err != nil {
				return res, err
			}
			res.Abandoned++
			e.logger.Warn().
				Str("opId", op.ID).
				Str("table", op.TableName).
				Int64("resourceId", op.ResourceID).
				Str("operationType", string(op.OperationType)).
				Int("retryCount", op.RetryCount).
				Str("lastErrorMessage", op.LastErrorMessage).
				Msg("abandoning operation after repeated failures")
			continue
		}

		touched[op.TableName] = true
		resp, err := e.attempt(ctx, op)
		if err != nil && op.OperationType == models.OperationDelete && remote.IsNotFound(err) {
			err = nil
		}
		if err == nil {
			err = e.confirm(ctx, op, resp)
			if err != nil {
				// The server applied the request; a retry may apply it twice.
				ev := e.logger.Error().
					Err(err).
					Str("opId", op.ID).
					Str("table", op.TableName).
					Int64("resourceId", op.ResourceID).
					Str("operationType", string(op.OperationType))
				if resp != nil {
					ev = ev.Int("status", resp.StatusCode).Str("responseBody", truncate(string(resp.Body), 512))
				}
				ev.Msg("server accepted operation but local confirmation failed")
			}
		}
		if err == nil {
			res.Success++
			e.logger.Debug().
				Str("opId", op.ID).
				Str("table", op.TableName).
				Str("operationType", string(op.OperationType)).
				Msg("operation replayed")
			continue
		}

		if ctx.Err() != nil {
			break
		}

		res.Failed++
		if rerr := e.recordFailure(ctx, op, err); rerr != nil {
			return res, rerr
		}
		if remote.IsNetwork(err) {
			e.logger.Warn().Err(err).Msg("connectivity lost, stopping drain pass")
			break
		}
	}

	now := e.now()
	collections := make([]string, 0, len(touched))
	for name := range touched {
		collections = append(collections, name)
		if err := e.store.SetLastSync(ctx, name, now); err != nil {
			e.logger.Error().Err(err).Str("table", name).Msg("failed to update sync status")
		}
	}
	sort.Strings(collections)

	if res.Success > 0 {
		e.bus.Publish(events.SyncCompleted{
			Success:     res.Success,
			Failed:      res.Failed,
			Abandoned:   res.Abandoned,
			Collections: collections,
		})
	}

	e.logger.Info().
		Int("success", res.Success).
		Int("failed", res.Failed).
		Int("abandoned", res.Abandoned).
		Msg("drain finished")
	return res, nil
}

func (e *Engine) attempt(ctx context.Context, op models.PendingOperation) (*remote.Response, error) {
	body := []byte(op.Body)
	if op.Method == http.MethodGet {
		body = nil
	} else if len(body) > 0 {
		translated, err := e.resolveBodyRefs(ctx, op.TableName, body)
		if err != nil {
			return nil, err
		}
		body = translated
	}
	return e.remote.Do(ctx, remote.Request{
		Method:  op.Method,
		URL:     op.URL,
		Headers: op.Headers,
		Body:    body,
	})
}

func (e *Engine) recordFailure(ctx context.Context, op models.PendingOperation, cause error) error {
	retries := op.RetryCount + 1
	at := e.now()
	msg := cause.Error()
	err := e.queue.Rewrite(ctx, op.ID, queue.Patch{
		RetryCount:       &retries,
		LastAttempt:      &at,
		LastErrorMessage: &msg,
	})
	if errors.Is(err, queue.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	e.logger.Warn().
		Err(cause).
		Str("opId", op.ID).
		Str("table", op.TableName).
		Int("retryCount", retries).
		Msg("operation failed, will retry")
	return nil
}

// confirm applies the local consequences of a replay success.
func (e *Engine) confirm(ctx context.Context, op models.PendingOperation, resp *remote.Response) error {
	switch op.OperationType {
	case models.OperationCreate:
		return e.confirmCreate(ctx, op, resp)
	case models.OperationUpdate:
		return e.confirmUpdate(ctx, op)
	default:
		return e.store.Exclusive(func() error {
			_, err := e.queue.RemoveIfRevision(ctx, op.ID, op.Revision)
			return err
		})
	}
}

func (e *Engine) confirmCreate(ctx context.Context, op models.PendingOperation, resp *remote.Response) error {
	var created models.Record
	if resp != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &created); err != nil {
			return fmt.Errorf("failed to decode create response: %w", err)
		}
	}
	newID, ok := syncx.ExtractID(created)
	if !ok {
		return errMissingID
	}
	oldID := op.ResourceID
	table := op.TableName

	var moved models.Record
	err := e.store.Exclusive(func() error {
		current, err := e.queue.Get(ctx, op.ID)
		cancelled := errors.Is(err, queue.ErrNotFound)
		if err != nil && !cancelled {
			return err
		}

		if oldID != newID {
			moved, err = e.store.Rekey(ctx, table, oldID, newID, e.now())
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err := e.translateReferences(ctx, table, oldID, newID, op.ID); err != nil {
				return err
			}
		}

		if cancelled {
			// Deleted locally while the create was in flight: the server
			// copy must go too.
			return e.enqueueDelete(ctx, op, newID)
		}

		removed, err := e.queue.RemoveIfRevision(ctx, op.ID, op.Revision)
		if err != nil || removed {
			return err
		}
		// Absorbed edits arrived while in flight: replay them as an update
		// against the confirmed id.
		url := remote.ItemURL(op.URL, newID)
		method := http.MethodPut
		opType := models.OperationUpdate
		zero := 0
		e.logger.Debug().
			Str("opId", op.ID).
			Int("revision", current.Revision).
			Int64("serverId", newID).
			Msg("create absorbed edits in flight, converting to update")
		if err := e.queue.Rewrite(ctx, op.ID, queue.Patch{
			URL:           &url,
			Method:        &method,
			OperationType: &opType,
			ResourceID:    &newID,
			RetryCount:    &zero,
		}); err != nil {
			return err
		}
		if moved == nil {
			return nil
		}
		// The server has not seen those edits yet.
		moved[models.FieldOffline] = true
		return e.store.Put(ctx, table, moved)
	})
	if err != nil {
		return err
	}

	if moved != nil {
		e.bus.Publish(events.EntityUpdated{Collection: table, Entity: moved, PreviousID: oldID})
	}
	return nil
}

func (e *Engine) confirmUpdate(ctx context.Context, op models.PendingOperation) error {
	var confirmed models.Record
	err := e.store.Exclusive(func() error {
		if _, err := e.queue.RemoveIfRevision(ctx, op.ID, op.Revision); err != nil {
			return err
		}
		remaining, err := e.queue.ListByResource(ctx, op.TableName, op.ResourceID)
		if err != nil || len(remaining) > 0 {
			return err
		}
		rec, err := e.store.Get(ctx, op.TableName, op.ResourceID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec[models.FieldOffline] = false
		rec[models.FieldLastSync] = e.now()
		if err := e.store.Put(ctx, op.TableName, rec); err != nil {
			return err
		}
		confirmed = rec
		return nil
	})
	if err != nil {
		return err
	}
	if confirmed != nil {
		e.bus.Publish(events.EntityUpdated{Collection: op.TableName, Entity: confirmed})
	}
	return nil
}

func (e *Engine) enqueueDelete(ctx context.Context, op models.PendingOperation, serverID int64) error {
	_, err := e.queue.Enqueue(ctx, models.PendingOperation{
		URL:           remote.ItemURL(op.URL, serverID),
		Method:        http.MethodDelete,
		Headers:       op.Headers,
		TableName:     op.TableName,
		ResourceID:    serverID,
		OperationType: models.OperationDelete,
	})
	if err == nil {
		e.logger.Info().
			Str("table", op.TableName).
			Int64("serverId", serverID).
			Msg("create confirmed after local delete, queued server delete")
	}
	return err
}

// translateReferences rewrites oldID to newID everywhere it can still
// appear: foreign keys in local rows, foreign keys in queued bodies, and
// queued operations still addressing the old id.
func (e *Engine) translateReferences(ctx context.Context, table string, oldID, newID int64, skipOp string) error {
	refs := e.store.Registry().ReferencesTo(table)
	for _, ref := range refs {
		n, err := e.store.RewriteReferences(ctx, ref.Collection, ref.Field, oldID, newID)
		if err != nil {
			return err
		}
		if n > 0 {
			e.logger.Debug().
				Str("table", ref.Collection).
				Str("field", ref.Field).
				Int("rows", n).
				Msg("translated local references")
		}
	}

	ops, err := e.queue.All(ctx)
	if err != nil {
		return err
	}
	for _, qop := range ops {
		if qop.ID == skipOp {
			continue
		}
		patch := queue.Patch{}

		if qop.TableName == table && qop.ResourceID == oldID {
			id := newID
			patch.ResourceID = &id
			if qop.OperationType != models.OperationCreate {
				url := retarget(qop.URL, oldID, newID)
				patch.URL = &url
			}
		}

		if body := rewriteBodyRefs(qop, refs, oldID, newID); body != nil {
			patch.Body = body
		}

		if patch.ResourceID == nil && patch.Body == nil {
			continue
		}
		if err := e.queue.Rewrite(ctx, qop.ID, patch); err != nil && !errors.Is(err, queue.ErrNotFound) {
			return err
		}
	}
	return nil
}

// rewriteBodyRefs returns the re-encoded body of op when one of its
// reference fields held oldID, or nil when nothing changed.
func rewriteBodyRefs(op models.PendingOperation, refs []schema.Reference, oldID, newID int64) []byte {
	if len(op.Body) == 0 {
		return nil
	}
	var body models.Record
	changed := false
	for _, ref := range refs {
		if ref.Collection != op.TableName {
			continue
		}
		if body == nil {
			decoded, err := op.DecodeBody()
			if err != nil {
				return nil
			}
			body = decoded
		}
		if v, ok := syncx.GetInt64(body, ref.Field); ok && v == oldID {
			body[ref.Field] = newID
			changed = true
		}
	}
	if !changed {
		return nil
	}
	out, err := json.Marshal(body)
	if err != nil {
		return nil
	}
	return out
}

// resolveBodyRefs maps reference fields still holding translated local ids
// to their server ids. The stored body is left untouched.
func (e *Engine) resolveBodyRefs(ctx context.Context, table string, body []byte) ([]byte, error) {
	c, err := e.store.Registry().Lookup(table)
	if err != nil {
		return nil, err
	}
	var rec models.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		// Not an object; send as stored.
		return body, nil
	}
	changed := false
	for field, f := range c.Fields {
		if f.Kind != schema.KindRef {
			continue
		}
		v, ok := syncx.GetInt64(rec, field)
		if !ok || v >= 0 {
			continue
		}
		resolved, err := e.store.Resolve(ctx, f.Ref, v)
		if err != nil {
			return nil, err
		}
		if resolved != v {
			rec[field] = resolved
			changed = true
		}
	}
	if !changed {
		return body, nil
	}
	return json.Marshal(rec)
}

func retarget(url string, oldID, newID int64) string {
	suffix := "/" + strconv.FormatInt(oldID, 10)
	if strings.HasSuffix(url, suffix) {
		return strings.TrimSuffix(url, suffix) + "/" + strconv.FormatInt(newID, 10)
	}
	return url
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
