// Package accessor is the per-collection CRUD facade used by application
// code. Calls go to the remote API first when online and degrade to the
// local store plus the pending operation queue otherwise.
package accessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/erauner12/garagesync/internal/connectivity"
	"github.com/erauner12/garagesync/internal/events"
	"github.com/erauner12/garagesync/internal/localid"
	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/queue"
	"github.com/erauner12/garagesync/internal/remote"
	"github.com/erauner12/garagesync/internal/schema"
	"github.com/erauner12/garagesync/internal/store"
	"github.com/erauner12/garagesync/internal/syncx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize applies to List calls with limit <= 0.
const DefaultPageSize = 10

// API is the remote collection API. *remote.Client satisfies it.
type API interface {
	Create(ctx context.Context, apiURL string, item models.Record) (models.Record, error)
	Get(ctx context.Context, apiURL string, id int64) (models.Record, error)
	Update(ctx context.Context, apiURL string, id int64, patch models.Record) (models.Record, error)
	Delete(ctx context.Context, apiURL string, id int64) error
	List(ctx context.Context, apiURL string, p remote.ListParams) (*remote.ListResponse, error)
}

// Syncer schedules a drain without waiting for it.
type Syncer interface {
	Trigger()
}

// Accessor implements add/get/update/delete/list for every registered
// collection.
type Accessor struct {
	store  *store.Store
	queue  *queue.Queue
	api    API
	signal connectivity.Signal
	bus    *events.Bus
	syncer Syncer
	logger zerolog.Logger
	now    func() int64
}

// New wires an accessor. bus and syncer may be nil.
func New(s *store.Store, q *queue.Queue, api API, signal connectivity.Signal, bus *events.Bus, syncer Syncer) *Accessor {
	return &Accessor{
		store:  s,
		queue:  q,
		api:    api,
		signal: signal,
		bus:    bus,
		syncer: syncer,
		logger: log.With().Str("component", "accessor").Logger(),
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

func (a *Accessor) collection(table, apiURL string) (*schema.Collection, string, error) {
	c, err := a.store.Registry().Lookup(table)
	if err != nil {
		return nil, "", err
	}
	if apiURL == "" {
		apiURL = c.APIPath
	}
	return c, apiURL, nil
}

func (a *Accessor) triggerSync() {
	if a.syncer != nil {
		a.syncer.Trigger()
	}
}

// resolveID maps a local id that has already been translated to its server id.
func (a *Accessor) resolveID(ctx context.Context, table string, id int64) int64 {
	resolved, err := a.store.Resolve(ctx, table, id)
	if err != nil {
		a.logger.Warn().Err(err).Str("table", table).Int64("id", id).Msg("failed to resolve id alias")
		return id
	}
	return resolved
}

// resolveRefs rewrites reference fields holding translated local ids.
func (a *Accessor) resolveRefs(ctx context.Context, c *schema.Collection, rec models.Record) models.Record {
	out := rec
	cloned := false
	for field, f := range c.Fields {
		if f.Kind != schema.KindRef {
			continue
		}
		v, ok := syncx.GetInt64(rec, field)
		if !ok || v >= 0 {
			continue
		}
		if resolved := a.resolveID(ctx, f.Ref, v); resolved != v {
			if !cloned {
				out, cloned = rec.Clone(), true
			}
			out[field] = resolved
		}
	}
	return out
}

func (a *Accessor) confirmed(rec models.Record) models.Record {
	out := rec.Clone()
	out[models.FieldOffline] = false
	out[models.FieldLastSync] = a.now()
	return out
}

// Add creates item. Online, the server record is mirrored and its id
// returned; on any failure the item is stored under a fresh local id and a
// create is queued. Only an unknown table or a local write failure is
// returned as an error.
func (a *Accessor) Add(ctx context.Context, table string, item models.Record, apiURL string) (int64, error) {
	c, apiURL, err := a.collection(table, apiURL)
	if err != nil {
		return 0, err
	}
	payload := a.resolveRefs(ctx, c, item.Payload())

	if a.signal.Online() {
		created, err := a.api.Create(ctx, apiURL, payload)
		if err == nil {
			if id, ok := syncx.ExtractID(created); ok {
				rec := a.confirmed(payload.Merge(created))
				if err := a.store.Put(ctx, table, rec); err != nil {
					a.logger.Error().Err(err).Str("table", table).Int64("id", id).Msg("failed to mirror created record")
				} else {
					a.bus.Publish(events.EntityAdded{Collection: table, Entity: rec})
				}
				return id, nil
			}
			err = errors.New("create response carries no positive id")
		}
		a.logger.Warn().Err(err).Str("table", table).Msg("online create failed, queueing")
	}

	localID := localid.New()
	rec := payload.Clone()
	rec[models.FieldID] = localID
	rec[models.FieldOffline] = true

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s payload: %w", table, err)
	}

	err = a.store.Exclusive(func() error {
		if err := a.store.Put(ctx, table, rec); err != nil {
			return err
		}
		_, err := a.queue.Enqueue(ctx, models.PendingOperation{
			URL:           apiURL,
			Method:        http.MethodPost,
			Body:          body,
			TableName:     table,
			ResourceID:    localID,
			OperationType: models.OperationCreate,
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	a.bus.Publish(events.EntityAdded{Collection: table, Entity: rec})
	a.triggerSync()
	return localID, nil
}

// Get returns the record. Confirmed ids are fetched from the server when
// online; local ids, offline calls and any remote failure read the local
// copy. A record absent locally is a *NotFoundError.
func (a *Accessor) Get(ctx context.Context, table string, id int64, apiURL string) (models.Record, error) {
	_, apiURL, err := a.collection(table, apiURL)
	if err != nil {
		return nil, err
	}
	id = a.resolveID(ctx, table, id)

	if id > 0 && a.signal.Online() {
		fetched, err := a.api.Get(ctx, apiURL, id)
		if err == nil {
			fetched[models.FieldID] = id
			rec, found, err := a.mirror(ctx, table, id, fetched)
			if err != nil {
				a.logger.Error().Err(err).Str("table", table).Int64("id", id).Msg("failed to mirror fetched record")
				return a.confirmed(fetched), nil
			}
			if !found {
				return nil, &NotFoundError{Table: table, ID: id}
			}
			return rec, nil
		}
		if !remote.IsNotFound(err) {
			a.logger.Debug().Err(err).Str("table", table).Int64("id", id).Msg("online get failed, reading local copy")
		}
	}

	rec, err := a.store.Get(ctx, table, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Table: table, ID: id}
	}
	return rec, err
}

// Update merges patch into the record. The local record must exist.
// Offline, an update of a confirmed record queues the patch; an update of a
// local-only record folds the full merged record into its queued create.
func (a *Accessor) Update(ctx context.Context, table string, id int64, patch models.Record, apiURL string) (int64, error) {
	c, apiURL, err := a.collection(table, apiURL)
	if err != nil {
		return 0, err
	}
	patch = a.resolveRefs(ctx, c, patch.Payload())
	if err := c.ValidatePatch(patch); err != nil {
		return 0, err
	}
	// Resolve under the lock: the engine may translate the id at any time.
	err = a.store.Exclusive(func() error {
		id = a.resolveID(ctx, table, id)
		_, err := a.store.Get(ctx, table, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return 0, &NotFoundError{Table: table, ID: id}
	}
	if err != nil {
		return 0, err
	}

	if id > 0 && a.signal.Online() {
		_, err := a.api.Update(ctx, apiURL, id, patch)
		if err == nil {
			var rec models.Record
			err := a.store.Exclusive(func() error {
				cur, err := a.store.Get(ctx, table, id)
				if err != nil {
					return err
				}
				rec = a.confirmed(cur.Merge(patch))
				// Earlier offline edits are still queued for this record.
				ops, err := a.queue.ListByResource(ctx, table, id)
				if err != nil {
					return err
				}
				if len(ops) > 0 {
					rec[models.FieldOffline] = true
				}
				return a.store.Put(ctx, table, rec)
			})
			if errors.Is(err, store.ErrNotFound) {
				return 0, &NotFoundError{Table: table, ID: id}
			}
			if err != nil {
				return 0, err
			}
			a.bus.Publish(events.EntityUpdated{Collection: table, Entity: rec})
			return id, nil
		}
		a.logger.Warn().Err(err).Str("table", table).Int64("id", id).Msg("online update failed, queueing")
	}

	var rec models.Record
	err = a.store.Exclusive(func() error {
		id = a.resolveID(ctx, table, id)
		cur, err := a.store.Get(ctx, table, id)
		if err != nil {
			return err
		}
		rec = cur.Merge(patch)
		rec[models.FieldOffline] = true
		if err := a.store.Put(ctx, table, rec); err != nil {
			return err
		}

		if id > 0 {
			body, err := json.Marshal(patch)
			if err != nil {
				return err
			}
			_, err = a.queue.Enqueue(ctx, models.PendingOperation{
				URL:           remote.ItemURL(apiURL, id),
				Method:        http.MethodPut,
				Body:          body,
				TableName:     table,
				ResourceID:    id,
				OperationType: models.OperationUpdate,
			})
			return err
		}

		body, err := json.Marshal(rec.Payload())
		if err != nil {
			return err
		}
		pending, err := a.queue.FindByResource(ctx, table, id, models.OperationCreate)
		if err == nil {
			return a.queue.Rewrite(ctx, pending.ID, queue.Patch{Body: body})
		}
		if !errors.Is(err, queue.ErrNotFound) {
			return err
		}
		_, err = a.queue.Enqueue(ctx, models.PendingOperation{
			URL:           apiURL,
			Method:        http.MethodPost,
			Body:          body,
			TableName:     table,
			ResourceID:    id,
			OperationType: models.OperationCreate,
		})
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return 0, &NotFoundError{Table: table, ID: id}
	}
	if err != nil {
		return 0, err
	}

	a.bus.Publish(events.EntityUpdated{Collection: table, Entity: rec})
	a.triggerSync()
	return id, nil
}

// Delete removes the record. A local-only record cancels its queued create
// and never reaches the server. Otherwise the local copy is removed at once
// and, when the server could not be reached, a delete is queued.
func (a *Accessor) Delete(ctx context.Context, table string, id int64, apiURL string) error {
	_, apiURL, err := a.collection(table, apiURL)
	if err != nil {
		return err
	}
	id = a.resolveID(ctx, table, id)

	if id > 0 && a.signal.Online() {
		err := a.api.Delete(ctx, apiURL, id)
		if err == nil || remote.IsNotFound(err) {
			if err := a.store.Exclusive(func() error {
				if err := a.dropPending(ctx, table, id); err != nil {
					return err
				}
				return a.store.Delete(ctx, table, id)
			}); err != nil {
				return err
			}
			a.bus.Publish(events.EntityDeleted{Collection: table, ID: id})
			return nil
		}
		a.logger.Warn().Err(err).Str("table", table).Int64("id", id).Msg("online delete failed, queueing")
	}

	if id <= 0 {
		var translated int64
		if err := a.store.Exclusive(func() error {
			// The create may have been confirmed since id was resolved.
			if resolved := a.resolveID(ctx, table, id); resolved > 0 {
				translated = resolved
				return nil
			}
			if err := a.dropPending(ctx, table, id); err != nil {
				return err
			}
			return a.store.Delete(ctx, table, id)
		}); err != nil {
			return err
		}
		if translated == 0 {
			a.bus.Publish(events.EntityDeleted{Collection: table, ID: id})
			return nil
		}
		id = translated
	}

	err = a.store.Exclusive(func() error {
		if _, err := a.queue.Enqueue(ctx, models.PendingOperation{
			URL:           remote.ItemURL(apiURL, id),
			Method:        http.MethodDelete,
			TableName:     table,
			ResourceID:    id,
			OperationType: models.OperationDelete,
		}); err != nil {
			return err
		}
		return a.store.Delete(ctx, table, id)
	})
	if err != nil {
		return err
	}
	a.bus.Publish(events.EntityDeleted{Collection: table, ID: id})
	a.triggerSync()
	return nil
}

// dropPending removes every queued operation for a resource. Callers hold
// the store's exclusive section.
func (a *Accessor) dropPending(ctx context.Context, table string, id int64) error {
	ops, err := a.queue.ListByResource(ctx, table, id)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := a.queue.Remove(ctx, op.ID); err != nil {
			return err
		}
		a.logger.Debug().
			Str("opId", op.ID).
			Str("table", table).
			Int64("resourceId", id).
			Str("operationType", string(op.OperationType)).
			Msg("cancelled pending operation")
	}
	return nil
}

// List returns one page. Online, the page comes from the server and is
// mirrored in one transaction. Otherwise the local rows are filtered with
// exact-match equality and paginated; Total is then the local count.
func (a *Accessor) List(ctx context.Context, table, apiURL string, page, limit int, filters map[string]any) (*remote.ListResponse, error) {
	_, apiURL, err := a.collection(table, apiURL)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	if a.signal.Online() {
		resp, err := a.api.List(ctx, apiURL, remote.ListParams{Page: page, Limit: limit, Filters: filters})
		if err == nil {
			out := *resp
			out.Data = a.mirrorPage(ctx, table, resp.Data)
			return &out, nil
		}
		a.logger.Debug().Err(err).Str("table", table).Msg("online list failed, reading local rows")
	}

	rows, total, err := a.store.List(ctx, table, store.Query{
		Filters: filters,
		Offset:  (page - 1) * limit,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return &remote.ListResponse{Data: rows, Total: total, Page: page, Limit: limit}, nil
}

// mirrorPage stores a server page and returns it as the caller should see
// it. Rows with queued local operations keep their local state: the local
// row replaces the server row, and rows deleted locally are left out.
func (a *Accessor) mirrorPage(ctx context.Context, table string, data []models.Record) []models.Record {
	var out []models.Record
	err := a.store.Exclusive(func() error {
		pending, err := a.pendingIDs(ctx, table)
		if err != nil {
			return err
		}
		rows := make([]models.Record, 0, len(data))
		out = make([]models.Record, 0, len(data))
		for _, rec := range data {
			id, ok := syncx.ExtractID(rec)
			if !ok {
				out = append(out, rec)
				continue
			}
			if !pending[id] {
				rows = append(rows, a.confirmed(rec))
				out = append(out, rec)
				continue
			}
			local, err := a.store.Get(ctx, table, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, local)
		}
		return a.store.PutMany(ctx, table, rows)
	})
	if err != nil {
		a.logger.Error().Err(err).Str("table", table).Msg("failed to mirror list page")
		return data
	}
	if err := a.store.SetLastSync(ctx, table, a.now()); err != nil {
		a.logger.Error().Err(err).Str("table", table).Msg("failed to update sync status")
	}
	return out
}

// mirror stores a fetched server record unless local operations for it are
// still queued, in which case the local row is kept and returned. found is
// false when a queued delete already removed the row locally.
func (a *Accessor) mirror(ctx context.Context, table string, id int64, fetched models.Record) (rec models.Record, found bool, err error) {
	err = a.store.Exclusive(func() error {
		ops, err := a.queue.ListByResource(ctx, table, id)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			rec, found = a.confirmed(fetched), true
			return a.store.Put(ctx, table, rec)
		}
		local, err := a.store.Get(ctx, table, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, found = local, true
		return nil
	})
	return rec, found, err
}

func (a *Accessor) pendingIDs(ctx context.Context, table string) (map[int64]bool, error) {
	ops, err := a.queue.All(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]bool)
	for _, op := range ops {
		if op.TableName == table {
			ids[op.ResourceID] = true
		}
	}
	return ids, nil
}

// PendingCount returns the number of queued operations for table, or for
// every table when table is empty.
func (a *Accessor) PendingCount(ctx context.Context, table string) (int, error) {
	return a.queue.Count(ctx, queue.Filter{TableName: table})
}

// Failures returns queued operations that have failed at least once.
func (a *Accessor) Failures(ctx context.Context) ([]models.PendingOperation, error) {
	ops, err := a.queue.All(ctx)
	if err != nil {
		return nil, err
	}
	out := ops[:0]
	for _, op := range ops {
		if op.RetryCount > 0 {
			out = append(out, op)
		}
	}
	return out, nil
}
