package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erauner12/garagesync/internal/accessor"
	"github.com/erauner12/garagesync/internal/auth"
	"github.com/erauner12/garagesync/internal/cache"
	"github.com/erauner12/garagesync/internal/config"
	"github.com/erauner12/garagesync/internal/httpapi"
	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/queue"
	"github.com/erauner12/garagesync/internal/remote/remotetest"
	"github.com/erauner12/garagesync/internal/schema"
	"github.com/erauner12/garagesync/internal/service/entityservice"
	"github.com/erauner12/garagesync/internal/store"
	"github.com/erauner12/garagesync/internal/syncengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subject = "shop-1"

type harness struct {
	api       *httptest.Server
	transport *remotetest.Transport
	client    *Client
	// failing makes the API answer 500 to every entity request.
	failing atomic.Bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{transport: remotetest.NewTransport()}

	srv := &httpapi.Server{Entities: entityservice.New(entityservice.NewMemory(), schema.DefaultRegistry())}
	routes := srv.Routes(auth.JWTCfg{HS256Secret: "test", DevMode: true})
	h.api = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.failing.Load() && r.URL.Path != "/healthz" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		routes.ServeHTTP(w, r)
	}))
	t.Cleanup(h.api.Close)

	cfg := config.DefaultConfig()
	cfg.APIBaseURL = h.api.URL
	cfg.DatabasePath = filepath.Join(t.TempDir(), "client.db")
	cfg.DevSubject = subject
	cfg.SyncSchedule = "@every 1h"
	cfg.ProbeSchedule = "@every 1h"

	c, err := Open(context.Background(), cfg, Options{HTTPClient: h.transport.Client()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	h.client = c
	return h
}

func (h *harness) goOffline(t *testing.T) {
	t.Helper()
	h.transport.SetDown(true)
	require.False(t, h.client.Probe(context.Background()))
}

func (h *harness) goOnline(t *testing.T) {
	t.Helper()
	h.transport.SetDown(false)
	require.True(t, h.client.Probe(context.Background()))
}

// serverGet reads a document straight from the API, bypassing the client.
func (h *harness) serverGet(t *testing.T, path string, id int64) (map[string]any, int) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.api.URL+path+"/"+strconv.FormatInt(id, 10), nil)
	require.NoError(t, err)
	req.Header.Set("X-Debug-Sub", subject)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var doc map[string]any
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	}
	return doc, resp.StatusCode
}

func (h *harness) pending(t *testing.T) []models.PendingOperation {
	t.Helper()
	ops, err := h.client.Queue.All(context.Background())
	require.NoError(t, err)
	return ops
}

func TestOfflineCreateConfirmedByDrain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.client.Accessor

	h.goOffline(t)
	localID, err := acc.Add(ctx, "clients", models.Record{"name": "Ana", "phone": "555"}, "")
	require.NoError(t, err)
	assert.Negative(t, localID)

	h.goOnline(t)
	res, err := h.client.Engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncengine.Result{Success: 1}, res)

	_, err = h.client.Store.Get(ctx, "clients", localID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rows, total, err := h.client.Store.List(ctx, "clients", store.Query{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	rec := rows[0]
	assert.Positive(t, rec.ID())
	assert.False(t, rec.Offline())
	assert.Positive(t, rec.LastSync())

	doc, code := h.serverGet(t, "/api/clients", rec.ID())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ana", doc["name"])
	assert.Empty(t, h.pending(t))

	// The old local id still resolves
	got, err := acc.Get(ctx, "clients", localID, "")
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), got.ID())
}

func TestUpdateOfUnconfirmedRecordReachesServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.client.Accessor

	h.goOffline(t)
	localID, err := acc.Add(ctx, "clients", models.Record{"name": "Ana", "email": "ana@example.com"}, "")
	require.NoError(t, err)
	_, err = acc.Update(ctx, "clients", localID, models.Record{"name": "X"}, "")
	require.NoError(t, err)

	ops := h.pending(t)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OperationCreate, ops[0].OperationType)
	body, err := ops[0].DecodeBody()
	require.NoError(t, err)
	assert.Equal(t, "X", body["name"])
	assert.Equal(t, "ana@example.com", body["email"])

	h.goOnline(t)
	res, err := h.client.Engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)

	doc, code := h.serverGet(t, "/api/clients", 1)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "X", doc["name"])
	assert.Equal(t, "ana@example.com", doc["email"])
}

func TestQueuedUpdateFollowsTranslatedCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.client.Accessor

	h.goOffline(t)
	localID, err := acc.Add(ctx, "clients", models.Record{"name": "Ana"}, "")
	require.NoError(t, err)

	// A separately queued update addressing the local id, as an older
	// client build would have written it
	_, err = h.client.Queue.Enqueue(ctx, models.PendingOperation{
		URL:           "/api/clients/" + strconv.FormatInt(localID, 10),
		Method:        http.MethodPut,
		Body:          json.RawMessage(`{"phone":"999"}`),
		TableName:     "clients",
		ResourceID:    localID,
		OperationType: models.OperationUpdate,
	})
	require.NoError(t, err)

	h.goOnline(t)
	res, err := h.client.Engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncengine.Result{Success: 2}, res)

	doc, code := h.serverGet(t, "/api/clients", 1)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ana", doc["name"])
	assert.Equal(t, "999", doc["phone"])
}

func TestForeignKeysTranslatedOnServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.client.Accessor

	h.goOffline(t)
	clientID, err := acc.Add(ctx, "clients", models.Record{"name": "Ana"}, "")
	require.NoError(t, err)
	vehicleID, err := acc.Add(ctx, "vehicles", models.Record{"client_id": clientID, "plate": "ABC1D23"}, "")
	require.NoError(t, err)
	_, err = acc.Add(ctx, "services", models.Record{"client_id": clientID, "vehicle_id": vehicleID, "status": "open"}, "")
	require.NoError(t, err)

	h.goOnline(t)
	res, err := h.client.Engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncengine.Result{Success: 3}, res)

	service, code := h.serverGet(t, "/api/services", 1)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), service["client_id"])
	assert.Equal(t, float64(1), service["vehicle_id"])

	local, err := h.client.Store.Get(ctx, "services", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, local["client_id"])
	assert.EqualValues(t, 1, local["vehicle_id"])
}

func TestOfflineGetMakesNoRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.client.Accessor

	h.goOffline(t)
	h.transport.Reset()

	item := models.Record{"name": "Ana", "email": "ana@example.com"}
	localID, err := acc.Add(ctx, "clients", item, "")
	require.NoError(t, err)

	// Local ids are served locally even with the network back
	h.transport.SetDown(false)
	got, err := acc.Get(ctx, "clients", localID, "")
	require.NoError(t, err)

	assert.Equal(t, item, got.Payload())
	assert.Empty(t, h.transport.Requests())
}

func TestDeleteBeforeSyncNeverReachesServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.client.Accessor

	h.goOffline(t)
	localID, err := acc.Add(ctx, "clients", models.Record{"name": "Ana"}, "")
	require.NoError(t, err)
	_, err = acc.Update(ctx, "clients", localID, models.Record{"phone": "1"}, "")
	require.NoError(t, err)
	require.NoError(t, acc.Delete(ctx, "clients", localID, ""))

	assert.Empty(t, h.pending(t))

	h.goOnline(t)
	h.transport.Reset()
	res, err := h.client.Engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncengine.Result{}, res)
	assert.Empty(t, h.transport.Requests())

	_, code := h.serverGet(t, "/api/clients", 1)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFailingOperationAbandonedAfterThreeAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.goOffline(t)
	_, err := h.client.Accessor.Add(ctx, "technicians", models.Record{"name": "Rui"}, "")
	require.NoError(t, err)

	h.goOnline(t)
	h.failing.Store(true)
	h.transport.Reset()

	for i := 1; i <= 3; i++ {
		res, err := h.client.Engine.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, syncengine.Result{Failed: 1}, res, "pass %d", i)

		ops := h.pending(t)
		require.Len(t, ops, 1)
		assert.Equal(t, i, ops[0].RetryCount)
		assert.NotEmpty(t, ops[0].LastErrorMessage)
	}

	res, err := h.client.Engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncengine.Result{Abandoned: 1}, res)
	assert.Empty(t, h.pending(t))
	assert.Equal(t, []string{
		"POST /api/technicians",
		"POST /api/technicians",
		"POST /api/technicians",
	}, h.transport.Requests())
}

func TestListFallbackFiltersLocalRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.client.Store.PutMany(ctx, "services", []models.Record{
		{"id": int64(1), "status": "open"},
		{"id": int64(2), "status": "closed"},
	}))

	h.goOffline(t)
	page, err := h.client.Accessor.List(ctx, "services", "", 1, 10, map[string]any{"status": "open"})
	require.NoError(t, err)

	require.Len(t, page.Data, 1)
	assert.Equal(t, int64(1), page.Data[0].ID())
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.Limit)
}

func TestConnectionLostMidDrainKeepsRemainder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.client.Accessor

	h.goOffline(t)
	for _, name := range []string{"a", "b", "c"} {
		_, err := acc.Add(ctx, "technicians", models.Record{"name": name}, "")
		require.NoError(t, err)
	}

	h.goOnline(t)
	h.transport.FailAfter(1)
	res, err := h.client.Engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)

	ops := h.pending(t)
	require.Len(t, ops, 2)
	for _, op := range ops {
		assert.LessOrEqual(t, op.RetryCount, 1)
	}

	h.goOnline(t)
	res, err = h.client.Engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)

	n, err := h.client.Queue.Count(ctx, queue.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartDrainsOnFirstProbe(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Signal starts offline until the first probe
	_, err := h.client.Accessor.Add(ctx, "clients", models.Record{"name": "Ana"}, "")
	require.NoError(t, err)
	require.Len(t, h.pending(t), 1)

	require.NoError(t, h.client.Start(ctx))
	assert.ElementsMatch(t, []string{"connectivity-probe", "drain"}, h.client.Scheduler.Jobs())

	require.Eventually(t, func() bool {
		n, err := h.client.Queue.Count(ctx, queue.Filter{})
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	_, code := h.serverGet(t, "/api/clients", 1)
	assert.Equal(t, http.StatusOK, code)
}

func TestCacheInvalidatedByWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	listKey := cache.Key("clients", map[string]int{"page": 1})
	h.client.Cache.SetQueryData(listKey, []string{"stale soon"})
	require.False(t, h.client.Cache.IsStale(listKey))

	h.goOffline(t)
	localID, err := h.client.Accessor.Add(ctx, "clients", models.Record{"name": "Ana"}, "")
	require.NoError(t, err)

	assert.True(t, h.client.Cache.IsStale(listKey))
	cached, ok := h.client.Cache.GetQueryData(cache.EntityKey("clients", localID))
	require.True(t, ok)
	assert.Equal(t, "Ana", cached.(models.Record)["name"])

	h.goOnline(t)
	_, err = h.client.Engine.Drain(ctx)
	require.NoError(t, err)

	_, ok = h.client.Cache.GetQueryData(cache.EntityKey("clients", localID))
	assert.False(t, ok)
}

func TestTypedEntitiesOnline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.goOnline(t)

	clients := accessor.NewTyped[models.Client](h.client.Accessor, "clients", "")
	vehicles := accessor.NewTyped[models.Vehicle](h.client.Accessor, "vehicles", "")

	clientID, err := clients.Add(ctx, models.Client{Name: "Ana"})
	require.NoError(t, err)
	assert.Positive(t, clientID)

	for _, plate := range []string{"AAA1A11", "BBB2B22"} {
		_, err := vehicles.Add(ctx, models.Vehicle{ClientID: clientID, Plate: plate, Year: 2019})
		require.NoError(t, err)
	}

	list, total, err := vehicles.List(ctx, 1, 10, map[string]any{"client_id": clientID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, "AAA1A11", list[0].Plate)
	assert.Equal(t, 2019, list[0].Year)

	got, err := clients.Get(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
	assert.False(t, got.Offline)
}
