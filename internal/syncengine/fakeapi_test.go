package syncengine

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// fakeAPI is a minimal in-memory implementation of the collection API.
type fakeAPI struct {
	mu         sync.Mutex
	nextID     int64
	rows       map[string]map[int64]map[string]any
	failStatus int
	bodies     []string
	// onRequest runs before a request is handled, outside the lock.
	onRequest func(r *http.Request)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 100, rows: make(map[string]map[int64]map[string]any)}
}

func (f *fakeAPI) row(coll string, id int64) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[coll][id]
}

func (f *fakeAPI) count(coll string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[coll])
}

func (f *fakeAPI) setFailStatus(code int) {
	f.mu.Lock()
	f.failStatus = code
	f.mu.Unlock()
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.onRequest != nil {
		f.onRequest(r)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/healthz" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if f.failStatus != 0 {
		http.Error(w, `{"error":"rejected"}`, f.failStatus)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/"), "/")
	coll := parts[0]
	if f.rows[coll] == nil {
		f.rows[coll] = make(map[int64]map[string]any)
	}

	var body map[string]any
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodDelete {
		_ = json.NewDecoder(r.Body).Decode(&body)
		raw, _ := json.Marshal(body)
		f.bodies = append(f.bodies, r.Method+" "+r.URL.Path+" "+string(raw))
	}

	if len(parts) == 1 {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f.nextID++
		body["id"] = f.nextID
		f.rows[coll][f.nextID] = body
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(body)
		return
	}

	id, _ := strconv.ParseInt(parts[1], 10, 64)
	existing, ok := f.rows[coll][id]
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(existing)
	case http.MethodPut:
		for k, v := range body {
			existing[k] = v
		}
		existing["id"] = id
		_ = json.NewEncoder(w).Encode(existing)
	case http.MethodDelete:
		delete(f.rows[coll], id)
		w.WriteHeader(http.StatusNoContent)
	}
}
