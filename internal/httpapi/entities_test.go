package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestEntityCRUD(t *testing.T) {
	router := newTestRouter(t)

	w := makeRequest(t, router, http.MethodPost, "/api/clients", map[string]any{"name": "Ana", "email": "ana@example.com"}, "u1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]any
	decodeBody(t, w, &created)
	assert.Equal(t, float64(1), created["id"])

	w = makeRequest(t, router, http.MethodGet, "/api/clients/1", nil, "u1")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	decodeBody(t, w, &got)
	assert.Equal(t, "Ana", got["name"])

	w = makeRequest(t, router, http.MethodPut, "/api/clients/1", map[string]any{"phone": "555"}, "u1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated map[string]any
	decodeBody(t, w, &updated)
	assert.Equal(t, "Ana", updated["name"])
	assert.Equal(t, "555", updated["phone"])

	w = makeRequest(t, router, http.MethodDelete, "/api/clients/1", nil, "u1")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = makeRequest(t, router, http.MethodGet, "/api/clients/1", nil, "u1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = makeRequest(t, router, http.MethodDelete, "/api/clients/1", nil, "u1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPagination(t *testing.T) {
	router := newTestRouter(t)

	for _, name := range []string{"a", "b", "c"} {
		w := makeRequest(t, router, http.MethodPost, "/api/technicians", map[string]any{"name": name, "active": name != "b"}, "u1")
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := makeRequest(t, router, http.MethodGet, "/api/technicians?page=2&limit=2", nil, "u1")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data  []map[string]any `json:"data"`
		Total int              `json:"total"`
		Page  int              `json:"page"`
		Limit int              `json:"limit"`
	}
	decodeBody(t, w, &page)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "c", page.Data[0]["name"])

	w = makeRequest(t, router, http.MethodGet, "/api/technicians?active=true", nil, "u1")
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &page)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 10, page.Limit)
}

func TestAPIPathMapsToCollection(t *testing.T) {
	router := newTestRouter(t)

	w := makeRequest(t, router, http.MethodPost, "/api/service-types", map[string]any{"name": "Oil change", "base_price": 80}, "u1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = makeRequest(t, router, http.MethodGet, "/api/service_types", nil, "u1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRejectsInvalidDocuments(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"missing required", "/api/clients", map[string]any{"email": "x"}},
		{"wrong kind", "/api/clients", map[string]any{"name": 42}},
		{"local reference", "/api/vehicles", map[string]any{"client_id": -1700000000000, "plate": "X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := makeRequest(t, router, http.MethodPost, tt.path, tt.body, "u1")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp errorResponse
			decodeBody(t, w, &resp)
			assert.NotEmpty(t, resp.Error)
			assert.NotEmpty(t, resp.CorrelationID)
		})
	}
}

func TestRejectsMalformedJSON(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader("{not json"))
	req.Header.Set("X-Debug-Sub", "u1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownCollectionAndBadID(t *testing.T) {
	router := newTestRouter(t)

	assert.Equal(t, http.StatusNotFound, makeRequest(t, router, http.MethodGet, "/api/widgets", nil, "u1").Code)
	assert.Equal(t, http.StatusNotFound, makeRequest(t, router, http.MethodGet, "/api/clients/abc", nil, "u1").Code)
	assert.Equal(t, http.StatusNotFound, makeRequest(t, router, http.MethodGet, "/api/clients/-5", nil, "u1").Code)
}

func TestRequiresAuthentication(t *testing.T) {
	router := newTestRouter(t)

	w := makeRequest(t, router, http.MethodGet, "/api/clients", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUsersSeeOnlyTheirDocuments(t *testing.T) {
	router := newTestRouter(t)

	w := makeRequest(t, router, http.MethodPost, "/api/clients", map[string]any{"name": "Ana"}, "u1")
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, http.StatusNotFound, makeRequest(t, router, http.MethodGet, "/api/clients/1", nil, "u2").Code)
}

func TestCorrelationIDEchoed(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(CorrelationHeader))
}
