package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erauner12/garagesync/internal/auth"
	"github.com/erauner12/garagesync/internal/schema"
	"github.com/erauner12/garagesync/internal/service/entityservice"
)

const testSecret = "test-secret"

// newTestRouter serves the default collections from memory in dev mode
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	srv := &Server{Entities: entityservice.New(entityservice.NewMemory(), schema.DefaultRegistry())}
	return srv.Routes(auth.JWTCfg{HS256Secret: testSecret, DevMode: true})
}

// makeRequest sends body as JSON with X-Debug-Sub set to user
func makeRequest(t *testing.T, router http.Handler, method, path string, body any, user string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Debug-Sub", user)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}
