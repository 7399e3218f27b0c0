package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erauner12/garagesync/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginSessionSetsCookie(t *testing.T) {
	router := newTestRouter(t)

	w := makeRequest(t, router, http.MethodPost, "/auth/session", nil, "u1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var session Session
	decodeBody(t, w, &session)
	require.NotEmpty(t, session.Token)

	sub, err := auth.ParseToken(testSecret, session.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.SessionCookie, cookies[0].Name)
	assert.Equal(t, session.Token, cookies[0].Value)

	// The cookie alone authenticates entity requests
	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEndSessionExpiresCookie(t *testing.T) {
	router := newTestRouter(t)

	w := makeRequest(t, router, http.MethodDelete, "/auth/session", nil, "u1")
	require.Equal(t, http.StatusNoContent, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestInfoListsCollections(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var info ServerInfo
	decodeBody(t, w, &info)
	assert.Equal(t, "/api/service-types", info.Collections["service_types"].Path)
	assert.Equal(t, "/api/clients", info.Collections["clients"].Path)
	assert.Nil(t, info.RateLimit)
}
