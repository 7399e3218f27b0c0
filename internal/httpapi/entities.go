package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/erauner12/garagesync/internal/auth"
	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/schema"
	"github.com/erauner12/garagesync/internal/service/entityservice"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// reservedParams are list query params that are not field filters.
var reservedParams = map[string]bool{"page": true, "limit": true}

// collection resolves the {collection} path segment through the registered
// API paths, so /api/service-types serves service_types.
func (s *Server) collection(r *http.Request) (string, bool) {
	segment := chi.URLParam(r, "collection")
	reg := s.Entities.Registry()
	for _, name := range reg.Names() {
		c, err := reg.Lookup(name)
		if err != nil {
			continue
		}
		if strings.TrimPrefix(c.APIPath, "/api/") == segment {
			return name, true
		}
	}
	return "", false
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (models.Record, error) {
	var doc models.Record
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("body must be a JSON object")
	}
	return doc, nil
}

// writeEntityError maps service errors to status codes
func writeEntityError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *schema.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, verr.Error())
	case errors.Is(err, entityservice.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, schema.ErrCollectionNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("entity request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// ListEntities handles GET /api/{collection}?field=value&page=&limit=
func (s *Server) ListEntities(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.collection(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown collection")
		return
	}

	params := r.URL.Query()
	q := entityservice.Query{
		Filters: map[string]string{},
		Page:    parsePage(params.Get("page")),
		Limit:   parseLimit(params.Get("limit"), entityservice.DefaultLimit, entityservice.MaxLimit),
	}
	for k := range params {
		if !reservedParams[k] {
			q.Filters[k] = params.Get(k)
		}
	}

	page, err := s.Entities.List(r.Context(), auth.UserID(r.Context()), collection, q)
	if err != nil {
		writeEntityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreateEntity handles POST /api/{collection}
func (s *Server) CreateEntity(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.collection(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown collection")
		return
	}
	doc, err := decodeDocument(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := s.Entities.Create(r.Context(), auth.UserID(r.Context()), collection, doc)
	if err != nil {
		writeEntityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetEntity handles GET /api/{collection}/{id}
func (s *Server) GetEntity(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.collection(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown collection")
		return
	}
	id, ok := parseID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	doc, err := s.Entities.Get(r.Context(), auth.UserID(r.Context()), collection, id)
	if err != nil {
		writeEntityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// UpdateEntity handles PUT /api/{collection}/{id}. The body is merged into
// the stored document.
func (s *Server) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.collection(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown collection")
		return
	}
	id, ok := parseID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	patch, err := decodeDocument(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	doc, err := s.Entities.Update(r.Context(), auth.UserID(r.Context()), collection, id, patch)
	if err != nil {
		writeEntityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteEntity handles DELETE /api/{collection}/{id}
func (s *Server) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.collection(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown collection")
		return
	}
	id, ok := parseID(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	if err := s.Entities.Delete(r.Context(), auth.UserID(r.Context()), collection, id); err != nil {
		writeEntityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
