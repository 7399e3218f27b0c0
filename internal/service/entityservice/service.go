// Package entityservice stores the documents served by the reference API.
// Every collection registered in the schema registry is served generically:
// documents are JSON objects keyed by a positive server-assigned id and
// scoped to the authenticated owner.
package entityservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/schema"
	"github.com/erauner12/garagesync/internal/syncx"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when no document has the requested id for the owner.
var ErrNotFound = errors.New("entity not found")

const (
	DefaultLimit = 10
	MaxLimit     = 1000
)

// Query selects a page of documents. Filters match the string rendering of
// top-level fields exactly.
type Query struct {
	Filters map[string]string
	Page    int
	Limit   int
}

// Offset returns the number of documents skipped before the page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Store persists documents. Documents are stored without their id; Get and
// List add it back.
type Store interface {
	Insert(ctx context.Context, owner, collection string, doc models.Record) (int64, error)
	Get(ctx context.Context, owner, collection string, id int64) (models.Record, error)
	Replace(ctx context.Context, owner, collection string, id int64, doc models.Record) error
	Delete(ctx context.Context, owner, collection string, id int64) error
	List(ctx context.Context, owner, collection string, q Query) ([]models.Record, int, error)
}

// Page is the paginated envelope returned by List.
type Page struct {
	Data  []models.Record `json:"data"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// Service validates documents against the collection registry before they
// reach the store.
type Service struct {
	store    Store
	registry *schema.Registry
}

// New creates a Service.
func New(store Store, registry *schema.Registry) *Service {
	return &Service{store: store, registry: registry}
}

// Registry returns the collections served.
func (s *Service) Registry() *schema.Registry {
	return s.registry
}

// Create validates doc and stores it under a new id.
func (s *Service) Create(ctx context.Context, owner, collection string, doc models.Record) (models.Record, error) {
	c, err := s.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	doc = doc.Payload()
	if err := c.ValidateDocument(doc); err != nil {
		return nil, err
	}
	if err := checkRefs(c, doc); err != nil {
		return nil, err
	}

	id, err := s.store.Insert(ctx, owner, collection, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", collection, err)
	}

	log.Ctx(ctx).Debug().
		Str("collection", collection).
		Int64("id", id).
		Msg("entity created")

	out := doc.Clone()
	out[models.FieldID] = id
	return out, nil
}

// Get returns the document with id.
func (s *Service) Get(ctx context.Context, owner, collection string, id int64) (models.Record, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, owner, collection, id)
}

// Update merges patch into the stored document and returns the result.
func (s *Service) Update(ctx context.Context, owner, collection string, id int64, patch models.Record) (models.Record, error) {
	c, err := s.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	patch = patch.Payload()
	if err := c.ValidatePatch(patch); err != nil {
		return nil, err
	}
	if err := checkRefs(c, patch); err != nil {
		return nil, err
	}

	current, err := s.store.Get(ctx, owner, collection, id)
	if err != nil {
		return nil, err
	}
	merged := current.Merge(patch).Payload()
	if err := s.store.Replace(ctx, owner, collection, id, merged); err != nil {
		return nil, err
	}

	out := merged.Clone()
	out[models.FieldID] = id
	return out, nil
}

// Delete removes the document with id.
func (s *Service) Delete(ctx context.Context, owner, collection string, id int64) error {
	if _, err := s.registry.Lookup(collection); err != nil {
		return err
	}
	return s.store.Delete(ctx, owner, collection, id)
}

// List returns one page of a collection. Page and limit are normalized.
func (s *Service) List(ctx context.Context, owner, collection string, q Query) (*Page, error) {
	if _, err := s.registry.Lookup(collection); err != nil {
		return nil, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	rows, total, err := s.store.List(ctx, owner, collection, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	if rows == nil {
		rows = []models.Record{}
	}
	return &Page{Data: rows, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

// checkRefs rejects references to ids the server never assigned. A client
// that sends one has not translated a local id.
func checkRefs(c *schema.Collection, doc models.Record) error {
	for name, f := range c.Fields {
		if f.Kind != schema.KindRef {
			continue
		}
		v, ok := doc[name]
		if !ok || v == nil {
			continue
		}
		if id, ok := syncx.ToInt64(v); ok && id <= 0 {
			return &schema.ValidationError{Collection: c.Name, Field: name, Reason: "must reference a server id"}
		}
	}
	return nil
}

// FilterValue renders a document field the way it is compared with a query
// parameter.
func FilterValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	}
	return fmt.Sprint(v)
}

// Matches reports whether doc satisfies every filter.
func Matches(doc models.Record, filters map[string]string) bool {
	for k, want := range filters {
		v, ok := doc[k]
		if !ok {
			return false
		}
		if FilterValue(v) != want {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
