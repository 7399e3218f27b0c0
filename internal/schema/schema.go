// Package schema holds the registered collections and validates mirrored
// records against their declared field types.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/syncx"
)

// Kind is the semantic type of a field.
type Kind string

const (
	KindString    Kind = "string"
	KindNumber    Kind = "number"
	KindInteger   Kind = "integer"
	KindBool      Kind = "bool"
	KindTimestamp Kind = "timestamp" // RFC3339 string or Unix ms
	KindRef       Kind = "ref"       // integer id of a row in another collection
	KindAny       Kind = "any"
)

// Field describes one declared field of a collection.
type Field struct {
	Kind     Kind
	Ref      string // target collection for KindRef
	Required bool
}

// Collection is the schema of one mirrored entity collection.
type Collection struct {
	Name    string
	APIPath string
	Fields  map[string]Field
}

// Reference names a foreign-key field pointing at another collection.
type Reference struct {
	Collection string
	Field      string
}

// Registry maps collection names to their schema.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

// NewRegistry creates a registry with the given collections.
func NewRegistry(collections ...*Collection) *Registry {
	r := &Registry{collections: make(map[string]*Collection)}
	for _, c := range collections {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a collection. APIPath defaults to /api/<name>.
func (r *Registry) Register(c *Collection) {
	if c.APIPath == "" {
		c.APIPath = "/api/" + c.Name
	}
	if c.Fields == nil {
		c.Fields = map[string]Field{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[c.Name] = c
}

// Lookup returns the collection registered under name.
func (r *Registry) Lookup(name string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.collections[name]
	if !ok {
		return nil, &CollectionNotFoundError{Name: name}
	}
	return c, nil
}

// Names returns every registered collection name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReferencesTo lists every ref field, in any collection, that targets name.
func (r *Registry) ReferencesTo(name string) []Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var refs []Reference
	for _, c := range r.collections {
		for field, f := range c.Fields {
			if f.Kind == KindRef && f.Ref == name {
				refs = append(refs, Reference{Collection: c.Name, Field: field})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Collection != refs[j].Collection {
			return refs[i].Collection < refs[j].Collection
		}
		return refs[i].Field < refs[j].Field
	})
	return refs
}

// Validate checks a full mirrored record. The id must be non-zero; declared
// fields must carry values of their kind. Undeclared fields pass through.
func (c *Collection) Validate(rec models.Record) error {
	id, ok := syncx.GetInt64(rec, models.FieldID)
	if !ok || id == 0 {
		return &ValidationError{Collection: c.Name, Field: models.FieldID, Reason: "must be a non-zero integer"}
	}
	return c.validateFields(rec, true)
}

// ValidateDocument checks a full record that has no id yet, as received by
// the server on create.
func (c *Collection) ValidateDocument(rec models.Record) error {
	return c.validateFields(rec, true)
}

// ValidatePatch checks only the fields present in a partial record.
func (c *Collection) ValidatePatch(patch models.Record) error {
	return c.validateFields(patch, false)
}

func (c *Collection) validateFields(rec models.Record, full bool) error {
	for name, f := range c.Fields {
		v, present := rec[name]
		if !present || v == nil {
			if full && f.Required {
				return &ValidationError{Collection: c.Name, Field: name, Reason: "is required"}
			}
			continue
		}
		if !matchesKind(f.Kind, v) {
			return &ValidationError{Collection: c.Name, Field: name, Reason: fmt.Sprintf("expected %s, got %T", f.Kind, v)}
		}
	}
	return nil
}

func matchesKind(k Kind, v any) bool {
	switch k {
	case KindAny:
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindNumber:
		switch n := v.(type) {
		case float64, float32, int, int32, int64:
			return true
		case json.Number:
			_, err := n.Float64()
			return err == nil
		}
		return false
	case KindInteger, KindRef:
		_, isString := v.(string)
		if isString {
			return false
		}
		_, ok := syncx.ToInt64(v)
		return ok
	case KindTimestamp:
		if s, ok := v.(string); ok {
			_, ok := syncx.ParseTimeToMs(strings.TrimSpace(s))
			return ok
		}
		_, ok := syncx.ToInt64(v)
		return ok
	}
	return false
}
