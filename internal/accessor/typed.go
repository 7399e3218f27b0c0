package accessor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erauner12/garagesync/internal/models"
)

// Typed binds the accessor to one collection and a Go entity type such as
// models.Client. Values are converted through their JSON form.
type Typed[T any] struct {
	acc    *Accessor
	table  string
	apiURL string
}

// NewTyped returns a typed view of table. An empty apiURL uses the
// collection's registered path.
func NewTyped[T any](acc *Accessor, table, apiURL string) *Typed[T] {
	return &Typed[T]{acc: acc, table: table, apiURL: apiURL}
}

// Add creates v and returns its id (negative while unconfirmed).
func (t *Typed[T]) Add(ctx context.Context, v T) (int64, error) {
	rec, err := toRecord(v)
	if err != nil {
		return 0, err
	}
	return t.acc.Add(ctx, t.table, rec, t.apiURL)
}

// Get fetches one entity.
func (t *Typed[T]) Get(ctx context.Context, id int64) (T, error) {
	var out T
	rec, err := t.acc.Get(ctx, t.table, id, t.apiURL)
	if err != nil {
		return out, err
	}
	return fromRecord[T](rec)
}

// Update applies a partial update.
func (t *Typed[T]) Update(ctx context.Context, id int64, patch models.Record) (int64, error) {
	return t.acc.Update(ctx, t.table, id, patch, t.apiURL)
}

// Delete removes one entity.
func (t *Typed[T]) Delete(ctx context.Context, id int64) error {
	return t.acc.Delete(ctx, t.table, id, t.apiURL)
}

// List returns one page of entities and the total.
func (t *Typed[T]) List(ctx context.Context, page, limit int, filters map[string]any) ([]T, int, error) {
	resp, err := t.acc.List(ctx, t.table, t.apiURL, page, limit, filters)
	if err != nil {
		return nil, 0, err
	}
	out := make([]T, 0, len(resp.Data))
	for _, rec := range resp.Data {
		v, err := fromRecord[T](rec)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, resp.Total, nil
}

func toRecord(v any) (models.Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	var rec models.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("entity must encode as a JSON object: %w", err)
	}
	return rec.Payload(), nil
}

func fromRecord[T any](rec models.Record) (T, error) {
	var out T
	b, err := json.Marshal(rec)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("failed to decode entity: %w", err)
	}
	return out, nil
}
