package entityservice

import (
	"context"
	"sort"
	"sync"

	"github.com/erauner12/garagesync/internal/models"
)

type memRow struct {
	owner string
	doc   models.Record
}

// Memory is an in-process Store. Ids are assigned per collection starting
// at 1, shared across owners like a serial column.
type Memory struct {
	mu   sync.Mutex
	next map[string]int64
	rows map[string]map[int64]memRow
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		next: make(map[string]int64),
		rows: make(map[string]map[int64]memRow),
	}
}

func (m *Memory) Insert(_ context.Context, owner, collection string, doc models.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next[collection]++
	id := m.next[collection]
	if m.rows[collection] == nil {
		m.rows[collection] = make(map[int64]memRow)
	}
	m.rows[collection][id] = memRow{owner: owner, doc: doc.Clone()}
	return id, nil
}

func (m *Memory) Get(_ context.Context, owner, collection string, id int64) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[collection][id]
	if !ok || row.owner != owner {
		return nil, ErrNotFound
	}
	return withID(row.doc, id), nil
}

func (m *Memory) Replace(_ context.Context, owner, collection string, id int64, doc models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[collection][id]
	if !ok || row.owner != owner {
		return ErrNotFound
	}
	m.rows[collection][id] = memRow{owner: owner, doc: doc.Clone()}
	return nil
}

func (m *Memory) Delete(_ context.Context, owner, collection string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[collection][id]
	if !ok || row.owner != owner {
		return ErrNotFound
	}
	delete(m.rows[collection], id)
	return nil
}

func (m *Memory) List(_ context.Context, owner, collection string, q Query) ([]models.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.rows[collection]))
	for id, row := range m.rows[collection] {
		if row.owner == owner && Matches(row.doc, q.Filters) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	total := len(ids)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	out := make([]models.Record, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, withID(m.rows[collection][id].doc, id))
	}
	return out, total, nil
}

func withID(doc models.Record, id int64) models.Record {
	out := doc.Clone()
	out[models.FieldID] = id
	return out
}
