package entityservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/erauner12/garagesync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents as jsonb rows of the entity table created by
// db.Migrate.
type Postgres struct {
	DB *pgxpool.Pool
}

// NewPostgres creates a Postgres store.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{DB: db}
}

func (p *Postgres) Insert(ctx context.Context, owner, collection string, doc models.Record) (int64, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal document: %w", err)
	}

	var id int64
	err = p.DB.QueryRow(ctx, `
		INSERT INTO entity (owner_id, collection, data)
		VALUES ($1, $2, $3::jsonb)
		RETURNING id`, owner, collection, string(data)).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (p *Postgres) Get(ctx context.Context, owner, collection string, id int64) (models.Record, error) {
	var data []byte
	err := p.DB.QueryRow(ctx, `
		SELECT data FROM entity
		WHERE owner_id = $1 AND collection = $2 AND id = $3`,
		owner, collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc(data, id)
}

func (p *Postgres) Replace(ctx context.Context, owner, collection string, id int64, doc models.Record) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	tag, err := p.DB.Exec(ctx, `
		UPDATE entity SET data = $4::jsonb, updated_at = now()
		WHERE owner_id = $1 AND collection = $2 AND id = $3`,
		owner, collection, id, string(data))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, owner, collection string, id int64) error {
	tag, err := p.DB.Exec(ctx, `
		DELETE FROM entity
		WHERE owner_id = $1 AND collection = $2 AND id = $3`,
		owner, collection, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, owner, collection string, q Query) ([]models.Record, int, error) {
	where := []string{"owner_id = $1", "collection = $2"}
	args := []any{owner, collection}
	for _, k := range sortedKeys(q.Filters) {
		args = append(args, k, q.Filters[k])
		where = append(where, fmt.Sprintf("data->>$%d = $%d", len(args)-1, len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := p.DB.QueryRow(ctx, `SELECT count(*) FROM entity WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, q.Limit, q.Offset())
	query := fmt.Sprintf(`SELECT id, data FROM entity WHERE %s ORDER BY id LIMIT $%d OFFSET $%d`,
		cond, len(args)-1, len(args))
	rows, err := p.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, 0, err
		}
		doc, err := decodeDoc(data, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func decodeDoc(data []byte, id int64) (models.Record, error) {
	var doc models.Record
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %d: %w", id, err)
	}
	if doc == nil {
		doc = models.Record{}
	}
	doc[models.FieldID] = id
	return doc, nil
}
