package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// PgFTS searches content titles with PostgreSQL full-text search.
type PgFTS struct {
	db *sqlx.DB
}

func NewPgFTS(db *sqlx.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search ranks contents.search_vector against plainto_tsquery, with a prefix
// ILIKE match so partial words still hit.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `(c.search_vector @@ plainto_tsquery('simple', $1) OR c.title ILIKE '%' || $1 || '%')`
	args := []any{q.Text}
	if q.Type != "" {
		where += " AND c.type = $2"
		args = append(args, q.Type)
	}

	var total int
	if err := p.db.GetContext(ctx, &total, `SELECT count(*) FROM contents c WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	results := make([]Result, 0)
	err := p.db.SelectContext(ctx, &results, fmt.Sprintf(`
		SELECT c.id, c.title, c.type,
			ts_headline('simple', c.title, plainto_tsquery('simple', $1), 'StartSel=<mark>,StopSel=</mark>') AS snippet
		FROM contents c
		WHERE %s
		ORDER BY ts_rank(c.search_vector, plainto_tsquery('simple', $1)) DESC, c.updated_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords returns every content item for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ContentRecord, error) {
	records := make([]ContentRecord, 0)
	err := p.db.SelectContext(ctx, &records, `
		SELECT id, title, type, owner_id, visible
		FROM contents
	`)
	if err != nil {
		return nil, fmt.Errorf("load contents: %w", err)
	}
	return records, nil
}
