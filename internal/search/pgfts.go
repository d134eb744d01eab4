package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// promptVector matches the expression index on prompts so the planner can
// use it.
const promptVector = `to_tsvector('english', p.title || ' ' || p.body || ' ' || COALESCE(p.description, ''))`

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
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

	where := "p.is_public = TRUE AND " + promptVector + " @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.Category != "" {
		where += " AND p.categories ? $2"
		args = append(args, q.Category)
	}

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM prompts p WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT p.id, p.title,
			ts_headline('english', COALESCE(NULLIF(p.description, ''), p.body), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			COALESCE(pr.display_name, '') AS author_name,
			ts_rank(%s, plainto_tsquery('english', $1)) AS rank
		FROM prompts p
		LEFT JOIN profiles pr ON pr.id = p.user_id
		WHERE %s
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, promptVector, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.AuthorName, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all public prompts for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PromptRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.title, p.body, COALESCE(p.description, ''), p.categories, COALESCE(pr.display_name, '')
		FROM prompts p
		LEFT JOIN profiles pr ON pr.id = p.user_id
		WHERE p.is_public = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	defer rows.Close()

	records := make([]PromptRecord, 0)
	for rows.Next() {
		var r PromptRecord
		var rawCategories []byte
		if err := rows.Scan(&r.ID, &r.Title, &r.Body, &r.Description, &rawCategories, &r.AuthorName); err != nil {
			return nil, fmt.Errorf("scan prompt record: %w", err)
		}
		r.Categories = []string{}
		if len(rawCategories) > 0 {
			if err := json.Unmarshal(rawCategories, &r.Categories); err != nil {
				return nil, fmt.Errorf("decode prompt categories: %w", err)
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt records: %w", err)
	}
	return records, nil
}
