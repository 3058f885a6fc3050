package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across acts and sections using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultAct {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'act'::text AS type, a.id, a.title,
				ts_headline('english', coalesce(a.category, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.id AS act_id,
				ts_rank(a.fts, %s) AS rank
			FROM acts a
			WHERE a.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultSection {
		sectionWhere := "s.fts @@ " + tsQuery
		if q.FilterActID != 0 {
			sectionWhere += fmt.Sprintf(" AND s.act_id = $%d", argN)
			args = append(args, q.FilterActID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'section'::text AS type, s.id, a.title || ' ' || s.section_number AS title,
				ts_headline('english', coalesce(s.simplified_explanation, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.act_id,
				ts_rank(s.fts, %s) AS rank
			FROM sections s
			JOIN acts a ON a.id = s.act_id
			WHERE %s`, tsQuery, tsQuery, sectionWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, act_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ActID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ActRecord, []SectionRecord, error) {
	actRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, category, jurisdiction
		FROM acts
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load acts: %w", err)
	}
	defer actRows.Close()

	acts := make([]ActRecord, 0)
	for actRows.Next() {
		var a ActRecord
		if err := actRows.Scan(&a.ID, &a.Title, &a.Category, &a.Jurisdiction); err != nil {
			return nil, nil, fmt.Errorf("scan act: %w", err)
		}
		acts = append(acts, a)
	}
	if err := actRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate acts: %w", err)
	}

	sectionRows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.act_id, a.title, s.section_number, s.legal_text, s.simplified_explanation
		FROM sections s
		JOIN acts a ON a.id = s.act_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load sections: %w", err)
	}
	defer sectionRows.Close()

	sections := make([]SectionRecord, 0)
	for sectionRows.Next() {
		var s SectionRecord
		if err := sectionRows.Scan(&s.ID, &s.ActID, &s.ActTitle, &s.SectionNumber, &s.LegalText, &s.SimplifiedExplanation); err != nil {
			return nil, nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, s)
	}
	if err := sectionRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate sections: %w", err)
	}

	return acts, sections, nil
}
