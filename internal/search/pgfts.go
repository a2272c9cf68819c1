package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrRecordNotFound means the card or idea no longer exists.
var ErrRecordNotFound = errors.New("search record not found")

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over cards and flow ideas of one board using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.BoardID == "" {
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

	const tsQuery = "plainto_tsquery('english', $1)"
	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultCard {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'card'::text AS type, c.id::text AS id, c.board_id::text AS board_id, ''::text AS flow_id, c.title,
				ts_headline('english', c.description, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(c.fts, %s) AS rank
			FROM cards c
			WHERE c.board_id = $2::uuid AND NOT c.archived AND c.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultIdea {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'idea'::text AS type, i.id::text AS id, f.board_id::text AS board_id, f.id::text AS flow_id, i.title,
				ts_headline('english', i.description, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(i.fts, %s) AS rank
			FROM ideas i
			JOIN flows f ON f.id = i.flow_id
			WHERE f.board_id = $2::uuid AND NOT i.archived AND i.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	args := []any{q.Text, q.BoardID}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, board_id, flow_id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.BoardID, &r.FlowID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

const cardRecordQuery = `
	SELECT 'card', c.id::text, c.board_id::text, '', c.title, c.description,
		coalesce((SELECT json_agg(t.name ORDER BY t.name) FROM tags t WHERE t.id = ANY(c.tag_ids)), '[]'::json),
		coalesce((SELECT json_agg(cm.text ORDER BY cm.created_at) FROM comments cm WHERE cm.card_id = c.id), '[]'::json),
		coalesce((SELECT json_agg(s.text ORDER BY s.position) FROM subtasks s WHERE s.card_id = c.id), '[]'::json)
	FROM cards c
	WHERE NOT c.archived`

const ideaRecordQuery = `
	SELECT 'idea', i.id::text, f.board_id::text, f.id::text, i.title, i.description,
		coalesce((SELECT json_agg(t.name ORDER BY t.name) FROM tags t WHERE t.id = ANY(i.tag_ids)), '[]'::json),
		coalesce((SELECT json_agg(cm.text ORDER BY cm.created_at) FROM comments cm WHERE cm.idea_id = i.id), '[]'::json),
		'[]'::json
	FROM ideas i
	JOIN flows f ON f.id = i.flow_id
	WHERE NOT i.archived`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var typ string
	var labels, comments, subtasks []byte
	if err := row.Scan(&typ, &r.ID, &r.BoardID, &r.FlowID, &r.Title, &r.Description, &labels, &comments, &subtasks); err != nil {
		return Record{}, err
	}
	r.Type = ResultType(typ)
	for _, pair := range []struct {
		raw []byte
		dst *[]string
	}{{labels, &r.Labels}, {comments, &r.Comments}, {subtasks, &r.Subtasks}} {
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return Record{}, fmt.Errorf("decode record lists: %w", err)
		}
	}
	return r, nil
}

// LoadRecord builds the index record of one live card or idea.
func (p *PgFTS) LoadRecord(ctx context.Context, typ ResultType, id string) (Record, error) {
	var query string
	switch typ {
	case ResultCard:
		query = cardRecordQuery + " AND c.id = $1::uuid"
	case ResultIdea:
		query = ideaRecordQuery + " AND i.id = $1::uuid"
	default:
		return Record{}, fmt.Errorf("unknown record type %q", typ)
	}
	r, err := scanRecord(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load %s record: %w", typ, err)
	}
	return r, nil
}

// LoadAllRecords returns every searchable record for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	records := make([]Record, 0)
	for _, query := range []string{cardRecordQuery, ideaRecordQuery} {
		rows, err := p.db.QueryContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("load records: %w", err)
		}
		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan record: %w", err)
			}
			records = append(records, r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate records: %w", err)
		}
	}
	return records, nil
}
