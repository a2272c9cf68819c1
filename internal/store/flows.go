package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func (s *PostgresStore) queryFlows(ctx context.Context, where string, args ...any) ([]Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, name, input_text, COALESCE(created_by::text, ''), created_at, updated_at
		FROM flows `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	out := []Flow{}
	for rows.Next() {
		var f Flow
		if err := rows.Scan(&f.ID, &f.BoardID, &f.Name, &f.InputText, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListFlows(ctx context.Context, boardID string) ([]Flow, error) {
	return s.queryFlows(ctx, `WHERE board_id = $1`, boardID)
}

func (s *PostgresStore) GetFlow(ctx context.Context, flowID string) (Flow, error) {
	list, err := s.queryFlows(ctx, `WHERE id = $1`, flowID)
	if err != nil {
		return Flow{}, err
	}
	if len(list) == 0 {
		return Flow{}, ErrNotFound
	}
	return list[0], nil
}

func (s *PostgresStore) CreateFlow(ctx context.Context, flow Flow) (Flow, error) {
	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO flows (id, board_id, name, input_text, created_by)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid)
		RETURNING created_at, updated_at
	`, flow.ID, flow.BoardID, flow.Name, flow.InputText, flow.CreatedBy).Scan(&flow.CreatedAt, &flow.UpdatedAt)
	if err != nil {
		return Flow{}, fmt.Errorf("insert flow: %w", err)
	}
	return flow, nil
}

// DeleteFlow removes the flow; its ideas go with it through the foreign key.
func (s *PostgresStore) DeleteFlow(ctx context.Context, flowID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = $1`, flowID)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	return requireAffected(res)
}

const ideaColumns = `
	i.id, i.flow_id, i.parent_id::text, i.title, i.description, i.idea_type, i.priority, i.due_date,
	to_json(i.assigned_to), to_json(i.tag_ids), i.position_x, i.position_y,
	i.kanban_column_id::text, i.kanban_position, i.archived, i.created_at, i.updated_at`

func scanIdea(row rowScanner) (Idea, error) {
	var (
		idea           Idea
		parent         sql.NullString
		priority       sql.NullString
		due            sql.NullTime
		assigned       stringList
		tags           stringList
		kanbanColumn   sql.NullString
		kanbanPosition sql.NullFloat64
	)
	if err := row.Scan(&idea.ID, &idea.FlowID, &parent, &idea.Title, &idea.Description, &idea.Type, &priority, &due,
		&assigned, &tags, &idea.PositionX, &idea.PositionY,
		&kanbanColumn, &kanbanPosition, &idea.Archived, &idea.CreatedAt, &idea.UpdatedAt); err != nil {
		return Idea{}, notFound(err)
	}
	idea.ParentID = stringPtr(parent)
	idea.Priority = stringPtr(priority)
	idea.DueDate = timePtr(due)
	idea.AssignedTo = assigned
	idea.TagIDs = tags
	idea.KanbanColumnID = stringPtr(kanbanColumn)
	idea.KanbanPosition = floatPtr(kanbanPosition)
	return idea, nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas i WHERE i.id = $1`, ideaID)
	return scanIdea(row)
}

func (s *PostgresStore) CreateIdea(ctx context.Context, idea Idea) (Idea, error) {
	if idea.ID == "" {
		idea.ID = uuid.NewString()
	}
	if idea.Type == "" {
		idea.Type = "idea"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ideas (id, flow_id, parent_id, title, description, idea_type, priority, due_date,
			assigned_to, tag_ids, position_x, position_y)
		VALUES ($1, $2, $3::uuid, $4, $5, $6, $7, $8::date, $9::text[]::uuid[], $10::text[]::uuid[], $11, $12)
	`, idea.ID, idea.FlowID, nullString(idea.ParentID), idea.Title, idea.Description, idea.Type,
		nullString(idea.Priority), nullDate(idea.DueDate), nonNilStrings(idea.AssignedTo), nonNilStrings(idea.TagIDs),
		idea.PositionX, idea.PositionY)
	if err != nil {
		return Idea{}, fmt.Errorf("insert idea: %w", err)
	}
	return s.GetIdea(ctx, idea.ID)
}

func (s *PostgresStore) UpdateIdea(ctx context.Context, ideaID string, patch IdeaPatch) (Idea, error) {
	var assigned, tags any
	if patch.AssignedTo != nil {
		assigned = patch.AssignedTo
	}
	if patch.TagIDs != nil {
		tags = patch.TagIDs
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ideas SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			idea_type = COALESCE($4, idea_type),
			priority = CASE WHEN $5::text IS NULL THEN priority WHEN $5 = '' THEN NULL ELSE $5 END,
			due_date = CASE WHEN $7 THEN NULL ELSE COALESCE($6::date, due_date) END,
			assigned_to = COALESCE($8::text[]::uuid[], assigned_to),
			tag_ids = COALESCE($9::text[]::uuid[], tag_ids),
			position_x = COALESCE($10, position_x),
			position_y = COALESCE($11, position_y),
			archived = COALESCE($12, archived)
		WHERE id = $1
	`, ideaID, patch.Title, patch.Description, patch.Type, patch.Priority, nullDate(patch.DueDate), patch.ClearDue,
		assigned, tags, patch.PositionX, patch.PositionY, patch.Archived)
	if err != nil {
		return Idea{}, fmt.Errorf("update idea: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return Idea{}, err
	}
	return s.GetIdea(ctx, ideaID)
}

// PlaceIdeaOnKanban projects an idea into a kanban column. A nil columnID
// removes the projection.
func (s *PostgresStore) PlaceIdeaOnKanban(ctx context.Context, ideaID string, columnID *string, position *float64) (Idea, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ideas SET
			kanban_column_id = $2::uuid,
			kanban_position = CASE WHEN $2::uuid IS NULL THEN NULL
				ELSE COALESCE($3, (SELECT COALESCE(MAX(kanban_position) + 1, 0) FROM ideas WHERE kanban_column_id = $2::uuid))
			END
		WHERE id = $1
	`, ideaID, nullString(columnID), position)
	if err != nil {
		return Idea{}, fmt.Errorf("place idea: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return Idea{}, err
	}
	return s.GetIdea(ctx, ideaID)
}

func (s *PostgresStore) DeleteIdea(ctx context.Context, ideaID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ideas WHERE id = $1`, ideaID)
	if err != nil {
		return fmt.Errorf("delete idea: %w", err)
	}
	return requireAffected(res)
}

// FetchIdeaDetail returns the idea with its comments.
func (s *PostgresStore) FetchIdeaDetail(ctx context.Context, ideaID string) (IdeaDetail, error) {
	var detail IdeaDetail
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		detail.Idea, err = s.GetIdea(gctx, ideaID)
		return err
	})
	g.Go(func() (err error) {
		detail.Comments, err = s.queryComments(gctx, `WHERE cm.idea_id = $1`, ideaID)
		return err
	})
	if err := g.Wait(); err != nil {
		return IdeaDetail{}, err
	}
	return detail, nil
}

func (s *PostgresStore) ListIdeaDetails(ctx context.Context, boardID string) ([]IdeaDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ideaColumns+` FROM ideas i
		JOIN flows f ON f.id = i.flow_id
		WHERE f.board_id = $1
		ORDER BY i.created_at`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	ideas := []IdeaDetail{}
	index := map[string]int{}
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[idea.ID] = len(ideas)
		ideas = append(ideas, IdeaDetail{Idea: idea, Comments: []Comment{}})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	comments, err := s.queryComments(ctx, `
		JOIN ideas i ON i.id = cm.idea_id
		JOIN flows f ON f.id = i.flow_id
		WHERE f.board_id = $1`, boardID)
	if err != nil {
		return nil, err
	}
	for _, cm := range comments {
		if cm.IdeaID == nil {
			continue
		}
		if i, ok := index[*cm.IdeaID]; ok {
			ideas[i].Comments = append(ideas[i].Comments, cm)
		}
	}
	return ideas, nil
}
