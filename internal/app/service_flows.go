package app

import (
	"context"
	"strings"

	"ideaboard/api/internal/rbac"
	"ideaboard/api/internal/store"
)

type CreateFlowInput struct {
	Name      string `json:"name" validate:"required,max=200"`
	InputText string `json:"inputText"`
}

type CreateIdeaInput struct {
	ParentID    *string  `json:"parentId"`
	Title       string   `json:"title" validate:"required,max=500"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Priority    *string  `json:"priority"`
	DueDate     *string  `json:"dueDate"`
	AssignedTo  []string `json:"assignedTo" validate:"max=50"`
	TagIDs      []string `json:"tagIds" validate:"max=50"`
	PositionX   float64  `json:"positionX"`
	PositionY   float64  `json:"positionY"`
}

type UpdateIdeaInput struct {
	Title       *string  `json:"title" validate:"omitempty,max=500"`
	Description *string  `json:"description"`
	Type        *string  `json:"type"`
	Priority    *string  `json:"priority"`
	DueDate     *string  `json:"dueDate"`
	AssignedTo  []string `json:"assignedTo" validate:"max=50"`
	TagIDs      []string `json:"tagIds" validate:"max=50"`
	PositionX   *float64 `json:"positionX"`
	PositionY   *float64 `json:"positionY"`
	Archived    *bool    `json:"archived"`
}

// KanbanPlacementInput sends an idea to the board. An empty column means the
// board's first column; a nil position appends.
type KanbanPlacementInput struct {
	ColumnID string   `json:"columnId"`
	Position *float64 `json:"position"`
}

func (s *Service) flowBoard(ctx context.Context, session Session, flowID string, action rbac.Action) (store.Flow, error) {
	flow, err := s.store.GetFlow(ctx, flowID)
	if err != nil {
		return store.Flow{}, err
	}
	if _, err := s.authorize(ctx, session, flow.BoardID, action); err != nil {
		return store.Flow{}, err
	}
	return flow, nil
}

func (s *Service) ideaFlow(ctx context.Context, ideaID string) (store.Idea, store.Flow, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.Idea{}, store.Flow{}, err
	}
	flow, err := s.store.GetFlow(ctx, idea.FlowID)
	if err != nil {
		return store.Idea{}, store.Flow{}, err
	}
	return idea, flow, nil
}

func (s *Service) ideaBoard(ctx context.Context, session Session, ideaID string, action rbac.Action) (store.Idea, store.Flow, error) {
	idea, flow, err := s.ideaFlow(ctx, ideaID)
	if err != nil {
		return store.Idea{}, store.Flow{}, err
	}
	if _, err := s.authorize(ctx, session, flow.BoardID, action); err != nil {
		return store.Idea{}, store.Flow{}, err
	}
	return idea, flow, nil
}

func (s *Service) ListFlows(ctx context.Context, session Session, boardID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, session, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	flows, err := s.store.ListFlows(ctx, boardID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(flows))
	for _, f := range flows {
		out = append(out, flowJSON(f))
	}
	return out, nil
}

func (s *Service) CreateFlow(ctx context.Context, session Session, boardID string, input CreateFlowInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, session, boardID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	flow, err := s.store.CreateFlow(ctx, store.Flow{
		BoardID:   boardID,
		Name:      input.Name,
		InputText: input.InputText,
		CreatedBy: session.UserID,
	})
	if err != nil {
		return nil, err
	}
	return flowJSON(flow), nil
}

func (s *Service) DeleteFlow(ctx context.Context, session Session, flowID string) error {
	if _, err := s.flowBoard(ctx, session, flowID, rbac.ActionWrite); err != nil {
		return err
	}
	return s.store.DeleteFlow(ctx, flowID)
}

func (s *Service) CreateIdea(ctx context.Context, session Session, flowID string, input CreateIdeaInput) (map[string]any, error) {
	if _, err := s.flowBoard(ctx, session, flowID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	input.Title = strings.TrimSpace(input.Title)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := checkPriority(input.Priority); err != nil {
		return nil, err
	}
	due, _, err := parseDueDate(input.DueDate)
	if err != nil {
		return nil, err
	}
	if input.ParentID != nil {
		parent, err := s.store.GetIdea(ctx, *input.ParentID)
		if err != nil || parent.FlowID != flowID {
			return nil, validationError("parentId must be an idea of the same flow")
		}
	}
	var priority *string
	if input.Priority != nil && *input.Priority != "" {
		priority = input.Priority
	}
	idea, err := s.store.CreateIdea(ctx, store.Idea{
		FlowID:      flowID,
		ParentID:    input.ParentID,
		Title:       input.Title,
		Description: input.Description,
		Type:        strings.TrimSpace(input.Type),
		Priority:    priority,
		DueDate:     due,
		AssignedTo:  input.AssignedTo,
		TagIDs:      input.TagIDs,
		PositionX:   input.PositionX,
		PositionY:   input.PositionY,
	})
	if err != nil {
		return nil, err
	}
	return ideaJSON(idea), nil
}

func (s *Service) UpdateIdea(ctx context.Context, session Session, ideaID string, input UpdateIdeaInput) (map[string]any, error) {
	if _, _, err := s.ideaBoard(ctx, session, ideaID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		if trimmed == "" {
			return nil, validationError("title cannot be empty")
		}
		input.Title = &trimmed
	}
	if err := checkPriority(input.Priority); err != nil {
		return nil, err
	}
	due, clearDue, err := parseDueDate(input.DueDate)
	if err != nil {
		return nil, err
	}
	idea, err := s.store.UpdateIdea(ctx, ideaID, store.IdeaPatch{
		Title:       input.Title,
		Description: input.Description,
		Type:        input.Type,
		Priority:    input.Priority,
		DueDate:     due,
		ClearDue:    clearDue,
		AssignedTo:  input.AssignedTo,
		TagIDs:      input.TagIDs,
		PositionX:   input.PositionX,
		PositionY:   input.PositionY,
		Archived:    input.Archived,
	})
	if err != nil {
		return nil, err
	}
	return ideaJSON(idea), nil
}

// SendIdeaToKanban projects a flow idea onto the board's kanban columns.
func (s *Service) SendIdeaToKanban(ctx context.Context, session Session, ideaID string, input KanbanPlacementInput) (map[string]any, error) {
	_, flow, err := s.ideaBoard(ctx, session, ideaID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	columnID := strings.TrimSpace(input.ColumnID)
	if columnID == "" {
		columns, err := s.store.ListColumns(ctx, flow.BoardID)
		if err != nil {
			return nil, err
		}
		if len(columns) == 0 {
			return nil, validationError("board has no columns")
		}
		columnID = columns[0].ID
	} else if err := s.boardColumn(ctx, flow.BoardID, columnID); err != nil {
		return nil, err
	}
	idea, err := s.store.PlaceIdeaOnKanban(ctx, ideaID, &columnID, input.Position)
	if err != nil {
		return nil, err
	}
	return ideaJSON(idea), nil
}

func (s *Service) RemoveIdeaFromKanban(ctx context.Context, session Session, ideaID string) (map[string]any, error) {
	if _, _, err := s.ideaBoard(ctx, session, ideaID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	idea, err := s.store.PlaceIdeaOnKanban(ctx, ideaID, nil, nil)
	if err != nil {
		return nil, err
	}
	return ideaJSON(idea), nil
}

func (s *Service) DeleteIdea(ctx context.Context, session Session, ideaID string) error {
	if _, _, err := s.ideaBoard(ctx, session, ideaID, rbac.ActionWrite); err != nil {
		return err
	}
	return s.store.DeleteIdea(ctx, ideaID)
}
