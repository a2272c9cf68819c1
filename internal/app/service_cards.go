package app

import (
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"ideaboard/api/internal/rbac"
	"ideaboard/api/internal/store"
)

type CreateCardInput struct {
	ColumnID    string   `json:"columnId" validate:"required"`
	Title       string   `json:"title" validate:"required,max=500"`
	Description string   `json:"description"`
	Priority    *string  `json:"priority"`
	DueDate     *string  `json:"dueDate"`
	AssignedTo  []string `json:"assignedTo" validate:"max=50"`
	TagIDs      []string `json:"tagIds" validate:"max=50"`
}

// UpdateCardInput changes only the fields present. An empty priority or due
// date clears it.
type UpdateCardInput struct {
	Title       *string  `json:"title" validate:"omitempty,max=500"`
	Description *string  `json:"description"`
	Priority    *string  `json:"priority"`
	DueDate     *string  `json:"dueDate"`
	AssignedTo  []string `json:"assignedTo" validate:"max=50"`
	TagIDs      []string `json:"tagIds" validate:"max=50"`
}

type MoveCardInput struct {
	ColumnID string  `json:"columnId" validate:"required"`
	Position float64 `json:"position"`
}

type UpdateSubtaskInput struct {
	Text      *string `json:"text"`
	Completed *bool   `json:"completed"`
	Position  *int    `json:"position"`
}

// cardBoard loads the card and checks the caller may perform action on its
// board.
func (s *Service) cardBoard(ctx context.Context, session Session, cardID string, action rbac.Action) (store.Card, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return store.Card{}, err
	}
	if _, err := s.authorize(ctx, session, card.BoardID, action); err != nil {
		return store.Card{}, err
	}
	return card, nil
}

// boardColumn checks columnID belongs to boardID.
func (s *Service) boardColumn(ctx context.Context, boardID, columnID string) error {
	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil || column.BoardID != boardID {
		return validationError("columnId does not belong to this board")
	}
	return nil
}

func (s *Service) CreateCard(ctx context.Context, session Session, boardID string, input CreateCardInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, session, boardID, rbac.ActionWrite); err != nil {
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
	if err := s.boardColumn(ctx, boardID, input.ColumnID); err != nil {
		return nil, err
	}
	var priority *string
	if input.Priority != nil && *input.Priority != "" {
		priority = input.Priority
	}
	card, err := s.store.CreateCard(ctx, store.Card{
		BoardID:     boardID,
		ColumnID:    input.ColumnID,
		Title:       input.Title,
		Description: input.Description,
		Priority:    priority,
		DueDate:     due,
		AssignedTo:  input.AssignedTo,
		TagIDs:      input.TagIDs,
		CreatedBy:   session.UserID,
	})
	if err != nil {
		return nil, err
	}
	return cardJSON(card), nil
}

func (s *Service) UpdateCard(ctx context.Context, session Session, cardID string, input UpdateCardInput) (map[string]any, error) {
	if _, err := s.cardBoard(ctx, session, cardID, rbac.ActionWrite); err != nil {
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
	card, err := s.store.UpdateCard(ctx, cardID, store.CardPatch{
		Title:       input.Title,
		Description: input.Description,
		Priority:    input.Priority,
		DueDate:     due,
		ClearDue:    clearDue,
		AssignedTo:  input.AssignedTo,
		TagIDs:      input.TagIDs,
	})
	if err != nil {
		return nil, err
	}
	return cardJSON(card), nil
}

// MoveCard is the drop half of a drag: the only write that changes a card's
// column and position.
func (s *Service) MoveCard(ctx context.Context, session Session, cardID string, input MoveCardInput) (map[string]any, error) {
	card, err := s.cardBoard(ctx, session, cardID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := s.boardColumn(ctx, card.BoardID, input.ColumnID); err != nil {
		return nil, err
	}
	moved, err := s.store.MoveCard(ctx, cardID, input.ColumnID, input.Position)
	if err != nil {
		return nil, err
	}
	return cardJSON(moved), nil
}

func (s *Service) ArchiveCard(ctx context.Context, session Session, cardID string) (map[string]any, error) {
	if _, err := s.cardBoard(ctx, session, cardID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	card, err := s.store.ArchiveCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	return cardJSON(card), nil
}

func (s *Service) RestoreCard(ctx context.Context, session Session, cardID string) (map[string]any, error) {
	card, err := s.cardBoard(ctx, session, cardID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if !card.Archived {
		return nil, domainError(http.StatusConflict, "NOT_ARCHIVED", "Card is not archived", nil)
	}
	restored, err := s.store.RestoreCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	return cardJSON(restored), nil
}

func (s *Service) DeleteCard(ctx context.Context, session Session, cardID string) error {
	if _, err := s.cardBoard(ctx, session, cardID, rbac.ActionWrite); err != nil {
		return err
	}
	return s.store.DeleteCard(ctx, cardID)
}

func (s *Service) CreateSubtask(ctx context.Context, session Session, cardID, text string) (map[string]any, error) {
	if _, err := s.cardBoard(ctx, session, cardID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validationError("text is required")
	}
	st, err := s.store.CreateSubtask(ctx, cardID, text)
	if err != nil {
		return nil, err
	}
	return subtaskJSON(st), nil
}

func (s *Service) UpdateSubtask(ctx context.Context, session Session, subtaskID string, input UpdateSubtaskInput) (map[string]any, error) {
	st, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.cardBoard(ctx, session, st.CardID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if input.Text != nil && strings.TrimSpace(*input.Text) == "" {
		return nil, validationError("text cannot be empty")
	}
	updated, err := s.store.UpdateSubtask(ctx, subtaskID, input.Text, input.Completed, input.Position)
	if err != nil {
		return nil, err
	}
	return subtaskJSON(updated), nil
}

func (s *Service) DeleteSubtask(ctx context.Context, session Session, subtaskID string) error {
	st, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return err
	}
	if _, err := s.cardBoard(ctx, session, st.CardID, rbac.ActionWrite); err != nil {
		return err
	}
	return s.store.DeleteSubtask(ctx, subtaskID)
}

func (s *Service) AddCardComment(ctx context.Context, session Session, cardID, text string) (map[string]any, error) {
	if _, err := s.cardBoard(ctx, session, cardID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	return s.addComment(ctx, session, store.Comment{CardID: &cardID}, text)
}

func (s *Service) AddIdeaComment(ctx context.Context, session Session, ideaID, text string) (map[string]any, error) {
	if _, _, err := s.ideaBoard(ctx, session, ideaID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	return s.addComment(ctx, session, store.Comment{IdeaID: &ideaID}, text)
}

func (s *Service) addComment(ctx context.Context, session Session, cm store.Comment, text string) (map[string]any, error) {
	cm.Text = strings.TrimSpace(text)
	if cm.Text == "" {
		return nil, validationError("text is required")
	}
	cm.AuthorID = session.UserID
	created, err := s.store.CreateComment(ctx, cm)
	if err != nil {
		return nil, err
	}
	return commentJSON(created), nil
}

// DeleteComment is open to the author and to board owners.
func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	cm, err := s.store.FetchComment(ctx, commentID)
	if err != nil {
		return err
	}
	var boardID string
	switch {
	case cm.CardID != nil:
		card, err := s.store.GetCard(ctx, *cm.CardID)
		if err != nil {
			return err
		}
		boardID = card.BoardID
	case cm.IdeaID != nil:
		_, flow, err := s.ideaFlow(ctx, *cm.IdeaID)
		if err != nil {
			return err
		}
		boardID = flow.BoardID
	}
	action := rbac.ActionAdmin
	if cm.AuthorID == session.UserID {
		action = rbac.ActionWrite
	}
	if _, err := s.authorize(ctx, session, boardID, action); err != nil {
		return err
	}
	return s.store.DeleteComment(ctx, commentID)
}

func (s *Service) UploadAttachment(ctx context.Context, session Session, cardID, filename, contentType string, r io.Reader, size int64) (map[string]any, error) {
	if s.blobs == nil {
		return nil, errUnconfigured
	}
	if _, err := s.cardBoard(ctx, session, cardID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if strings.TrimSpace(filename) == "" {
		return nil, validationError("file name is required")
	}
	obj, err := s.blobs.Put(ctx, cardID, filename, contentType, r, size)
	if err != nil {
		return nil, err
	}
	created, err := s.store.CreateAttachment(ctx, store.Attachment{
		CardID:      cardID,
		Name:        filename,
		ObjectKey:   obj.Key,
		ContentType: obj.ContentType,
		SizeBytes:   obj.Size,
		UploadedBy:  session.UserID,
	})
	if err != nil {
		if rmErr := s.blobs.Remove(ctx, obj.Key); rmErr != nil {
			s.log.Warn("remove orphaned attachment", zap.String("key", obj.Key), zap.Error(rmErr))
		}
		return nil, err
	}
	return attachmentJSON(created), nil
}

func (s *Service) attachmentBoard(ctx context.Context, session Session, attachmentID string, action rbac.Action) (store.Attachment, error) {
	a, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return store.Attachment{}, err
	}
	if _, err := s.cardBoard(ctx, session, a.CardID, action); err != nil {
		return store.Attachment{}, err
	}
	return a, nil
}

func (s *Service) AttachmentURL(ctx context.Context, session Session, attachmentID string) (map[string]any, error) {
	if s.blobs == nil {
		return nil, errUnconfigured
	}
	a, err := s.attachmentBoard(ctx, session, attachmentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	url, err := s.blobs.DownloadURL(ctx, a.ObjectKey, a.Name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url, "attachment": attachmentJSON(a)}, nil
}

// DeleteAttachment removes the row, then the blob. A failed blob removal is
// logged, not returned.
func (s *Service) DeleteAttachment(ctx context.Context, session Session, attachmentID string) error {
	if s.blobs == nil {
		return errUnconfigured
	}
	a, err := s.attachmentBoard(ctx, session, attachmentID, rbac.ActionWrite)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAttachment(ctx, attachmentID); err != nil {
		return err
	}
	if err := s.blobs.Remove(ctx, a.ObjectKey); err != nil {
		s.log.Warn("remove attachment object", zap.String("key", a.ObjectKey), zap.Error(err))
	}
	return nil
}
