package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ideaboard/api/internal/rbac"
	"ideaboard/api/internal/store"
)

// authorize returns the caller's role on the board if it allows action.
// Non-members are refused before the action is looked at.
func (s *Service) authorize(ctx context.Context, session Session, boardID string, action rbac.Action) (rbac.Role, error) {
	raw, err := s.store.MemberRole(ctx, boardID, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return "", errNotMember
	}
	if err != nil {
		return "", fmt.Errorf("member role: %w", err)
	}
	role := rbac.Normalize(raw)
	if !rbac.Can(role, action) {
		s.log.Debug("action denied",
			zap.String("board_id", boardID),
			zap.String("user_id", session.UserID),
			zap.String("role", string(role)),
			zap.String("action", string(action)),
		)
		return role, errForbidden
	}
	return role, nil
}

type AddMemberInput struct {
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=viewer editor owner"`
}

// Permissions reports the caller's role on the board and what it allows.
func (s *Service) Permissions(ctx context.Context, session Session, boardID string) (map[string]any, error) {
	role, err := s.authorize(ctx, session, boardID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"boardId":  boardID,
		"role":     role,
		"canRead":  true,
		"canWrite": rbac.Can(role, rbac.ActionWrite),
		"canAdmin": rbac.Can(role, rbac.ActionAdmin),
	}, nil
}

func (s *Service) ListMembers(ctx context.Context, session Session, boardID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, session, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, boardID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(members))
	for _, m := range members {
		out = append(out, memberJSON(m))
	}
	return out, nil
}

// AddMember grants input.Role on the board, replacing any previous role.
func (s *Service) AddMember(ctx context.Context, session Session, boardID string, input AddMemberInput) error {
	if _, err := s.authorize(ctx, session, boardID, rbac.ActionAdmin); err != nil {
		return err
	}
	if err := validateInput(input); err != nil {
		return err
	}
	if input.UserID == session.UserID && input.Role != string(rbac.RoleOwner) {
		return validationError("owners cannot demote themselves")
	}
	if _, err := s.store.EnsureUser(ctx, store.User{ID: input.UserID}); err != nil {
		return err
	}
	if err := s.store.AddMember(ctx, boardID, input.UserID, input.Role); err != nil {
		return err
	}
	s.log.Info("member role granted",
		zap.String("board_id", boardID),
		zap.String("user_id", input.UserID),
		zap.String("role", input.Role),
		zap.String("granted_by", session.UserID),
	)
	return nil
}
