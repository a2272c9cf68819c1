package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ideaboard/api/internal/attachments"
	"ideaboard/api/internal/auth"
	"ideaboard/api/internal/board"
	"ideaboard/api/internal/config"
	"ideaboard/api/internal/export"
	"ideaboard/api/internal/rbac"
	"ideaboard/api/internal/search"
	"ideaboard/api/internal/store"
)

// Session is the authenticated caller of one request.
type Session struct {
	UserID string
	Email  string
	Name   string
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUser(context.Context, store.User) (store.User, error)

	ListBoards(context.Context, string) ([]store.Board, error)
	GetBoard(context.Context, string) (store.Board, error)
	CreateBoard(context.Context, store.Board) (store.Board, error)
	DeleteBoard(context.Context, string) error
	LoadBoard(context.Context, string) (store.BoardData, error)
	MemberRole(context.Context, string, string) (string, error)
	ListMembers(context.Context, string) ([]store.Member, error)
	AddMember(context.Context, string, string, string) error
	ListColumns(context.Context, string) ([]store.Column, error)
	GetColumn(context.Context, string) (store.Column, error)
	CreateColumn(context.Context, string, string) (store.Column, error)
	RenameColumn(context.Context, string, string) error
	ListTags(context.Context, string) ([]store.Tag, error)
	CreateTag(context.Context, string, string, string) (store.Tag, error)

	GetCard(context.Context, string) (store.Card, error)
	CreateCard(context.Context, store.Card) (store.Card, error)
	UpdateCard(context.Context, string, store.CardPatch) (store.Card, error)
	MoveCard(context.Context, string, string, float64) (store.Card, error)
	ArchiveCard(context.Context, string) (store.Card, error)
	RestoreCard(context.Context, string) (store.Card, error)
	DeleteCard(context.Context, string) error
	FetchCardDetail(context.Context, string) (store.CardDetail, error)

	GetSubtask(context.Context, string) (store.Subtask, error)
	CreateSubtask(context.Context, string, string) (store.Subtask, error)
	UpdateSubtask(context.Context, string, *string, *bool, *int) (store.Subtask, error)
	DeleteSubtask(context.Context, string) error

	GetAttachment(context.Context, string) (store.Attachment, error)
	CreateAttachment(context.Context, store.Attachment) (store.Attachment, error)
	DeleteAttachment(context.Context, string) error

	FetchComment(context.Context, string) (store.Comment, error)
	CreateComment(context.Context, store.Comment) (store.Comment, error)
	DeleteComment(context.Context, string) error

	ListFlows(context.Context, string) ([]store.Flow, error)
	GetFlow(context.Context, string) (store.Flow, error)
	CreateFlow(context.Context, store.Flow) (store.Flow, error)
	DeleteFlow(context.Context, string) error
	GetIdea(context.Context, string) (store.Idea, error)
	CreateIdea(context.Context, store.Idea) (store.Idea, error)
	UpdateIdea(context.Context, string, store.IdeaPatch) (store.Idea, error)
	PlaceIdeaOnKanban(context.Context, string, *string, *float64) (store.Idea, error)
	DeleteIdea(context.Context, string) error
	FetchIdeaDetail(context.Context, string) (store.IdeaDetail, error)
}

type blobStore interface {
	Put(ctx context.Context, cardID, filename, contentType string, r io.Reader, size int64) (attachments.Object, error)
	Remove(ctx context.Context, key string) error
	DownloadURL(ctx context.Context, key, filename string) (string, error)
}

type boardExporter interface {
	Export(ctx context.Context, boardID string, format export.Format) (*export.Result, error)
}

type boardSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Service struct {
	cfg      config.Config
	store    dataStore
	verifier *auth.Verifier
	blobs    blobStore
	exporter boardExporter
	search   boardSearcher
	log      *zap.Logger
}

func New(cfg config.Config, dataStore dataStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		verifier: auth.NewVerifier(cfg.JWTSecret),
		log:      log.Named("app"),
	}
}

// UseAttachments enables the attachment routes.
func (s *Service) UseAttachments(blobs blobStore) {
	s.blobs = blobs
}

func (s *Service) UseExporter(exporter boardExporter) {
	s.exporter = exporter
}

func (s *Service) UseSearch(searcher boardSearcher) {
	s.search = searcher
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SessionFromToken verifies an access token and makes sure the caller has a
// users row.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.EnsureUser(ctx, store.User{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
	})
	if err != nil {
		return Session{}, fmt.Errorf("session user: %w", err)
	}
	return Session{UserID: user.ID, Email: user.Email, Name: user.DisplayName}, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput runs the struct tags of input and reports failures as a
// VALIDATION_ERROR with one "field: rule" entry per failure.
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			details = append(details, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		details = append(details, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", details)
}

// parseDueDate reads a YYYY-MM-DD value. nil means unchanged, "" clears.
func parseDueDate(raw *string) (due *time.Time, clearDue bool, err error) {
	if raw == nil {
		return nil, false, nil
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return nil, true, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, false, validationError("dueDate must be YYYY-MM-DD")
	}
	return &parsed, false, nil
}

// checkPriority accepts low, medium, high and "" (clear).
func checkPriority(p *string) error {
	if p == nil {
		return nil
	}
	switch *p {
	case "", "low", "medium", "high":
		return nil
	}
	return validationError("priority must be one of low, medium, high")
}

type CreateBoardInput struct {
	Name          string   `json:"name" validate:"required,max=120"`
	Color         string   `json:"color"`
	Icon          string   `json:"icon"`
	Description   string   `json:"description"`
	DefaultLabels []string `json:"defaultLabels"`
}

type CreateTagInput struct {
	Name  string `json:"name" validate:"required,max=60"`
	Color string `json:"color"`
}

func (s *Service) ListBoards(ctx context.Context, session Session) ([]map[string]any, error) {
	boards, err := s.store.ListBoards(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(boards))
	for _, b := range boards {
		out = append(out, boardJSON(b))
	}
	return out, nil
}

func (s *Service) CreateBoard(ctx context.Context, session Session, input CreateBoardInput) (map[string]any, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	created, err := s.store.CreateBoard(ctx, store.Board{
		Name:          input.Name,
		Color:         input.Color,
		Icon:          input.Icon,
		OwnerID:       session.UserID,
		Description:   input.Description,
		DefaultLabels: input.DefaultLabels,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("board created", zap.String("board_id", created.ID), zap.String("owner_id", session.UserID))
	return boardJSON(created), nil
}

// LoadSnapshot returns the full board as the live view models it.
func (s *Service) LoadSnapshot(ctx context.Context, session Session, boardID string) (board.Snapshot, error) {
	if _, err := s.authorize(ctx, session, boardID, rbac.ActionRead); err != nil {
		return board.Snapshot{}, err
	}
	data, err := s.store.LoadBoard(ctx, boardID)
	if err != nil {
		return board.Snapshot{}, err
	}
	return board.FromData(data), nil
}

func (s *Service) DeleteBoard(ctx context.Context, session Session, boardID string) error {
	if _, err := s.authorize(ctx, session, boardID, rbac.ActionAdmin); err != nil {
		return err
	}
	return s.store.DeleteBoard(ctx, boardID)
}

func (s *Service) CreateColumn(ctx context.Context, session Session, boardID, title string) (map[string]any, error) {
	if _, err := s.authorize(ctx, session, boardID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required")
	}
	column, err := s.store.CreateColumn(ctx, boardID, title)
	if err != nil {
		return nil, err
	}
	return columnJSON(column), nil
}

func (s *Service) RenameColumn(ctx context.Context, session Session, columnID, title string) error {
	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return err
	}
	if _, err := s.authorize(ctx, session, column.BoardID, rbac.ActionWrite); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return validationError("title is required")
	}
	return s.store.RenameColumn(ctx, columnID, title)
}

func (s *Service) CreateTag(ctx context.Context, session Session, boardID string, input CreateTagInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, session, boardID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	tag, err := s.store.CreateTag(ctx, boardID, input.Name, input.Color)
	if err != nil {
		return nil, err
	}
	return tagJSON(tag), nil
}

func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if _, err := s.authorize(ctx, session, q.BoardID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{}, errUnconfigured
	}
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) Export(ctx context.Context, session Session, boardID string, format export.Format) (*export.Result, error) {
	if _, err := s.authorize(ctx, session, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, errUnconfigured
	}
	return s.exporter.Export(ctx, boardID, format)
}
