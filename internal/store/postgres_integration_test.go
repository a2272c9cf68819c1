package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"), zaptest.NewLogger(t)); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func TestBoardLifecyclePostgres(t *testing.T) {
	s, ctx := newTestStore(t)

	owner, err := s.EnsureUser(ctx, User{Email: "owner@example.com", DisplayName: "Owner"})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	board, err := s.CreateBoard(ctx, Board{Name: "Roadmap", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}

	role, err := s.MemberRole(ctx, board.ID, owner.ID)
	if err != nil || role != "owner" {
		t.Fatalf("expected owner role, got %q err=%v", role, err)
	}

	columns, err := s.ListColumns(ctx, board.ID)
	if err != nil {
		t.Fatalf("list columns: %v", err)
	}
	if len(columns) != len(DefaultColumns) {
		t.Fatalf("expected %d default columns, got %d", len(DefaultColumns), len(columns))
	}

	card, err := s.CreateCard(ctx, Card{BoardID: board.ID, ColumnID: columns[0].ID, Title: "Write brief", CreatedBy: owner.ID})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if _, err := s.CreateSubtask(ctx, card.ID, "outline"); err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	if _, err := s.CreateComment(ctx, Comment{CardID: &card.ID, AuthorID: owner.ID, Text: "looks good"}); err != nil {
		t.Fatalf("create comment: %v", err)
	}

	moved, err := s.MoveCard(ctx, card.ID, columns[1].ID, 3.5)
	if err != nil {
		t.Fatalf("move card: %v", err)
	}
	if moved.ColumnID != columns[1].ID || moved.Position != 3.5 {
		t.Fatalf("unexpected moved card %+v", moved)
	}

	archived, err := s.ArchiveCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("archive card: %v", err)
	}
	if !archived.Archived || archived.ArchivedFromColumnID == nil || *archived.ArchivedFromColumnID != columns[1].ID {
		t.Fatalf("unexpected archived card %+v", archived)
	}
	restored, err := s.RestoreCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("restore card: %v", err)
	}
	if restored.Archived || restored.ColumnID != columns[1].ID {
		t.Fatalf("unexpected restored card %+v", restored)
	}

	flow, err := s.CreateFlow(ctx, Flow{BoardID: board.ID, Name: "Launch", CreatedBy: owner.ID})
	if err != nil {
		t.Fatalf("create flow: %v", err)
	}
	idea, err := s.CreateIdea(ctx, Idea{FlowID: flow.ID, Title: "Teaser video", PositionX: 10, PositionY: 20})
	if err != nil {
		t.Fatalf("create idea: %v", err)
	}
	placed, err := s.PlaceIdeaOnKanban(ctx, idea.ID, &columns[0].ID, nil)
	if err != nil {
		t.Fatalf("place idea: %v", err)
	}
	if placed.KanbanColumnID == nil || placed.KanbanPosition == nil {
		t.Fatalf("expected kanban projection, got %+v", placed)
	}

	data, err := s.LoadBoard(ctx, board.ID)
	if err != nil {
		t.Fatalf("load board: %v", err)
	}
	if len(data.Cards) != 1 || len(data.Cards[0].Subtasks) != 1 || len(data.Cards[0].Comments) != 1 {
		t.Fatalf("unexpected cards %+v", data.Cards)
	}
	if data.Cards[0].Comments[0].Author.DisplayName != "Owner" {
		t.Fatalf("expected comment author to be loaded, got %+v", data.Cards[0].Comments[0].Author)
	}
	if len(data.Flows) != 1 || len(data.Ideas) != 1 {
		t.Fatalf("unexpected flows=%d ideas=%d", len(data.Flows), len(data.Ideas))
	}

	if err := s.DeleteFlow(ctx, flow.ID); err != nil {
		t.Fatalf("delete flow: %v", err)
	}
	if _, err := s.GetIdea(ctx, idea.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected idea to cascade with its flow, got %v", err)
	}
	if err := s.DeleteCard(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown card, got %v", err)
	}
}

func TestUserProfilePostgres(t *testing.T) {
	s, ctx := newTestStore(t)

	user, err := s.EnsureUser(ctx, User{Email: "writer@example.com"})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, err := s.GetUserProfile(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before create, got %v", err)
	}

	profile, err := s.CreateUserProfile(ctx, user.ID)
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if profile.TopicsLiked == nil || len(profile.TopicsLiked) != 0 {
		t.Fatalf("expected empty topics, got %#v", profile.TopicsLiked)
	}

	profile.PreferredTone = "playful"
	profile.TopicsLiked = []string{"space", "robots"}
	saved, err := s.SaveUserProfile(ctx, profile)
	if err != nil {
		t.Fatalf("save profile: %v", err)
	}
	if saved.PreferredTone != "playful" || len(saved.TopicsLiked) != 2 {
		t.Fatalf("unexpected saved profile %+v", saved)
	}
}

func TestChangeFeedFollowsConfiguredChannelPostgres(t *testing.T) {
	s, ctx := newTestStore(t)

	conn, err := pgx.Connect(ctx, os.Getenv("IDEABOARD_TEST_DATABASE_URL"))
	if err != nil {
		t.Fatalf("connect listener: %v", err)
	}
	defer conn.Close(context.Background())
	if _, err := conn.Exec(ctx, "LISTEN custom_feed"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := SetFeedChannel(ctx, s.db, "custom_feed"); err != nil {
		t.Fatalf("set feed channel: %v", err)
	}
	if err := SetFeedChannel(ctx, s.db, " "); err == nil {
		t.Fatal("expected an empty channel to be rejected")
	}

	owner, err := s.EnsureUser(ctx, User{Email: "feed@example.com", DisplayName: "Feed"})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	board, err := s.CreateBoard(ctx, Board{Name: "Feed", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	columns, err := s.ListColumns(ctx, board.ID)
	if err != nil {
		t.Fatalf("list columns: %v", err)
	}
	title := strings.Repeat("long title ", 1000)
	if _, err := s.CreateCard(ctx, Card{BoardID: board.ID, ColumnID: columns[0].ID, Title: title, CreatedBy: owner.ID}); err != nil {
		t.Fatalf("create card with a long title: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	n, err := conn.WaitForNotification(waitCtx)
	if err != nil {
		t.Fatalf("wait for notification: %v", err)
	}
	if n.Channel != "custom_feed" {
		t.Fatalf("expected custom_feed, got %q", n.Channel)
	}
	if len(n.Payload) >= 8000 || strings.Contains(n.Payload, "long title") {
		t.Fatalf("expected a digested payload, got %d bytes", len(n.Payload))
	}
}
