package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultColumns are created with every new board.
var DefaultColumns = []string{"To Do", "In Progress", "Review", "Done"}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// EnsureUser upserts the user row for an authenticated subject.
func (s *PostgresStore) EnsureUser(ctx context.Context, user User) (User, error) {
	const query = `
		INSERT INTO users (id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END,
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END
		RETURNING id, email, display_name, avatar_url, created_at
	`
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	email := user.Email
	if email == "" {
		email = user.ID + "@users.ideaboard.local"
	}
	var out User
	err := s.db.QueryRowContext(ctx, query, user.ID, email, user.DisplayName).
		Scan(&out.ID, &out.Email, &out.DisplayName, &out.AvatarURL, &out.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListBoards(ctx context.Context, userID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.name, b.color, b.icon, b.owner_id, b.description, b.default_labels, b.created_at, b.updated_at
		FROM boards b
		JOIN board_members m ON m.board_id = b.id
		WHERE m.user_id = $1
		ORDER BY b.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	boards := []Board{}
	for rows.Next() {
		board, err := scanBoard(rows)
		if err != nil {
			return nil, err
		}
		boards = append(boards, board)
	}
	return boards, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBoard(row rowScanner) (Board, error) {
	var board Board
	var labels []byte
	if err := row.Scan(&board.ID, &board.Name, &board.Color, &board.Icon, &board.OwnerID,
		&board.Description, &labels, &board.CreatedAt, &board.UpdatedAt); err != nil {
		return Board{}, notFound(err)
	}
	board.DefaultLabels = []string{}
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &board.DefaultLabels); err != nil {
			return Board{}, fmt.Errorf("decode default labels: %w", err)
		}
	}
	return board, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, icon, owner_id, description, default_labels, created_at, updated_at
		FROM boards WHERE id = $1
	`, boardID)
	return scanBoard(row)
}

// CreateBoard inserts the board, makes the owner a member and creates the
// default columns in one transaction.
func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) (Board, error) {
	if board.ID == "" {
		board.ID = uuid.NewString()
	}
	labels, err := json.Marshal(nonNilStrings(board.DefaultLabels))
	if err != nil {
		return Board{}, fmt.Errorf("encode default labels: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Board{}, fmt.Errorf("begin create board: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO boards (id, name, color, icon, owner_id, description, default_labels)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, name, color, icon, owner_id, description, default_labels, created_at, updated_at
	`, board.ID, board.Name, board.Color, board.Icon, board.OwnerID, board.Description, labels)
	created, err := scanBoard(row)
	if err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO board_members (board_id, user_id, role) VALUES ($1, $2, 'owner')
	`, created.ID, created.OwnerID); err != nil {
		return Board{}, fmt.Errorf("insert owner membership: %w", err)
	}

	for i, title := range DefaultColumns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO board_columns (id, board_id, title, position) VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), created.ID, title, i); err != nil {
			return Board{}, fmt.Errorf("insert default column %q: %w", title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Board{}, fmt.Errorf("commit create board: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id = $1`, boardID)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MemberRole returns the caller's role on the board, or ErrNotFound when the
// user is not a member.
func (s *PostgresStore) MemberRole(ctx context.Context, boardID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM board_members WHERE board_id = $1 AND user_id = $2`, boardID, userID).Scan(&role)
	if err != nil {
		return "", notFound(err)
	}
	return role, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, boardID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.board_id, m.user_id, m.role, u.id, u.email, u.display_name, u.avatar_url, u.created_at
		FROM board_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.board_id = $1
		ORDER BY m.created_at
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.BoardID, &m.UserID, &m.Role, &m.User.ID, &m.User.Email,
			&m.User.DisplayName, &m.User.AvatarURL, &m.User.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *PostgresStore) AddMember(ctx context.Context, boardID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_members (board_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (board_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, boardID, userID, role)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListColumns(ctx context.Context, boardID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, title, position FROM board_columns WHERE board_id = $1 ORDER BY position, created_at
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	columns := []Column{}
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Title, &c.Position); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID string) (Column, error) {
	var c Column
	err := s.db.QueryRowContext(ctx, `SELECT id, board_id, title, position FROM board_columns WHERE id = $1`, columnID).
		Scan(&c.ID, &c.BoardID, &c.Title, &c.Position)
	if err != nil {
		return Column{}, notFound(err)
	}
	return c, nil
}

func (s *PostgresStore) CreateColumn(ctx context.Context, boardID, title string) (Column, error) {
	c := Column{ID: uuid.NewString(), BoardID: boardID, Title: title}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO board_columns (id, board_id, title, position)
		VALUES ($1, $2, $3, (SELECT COALESCE(MAX(position) + 1, 0) FROM board_columns WHERE board_id = $2))
		RETURNING position
	`, c.ID, boardID, title).Scan(&c.Position)
	if err != nil {
		return Column{}, fmt.Errorf("insert column: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) RenameColumn(ctx context.Context, columnID, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE board_columns SET title = $2 WHERE id = $1`, columnID, title)
	if err != nil {
		return fmt.Errorf("rename column: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) ListTags(ctx context.Context, boardID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, board_id, name, color FROM tags WHERE board_id = $1 ORDER BY created_at`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.BoardID, &t.Name, &t.Color); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *PostgresStore) CreateTag(ctx context.Context, boardID, name, color string) (Tag, error) {
	t := Tag{ID: uuid.NewString(), BoardID: boardID, Name: name, Color: color}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO tags (id, board_id, name, color) VALUES ($1, $2, $3, $4)`,
		t.ID, t.BoardID, t.Name, t.Color); err != nil {
		return Tag{}, fmt.Errorf("insert tag: %w", err)
	}
	return t, nil
}

// LoadBoard reads the full board in parallel: metadata, members, columns,
// tags, cards with relations and flows with ideas.
func (s *PostgresStore) LoadBoard(ctx context.Context, boardID string) (BoardData, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return BoardData{}, err
	}
	data := BoardData{Board: board}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		data.Members, err = s.ListMembers(gctx, boardID)
		return err
	})
	g.Go(func() (err error) {
		data.Columns, err = s.ListColumns(gctx, boardID)
		return err
	})
	g.Go(func() (err error) {
		data.Tags, err = s.ListTags(gctx, boardID)
		return err
	})
	g.Go(func() (err error) {
		data.Cards, err = s.ListCardDetails(gctx, boardID)
		return err
	})
	g.Go(func() (err error) {
		data.Flows, err = s.ListFlows(gctx, boardID)
		return err
	})
	g.Go(func() (err error) {
		data.Ideas, err = s.ListIdeaDetails(gctx, boardID)
		return err
	})
	if err := g.Wait(); err != nil {
		return BoardData{}, fmt.Errorf("load board %s: %w", boardID, err)
	}
	return data, nil
}
