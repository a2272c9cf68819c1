package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const cardColumns = `
	c.id, c.board_id, c.column_id, c.title, c.description, c.position,
	to_json(c.assigned_to), to_json(c.tag_ids), c.due_date, c.priority,
	c.archived, c.archived_at, c.archived_from_column_id, COALESCE(c.created_by::text, ''),
	c.created_at, c.updated_at`

func scanCard(row rowScanner) (Card, error) {
	var (
		card         Card
		assigned     stringList
		tags         stringList
		due          sql.NullTime
		priority     sql.NullString
		archivedAt   sql.NullTime
		archivedFrom sql.NullString
	)
	if err := row.Scan(&card.ID, &card.BoardID, &card.ColumnID, &card.Title, &card.Description, &card.Position,
		&assigned, &tags, &due, &priority, &card.Archived, &archivedAt, &archivedFrom, &card.CreatedBy,
		&card.CreatedAt, &card.UpdatedAt); err != nil {
		return Card{}, notFound(err)
	}
	card.AssignedTo = assigned
	card.TagIDs = tags
	card.DueDate = timePtr(due)
	card.Priority = stringPtr(priority)
	card.ArchivedAt = timePtr(archivedAt)
	card.ArchivedFromColumnID = stringPtr(archivedFrom)
	return card, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards c WHERE c.id = $1`, cardID)
	return scanCard(row)
}

// CreateCard appends the card to the end of its column.
func (s *PostgresStore) CreateCard(ctx context.Context, card Card) (Card, error) {
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO cards (id, board_id, column_id, title, description, position, assigned_to, tag_ids, due_date, priority, created_by)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM cards WHERE column_id = $3),
			$6::text[]::uuid[], $7::text[]::uuid[], $8::date, $9, NULLIF($10, '')::uuid)
		RETURNING `+returningCard,
		card.ID, card.BoardID, card.ColumnID, card.Title, card.Description,
		nonNilStrings(card.AssignedTo), nonNilStrings(card.TagIDs), nullDate(card.DueDate), nullString(card.Priority), card.CreatedBy)
	created, err := scanCard(row)
	if err != nil {
		return Card{}, fmt.Errorf("insert card: %w", err)
	}
	return created, nil
}

const returningCard = `
	id, board_id, column_id, title, description, position,
	to_json(assigned_to), to_json(tag_ids), due_date, priority,
	archived, archived_at, archived_from_column_id, COALESCE(created_by::text, ''),
	created_at, updated_at`

func (s *PostgresStore) UpdateCard(ctx context.Context, cardID string, patch CardPatch) (Card, error) {
	var assigned, tags any
	if patch.AssignedTo != nil {
		assigned = patch.AssignedTo
	}
	if patch.TagIDs != nil {
		tags = patch.TagIDs
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE cards SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			priority = CASE WHEN $4::text IS NULL THEN priority WHEN $4 = '' THEN NULL ELSE $4 END,
			due_date = CASE WHEN $6 THEN NULL ELSE COALESCE($5::date, due_date) END,
			assigned_to = COALESCE($7::text[]::uuid[], assigned_to),
			tag_ids = COALESCE($8::text[]::uuid[], tag_ids)
		WHERE id = $1
		RETURNING `+returningCard,
		cardID, patch.Title, patch.Description, patch.Priority, nullDate(patch.DueDate), patch.ClearDue, assigned, tags)
	return scanCard(row)
}

// MoveCard is the drag-and-drop write: only column_id and position change.
func (s *PostgresStore) MoveCard(ctx context.Context, cardID, columnID string, position float64) (Card, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE cards SET column_id = $2, position = $3 WHERE id = $1
		RETURNING `+returningCard, cardID, columnID, position)
	return scanCard(row)
}

// ArchiveCard remembers the column the card was archived from so RestoreCard
// can put it back.
func (s *PostgresStore) ArchiveCard(ctx context.Context, cardID string) (Card, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE cards SET archived = TRUE, archived_at = NOW(), archived_from_column_id = column_id
		WHERE id = $1
		RETURNING `+returningCard, cardID)
	return scanCard(row)
}

// RestoreCard returns an archived card to its prior column, or to the board's
// first column when the prior column no longer exists.
func (s *PostgresStore) RestoreCard(ctx context.Context, cardID string) (Card, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE cards c SET
			archived = FALSE,
			archived_at = NULL,
			column_id = COALESCE(
				(SELECT bc.id FROM board_columns bc WHERE bc.id = c.archived_from_column_id),
				(SELECT bc.id FROM board_columns bc WHERE bc.board_id = c.board_id ORDER BY bc.position LIMIT 1),
				c.column_id),
			archived_from_column_id = NULL
		WHERE c.id = $1
		RETURNING `+returningCard, cardID)
	return scanCard(row)
}

func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, cardID)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	return requireAffected(res)
}

// FetchCardDetail returns the card with subtasks, attachments and comments
// (with author). Relations are read concurrently.
func (s *PostgresStore) FetchCardDetail(ctx context.Context, cardID string) (CardDetail, error) {
	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return CardDetail{}, err
	}
	detail := CardDetail{Card: card}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		detail.Subtasks, err = s.querySubtasks(gctx, `WHERE s.card_id = $1`, cardID)
		return err
	})
	g.Go(func() (err error) {
		detail.Attachments, err = s.queryAttachments(gctx, `WHERE a.card_id = $1`, cardID)
		return err
	})
	g.Go(func() (err error) {
		detail.Comments, err = s.queryComments(gctx, `WHERE cm.card_id = $1`, cardID)
		return err
	})
	if err := g.Wait(); err != nil {
		return CardDetail{}, fmt.Errorf("fetch card %s: %w", cardID, err)
	}
	return detail, nil
}

// ListCardDetails loads every card on the board with its relations using one
// query per relation.
func (s *PostgresStore) ListCardDetails(ctx context.Context, boardID string) ([]CardDetail, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards c WHERE c.board_id = $1 ORDER BY c.column_id, c.position`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	cards := []CardDetail{}
	index := map[string]int{}
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[card.ID] = len(cards)
		cards = append(cards, CardDetail{Card: card, Subtasks: []Subtask{}, Attachments: []Attachment{}, Comments: []Comment{}})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list cards: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	var (
		subtasks    []Subtask
		attachments []Attachment
		comments    []Comment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		subtasks, err = s.querySubtasks(gctx, `JOIN cards c ON c.id = s.card_id WHERE c.board_id = $1`, boardID)
		return err
	})
	g.Go(func() (err error) {
		attachments, err = s.queryAttachments(gctx, `JOIN cards c ON c.id = a.card_id WHERE c.board_id = $1`, boardID)
		return err
	})
	g.Go(func() (err error) {
		comments, err = s.queryComments(gctx, `JOIN cards c ON c.id = cm.card_id WHERE c.board_id = $1`, boardID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, st := range subtasks {
		if i, ok := index[st.CardID]; ok {
			cards[i].Subtasks = append(cards[i].Subtasks, st)
		}
	}
	for _, a := range attachments {
		if i, ok := index[a.CardID]; ok {
			cards[i].Attachments = append(cards[i].Attachments, a)
		}
	}
	for _, cm := range comments {
		if cm.CardID == nil {
			continue
		}
		if i, ok := index[*cm.CardID]; ok {
			cards[i].Comments = append(cards[i].Comments, cm)
		}
	}
	return cards, nil
}

func (s *PostgresStore) querySubtasks(ctx context.Context, where string, args ...any) ([]Subtask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.card_id, s.text, s.completed, s.position, s.created_at
		FROM subtasks s `+where+` ORDER BY s.position, s.created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("query subtasks: %w", err)
	}
	defer rows.Close()

	out := []Subtask{}
	for rows.Next() {
		var st Subtask
		if err := rows.Scan(&st.ID, &st.CardID, &st.Text, &st.Completed, &st.Position, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSubtask(ctx context.Context, subtaskID string) (Subtask, error) {
	list, err := s.querySubtasks(ctx, `WHERE s.id = $1`, subtaskID)
	if err != nil {
		return Subtask{}, err
	}
	if len(list) == 0 {
		return Subtask{}, ErrNotFound
	}
	return list[0], nil
}

func (s *PostgresStore) CreateSubtask(ctx context.Context, cardID, text string) (Subtask, error) {
	st := Subtask{ID: uuid.NewString(), CardID: cardID, Text: text}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subtasks (id, card_id, text, position)
		VALUES ($1, $2, $3, (SELECT COALESCE(MAX(position) + 1, 0) FROM subtasks WHERE card_id = $2))
		RETURNING position, created_at
	`, st.ID, cardID, text).Scan(&st.Position, &st.CreatedAt)
	if err != nil {
		return Subtask{}, fmt.Errorf("insert subtask: %w", err)
	}
	return st, nil
}

// UpdateSubtask changes any of text, completed or position; nil leaves the
// field as is.
func (s *PostgresStore) UpdateSubtask(ctx context.Context, subtaskID string, text *string, completed *bool, position *int) (Subtask, error) {
	var st Subtask
	err := s.db.QueryRowContext(ctx, `
		UPDATE subtasks SET
			text = COALESCE($2, text),
			completed = COALESCE($3, completed),
			position = COALESCE($4, position)
		WHERE id = $1
		RETURNING id, card_id, text, completed, position, created_at
	`, subtaskID, text, completed, position).Scan(&st.ID, &st.CardID, &st.Text, &st.Completed, &st.Position, &st.CreatedAt)
	if err != nil {
		return Subtask{}, notFound(err)
	}
	return st, nil
}

func (s *PostgresStore) DeleteSubtask(ctx context.Context, subtaskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subtasks WHERE id = $1`, subtaskID)
	if err != nil {
		return fmt.Errorf("delete subtask: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) queryAttachments(ctx context.Context, where string, args ...any) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.card_id, a.name, a.object_key, a.content_type, a.size_bytes,
			COALESCE(a.uploaded_by::text, ''), a.created_at
		FROM attachments a `+where+` ORDER BY a.created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	out := []Attachment{}
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.CardID, &a.Name, &a.ObjectKey, &a.ContentType, &a.SizeBytes, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	list, err := s.queryAttachments(ctx, `WHERE a.id = $1`, attachmentID)
	if err != nil {
		return Attachment{}, err
	}
	if len(list) == 0 {
		return Attachment{}, ErrNotFound
	}
	return list[0], nil
}

func (s *PostgresStore) CreateAttachment(ctx context.Context, a Attachment) (Attachment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO attachments (id, card_id, name, object_key, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid)
		RETURNING created_at
	`, a.ID, a.CardID, a.Name, a.ObjectKey, a.ContentType, a.SizeBytes, a.UploadedBy).Scan(&a.CreatedAt)
	if err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, attachmentID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) queryComments(ctx context.Context, where string, args ...any) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cm.id, cm.card_id::text, cm.idea_id::text, cm.author_id, cm.text, cm.created_at,
			u.id, u.email, u.display_name, u.avatar_url, u.created_at
		FROM comments cm
		JOIN users u ON u.id = cm.author_id `+where+` ORDER BY cm.created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		var (
			cm     Comment
			cardID sql.NullString
			ideaID sql.NullString
		)
		if err := rows.Scan(&cm.ID, &cardID, &ideaID, &cm.AuthorID, &cm.Text, &cm.CreatedAt,
			&cm.Author.ID, &cm.Author.Email, &cm.Author.DisplayName, &cm.Author.AvatarURL, &cm.Author.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		cm.CardID = stringPtr(cardID)
		cm.IdeaID = stringPtr(ideaID)
		out = append(out, cm)
	}
	return out, rows.Err()
}

// FetchComment returns a comment with its author.
func (s *PostgresStore) FetchComment(ctx context.Context, commentID string) (Comment, error) {
	list, err := s.queryComments(ctx, `WHERE cm.id = $1`, commentID)
	if err != nil {
		return Comment{}, err
	}
	if len(list) == 0 {
		return Comment{}, ErrNotFound
	}
	return list[0], nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, cm Comment) (Comment, error) {
	if cm.ID == "" {
		cm.ID = uuid.NewString()
	}
	if (cm.CardID == nil) == (cm.IdeaID == nil) {
		return Comment{}, fmt.Errorf("comment needs exactly one of card or idea")
	}
	var created time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, card_id, idea_id, author_id, text)
		VALUES ($1, $2::uuid, $3::uuid, $4, $5)
		RETURNING created_at
	`, cm.ID, nullString(cm.CardID), nullString(cm.IdeaID), cm.AuthorID, cm.Text).Scan(&created)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return s.FetchComment(ctx, cm.ID)
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return requireAffected(res)
}
