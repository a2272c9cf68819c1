package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type User struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}

type Board struct {
	ID            string
	Name          string
	Color         string
	Icon          string
	OwnerID       string
	Description   string
	DefaultLabels []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Member struct {
	BoardID string
	UserID  string
	Role    string
	User    User
}

type Column struct {
	ID       string
	BoardID  string
	Title    string
	Position int
}

type Tag struct {
	ID      string
	BoardID string
	Name    string
	Color   string
}

type Card struct {
	ID                   string
	BoardID              string
	ColumnID             string
	Title                string
	Description          string
	Position             float64
	AssignedTo           []string
	TagIDs               []string
	DueDate              *time.Time
	Priority             *string
	Archived             bool
	ArchivedAt           *time.Time
	ArchivedFromColumnID *string
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CardPatch carries the optional fields of a card update; nil means unchanged.
type CardPatch struct {
	Title       *string
	Description *string
	Priority    *string
	DueDate     *time.Time
	ClearDue    bool
	AssignedTo  []string
	TagIDs      []string
}

type Subtask struct {
	ID        string
	CardID    string
	Text      string
	Completed bool
	Position  int
	CreatedAt time.Time
}

type Attachment struct {
	ID          string
	CardID      string
	Name        string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}

// Comment belongs to exactly one of a card or an idea.
type Comment struct {
	ID        string
	CardID    *string
	IdeaID    *string
	AuthorID  string
	Author    User
	Text      string
	CreatedAt time.Time
}

type Flow struct {
	ID        string
	BoardID   string
	Name      string
	InputText string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Idea struct {
	ID             string
	FlowID         string
	ParentID       *string
	Title          string
	Description    string
	Type           string
	Priority       *string
	DueDate        *time.Time
	AssignedTo     []string
	TagIDs         []string
	PositionX      float64
	PositionY      float64
	KanbanColumnID *string
	KanbanPosition *float64
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IdeaPatch carries the optional fields of an idea update; nil means unchanged.
type IdeaPatch struct {
	Title       *string
	Description *string
	Type        *string
	Priority    *string
	DueDate     *time.Time
	ClearDue    bool
	AssignedTo  []string
	TagIDs      []string
	PositionX   *float64
	PositionY   *float64
	Archived    *bool
}

// CardDetail is a card with its nested relations, as fetched after a change
// event or on a full board load.
type CardDetail struct {
	Card
	Subtasks    []Subtask
	Attachments []Attachment
	Comments    []Comment
}

type IdeaDetail struct {
	Idea
	Comments []Comment
}

// BoardData is everything needed to build a board snapshot in one load.
type BoardData struct {
	Board   Board
	Members []Member
	Columns []Column
	Tags    []Tag
	Cards   []CardDetail
	Flows   []Flow
	Ideas   []IdeaDetail
}

type UserProfile struct {
	UserID                  string    `json:"user_id"`
	PreferredTone           string    `json:"preferred_tone"`
	PreferredLength         string    `json:"preferred_length"`
	TopicsLiked             []string  `json:"topics_liked"`
	TopicsDisliked          []string  `json:"topics_disliked"`
	IdeaStyle               string    `json:"idea_style"`
	ExamplesOfLikedIdeas    []string  `json:"examples_of_liked_ideas"`
	ExamplesOfDislikedIdeas []string  `json:"examples_of_disliked_ideas"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// DefaultUserProfile is the row created the first time a user reacts to an idea.
func DefaultUserProfile(userID string) UserProfile {
	return UserProfile{
		UserID:                  userID,
		TopicsLiked:             []string{},
		TopicsDisliked:          []string{},
		ExamplesOfLikedIdeas:    []string{},
		ExamplesOfDislikedIdeas: []string{},
	}
}
