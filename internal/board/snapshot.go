// Package board holds the in-memory view of one board. A Snapshot is a
// value: every change produces a new Snapshot and never writes through to
// slices shared with an earlier one.
package board

import (
	"time"
)

type Source string

const (
	SourceCard Source = "card"
	SourceFlow Source = "flow"
)

// CardType is the idea type reported for manually created cards.
const CardType = "manual"

type Info struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Color         string   `json:"color"`
	Icon          string   `json:"icon"`
	OwnerID       string   `json:"ownerId"`
	Description   string   `json:"description"`
	DefaultLabels []string `json:"defaultLabels"`
}

type Member struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Role      string `json:"role"`
}

type Column struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Subtask struct {
	ID        string `json:"id"`
	CardID    string `json:"cardId"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Position  int    `json:"position"`
}

type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

type Comment struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// KanbanProjection places an idea on the kanban board. Status is the title
// of the column at the time the projection was mapped.
type KanbanProjection struct {
	ColumnID string  `json:"columnId"`
	Status   string  `json:"status"`
	Position float64 `json:"position"`
}

// Idea is either a card (Source card) or a flow idea (Source flow). Cards
// always carry a Kanban projection; flow ideas carry one once sent to the
// board.
type Idea struct {
	ID          string       `json:"id"`
	Source      Source       `json:"source"`
	FlowID      string       `json:"flowId,omitempty"`
	ParentID    string       `json:"parentId,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Type        string       `json:"type"`
	Priority    string       `json:"priority,omitempty"`
	DueDate     string       `json:"dueDate,omitempty"`
	AssignedTo  []Member     `json:"assignedTo"`
	Labels      []Label      `json:"labels"`
	Subtasks    []Subtask    `json:"subtasks"`
	Attachments []Attachment `json:"attachments"`
	Comments    []Comment    `json:"comments"`

	PositionX float64           `json:"positionX"`
	PositionY float64           `json:"positionY"`
	Kanban    *KanbanProjection `json:"kanban,omitempty"`

	Archived             bool       `json:"archived"`
	ArchivedAt           *time.Time `json:"archivedAt,omitempty"`
	ArchivedFromColumnID string     `json:"archivedFromColumnId,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// KanbanStatus is the column title of the projection, or "" off the board.
func (i Idea) KanbanStatus() string {
	if i.Kanban == nil {
		return ""
	}
	return i.Kanban.Status
}

// PrimaryAssignee is the first assignee, kept for single-assignee displays.
func (i Idea) PrimaryAssignee() (Member, bool) {
	if len(i.AssignedTo) == 0 {
		return Member{}, false
	}
	return i.AssignedTo[0], true
}

type Flow struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Name      string    `json:"name"`
	InputText string    `json:"inputText"`
	CreatedAt time.Time `json:"createdAt"`
}

type Snapshot struct {
	Board   Info     `json:"board"`
	Members []Member `json:"members"`
	Columns []Column `json:"columns"`
	Tags    []Label  `json:"tags"`
	Cards   []Idea   `json:"cards"`
	Flows   []Flow   `json:"flows"`
	Ideas   []Idea   `json:"ideas"`
}

func (s Snapshot) Empty() bool {
	return s.Board.ID == ""
}

// VisibleIdeas is what the board view shows: live cards and live flow ideas
// that have been sent to the kanban board.
func (s Snapshot) VisibleIdeas() []Idea {
	out := make([]Idea, 0, len(s.Cards)+len(s.Ideas))
	for _, c := range s.Cards {
		if !c.Archived {
			out = append(out, c)
		}
	}
	for _, i := range s.Ideas {
		if !i.Archived && i.Kanban != nil {
			out = append(out, i)
		}
	}
	return out
}

func (s Snapshot) FindCard(id string) (Idea, bool) {
	return find(s.Cards, id)
}

func (s Snapshot) FindIdea(id string) (Idea, bool) {
	return find(s.Ideas, id)
}

func (s Snapshot) ColumnTitle(columnID string) string {
	for _, c := range s.Columns {
		if c.ID == columnID {
			return c.Title
		}
	}
	return ""
}

func (s Snapshot) CardIDs() map[string]struct{} {
	return ids(s.Cards)
}

func (s Snapshot) IdeaIDs() map[string]struct{} {
	return ids(s.Ideas)
}

func (s Snapshot) FlowIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Flows))
	for _, f := range s.Flows {
		out[f.ID] = struct{}{}
	}
	return out
}

func find(list []Idea, id string) (Idea, bool) {
	for _, it := range list {
		if it.ID == id {
			return it, true
		}
	}
	return Idea{}, false
}

func ids(list []Idea) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, it := range list {
		out[it.ID] = struct{}{}
	}
	return out
}
