package board

import (
	"time"

	"ideaboard/api/internal/store"
)

const dateLayout = "2006-01-02"

// FromData builds the snapshot for a freshly loaded board.
func FromData(data store.BoardData) Snapshot {
	s := Snapshot{
		Board: Info{
			ID:            data.Board.ID,
			Name:          data.Board.Name,
			Color:         data.Board.Color,
			Icon:          data.Board.Icon,
			OwnerID:       data.Board.OwnerID,
			Description:   data.Board.Description,
			DefaultLabels: nonNil(data.Board.DefaultLabels),
		},
		Members: make([]Member, 0, len(data.Members)),
		Columns: make([]Column, 0, len(data.Columns)),
		Tags:    make([]Label, 0, len(data.Tags)),
		Flows:   make([]Flow, 0, len(data.Flows)),
	}
	for _, m := range data.Members {
		s.Members = append(s.Members, MemberFrom(m))
	}
	for _, c := range data.Columns {
		s.Columns = append(s.Columns, Column{ID: c.ID, Title: c.Title, Position: c.Position})
	}
	for _, t := range data.Tags {
		s.Tags = append(s.Tags, Label{ID: t.ID, Name: t.Name, Color: t.Color})
	}
	for _, f := range data.Flows {
		s.Flows = append(s.Flows, FlowFrom(f))
	}

	s.Cards = make([]Idea, 0, len(data.Cards))
	for _, c := range data.Cards {
		s.Cards = append(s.Cards, s.CardFromDetail(c))
	}
	s.Ideas = make([]Idea, 0, len(data.Ideas))
	for _, i := range data.Ideas {
		s.Ideas = append(s.Ideas, s.IdeaFromDetail(i))
	}
	return s
}

func MemberFrom(m store.Member) Member {
	name := m.User.DisplayName
	if name == "" {
		name = m.User.Email
	}
	return Member{UserID: m.UserID, Name: name, Email: m.User.Email, AvatarURL: m.User.AvatarURL, Role: m.Role}
}

func FlowFrom(f store.Flow) Flow {
	return Flow{ID: f.ID, BoardID: f.BoardID, Name: f.Name, InputText: f.InputText, CreatedAt: f.CreatedAt}
}

func SubtaskFrom(st store.Subtask) Subtask {
	return Subtask{ID: st.ID, CardID: st.CardID, Text: st.Text, Completed: st.Completed, Position: st.Position}
}

func CommentFrom(c store.Comment) Comment {
	name := c.Author.DisplayName
	if name == "" {
		name = c.Author.Email
	}
	return Comment{ID: c.ID, AuthorID: c.AuthorID, AuthorName: name, Text: c.Text, CreatedAt: c.CreatedAt}
}

// CardFromDetail maps a fetched card into the view model, resolving its
// column title, assignees and labels against s.
func (s Snapshot) CardFromDetail(d store.CardDetail) Idea {
	idea := Idea{
		ID:          d.ID,
		Source:      SourceCard,
		Title:       d.Title,
		Description: d.Description,
		Type:        CardType,
		Priority:    deref(d.Priority),
		DueDate:     formatDate(d.DueDate),
		AssignedTo:  s.resolveMembers(d.AssignedTo),
		Labels:      s.resolveLabels(d.TagIDs),
		Subtasks:    make([]Subtask, 0, len(d.Subtasks)),
		Attachments: make([]Attachment, 0, len(d.Attachments)),
		Comments:    make([]Comment, 0, len(d.Comments)),
		Kanban: &KanbanProjection{
			ColumnID: d.ColumnID,
			Status:   s.ColumnTitle(d.ColumnID),
			Position: d.Position,
		},
		Archived:             d.Archived,
		ArchivedAt:           d.ArchivedAt,
		ArchivedFromColumnID: deref(d.ArchivedFromColumnID),
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
	for _, st := range d.Subtasks {
		idea.Subtasks = append(idea.Subtasks, SubtaskFrom(st))
	}
	for _, a := range d.Attachments {
		idea.Attachments = append(idea.Attachments, Attachment{ID: a.ID, Name: a.Name, ContentType: a.ContentType, SizeBytes: a.SizeBytes})
	}
	for _, c := range d.Comments {
		idea.Comments = append(idea.Comments, CommentFrom(c))
	}
	return idea
}

// IdeaFromDetail maps a fetched flow idea into the view model.
func (s Snapshot) IdeaFromDetail(d store.IdeaDetail) Idea {
	idea := Idea{
		ID:          d.ID,
		Source:      SourceFlow,
		FlowID:      d.FlowID,
		ParentID:    deref(d.ParentID),
		Title:       d.Title,
		Description: d.Description,
		Type:        d.Type,
		Priority:    deref(d.Priority),
		DueDate:     formatDate(d.DueDate),
		AssignedTo:  s.resolveMembers(d.AssignedTo),
		Labels:      s.resolveLabels(d.TagIDs),
		Subtasks:    []Subtask{},
		Attachments: []Attachment{},
		Comments:    make([]Comment, 0, len(d.Comments)),
		PositionX:   d.PositionX,
		PositionY:   d.PositionY,
		Archived:    d.Archived,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.KanbanColumnID != nil {
		idea.Kanban = &KanbanProjection{
			ColumnID: *d.KanbanColumnID,
			Status:   s.ColumnTitle(*d.KanbanColumnID),
		}
		if d.KanbanPosition != nil {
			idea.Kanban.Position = *d.KanbanPosition
		}
	}
	for _, c := range d.Comments {
		idea.Comments = append(idea.Comments, CommentFrom(c))
	}
	return idea
}

// resolveMembers keeps the ids that belong to a board member, in order.
func (s Snapshot) resolveMembers(userIDs []string) []Member {
	out := make([]Member, 0, len(userIDs))
	for _, id := range userIDs {
		for _, m := range s.Members {
			if m.UserID == id {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func (s Snapshot) resolveLabels(tagIDs []string) []Label {
	out := make([]Label, 0, len(tagIDs))
	for _, id := range tagIDs {
		for _, t := range s.Tags {
			if t.ID == id {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// formatDate renders a due date as YYYY-MM-DD in the zone it was stored in.
func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
