package app

import (
	"time"

	"ideaboard/api/internal/store"
)

func dateJSON(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func stringsJSON(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func boardJSON(b store.Board) map[string]any {
	return map[string]any{
		"id":            b.ID,
		"name":          b.Name,
		"color":         b.Color,
		"icon":          b.Icon,
		"ownerId":       b.OwnerID,
		"description":   b.Description,
		"defaultLabels": stringsJSON(b.DefaultLabels),
		"createdAt":     b.CreatedAt,
		"updatedAt":     b.UpdatedAt,
	}
}

func memberJSON(m store.Member) map[string]any {
	return map[string]any{
		"userId":    m.UserID,
		"role":      m.Role,
		"email":     m.User.Email,
		"name":      m.User.DisplayName,
		"avatarUrl": m.User.AvatarURL,
	}
}

func columnJSON(c store.Column) map[string]any {
	return map[string]any{
		"id":       c.ID,
		"boardId":  c.BoardID,
		"title":    c.Title,
		"position": c.Position,
	}
}

func tagJSON(t store.Tag) map[string]any {
	return map[string]any{
		"id":      t.ID,
		"boardId": t.BoardID,
		"name":    t.Name,
		"color":   t.Color,
	}
}

func cardJSON(c store.Card) map[string]any {
	return map[string]any{
		"id":                   c.ID,
		"boardId":              c.BoardID,
		"columnId":             c.ColumnID,
		"title":                c.Title,
		"description":          c.Description,
		"position":             c.Position,
		"assignedTo":           stringsJSON(c.AssignedTo),
		"tagIds":               stringsJSON(c.TagIDs),
		"dueDate":              dateJSON(c.DueDate),
		"priority":             c.Priority,
		"archived":             c.Archived,
		"archivedAt":           c.ArchivedAt,
		"archivedFromColumnId": c.ArchivedFromColumnID,
		"createdBy":            c.CreatedBy,
		"createdAt":            c.CreatedAt,
		"updatedAt":            c.UpdatedAt,
	}
}

func subtaskJSON(st store.Subtask) map[string]any {
	return map[string]any{
		"id":        st.ID,
		"cardId":    st.CardID,
		"text":      st.Text,
		"completed": st.Completed,
		"position":  st.Position,
	}
}

func commentJSON(cm store.Comment) map[string]any {
	return map[string]any{
		"id":         cm.ID,
		"cardId":     cm.CardID,
		"ideaId":     cm.IdeaID,
		"authorId":   cm.AuthorID,
		"authorName": cm.Author.DisplayName,
		"text":       cm.Text,
		"createdAt":  cm.CreatedAt,
	}
}

func attachmentJSON(a store.Attachment) map[string]any {
	return map[string]any{
		"id":          a.ID,
		"cardId":      a.CardID,
		"name":        a.Name,
		"contentType": a.ContentType,
		"sizeBytes":   a.SizeBytes,
		"uploadedBy":  a.UploadedBy,
		"createdAt":   a.CreatedAt,
	}
}

func flowJSON(f store.Flow) map[string]any {
	return map[string]any{
		"id":        f.ID,
		"boardId":   f.BoardID,
		"name":      f.Name,
		"inputText": f.InputText,
		"createdBy": f.CreatedBy,
		"createdAt": f.CreatedAt,
		"updatedAt": f.UpdatedAt,
	}
}

func ideaJSON(i store.Idea) map[string]any {
	payload := map[string]any{
		"id":          i.ID,
		"flowId":      i.FlowID,
		"parentId":    i.ParentID,
		"title":       i.Title,
		"description": i.Description,
		"type":        i.Type,
		"priority":    i.Priority,
		"dueDate":     dateJSON(i.DueDate),
		"assignedTo":  stringsJSON(i.AssignedTo),
		"tagIds":      stringsJSON(i.TagIDs),
		"positionX":   i.PositionX,
		"positionY":   i.PositionY,
		"archived":    i.Archived,
		"createdAt":   i.CreatedAt,
		"updatedAt":   i.UpdatedAt,
		"kanban":      nil,
	}
	if i.KanbanColumnID != nil {
		kanban := map[string]any{"columnId": *i.KanbanColumnID}
		if i.KanbanPosition != nil {
			kanban["position"] = *i.KanbanPosition
		}
		payload["kanban"] = kanban
	}
	return payload
}
