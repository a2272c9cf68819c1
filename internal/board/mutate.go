package board

// The helpers below always build a new backing array so that a Snapshot
// handed out earlier keeps seeing its own data.

func upsert[T any](list []T, item T, id func(T) string) []T {
	key := id(item)
	out := make([]T, 0, len(list)+1)
	replaced := false
	for _, it := range list {
		if id(it) == key {
			out = append(out, item)
			replaced = true
			continue
		}
		out = append(out, it)
	}
	if !replaced {
		out = append(out, item)
	}
	return out
}

func remove[T any](list []T, keep func(T) bool) []T {
	out := make([]T, 0, len(list))
	for _, it := range list {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func ideaID(i Idea) string       { return i.ID }
func flowID(f Flow) string       { return f.ID }
func subtaskID(s Subtask) string { return s.ID }
func commentID(c Comment) string { return c.ID }

// UpsertCard replaces the card with the same id or appends it.
func (s Snapshot) UpsertCard(card Idea) Snapshot {
	s.Cards = upsert(s.Cards, card, ideaID)
	return s
}

func (s Snapshot) RemoveCard(id string) Snapshot {
	s.Cards = remove(s.Cards, func(c Idea) bool { return c.ID != id })
	return s
}

func (s Snapshot) UpsertIdea(idea Idea) Snapshot {
	s.Ideas = upsert(s.Ideas, idea, ideaID)
	return s
}

func (s Snapshot) RemoveIdea(id string) Snapshot {
	s.Ideas = remove(s.Ideas, func(i Idea) bool { return i.ID != id })
	return s
}

func (s Snapshot) UpsertFlow(flow Flow) Snapshot {
	s.Flows = upsert(s.Flows, flow, flowID)
	return s
}

// RemoveFlow drops the flow and every idea that belongs to it.
func (s Snapshot) RemoveFlow(id string) Snapshot {
	s.Flows = remove(s.Flows, func(f Flow) bool { return f.ID != id })
	s.Ideas = remove(s.Ideas, func(i Idea) bool { return i.FlowID != id })
	return s
}

// UpsertSubtask places the subtask on its card. Unknown cards are ignored.
func (s Snapshot) UpsertSubtask(st Subtask) Snapshot {
	return s.updateCard(st.CardID, func(c Idea) Idea {
		c.Subtasks = upsert(c.Subtasks, st, subtaskID)
		return c
	})
}

// RemoveSubtask removes the subtask from whichever card holds it.
func (s Snapshot) RemoveSubtask(id string) Snapshot {
	cards := make([]Idea, len(s.Cards))
	for i, c := range s.Cards {
		if hasSubtask(c, id) {
			c.Subtasks = remove(c.Subtasks, func(st Subtask) bool { return st.ID != id })
		}
		cards[i] = c
	}
	s.Cards = cards
	return s
}

// FindSubtask returns the subtask currently held for id.
func (s Snapshot) FindSubtask(id string) (Subtask, bool) {
	for _, c := range s.Cards {
		for _, st := range c.Subtasks {
			if st.ID == id {
				return st, true
			}
		}
	}
	return Subtask{}, false
}

// UpsertCardComment places a comment on a card.
func (s Snapshot) UpsertCardComment(cardID string, cm Comment) Snapshot {
	return s.updateCard(cardID, func(c Idea) Idea {
		c.Comments = upsert(c.Comments, cm, commentID)
		return c
	})
}

// UpsertIdeaComment places a comment on a flow idea.
func (s Snapshot) UpsertIdeaComment(ideaID string, cm Comment) Snapshot {
	ideas := make([]Idea, len(s.Ideas))
	for i, it := range s.Ideas {
		if it.ID == ideaID {
			it.Comments = upsert(it.Comments, cm, commentID)
		}
		ideas[i] = it
	}
	s.Ideas = ideas
	return s
}

// RemoveComment removes the comment from any card or idea holding it.
func (s Snapshot) RemoveComment(id string) Snapshot {
	keep := func(cm Comment) bool { return cm.ID != id }
	cards := make([]Idea, len(s.Cards))
	for i, c := range s.Cards {
		c.Comments = remove(c.Comments, keep)
		cards[i] = c
	}
	ideas := make([]Idea, len(s.Ideas))
	for i, it := range s.Ideas {
		it.Comments = remove(it.Comments, keep)
		ideas[i] = it
	}
	s.Cards = cards
	s.Ideas = ideas
	return s
}

func (s Snapshot) updateCard(cardID string, fn func(Idea) Idea) Snapshot {
	cards := make([]Idea, len(s.Cards))
	for i, c := range s.Cards {
		if c.ID == cardID {
			c = fn(c)
		}
		cards[i] = c
	}
	s.Cards = cards
	return s
}

func hasSubtask(c Idea, id string) bool {
	for _, st := range c.Subtasks {
		if st.ID == id {
			return true
		}
	}
	return false
}

// MoveOnKanban places the card or kanban idea id in columnID at position.
// It reports false when no such entity is on the board or the column is
// unknown.
func (s Snapshot) MoveOnKanban(id, columnID string, position float64) (Snapshot, bool) {
	status := s.ColumnTitle(columnID)
	if status == "" {
		return s, false
	}
	place := func(i Idea) Idea {
		i.Kanban = &KanbanProjection{ColumnID: columnID, Status: status, Position: position}
		return i
	}
	if _, ok := s.FindCard(id); ok {
		return s.updateCard(id, place), true
	}
	if idea, ok := s.FindIdea(id); ok && idea.Kanban != nil {
		s.Ideas = upsert(s.Ideas, place(idea), ideaID)
		return s, true
	}
	return s, false
}
