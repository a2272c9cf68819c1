package realtime

import (
	"context"

	"ideaboard/api/internal/board"
	"ideaboard/api/internal/feed"
)

// stream is one change-feed subscription and how its events map onto the
// snapshot.
type stream struct {
	table string
	topic func(boardID string) feed.Topic
	// relevant is evaluated against the snapshot at event time, so
	// membership follows the board's current contents.
	relevant func(s board.Snapshot, ev feed.Event) bool
	// fetch loads the row. With adopt the fetched owned columns replace the
	// local ones unless the entity is being dragged.
	fetch  func(ctx context.Context, c *Controller, id string, adopt bool) (mergeFunc, error)
	remove func(id string) mergeFunc
	// owned returns the local values of the owned columns, if the entity is
	// in the snapshot. Nil for tables without owned columns.
	owned func(s board.Snapshot, id string) (feed.Row, bool)
}

// keptColumns requires c.mu.
func (c *Controller) keptColumns(table, id string, adopt bool) Fields {
	dragging := c.isDragging(id)
	if adopt && !dragging {
		return nil
	}
	return c.policies[table].kept(dragging)
}

func (c *Controller) streams() []stream {
	var out []stream
	if c.kanban {
		out = append(out, cardStream(), subtaskStream())
	}
	if c.kanban || c.flows {
		out = append(out, commentStream())
	}
	if c.flows {
		out = append(out, flowStream(), ideaStream())
	}
	return out
}

func always(board.Snapshot, feed.Event) bool { return true }

func byBoard(table string) func(string) feed.Topic {
	return func(boardID string) feed.Topic {
		return feed.Topic{Table: table, Column: "board_id", Value: boardID}
	}
}

func unfiltered(table string) func(string) feed.Topic {
	return func(string) feed.Topic {
		return feed.Topic{Table: table}
	}
}

func member(set map[string]struct{}, id string) bool {
	if id == "" {
		return false
	}
	_, ok := set[id]
	return ok
}

func cardStream() stream {
	return stream{
		table:    "cards",
		topic:    byBoard("cards"),
		relevant: always,
		fetch: func(ctx context.Context, c *Controller, id string, adopt bool) (mergeFunc, error) {
			detail, err := c.fetch.FetchCardDetail(ctx, id)
			if err != nil {
				return nil, err
			}
			return func(s board.Snapshot) board.Snapshot {
				merged := s.CardFromDetail(detail)
				if local, ok := s.FindCard(id); ok {
					keepIdeaColumns(&merged, local, c.keptColumns("cards", id, adopt))
				}
				return s.UpsertCard(merged)
			}, nil
		},
		remove: func(id string) mergeFunc {
			return func(s board.Snapshot) board.Snapshot { return s.RemoveCard(id) }
		},
		owned: func(s board.Snapshot, id string) (feed.Row, bool) {
			local, ok := s.FindCard(id)
			if !ok {
				return nil, false
			}
			return cardColumns(local), true
		},
	}
}

func subtaskStream() stream {
	return stream{
		table: "subtasks",
		topic: unfiltered("subtasks"),
		relevant: func(s board.Snapshot, ev feed.Event) bool {
			return member(s.CardIDs(), ev.Row().String("card_id"))
		},
		fetch: func(ctx context.Context, c *Controller, id string, adopt bool) (mergeFunc, error) {
			st, err := c.fetch.GetSubtask(ctx, id)
			if err != nil {
				return nil, err
			}
			return func(s board.Snapshot) board.Snapshot {
				merged := board.SubtaskFrom(st)
				if local, ok := s.FindSubtask(id); ok && local.CardID == merged.CardID {
					keepSubtaskColumns(&merged, local, c.keptColumns("subtasks", id, adopt))
				}
				return s.UpsertSubtask(merged)
			}, nil
		},
		remove: func(id string) mergeFunc {
			return func(s board.Snapshot) board.Snapshot { return s.RemoveSubtask(id) }
		},
		owned: func(s board.Snapshot, id string) (feed.Row, bool) {
			local, ok := s.FindSubtask(id)
			if !ok {
				return nil, false
			}
			return subtaskColumns(local), true
		},
	}
}

func commentStream() stream {
	return stream{
		table: "comments",
		topic: unfiltered("comments"),
		relevant: func(s board.Snapshot, ev feed.Event) bool {
			row := ev.Row()
			return member(s.CardIDs(), row.String("card_id")) || member(s.IdeaIDs(), row.String("idea_id"))
		},
		fetch: func(ctx context.Context, c *Controller, id string, _ bool) (mergeFunc, error) {
			cm, err := c.fetch.FetchComment(ctx, id)
			if err != nil {
				return nil, err
			}
			return func(s board.Snapshot) board.Snapshot {
				mapped := board.CommentFrom(cm)
				switch {
				case cm.CardID != nil:
					return s.UpsertCardComment(*cm.CardID, mapped)
				case cm.IdeaID != nil:
					return s.UpsertIdeaComment(*cm.IdeaID, mapped)
				}
				return s
			}, nil
		},
		remove: func(id string) mergeFunc {
			return func(s board.Snapshot) board.Snapshot { return s.RemoveComment(id) }
		},
	}
}

func flowStream() stream {
	return stream{
		table:    "flows",
		topic:    byBoard("flows"),
		relevant: always,
		fetch: func(ctx context.Context, c *Controller, id string, _ bool) (mergeFunc, error) {
			f, err := c.fetch.GetFlow(ctx, id)
			if err != nil {
				return nil, err
			}
			return func(s board.Snapshot) board.Snapshot {
				return s.UpsertFlow(board.FlowFrom(f))
			}, nil
		},
		remove: func(id string) mergeFunc {
			return func(s board.Snapshot) board.Snapshot { return s.RemoveFlow(id) }
		},
	}
}

func ideaStream() stream {
	return stream{
		table: "ideas",
		topic: unfiltered("ideas"),
		relevant: func(s board.Snapshot, ev feed.Event) bool {
			return member(s.FlowIDs(), ev.Row().String("flow_id"))
		},
		fetch: func(ctx context.Context, c *Controller, id string, adopt bool) (mergeFunc, error) {
			detail, err := c.fetch.FetchIdeaDetail(ctx, id)
			if err != nil {
				return nil, err
			}
			return func(s board.Snapshot) board.Snapshot {
				merged := s.IdeaFromDetail(detail)
				if local, ok := s.FindIdea(id); ok {
					keepIdeaColumns(&merged, local, c.keptColumns("ideas", id, adopt))
				}
				return s.UpsertIdea(merged)
			}, nil
		},
		remove: func(id string) mergeFunc {
			return func(s board.Snapshot) board.Snapshot { return s.RemoveIdea(id) }
		},
		owned: func(s board.Snapshot, id string) (feed.Row, bool) {
			local, ok := s.FindIdea(id)
			if !ok {
				return nil, false
			}
			return ideaOwnedColumns(local), true
		},
	}
}
