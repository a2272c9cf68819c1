package realtime

import (
	"reflect"

	"ideaboard/api/internal/board"
	"ideaboard/api/internal/feed"
)

// Fields is a set of column names.
type Fields map[string]struct{}

func NewFields(names ...string) Fields {
	f := make(Fields, len(names))
	for _, n := range names {
		f[n] = struct{}{}
	}
	return f
}

func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// Policy declares which columns of a table the local session owns.
//
// An UPDATE whose changed columns are all Owned is a move. It is dropped
// unless the session still holds the values from before the move, in which
// case the session missed it and adopts the remote row. On a full merge the
// Preserve columns keep their local value, and while an entity is being
// dragged every Owned column does. Ignore columns never count as changed.
//
// Placement columns put an entity on or take it off a surface when they go
// from or to null. Such an update is a state change, never a move.
type Policy struct {
	Owned     Fields
	Preserve  Fields
	Ignore    Fields
	Placement Fields
}

// DropsUpdate reports whether the changed columns are all Owned.
func (p Policy) DropsUpdate(changed []string) bool {
	if len(changed) == 0 {
		return false
	}
	for _, c := range changed {
		if !p.Owned.Has(c) {
			return false
		}
	}
	return true
}

// Placed reports whether any Placement column went from or to null.
func (p Policy) Placed(old, new feed.Row) bool {
	for c := range p.Placement {
		if (old[c] == nil) != (new[c] == nil) {
			return true
		}
	}
	return false
}

// moveOutcome classifies an owned-only update against the local copy.
type moveOutcome int

const (
	moveEcho    moveOutcome = iota // local copy already holds the new values
	moveMissed                     // local copy still holds the old values
	movePending                    // local copy holds a value of its own
)

func classifyMove(local, old, new feed.Row, changed []string) moveOutcome {
	if sameColumns(local, new, changed) {
		return moveEcho
	}
	if sameColumns(local, old, changed) {
		return moveMissed
	}
	return movePending
}

func sameColumns(a, b feed.Row, columns []string) bool {
	for _, c := range columns {
		if !sameValue(a[c], b[c]) {
			return false
		}
	}
	return true
}

// sameValue compares decoded column values. Numbers compare by value so an
// int position matches the float64 the JSON feed decodes to.
func sameValue(a, b any) bool {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// kept returns the columns whose local value survives a full merge.
func (p Policy) kept(dragging bool) Fields {
	if !dragging {
		return p.Preserve
	}
	out := make(Fields, len(p.Owned)+len(p.Preserve))
	for k := range p.Owned {
		out[k] = struct{}{}
	}
	for k := range p.Preserve {
		out[k] = struct{}{}
	}
	return out
}

func DefaultPolicies() map[string]Policy {
	ignore := NewFields("updated_at")
	return map[string]Policy{
		"cards": {
			Owned:    NewFields("position", "column_id"),
			Preserve: NewFields("position"),
			Ignore:   ignore,
		},
		"subtasks": {
			Owned:    NewFields("position"),
			Preserve: NewFields("position"),
			Ignore:   ignore,
		},
		"ideas": {
			Owned:     NewFields("position_x", "position_y", "kanban_column_id", "kanban_position"),
			Preserve:  NewFields("position_x", "position_y", "kanban_position"),
			Ignore:    ignore,
			Placement: NewFields("kanban_column_id"),
		},
		"comments": {Ignore: ignore},
		"flows":    {Ignore: ignore},
	}
}

// ideaColumns copies one column's local value onto a freshly fetched idea.
// merged always comes from a fetch, so its Kanban pointer is not shared.
var ideaColumns = map[string]func(merged *board.Idea, local board.Idea){
	"position": func(merged *board.Idea, local board.Idea) {
		if merged.Kanban != nil && local.Kanban != nil {
			merged.Kanban.Position = local.Kanban.Position
		}
	},
	"column_id": keepKanbanColumn,
	"position_x": func(merged *board.Idea, local board.Idea) {
		merged.PositionX = local.PositionX
	},
	"position_y": func(merged *board.Idea, local board.Idea) {
		merged.PositionY = local.PositionY
	},
	"kanban_column_id": keepKanbanColumn,
	"kanban_position": func(merged *board.Idea, local board.Idea) {
		if merged.Kanban != nil && local.Kanban != nil {
			merged.Kanban.Position = local.Kanban.Position
		}
	},
}

func keepKanbanColumn(merged *board.Idea, local board.Idea) {
	switch {
	case local.Kanban == nil:
		merged.Kanban = nil
	case merged.Kanban == nil:
		k := *local.Kanban
		merged.Kanban = &k
	default:
		merged.Kanban.ColumnID = local.Kanban.ColumnID
		merged.Kanban.Status = local.Kanban.Status
	}
}

func keepIdeaColumns(merged *board.Idea, local board.Idea, fields Fields) {
	for name := range fields {
		if keep, ok := ideaColumns[name]; ok {
			keep(merged, local)
		}
	}
}

// cardColumns and the functions below report the local values of the owned
// columns in the form the change feed decodes them to.
func cardColumns(c board.Idea) feed.Row {
	row := feed.Row{"column_id": nil, "position": nil}
	if c.Kanban != nil {
		row["column_id"] = c.Kanban.ColumnID
		row["position"] = c.Kanban.Position
	}
	return row
}

func ideaOwnedColumns(i board.Idea) feed.Row {
	row := feed.Row{
		"position_x":       i.PositionX,
		"position_y":       i.PositionY,
		"kanban_column_id": nil,
		"kanban_position":  nil,
	}
	if i.Kanban != nil {
		row["kanban_column_id"] = i.Kanban.ColumnID
		row["kanban_position"] = i.Kanban.Position
	}
	return row
}

func subtaskColumns(st board.Subtask) feed.Row {
	return feed.Row{"position": float64(st.Position)}
}

func keepSubtaskColumns(merged *board.Subtask, local board.Subtask, fields Fields) {
	if fields.Has("position") {
		merged.Position = local.Position
	}
}
