// Package feed carries row-level change events from Postgres to the
// components that reconcile or index board state.
package feed

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

type Type string

const (
	Insert Type = "INSERT"
	Update Type = "UPDATE"
	Delete Type = "DELETE"
)

// Row is a decoded table row keyed by column name.
type Row map[string]any

// String returns the column value as a string, or "" when it is absent,
// null or not a string.
func (r Row) String(column string) string {
	if v, ok := r[column].(string); ok {
		return v
	}
	return ""
}

func (r Row) ID() string {
	return r.String("id")
}

// Event is one change notification. Record is nil for deletes and OldRecord
// is nil for inserts.
type Event struct {
	Table           string    `json:"table"`
	Type            Type      `json:"type"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
	Record          Row       `json:"record"`
	OldRecord       Row       `json:"old_record"`
}

// Row returns the row the event is about: the new row, or the old one for a
// delete.
func (e Event) Row() Row {
	if e.Type == Delete || e.Record == nil {
		return e.OldRecord
	}
	return e.Record
}

func (e Event) ID() string {
	return e.Row().ID()
}

func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}
	switch ev.Type {
	case Insert, Update, Delete:
	default:
		return Event{}, fmt.Errorf("decode change event: unknown type %q", ev.Type)
	}
	if ev.Table == "" {
		return Event{}, fmt.Errorf("decode change event: missing table")
	}
	return ev, nil
}

// ChangedFields lists, in name order, the columns whose value differs
// between old and new. Columns in ignore are never reported.
func ChangedFields(old, new Row, ignore map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(new))
	var changed []string
	check := func(column string) {
		if _, done := seen[column]; done {
			return
		}
		seen[column] = struct{}{}
		if _, skip := ignore[column]; skip {
			return
		}
		if !reflect.DeepEqual(old[column], new[column]) {
			changed = append(changed, column)
		}
	}
	for column := range new {
		check(column)
	}
	for column := range old {
		check(column)
	}
	sort.Strings(changed)
	return changed
}

// Topic selects the events of one table, optionally narrowed to rows whose
// Column equals Value.
type Topic struct {
	Table  string
	Column string
	Value  string
}

func (t Topic) Matches(ev Event) bool {
	if ev.Table != t.Table {
		return false
	}
	if t.Column == "" {
		return true
	}
	return ev.Row().String(t.Column) == t.Value
}
