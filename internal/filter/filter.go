// Package filter derives the displayed idea list from a board snapshot:
// predicate filters combined with a debounced free-text search.
package filter

import (
	"strings"
	"time"

	"ideaboard/api/internal/board"
)

type DueBucket string

const (
	DueAny     DueBucket = ""
	DueOverdue DueBucket = "overdue"
	DueToday   DueBucket = "today"
	DueWeek    DueBucket = "week"
	DueNone    DueBucket = "none"
)

// Criteria is a conjunction of categories. Within a category any listed
// value matches; an empty category does not constrain.
type Criteria struct {
	Priorities  []string  `json:"priorities,omitempty"`
	LabelIDs    []string  `json:"labelIds,omitempty"`
	AssigneeIDs []string  `json:"assigneeIds,omitempty"`
	Statuses    []string  `json:"statuses,omitempty"`
	Types       []string  `json:"types,omitempty"`
	Due         DueBucket `json:"due,omitempty"`
}

// Today returns local midnight of now.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func (c Criteria) Match(idea board.Idea, today time.Time) bool {
	if len(c.Priorities) > 0 && !contains(c.Priorities, idea.Priority) {
		return false
	}
	if len(c.Statuses) > 0 && !contains(c.Statuses, idea.KanbanStatus()) {
		return false
	}
	if len(c.Types) > 0 && !contains(c.Types, idea.Type) {
		return false
	}
	if len(c.LabelIDs) > 0 && !anyLabel(idea.Labels, c.LabelIDs) {
		return false
	}
	if len(c.AssigneeIDs) > 0 && !anyAssignee(idea.AssignedTo, c.AssigneeIDs) {
		return false
	}
	return matchDue(c.Due, idea.DueDate, today)
}

func matchDue(bucket DueBucket, dueDate string, today time.Time) bool {
	if bucket == DueAny {
		return true
	}
	if dueDate == "" {
		return bucket == DueNone
	}
	if bucket == DueNone {
		return false
	}
	days, ok := daysUntil(dueDate, today)
	if !ok {
		return false
	}
	switch bucket {
	case DueOverdue:
		return days < 0
	case DueToday:
		return days == 0
	case DueWeek:
		return days >= 0 && days <= 7
	}
	return false
}

// daysUntil counts calendar days from today to a YYYY-MM-DD date. Both ends
// are compared as UTC dates so DST shifts cannot skew the count.
func daysUntil(dueDate string, today time.Time) (int, bool) {
	due, err := time.Parse("2006-01-02", dueDate)
	if err != nil {
		return 0, false
	}
	y, m, d := today.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(due.Sub(start).Hours() / 24), true
}

// MatchesQuery reports whether the lower-cased query is a substring of the
// idea's title, description, label names, subtask text, assignee names or
// comment text. An empty query matches everything.
func MatchesQuery(idea board.Idea, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	has := func(s string) bool { return strings.Contains(strings.ToLower(s), q) }

	if has(idea.Title) || has(idea.Description) {
		return true
	}
	for _, l := range idea.Labels {
		if has(l.Name) {
			return true
		}
	}
	for _, st := range idea.Subtasks {
		if has(st.Text) {
			return true
		}
	}
	for _, m := range idea.AssignedTo {
		if has(m.Name) {
			return true
		}
	}
	for _, cm := range idea.Comments {
		if has(cm.Text) {
			return true
		}
	}
	return false
}

// Apply returns the ideas passing both the criteria and the query, in their
// original order.
func Apply(ideas []board.Idea, c Criteria, query string, today time.Time) []board.Idea {
	out := make([]board.Idea, 0, len(ideas))
	for _, idea := range ideas {
		if c.Match(idea, today) && MatchesQuery(idea, query) {
			out = append(out, idea)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, it := range list {
		if it == v {
			return true
		}
	}
	return false
}

func anyLabel(labels []board.Label, ids []string) bool {
	for _, l := range labels {
		if contains(ids, l.ID) {
			return true
		}
	}
	return false
}

func anyAssignee(members []board.Member, ids []string) bool {
	for _, m := range members {
		if contains(ids, m.UserID) {
			return true
		}
	}
	return false
}
