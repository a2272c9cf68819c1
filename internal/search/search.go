package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCard ResultType = "card"
	ResultIdea ResultType = "idea"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	BoardID string     `json:"boardId"`
	FlowID  string     `json:"flowId,omitempty"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request. BoardID is required.
type Query struct {
	Text       string
	BoardID    string
	FilterType ResultType // empty = cards and ideas
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Engine is a searcher that can also be written to.
type Engine interface {
	Searcher
	IndexRecords(records []Record) error
	DeleteRecord(id string) error
}

// Record is what gets indexed for a card or a flow idea.
type Record struct {
	ID          string     `json:"id"`
	Type        ResultType `json:"type"`
	BoardID     string     `json:"boardId"`
	FlowID      string     `json:"flowId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Labels      []string   `json:"labels"`
	Comments    []string   `json:"comments"`
	Subtasks    []string   `json:"subtasks"`
}
