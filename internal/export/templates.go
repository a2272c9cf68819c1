package export

import (
	"bytes"
	"embed"
	"html/template"
	"sort"
	"strings"
	"time"

	"ideaboard/api/internal/board"
)

//go:embed templates/*.html
var templateFS embed.FS

var boardTemplate = template.Must(template.New("board.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/board.html"))

// TemplateData holds data for board template rendering
type TemplateData struct {
	Title       string
	Description string
	GeneratedAt time.Time
	Columns     []TemplateColumn
	Flows       []TemplateFlow
}

type TemplateColumn struct {
	Title string
	Cards []TemplateCard
}

type TemplateCard struct {
	Title         string
	Description   string
	Priority      string
	DueDate       string
	FromFlow      bool
	Labels        []board.Label
	Assignees     []string
	SubtasksDone  int
	SubtasksTotal int
}

type TemplateFlow struct {
	Name  string
	Ideas []string
}

// BuildTemplateData lays out the visible ideas of snap by column, ordered by
// their kanban position.
func BuildTemplateData(snap board.Snapshot, now time.Time) TemplateData {
	data := TemplateData{
		Title:       snap.Board.Name,
		Description: snap.Board.Description,
		GeneratedAt: now,
	}

	byColumn := map[string][]board.Idea{}
	for _, idea := range snap.VisibleIdeas() {
		if idea.Kanban == nil {
			continue
		}
		byColumn[idea.Kanban.ColumnID] = append(byColumn[idea.Kanban.ColumnID], idea)
	}

	columns := append([]board.Column(nil), snap.Columns...)
	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Position < columns[j].Position })
	for _, col := range columns {
		ideas := byColumn[col.ID]
		sort.SliceStable(ideas, func(i, j int) bool { return ideas[i].Kanban.Position < ideas[j].Kanban.Position })
		tc := TemplateColumn{Title: col.Title}
		for _, idea := range ideas {
			tc.Cards = append(tc.Cards, templateCard(idea))
		}
		data.Columns = append(data.Columns, tc)
	}

	for _, f := range snap.Flows {
		tf := TemplateFlow{Name: f.Name}
		for _, idea := range snap.Ideas {
			if idea.FlowID == f.ID && !idea.Archived {
				tf.Ideas = append(tf.Ideas, idea.Title)
			}
		}
		data.Flows = append(data.Flows, tf)
	}
	return data
}

func templateCard(idea board.Idea) TemplateCard {
	card := TemplateCard{
		Title:         idea.Title,
		Description:   idea.Description,
		Priority:      idea.Priority,
		DueDate:       idea.DueDate,
		FromFlow:      idea.Source == board.SourceFlow,
		Labels:        idea.Labels,
		SubtasksTotal: len(idea.Subtasks),
	}
	for _, m := range idea.AssignedTo {
		card.Assignees = append(card.Assignees, m.Name)
	}
	for _, st := range idea.Subtasks {
		if st.Completed {
			card.SubtasksDone++
		}
	}
	return card
}

// RenderBoardHTML renders the board template with provided data
func RenderBoardHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
