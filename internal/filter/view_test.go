package filter

import (
	"sync"
	"testing"
	"time"

	"ideaboard/api/internal/board"
)

type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) publish(res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

func titled(id, title string) board.Idea {
	return board.Idea{ID: id, Title: title}
}

func TestViewPublishesOnImmediateChanges(t *testing.T) {
	rec := &recorder{}
	v := NewView(time.Hour, rec.publish)
	defer v.Close()

	v.SetIdeas([]board.Idea{titled("a", "alpha"), titled("b", "beta")})
	v.SetCriteria(Criteria{})

	results := rec.snapshot()
	if len(results) != 2 {
		t.Fatalf("expected two publishes, got %d", len(results))
	}
	if results[1].Count != 2 {
		t.Fatalf("expected count 2, got %d", results[1].Count)
	}
}

func TestViewDebouncesQuery(t *testing.T) {
	rec := &recorder{}
	v := NewView(50*time.Millisecond, rec.publish)
	defer v.Close()
	v.SetIdeas([]board.Idea{titled("a", "alpha"), titled("b", "beta")})

	v.SetQuery("a")
	v.SetQuery("al")
	v.SetQuery("alp")
	if v.Query() != "" {
		t.Fatalf("expected query to wait for the debounce, got %q", v.Query())
	}

	deadline := time.Now().Add(2 * time.Second)
	for v.Query() != "alp" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	results := rec.snapshot()
	if len(results) != 2 {
		t.Fatalf("expected one publish for ideas and one for the settled query, got %d", len(results))
	}
	last := results[len(results)-1]
	if last.Count != 1 || last.Ideas[0].ID != "a" {
		t.Fatalf("expected only alpha, got %+v", last)
	}
}

func TestViewCloseCancelsPendingQuery(t *testing.T) {
	rec := &recorder{}
	v := NewView(20*time.Millisecond, rec.publish)
	v.SetQuery("x")
	v.Close()
	time.Sleep(60 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("expected no publish after close, got %d", n)
	}
	if v.Query() != "" {
		t.Fatalf("expected query to stay unset, got %q", v.Query())
	}
}

func TestViewUsesClockForDueBuckets(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.Local) }
	v := NewView(time.Hour, nil, WithClock(clock))
	due := titled("a", "alpha")
	due.DueDate = "2024-01-10"
	v.SetIdeas([]board.Idea{due, titled("b", "beta")})
	v.SetCriteria(Criteria{Due: DueToday})

	if res := v.Current(); res.Count != 1 || res.Ideas[0].ID != "a" {
		t.Fatalf("expected only the idea due today, got %+v", res)
	}
}
