package filter

import (
	"sync"
	"time"

	"ideaboard/api/internal/board"
)

const DefaultDebounce = 250 * time.Millisecond

type Result struct {
	Ideas []board.Idea `json:"ideas"`
	Count int          `json:"count"`
}

// View recomputes the displayed ideas whenever its inputs change and
// publishes each result. Query changes settle for the debounce interval
// after the last call before they apply.
type View struct {
	debounce time.Duration
	publish  func(Result)
	now      func() time.Time

	mu       sync.Mutex
	ideas    []board.Idea
	criteria Criteria
	query    string
	pending  string
	seq      uint64
	timer    *time.Timer
	closed   bool

	publishMu sync.Mutex
}

type ViewOption func(*View)

// WithClock replaces time.Now when computing "today".
func WithClock(now func() time.Time) ViewOption {
	return func(v *View) { v.now = now }
}

func NewView(debounce time.Duration, publish func(Result), opts ...ViewOption) *View {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	v := &View{debounce: debounce, publish: publish, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *View) SetIdeas(ideas []board.Idea) {
	v.mu.Lock()
	v.ideas = ideas
	v.mu.Unlock()
	v.recompute()
}

func (v *View) SetCriteria(c Criteria) {
	v.mu.Lock()
	v.criteria = c
	v.mu.Unlock()
	v.recompute()
}

// SetQuery schedules q to apply once no other SetQuery call arrives within
// the debounce interval.
func (v *View) SetQuery(q string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.pending = q
	v.seq++
	seq := v.seq
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(v.debounce, func() { v.applyQuery(seq) })
}

// applyQuery ignores timers superseded by a later SetQuery.
func (v *View) applyQuery(seq uint64) {
	v.mu.Lock()
	if v.closed || seq != v.seq {
		v.mu.Unlock()
		return
	}
	v.query = v.pending
	v.timer = nil
	v.mu.Unlock()
	v.recompute()
}

func (v *View) Query() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.query
}

// Current computes the result for the present inputs without publishing.
func (v *View) Current() Result {
	v.mu.Lock()
	ideas, criteria, query := v.ideas, v.criteria, v.query
	v.mu.Unlock()
	out := Apply(ideas, criteria, query, Today(v.now()))
	return Result{Ideas: out, Count: len(out)}
}

// Close cancels any pending query. No result is published afterwards.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

func (v *View) recompute() {
	v.publishMu.Lock()
	defer v.publishMu.Unlock()

	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed || v.publish == nil {
		return
	}
	v.publish(v.Current())
}
