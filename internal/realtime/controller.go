// Package realtime keeps a board snapshot convergent with the Postgres
// change feed for one live session, without letting feed echoes undo the
// session's own in-flight drag and drop.
package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ideaboard/api/internal/board"
	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/store"
)

// Fetcher loads the denormalized rows a change event refers to.
type Fetcher interface {
	FetchCardDetail(ctx context.Context, cardID string) (store.CardDetail, error)
	GetSubtask(ctx context.Context, subtaskID string) (store.Subtask, error)
	FetchComment(ctx context.Context, commentID string) (store.Comment, error)
	GetFlow(ctx context.Context, flowID string) (store.Flow, error)
	FetchIdeaDetail(ctx context.Context, ideaID string) (store.IdeaDetail, error)
}

type mergeFunc func(board.Snapshot) board.Snapshot

type Option func(*Controller)

func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithPolicies replaces the policy of every table present in policies.
func WithPolicies(policies map[string]Policy) Option {
	return func(c *Controller) {
		for table, p := range policies {
			c.policies[table] = p
		}
	}
}

// WithFamilies selects the stream families to subscribe: kanban covers
// cards, subtasks and comments; flows covers flows and ideas.
func WithFamilies(kanban, flows bool) Option {
	return func(c *Controller) {
		c.kanban = kanban
		c.flows = flows
	}
}

// Controller is the reconciliation state of one session. It is either
// unsubscribed (BoardID "") or subscribed to exactly one board.
type Controller struct {
	fetch    Fetcher
	feed     feed.Subscriber
	log      *zap.Logger
	policies map[string]Policy
	kanban   bool
	flows    bool

	life   sync.Mutex
	cancel context.CancelFunc
	unsubs []func()
	pumps  sync.WaitGroup

	mu         sync.Mutex
	generation uint64
	boardID    string
	snapshot   board.Snapshot
	versions   map[string]time.Time
	dragged    map[string]struct{}
	observers  []func(board.Snapshot)

	notifyMu sync.Mutex
}

func NewController(fetch Fetcher, sub feed.Subscriber, opts ...Option) *Controller {
	c := &Controller{
		fetch:    fetch,
		feed:     sub,
		log:      zap.NewNop(),
		policies: DefaultPolicies(),
		kanban:   true,
		flows:    true,
		versions: make(map[string]time.Time),
		dragged:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetBoard moves the controller to boardID with initial as its snapshot.
// The same id again is a no-op; "" tears every subscription down. ctx bounds
// the lifetime of the subscriptions opened here.
func (c *Controller) SetBoard(ctx context.Context, boardID string, initial board.Snapshot) {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	current := c.boardID
	c.mu.Unlock()
	if boardID == current {
		return
	}

	c.teardown()
	if boardID == "" {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.boardID = boardID
	c.snapshot = initial
	c.versions = make(map[string]time.Time)
	c.mu.Unlock()

	c.cancel = cancel
	for _, st := range c.streams() {
		ch, unsub := c.feed.Subscribe(st.topic(boardID))
		c.unsubs = append(c.unsubs, unsub)
		c.pumps.Add(1)
		go c.pump(runCtx, gen, st, ch)
	}
	c.log.Debug("realtime subscribed", zap.String("board_id", boardID))
	c.notify()
}

// Close tears every subscription down. The controller may be reused with
// SetBoard afterwards.
func (c *Controller) Close() {
	c.life.Lock()
	defer c.life.Unlock()
	c.teardown()
}

// teardown requires c.life.
func (c *Controller) teardown() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	c.pumps.Wait()

	c.mu.Lock()
	if c.boardID != "" {
		c.log.Debug("realtime unsubscribed", zap.String("board_id", c.boardID))
	}
	c.generation++
	c.boardID = ""
	c.snapshot = board.Snapshot{}
	c.versions = make(map[string]time.Time)
	c.dragged = make(map[string]struct{})
	c.mu.Unlock()
}

func (c *Controller) BoardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boardID
}

func (c *Controller) Snapshot() board.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// OnChange registers fn to receive the snapshot after every applied change.
// fn runs outside the controller lock and must not block for long.
func (c *Controller) OnChange(fn func(board.Snapshot)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Apply merges a local change, such as the result of a CRUD call.
func (c *Controller) Apply(fn func(board.Snapshot) board.Snapshot) {
	c.mu.Lock()
	if c.boardID == "" {
		c.mu.Unlock()
		return
	}
	c.snapshot = fn(c.snapshot)
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) BeginDrag(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.dragged[id] = struct{}{}
	}
}

func (c *Controller) EndDrag(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.dragged, id)
	}
}

func (c *Controller) Dragging(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dragged[id]
	return ok
}

// isDragging requires c.mu.
func (c *Controller) isDragging(id string) bool {
	_, ok := c.dragged[id]
	return ok
}

func (c *Controller) pump(ctx context.Context, gen uint64, st stream, ch <-chan feed.Event) {
	defer c.pumps.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.handle(ctx, gen, st, ev)
		}
	}
}

func versionKey(table, id string) string {
	return table + ":" + id
}

// current returns the snapshot if gen is still the active subscription.
func (c *Controller) current(gen uint64) (board.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return board.Snapshot{}, false
	}
	return c.snapshot, true
}

// staleLocked requires c.mu. An event no newer than the last applied one for
// the same row is stale. Events without a timestamp are never stale.
func (c *Controller) staleLocked(key string, ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	v, ok := c.versions[key]
	return ok && !ts.After(v)
}

// missedMoveLocked requires c.mu. It reports whether an owned-only update
// moves an entity this session still holds at its old place, so the remote
// row must be adopted. Echoes of a local move, moves that conflict with a
// pending local value and anything being dragged are not missed moves.
func (c *Controller) missedMoveLocked(st stream, id string, ev feed.Event, changed []string) bool {
	if st.owned == nil || c.isDragging(id) {
		return false
	}
	local, ok := st.owned(c.snapshot, id)
	if !ok {
		return false
	}
	return classifyMove(local, ev.OldRecord, ev.Record, changed) == moveMissed
}

func (c *Controller) recordLocked(key string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	if v, ok := c.versions[key]; !ok || ts.After(v) {
		c.versions[key] = ts
	}
}

func (c *Controller) handle(ctx context.Context, gen uint64, st stream, ev feed.Event) {
	id := ev.ID()
	if id == "" {
		return
	}
	snap, ok := c.current(gen)
	if !ok || !st.relevant(snap, ev) {
		return
	}

	key := versionKey(st.table, id)
	fields := []zap.Field{
		zap.String("table", st.table),
		zap.String("type", string(ev.Type)),
		zap.String("id", id),
	}

	c.mu.Lock()
	stale := c.staleLocked(key, ev.CommitTimestamp)
	c.mu.Unlock()
	if stale {
		c.log.Debug("dropping stale change event", fields...)
		return
	}

	var merge mergeFunc
	adopt := false
	switch ev.Type {
	case feed.Delete:
		merge = st.remove(id)
	case feed.Update:
		policy := c.policies[st.table]
		changed := feed.ChangedFields(ev.OldRecord, ev.Record, policy.Ignore)
		if policy.DropsUpdate(changed) && !policy.Placed(ev.OldRecord, ev.Record) {
			c.mu.Lock()
			missed := gen == c.generation && c.missedMoveLocked(st, id, ev, changed)
			if !missed && gen == c.generation {
				c.recordLocked(key, ev.CommitTimestamp)
			}
			c.mu.Unlock()
			if !missed {
				c.log.Debug("dropping locally owned update", append(fields, zap.Strings("changed", changed))...)
				return
			}
			adopt = true
		}
		fallthrough
	case feed.Insert:
		m, err := st.fetch(ctx, c, id, adopt)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("change event fetch failed, dropping event", append(fields, zap.Error(err))...)
			}
			return
		}
		merge = m
	default:
		return
	}

	c.mu.Lock()
	if gen != c.generation || !st.relevant(c.snapshot, ev) || c.staleLocked(key, ev.CommitTimestamp) {
		c.mu.Unlock()
		return
	}
	c.snapshot = merge(c.snapshot)
	c.recordLocked(key, ev.CommitTimestamp)
	c.mu.Unlock()
	c.notify()
}

// notify hands the latest snapshot to every observer. Deliveries are
// serialized so observers never see an older snapshot after a newer one.
func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.boardID == "" {
		c.mu.Unlock()
		return
	}
	snap := c.snapshot
	observers := append([]func(board.Snapshot){}, c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}
