package app

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ideaboard/api/internal/board"
	"ideaboard/api/internal/filter"
	"ideaboard/api/internal/realtime"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveReadLimit  = 64 << 10
)

// Client message types.
const (
	msgSelectBoard = "select_board"
	msgDragStart   = "drag_start"
	msgDragEnd     = "drag_end"
	msgFilter      = "filter"
	msgSearch      = "search"
	msgMove        = "move"
)

type clientMessage struct {
	Type     string           `json:"type"`
	BoardID  string           `json:"boardId,omitempty"`
	IDs      []string         `json:"ids,omitempty"`
	Criteria *filter.Criteria `json:"criteria,omitempty"`
	Query    string           `json:"query,omitempty"`
	ID       string           `json:"id,omitempty"`
	ColumnID string           `json:"columnId,omitempty"`
	Position *float64         `json:"position,omitempty"`
}

type serverMessage struct {
	Type    string       `json:"type"`
	BoardID string       `json:"boardId,omitempty"`
	Ideas   []board.Idea `json:"ideas,omitempty"`
	Count   int          `json:"count"`
	Query   string       `json:"query,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// liveSession is one websocket connection. It owns the reconciliation
// controller and the filtered view for the board the client has selected.
type liveSession struct {
	server  *HTTPServer
	session Session
	conn    *websocket.Conn
	ctrl    *realtime.Controller
	view    *filter.View
	log     *zap.Logger

	mu     sync.Mutex
	latest *serverMessage
	wake   chan struct{}
	errs   chan string
}

// handleLive upgrades to a websocket after authenticating with the
// access_token query parameter or the Authorization header.
func (s *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "Live updates not configured", nil)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("access_token"))
	if token == "" {
		token = bearerToken(r)
	}
	session, ok := s.requireSession(w, r, token)
	if !ok {
		return
	}
	boardID := mux.Vars(r)["boardID"]
	snap, err := s.service.LoadSnapshot(r.Context(), session, boardID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("live upgrade failed", zap.Error(err))
		return
	}

	ls := &liveSession{
		server:  s,
		session: session,
		conn:    conn,
		log: s.log.With(
			zap.String("request_id", requestID(r.Context())),
			zap.String("user_id", session.UserID),
		),
		wake: make(chan struct{}, 1),
		errs: make(chan string, 8),
	}
	ls.run(r.Context(), boardID, snap)
}

func (ls *liveSession) run(parent context.Context, boardID string, snap board.Snapshot) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	ls.view = filter.NewView(ls.server.debounce, ls.publish)
	ls.ctrl = realtime.NewController(ls.server.service.store, ls.server.feed, realtime.WithLogger(ls.log))
	ls.ctrl.OnChange(func(s board.Snapshot) { ls.view.SetIdeas(s.VisibleIdeas()) })
	defer func() {
		ls.ctrl.Close()
		ls.view.Close()
		_ = ls.conn.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		ls.writeLoop(ctx)
	}()

	ls.ctrl.SetBoard(ctx, boardID, snap)
	ls.log.Info("live session opened", zap.String("board_id", boardID))
	ls.readLoop(ctx)
	cancel()
	wg.Wait()
	ls.log.Info("live session closed", zap.String("board_id", ls.ctrl.BoardID()))
}

// publish keeps only the newest view; the writer always sends the latest.
func (ls *liveSession) publish(res filter.Result) {
	msg := &serverMessage{
		Type:    "view",
		BoardID: ls.ctrl.BoardID(),
		Ideas:   res.Ideas,
		Count:   res.Count,
		Query:   ls.view.Query(),
	}
	ls.mu.Lock()
	ls.latest = msg
	ls.mu.Unlock()
	select {
	case ls.wake <- struct{}{}:
	default:
	}
}

func (ls *liveSession) sendError(message string) {
	select {
	case ls.errs <- message:
	default:
		ls.log.Warn("live error dropped", zap.String("error", message))
	}
}

func (ls *liveSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()
	for {
		var err error
		select {
		case <-ctx.Done():
			_ = ls.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(liveWriteWait))
			return
		case <-ls.wake:
			ls.mu.Lock()
			msg := ls.latest
			ls.latest = nil
			ls.mu.Unlock()
			if msg != nil {
				err = ls.write(*msg)
			}
		case text := <-ls.errs:
			err = ls.write(serverMessage{Type: "error", Error: text})
		case <-ticker.C:
			_ = ls.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			err = ls.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			ls.log.Debug("live write failed", zap.Error(err))
			return
		}
	}
}

func (ls *liveSession) write(msg serverMessage) error {
	_ = ls.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return ls.conn.WriteJSON(msg)
}

func (ls *liveSession) readLoop(ctx context.Context) {
	ls.conn.SetReadLimit(liveReadLimit)
	_ = ls.conn.SetReadDeadline(time.Now().Add(livePongWait))
	ls.conn.SetPongHandler(func(string) error {
		return ls.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		var msg clientMessage
		if err := ls.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ls.log.Debug("live read failed", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		ls.dispatch(ctx, msg)
	}
}

func (ls *liveSession) dispatch(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case msgSelectBoard:
		ls.selectBoard(ctx, strings.TrimSpace(msg.BoardID))
	case msgDragStart:
		ls.ctrl.BeginDrag(msg.IDs...)
	case msgDragEnd:
		// A drop may carry the final place, applied before the drag ends so
		// the feed echo of the persisted move finds it already in place.
		if msg.ID != "" {
			ls.move(msg)
		}
		ls.ctrl.EndDrag(msg.IDs...)
	case msgMove:
		ls.move(msg)
	case msgFilter:
		criteria := filter.Criteria{}
		if msg.Criteria != nil {
			criteria = *msg.Criteria
		}
		ls.view.SetCriteria(criteria)
	case msgSearch:
		ls.view.SetQuery(msg.Query)
	default:
		ls.sendError("unknown message type " + msg.Type)
	}
}

// move mirrors the client's optimistic kanban move into the session copy.
func (ls *liveSession) move(msg clientMessage) {
	if msg.ID == "" || msg.ColumnID == "" || msg.Position == nil {
		ls.sendError("move requires id, columnId and position")
		return
	}
	moved := false
	ls.ctrl.Apply(func(s board.Snapshot) board.Snapshot {
		s, moved = s.MoveOnKanban(msg.ID, msg.ColumnID, *msg.Position)
		return s
	})
	if !moved {
		ls.sendError("unknown card or column")
	}
}

func (ls *liveSession) selectBoard(ctx context.Context, boardID string) {
	if boardID == "" {
		ls.ctrl.SetBoard(ctx, "", board.Snapshot{})
		ls.view.SetIdeas(nil)
		return
	}
	if boardID == ls.ctrl.BoardID() {
		return
	}
	snap, err := ls.server.service.LoadSnapshot(ctx, ls.session, boardID)
	if err != nil {
		_, _, message, _ := mapError(err)
		ls.sendError(message)
		return
	}
	ls.ctrl.SetBoard(ctx, boardID, snap)
}
