package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/filter"
	"ideaboard/api/internal/store"
)

func liveStore() *fakeStore {
	fs := editorStore()
	fs.loadBoardFn = func(_ context.Context, boardID string) (store.BoardData, error) {
		return store.BoardData{
			Board:   store.Board{ID: boardID, Name: "Roadmap"},
			Columns: []store.Column{{ID: "col-1", BoardID: boardID, Title: "To do"}},
			Cards: []store.CardDetail{
				{Card: store.Card{ID: "card-1", BoardID: boardID, ColumnID: "col-1", Title: "First card", Position: 1}},
			},
		}, nil
	}
	fs.fetchCardDetailFn = func(_ context.Context, id string) (store.CardDetail, error) {
		return store.CardDetail{Card: store.Card{ID: id, BoardID: "board-1", ColumnID: "col-1", Title: "Second card", Position: 2}}, nil
	}
	return fs
}

// twoColumnStore serves card-1 in "To do"; fetches report it in "Done".
func twoColumnStore() *fakeStore {
	fs := liveStore()
	load := fs.loadBoardFn
	fs.loadBoardFn = func(ctx context.Context, boardID string) (store.BoardData, error) {
		data, err := load(ctx, boardID)
		data.Columns = append(data.Columns, store.Column{ID: "col-2", BoardID: boardID, Title: "Done", Position: 1})
		return data, err
	}
	fs.fetchCardDetailFn = func(_ context.Context, id string) (store.CardDetail, error) {
		return store.CardDetail{Card: store.Card{ID: id, BoardID: "board-1", ColumnID: "col-2", Title: "First card", Position: 3}}, nil
	}
	return fs
}

func dialLive(t *testing.T, srv *httptest.Server, boardID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/boards/" + boardID + "/live?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial live: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads server messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(serverMessage) bool) serverMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read live message: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func waitForSubscribers(t *testing.T, bus *feed.Bus, table string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers(table) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no %s subscription", table)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLiveBoardStreamsChangesAndSearch(t *testing.T) {
	bus := feed.NewBus(nil)
	server := NewHTTPServer(newTestService(liveStore()), "*", WithLiveFeed(bus, 10*time.Millisecond))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	conn := dialLive(t, srv, "board-1", tokenFor(t, "user-1"))

	initial := readUntil(t, conn, func(m serverMessage) bool { return m.Type == "view" })
	if initial.BoardID != "board-1" || initial.Count != 1 {
		t.Fatalf("unexpected initial view %+v", initial)
	}

	waitForSubscribers(t, bus, "cards")
	bus.Publish(feed.Event{
		Table:           "cards",
		Type:            feed.Insert,
		CommitTimestamp: time.Now(),
		Record:          feed.Row{"id": "card-2", "board_id": "board-1", "column_id": "col-1"},
	})
	updated := readUntil(t, conn, func(m serverMessage) bool { return m.Type == "view" && m.Count == 2 })
	if updated.Ideas[1].ID != "card-2" && updated.Ideas[0].ID != "card-2" {
		t.Fatalf("expected card-2 in view, got %+v", updated.Ideas)
	}

	if err := conn.WriteJSON(clientMessage{Type: msgSearch, Query: "second"}); err != nil {
		t.Fatalf("send search: %v", err)
	}
	searched := readUntil(t, conn, func(m serverMessage) bool { return m.Type == "view" && m.Query == "second" })
	if searched.Count != 1 || searched.Ideas[0].ID != "card-2" {
		t.Fatalf("expected only card-2 after search, got %+v", searched)
	}

	if err := conn.WriteJSON(clientMessage{Type: "bogus"}); err != nil {
		t.Fatalf("send bogus: %v", err)
	}
	failed := readUntil(t, conn, func(m serverMessage) bool { return m.Type == "error" })
	if !strings.Contains(failed.Error, "bogus") {
		t.Fatalf("unexpected error message %q", failed.Error)
	}
}

func TestLiveBoardIgnoresOtherBoards(t *testing.T) {
	bus := feed.NewBus(nil)
	server := NewHTTPServer(newTestService(liveStore()), "*", WithLiveFeed(bus, 10*time.Millisecond))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	conn := dialLive(t, srv, "board-1", tokenFor(t, "user-1"))
	readUntil(t, conn, func(m serverMessage) bool { return m.Type == "view" })
	waitForSubscribers(t, bus, "cards")

	bus.Publish(feed.Event{
		Table:           "cards",
		Type:            feed.Insert,
		CommitTimestamp: time.Now(),
		Record:          feed.Row{"id": "card-9", "board_id": "board-2"},
	})
	if err := conn.WriteJSON(clientMessage{Type: msgSearch, Query: "card"}); err != nil {
		t.Fatalf("send search: %v", err)
	}
	view := readUntil(t, conn, func(m serverMessage) bool { return m.Type == "view" && m.Query == "card" })
	if view.Count != 1 {
		t.Fatalf("expected the other board's card to be ignored, got %+v", view.Ideas)
	}
}

func TestLiveRequiresAuthAndMembership(t *testing.T) {
	bus := feed.NewBus(nil)
	server := NewHTTPServer(newTestService(liveStore()), "*", WithLiveFeed(bus, 0))

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards/board-1/live", "", "")
	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")

	rr = doRequest(t, server.Handler(), http.MethodGet, "/api/boards/board-1/live?access_token="+tokenFor(t, "stranger"), "", "")
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")
}

func TestLiveWithoutFeedIsUnconfigured(t *testing.T) {
	server := NewHTTPServer(newTestService(liveStore()), "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards/board-1/live", tokenFor(t, "user-1"), "")

	assertErrorCode(t, rr, http.StatusServiceUnavailable, "NOT_CONFIGURED")
}

func TestLiveMoveUpdatesStatus(t *testing.T) {
	bus := feed.NewBus(nil)
	server := NewHTTPServer(newTestService(twoColumnStore()), "*", WithLiveFeed(bus, 10*time.Millisecond))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	conn := dialLive(t, srv, "board-1", tokenFor(t, "user-1"))
	readUntil(t, conn, func(m serverMessage) bool { return m.Type == "view" })
	waitForSubscribers(t, bus, "cards")

	if err := conn.WriteJSON(clientMessage{Type: msgDragStart, IDs: []string{"card-1"}}); err != nil {
		t.Fatalf("send drag start: %v", err)
	}
	position := 3.0
	if err := conn.WriteJSON(clientMessage{Type: msgDragEnd, IDs: []string{"card-1"}, ID: "card-1", ColumnID: "col-2", Position: &position}); err != nil {
		t.Fatalf("send drag end: %v", err)
	}
	moved := readUntil(t, conn, func(m serverMessage) bool {
		return m.Type == "view" && len(m.Ideas) == 1 && m.Ideas[0].KanbanStatus() == "Done"
	})
	if moved.Ideas[0].Kanban.Position != 3 {
		t.Fatalf("expected position 3, got %+v", moved.Ideas[0].Kanban)
	}

	// The persisted move echoes back unchanged.
	bus.Publish(feed.Event{
		Table:           "cards",
		Type:            feed.Update,
		CommitTimestamp: time.Now(),
		Record:          feed.Row{"id": "card-1", "board_id": "board-1", "column_id": "col-2", "position": 3.0},
		OldRecord:       feed.Row{"id": "card-1", "board_id": "board-1", "column_id": "col-1", "position": 1.0},
	})
	if err := conn.WriteJSON(clientMessage{Type: msgFilter, Criteria: &filter.Criteria{Statuses: []string{"Done"}}}); err != nil {
		t.Fatalf("send filter: %v", err)
	}
	filtered := readUntil(t, conn, func(m serverMessage) bool { return m.Type == "view" && m.Count == 1 })
	if filtered.Ideas[0].ID != "card-1" {
		t.Fatalf("expected card-1 under Done, got %+v", filtered.Ideas)
	}

	position = 1
	if err := conn.WriteJSON(clientMessage{Type: msgMove, ID: "card-1", ColumnID: "missing", Position: &position}); err != nil {
		t.Fatalf("send move: %v", err)
	}
	failed := readUntil(t, conn, func(m serverMessage) bool { return m.Type == "error" })
	if !strings.Contains(failed.Error, "unknown card or column") {
		t.Fatalf("unexpected error message %q", failed.Error)
	}
}

func TestLiveAdoptsMoveMadeElsewhere(t *testing.T) {
	bus := feed.NewBus(nil)
	server := NewHTTPServer(newTestService(twoColumnStore()), "*", WithLiveFeed(bus, 10*time.Millisecond))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	conn := dialLive(t, srv, "board-1", tokenFor(t, "user-1"))
	initial := readUntil(t, conn, func(m serverMessage) bool { return m.Type == "view" })
	if initial.Ideas[0].KanbanStatus() != "To do" {
		t.Fatalf("expected card-1 in To do, got %+v", initial.Ideas[0].Kanban)
	}
	waitForSubscribers(t, bus, "cards")

	bus.Publish(feed.Event{
		Table:           "cards",
		Type:            feed.Update,
		CommitTimestamp: time.Now(),
		Record:          feed.Row{"id": "card-1", "board_id": "board-1", "column_id": "col-2", "position": 3.0},
		OldRecord:       feed.Row{"id": "card-1", "board_id": "board-1", "column_id": "col-1", "position": 1.0},
	})
	moved := readUntil(t, conn, func(m serverMessage) bool {
		return m.Type == "view" && len(m.Ideas) == 1 && m.Ideas[0].KanbanStatus() == "Done"
	})
	if moved.Ideas[0].Kanban.ColumnID != "col-2" || moved.Ideas[0].Kanban.Position != 3 {
		t.Fatalf("expected card-1 adopted at col-2/3, got %+v", moved.Ideas[0].Kanban)
	}
}
