package app

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"ideaboard/api/internal/export"
	"ideaboard/api/internal/search"
	"ideaboard/api/internal/store"
)

type fakeExporter struct {
	exportFn func(context.Context, string, export.Format) (*export.Result, error)
}

func (f *fakeExporter) Export(ctx context.Context, boardID string, format export.Format) (*export.Result, error) {
	return f.exportFn(ctx, boardID, format)
}

type fakeSearcher struct {
	got search.Query
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) search.Response {
	f.got = q
	return search.Response{
		Results: []search.Result{{ID: "card-1", Type: search.ResultCard, Title: "Fix login"}},
		Query:   q.Text,
	}
}

func editorStore() *fakeStore {
	return &fakeStore{
		memberRoleFn: rolesByUser(map[string]string{"user-1": "editor"}),
		getColumnFn: func(_ context.Context, id string) (store.Column, error) {
			if id != "col-1" {
				return store.Column{}, store.ErrNotFound
			}
			return store.Column{ID: id, BoardID: "board-1", Title: "To do"}, nil
		},
	}
}

func TestCreateBoardUsesCallerAsOwner(t *testing.T) {
	var created store.Board
	fs := &fakeStore{
		createBoardFn: func(_ context.Context, b store.Board) (store.Board, error) {
			created = b
			b.ID = "board-9"
			return b, nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/boards", tokenFor(t, "user-1"), `{"name":"  Roadmap  "}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if created.OwnerID != "user-1" || created.Name != "Roadmap" {
		t.Fatalf("unexpected board %+v", created)
	}
	if decodeMap(t, rr)["id"] != "board-9" {
		t.Fatalf("expected id board-9, got %s", rr.Body.String())
	}
}

func TestCreateBoardRequiresName(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/boards", tokenFor(t, "user-1"), `{"name":"   "}`)

	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	details, _ := decodeMap(t, rr)["details"].([]any)
	if len(details) != 1 || details[0] != "name: required" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestCreateBoardRejectsMalformedBody(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/boards", tokenFor(t, "user-1"), `{"name":`)

	assertErrorCode(t, rr, http.StatusBadRequest, "INVALID_BODY")
}

func TestCreateCardValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing title", body: `{"columnId":"col-1","title":""}`},
		{name: "bad priority", body: `{"columnId":"col-1","title":"Card","priority":"urgent"}`},
		{name: "bad due date", body: `{"columnId":"col-1","title":"Card","dueDate":"tomorrow"}`},
		{name: "foreign column", body: `{"columnId":"col-elsewhere","title":"Card"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := NewHTTPServer(newTestService(editorStore()), "*")

			rr := doRequest(t, server.Handler(), http.MethodPost, "/api/boards/board-1/cards", tokenFor(t, "user-1"), tc.body)

			assertErrorCode(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
		})
	}
}

func TestCreateCardPassesFields(t *testing.T) {
	var created store.Card
	fs := editorStore()
	fs.createCardFn = func(_ context.Context, c store.Card) (store.Card, error) {
		created = c
		c.ID = "card-7"
		return c, nil
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/boards/board-1/cards", tokenFor(t, "user-1"),
		`{"columnId":"col-1","title":"Ship it","priority":"high","dueDate":"2026-01-15","assignedTo":["user-2"]}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if created.BoardID != "board-1" || created.CreatedBy != "user-1" {
		t.Fatalf("unexpected card %+v", created)
	}
	if created.Priority == nil || *created.Priority != "high" {
		t.Fatalf("expected priority high, got %v", created.Priority)
	}
	if created.DueDate == nil || created.DueDate.Format("2006-01-02") != "2026-01-15" {
		t.Fatalf("expected due date 2026-01-15, got %v", created.DueDate)
	}
	if len(created.AssignedTo) != 1 || created.AssignedTo[0] != "user-2" {
		t.Fatalf("expected assignee user-2, got %v", created.AssignedTo)
	}
}

func TestMissingCardReturnsNotFound(t *testing.T) {
	server := NewHTTPServer(newTestService(editorStore()), "*")

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/cards/missing/archive", tokenFor(t, "user-1"), "")

	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestRestoreRequiresArchivedCard(t *testing.T) {
	fs := editorStore()
	fs.getCardFn = func(_ context.Context, id string) (store.Card, error) {
		return store.Card{ID: id, BoardID: "board-1", ColumnID: "col-1"}, nil
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/cards/card-1/restore", tokenFor(t, "user-1"), "")

	assertErrorCode(t, rr, http.StatusConflict, "NOT_ARCHIVED")
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/nowhere", "", "")

	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestExportReturnsDocument(t *testing.T) {
	svc := newTestService(editorStore())
	svc.UseExporter(&fakeExporter{
		exportFn: func(_ context.Context, boardID string, format export.Format) (*export.Result, error) {
			if format != export.FormatHTML {
				t.Fatalf("expected html format, got %s", format)
			}
			return &export.Result{Data: []byte("<html>" + boardID + "</html>"), Filename: "roadmap.html", MimeType: "text/html; charset=utf-8"}, nil
		},
	})
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards/board-1/export?format=html", tokenFor(t, "user-1"), "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, `filename="roadmap.html"`) {
		t.Fatalf("unexpected content disposition %q", got)
	}
	if rr.Body.String() != "<html>board-1</html>" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestExportErrors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		err    error
		status int
		code   string
	}{
		{name: "unknown format", query: "?format=docx", status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "no chrome", query: "?format=pdf", err: export.ErrPDFDependencyMissing, status: http.StatusNotImplemented, code: "PDF_UNAVAILABLE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(editorStore())
			svc.UseExporter(&fakeExporter{
				exportFn: func(context.Context, string, export.Format) (*export.Result, error) {
					return nil, tc.err
				},
			})
			server := NewHTTPServer(svc, "*")

			rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards/board-1/export"+tc.query, tokenFor(t, "user-1"), "")

			assertErrorCode(t, rr, tc.status, tc.code)
		})
	}
}

func TestSearchWithoutEngineIsUnconfigured(t *testing.T) {
	server := NewHTTPServer(newTestService(editorStore()), "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards/board-1/search?q=login", tokenFor(t, "user-1"), "")

	assertErrorCode(t, rr, http.StatusServiceUnavailable, "NOT_CONFIGURED")
}

func TestSearchScopesQueryToBoard(t *testing.T) {
	searcher := &fakeSearcher{}
	svc := newTestService(editorStore())
	svc.UseSearch(searcher)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards/board-1/search?q=login&type=card&limit=500", tokenFor(t, "user-1"), "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if searcher.got.BoardID != "board-1" || searcher.got.FilterType != search.ResultCard {
		t.Fatalf("unexpected query %+v", searcher.got)
	}
	if searcher.got.Limit != 100 {
		t.Fatalf("expected limit capped at 100, got %d", searcher.got.Limit)
	}
}

func TestSearchRejectsUnknownType(t *testing.T) {
	svc := newTestService(editorStore())
	svc.UseSearch(&fakeSearcher{})
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards/board-1/search?q=x&type=flow", tokenFor(t, "user-1"), "")

	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestFunctionsBypassAPICORS(t *testing.T) {
	called := false
	fn := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := NewHTTPServer(newTestService(&fakeStore{}), "https://app.example.com", WithFunctions(fn, fn))
	req := newRequest(http.MethodOptions, "/functions/v1/generate-ideas", "")
	req.Header.Set("Origin", "https://elsewhere.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rr := serve(server.Handler(), req)

	if !called {
		t.Fatalf("expected function handler to receive the preflight")
	}
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rr.Code, rr.Body.String())
	}
}
