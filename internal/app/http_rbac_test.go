package app

import (
	"context"
	"net/http"
	"testing"

	"ideaboard/api/internal/store"
)

func newRBACServer(role string) *HTTPServer {
	roles := map[string]string{}
	if role != "" {
		roles["user-1"] = role
	}
	fs := &fakeStore{
		memberRoleFn: rolesByUser(roles),
		getColumnFn: func(_ context.Context, id string) (store.Column, error) {
			return store.Column{ID: id, BoardID: "board-1", Title: "To do"}, nil
		},
		getCardFn: func(_ context.Context, id string) (store.Card, error) {
			return store.Card{ID: id, BoardID: "board-1", ColumnID: "col-1", Archived: true}, nil
		},
		getFlowFn: func(_ context.Context, id string) (store.Flow, error) {
			return store.Flow{ID: id, BoardID: "board-1"}, nil
		},
	}
	return NewHTTPServer(newTestService(fs), "*")
}

func TestRoleMatrixOnBoardRoutes(t *testing.T) {
	routes := []struct {
		name   string
		method string
		path   string
		body   string
		action string
	}{
		{name: "get board", method: http.MethodGet, path: "/api/boards/board-1", action: "read"},
		{name: "permissions", method: http.MethodGet, path: "/api/boards/board-1/permissions", action: "read"},
		{name: "list flows", method: http.MethodGet, path: "/api/boards/board-1/flows", action: "read"},
		{name: "create column", method: http.MethodPost, path: "/api/boards/board-1/columns", body: `{"title":"Review"}`, action: "write"},
		{name: "create tag", method: http.MethodPost, path: "/api/boards/board-1/tags", body: `{"name":"bug","color":"red"}`, action: "write"},
		{name: "create card", method: http.MethodPost, path: "/api/boards/board-1/cards", body: `{"columnId":"col-1","title":"Card"}`, action: "write"},
		{name: "move card", method: http.MethodPost, path: "/api/cards/card-1/move", body: `{"columnId":"col-1","position":2}`, action: "write"},
		{name: "restore card", method: http.MethodPost, path: "/api/cards/card-1/restore", action: "write"},
		{name: "create flow", method: http.MethodPost, path: "/api/boards/board-1/flows", body: `{"name":"Brainstorm"}`, action: "write"},
		{name: "add member", method: http.MethodPost, path: "/api/boards/board-1/members", body: `{"userId":"user-2","role":"editor"}`, action: "admin"},
		{name: "delete board", method: http.MethodDelete, path: "/api/boards/board-1", action: "admin"},
	}
	allowed := map[string]map[string]bool{
		"viewer": {"read": true},
		"editor": {"read": true, "write": true},
		"owner":  {"read": true, "write": true, "admin": true},
	}

	for _, role := range []string{"viewer", "editor", "owner", ""} {
		server := newRBACServer(role)
		token := tokenFor(t, "user-1")
		for _, route := range routes {
			t.Run(role+"/"+route.name, func(t *testing.T) {
				rr := doRequest(t, server.Handler(), route.method, route.path, token, route.body)

				if role == "" {
					assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")
					if msg := decodeMap(t, rr)["error"]; msg != "Not a member of this board" {
						t.Fatalf("expected non-member message, got %v", msg)
					}
					return
				}
				if !allowed[role][route.action] {
					assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")
					return
				}
				if rr.Code >= http.StatusBadRequest {
					t.Fatalf("expected success for %s, got %d body=%s", role, rr.Code, rr.Body.String())
				}
			})
		}
	}
}

func TestPermissionsReportRoleCapabilities(t *testing.T) {
	server := newRBACServer("editor")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards/board-1/permissions", tokenFor(t, "user-1"), "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if payload["role"] != "editor" || payload["canWrite"] != true || payload["canAdmin"] != false {
		t.Fatalf("unexpected permissions %v", payload)
	}
}

func TestOwnerCannotDemoteThemselves(t *testing.T) {
	server := newRBACServer("owner")

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/boards/board-1/members", tokenFor(t, "user-1"),
		`{"userId":"user-1","role":"viewer"}`)

	if rr.Code < http.StatusBadRequest {
		t.Fatalf("expected self-demotion to fail, got %d", rr.Code)
	}
}

func TestAddMemberValidatesRole(t *testing.T) {
	server := newRBACServer("owner")

	rr := doRequest(t, server.Handler(), http.MethodPost, "/api/boards/board-1/members", tokenFor(t, "user-1"),
		`{"userId":"user-2","role":"superuser"}`)

	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}
