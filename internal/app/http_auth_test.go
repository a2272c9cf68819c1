package app

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ideaboard/api/internal/auth"
)

func TestProtectedRouteWithoutBearerReturnsUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards", "", "")

	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestProtectedRouteWithInvalidBearerReturnsUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards", "definitely-not-a-token", "")

	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestProtectedRouteWithExpiredBearerReturnsUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards", token, "")

	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestProtectedRouteWithTokenFromOtherSecretReturnsUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	token, err := auth.NewVerifier("another-secret").Issue(auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards", token, "")

	assertErrorCode(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestValidBearerReachesHandler(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/boards", tokenFor(t, "user-1"), "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	items, ok := decodeMap(t, rr)["items"].([]any)
	if !ok || len(items) != 0 {
		t.Fatalf("expected empty items, got %v", rr.Body.String())
	}
}
