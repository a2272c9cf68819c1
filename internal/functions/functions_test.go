package functions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"ideaboard/api/internal/assistant"
	"ideaboard/api/internal/auth"
	"ideaboard/api/internal/store"
)

// assistantServer is a minimal threads/runs backend. status decides the
// run state returned by each poll.
func assistantServer(t *testing.T, status func(poll int) string, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
	})
	mux.HandleFunc("POST /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg_1"})
	})
	mux.HandleFunc("POST /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": assistant.StatusQueued})
	})
	mux.HandleFunc("GET /threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		n := int(polls.Add(1))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": status(n)})
	})
	mux.HandleFunc("GET /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"role": "assistant", "content": []map[string]any{{"type": "text", "text": map[string]string{"value": reply}}}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newAssistantClient(t *testing.T, baseURL string, maxPolls int) *assistant.Client {
	return assistant.NewClient(assistant.Config{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		PollInterval: time.Millisecond,
		MaxPolls:     maxPolls,
		Logger:       zaptest.NewLogger(t),
	})
}

func post(t *testing.T, h http.Handler, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func assertContract(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS origin *, got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected JSON content type, got %q", got)
	}
}

func TestGenerateIdeasEndToEnd(t *testing.T) {
	srv, _ := assistantServer(t, func(int) string { return assistant.StatusCompleted },
		`{"ideas":[{"title":"X","description":"Y"}]}`)
	h := NewIdeaGenerator(newAssistantClient(t, srv.URL, 10), "asst_ideas", zaptest.NewLogger(t)).Handler()

	rec := post(t, h, `{"idea_input":"social media ideas","user_profile":{}}`, "")
	assertContract(t, rec)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"ideas":[{"title":"X","description":"Y"}]}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestGenerateIdeasTimesOut(t *testing.T) {
	srv, polls := assistantServer(t, func(int) string { return assistant.StatusInProgress }, "")
	h := NewIdeaGenerator(newAssistantClient(t, srv.URL, assistant.DefaultMaxPolls), "asst_ideas", zaptest.NewLogger(t)).Handler()

	rec := post(t, h, `{"idea_input":"x","user_profile":{}}`, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := decodeResponse(t, rec); body["error"] != "Assistant run timed out" {
		t.Fatalf("unexpected error body %v", body)
	}
	time.Sleep(20 * time.Millisecond)
	if got := polls.Load(); got != assistant.DefaultMaxPolls {
		t.Fatalf("expected %d polls, got %d", assistant.DefaultMaxPolls, got)
	}
}

func TestGenerateIdeasValidation(t *testing.T) {
	h := NewIdeaGenerator(nil, "asst_ideas", zaptest.NewLogger(t)).Handler()
	cases := map[string]string{
		"missing input":   `{"user_profile":{}}`,
		"empty input":     `{"idea_input":"","user_profile":{}}`,
		"missing profile": `{"idea_input":"x"}`,
		"malformed":       `{"idea_input":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := post(t, h, body, "")
			assertContract(t, rec)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			resp := decodeResponse(t, rec)
			if resp["error"] != "Invalid request" || resp["details"] == nil {
				t.Fatalf("unexpected body %v", resp)
			}
			if _, hasCode := resp["code"]; hasCode {
				t.Fatalf("function errors carry no code: %v", resp)
			}
		})
	}
}

func TestGenerateIdeasRejectsInvalidReply(t *testing.T) {
	for name, reply := range map[string]string{
		"prose":         "Here are some ideas!",
		"missing title": `{"ideas":[{"description":"Y"}]}`,
		"missing ideas": `{"thoughts":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv, _ := assistantServer(t, func(int) string { return assistant.StatusCompleted }, reply)
			h := NewIdeaGenerator(newAssistantClient(t, srv.URL, 5), "asst_ideas", zaptest.NewLogger(t)).Handler()
			rec := post(t, h, `{"idea_input":"x","user_profile":{}}`, "")
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", rec.Code)
			}
		})
	}
}

func TestPreflightAndMethods(t *testing.T) {
	h := NewIdeaGenerator(nil, "", zaptest.NewLogger(t)).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/functions/v1/generate-ideas", nil))
	assertContract(t, rec)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for OPTIONS, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "authorization") {
		t.Fatalf("expected authorization in allowed headers, got %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/functions/v1/generate-ideas", nil))
	assertContract(t, rec)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

type fakeConversation struct {
	mu       sync.Mutex
	messages []string
	reply    string
	err      error
}

func (f *fakeConversation) Converse(ctx context.Context, assistantID, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return f.reply, f.err
}

func TestGenerateIdeasLogsUnderItsName(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	conv := &fakeConversation{err: errors.New("assistant down")}
	h := NewIdeaGenerator(conv, "asst_ideas", zap.New(core)).Handler()

	rec := post(t, h, `{"idea_input":"x","user_profile":{}}`, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	entries := logs.FilterMessage("assistant conversation failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	if got := entries[0].LoggerName; got != "generate-ideas" {
		t.Fatalf("expected logger generate-ideas, got %q", got)
	}
}

type fakeProfileStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	profiles map[string]store.UserProfile
	saveErr  error
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{users: map[string]store.User{}, profiles: map[string]store.UserProfile{}}
}

func (f *fakeProfileStore) EnsureUser(ctx context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeProfileStore) GetUserProfile(ctx context.Context, userID string) (store.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return store.UserProfile{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfileStore) CreateUserProfile(ctx context.Context, userID string) (store.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		return store.UserProfile{}, errors.New("user row missing")
	}
	p := store.DefaultUserProfile(userID)
	f.profiles[userID] = p
	return p, nil
}

func (f *fakeProfileStore) SaveUserProfile(ctx context.Context, p store.UserProfile) (store.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return store.UserProfile{}, f.saveErr
	}
	f.profiles[p.UserID] = p
	return p, nil
}

func issue(t *testing.T, v *auth.Verifier, subject string) string {
	t.Helper()
	token, err := v.Issue(auth.Claims{Name: "Avery", RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestUpdateProfileCreatesAndMerges(t *testing.T) {
	verifier := auth.NewVerifier("secret")
	profiles := newFakeProfileStore()
	conv := &fakeConversation{reply: "```json\n{\"preferred_tone\":\"playful\",\"topics_liked\":[\"cats\"]}\n```"}
	h := NewProfileUpdater(conv, "asst_profile", verifier, profiles, zaptest.NewLogger(t)).Handler()

	rec := post(t, h, `{"user_id":"user-1","idea":"Cat memes","reaction":"like"}`, issue(t, verifier, "user-1"))
	assertContract(t, rec)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Message string            `json:"message"`
		Profile store.UserProfile `json:"profile"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message == "" {
		t.Fatal("expected a confirmation message")
	}
	if body.Profile.PreferredTone != "playful" || len(body.Profile.TopicsLiked) != 1 || body.Profile.TopicsLiked[0] != "cats" {
		t.Fatalf("unexpected profile %+v", body.Profile)
	}
	if body.Profile.TopicsDisliked == nil || len(body.Profile.TopicsDisliked) != 0 {
		t.Fatalf("absent fields should keep their defaults, got %+v", body.Profile.TopicsDisliked)
	}
	if profiles.users["user-1"].DisplayName != "Avery" {
		t.Fatalf("expected the caller's user row to be ensured")
	}
	if len(conv.messages) != 1 || !strings.Contains(conv.messages[0], "Cat memes") || !strings.Contains(conv.messages[0], `"like"`) {
		t.Fatalf("unexpected prompt %v", conv.messages)
	}
}

func TestUpdateProfileKeepsUnmentionedFields(t *testing.T) {
	verifier := auth.NewVerifier("secret")
	profiles := newFakeProfileStore()
	existing := store.DefaultUserProfile("user-1")
	existing.PreferredTone = "formal"
	existing.IdeaStyle = "lists"
	profiles.profiles["user-1"] = existing
	conv := &fakeConversation{reply: `{"idea_style":"stories"}`}
	h := NewProfileUpdater(conv, "asst_profile", verifier, profiles, zaptest.NewLogger(t)).Handler()

	rec := post(t, h, `{"user_id":"user-1","idea":"x","reaction":"dislike"}`, issue(t, verifier, "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := profiles.profiles["user-1"]
	if got.PreferredTone != "formal" || got.IdeaStyle != "stories" {
		t.Fatalf("unexpected merge result %+v", got)
	}
}

func TestUpdateProfileAuthorization(t *testing.T) {
	verifier := auth.NewVerifier("secret")
	h := NewProfileUpdater(&fakeConversation{reply: "{}"}, "asst_profile", verifier, newFakeProfileStore(), zaptest.NewLogger(t)).Handler()
	body := `{"user_id":"user-1","idea":"x","reaction":"like"}`

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{name: "missing token", token: "", want: http.StatusUnauthorized},
		{name: "invalid token", token: "garbage", want: http.StatusUnauthorized},
		{name: "foreign key", token: issue(t, auth.NewVerifier("other"), "user-1"), want: http.StatusUnauthorized},
		{name: "user mismatch", token: issue(t, verifier, "user-2"), want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(t, h, body, tc.token)
			assertContract(t, rec)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if decodeResponse(t, rec)["error"] == "" {
				t.Fatal("expected an error message")
			}
		})
	}
}

func TestUpdateProfileValidation(t *testing.T) {
	verifier := auth.NewVerifier("secret")
	h := NewProfileUpdater(&fakeConversation{reply: "{}"}, "asst_profile", verifier, newFakeProfileStore(), zaptest.NewLogger(t)).Handler()

	rec := post(t, h, `{"user_id":"user-1","idea":"x","reaction":"meh"}`, issue(t, verifier, "user-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	details, _ := decodeResponse(t, rec)["details"].([]any)
	if len(details) != 1 || !strings.HasPrefix(details[0].(string), "reaction: oneof") {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestUpdateProfileDownstreamFailures(t *testing.T) {
	verifier := auth.NewVerifier("secret")
	body := `{"user_id":"user-1","idea":"x","reaction":"like"}`

	t.Run("assistant", func(t *testing.T) {
		conv := &fakeConversation{err: assistant.ErrRunFailed}
		h := NewProfileUpdater(conv, "asst_profile", verifier, newFakeProfileStore(), zaptest.NewLogger(t)).Handler()
		rec := post(t, h, body, issue(t, verifier, "user-1"))
		if rec.Code != http.StatusInternalServerError || decodeResponse(t, rec)["error"] != "Assistant run failed" {
			t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
	})
	t.Run("persistence", func(t *testing.T) {
		profiles := newFakeProfileStore()
		profiles.saveErr = errors.New("db down")
		h := NewProfileUpdater(&fakeConversation{reply: "{}"}, "asst_profile", verifier, profiles, zaptest.NewLogger(t)).Handler()
		rec := post(t, h, body, issue(t, verifier, "user-1"))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
	})
}
