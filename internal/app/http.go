package app

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"ideaboard/api/internal/auth"
	"ideaboard/api/internal/export"
	"ideaboard/api/internal/feed"
	"ideaboard/api/internal/filter"
	"ideaboard/api/internal/store"
)

const functionsPrefix = "/functions/v1/"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.Logger
	functions  map[string]http.Handler
	feed       feed.Subscriber
	debounce   time.Duration
	upgrader   websocket.Upgrader
}

type ServerOption func(*HTTPServer)

func WithLogger(log *zap.Logger) ServerOption {
	return func(s *HTTPServer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithFunctions mounts the assistant functions under /functions/v1/.
func WithFunctions(generateIdeas, updateProfile http.Handler) ServerOption {
	return func(s *HTTPServer) {
		s.functions["generate-ideas"] = generateIdeas
		s.functions["update-profile"] = updateProfile
	}
}

// WithLiveFeed enables the live board websocket on top of sub.
func WithLiveFeed(sub feed.Subscriber, debounce time.Duration) ServerOption {
	return func(s *HTTPServer) {
		s.feed = sub
		s.debounce = debounce
	}
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...ServerOption) *HTTPServer {
	s := &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        zap.NewNop(),
		functions:  map[string]http.Handler{},
		debounce:   filter.DefaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler serves the board API behind CORS and the functions with their own
// CORS headers.
func (s *HTTPServer) Handler() http.Handler {
	router := s.routes()
	api := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins(s.corsOrigin),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         600,
	}).Handler(router)

	return s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, functionsPrefix) {
			router.ServeHTTP(w, r)
			return
		}
		api.ServeHTTP(w, r)
	}))
}

func allowedOrigins(corsOrigin string) []string {
	var out []string
	for _, origin := range strings.Split(corsOrigin, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range allowedOrigins(s.corsOrigin) {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	for name, h := range s.functions {
		r.Handle(functionsPrefix+name, h)
	}
	r.HandleFunc("/api/boards/{boardID}/live", s.handleLive).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	get, post, patch, del := http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete

	api.HandleFunc("/boards", s.authed(s.handleListBoards)).Methods(get)
	api.HandleFunc("/boards", s.authed(s.handleCreateBoard)).Methods(post)
	api.HandleFunc("/boards/{boardID}", s.authed(s.handleGetBoard)).Methods(get)
	api.HandleFunc("/boards/{boardID}", s.authed(s.handleDeleteBoard)).Methods(del)
	api.HandleFunc("/boards/{boardID}/permissions", s.authed(s.handlePermissions)).Methods(get)
	api.HandleFunc("/boards/{boardID}/members", s.authed(s.handleListMembers)).Methods(get)
	api.HandleFunc("/boards/{boardID}/members", s.authed(s.handleAddMember)).Methods(post)
	api.HandleFunc("/boards/{boardID}/columns", s.authed(s.handleCreateColumn)).Methods(post)
	api.HandleFunc("/columns/{columnID}", s.authed(s.handleRenameColumn)).Methods(patch)
	api.HandleFunc("/boards/{boardID}/tags", s.authed(s.handleCreateTag)).Methods(post)
	api.HandleFunc("/boards/{boardID}/search", s.authed(s.handleSearch)).Methods(get)
	api.HandleFunc("/boards/{boardID}/export", s.authed(s.handleExport)).Methods(get)

	api.HandleFunc("/boards/{boardID}/cards", s.authed(s.handleCreateCard)).Methods(post)
	api.HandleFunc("/cards/{cardID}", s.authed(s.handleUpdateCard)).Methods(patch)
	api.HandleFunc("/cards/{cardID}", s.authed(s.handleDeleteCard)).Methods(del)
	api.HandleFunc("/cards/{cardID}/move", s.authed(s.handleMoveCard)).Methods(post)
	api.HandleFunc("/cards/{cardID}/archive", s.authed(s.handleArchiveCard)).Methods(post)
	api.HandleFunc("/cards/{cardID}/restore", s.authed(s.handleRestoreCard)).Methods(post)
	api.HandleFunc("/cards/{cardID}/subtasks", s.authed(s.handleCreateSubtask)).Methods(post)
	api.HandleFunc("/subtasks/{subtaskID}", s.authed(s.handleUpdateSubtask)).Methods(patch)
	api.HandleFunc("/subtasks/{subtaskID}", s.authed(s.handleDeleteSubtask)).Methods(del)
	api.HandleFunc("/cards/{cardID}/comments", s.authed(s.handleAddCardComment)).Methods(post)
	api.HandleFunc("/comments/{commentID}", s.authed(s.handleDeleteComment)).Methods(del)
	api.HandleFunc("/cards/{cardID}/attachments", s.authed(s.handleUploadAttachment)).Methods(post)
	api.HandleFunc("/attachments/{attachmentID}/url", s.authed(s.handleAttachmentURL)).Methods(get)
	api.HandleFunc("/attachments/{attachmentID}", s.authed(s.handleDeleteAttachment)).Methods(del)

	api.HandleFunc("/boards/{boardID}/flows", s.authed(s.handleListFlows)).Methods(get)
	api.HandleFunc("/boards/{boardID}/flows", s.authed(s.handleCreateFlow)).Methods(post)
	api.HandleFunc("/flows/{flowID}", s.authed(s.handleDeleteFlow)).Methods(del)
	api.HandleFunc("/flows/{flowID}/ideas", s.authed(s.handleCreateIdea)).Methods(post)
	api.HandleFunc("/ideas/{ideaID}", s.authed(s.handleUpdateIdea)).Methods(patch)
	api.HandleFunc("/ideas/{ideaID}", s.authed(s.handleDeleteIdea)).Methods(del)
	api.HandleFunc("/ideas/{ideaID}/kanban", s.authed(s.handleSendIdeaToKanban)).Methods(post)
	api.HandleFunc("/ideas/{ideaID}/kanban", s.authed(s.handleRemoveIdeaFromKanban)).Methods(del)
	api.HandleFunc("/ideas/{ideaID}/comments", s.authed(s.handleAddIdeaComment)).Methods(post)
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, session Session)

func (s *HTTPServer) authed(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r, bearerToken(r))
		if !ok {
			return
		}
		next(w, r, session)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request, token string) (Session, bool) {
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.log.Error("session lookup failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// fail writes err as an API error. Unexpected errors are logged.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented && status != http.StatusServiceUnavailable {
		s.log.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", reqID)
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the live websocket take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html or pdf", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusNotImplemented, "PDF_UNAVAILABLE", "PDF export requires headless Chrome", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
