// Package functions serves the assistant-backed HTTP functions: idea
// generation and profile updates. Responses follow the narrow contract
// shared with browser clients: JSON bodies of the form {error, details?} on
// failure, CORS open to any origin.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ideaboard/api/internal/assistant"
	"ideaboard/api/internal/auth"
	"ideaboard/api/internal/store"
)

// Conversation runs one assistant exchange and returns the reply text.
type Conversation interface {
	Converse(ctx context.Context, assistantID, message string) (string, error)
}

type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

type ProfileStore interface {
	EnsureUser(ctx context.Context, user store.User) (store.User, error)
	GetUserProfile(ctx context.Context, userID string) (store.UserProfile, error)
	CreateUserProfile(ctx context.Context, userID string) (store.UserProfile, error)
	SaveUserProfile(ctx context.Context, profile store.UserProfile) (store.UserProfile, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationDetails flattens validator errors into "field: rule" strings.
func validationDetails(err error) any {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		if fe.Param() != "" {
			details = append(details, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		details = append(details, fmt.Sprintf("%s: %s", field, fe.Tag()))
	}
	return details
}

// serve wraps a POST handler with the preflight and method checks every
// function shares.
func serve(log *zap.Logger, name string, post func(w http.ResponseWriter, r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setHeaders(w.Header())
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`"ok"`))
		case http.MethodPost:
			post(w, r)
		default:
			log.Debug("method not allowed", zap.String("function", name), zap.String("method", r.Method))
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		}
	})
}

func setHeaders(header http.Header) {
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	response := map[string]any{"error": message}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeAndValidate reads a JSON body into target and checks its tags.
func decodeAndValidate(r *http.Request, target any) (any, bool) {
	if r.Body == nil {
		return "request body is required", false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Sprintf("invalid JSON body: %v", err), false
	}
	if err := validate.Struct(target); err != nil {
		return validationDetails(err), false
	}
	return nil, true
}

// assistantFailure turns a conversation error into the 500 message callers see.
func assistantFailure(err error) string {
	switch {
	case errors.Is(err, assistant.ErrRunTimeout):
		return "Assistant run timed out"
	case errors.Is(err, assistant.ErrRunFailed):
		return "Assistant run failed"
	case errors.Is(err, assistant.ErrNoReply):
		return "No response from assistant"
	default:
		return "Assistant request failed"
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
