package functions

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"ideaboard/api/internal/assistant"
)

type UserProfileInput struct {
	PreferredTone           string   `json:"preferred_tone,omitempty"`
	PreferredLength         string   `json:"preferred_length,omitempty"`
	TopicsLiked             []string `json:"topics_liked,omitempty"`
	TopicsDisliked          []string `json:"topics_disliked,omitempty"`
	IdeaStyle               string   `json:"idea_style,omitempty"`
	ExamplesOfLikedIdeas    []string `json:"examples_of_liked_ideas,omitempty"`
	ExamplesOfDislikedIdeas []string `json:"examples_of_disliked_ideas,omitempty"`
}

type GenerateRequest struct {
	IdeaInput   string            `json:"idea_input" validate:"required,min=1"`
	UserProfile *UserProfileInput `json:"user_profile" validate:"required"`
}

type GeneratedIdea struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}

type GeneratedIdeas struct {
	Ideas []GeneratedIdea `json:"ideas" validate:"required,dive"`
}

// IdeaGenerator serves POST /functions/v1/generate-ideas.
type IdeaGenerator struct {
	conv        Conversation
	assistantID string
	log         *zap.Logger
}

func NewIdeaGenerator(conv Conversation, assistantID string, log *zap.Logger) *IdeaGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &IdeaGenerator{conv: conv, assistantID: assistantID, log: log.Named("generate-ideas")}
}

func (g *IdeaGenerator) Handler() http.Handler {
	return serve(g.log, "generate-ideas", g.generate)
}

func (g *IdeaGenerator) generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if details, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, "Invalid request", details)
		return
	}
	if g.conv == nil || g.assistantID == "" {
		writeError(w, http.StatusInternalServerError, "Assistant not configured", nil)
		return
	}

	message, err := ideaPrompt(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build prompt", err.Error())
		return
	}
	reply, err := g.conv.Converse(r.Context(), g.assistantID, message)
	if err != nil {
		g.log.Warn("assistant conversation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, assistantFailure(err), err.Error())
		return
	}

	var out GeneratedIdeas
	if err := assistant.ParseJSONReply(reply, &out); err != nil {
		g.log.Warn("unparseable assistant reply", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to parse assistant response", err.Error())
		return
	}
	if err := validate.Struct(out); err != nil {
		writeError(w, http.StatusInternalServerError, "Invalid response format from assistant", validationDetails(err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func ideaPrompt(req GenerateRequest) (string, error) {
	profile, err := json.Marshal(req.UserProfile)
	if err != nil {
		return "", fmt.Errorf("encode profile: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Generate ideas for: %s\n\n", req.IdeaInput)
	fmt.Fprintf(&b, "User profile:\n%s\n\n", profile)
	b.WriteString(`Respond only with JSON of the form {"ideas":[{"title":"...","description":"..."}]}.`)
	return b.String(), nil
}
