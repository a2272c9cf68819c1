package functions

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"ideaboard/api/internal/assistant"
	"ideaboard/api/internal/store"
)

type UpdateProfileRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Idea     string `json:"idea" validate:"required"`
	Reaction string `json:"reaction" validate:"required,oneof=like dislike"`
}

// profileChanges is the partial profile the assistant replies with. Absent
// fields leave the stored value alone.
type profileChanges struct {
	PreferredTone           *string  `json:"preferred_tone"`
	PreferredLength         *string  `json:"preferred_length"`
	TopicsLiked             []string `json:"topics_liked" validate:"omitempty,dive,required"`
	TopicsDisliked          []string `json:"topics_disliked" validate:"omitempty,dive,required"`
	IdeaStyle               *string  `json:"idea_style"`
	ExamplesOfLikedIdeas    []string `json:"examples_of_liked_ideas" validate:"omitempty,dive,required"`
	ExamplesOfDislikedIdeas []string `json:"examples_of_disliked_ideas" validate:"omitempty,dive,required"`
}

func (c profileChanges) apply(p store.UserProfile) store.UserProfile {
	if c.PreferredTone != nil {
		p.PreferredTone = *c.PreferredTone
	}
	if c.PreferredLength != nil {
		p.PreferredLength = *c.PreferredLength
	}
	if c.IdeaStyle != nil {
		p.IdeaStyle = *c.IdeaStyle
	}
	if c.TopicsLiked != nil {
		p.TopicsLiked = c.TopicsLiked
	}
	if c.TopicsDisliked != nil {
		p.TopicsDisliked = c.TopicsDisliked
	}
	if c.ExamplesOfLikedIdeas != nil {
		p.ExamplesOfLikedIdeas = c.ExamplesOfLikedIdeas
	}
	if c.ExamplesOfDislikedIdeas != nil {
		p.ExamplesOfDislikedIdeas = c.ExamplesOfDislikedIdeas
	}
	return p
}

// ProfileUpdater serves POST /functions/v1/update-profile.
type ProfileUpdater struct {
	conv        Conversation
	assistantID string
	verifier    TokenVerifier
	profiles    ProfileStore
	log         *zap.Logger
}

func NewProfileUpdater(conv Conversation, assistantID string, verifier TokenVerifier, profiles ProfileStore, log *zap.Logger) *ProfileUpdater {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProfileUpdater{
		conv:        conv,
		assistantID: assistantID,
		verifier:    verifier,
		profiles:    profiles,
		log:         log.Named("update-profile"),
	}
}

func (u *ProfileUpdater) Handler() http.Handler {
	return serve(u.log, "update-profile", u.update)
}

func (u *ProfileUpdater) update(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Missing authorization header", nil)
		return
	}
	claims, err := u.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}

	var req UpdateProfileRequest
	if details, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, "Invalid request", details)
		return
	}
	if claims.Subject != req.UserID {
		writeError(w, http.StatusForbidden, "User ID mismatch", nil)
		return
	}
	if u.conv == nil || u.assistantID == "" {
		writeError(w, http.StatusInternalServerError, "Assistant not configured", nil)
		return
	}

	ctx := r.Context()
	if _, err := u.profiles.EnsureUser(ctx, store.User{ID: claims.Subject, Email: claims.Email, DisplayName: claims.Name}); err != nil {
		u.log.Error("ensure user failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load profile", err.Error())
		return
	}
	profile, err := u.profiles.GetUserProfile(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		profile, err = u.profiles.CreateUserProfile(ctx, req.UserID)
	}
	if err != nil {
		u.log.Error("load profile failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load profile", err.Error())
		return
	}

	message, err := profilePrompt(profile, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build prompt", err.Error())
		return
	}
	reply, err := u.conv.Converse(ctx, u.assistantID, message)
	if err != nil {
		u.log.Warn("assistant conversation failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, assistantFailure(err), err.Error())
		return
	}

	var changes profileChanges
	if err := assistant.ParseJSONReply(reply, &changes); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to parse assistant response", err.Error())
		return
	}
	if err := validate.Struct(changes); err != nil {
		writeError(w, http.StatusInternalServerError, "Invalid response format from assistant", validationDetails(err))
		return
	}

	saved, err := u.profiles.SaveUserProfile(ctx, changes.apply(profile))
	if err != nil {
		u.log.Error("save profile failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to update profile", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"profile": saved,
	})
}

func profilePrompt(profile store.UserProfile, req UpdateProfileRequest) (string, error) {
	current, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("encode profile: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current user profile:\n%s\n\n", current)
	fmt.Fprintf(&b, "The user reacted with %q to this idea:\n%s\n\n", req.Reaction, req.Idea)
	b.WriteString("Respond only with a JSON object containing the profile fields that should change.")
	return b.String(), nil
}
