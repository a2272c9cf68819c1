package app

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *HTTPServer) handleListFlows(w http.ResponseWriter, r *http.Request, session Session) {
	flows, err := s.service.ListFlows(r.Context(), session, mux.Vars(r)["boardID"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": flows})
}

func (s *HTTPServer) handleCreateFlow(w http.ResponseWriter, r *http.Request, session Session) {
	var body CreateFlowInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateFlow(r.Context(), session, mux.Vars(r)["boardID"], body)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleDeleteFlow(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteFlow(r.Context(), session, mux.Vars(r)["flowID"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCreateIdea(w http.ResponseWriter, r *http.Request, session Session) {
	var body CreateIdeaInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateIdea(r.Context(), session, mux.Vars(r)["flowID"], body)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateIdea(w http.ResponseWriter, r *http.Request, session Session) {
	var body UpdateIdeaInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateIdea(r.Context(), session, mux.Vars(r)["ideaID"], body)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeleteIdea(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteIdea(r.Context(), session, mux.Vars(r)["ideaID"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSendIdeaToKanban(w http.ResponseWriter, r *http.Request, session Session) {
	var body KanbanPlacementInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.SendIdeaToKanban(r.Context(), session, mux.Vars(r)["ideaID"], body)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleRemoveIdeaFromKanban(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.RemoveIdeaFromKanban(r.Context(), session, mux.Vars(r)["ideaID"])
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleAddIdeaComment(w http.ResponseWriter, r *http.Request, session Session) {
	var body textBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.AddIdeaComment(r.Context(), session, mux.Vars(r)["ideaID"], body.Text)
	s.respond(w, r, http.StatusCreated, payload, err)
}
