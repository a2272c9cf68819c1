package app

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *HTTPServer) handlePermissions(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.Permissions(r.Context(), session, mux.Vars(r)["boardID"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request, session Session) {
	members, err := s.service.ListMembers(r.Context(), session, mux.Vars(r)["boardID"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": members})
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request, session Session) {
	var body AddMemberInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	boardID := mux.Vars(r)["boardID"]
	if err := s.service.AddMember(r.Context(), session, boardID, body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"boardId": boardID, "userId": body.UserID, "role": body.Role})
}
