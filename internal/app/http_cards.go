package app

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

const (
	maxUploadBytes  = 25 << 20
	maxUploadMemory = 8 << 20
)

type textBody struct {
	Text string `json:"text"`
}

// respond writes payload, or err when the call failed.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload map[string]any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) handleCreateCard(w http.ResponseWriter, r *http.Request, session Session) {
	var body CreateCardInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateCard(r.Context(), session, mux.Vars(r)["boardID"], body)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateCard(w http.ResponseWriter, r *http.Request, session Session) {
	var body UpdateCardInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateCard(r.Context(), session, mux.Vars(r)["cardID"], body)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleMoveCard(w http.ResponseWriter, r *http.Request, session Session) {
	var body MoveCardInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.MoveCard(r.Context(), session, mux.Vars(r)["cardID"], body)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleArchiveCard(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.ArchiveCard(r.Context(), session, mux.Vars(r)["cardID"])
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleRestoreCard(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.RestoreCard(r.Context(), session, mux.Vars(r)["cardID"])
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeleteCard(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteCard(r.Context(), session, mux.Vars(r)["cardID"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCreateSubtask(w http.ResponseWriter, r *http.Request, session Session) {
	var body textBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateSubtask(r.Context(), session, mux.Vars(r)["cardID"], body.Text)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateSubtask(w http.ResponseWriter, r *http.Request, session Session) {
	var body UpdateSubtaskInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateSubtask(r.Context(), session, mux.Vars(r)["subtaskID"], body)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeleteSubtask(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteSubtask(r.Context(), session, mux.Vars(r)["subtaskID"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAddCardComment(w http.ResponseWriter, r *http.Request, session Session) {
	var body textBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.AddCardComment(r.Context(), session, mux.Vars(r)["cardID"], body.Text)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteComment(r.Context(), session, mux.Vars(r)["commentID"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleUploadAttachment takes a multipart form with one "file" part.
func (s *HTTPServer) handleUploadAttachment(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Attachment exceeds 25 MB", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form expected", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()

	payload, err := s.service.UploadAttachment(r.Context(), session, mux.Vars(r)["cardID"],
		header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleAttachmentURL(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.AttachmentURL(r.Context(), session, mux.Vars(r)["attachmentID"])
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeleteAttachment(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteAttachment(r.Context(), session, mux.Vars(r)["attachmentID"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
