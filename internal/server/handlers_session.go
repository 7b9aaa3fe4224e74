package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/agentd/internal/session"
	"github.com/opencode-ai/agentd/pkg/types"
)

// SessionListResponse is the body of GET /sessions.
type SessionListResponse struct {
	Sessions []session.Metadata `json:"sessions"`
}

// SessionResponse is the body of GET /sessions/{id}.
type SessionResponse struct {
	Metadata session.Metadata `json:"metadata"`
	Messages []types.Message  `json:"messages"`
}

// listSessions handles GET /sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, SessionListResponse{Sessions: []session.Metadata{}})
		return
	}
	list, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: list})
}

// getSession handles GET /sessions/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	meta, err := s.sessions.Metadata(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	messages, err := s.sessions.Load(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Metadata: meta, Messages: messages})
}

// deleteSession handles DELETE /sessions/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
	case errors.Is(err, session.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
