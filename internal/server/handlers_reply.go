package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/opencode-ai/agentd/internal/permission"
	"github.com/opencode-ai/agentd/internal/session"
	"github.com/opencode-ai/agentd/pkg/types"
)

// status handles GET /status
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok")
}

// readyForReply rejects the request when no reply can be started.
func (s *Server) readyForReply(w http.ResponseWriter, req *session.ReplyRequest) bool {
	if s.agent == nil || s.transport == nil {
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, "agent not initialized")
		return false
	}
	if _, err := s.agent.Provider(); err != nil {
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, err.Error())
		return false
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "messages must not be empty")
		return false
	}
	if req.SessionID == "" {
		req.SessionID = session.NewSessionID()
	} else if err := session.ValidateID(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return false
	}
	return true
}

// reply handles POST /reply. The reply's events are streamed as SSE until
// the Finish event; a client that disconnects closes the queue.
func (s *Server) reply(w http.ResponseWriter, r *http.Request) {
	var req session.ReplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.readyForReply(w, &req) {
		return
	}

	sse, err := startSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	q := s.transport.Stream(r.Context(), req)
	defer q.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-q.Events():
			if !ok {
				return
			}
			if err := sse.writeData(ev); err != nil {
				s.log.Debug().Err(err).Str("session_id", req.SessionID).Msg("reply stream write failed")
				return
			}
		}
	}
}

// AskResponse is the body of a successful /ask.
type AskResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

// ask handles POST /ask
func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req session.ReplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.readyForReply(w, &req) {
		return
	}

	text, err := s.transport.Ask(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeProviderError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AskResponse{SessionID: req.SessionID, Response: text})
}

// ConfirmRequest resolves a ToolConfirmationRequest.
type ConfirmRequest struct {
	ID            string `json:"id"`
	PrincipalType string `json:"principal_type"`
	Action        string `json:"action"`
	SessionID     string `json:"session_id,omitempty"`
}

// confirm handles POST /confirm. Unknown ids are accepted and ignored.
func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "id is required")
		return
	}
	if s.agent == nil {
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, "agent not initialized")
		return
	}
	s.agent.HandleConfirmation(req.SessionID, req.ID, permission.Confirmation{
		PrincipalType: permission.ParsePrincipalType(req.PrincipalType),
		Permission:    permission.ParseAction(req.Action),
	})
	writeOK(w)
}

// ToolResultRequest submits the result of a FrontendToolRequest.
type ToolResultRequest struct {
	ID        string           `json:"id"`
	Result    types.ToolResult `json:"result"`
	SessionID string           `json:"session_id,omitempty"`
}

// toolResult handles POST /tool_result. A body that does not parse is
// answered with 422.
func (s *Server) toolResult(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	var req ToolResultRequest
	err = json.Unmarshal(body, &req)
	switch {
	case err != nil:
	case req.ID == "":
		err = errors.New("id is required")
	case req.Result.Status == "":
		err = errors.New("result is required")
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidRequest, err.Error())
		return
	}
	if s.agent == nil {
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, "agent not initialized")
		return
	}
	s.agent.HandleToolResult(req.SessionID, req.ID, req.Result)
	writeOK(w)
}
