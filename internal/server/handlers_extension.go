package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/agentd/internal/mcp"
)

// listExtensions handles GET /extensions
func (s *Server) listExtensions(w http.ResponseWriter, r *http.Request) {
	status := []mcp.ServerStatus{}
	if s.extensions != nil {
		status = s.extensions.Status()
	}
	writeJSON(w, http.StatusOK, map[string]any{"extensions": status})
}

// listResources handles GET /extensions/resources
func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	resources := []mcp.Resource{}
	if s.extensions != nil {
		list, err := s.extensions.ListResources(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		resources = append(resources, list...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

// ReadResourceRequest names an mcp://<extension>/<uri> resource.
type ReadResourceRequest struct {
	URI string `json:"uri"`
}

// readResource handles POST /extensions/resources/read
func (s *Server) readResource(w http.ResponseWriter, r *http.Request) {
	var req ReadResourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if s.extensions == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no extensions configured")
		return
	}
	contents, err := s.extensions.ReadResource(r.Context(), req.URI)
	if err != nil {
		writeExtensionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contents": contents})
}

// listPrompts handles GET /extensions/prompts
func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request) {
	prompts := []mcp.Prompt{}
	if s.extensions != nil {
		list, err := s.extensions.ListPrompts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		prompts = append(prompts, list...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts})
}

// GetPromptRequest carries prompt arguments.
type GetPromptRequest struct {
	Arguments map[string]string `json:"arguments"`
}

// getPrompt handles POST /extensions/prompts/{name}
func (s *Server) getPrompt(w http.ResponseWriter, r *http.Request) {
	var req GetPromptRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if s.extensions == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no extensions configured")
		return
	}
	result, err := s.extensions.GetPrompt(r.Context(), chi.URLParam(r, "name"), req.Arguments)
	if err != nil {
		writeExtensionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeExtensionError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, msg)
	case strings.Contains(msg, "invalid MCP URI"), strings.Contains(msg, "not namespaced"):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, msg)
	default:
		writeError(w, http.StatusBadGateway, ErrCodeInternalError, msg)
	}
}
