package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/agentd/internal/permission"
	"github.com/opencode-ai/agentd/internal/provider"
	"github.com/opencode-ai/agentd/pkg/types"
)

// ToolInfo describes a tool and how calls to it are authorized.
type ToolInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	InputSchema any               `json:"inputSchema,omitempty"`
	Extension   string            `json:"extension"`
	Permission  permission.Action `json:"permission"`
}

// listTools handles GET /agent/tools. ?extension= filters by extension.
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, "agent not initialized")
		return
	}
	tools, err := s.agent.Tools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	filter := r.URL.Query().Get("extension")
	policy := s.agent.Policy()
	out := []ToolInfo{}
	for _, t := range tools {
		ext := permission.ExtensionOf(t.Name)
		if ext == "" {
			ext = "frontend"
		}
		if filter != "" && filter != ext {
			continue
		}
		info := ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Extension:   ext,
			Permission:  policy.Evaluate(t.Name),
		}
		if len(t.InputSchema) > 0 {
			info.InputSchema = t.InputSchema
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

// UpdateProviderRequest selects a new provider for the agent.
type UpdateProviderRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// updateProvider handles POST /agent/provider
func (s *Server) updateProvider(w http.ResponseWriter, r *http.Request) {
	var req UpdateProviderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "provider is required")
		return
	}
	if s.agent == nil || s.store == nil {
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, "agent not initialized")
		return
	}

	p, err := s.providers.Create(r.Context(), req.Provider, s.store, provider.ModelConfig{Model: req.Model})
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeProviderError, err.Error())
		return
	}
	s.agent.UpdateProvider(p)
	writeJSON(w, http.StatusOK, map[string]string{
		"provider": p.Metadata().Name,
		"model":    p.ModelConfig().Model,
	})
}

// listFrontendTools handles GET /agent/frontend_tools
func (s *Server) listFrontendTools(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, "agent not initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.agent.FrontendTools()})
}

// FrontendToolsRequest registers tools the client executes.
type FrontendToolsRequest struct {
	Tools []types.Tool `json:"tools"`
}

// registerFrontendTools handles POST /agent/frontend_tools
func (s *Server) registerFrontendTools(w http.ResponseWriter, r *http.Request) {
	var req FrontendToolsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if s.agent == nil {
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, "agent not initialized")
		return
	}
	if err := s.agent.RegisterFrontendTools(req.Tools); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	names := make([]string, len(req.Tools))
	for i, t := range req.Tools {
		names[i] = t.Name
	}
	writeJSON(w, http.StatusOK, map[string]any{"registered": names})
}

// removeFrontendTool handles DELETE /agent/frontend_tools/{name}
func (s *Server) removeFrontendTool(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, "agent not initialized")
		return
	}
	name := chi.URLParam(r, "name")
	if !s.agent.RemoveFrontendTool(name) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Frontend tool not found: "+name)
		return
	}
	writeOK(w)
}
