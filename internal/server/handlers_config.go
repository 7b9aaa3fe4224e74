package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/opencode-ai/agentd/internal/config"
	"github.com/opencode-ai/agentd/internal/provider"
)

// ProviderDetails describes a vendor and whether its required keys are set.
type ProviderDetails struct {
	provider.Metadata
	IsConfigured bool `json:"isConfigured"`
	IsActive     bool `json:"isActive"`
}

// listProviders handles GET /config/providers
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	active := ""
	if s.agent != nil {
		if p, err := s.agent.Provider(); err == nil {
			active = p.Metadata().Name
		}
	}

	out := []ProviderDetails{}
	for _, meta := range s.providers.Metadata() {
		out = append(out, ProviderDetails{
			Metadata:     meta,
			IsConfigured: provider.Configured(s.store, meta),
			IsActive:     meta.Name == active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// ConfigKeyRequest names a key in the ConfigStore.
type ConfigKeyRequest struct {
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	IsSecret bool   `json:"is_secret"`
}

// ConfigValueResponse is the body of /config/read. Secret values are never
// returned, only whether they are set.
type ConfigValueResponse struct {
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	IsSecret bool   `json:"is_secret"`
	IsSet    bool   `json:"is_set"`
}

func (s *Server) decodeConfigKey(w http.ResponseWriter, r *http.Request) (ConfigKeyRequest, bool) {
	var req ConfigKeyRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "key is required")
		return req, false
	}
	if s.store == nil {
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, "config store not available")
		return req, false
	}
	return req, true
}

// readConfig handles POST /config/read
func (s *Server) readConfig(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeConfigKey(w, r)
	if !ok {
		return
	}
	get := s.store.GetParam
	if req.IsSecret {
		get = s.store.GetSecret
	}
	value, err := get(req.Key)
	if errors.Is(err, config.ErrKeyNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Config key not found: "+req.Key)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	resp := ConfigValueResponse{Key: req.Key, IsSecret: req.IsSecret, IsSet: true}
	if !req.IsSecret {
		resp.Value = value
	}
	writeJSON(w, http.StatusOK, resp)
}

// upsertConfig handles POST /config/upsert
func (s *Server) upsertConfig(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeConfigKey(w, r)
	if !ok {
		return
	}
	set := s.store.SetParam
	if req.IsSecret {
		set = s.store.SetSecret
	}
	if err := set(req.Key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeOK(w)
}

// removeConfig handles POST /config/remove
func (s *Server) removeConfig(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeConfigKey(w, r)
	if !ok {
		return
	}
	err := s.store.Delete(req.Key, req.IsSecret)
	if errors.Is(err, config.ErrKeyNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Config key not found: "+req.Key)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeOK(w)
}
