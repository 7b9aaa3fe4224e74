package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// requestTimeout bounds a single vendor request.
const requestTimeout = 600 * time.Second

// Constructor builds a provider from the ConfigStore.
type Constructor func(ctx context.Context, cfg ConfigReader, mc ModelConfig) (Provider, error)

type registryEntry struct {
	meta Metadata
	ctor Constructor
}

// Registry maps vendor names to constructors.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// DefaultRegistry returns a registry with every built-in vendor.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(AnthropicMetadata(), NewAnthropic)
	r.Register(DatabricksMetadata(), NewDatabricks)
	r.Register(GroqMetadata(), NewGroq)
	r.Register(OpenAIMetadata(), NewOpenAI)
	r.Register(ArkMetadata(), NewArk)
	return r
}

// Register adds or replaces a vendor.
func (r *Registry) Register(meta Metadata, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[meta.Name] = registryEntry{meta: meta, ctor: ctor}
}

// Metadata lists the registered vendors sorted by name.
func (r *Registry) Metadata() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Create builds the named provider. An empty model selects the vendor default.
func (r *Registry) Create(ctx context.Context, name string, cfg ConfigReader, mc ModelConfig) (Provider, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if mc.Model == "" {
		mc.Model = entry.meta.DefaultModel
	}
	return entry.ctor(ctx, cfg, mc)
}

// FromConfig builds the provider selected by AGENTD_PROVIDER and AGENTD_MODEL
// in the ConfigStore, falling back to the given defaults.
func (r *Registry) FromConfig(ctx context.Context, cfg ConfigReader, defaults ModelConfig, defaultName string) (Provider, error) {
	name := paramOr(cfg, "AGENTD_PROVIDER", defaultName)
	if name == "" {
		return nil, fmt.Errorf("no provider configured: set AGENTD_PROVIDER")
	}
	mc := defaults
	mc.Model = paramOr(cfg, "AGENTD_MODEL", defaults.Model)
	return r.Create(ctx, name, cfg, mc)
}

func paramOr(cfg ConfigReader, key, def string) string {
	if v, err := cfg.GetParam(key); err == nil && v != "" {
		return v
	}
	return def
}

// Configured reports whether every required key of a vendor has a value.
func Configured(cfg ConfigReader, meta Metadata) bool {
	if cfg == nil {
		return false
	}
	for _, key := range meta.ConfigKeys {
		if !key.Required {
			continue
		}
		get := cfg.GetParam
		if key.Secret {
			get = cfg.GetSecret
		}
		if v, err := get(key.Name); err != nil || v == "" {
			return false
		}
	}
	return true
}
