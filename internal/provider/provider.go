package provider

import (
	"context"

	"github.com/opencode-ai/agentd/pkg/types"
)

// Provider is an LLM backend.
type Provider interface {
	// Metadata describes the vendor.
	Metadata() Metadata

	// ModelConfig returns the model this provider instance talks to.
	ModelConfig() ModelConfig

	// RetryConfig returns the retry policy callers should apply.
	RetryConfig() RetryConfig

	// SupportsStreaming reports whether Stream is implemented.
	SupportsStreaming() bool

	// Complete returns the model's next assistant message.
	Complete(ctx context.Context, system string, messages []types.Message, tools []types.Tool) (types.Message, ProviderUsage, error)

	// Stream returns the model's next assistant message as a sequence of deltas.
	Stream(ctx context.Context, system string, messages []types.Message, tools []types.Tool) (*MessageStream, error)
}

// ModelConfig selects a model and its sampling settings.
type ModelConfig struct {
	Model        string   `json:"model"`
	Temperature  *float32 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"maxTokens,omitempty"`
	ContextLimit int      `json:"contextLimit,omitempty"`
}

// ProviderUsage is token usage attributed to a model.
type ProviderUsage struct {
	Model string      `json:"model"`
	Usage types.Usage `json:"usage"`
}

// ConfigKey documents a setting a vendor reads from the ConfigStore.
type ConfigKey struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Secret   bool   `json:"secret"`
	Default  string `json:"default,omitempty"`
}

// Metadata describes a vendor for listing and configuration UIs.
type Metadata struct {
	Name         string      `json:"name"`
	DisplayName  string      `json:"displayName"`
	Description  string      `json:"description"`
	DefaultModel string      `json:"defaultModel"`
	KnownModels  []string    `json:"knownModels"`
	ConfigKeys   []ConfigKey `json:"configKeys"`
}

// ConfigReader is the read side of the ConfigStore.
type ConfigReader interface {
	GetParam(key string) (string, error)
	GetSecret(key string) (string, error)
}
