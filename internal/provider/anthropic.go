package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
)

const (
	anthropicDefaultModel     = "claude-3-5-sonnet-latest"
	anthropicDefaultHost      = "https://api.anthropic.com"
	anthropicDefaultMaxTokens = 8192
)

// AnthropicMetadata describes the Anthropic vendor.
func AnthropicMetadata() Metadata {
	return Metadata{
		Name:         "anthropic",
		DisplayName:  "Anthropic",
		Description:  "Claude models served by the Anthropic API",
		DefaultModel: anthropicDefaultModel,
		KnownModels: []string{
			"claude-3-5-sonnet-latest",
			"claude-3-5-haiku-latest",
			"claude-3-opus-latest",
			"claude-sonnet-4-20250514",
			"claude-opus-4-20250514",
		},
		ConfigKeys: []ConfigKey{
			{Name: "ANTHROPIC_API_KEY", Required: true, Secret: true},
			{Name: "ANTHROPIC_HOST", Default: anthropicDefaultHost},
		},
	}
}

// NewAnthropic creates an Anthropic provider from the ConfigStore.
func NewAnthropic(ctx context.Context, cfg ConfigReader, mc ModelConfig) (Provider, error) {
	apiKey, err := cfg.GetSecret("ANTHROPIC_API_KEY")
	if err != nil {
		return nil, fmt.Errorf("anthropic: ANTHROPIC_API_KEY: %w", err)
	}
	host := paramOr(cfg, "ANTHROPIC_HOST", anthropicDefaultHost)

	if mc.Model == "" {
		mc.Model = anthropicDefaultModel
	}
	maxTokens := mc.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	claudeCfg := &claude.Config{
		APIKey:    apiKey,
		Model:     mc.Model,
		MaxTokens: maxTokens,
	}
	if host != anthropicDefaultHost {
		baseURL := strings.TrimRight(host, "/")
		claudeCfg.BaseURL = &baseURL
	}

	chat, err := claude.NewChatModel(ctx, claudeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}
	return NewChatProvider(AnthropicMetadata(), mc, chat, DefaultRetryConfig()).WithTimeout(requestTimeout), nil
}
