package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
)

// ArkMetadata describes the Volcengine Ark vendor.
func ArkMetadata() Metadata {
	return Metadata{
		Name:        "ark",
		DisplayName: "Volcengine Ark",
		Description: "Models deployed as Volcengine Ark endpoints",
		ConfigKeys: []ConfigKey{
			{Name: "ARK_API_KEY", Required: true, Secret: true},
			{Name: "ARK_MODEL_ID"},
			{Name: "ARK_BASE_URL"},
		},
	}
}

// NewArk creates an Ark provider from the ConfigStore. The model is the Ark
// endpoint id, taken from the model config or ARK_MODEL_ID.
func NewArk(ctx context.Context, cfg ConfigReader, mc ModelConfig) (Provider, error) {
	apiKey, err := cfg.GetSecret("ARK_API_KEY")
	if err != nil {
		return nil, fmt.Errorf("ark: ARK_API_KEY: %w", err)
	}
	if mc.Model == "" {
		mc.Model = paramOr(cfg, "ARK_MODEL_ID", "")
	}
	if mc.Model == "" {
		return nil, fmt.Errorf("ark: ARK_MODEL_ID not set")
	}

	arkCfg := &ark.ChatModelConfig{
		APIKey: apiKey,
		Model:  mc.Model,
	}
	if baseURL := paramOr(cfg, "ARK_BASE_URL", ""); baseURL != "" {
		arkCfg.BaseURL = baseURL
	}
	if mc.MaxTokens > 0 {
		maxTokens := mc.MaxTokens
		arkCfg.MaxTokens = &maxTokens
	}

	chat, err := ark.NewChatModel(ctx, arkCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARK model: %w", err)
	}
	return NewChatProvider(ArkMetadata(), mc, chat, DefaultRetryConfig()).WithTimeout(requestTimeout), nil
}
