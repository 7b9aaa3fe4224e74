package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

const (
	openAIDefaultModel = "gpt-4o"
	openAIDefaultHost  = "https://api.openai.com"

	groqDefaultModel = "llama-3.3-70b-versatile"
	groqDefaultHost  = "https://api.groq.com"
	groqBasePath     = "openai/v1"

	databricksDefaultModel = "databricks-meta-llama-3-3-70b-instruct"
	databricksBasePath     = "serving-endpoints"
)

// OpenAIMetadata describes the OpenAI vendor.
func OpenAIMetadata() Metadata {
	return Metadata{
		Name:         "openai",
		DisplayName:  "OpenAI",
		Description:  "GPT models served by the OpenAI API or a compatible endpoint",
		DefaultModel: openAIDefaultModel,
		KnownModels:  []string{"gpt-4o", "gpt-4o-mini", "o1", "o3-mini"},
		ConfigKeys: []ConfigKey{
			{Name: "OPENAI_API_KEY", Required: true, Secret: true},
			{Name: "OPENAI_HOST", Default: openAIDefaultHost},
		},
	}
}

// GroqMetadata describes the Groq vendor.
func GroqMetadata() Metadata {
	return Metadata{
		Name:         "groq",
		DisplayName:  "Groq",
		Description:  "Fast inference of open models on Groq",
		DefaultModel: groqDefaultModel,
		KnownModels:  []string{groqDefaultModel, "llama-3.1-8b-instant", "gemma2-9b-it"},
		ConfigKeys: []ConfigKey{
			{Name: "GROQ_API_KEY", Required: true, Secret: true},
			{Name: "GROQ_HOST", Default: groqDefaultHost},
		},
	}
}

// DatabricksMetadata describes the Databricks vendor.
func DatabricksMetadata() Metadata {
	return Metadata{
		Name:         "databricks",
		DisplayName:  "Databricks",
		Description:  "Models served by Databricks model serving endpoints",
		DefaultModel: databricksDefaultModel,
		KnownModels:  []string{databricksDefaultModel, "databricks-claude-3-7-sonnet"},
		ConfigKeys: []ConfigKey{
			{Name: "DATABRICKS_HOST", Required: true},
			{Name: "DATABRICKS_TOKEN", Required: true, Secret: true},
			{Name: "DATABRICKS_MAX_RETRIES", Default: "3"},
			{Name: "DATABRICKS_INITIAL_RETRY_INTERVAL_MS", Default: "1000"},
			{Name: "DATABRICKS_BACKOFF_MULTIPLIER", Default: "2"},
			{Name: "DATABRICKS_MAX_RETRY_INTERVAL_MS", Default: "30000"},
		},
	}
}

// NewOpenAI creates an OpenAI provider from the ConfigStore.
func NewOpenAI(ctx context.Context, cfg ConfigReader, mc ModelConfig) (Provider, error) {
	apiKey, err := cfg.GetSecret("OPENAI_API_KEY")
	if err != nil {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY: %w", err)
	}
	host := paramOr(cfg, "OPENAI_HOST", openAIDefaultHost)
	if mc.Model == "" {
		mc.Model = openAIDefaultModel
	}

	p, err := newOpenAICompatible(ctx, OpenAIMetadata(), mc, apiKey, joinURL(host, "v1"), DefaultRetryConfig())
	if err != nil {
		return nil, err
	}
	// Newer OpenAI models reject max_tokens in favour of max_completion_tokens.
	p.maxTokensOption = func(n int) model.Option { return openai.WithMaxCompletionTokens(n) }
	return p, nil
}

// NewGroq creates a Groq provider from the ConfigStore.
func NewGroq(ctx context.Context, cfg ConfigReader, mc ModelConfig) (Provider, error) {
	apiKey, err := cfg.GetSecret("GROQ_API_KEY")
	if err != nil {
		return nil, fmt.Errorf("groq: GROQ_API_KEY: %w", err)
	}
	host := paramOr(cfg, "GROQ_HOST", groqDefaultHost)
	if mc.Model == "" {
		mc.Model = groqDefaultModel
	}
	return newOpenAICompatible(ctx, GroqMetadata(), mc, apiKey, joinURL(host, groqBasePath), DefaultRetryConfig())
}

// NewDatabricks creates a Databricks provider from the ConfigStore. The
// model name is the serving endpoint name.
func NewDatabricks(ctx context.Context, cfg ConfigReader, mc ModelConfig) (Provider, error) {
	host, err := cfg.GetParam("DATABRICKS_HOST")
	if err != nil {
		return nil, fmt.Errorf("databricks: DATABRICKS_HOST: %w", err)
	}
	token, err := cfg.GetSecret("DATABRICKS_TOKEN")
	if err != nil {
		return nil, fmt.Errorf("databricks: DATABRICKS_TOKEN: %w", err)
	}
	if mc.Model == "" {
		mc.Model = databricksDefaultModel
	}
	retry := RetryConfigFromParams(cfg, "DATABRICKS")
	return newOpenAICompatible(ctx, DatabricksMetadata(), mc, token, joinURL(host, databricksBasePath), retry)
}

func newOpenAICompatible(ctx context.Context, meta Metadata, mc ModelConfig, apiKey, baseURL string, retry RetryConfig) (*ChatProvider, error) {
	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   mc.Model,
		Timeout: requestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", meta.Name, err)
	}
	return NewChatProvider(meta, mc, chat, retry), nil
}

func joinURL(host, path string) string {
	return strings.TrimRight(host, "/") + "/" + strings.TrimLeft(path, "/")
}
