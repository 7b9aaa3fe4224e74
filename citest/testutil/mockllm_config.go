package testutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MockLLMConfig defines the YAML configuration schema for MockLLM scenarios.
type MockLLMConfig struct {
	Settings  MockSettings   `yaml:"settings"`
	Defaults  MockDefaults   `yaml:"defaults"`
	Responses []ResponseRule `yaml:"responses"`
	ToolRules []ToolRule     `yaml:"tool_rules"`
}

// MockSettings configures MockLLM server behavior.
type MockSettings struct {
	LagMS        int `yaml:"lag_ms"`         // delay before answering
	ChunkDelayMS int `yaml:"chunk_delay_ms"` // delay between streaming chunks
}

// MockDefaults defines fallback behavior.
type MockDefaults struct {
	Fallback string `yaml:"fallback"` // response when no rule matches
	// ToolResult answers a request ending in a tool result. {result} is
	// replaced by the tool output.
	ToolResult string `yaml:"tool_result"`
}

// ResponseRule defines a prompt-to-response mapping.
type ResponseRule struct {
	Name     string      `yaml:"name"`
	Match    MatchConfig `yaml:"match"`
	Response string      `yaml:"response"`
	Priority int         `yaml:"priority"` // higher priority rules win
}

// MatchConfig defines how to match a prompt. The first non-empty criterion
// decides.
type MatchConfig struct {
	Contains    string   `yaml:"contains"`
	ContainsAll []string `yaml:"contains_all"`
	ContainsAny []string `yaml:"contains_any"`
	Exact       string   `yaml:"exact"`
	Regex       string   `yaml:"regex"`
}

// ToolRule defines when to generate a tool call.
type ToolRule struct {
	Name     string         `yaml:"name"`
	Match    MatchConfig    `yaml:"match"`
	Tool     string         `yaml:"tool"` // must be declared in the request
	ToolCall ToolCallConfig `yaml:"tool_call"`
	Response string         `yaml:"response"` // optional text alongside the call
	Priority int            `yaml:"priority"`
}

// ToolCallConfig defines a tool call to generate.
type ToolCallConfig struct {
	ID        string         `yaml:"id"`
	Arguments map[string]any `yaml:"arguments"`
}

// DefaultMockLLMConfig returns a configuration covering plain replies and
// calculator tool calls.
func DefaultMockLLMConfig() *MockLLMConfig {
	return &MockLLMConfig{
		Settings: MockSettings{ChunkDelayMS: 1},
		Defaults: MockDefaults{
			Fallback:   "I understand your request. Let me help you with that.",
			ToolResult: "The tool returned {result}.",
		},
		Responses: []ResponseRule{
			{Name: "hello-world", Match: MatchConfig{Contains: "hello, world"}, Response: "Hello, World!", Priority: 10},
			{Name: "math-2plus2", Match: MatchConfig{ContainsAny: []string{"2+2", "2 + 2"}}, Response: "4", Priority: 10},
			{Name: "simple-hello", Match: MatchConfig{Contains: "hello"}, Response: "Hello! How can I help you today?", Priority: 1},
		},
		ToolRules: []ToolRule{
			{
				Name:     "sum",
				Match:    MatchConfig{ContainsAll: []string{"add", "numbers"}},
				Tool:     "calc__sum",
				ToolCall: ToolCallConfig{ID: "call_sum_001", Arguments: map[string]any{"numbers": []any{2, 3, 5}}},
				Response: "Let me add those.",
				Priority: 10,
			},
		},
	}
}

// LoadMockLLMConfig loads configuration from a YAML file.
func LoadMockLLMConfig(path string) (*MockLLMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config MockLLMConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadMockLLMConfigFromDir looks for mockllm.yaml or mockllm.yml in dir.
func LoadMockLLMConfigFromDir(dir string) (*MockLLMConfig, error) {
	path := filepath.Join(dir, "mockllm.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Join(dir, "mockllm.yml")
	}
	return LoadMockLLMConfig(path)
}

// Matches checks if the prompt matches this rule.
func (m *MatchConfig) Matches(prompt string) bool {
	promptLower := strings.ToLower(prompt)

	switch {
	case m.Exact != "":
		return strings.EqualFold(strings.TrimSpace(prompt), m.Exact)
	case m.Contains != "":
		return strings.Contains(promptLower, strings.ToLower(m.Contains))
	case len(m.ContainsAll) > 0:
		for _, s := range m.ContainsAll {
			if !strings.Contains(promptLower, strings.ToLower(s)) {
				return false
			}
		}
		return true
	case len(m.ContainsAny) > 0:
		for _, s := range m.ContainsAny {
			if strings.Contains(promptLower, strings.ToLower(s)) {
				return true
			}
		}
		return false
	case m.Regex != "":
		re, err := regexp.Compile(m.Regex)
		return err == nil && re.MatchString(prompt)
	}
	return false
}

// FindMatchingResponse returns the highest priority response matching the
// prompt, or the fallback.
func (c *MockLLMConfig) FindMatchingResponse(prompt string) (string, bool) {
	var best *ResponseRule
	for i := range c.Responses {
		rule := &c.Responses[i]
		if rule.Match.Matches(prompt) && (best == nil || rule.Priority > best.Priority) {
			best = rule
		}
	}
	if best != nil {
		return best.Response, true
	}
	return c.Defaults.Fallback, false
}

// FindMatchingToolRule returns the highest priority tool rule matching the
// prompt whose tool is available.
func (c *MockLLMConfig) FindMatchingToolRule(prompt string, availableTools []string) *ToolRule {
	toolSet := make(map[string]bool, len(availableTools))
	for _, t := range availableTools {
		toolSet[t] = true
	}

	var best *ToolRule
	for i := range c.ToolRules {
		rule := &c.ToolRules[i]
		if !toolSet[rule.Tool] || !rule.Match.Matches(prompt) {
			continue
		}
		if best == nil || rule.Priority > best.Priority {
			best = rule
		}
	}
	return best
}

// ToolResultResponse renders the answer to a tool result.
func (c *MockLLMConfig) ToolResultResponse(result string) string {
	tmpl := c.Defaults.ToolResult
	if tmpl == "" {
		tmpl = "{result}"
	}
	return strings.ReplaceAll(tmpl, "{result}", result)
}
