package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

// Config is the server configuration.
type Config struct {
	Server     ServerConfig               `json:"server"`
	Provider   ProviderConfig             `json:"provider"`
	Agent      AgentConfig                `json:"agent"`
	Extensions map[string]ExtensionConfig `json:"extensions,omitempty"`
	Permission map[string]string          `json:"permission,omitempty"`
	Storage    StorageConfig              `json:"storage"`
	Telemetry  TelemetryConfig            `json:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
	CORS      *bool  `json:"cors,omitempty"`
}

// ProviderConfig selects the default provider and model. The ConfigStore
// keys AGENTD_PROVIDER and AGENTD_MODEL take precedence when set.
type ProviderConfig struct {
	Name        string   `json:"name,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}

// AgentConfig holds reply loop defaults.
type AgentConfig struct {
	Mode               string `json:"mode,omitempty"` // auto | approve | smart_approve | chat
	MaxTurns           int    `json:"maxTurns,omitempty"`
	MaxToolRepetitions int    `json:"maxToolRepetitions,omitempty"`
}

// ExtensionConfig describes an MCP server the agent connects to.
type ExtensionConfig struct {
	Enabled     *bool             `json:"enabled,omitempty"`
	Type        string            `json:"type"` // remote | local | stdio
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}

// IsEnabled reports whether the extension should be connected. Extensions
// are enabled unless explicitly disabled.
func (e ExtensionConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// StorageConfig selects the session store.
type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // file | postgres
	DSN    string `json:"dsn,omitempty"`
}

// TelemetryConfig configures session execution tracking.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Defaults.
const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 3000
	DefaultMode          = "auto"
	DefaultStorageDriver = "file"
)

// Default returns a configuration with defaults applied.
func Default() *Config {
	return &Config{
		Server:     ServerConfig{Host: DefaultHost, Port: DefaultPort},
		Agent:      AgentConfig{Mode: DefaultMode},
		Extensions: make(map[string]ExtensionConfig),
		Permission: make(map[string]string),
		Storage:    StorageConfig{Driver: DefaultStorageDriver},
	}
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/agentd/)
// 2. Project config (directory and directory/.agentd)
// 3. AGENTD_CONFIG file
// 4. AGENTD_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*Config, error) {
	config := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path string, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return nil
		}
		if err := loadConfigFile(path, config, baseDir); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		loaded[absPath] = true
		return nil
	}

	var candidates [][2]string
	globalPath := GetPaths().Config
	candidates = append(candidates,
		[2]string{filepath.Join(globalPath, "agentd.json"), globalPath},
		[2]string{filepath.Join(globalPath, "agentd.jsonc"), globalPath},
	)
	if directory != "" {
		projectDir := filepath.Join(directory, ".agentd")
		candidates = append(candidates,
			[2]string{filepath.Join(directory, "agentd.json"), directory},
			[2]string{filepath.Join(directory, "agentd.jsonc"), directory},
			[2]string{filepath.Join(projectDir, "agentd.json"), projectDir},
			[2]string{filepath.Join(projectDir, "agentd.jsonc"), projectDir},
		)
	}
	if configPath := os.Getenv("AGENTD_CONFIG"); configPath != "" {
		candidates = append(candidates, [2]string{configPath, filepath.Dir(configPath)})
	}

	for _, c := range candidates {
		if err := loadOnce(c[0], c[1]); err != nil {
			return nil, err
		}
	}

	if content := os.Getenv("AGENTD_CONFIG_CONTENT"); content != "" {
		var inline Config
		data := interpolate(jsonc.ToJSON([]byte(content)), directory)
		if err := json.Unmarshal(data, &inline); err != nil {
			return nil, &ParseError{Source: "AGENTD_CONFIG_CONTENT", Err: err}
		}
		mergeConfig(config, &inline)
	}

	applyEnvOverrides(config)
	return config, nil
}

// ParseError reports a malformed config source.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return "invalid config " + e.Source + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return &ParseError{Source: path, Err: err}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return jsonEscape(os.Getenv(envPattern.FindStringSubmatch(match)[1]))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}
		return jsonEscape(strings.TrimRight(string(content), "\r\n"))
	})

	return []byte(str)
}

func jsonEscape(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted[1 : len(quoted)-1])
}

// mergeConfig merges source config into target. Zero values in source do
// not override target.
func mergeConfig(target, source *Config) {
	if source.Server.Host != "" {
		target.Server.Host = source.Server.Host
	}
	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}
	if source.Server.SecretKey != "" {
		target.Server.SecretKey = source.Server.SecretKey
	}
	if source.Server.CORS != nil {
		target.Server.CORS = source.Server.CORS
	}

	if source.Provider.Name != "" {
		target.Provider.Name = source.Provider.Name
	}
	if source.Provider.Model != "" {
		target.Provider.Model = source.Provider.Model
	}
	if source.Provider.Temperature != nil {
		target.Provider.Temperature = source.Provider.Temperature
	}
	if source.Provider.MaxTokens != 0 {
		target.Provider.MaxTokens = source.Provider.MaxTokens
	}

	if source.Agent.Mode != "" {
		target.Agent.Mode = source.Agent.Mode
	}
	if source.Agent.MaxTurns != 0 {
		target.Agent.MaxTurns = source.Agent.MaxTurns
	}
	if source.Agent.MaxToolRepetitions != 0 {
		target.Agent.MaxToolRepetitions = source.Agent.MaxToolRepetitions
	}

	if source.Extensions != nil {
		if target.Extensions == nil {
			target.Extensions = make(map[string]ExtensionConfig)
		}
		for k, v := range source.Extensions {
			target.Extensions[k] = v
		}
	}

	if source.Permission != nil {
		if target.Permission == nil {
			target.Permission = make(map[string]string)
		}
		for k, v := range source.Permission {
			target.Permission[k] = v
		}
	}

	if source.Storage.Driver != "" {
		target.Storage.Driver = source.Storage.Driver
	}
	if source.Storage.DSN != "" {
		target.Storage.DSN = source.Storage.DSN
	}

	if source.Telemetry.Enabled {
		target.Telemetry.Enabled = true
	}
	if source.Telemetry.Endpoint != "" {
		target.Telemetry.Endpoint = source.Telemetry.Endpoint
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *Config) {
	if host := os.Getenv("AGENTD_HOST"); host != "" {
		config.Server.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("AGENTD_PORT")); err == nil && port > 0 {
		config.Server.Port = port
	}
	if key := os.Getenv("AGENTD_SECRET_KEY"); key != "" {
		config.Server.SecretKey = key
	}
	if name := os.Getenv("AGENTD_PROVIDER"); name != "" {
		config.Provider.Name = name
	}
	if model := os.Getenv("AGENTD_MODEL"); model != "" {
		config.Provider.Model = model
	}
	if mode := os.Getenv("AGENTD_MODE"); mode != "" {
		config.Agent.Mode = mode
	}
	if turns, err := strconv.Atoi(os.Getenv("AGENTD_MAX_TURNS")); err == nil && turns > 0 {
		config.Agent.MaxTurns = turns
	}
	if dsn := os.Getenv("AGENTD_STORAGE_DSN"); dsn != "" {
		config.Storage.DSN = dsn
		if config.Storage.Driver == DefaultStorageDriver {
			config.Storage.Driver = "postgres"
		}
	}
	if permJSON := os.Getenv("AGENTD_PERMISSION"); permJSON != "" {
		var perm map[string]string
		if err := json.Unmarshal([]byte(permJSON), &perm); err == nil {
			config.Permission = perm
		}
	}
}

// Save writes the configuration to a file.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
