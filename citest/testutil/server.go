// Package testutil starts a complete agentd server against a mock LLM and
// the bundled calculator extension for end-to-end tests.
package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/opencode-ai/agentd/internal/agent"
	"github.com/opencode-ai/agentd/internal/config"
	"github.com/opencode-ai/agentd/internal/event"
	"github.com/opencode-ai/agentd/internal/mcp"
	"github.com/opencode-ai/agentd/internal/provider"
	"github.com/opencode-ai/agentd/internal/server"
	"github.com/opencode-ai/agentd/internal/session"
	"github.com/opencode-ai/agentd/pkg/mcpserver/calculator"
)

// DefaultSecret is the X-Secret-Key of test servers.
const DefaultSecret = "citest-secret"

// TestServer wraps a running agentd server and its collaborators.
type TestServer struct {
	BaseURL string
	Secret  string

	MockLLM   *MockLLMServer
	Agent     *agent.Agent
	Sessions  *session.FileStore
	Transport *session.Transport
	Config    *config.FileStore
	Bus       *event.Bus

	httpServer *httptest.Server
	calculator *httptest.Server
	extensions *mcp.Client
	tempDir    string
}

type serverConfig struct {
	mockConfig *MockLLMConfig
	mode       agent.Mode
	secret     string
	heartbeat  time.Duration
}

// ServerOption configures StartTestServer.
type ServerOption func(*serverConfig)

// WithMockLLMConfig sets the mock LLM scenarios.
func WithMockLLMConfig(cfg *MockLLMConfig) ServerOption {
	return func(c *serverConfig) { c.mockConfig = cfg }
}

// WithMode sets the agent's default mode.
func WithMode(mode agent.Mode) ServerOption {
	return func(c *serverConfig) { c.mode = mode }
}

// WithSecret sets the server's secret key.
func WithSecret(secret string) ServerOption {
	return func(c *serverConfig) { c.secret = secret }
}

// StartTestServer starts the mock LLM, the calculator extension and an
// agentd server using the OpenAI provider pointed at the mock.
func StartTestServer(opts ...ServerOption) (*TestServer, error) {
	cfg := serverConfig{mode: agent.ModeAuto, secret: DefaultSecret, heartbeat: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}

	tempDir, err := os.MkdirTemp("", "agentd-citest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	ts := &TestServer{Secret: cfg.secret, tempDir: tempDir}
	ok := false
	defer func() {
		if !ok {
			ts.Stop()
		}
	}()

	ts.MockLLM = NewMockLLMServer(cfg.mockConfig)
	ts.calculator = httptest.NewServer(mcpserver.NewStreamableHTTPServer(calculator.NewServer()))

	ts.Config, err = config.OpenStore(filepath.Join(tempDir, "config"))
	if err != nil {
		return nil, err
	}
	if err := ts.Config.SetSecret("OPENAI_API_KEY", "test-key"); err != nil {
		return nil, err
	}
	if err := ts.Config.SetParam("OPENAI_HOST", ts.MockLLM.URL()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry := provider.DefaultRegistry()
	prov, err := registry.Create(ctx, "openai", ts.Config, provider.ModelConfig{Model: "mock-gpt-4"})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	ts.extensions = mcp.NewClient()
	err = ts.extensions.AddServer(ctx, "calc", &mcp.Config{
		Enabled: true,
		Type:    mcp.TransportTypeRemote,
		URL:     ts.calculator.URL + "/mcp",
		Timeout: 10000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect calculator: %w", err)
	}

	ts.Bus = event.NewBus()
	ts.Agent = agent.New(agent.Options{
		Provider: prov,
		ToolHost: ts.extensions,
		Bus:      ts.Bus,
		Mode:     cfg.mode,
	})
	ts.Sessions = session.NewFileStore(filepath.Join(tempDir, "storage"))
	ts.Transport = session.NewTransport(session.TransportOptions{
		Agent:     ts.Agent,
		Store:     ts.Sessions,
		Bus:       ts.Bus,
		Heartbeat: cfg.heartbeat,
	})

	srvConfig := server.DefaultConfig()
	srvConfig.SecretKey = cfg.secret
	srv := server.New(srvConfig, server.Deps{
		Agent:      ts.Agent,
		Transport:  ts.Transport,
		Sessions:   ts.Sessions,
		Extensions: ts.extensions,
		Config:     ts.Config,
		Providers:  registry,
		Bus:        ts.Bus,
	})
	ts.httpServer = httptest.NewServer(srv.Handler())
	ts.BaseURL = ts.httpServer.URL

	ok = true
	return ts, nil
}

// Client returns a client authenticated with the server's secret.
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL, ts.Secret)
}

// Stop shuts everything down and removes the temp directory.
func (ts *TestServer) Stop() {
	if ts.httpServer != nil {
		ts.httpServer.Close()
	}
	if ts.Transport != nil {
		ts.Transport.Wait()
	}
	if ts.extensions != nil {
		ts.extensions.Close()
	}
	if ts.calculator != nil {
		ts.calculator.Close()
	}
	if ts.MockLLM != nil {
		ts.MockLLM.Close()
	}
	if ts.tempDir != "" {
		os.RemoveAll(ts.tempDir)
	}
}
