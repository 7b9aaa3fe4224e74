package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentd/internal/logging"
	"github.com/opencode-ai/agentd/pkg/types"
)

const (
	defaultConnectTimeout = 5 * time.Second
	subscriberBuffer      = 64
)

// Client manages MCP server connections using the official MCP SDK. It is
// the agent's ToolHost: tools of every connected server are exposed as
// <server>__<tool>.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*mcpServer
	sessions  map[*sdkmcp.ClientSession]string
	sdkClient *sdkmcp.Client

	subMu       sync.RWMutex
	subscribers map[int]chan types.Notification
	nextSub     int

	log zerolog.Logger
}

// mcpServer represents a connected MCP server.
type mcpServer struct {
	name       string
	config     *Config
	session    *sdkmcp.ClientSession
	tools      []types.Tool
	status     Status
	error      string
	serverInfo *ServerInfo
}

// NewClient creates a new MCP client.
func NewClient() *Client {
	c := &Client{
		servers:     make(map[string]*mcpServer),
		sessions:    make(map[*sdkmcp.ClientSession]string),
		subscribers: make(map[int]chan types.Notification),
		log:         logging.Component("mcp"),
	}
	c.sdkClient = sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "agentd",
		Version: "1.0.0",
	}, &sdkmcp.ClientOptions{
		LoggingMessageHandler:       c.onLoggingMessage,
		ProgressNotificationHandler: c.onProgress,
	})
	return c
}

// AddServer adds and connects to an MCP server.
func (c *Client) AddServer(ctx context.Context, name string, config *Config) error {
	c.mu.Lock()
	if _, ok := c.servers[name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("server already exists: %s", name)
	}
	server := &mcpServer{name: name, config: config, status: StatusConnecting}
	if !config.Enabled {
		server.status = StatusDisabled
	}
	c.servers[name] = server
	c.mu.Unlock()

	if !config.Enabled {
		return nil
	}

	session, err := c.connectServer(ctx, config)
	if err == nil {
		err = c.attach(ctx, server, session, connectTimeout(config))
	}
	if err != nil {
		c.mu.Lock()
		server.status = StatusFailed
		server.error = err.Error()
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("server", name).Msg("failed to connect MCP server")
		return err
	}
	c.log.Info().Str("server", name).Int("tools", len(server.tools)).Msg("MCP server connected")
	return nil
}

// AddTransport connects a server over an already constructed transport,
// such as an in-memory transport.
func (c *Client) AddTransport(ctx context.Context, name string, transport sdkmcp.Transport) error {
	c.mu.Lock()
	if _, ok := c.servers[name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("server already exists: %s", name)
	}
	server := &mcpServer{name: name, config: &Config{Enabled: true}, status: StatusConnecting}
	c.servers[name] = server
	c.mu.Unlock()

	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err == nil {
		err = c.attach(ctx, server, session, defaultConnectTimeout)
	}
	if err != nil {
		c.mu.Lock()
		server.status = StatusFailed
		server.error = err.Error()
		c.mu.Unlock()
		return err
	}
	return nil
}

func connectTimeout(config *Config) time.Duration {
	if config.Timeout > 0 {
		return time.Duration(config.Timeout) * time.Millisecond
	}
	return defaultConnectTimeout
}

// connectServer establishes a session using the configured transport.
// Remote servers try streamable HTTP first and fall back to SSE.
func (c *Client) connectServer(ctx context.Context, config *Config) (*sdkmcp.ClientSession, error) {
	timeout := connectTimeout(config)

	switch config.Type {
	case TransportTypeRemote:
		if config.URL == "" {
			return nil, fmt.Errorf("remote server requires a url")
		}
		httpClient := httpClientWithHeaders(nil, config.Headers)
		candidates := []struct {
			name      string
			transport sdkmcp.Transport
		}{
			{name: "streamable", transport: &sdkmcp.StreamableClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
			{name: "sse", transport: &sdkmcp.SSEClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
		}

		var lastErr error
		for _, candidate := range candidates {
			connectCtx, cancel := context.WithTimeout(ctx, timeout)
			session, err := c.sdkClient.Connect(connectCtx, candidate.transport, nil)
			cancel()
			if err != nil {
				lastErr = fmt.Errorf("%s transport: %w", candidate.name, err)
				continue
			}
			return session, nil
		}
		return nil, lastErr

	case TransportTypeLocal, TransportTypeStdio:
		if len(config.Command) == 0 {
			return nil, fmt.Errorf("empty command")
		}

		cmd := exec.Command(config.Command[0], config.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range config.Environment {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}

		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		session, err := c.sdkClient.Connect(connectCtx, &sdkmcp.CommandTransport{Command: cmd}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		return session, nil

	default:
		return nil, fmt.Errorf("unknown transport type: %s", config.Type)
	}
}

// attach records a live session and loads its tool list.
func (c *Client) attach(ctx context.Context, server *mcpServer, session *sdkmcp.ClientSession, timeout time.Duration) error {
	c.mu.Lock()
	c.sessions[session] = server.name
	c.mu.Unlock()

	listCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tools, err := listSessionTools(listCtx, session)
	if err != nil {
		c.mu.Lock()
		delete(c.sessions, session)
		c.mu.Unlock()
		_ = session.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	server.session = session
	server.tools = tools
	server.status = StatusConnected
	server.error = ""
	if initResult := session.InitializeResult(); initResult != nil && initResult.ServerInfo != nil {
		server.serverInfo = &ServerInfo{
			Name:    initResult.ServerInfo.Name,
			Version: initResult.ServerInfo.Version,
		}
	}
	return nil
}

func listSessionTools(ctx context.Context, session *sdkmcp.ClientSession) ([]types.Tool, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	tools := make([]types.Tool, len(result.Tools))
	for i, t := range result.Tools {
		tools[i] = FromSDKTool(t)
	}
	return tools, nil
}

func httpClientWithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}

	// Copy to avoid mutating caller-provided client
	client := *base
	client.Timeout = 0 // no global timeout; rely on per-request contexts

	if len(headers) == 0 {
		return &client
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &headerRoundTripper{headers: headers, next: transport}
	return &client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}

// connected returns connected servers sorted by name.
func (c *Client) connected() []*mcpServer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*mcpServer, 0, len(c.servers))
	for _, s := range c.servers {
		if s.status == StatusConnected && s.session != nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// ListTools returns the tools of every connected server, namespaced by server.
func (c *Client) ListTools(ctx context.Context) ([]types.Tool, error) {
	var out []types.Tool
	for _, server := range c.connected() {
		c.mu.RLock()
		tools := server.tools
		c.mu.RUnlock()
		for _, t := range tools {
			t.Name = QualifiedName(server.name, t.Name)
			out = append(out, t)
		}
	}
	return out, nil
}

// RefreshTools reloads the tool list of one server.
func (c *Client) RefreshTools(ctx context.Context, name string) error {
	server, err := c.server(name)
	if err != nil {
		return err
	}
	tools, err := listSessionTools(ctx, server.session)
	if err != nil {
		return err
	}
	c.mu.Lock()
	server.tools = tools
	c.mu.Unlock()
	return nil
}

func (c *Client) server(name string) (*mcpServer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for serverName, s := range c.servers {
		if serverName == name || sanitizeName(serverName) == name {
			if s.status != StatusConnected || s.session == nil {
				return nil, fmt.Errorf("server not connected: %s", name)
			}
			return s, nil
		}
	}
	return nil, fmt.Errorf("server not found: %s", name)
}

// CallTool invokes <server>__<tool>. A tool that reports IsError yields a
// failed result, not an error; errors are reserved for protocol failures.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (types.ToolResult, error) {
	serverName, toolName, ok := SplitName(name)
	if !ok {
		return types.ToolResult{}, fmt.Errorf("tool name %q is not namespaced by a server", name)
	}
	server, err := c.server(serverName)
	if err != nil {
		return types.ToolResult{}, err
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := server.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return types.ToolResult{}, fmt.Errorf("call %s: %w", name, err)
	}
	return toolResultFromSDK(result), nil
}

// ListResources lists the resources of every connected server. Servers that
// fail or lack resource support are skipped.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var out []Resource
	for _, server := range c.connected() {
		result, err := server.session.ListResources(ctx, nil)
		if err != nil {
			c.log.Debug().Err(err).Str("server", server.name).Msg("list resources failed")
			continue
		}
		for _, r := range result.Resources {
			res := FromSDKResource(r)
			res.URI = fmt.Sprintf("mcp://%s/%s", server.name, r.URI)
			out = append(out, res)
		}
	}
	return out, nil
}

// ReadResource reads an mcp://<server>/<uri> resource.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]ResourceContent, error) {
	if !strings.HasPrefix(uri, "mcp://") {
		return nil, fmt.Errorf("invalid MCP URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "mcp://"), "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid MCP URI format: %s", uri)
	}

	server, err := c.server(parts[0])
	if err != nil {
		return nil, err
	}
	result, err := server.session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: parts[1]})
	if err != nil {
		return nil, err
	}

	out := make([]ResourceContent, len(result.Contents))
	for i, rc := range result.Contents {
		out[i] = ResourceContent{URI: rc.URI, MimeType: rc.MIMEType, Text: rc.Text, Blob: rc.Blob}
	}
	return out, nil
}

// ListPrompts lists the prompts of every connected server, namespaced by server.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var out []Prompt
	for _, server := range c.connected() {
		result, err := server.session.ListPrompts(ctx, nil)
		if err != nil {
			c.log.Debug().Err(err).Str("server", server.name).Msg("list prompts failed")
			continue
		}
		for _, p := range result.Prompts {
			prompt := FromSDKPrompt(p)
			prompt.Name = QualifiedName(server.name, p.Name)
			out = append(out, prompt)
		}
	}
	return out, nil
}

// GetPrompt renders <server>__<prompt> with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptResult, error) {
	serverName, promptName, ok := SplitName(name)
	if !ok {
		return nil, fmt.Errorf("prompt name %q is not namespaced by a server", name)
	}
	server, err := c.server(serverName)
	if err != nil {
		return nil, err
	}

	result, err := server.session.GetPrompt(ctx, &sdkmcp.GetPromptParams{Name: promptName, Arguments: args})
	if err != nil {
		return nil, err
	}

	out := &PromptResult{Description: result.Description}
	for _, m := range result.Messages {
		text := ""
		if tc, ok := m.Content.(*sdkmcp.TextContent); ok {
			text = tc.Text
		}
		out.Messages = append(out.Messages, PromptMessage{Role: string(m.Role), Text: text})
	}
	return out, nil
}

// Status returns the status of all MCP servers sorted by name.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := make([]ServerStatus, 0, len(c.servers))
	for name, server := range c.servers {
		status = append(status, server.statusLocked(name))
	}
	sort.Slice(status, func(i, j int) bool { return status[i].Name < status[j].Name })
	return status
}

// GetServer returns information about a specific server.
func (c *Client) GetServer(name string) (*ServerStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	server, ok := c.servers[name]
	if !ok {
		return nil, fmt.Errorf("server not found: %s", name)
	}
	s := server.statusLocked(name)
	return &s, nil
}

func (s *mcpServer) statusLocked(name string) ServerStatus {
	out := ServerStatus{
		Name:       name,
		Status:     s.status,
		ToolCount:  len(s.tools),
		ServerInfo: s.serverInfo,
	}
	if s.error != "" {
		msg := s.error
		out.Error = &msg
	}
	return out
}

// RemoveServer removes and disconnects a server.
func (c *Client) RemoveServer(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.servers[name]
	if !ok {
		return fmt.Errorf("server not found: %s", name)
	}
	if server.session != nil {
		delete(c.sessions, server.session)
		_ = server.session.Close()
	}
	delete(c.servers, name)
	return nil
}

// Close disconnects all servers and closes every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, server := range c.servers {
		if server.session != nil {
			_ = server.session.Close()
		}
	}
	c.servers = make(map[string]*mcpServer)
	c.sessions = make(map[*sdkmcp.ClientSession]string)
	c.mu.Unlock()

	c.subMu.Lock()
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
	c.subMu.Unlock()
	return nil
}

// Subscribe returns a channel of server notifications and a function that
// ends the subscription.
func (c *Client) Subscribe() (<-chan types.Notification, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan types.Notification, subscriberBuffer)
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				close(sub)
				delete(c.subscribers, id)
			}
		})
	}
}

// broadcast delivers n to every subscriber that has room; full subscribers
// miss it.
func (c *Client) broadcast(n types.Notification) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for id, ch := range c.subscribers {
		select {
		case ch <- n:
		default:
			c.log.Debug().Int("subscriber", id).Str("method", n.Method).Msg("subscriber full, dropping notification")
		}
	}
}

func (c *Client) serverFor(session *sdkmcp.ClientSession) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[session]
}

func (c *Client) onLoggingMessage(ctx context.Context, req *sdkmcp.LoggingMessageRequest) {
	c.notify(req.Session, "notifications/message", req.Params)
}

func (c *Client) onProgress(ctx context.Context, req *sdkmcp.ProgressNotificationClientRequest) {
	c.notify(req.Session, "notifications/progress", req.Params)
}

func (c *Client) notify(session *sdkmcp.ClientSession, method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Msg("dropping unencodable notification")
		return
	}
	c.broadcast(types.Notification{
		Server: c.serverFor(session),
		Method: method,
		Params: raw,
	})
}
