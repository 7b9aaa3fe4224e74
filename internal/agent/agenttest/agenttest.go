// Package agenttest provides a scripted provider and an in-memory tool host
// for exercising the reply loop without a network.
package agenttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentd/internal/provider"
	"github.com/opencode-ai/agentd/pkg/types"
)

// Turn produces the provider's answer to one request.
type Turn func(messages []types.Message) (types.Message, error)

// Text answers with a single text block.
func Text(text string) Turn {
	return func([]types.Message) (types.Message, error) {
		return types.AssistantText(text), nil
	}
}

// Call is a tool request the scripted model makes.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolCalls answers with tool requests.
func ToolCalls(calls ...Call) Turn {
	return func([]types.Message) (types.Message, error) {
		content := make([]types.Content, len(calls))
		for i, c := range calls {
			args := c.Args
			if args == nil {
				args = map[string]any{}
			}
			content[i] = types.NewToolRequest(c.ID, types.ToolCall{Name: c.Name, Arguments: args})
		}
		return types.NewAssistantMessage(content...), nil
	}
}

// Fail answers with err.
func Fail(err error) Turn {
	return func([]types.Message) (types.Message, error) {
		return types.Message{}, err
	}
}

// Request is what the provider received on one call.
type Request struct {
	System   string
	Messages []types.Message
	Tools    []types.Tool
}

// Provider plays back a script of turns. A call past the end of the script
// fails with a request error.
type Provider struct {
	Model     string
	Streaming bool
	Retry     provider.RetryConfig

	mu       sync.Mutex
	script   []Turn
	requests []Request
}

// NewProvider creates a provider that answers with the given turns in order.
func NewProvider(model string, script ...Turn) *Provider {
	return &Provider{
		Model:  model,
		Retry:  provider.RetryConfig{MaxRetries: 2, InitialIntervalMS: 1, MaxIntervalMS: 5},
		script: script,
	}
}

func (p *Provider) Metadata() provider.Metadata {
	return provider.Metadata{Name: "scripted", DisplayName: "Scripted", DefaultModel: p.Model}
}

func (p *Provider) ModelConfig() provider.ModelConfig { return provider.ModelConfig{Model: p.Model} }

func (p *Provider) RetryConfig() provider.RetryConfig { return p.Retry }

func (p *Provider) SupportsStreaming() bool { return p.Streaming }

func (p *Provider) next(system string, messages []types.Message, tools []types.Tool) (types.Message, error) {
	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, Request{System: system, Messages: types.CloneMessages(messages), Tools: tools})
	var turn Turn
	if n < len(p.script) {
		turn = p.script[n]
	}
	p.mu.Unlock()

	if turn == nil {
		return types.Message{}, provider.NewError(provider.KindRequestFailed, "unexpected call %d", n+1)
	}
	return turn(messages)
}

func (p *Provider) Complete(ctx context.Context, system string, messages []types.Message, tools []types.Tool) (types.Message, provider.ProviderUsage, error) {
	msg, err := p.next(system, messages, tools)
	if err != nil {
		return types.Message{}, provider.ProviderUsage{}, err
	}
	return msg, provider.ProviderUsage{Model: p.Model, Usage: types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}, nil
}

// Stream replays the text of the scripted message as one chunk per word.
// Scripted tool requests are only supported by Complete.
func (p *Provider) Stream(ctx context.Context, system string, messages []types.Message, tools []types.Tool) (*provider.MessageStream, error) {
	msg, err := p.next(system, messages, tools)
	if err != nil {
		return nil, err
	}
	if msg.HasToolRequests() {
		return nil, fmt.Errorf("scripted streams cannot carry tool requests")
	}
	var chunks []*schema.Message
	for i, word := range splitWords(msg.Text()) {
		if i > 0 {
			word = " " + word
		}
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, Content: word})
	}
	return provider.NewMessageStream(schema.StreamReaderFromArray(chunks), p.Model), nil
}

func splitWords(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// Requests returns every request received so far.
func (p *Provider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// Calls returns the number of requests received so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// ToolHost is an in-memory tool host. Handlers run synchronously inside
// CallTool; notifications queued with Notify are delivered to subscribers
// before the handler runs.
type ToolHost struct {
	mu       sync.Mutex
	tools    []types.Tool
	handlers map[string]func(args map[string]any) (types.ToolResult, error)
	notes    map[string][]types.Notification
	delays   map[string]time.Duration
	calls    []types.ToolCall
	subs     map[int]chan types.Notification
	nextSub  int
}

// NewToolHost creates an empty host.
func NewToolHost() *ToolHost {
	return &ToolHost{
		handlers: make(map[string]func(map[string]any) (types.ToolResult, error)),
		notes:    make(map[string][]types.Notification),
		delays:   make(map[string]time.Duration),
		subs:     make(map[int]chan types.Notification),
	}
}

// Handle declares a tool and its handler.
func (h *ToolHost) Handle(name string, fn func(args map[string]any) (types.ToolResult, error)) *ToolHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools = append(h.tools, types.Tool{
		Name:        name,
		Description: "test tool " + name,
		InputSchema: []byte(`{"type":"object","properties":{}}`),
	})
	h.handlers[name] = fn
	return h
}

// Returns declares a tool answering with a fixed text.
func (h *ToolHost) Returns(name, text string) *ToolHost {
	return h.Handle(name, func(map[string]any) (types.ToolResult, error) {
		return types.Success(types.NewText(text)), nil
	})
}

// Delay makes calls to name sleep first.
func (h *ToolHost) Delay(name string, d time.Duration) *ToolHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delays[name] = d
	return h
}

// Notify queues a notification sent whenever name is called.
func (h *ToolHost) Notify(name string, n types.Notification) *ToolHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notes[name] = append(h.notes[name], n)
	return h
}

func (h *ToolHost) ListTools(ctx context.Context) ([]types.Tool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Tool(nil), h.tools...), nil
}

func (h *ToolHost) CallTool(ctx context.Context, name string, args map[string]any) (types.ToolResult, error) {
	h.mu.Lock()
	h.calls = append(h.calls, types.ToolCall{Name: name, Arguments: args})
	fn := h.handlers[name]
	delay := h.delays[name]
	notes := h.notes[name]
	for _, n := range notes {
		for _, ch := range h.subs {
			select {
			case ch <- n:
			default:
			}
		}
	}
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return types.ToolResult{}, ctx.Err()
		}
	}
	if fn == nil {
		return types.ToolResult{}, fmt.Errorf("tool not found: %s", name)
	}
	return fn(args)
}

func (h *ToolHost) Subscribe() (<-chan types.Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	ch := make(chan types.Notification, 16)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Calls returns every call received so far.
func (h *ToolHost) Calls() []types.ToolCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.ToolCall(nil), h.calls...)
}

// Subscribers returns the number of open subscriptions.
func (h *ToolHost) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
