package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockLLMServer mimics the OpenAI chat completions API, answering from a
// MockLLMConfig.
type MockLLMServer struct {
	server *httptest.Server
	config *MockLLMConfig
	nextID atomic.Int64

	mu       sync.Mutex
	requests []MockRequest
}

// MockRequest records an incoming request for verification.
type MockRequest struct {
	Timestamp time.Time
	Path      string
	Body      map[string]any
}

// LastPrompt returns the text of the last user message in the request.
func (r MockRequest) LastPrompt() string {
	_, prompt := lastMessage(r.Body)
	return prompt
}

// NewMockLLMServer starts a mock LLM server. A nil config selects
// DefaultMockLLMConfig.
func NewMockLLMServer(config *MockLLMConfig) *MockLLMServer {
	if config == nil {
		config = DefaultMockLLMConfig()
	}
	m := &MockLLMServer{config: config}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	})

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's URL.
func (m *MockLLMServer) URL() string { return m.server.URL }

// Close shuts down the mock server.
func (m *MockLLMServer) Close() { m.server.Close() }

// Requests returns all recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// Reset forgets recorded requests.
func (m *MockLLMServer) Reset() {
	m.mu.Lock()
	m.requests = nil
	m.mu.Unlock()
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{Timestamp: time.Now(), Path: r.URL.Path, Body: req})
	m.mu.Unlock()

	if lag := m.config.Settings.LagMS; lag > 0 {
		time.Sleep(time.Duration(lag) * time.Millisecond)
	}

	response := m.generateResponse(req)
	if stream, _ := req["stream"].(bool); stream {
		m.writeStreamingResponse(w, response)
		return
	}
	m.writeResponse(w, response)
}

// mockResponse is a response with optional tool calls.
type mockResponse struct {
	content   string
	toolCalls []toolCall
}

type toolCall struct {
	id        string
	name      string
	arguments string
}

// generateResponse answers a tool result with the tool_result template and
// a user prompt with the first matching tool rule or response rule.
func (m *MockLLMServer) generateResponse(req map[string]any) *mockResponse {
	role, text := lastMessage(req)
	if role == "tool" {
		return &mockResponse{content: m.config.ToolResultResponse(text)}
	}

	if rule := m.config.FindMatchingToolRule(text, extractTools(req)); rule != nil {
		args, err := json.Marshal(rule.ToolCall.Arguments)
		if err != nil || rule.ToolCall.Arguments == nil {
			args = []byte("{}")
		}
		id := rule.ToolCall.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", m.nextID.Add(1))
		}
		return &mockResponse{
			content:   rule.Response,
			toolCalls: []toolCall{{id: id, name: rule.Tool, arguments: string(args)}},
		}
	}

	content, _ := m.config.FindMatchingResponse(text)
	return &mockResponse{content: content}
}

// lastMessage returns the role of the final message and the text of the
// final user message, or of the final tool message when the request ends
// with one.
func lastMessage(req map[string]any) (string, string) {
	messages, _ := req["messages"].([]any)
	if len(messages) == 0 {
		return "", ""
	}
	if last, ok := messages[len(messages)-1].(map[string]any); ok && last["role"] == "tool" {
		return "tool", messageText(last)
	}
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if ok && msg["role"] == "user" {
			return "user", messageText(msg)
		}
	}
	return "", ""
}

// messageText reads string content or joins text parts.
func messageText(msg map[string]any) string {
	switch content := msg["content"].(type) {
	case string:
		return content
	case []any:
		var parts []string
		for _, p := range content {
			if part, ok := p.(map[string]any); ok {
				if text, ok := part["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func extractTools(req map[string]any) []string {
	var names []string
	tools, _ := req["tools"].([]any)
	for _, t := range tools {
		tool, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if fn, ok := tool["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

func (m *MockLLMServer) writeResponse(w http.ResponseWriter, resp *mockResponse) {
	message := map[string]any{"role": "assistant", "content": resp.content}
	finish := "stop"
	if len(resp.toolCalls) > 0 {
		calls := make([]map[string]any, len(resp.toolCalls))
		for i, tc := range resp.toolCalls {
			calls[i] = map[string]any{
				"id":       tc.id,
				"type":     "function",
				"function": map[string]any{"name": tc.name, "arguments": tc.arguments},
			}
		}
		message["tool_calls"] = calls
		finish = "tool_calls"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":      m.completionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt-4",
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": finish}},
		"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
	})
}

func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, resp *mockResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	id := m.completionID()
	send := func(delta map[string]any, finish any, usage map[string]any) {
		chunk := map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-gpt-4",
			"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
		}
		if usage != nil {
			chunk["usage"] = usage
		}
		data, _ := json.Marshal(chunk)
		w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
		if d := m.config.Settings.ChunkDelayMS; d > 0 {
			time.Sleep(time.Duration(d) * time.Millisecond)
		}
	}

	send(map[string]any{"role": "assistant"}, nil, nil)

	words := strings.Fields(resp.content)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		send(map[string]any{"content": word}, nil, nil)
	}
	for i, tc := range resp.toolCalls {
		send(map[string]any{"tool_calls": []map[string]any{{
			"index":    i,
			"id":       tc.id,
			"type":     "function",
			"function": map[string]any{"name": tc.name, "arguments": tc.arguments},
		}}}, nil, nil)
	}

	finish := "stop"
	if len(resp.toolCalls) > 0 {
		finish = "tool_calls"
	}
	send(map[string]any{}, finish, map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150})
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func (m *MockLLMServer) completionID() string {
	return fmt.Sprintf("chatcmpl-mock-%d", m.nextID.Add(1))
}
