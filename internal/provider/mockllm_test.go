package provider_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// mockReply is one scripted answer of the mock LLM server. A non-zero Status
// produces a vendor error body instead of a completion.
type mockReply struct {
	Status    int
	Error     string
	Content   string
	ToolCalls []mockToolCall
}

type mockToolCall struct {
	ID        string
	Name      string
	Arguments string
}

type recordedRequest struct {
	Path    string
	Headers http.Header
	Body    map[string]any
}

// mockLLM mimics the OpenAI chat completions and Anthropic messages APIs.
// Replies are served in order; the last one repeats.
type mockLLM struct {
	server *httptest.Server

	mu       sync.Mutex
	script   []mockReply
	requests []recordedRequest
}

func newMockLLM(script ...mockReply) *mockLLM {
	m := &mockLLM{script: script}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *mockLLM) URL() string { return m.server.URL }

func (m *mockLLM) Close() { m.server.Close() }

func (m *mockLLM) Requests() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

func (m *mockLLM) next(r *http.Request) (mockReply, map[string]any, bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return mockReply{}, nil, false
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return mockReply{}, nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{Path: r.URL.Path, Headers: r.Header.Clone(), Body: body})

	reply := mockReply{Content: "ok"}
	if len(m.script) > 0 {
		reply = m.script[0]
		if len(m.script) > 1 {
			m.script = m.script[1:]
		}
	}
	return reply, body, true
}

func (m *mockLLM) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reply, body, ok := m.next(r)
	if !ok {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	stream, _ := body["stream"].(bool)

	switch {
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		if reply.Status != 0 {
			writeJSON(w, reply.Status, map[string]any{
				"error": map[string]any{"message": reply.Error, "type": "invalid_request_error"},
			})
			return
		}
		if stream {
			writeOpenAIStream(w, reply)
			return
		}
		writeJSON(w, http.StatusOK, openAICompletion(reply))
	case strings.HasSuffix(r.URL.Path, "/v1/messages"):
		if reply.Status != 0 {
			writeJSON(w, reply.Status, map[string]any{
				"type":  "error",
				"error": map[string]any{"type": "invalid_request_error", "message": reply.Error},
			})
			return
		}
		writeJSON(w, http.StatusOK, anthropicMessage(reply))
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func openAICompletion(reply mockReply) map[string]any {
	message := map[string]any{"role": "assistant", "content": reply.Content}
	finish := "stop"
	if len(reply.ToolCalls) > 0 {
		calls := make([]map[string]any, len(reply.ToolCalls))
		for i, tc := range reply.ToolCalls {
			calls[i] = map[string]any{
				"id":       tc.ID,
				"type":     "function",
				"function": map[string]any{"name": tc.Name, "arguments": tc.Arguments},
			}
		}
		message["tool_calls"] = calls
		finish = "tool_calls"
	}
	return map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-model",
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": finish}},
		"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
	}
}

func openAIChunk(delta map[string]any, finish any) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   "mock-model",
		"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
	}
}

func writeOpenAIStream(w http.ResponseWriter, reply mockReply) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	send := func(v any) {
		data, _ := json.Marshal(v)
		_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}

	send(openAIChunk(map[string]any{"role": "assistant"}, nil))
	words := strings.Fields(reply.Content)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		send(openAIChunk(map[string]any{"content": word}, nil))
	}
	for i, tc := range reply.ToolCalls {
		half := len(tc.Arguments) / 2
		send(openAIChunk(map[string]any{"tool_calls": []map[string]any{{
			"index": i, "id": tc.ID, "type": "function",
			"function": map[string]any{"name": tc.Name, "arguments": tc.Arguments[:half]},
		}}}, nil))
		send(openAIChunk(map[string]any{"tool_calls": []map[string]any{{
			"index": i, "function": map[string]any{"arguments": tc.Arguments[half:]},
		}}}, nil))
	}
	finish := "stop"
	if len(reply.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	send(openAIChunk(map[string]any{}, finish))
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}

func anthropicMessage(reply mockReply) map[string]any {
	content := []map[string]any{{"type": "text", "text": reply.Content}}
	stop := "end_turn"
	for _, tc := range reply.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(tc.Arguments), &input)
		content = append(content, map[string]any{"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": input})
		stop = "tool_use"
	}
	return map[string]any{
		"id":            "msg_mock",
		"type":          "message",
		"role":          "assistant",
		"model":         "mock-claude",
		"stop_reason":   stop,
		"stop_sequence": nil,
		"content":       content,
		"usage":         map[string]any{"input_tokens": 100, "output_tokens": 50},
	}
}
