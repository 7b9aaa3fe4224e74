package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opencode-ai/agentd/internal/server"
	"github.com/opencode-ai/agentd/internal/session"
	"github.com/opencode-ai/agentd/pkg/types"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL, secret string) *TestClient {
	return &TestClient{
		BaseURL:    baseURL,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete performs HTTP DELETE request
func (c *TestClient) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *TestClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Secret != "" {
		req.Header.Set(server.SecretKeyHeader, c.Secret)
	}
	return req, nil
}

func (c *TestClient) do(ctx context.Context, method, path string, body any) (*Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

// ReplyOptions shapes a /reply request.
type ReplyOptions struct {
	SessionID string
	Mode      string
	// OnMessage is called for every Message event before the next event is
	// read, so it may answer confirmations and frontend tool requests.
	OnMessage func(types.Message)
}

// ReplyResult is the decoded event stream of one reply.
type ReplyResult struct {
	StatusCode int
	Events     []session.Event
}

// Messages returns the messages of the stream in order.
func (r *ReplyResult) Messages() []types.Message {
	var out []types.Message
	for _, ev := range r.Events {
		if ev.Type == session.EventMessage {
			out = append(out, ev.Message)
		}
	}
	return out
}

// Finish returns the finish reason, or "" when the stream ended without one.
func (r *ReplyResult) Finish() string {
	for _, ev := range r.Events {
		if ev.Type == session.EventFinish {
			return ev.Reason
		}
	}
	return ""
}

// FinalText returns the text of the last assistant message.
func (r *ReplyResult) FinalText() string {
	msgs := r.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleAssistant && msgs[i].Text() != "" {
			return msgs[i].Text()
		}
	}
	return ""
}

// Reply posts messages to /reply and reads the event stream until Finish.
func (c *TestClient) Reply(ctx context.Context, messages []types.Message, opts ReplyOptions) (*ReplyResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/reply", session.ReplyRequest{
		Messages:  messages,
		SessionID: opts.SessionID,
		Mode:      opts.Mode,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	stream := &http.Client{}
	resp, err := stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	result := &ReplyResult{StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		return result, nil
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return nil, fmt.Errorf("unexpected content type: %s", ct)
	}

	err = readSSE(resp.Body, func(data []byte) (bool, error) {
		var ev session.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return false, fmt.Errorf("decode event %s: %w", data, err)
		}
		result.Events = append(result.Events, ev)
		if ev.Type == session.EventMessage && opts.OnMessage != nil {
			opts.OnMessage(ev.Message)
		}
		return ev.Type == session.EventFinish, nil
	})
	return result, err
}

// Confirm answers a ToolConfirmationRequest.
func (c *TestClient) Confirm(ctx context.Context, id, action string) error {
	resp, err := c.Post(ctx, "/confirm", server.ConfirmRequest{ID: id, PrincipalType: "tool", Action: action})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("confirm: %d %s", resp.StatusCode, resp.String())
	}
	return nil
}

// SubmitToolResult answers a FrontendToolRequest.
func (c *TestClient) SubmitToolResult(ctx context.Context, id string, result types.ToolResult) error {
	resp, err := c.Post(ctx, "/tool_result", server.ToolResultRequest{ID: id, Result: result})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("tool_result: %d %s", resp.StatusCode, resp.String())
	}
	return nil
}

// Session fetches a persisted session.
func (c *TestClient) Session(ctx context.Context, id string) (*server.SessionResponse, error) {
	resp, err := c.Get(ctx, "/sessions/"+id)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("get session: %d %s", resp.StatusCode, resp.String())
	}
	var out server.SessionResponse
	return &out, resp.JSON(&out)
}

// readSSE calls fn with the data of every event until fn reports done or
// the stream ends. Comment lines (heartbeats) are skipped.
func readSSE(body io.Reader, fn func(data []byte) (bool, error)) error {
	reader := bufio.NewReader(body)
	var data strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			done, err := fn([]byte(data.String()))
			data.Reset()
			if err != nil || done {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
