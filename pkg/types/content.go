package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content is one block of a Message.
type Content interface {
	ContentType() string
}

// Content type tags.
const (
	ContentTypeText                    = "text"
	ContentTypeImage                   = "image"
	ContentTypeThinking                = "thinking"
	ContentTypeRedactedThinking        = "redactedThinking"
	ContentTypeToolRequest             = "toolRequest"
	ContentTypeToolResponse            = "toolResponse"
	ContentTypeToolConfirmationRequest = "toolConfirmationRequest"
	ContentTypeFrontendToolRequest     = "frontendToolRequest"
	ContentTypeContextLengthExceeded   = "contextLengthExceeded"
	ContentTypeSummarizationRequested  = "summarizationRequested"
)

// TextContent is plain text.
type TextContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

func (c *TextContent) ContentType() string { return ContentTypeText }

// ImageContent is a base64 encoded image.
type ImageContent struct {
	Type     string `json:"type"` // always "image"
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

func (c *ImageContent) ContentType() string { return ContentTypeImage }

// ThinkingContent is model reasoning returned alongside the answer.
type ThinkingContent struct {
	Type      string `json:"type"` // always "thinking"
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

func (c *ThinkingContent) ContentType() string { return ContentTypeThinking }

// RedactedThinkingContent is reasoning the vendor returned in opaque form.
type RedactedThinkingContent struct {
	Type string `json:"type"` // always "redactedThinking"
	Data string `json:"data"`
}

func (c *RedactedThinkingContent) ContentType() string { return ContentTypeRedactedThinking }

// ToolCall names a tool and the arguments to invoke it with.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolRequest is a model's request to run a tool. Error is set instead of
// ToolCall when the model produced a call that could not be decoded.
type ToolRequest struct {
	Type     string    `json:"type"` // always "toolRequest"
	ID       string    `json:"id"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func (c *ToolRequest) ContentType() string { return ContentTypeToolRequest }

// ToolResponse answers the ToolRequest with the same ID.
type ToolResponse struct {
	Type       string     `json:"type"` // always "toolResponse"
	ID         string     `json:"id"`
	ToolResult ToolResult `json:"toolResult"`
}

func (c *ToolResponse) ContentType() string { return ContentTypeToolResponse }

// ToolConfirmationRequest asks the user to approve a pending tool call.
type ToolConfirmationRequest struct {
	Type      string         `json:"type"` // always "toolConfirmationRequest"
	ID        string         `json:"id"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
	Prompt    string         `json:"prompt,omitempty"`
}

func (c *ToolConfirmationRequest) ContentType() string { return ContentTypeToolConfirmationRequest }

// FrontendToolRequest asks the client to execute a tool it registered.
type FrontendToolRequest struct {
	Type     string    `json:"type"` // always "frontendToolRequest"
	ID       string    `json:"id"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func (c *FrontendToolRequest) ContentType() string { return ContentTypeFrontendToolRequest }

// ContextLengthExceeded marks a conversation that no longer fits the model.
type ContextLengthExceeded struct {
	Type string `json:"type"` // always "contextLengthExceeded"
	Msg  string `json:"msg"`
}

func (c *ContextLengthExceeded) ContentType() string { return ContentTypeContextLengthExceeded }

// SummarizationRequested marks a conversation the client should summarize.
type SummarizationRequested struct {
	Type string `json:"type"` // always "summarizationRequested"
	Msg  string `json:"msg"`
}

func (c *SummarizationRequested) ContentType() string { return ContentTypeSummarizationRequested }

// NewText creates a text block.
func NewText(text string) *TextContent {
	return &TextContent{Type: ContentTypeText, Text: text}
}

// NewImage creates an image block.
func NewImage(data, mimeType string) *ImageContent {
	return &ImageContent{Type: ContentTypeImage, Data: data, MimeType: mimeType}
}

// NewThinking creates a thinking block.
func NewThinking(thinking, signature string) *ThinkingContent {
	return &ThinkingContent{Type: ContentTypeThinking, Thinking: thinking, Signature: signature}
}

// NewRedactedThinking creates a redacted thinking block.
func NewRedactedThinking(data string) *RedactedThinkingContent {
	return &RedactedThinkingContent{Type: ContentTypeRedactedThinking, Data: data}
}

// NewToolRequest creates a tool request block.
func NewToolRequest(id string, call ToolCall) *ToolRequest {
	return &ToolRequest{Type: ContentTypeToolRequest, ID: id, ToolCall: &call}
}

// NewInvalidToolRequest creates a tool request block for a call that could not be decoded.
func NewInvalidToolRequest(id, reason string) *ToolRequest {
	return &ToolRequest{Type: ContentTypeToolRequest, ID: id, Error: reason}
}

// NewToolResponse creates a tool response block.
func NewToolResponse(id string, result ToolResult) *ToolResponse {
	return &ToolResponse{Type: ContentTypeToolResponse, ID: id, ToolResult: result}
}

// NewToolConfirmationRequest creates a confirmation request block.
func NewToolConfirmationRequest(id, toolName string, args map[string]any, prompt string) *ToolConfirmationRequest {
	return &ToolConfirmationRequest{
		Type:      ContentTypeToolConfirmationRequest,
		ID:        id,
		ToolName:  toolName,
		Arguments: args,
		Prompt:    prompt,
	}
}

// NewFrontendToolRequest creates a frontend tool request block.
func NewFrontendToolRequest(id string, call ToolCall) *FrontendToolRequest {
	return &FrontendToolRequest{Type: ContentTypeFrontendToolRequest, ID: id, ToolCall: &call}
}

// NewContextLengthExceeded creates a context length marker.
func NewContextLengthExceeded(msg string) *ContextLengthExceeded {
	return &ContextLengthExceeded{Type: ContentTypeContextLengthExceeded, Msg: msg}
}

// NewSummarizationRequested creates a summarization marker.
func NewSummarizationRequested(msg string) *SummarizationRequested {
	return &SummarizationRequested{Type: ContentTypeSummarizationRequested, Msg: msg}
}

// rawContent is used to peek at the type tag.
type rawContent struct {
	Type string `json:"type"`
}

// UnmarshalContent decodes a single content block using its type tag.
func UnmarshalContent(data []byte) (Content, error) {
	var raw rawContent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var c Content
	switch raw.Type {
	case ContentTypeText:
		c = &TextContent{}
	case ContentTypeImage:
		c = &ImageContent{}
	case ContentTypeThinking:
		c = &ThinkingContent{}
	case ContentTypeRedactedThinking:
		c = &RedactedThinkingContent{}
	case ContentTypeToolRequest:
		c = &ToolRequest{}
	case ContentTypeToolResponse:
		c = &ToolResponse{}
	case ContentTypeToolConfirmationRequest:
		c = &ToolConfirmationRequest{}
	case ContentTypeFrontendToolRequest:
		c = &FrontendToolRequest{}
	case ContentTypeContextLengthExceeded:
		c = &ContextLengthExceeded{}
	case ContentTypeSummarizationRequested:
		c = &SummarizationRequested{}
	default:
		return nil, fmt.Errorf("unknown content type %q", raw.Type)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode %s content: %w", raw.Type, err)
	}
	return c, nil
}

// unmarshalContentList decodes a JSON array of content blocks.
func unmarshalContentList(data []byte) ([]Content, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	content := make([]Content, 0, len(raws))
	for _, raw := range raws {
		c, err := UnmarshalContent(raw)
		if err != nil {
			return nil, err
		}
		content = append(content, c)
	}
	return content, nil
}

// ToolStatus is the outcome of a tool call.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// ToolResult is the success-or-failure outcome of a tool call.
type ToolResult struct {
	Status ToolStatus `json:"status"`
	Value  []Content  `json:"value,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Success builds a successful result.
func Success(content ...Content) ToolResult {
	return ToolResult{Status: ToolStatusSuccess, Value: content}
}

// Failure builds a failed result.
func Failure(format string, args ...any) ToolResult {
	return ToolResult{Status: ToolStatusError, Error: fmt.Sprintf(format, args...)}
}

// IsError reports whether the call failed.
func (r ToolResult) IsError() bool {
	return r.Status == ToolStatusError
}

// Text returns the text a model should see for this result.
func (r ToolResult) Text() string {
	if r.IsError() {
		return "Error: " + r.Error
	}
	var parts []string
	for _, c := range r.Value {
		if t, ok := c.(*TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// UnmarshalJSON decodes the polymorphic value list.
func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		Status ToolStatus      `json:"status"`
		Value  json.RawMessage `json:"value"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch aux.Status {
	case ToolStatusSuccess, ToolStatusError:
	default:
		return fmt.Errorf("invalid tool result status %q", aux.Status)
	}

	r.Status = aux.Status
	r.Error = aux.Error
	r.Value = nil
	if len(aux.Value) > 0 && string(aux.Value) != "null" {
		value, err := unmarshalContentList(aux.Value)
		if err != nil {
			return err
		}
		r.Value = value
	}
	return nil
}
