package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation. Messages are treated as immutable
// once appended to a transcript; the With* helpers return modified copies.
type Message struct {
	ID      string    `json:"id,omitempty"`
	Role    Role      `json:"role"`
	Created int64     `json:"created"`
	Content []Content `json:"content"`
}

// NewMessageID returns a new sortable message identifier.
func NewMessageID() string {
	return "msg_" + strings.ToLower(ulid.Make().String())
}

// NewMessage creates a message holding exactly the given blocks.
func NewMessage(role Role, content ...Content) Message {
	if content == nil {
		content = []Content{}
	}
	return Message{
		ID:      NewMessageID(),
		Role:    role,
		Created: time.Now().Unix(),
		Content: content,
	}
}

// NewUserMessage creates a user message.
func NewUserMessage(content ...Content) Message {
	return NewMessage(RoleUser, content...)
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content ...Content) Message {
	return NewMessage(RoleAssistant, content...)
}

// UserText is shorthand for a user message with a single text block.
func UserText(text string) Message {
	return NewUserMessage(NewText(text))
}

// AssistantText is shorthand for an assistant message with a single text block.
func AssistantText(text string) Message {
	return NewAssistantMessage(NewText(text))
}

// WithContent returns a copy of m with the blocks appended.
func (m Message) WithContent(content ...Content) Message {
	out := m
	out.Content = make([]Content, 0, len(m.Content)+len(content))
	out.Content = append(out.Content, m.Content...)
	out.Content = append(out.Content, content...)
	return out
}

// WithText returns a copy of m with a text block appended.
func (m Message) WithText(text string) Message {
	return m.WithContent(NewText(text))
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var parts []string
	for _, c := range m.Content {
		if t, ok := c.(*TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolRequests returns the tool request blocks in order.
func (m Message) ToolRequests() []*ToolRequest {
	var out []*ToolRequest
	for _, c := range m.Content {
		if r, ok := c.(*ToolRequest); ok {
			out = append(out, r)
		}
	}
	return out
}

// ToolResponses returns the tool response blocks in order.
func (m Message) ToolResponses() []*ToolResponse {
	var out []*ToolResponse
	for _, c := range m.Content {
		if r, ok := c.(*ToolResponse); ok {
			out = append(out, r)
		}
	}
	return out
}

// HasToolRequests reports whether the model asked for any tool.
func (m Message) HasToolRequests() bool {
	for _, c := range m.Content {
		if _, ok := c.(*ToolRequest); ok {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the message carries no blocks.
func (m Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// UnmarshalJSON decodes the polymorphic content list.
func (m *Message) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID      string          `json:"id"`
		Role    Role            `json:"role"`
		Created int64           `json:"created"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.ID = aux.ID
	m.Role = aux.Role
	m.Created = aux.Created
	m.Content = []Content{}
	if len(aux.Content) > 0 && string(aux.Content) != "null" {
		content, err := unmarshalContentList(aux.Content)
		if err != nil {
			return err
		}
		m.Content = content
	}
	return nil
}
