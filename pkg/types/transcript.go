package types

import (
	"errors"
	"fmt"
)

// ErrOrphanToolResponse is returned when a tool response has no matching request.
var ErrOrphanToolResponse = errors.New("tool response without prior request")

// ValidateTranscript checks that every tool response answers a tool request
// (or frontend tool request) that appears earlier in the transcript.
func ValidateTranscript(messages []Message) error {
	requested := make(map[string]struct{})
	for i, msg := range messages {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			return fmt.Errorf("message %d: invalid role %q", i, msg.Role)
		}
		for _, c := range msg.Content {
			switch block := c.(type) {
			case *ToolRequest:
				requested[block.ID] = struct{}{}
			case *FrontendToolRequest:
				requested[block.ID] = struct{}{}
			case *ToolResponse:
				if _, ok := requested[block.ID]; !ok {
					return fmt.Errorf("message %d: %w: %s", i, ErrOrphanToolResponse, block.ID)
				}
			}
		}
	}
	return nil
}

// CloneMessages returns a copy of the slice. Messages themselves are shared
// since they are never mutated in place.
func CloneMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
