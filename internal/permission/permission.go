package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Permission is a user's decision on a confirmation request.
type Permission string

const (
	AlwaysAllow Permission = "always_allow"
	AllowOnce   Permission = "allow_once"
	DenyOnce    Permission = "deny_once"
)

// ParseAction maps a decision string onto a Permission. Anything
// unrecognised, including the empty string, is DenyOnce.
func ParseAction(s string) Permission {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "always_allow", "alwaysallow":
		return AlwaysAllow
	case "allow_once", "allowonce":
		return AllowOnce
	default:
		return DenyOnce
	}
}

// Allowed reports whether the tool may run.
func (p Permission) Allowed() bool {
	return p == AlwaysAllow || p == AllowOnce
}

// UnmarshalJSON decodes fail-closed.
func (p *Permission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*p = DenyOnce
		return nil
	}
	*p = ParseAction(s)
	return nil
}

// PrincipalType says what a grant applies to.
type PrincipalType string

const (
	PrincipalTool      PrincipalType = "tool"
	PrincipalExtension PrincipalType = "extension"
)

// ParsePrincipalType defaults to PrincipalTool.
func ParsePrincipalType(s string) PrincipalType {
	if strings.EqualFold(strings.TrimSpace(s), string(PrincipalExtension)) {
		return PrincipalExtension
	}
	return PrincipalTool
}

// Confirmation resolves a pending ToolConfirmationRequest.
type Confirmation struct {
	PrincipalType PrincipalType `json:"principal_type"`
	Permission    Permission    `json:"permission"`
}

// Action is a configured policy outcome.
type Action string

const (
	ActionAllow Action = "allow"
	ActionAsk   Action = "ask"
	ActionDeny  Action = "deny"
)

// ParsePolicyAction parses a configured rule action.
func ParsePolicyAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionAllow:
		return ActionAllow, true
	case ActionAsk:
		return ActionAsk, true
	case ActionDeny:
		return ActionDeny, true
	}
	return "", false
}

// Reasons a tool call can be refused before it runs.
const (
	ReasonDenied   = "denied"
	ReasonDeclined = "declined"
	ReasonChatMode = "chat_mode"
	ReasonUnknown  = "unknown_tool"
	ReasonRepeated = "repeated"
	ReasonStopped  = "stopped"
)

// RejectedError is returned when a tool call is refused. Its message is
// what the model sees in the failed tool response.
type RejectedError struct {
	Tool    string
	Reason  string
	Message string
}

// Reject builds a RejectedError for tool.
func Reject(tool, reason, format string, args ...any) *RejectedError {
	return &RejectedError{Tool: tool, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func (e *RejectedError) Error() string {
	return e.Message
}

// IsRejectedError checks if an error is a permission rejection.
func IsRejectedError(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// ExtensionOf returns the extension prefix of a namespaced tool name
// ("developer__shell" -> "developer"), or "" when the name has none.
func ExtensionOf(tool string) string {
	if i := strings.Index(tool, "__"); i > 0 {
		return tool[:i]
	}
	return ""
}
