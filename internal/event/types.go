package event

import (
	"github.com/opencode-ai/agentd/pkg/types"
)

// ReplyStartedData is the data for reply.started events.
type ReplyStartedData struct {
	SessionID string `json:"sessionID"`
	Messages  int    `json:"messages"`
}

// ReplyFinishedData is the data for reply.finished events.
type ReplyFinishedData struct {
	SessionID string `json:"sessionID"`
	Reason    string `json:"reason"`
	Error     string `json:"error,omitempty"`
}

// PermissionRequiredData is the data for permission.required events.
type PermissionRequiredData struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	ID            string `json:"id"`
	SessionID     string `json:"sessionID,omitempty"`
	PrincipalType string `json:"principalType"`
	Permission    string `json:"permission"`
	Granted       bool   `json:"granted"`
}

// ToolResultData is the data for tool.result events.
type ToolResultData struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionID,omitempty"`
	Result    types.ToolResult `json:"result"`
}

// ProviderChangedData is the data for provider.changed events.
type ProviderChangedData struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// SessionPersistedData is the data for session.persisted events.
type SessionPersistedData struct {
	SessionID string `json:"sessionID"`
	Messages  int    `json:"messages"`
}

// ExtensionNotificationData is the data for extension.notification events.
type ExtensionNotificationData struct {
	RequestID    string             `json:"requestID,omitempty"`
	Notification types.Notification `json:"notification"`
}
