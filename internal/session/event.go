package session

import (
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/agentd/pkg/types"
)

// EventType tags a wire event.
type EventType string

const (
	EventMessage      EventType = "Message"
	EventError        EventType = "Error"
	EventFinish       EventType = "Finish"
	EventModelChange  EventType = "ModelChange"
	EventNotification EventType = "Notification"
)

// Finish reasons.
const (
	FinishStop  = "stop"
	FinishError = "error"
)

// Event is one record of a reply stream. Fields are populated per Type.
type Event struct {
	Type         EventType
	Message      types.Message
	Error        string
	Reason       string
	Model        string
	Mode         string
	RequestID    string
	Notification types.Notification
}

func MessageEvent(m types.Message) Event { return Event{Type: EventMessage, Message: m} }

func ErrorEvent(err string) Event { return Event{Type: EventError, Error: err} }

func FinishEvent(reason string) Event { return Event{Type: EventFinish, Reason: reason} }

func ModelChangeEvent(model, mode string) Event {
	return Event{Type: EventModelChange, Model: model, Mode: mode}
}

func NotificationEvent(requestID string, n types.Notification) Event {
	return Event{Type: EventNotification, RequestID: requestID, Notification: n}
}

// jsonRPCNotification is how an extension notification appears on the wire.
type jsonRPCNotification struct {
	JSONRPC   string          `json:"jsonrpc"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	Extension string          `json:"extension,omitempty"`
}

// MarshalJSON encodes the variant selected by Type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventMessage:
		return json.Marshal(struct {
			Type    EventType     `json:"type"`
			Message types.Message `json:"message"`
		}{e.Type, e.Message})
	case EventError:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error"`
		}{e.Type, e.Error})
	case EventFinish:
		return json.Marshal(struct {
			Type   EventType `json:"type"`
			Reason string    `json:"reason"`
		}{e.Type, e.Reason})
	case EventModelChange:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Model string    `json:"model"`
			Mode  string    `json:"mode"`
		}{e.Type, e.Model, e.Mode})
	case EventNotification:
		return json.Marshal(struct {
			Type      EventType           `json:"type"`
			RequestID string              `json:"request_id"`
			Message   jsonRPCNotification `json:"message"`
		}{e.Type, e.RequestID, jsonRPCNotification{
			JSONRPC:   "2.0",
			Method:    e.Notification.Method,
			Params:    e.Notification.Params,
			Extension: e.Notification.Server,
		}})
	}
	return nil, fmt.Errorf("unknown event type %q", e.Type)
}

// UnmarshalJSON decodes any wire variant.
func (e *Event) UnmarshalJSON(data []byte) error {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	*e = Event{Type: head.Type}
	switch head.Type {
	case EventMessage:
		var aux struct {
			Message types.Message `json:"message"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return err
		}
		e.Message = aux.Message
	case EventError:
		var aux struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return err
		}
		e.Error = aux.Error
	case EventFinish:
		var aux struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return err
		}
		e.Reason = aux.Reason
	case EventModelChange:
		var aux struct {
			Model string `json:"model"`
			Mode  string `json:"mode"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return err
		}
		e.Model, e.Mode = aux.Model, aux.Mode
	case EventNotification:
		var aux struct {
			RequestID string              `json:"request_id"`
			Message   jsonRPCNotification `json:"message"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return err
		}
		e.RequestID = aux.RequestID
		e.Notification = types.Notification{
			Server: aux.Message.Extension,
			Method: aux.Message.Method,
			Params: aux.Message.Params,
		}
	default:
		return fmt.Errorf("unknown event type %q", head.Type)
	}
	return nil
}
