package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentd/pkg/types"
)

func TestEvent_WireShape(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"error", ErrorEvent("boom"), `{"type":"Error","error":"boom"}`},
		{"finish", FinishEvent(FinishStop), `{"type":"Finish","reason":"stop"}`},
		{"model change", ModelChangeEvent("gpt-4o", "auto"), `{"type":"ModelChange","model":"gpt-4o","mode":"auto"}`},
		{
			"notification",
			NotificationEvent("req_1", types.Notification{Server: "calc", Method: "notifications/message", Params: json.RawMessage(`{"level":"info"}`)}),
			`{"type":"Notification","request_id":"req_1","message":{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"},"extension":"calc"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestEvent_MessageRoundTrip(t *testing.T) {
	msg := types.NewAssistantMessage(
		types.NewText("checking"),
		types.NewToolRequest("call_1", types.ToolCall{Name: "calc__sum", Arguments: map[string]any{"numbers": []any{1.0, 2.0}}}),
	)
	data, err := json.Marshal(MessageEvent(msg))
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, EventMessage, got.Type)
	assert.Equal(t, msg.ID, got.Message.ID)
	require.Len(t, got.Message.Content, 2)
	req := got.Message.ToolRequests()
	require.Len(t, req, 1)
	assert.Equal(t, "calc__sum", req[0].ToolCall.Name)
}

func TestEvent_NotificationRoundTrip(t *testing.T) {
	n := types.Notification{Server: "calc", Method: "notifications/progress", Params: json.RawMessage(`{"progress":1}`)}
	data, err := json.Marshal(NotificationEvent("req_2", n))
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "req_2", got.RequestID)
	assert.Equal(t, "calc", got.Notification.Server)
	assert.Equal(t, "notifications/progress", got.Notification.Method)
	assert.JSONEq(t, `{"progress":1}`, string(got.Notification.Params))
}

func TestEvent_UnknownType(t *testing.T) {
	_, err := json.Marshal(Event{Type: "Bogus"})
	assert.Error(t, err)
}
