package commands

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentd/internal/config"
	"github.com/opencode-ai/agentd/internal/permission"
	"github.com/opencode-ai/agentd/internal/session"
	"github.com/opencode-ai/agentd/pkg/types"
)

func TestAskConfirmation(t *testing.T) {
	req := &types.ToolConfirmationRequest{ID: "r1", ToolName: "developer__shell", Arguments: map[string]any{"command": "ls"}}
	tests := []struct {
		input string
		want  permission.Permission
	}{
		{"y\n", permission.AllowOnce},
		{"YES\n", permission.AllowOnce},
		{"a\n", permission.AlwaysAllow},
		{"n\n", permission.DenyOnce},
		{"\n", permission.DenyOnce},
		{"", permission.DenyOnce},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		r := newRenderer(&out, true, false)
		c := askConfirmation(r, bufio.NewReader(strings.NewReader(tt.input)), req)
		assert.Equal(t, tt.want, c.Permission, "input %q", tt.input)
		assert.Equal(t, permission.PrincipalTool, c.PrincipalType)
		assert.Contains(t, out.String(), "developer__shell")
	}
}

func TestOpenSessions(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	ctx := context.Background()

	store, closeStore, err := openSessions(ctx, config.StorageConfig{Driver: "file"})
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &session.FileStore{}, store)

	_, _, err = openSessions(ctx, config.StorageConfig{Driver: "postgres"})
	assert.ErrorContains(t, err, "storage.dsn")

	_, _, err = openSessions(ctx, config.StorageConfig{Driver: "sqlite"})
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestRenderer_Message(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, true, false)

	r.Message(types.NewAssistantMessage(
		types.NewText("checking"),
		types.NewToolRequest("c1", types.ToolCall{Name: "calc__sum", Arguments: map[string]any{"numbers": []int{1, 2}}}),
	))
	r.Message(types.NewUserMessage(types.NewToolResponse("c1", types.Failure("boom"))))

	got := out.String()
	assert.Contains(t, got, "assistant › checking")
	assert.Contains(t, got, `tool › calc__sum {"numbers":[1,2]}`)
	assert.Contains(t, got, "tool error › boom")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
}
