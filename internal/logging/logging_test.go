package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, InfoLevel, cfg.Level)
	assert.Equal(t, os.Stderr, cfg.Output)
	assert.False(t, cfg.Pretty)
	assert.Equal(t, time.RFC3339, cfg.TimeFormat)
	assert.False(t, cfg.LogToFile)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"  debug  ", DebugLevel},
		{"info", InfoLevel},
		{"WARNING", WarnLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"FATAL", FatalLevel},
		{"", InfoLevel},
		{"nonsense", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestInit_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	_, err := Init(Config{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = Init(DefaultConfig()) })

	Debug().Msg("hidden")
	agentLog := Component("agent")
	agentLog.Info().Str("session_id", "s1").Msg("reply started")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "agent", entry["component"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "reply started", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestInit_LogToFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	closer, err := Init(Config{Level: DebugLevel, Output: &buf, LogToFile: true, LogDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = Init(DefaultConfig()) })

	Warn().Msg("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, logFileName(time.Now())))
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}
