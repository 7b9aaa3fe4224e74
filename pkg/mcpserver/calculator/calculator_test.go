package calculator

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool := NewServer().GetTool(name)
	require.NotNil(t, tool, "%s tool should exist", name)

	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args
	result, err := tool.Handler(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "content should be text")
	return text.Text
}

func TestCalculatorServer_Tools(t *testing.T) {
	tests := []struct {
		tool     string
		numbers  []float64
		expected string
	}{
		{"sum", []float64{1, 2, 3, 4, 5}, "15"},
		{"sum", []float64{-1, -2, -3}, "-6"},
		{"sum", []float64{10, -5, 3.5, -2.5}, "6"},
		{"sum", []float64{}, "0"},
		{"product", []float64{2, 3, 4}, "24"},
		{"product", []float64{-2, 0.5}, "-1"},
		{"product", []float64{}, "1"},
		{"average", []float64{2, 4, 9}, "5"},
		{"average", []float64{1, 2}, "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.tool+"/"+tt.expected, func(t *testing.T) {
			result := callTool(t, tt.tool, map[string]any{"numbers": tt.numbers})
			assert.False(t, result.IsError, "result should not be an error")
			assert.Equal(t, tt.expected, resultText(t, result))
		})
	}
}

func TestCalculatorServer_InvalidArguments(t *testing.T) {
	result := callTool(t, "sum", map[string]any{})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "required")

	result = callTool(t, "product", map[string]any{"numbers": []any{1.0, "two"}})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "element 1")

	result = callTool(t, "average", map[string]any{"numbers": []any{}})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "at least one number")
}

func TestCalculatorServer_ListsTools(t *testing.T) {
	server := NewServer()
	for _, name := range []string{"sum", "product", "average"} {
		tool := server.GetTool(name)
		require.NotNil(t, tool, "%s tool should exist", name)
		assert.Equal(t, name, tool.Tool.Name)
		assert.Contains(t, tool.Tool.InputSchema.Required, "numbers")
	}
}
