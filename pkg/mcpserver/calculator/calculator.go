// Package calculator provides a small MCP server with arithmetic tools. It is
// the reference extension used by the agentd integration tests.
package calculator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with calculator tools.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"calculator",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	s.AddTool(numbersTool("sum", "Calculates the sum of an array of numbers"), reduceHandler(sum))
	s.AddTool(numbersTool("product", "Calculates the product of an array of numbers"), reduceHandler(product))
	s.AddTool(numbersTool("average", "Calculates the arithmetic mean of an array of numbers"), averageHandler)

	return s
}

func numbersTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithArray("numbers",
			mcp.Required(),
			mcp.Description("Array of numbers"),
			mcp.Items(map[string]any{
				"type": "number",
			}),
		),
	)
}

func sum(numbers []float64) float64 {
	var total float64
	for _, n := range numbers {
		total += n
	}
	return total
}

func product(numbers []float64) float64 {
	total := 1.0
	for _, n := range numbers {
		total *= n
	}
	return total
}

func reduceHandler(reduce func([]float64) float64) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		numbers, errResult := numbersArg(request)
		if errResult != nil {
			return errResult, nil
		}
		return mcp.NewToolResultText(formatFloat(reduce(numbers))), nil
	}
}

// averageHandler also logs a message to the client so callers can observe
// server notifications during a call.
func averageHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	numbers, errResult := numbersArg(request)
	if errResult != nil {
		return errResult, nil
	}
	if len(numbers) == 0 {
		return mcp.NewToolResultError("average requires at least one number"), nil
	}

	if srv := server.ServerFromContext(ctx); srv != nil {
		_ = srv.SendNotificationToClient(ctx, "notifications/message", map[string]any{
			"level":  "info",
			"logger": "calculator",
			"data":   fmt.Sprintf("averaging %d numbers", len(numbers)),
		})
	}
	return mcp.NewToolResultText(formatFloat(sum(numbers) / float64(len(numbers)))), nil
}

func numbersArg(request mcp.CallToolRequest) ([]float64, *mcp.CallToolResult) {
	raw, ok := request.GetArguments()["numbers"]
	if !ok {
		return nil, mcp.NewToolResultError("numbers argument is required")
	}
	numbers, err := toFloat64Slice(raw)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid numbers: %v", err))
	}
	return numbers, nil
}

// toFloat64Slice converts a decoded JSON array to []float64.
func toFloat64Slice(v any) ([]float64, error) {
	switch arr := v.(type) {
	case []any:
		result := make([]float64, len(arr))
		for i, elem := range arr {
			switch n := elem.(type) {
			case float64:
				result[i] = n
			case int:
				result[i] = float64(n)
			case int64:
				result[i] = float64(n)
			default:
				return nil, fmt.Errorf("element %d is not a number: %T", i, elem)
			}
		}
		return result, nil
	case []float64:
		return arr, nil
	case []int:
		result := make([]float64, len(arr))
		for i, n := range arr {
			result[i] = float64(n)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", v)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
