package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/opencode-ai/agentd/pkg/types"
)

// renderer prints reply messages to the terminal.
type renderer struct {
	out     io.Writer
	verbose bool

	assistant *color.Color
	tool      *color.Color
	dim       *color.Color
	warn      *color.Color
}

func newRenderer(out io.Writer, noColor, verbose bool) *renderer {
	if noColor {
		color.NoColor = true
	}
	return &renderer{
		out:       out,
		verbose:   verbose,
		assistant: color.New(color.FgGreen, color.Bold),
		tool:      color.New(color.FgCyan),
		dim:       color.New(color.FgHiBlack),
		warn:      color.New(color.FgYellow, color.Bold),
	}
}

func (r *renderer) Banner(sessionID, provider, model string) {
	fmt.Fprintln(r.out, r.dim.Sprintf("session %s · %s/%s", sessionID, provider, model))
}

func (r *renderer) User(text string) {
	fmt.Fprintf(r.out, "%s %s\n", color.New(color.FgCyan, color.Bold).Sprint("you ›"), text)
}

// Message prints the blocks of one transcript message.
func (r *renderer) Message(m types.Message) {
	for _, c := range m.Content {
		switch b := c.(type) {
		case *types.TextContent:
			if m.Role == types.RoleAssistant && strings.TrimSpace(b.Text) != "" {
				fmt.Fprintf(r.out, "%s %s\n", r.assistant.Sprint("assistant ›"), b.Text)
			}
		case *types.ThinkingContent:
			if r.verbose {
				fmt.Fprintln(r.out, r.dim.Sprint(b.Thinking))
			}
		case *types.ToolRequest:
			if b.ToolCall != nil {
				fmt.Fprintf(r.out, "%s %s %s\n", r.tool.Sprint("tool ›"), b.ToolCall.Name, r.dim.Sprint(compactJSON(b.ToolCall.Arguments)))
			}
		case *types.ToolResponse:
			if b.ToolResult.IsError() {
				fmt.Fprintf(r.out, "%s %s\n", r.warn.Sprint("tool error ›"), b.ToolResult.Error)
			} else if r.verbose {
				fmt.Fprintln(r.out, r.dim.Sprint(truncate(b.ToolResult.Text(), 400)))
			}
		}
	}
}

func (r *renderer) ModelChange(model, mode string) {
	fmt.Fprintln(r.out, r.dim.Sprintf("model changed to %s (%s)", model, mode))
}

func (r *renderer) Notification(n types.Notification) {
	if r.verbose {
		fmt.Fprintln(r.out, r.dim.Sprintf("[%s] %s", n.Server, n.Method))
	}
}

func (r *renderer) Error(msg string) {
	fmt.Fprintf(r.out, "%s %s\n", color.New(color.FgRed, color.Bold).Sprint("error ›"), msg)
}

func (r *renderer) Prompt(text string) {
	fmt.Fprint(r.out, r.warn.Sprint(text))
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return truncate(string(data), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
