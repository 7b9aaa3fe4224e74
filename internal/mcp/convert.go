package mcp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencode-ai/agentd/pkg/types"
)

// ToolSeparator joins a server name and a tool name.
const ToolSeparator = "__"

// QualifiedName namespaces a tool or prompt with its server.
func QualifiedName(server, name string) string {
	return sanitizeName(server) + ToolSeparator + name
}

// SplitName splits a qualified name into server and tool.
func SplitName(qualified string) (server, name string, ok bool) {
	i := strings.Index(qualified, ToolSeparator)
	if i <= 0 || i+len(ToolSeparator) >= len(qualified) {
		return "", "", false
	}
	return qualified[:i], qualified[i+len(ToolSeparator):], true
}

// sanitizeName replaces characters providers reject in tool names.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// FromSDKTool converts an SDK tool declaration.
func FromSDKTool(t *sdkmcp.Tool) types.Tool {
	out := types.Tool{Name: t.Name, Description: t.Description}
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			out.InputSchema = raw
		}
	}
	if len(out.InputSchema) == 0 || string(out.InputSchema) == "null" {
		out.InputSchema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return out
}

// FromSDKResource converts an SDK resource.
func FromSDKResource(r *sdkmcp.Resource) Resource {
	return Resource{
		URI:         r.URI,
		Name:        r.Name,
		Description: r.Description,
		MimeType:    r.MIMEType,
	}
}

// FromSDKPrompt converts an SDK prompt.
func FromSDKPrompt(p *sdkmcp.Prompt) Prompt {
	out := Prompt{Name: p.Name, Description: p.Description}
	for _, a := range p.Arguments {
		out.Arguments = append(out.Arguments, PromptArgument{
			Name:        a.Name,
			Description: a.Description,
			Required:    a.Required,
		})
	}
	return out
}

// contentFromSDK converts SDK content blocks into message content.
// Resource blocks become text; audio and unknown blocks are dropped.
func contentFromSDK(blocks []sdkmcp.Content) []types.Content {
	var out []types.Content
	for _, block := range blocks {
		switch c := block.(type) {
		case *sdkmcp.TextContent:
			out = append(out, types.NewText(c.Text))
		case *sdkmcp.ImageContent:
			out = append(out, types.NewImage(base64.StdEncoding.EncodeToString(c.Data), c.MIMEType))
		case *sdkmcp.EmbeddedResource:
			if c.Resource != nil && c.Resource.Text != "" {
				out = append(out, types.NewText(c.Resource.Text))
			}
		case *sdkmcp.ResourceLink:
			out = append(out, types.NewText(fmt.Sprintf("[resource: %s]", c.URI)))
		}
	}
	return out
}

// toolResultFromSDK maps a call result onto the success/failure union.
func toolResultFromSDK(res *sdkmcp.CallToolResult) types.ToolResult {
	content := contentFromSDK(res.Content)
	if res.IsError {
		var parts []string
		for _, c := range content {
			if t, ok := c.(*types.TextContent); ok {
				parts = append(parts, t.Text)
			}
		}
		if len(parts) == 0 {
			return types.Failure("tool execution failed")
		}
		return types.Failure("%s", strings.Join(parts, "\n"))
	}
	return types.Success(content...)
}
