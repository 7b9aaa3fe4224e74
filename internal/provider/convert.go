package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/agentd/pkg/types"
)

// toEinoMessages converts a transcript into eino messages. Blocks that only
// matter to the client (confirmation and frontend requests, markers) are
// dropped, and messages left empty are skipped. Tool responses become tool
// messages placed before any user text of the same message.
func toEinoMessages(system string, messages []types.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages)+1)
	if system != "" {
		out = append(out, schema.SystemMessage(system))
	}

	called := make(map[string]bool)
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleAssistant:
			if m := assistantToEino(msg, called); m != nil {
				out = append(out, m)
			}
		case types.RoleUser:
			out = append(out, userToEino(msg, called)...)
		}
	}
	return out
}

func assistantToEino(msg types.Message, called map[string]bool) *schema.Message {
	var text []string
	var calls []schema.ToolCall
	for _, c := range msg.Content {
		switch block := c.(type) {
		case *types.TextContent:
			text = append(text, block.Text)
		case *types.ToolRequest:
			if block.ToolCall == nil {
				continue
			}
			args, err := json.Marshal(block.ToolCall.Arguments)
			if err != nil || block.ToolCall.Arguments == nil {
				args = []byte("{}")
			}
			calls = append(calls, schema.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      block.ToolCall.Name,
					Arguments: string(args),
				},
			})
			called[block.ID] = true
		}
	}
	if len(text) == 0 && len(calls) == 0 {
		return nil
	}
	return schema.AssistantMessage(strings.Join(text, "\n"), calls)
}

func userToEino(msg types.Message, called map[string]bool) []*schema.Message {
	var out []*schema.Message
	var text []string
	for _, c := range msg.Content {
		switch block := c.(type) {
		case *types.TextContent:
			text = append(text, block.Text)
		case *types.ImageContent:
			text = append(text, fmt.Sprintf("[image: %s]", block.MimeType))
		case *types.ToolResponse:
			if called[block.ID] {
				out = append(out, schema.ToolMessage(block.ToolResult.Text(), block.ID))
			} else {
				// The matching call was never sent to the model (it was
				// malformed), so report the outcome as plain text.
				text = append(text, fmt.Sprintf("Tool result for %s: %s", block.ID, block.ToolResult.Text()))
			}
		}
	}
	if len(text) > 0 {
		out = append(out, schema.UserMessage(strings.Join(text, "\n")))
	}
	return out
}

// fromEinoMessage converts a complete eino assistant message.
func fromEinoMessage(id string, msg *schema.Message) types.Message {
	out := types.NewAssistantMessage()
	if id != "" {
		out.ID = id
	}
	if msg == nil {
		return out
	}
	var content []types.Content
	if msg.ReasoningContent != "" {
		content = append(content, types.NewThinking(msg.ReasoningContent, ""))
	}
	if msg.Content != "" {
		content = append(content, types.NewText(msg.Content))
	}
	content = append(content, toolRequestsFromEino(msg.ToolCalls)...)
	out.Content = append(out.Content, content...)
	return out
}

func toolRequestsFromEino(calls []schema.ToolCall) []types.Content {
	var out []types.Content
	for _, call := range calls {
		id := call.ID
		if id == "" {
			id = "call_" + strings.ToLower(ulid.Make().String())
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				out = append(out, types.NewInvalidToolRequest(id,
					fmt.Sprintf("could not parse arguments for tool %q: %v", call.Function.Name, err)))
				continue
			}
		}
		out = append(out, types.NewToolRequest(id, types.ToolCall{Name: call.Function.Name, Arguments: args}))
	}
	return out
}

func usageFromEino(meta *schema.ResponseMeta) types.Usage {
	if meta == nil || meta.Usage == nil {
		return types.Usage{}
	}
	return types.Usage{
		InputTokens:  meta.Usage.PromptTokens,
		OutputTokens: meta.Usage.CompletionTokens,
		TotalTokens:  meta.Usage.TotalTokens,
	}
}

// toEinoTools converts tool declarations to eino tool infos.
func toEinoTools(tools []types.Tool) []*schema.ToolInfo {
	result := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		var params map[string]*schema.ParameterInfo
		if len(t.InputSchema) > 0 {
			params = parseJSONSchemaToParams(t.InputSchema)
		}
		result[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		}
	}
	return result
}

type jsonSchemaProp struct {
	Type        string                    `json:"type"`
	Description string                    `json:"description"`
	Enum        []string                  `json:"enum"`
	Items       *jsonSchemaProp           `json:"items"`
	Properties  map[string]jsonSchemaProp `json:"properties"`
	Required    []string                  `json:"required"`
}

// parseJSONSchemaToParams converts a JSON Schema object to eino parameters.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var root jsonSchemaProp
	if err := json.Unmarshal(schemaJSON, &root); err != nil {
		return nil
	}
	return propsToParams(root.Properties, root.Required)
}

func propsToParams(props map[string]jsonSchemaProp, required []string) map[string]*schema.ParameterInfo {
	if len(props) == 0 {
		return nil
	}
	requiredSet := make(map[string]bool, len(required))
	for _, r := range required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(props))
	for name, prop := range props {
		p := propToParam(prop)
		p.Required = requiredSet[name]
		params[name] = p
	}
	return params
}

func propToParam(prop jsonSchemaProp) *schema.ParameterInfo {
	p := &schema.ParameterInfo{
		Type: schema.String,
		Desc: prop.Description,
		Enum: prop.Enum,
	}
	switch prop.Type {
	case "integer":
		p.Type = schema.Integer
	case "number":
		p.Type = schema.Number
	case "boolean":
		p.Type = schema.Boolean
	case "array":
		p.Type = schema.Array
		if prop.Items != nil {
			p.ElemInfo = propToParam(*prop.Items)
		}
	case "object":
		p.Type = schema.Object
		p.SubParams = propsToParams(prop.Properties, prop.Required)
	}
	return p
}
