// Package mcp connects to Model Context Protocol servers with the official
// MCP Go SDK and exposes them to the agent as a single ToolHost.
//
// Servers are reached over streamable HTTP (falling back to SSE) for remote
// configurations, or by spawning a command that speaks MCP on stdio:
//
//	client := mcp.NewClient()
//	defer client.Close()
//
//	err := client.AddServer(ctx, "calculator", &mcp.Config{
//		Enabled: true,
//		Type:    mcp.TransportTypeStdio,
//		Command: []string{"calculator-mcp"},
//		Timeout: 5000,
//	})
//
// Tools and prompts are namespaced as <server>__<name>, resources as
// mcp://<server>/<uri>. CallTool maps a result flagged IsError onto a failed
// types.ToolResult and keeps Go errors for protocol failures.
//
// Logging and progress notifications from any server are fanned out to
// every Subscribe channel. Delivery is best effort: a subscriber whose
// buffer is full misses the notification rather than stalling the session.
package mcp
