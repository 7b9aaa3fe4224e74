// Package server exposes the agent over HTTP.
//
// Routes are mounted on a chi router:
//
//   - GET /status: liveness, never requires the secret key
//   - POST /reply: runs a reply and streams its events as SSE
//   - POST /ask: runs a reply and returns the assistant text
//   - POST /confirm and POST /tool_result: resolve pending tool confirmations
//     and frontend tool requests
//   - /sessions: persisted transcripts
//   - /agent: tools, provider and frontend tool management
//   - /extensions: MCP server status, resources and prompts
//   - /config: vendor listing and ConfigStore access
//   - GET /event: the internal event bus as SSE
//
// When a secret key is configured every other route requires it in the
// X-Secret-Key header.
//
// Both SSE endpoints frame each record as a single `data: <json>` line
// followed by a blank line. /reply records are session wire events tagged
// by type (Message, Error, Finish, ModelChange, Notification) and the
// stream ends after Finish.
package server
