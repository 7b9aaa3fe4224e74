// Package agent drives the reply loop: it sends the transcript and the
// declared tools to the active provider, dispatches the tool requests the
// model makes, and repeats until a turn asks for no tools.
//
// # Reply loop
//
// Each call to [Agent.Reply] runs one loop in its own goroutine and returns
// a [Reply] whose Events channel yields, in order:
//
//   - EventMessage for every message appended to the transcript, including
//     confirmation and frontend tool requests
//   - EventModelChange when the provider is swapped mid-reply
//   - EventNotification for extension notifications received while tools run
//   - EventError once, as the last event, when the reply fails
//
// The channel is closed when the loop ends. Stop asks the loop to finish
// after any in-flight provider or tool call.
//
// # Tool dispatch
//
// Requests within a turn are screened sequentially (mode, unknown names,
// repetition, frontend tools, permission). Calls that need a decision
// suspend on a pending entry keyed by session and request id until
// [Agent.HandleConfirmation] or [Agent.HandleToolResult] resolves it. The
// remaining calls then run concurrently on the ToolHost, and their
// responses are attached in request order as one user message.
package agent
