package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/agentd/internal/event"
	"github.com/opencode-ai/agentd/internal/permission"
	"github.com/opencode-ai/agentd/pkg/types"
)

const (
	declinedResponse = "The user has declined to run this tool. DO NOT attempt to call this tool again. " +
		"If there are no alternative methods to proceed, clearly explain why the request cannot be fulfilled using the available tools."
	deniedResponse   = "Running %s is not permitted by the configured permissions. Do not call it again."
	chatModeResponse = "Tool calls are disabled in chat mode. Answer the user directly without using tools, " +
		"and let them know they can switch modes if they want tools to run."
	repetitionResponse = "Tool call %s was refused: the same call was repeated too many times in a row. Try a different approach."
	stoppedResponse    = "The reply was stopped before this tool ran."

	maxConcurrentTools = 8
)

// hostCall is a tool request cleared to run on the ToolHost.
type hostCall struct {
	index int
	id    string
	call  types.ToolCall
}

// dispatch answers every request of a turn, in request order, with exactly
// one tool response. Requests needing a decision are handled one at a time;
// the cleared ToolHost calls then run concurrently.
func (a *Agent) dispatch(ctx context.Context, r *Reply, cfg SessionConfig, requests []*types.ToolRequest, declared map[string]bool, monitor *permission.RepetitionMonitor, tracker *inflight) types.Message {
	responses := make([]types.Content, len(requests))
	var calls []hostCall

	for i, req := range requests {
		respond := func(result types.ToolResult) {
			responses[i] = types.NewToolResponse(req.ID, result)
		}
		refuse := func(err *permission.RejectedError) {
			a.log.Debug().Str("request_id", req.ID).Str("tool", err.Tool).Str("reason", err.Reason).Msg("tool call refused")
			respond(types.Failure("%s", err.Error()))
		}

		if req.ToolCall == nil {
			respond(types.Failure("%s", req.Error))
			continue
		}
		call := *req.ToolCall

		if r.stopped() || ctx.Err() != nil {
			refuse(permission.Reject(call.Name, permission.ReasonStopped, stoppedResponse))
			continue
		}
		if err := a.screen(call, cfg, declared, monitor); err != nil {
			refuse(err)
			continue
		}
		if a.isFrontendTool(call.Name) {
			respond(a.awaitFrontendTool(ctx, r, cfg, req.ID, call))
			continue
		}
		if err := a.authorize(ctx, r, cfg, req.ID, call); err != nil {
			refuse(err)
			continue
		}
		calls = append(calls, hostCall{index: i, id: req.ID, call: call})
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentTools)
	for _, c := range calls {
		c := c
		tracker.track(c.call.Name, c.id)
		g.Go(func() error {
			responses[c.index] = types.NewToolResponse(c.id, a.callTool(ctx, c.call))
			return nil
		})
	}
	_ = g.Wait()

	return types.NewUserMessage(responses...)
}

// screen refuses calls that must not run whatever the user decides.
func (a *Agent) screen(call types.ToolCall, cfg SessionConfig, declared map[string]bool, monitor *permission.RepetitionMonitor) *permission.RejectedError {
	if cfg.Mode == ModeChat {
		return permission.Reject(call.Name, permission.ReasonChatMode, chatModeResponse)
	}
	if !declared[call.Name] && !a.isFrontendTool(call.Name) {
		return permission.Reject(call.Name, permission.ReasonUnknown, "%s", unknownToolMessage(call.Name, declared))
	}
	if !monitor.Check(call.Name, call.Arguments) {
		a.log.Warn().Str("tool", call.Name).Msg("repeated tool call refused")
		return permission.Reject(call.Name, permission.ReasonRepeated, repetitionResponse, call.Name)
	}
	return nil
}

// authorize applies the permission policy and, when the mode requires it,
// waits for the user's confirmation.
func (a *Agent) authorize(ctx context.Context, r *Reply, cfg SessionConfig, id string, call types.ToolCall) *permission.RejectedError {
	action := a.policy.Evaluate(call.Name)
	if action == permission.ActionDeny {
		return permission.Reject(call.Name, permission.ReasonDenied, deniedResponse, call.Name)
	}

	var confirm bool
	switch cfg.Mode {
	case ModeApprove:
		confirm = !a.policy.Granted(call.Name)
	case ModeSmartApprove:
		confirm = action == permission.ActionAsk
	}
	if !confirm {
		return nil
	}

	decision := a.awaitConfirmation(ctx, r, cfg, id, call)
	if !decision.Permission.Allowed() {
		return permission.Reject(call.Name, permission.ReasonDeclined, declinedResponse)
	}
	a.policy.Remember(call.Name, decision)
	return nil
}

// awaitConfirmation emits a ToolConfirmationRequest and blocks until it is
// resolved. A reply that stops or is cancelled first counts as a denial.
func (a *Agent) awaitConfirmation(ctx context.Context, r *Reply, cfg SessionConfig, id string, call types.ToolCall) permission.Confirmation {
	wait, release := a.confirmations.register(cfg.ID, id)
	defer release()

	prompt := fmt.Sprintf("Allow %s to run?", call.Name)
	msg := types.NewAssistantMessage(types.NewToolConfirmationRequest(id, call.Name, call.Arguments, prompt))
	a.bus.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{ID: id, SessionID: cfg.ID, ToolName: call.Name, Arguments: call.Arguments},
	})
	denied := permission.Confirmation{PrincipalType: permission.PrincipalTool, Permission: permission.DenyOnce}
	if !r.emit(ctx, Event{Type: EventMessage, Message: msg}) {
		return denied
	}

	select {
	case c := <-wait:
		a.log.Debug().Str("request_id", id).Str("tool", call.Name).Str("permission", string(c.Permission)).Msg("confirmation received")
		return c
	case <-r.stop:
		return denied
	case <-ctx.Done():
		return denied
	}
}

// awaitFrontendTool emits a FrontendToolRequest and blocks until the client
// submits the result.
func (a *Agent) awaitFrontendTool(ctx context.Context, r *Reply, cfg SessionConfig, id string, call types.ToolCall) types.ToolResult {
	wait, release := a.toolResults.register(cfg.ID, id)
	defer release()

	msg := types.NewAssistantMessage(types.NewFrontendToolRequest(id, call))
	if !r.emit(ctx, Event{Type: EventMessage, Message: msg}) {
		return types.Failure(stoppedResponse)
	}

	select {
	case result := <-wait:
		return result
	case <-r.stop:
		return types.Failure(stoppedResponse)
	case <-ctx.Done():
		return types.Failure("%v", ctx.Err())
	}
}

// callTool runs one call on the ToolHost. Host errors become failed results.
func (a *Agent) callTool(ctx context.Context, call types.ToolCall) types.ToolResult {
	if a.host == nil {
		return types.Failure("no extensions are available to run %s", call.Name)
	}
	result, err := a.host.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		a.log.Warn().Err(err).Str("tool", call.Name).Msg("tool call failed")
		return types.Failure("%v", err)
	}
	return result
}

// unknownToolMessage names the closest declared tool, if any is close.
func unknownToolMessage(name string, declared map[string]bool) string {
	best, bestDist := "", -1
	for candidate := range declared {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(candidate))
		if bestDist < 0 || d < bestDist || (d == bestDist && candidate < best) {
			best, bestDist = candidate, d
		}
	}
	msg := fmt.Sprintf("Tool %q does not exist.", name)
	if best != "" && bestDist <= max(3, len(name)/3) {
		msg += fmt.Sprintf(" Did you mean %q?", best)
	}
	return msg
}
