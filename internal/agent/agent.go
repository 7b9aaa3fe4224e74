package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentd/internal/event"
	"github.com/opencode-ai/agentd/internal/logging"
	"github.com/opencode-ai/agentd/internal/permission"
	"github.com/opencode-ai/agentd/internal/provider"
	"github.com/opencode-ai/agentd/pkg/types"
)

// ErrNoProvider is returned when a reply is requested before a provider is set.
var ErrNoProvider = errors.New("provider not configured")

// ToolHost runs extension tools and reports their notifications.
type ToolHost interface {
	ListTools(ctx context.Context) ([]types.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (types.ToolResult, error)
	Subscribe() (<-chan types.Notification, func())
}

// Options configures a new Agent.
type Options struct {
	Provider provider.Provider
	ToolHost ToolHost
	Policy   *permission.Policy
	Bus      *event.Bus

	// Defaults applied to SessionConfig fields left unset.
	Mode               Mode
	MaxTurns           int
	MaxToolRepetitions int
}

// Agent is shared by every session of a server. It owns the provider
// handle, the frontend tool set and the pending confirmation and tool
// result entries.
type Agent struct {
	mu       sync.RWMutex
	provider provider.Provider
	frontend map[string]types.Tool
	extra    []string

	host   ToolHost
	policy *permission.Policy
	bus    *event.Bus

	confirmations *pending[permission.Confirmation]
	toolResults   *pending[types.ToolResult]

	defaults SessionConfig
	log      zerolog.Logger
}

// New creates an agent.
func New(opts Options) *Agent {
	policy := opts.Policy
	if policy == nil {
		policy, _ = permission.NewPolicy(nil)
	}
	return &Agent{
		provider:      opts.Provider,
		frontend:      make(map[string]types.Tool),
		host:          opts.ToolHost,
		policy:        policy,
		bus:           opts.Bus,
		confirmations: newPending[permission.Confirmation](),
		toolResults:   newPending[types.ToolResult](),
		defaults: SessionConfig{
			Mode:               opts.Mode,
			MaxTurns:           opts.MaxTurns,
			MaxToolRepetitions: opts.MaxToolRepetitions,
		},
		log: logging.Component("agent"),
	}
}

// Provider returns the active provider.
func (a *Agent) Provider() (provider.Provider, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.provider == nil {
		return nil, ErrNoProvider
	}
	return a.provider, nil
}

// UpdateProvider swaps the active provider. Replies in progress pick it up
// on their next turn.
func (a *Agent) UpdateProvider(p provider.Provider) {
	a.mu.Lock()
	a.provider = p
	a.mu.Unlock()

	if p == nil {
		return
	}
	meta, mc := p.Metadata(), p.ModelConfig()
	a.log.Info().Str("provider", meta.Name).Str("model", mc.Model).Msg("provider updated")
	a.bus.Publish(event.Event{
		Type: event.ProviderChanged,
		Data: event.ProviderChangedData{Provider: meta.Name, Model: mc.Model},
	})
}

// Policy returns the permission policy.
func (a *Agent) Policy() *permission.Policy {
	return a.policy
}

// RegisterFrontendTools declares tools the client executes itself. Calls to
// them are emitted as FrontendToolRequest blocks and answered through
// HandleToolResult.
func (a *Agent) RegisterFrontendTools(tools []types.Tool) error {
	for _, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("frontend tool without a name")
		}
		if strings.Contains(t.Name, "__") {
			return fmt.Errorf("frontend tool %q: names must not contain %q", t.Name, "__")
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range tools {
		a.frontend[t.Name] = t
	}
	return nil
}

// RemoveFrontendTool removes a frontend tool and reports whether it existed.
func (a *Agent) RemoveFrontendTool(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.frontend[name]
	delete(a.frontend, name)
	return ok
}

// FrontendTools returns the registered frontend tools sorted by name.
func (a *Agent) FrontendTools() []types.Tool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.Tool, 0, len(a.frontend))
	for _, t := range a.frontend {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *Agent) isFrontendTool(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.frontend[name]
	return ok
}

// ExtendSystemPrompt appends instructions to every system prompt.
func (a *Agent) ExtendSystemPrompt(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extra = append(a.extra, text)
}

func (a *Agent) promptExtensions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.extra...)
}

// Tools returns every tool declared to the model: extension tools followed
// by frontend tools.
func (a *Agent) Tools(ctx context.Context) ([]types.Tool, error) {
	var tools []types.Tool
	if a.host != nil {
		hosted, err := a.host.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		tools = append(tools, hosted...)
	}
	return append(tools, a.FrontendTools()...), nil
}

// HandleConfirmation resolves a pending ToolConfirmationRequest of the
// given session. An empty sessionID matches the request only when no other
// session is waiting on the same id. An unknown or already resolved id is
// ignored and reported as false.
func (a *Agent) HandleConfirmation(sessionID, id string, c permission.Confirmation) bool {
	if c.Permission == "" {
		c.Permission = permission.DenyOnce
	}
	if c.PrincipalType == "" {
		c.PrincipalType = permission.PrincipalTool
	}
	if !a.confirmations.resolve(sessionID, id, c) {
		a.log.Debug().Str("session_id", sessionID).Str("request_id", id).Msg("confirmation for unknown request ignored")
		return false
	}
	a.bus.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{
			ID:            id,
			SessionID:     sessionID,
			PrincipalType: string(c.PrincipalType),
			Permission:    string(c.Permission),
			Granted:       c.Permission.Allowed(),
		},
	})
	return true
}

// HandleToolResult resolves a pending FrontendToolRequest, matching
// sessionID as HandleConfirmation does.
func (a *Agent) HandleToolResult(sessionID, id string, result types.ToolResult) bool {
	if !a.toolResults.resolve(sessionID, id, result) {
		a.log.Debug().Str("session_id", sessionID).Str("request_id", id).Msg("tool result for unknown request ignored")
		return false
	}
	a.bus.Publish(event.Event{
		Type: event.ToolResultSubmitted,
		Data: event.ToolResultData{ID: id, SessionID: sessionID, Result: result},
	})
	return true
}

// PendingCount returns the number of unresolved confirmations and frontend
// tool requests.
func (a *Agent) PendingCount() int {
	return a.confirmations.len() + a.toolResults.len()
}
