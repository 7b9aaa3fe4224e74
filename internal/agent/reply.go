package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opencode-ai/agentd/internal/event"
	"github.com/opencode-ai/agentd/internal/permission"
	"github.com/opencode-ai/agentd/internal/provider"
	"github.com/opencode-ai/agentd/pkg/types"
)

// Mode controls which tool calls need the user's confirmation.
type Mode string

const (
	// ModeAuto runs every tool the policy does not deny.
	ModeAuto Mode = "auto"
	// ModeApprove confirms every call not covered by an AlwaysAllow grant.
	ModeApprove Mode = "approve"
	// ModeSmartApprove confirms calls whose policy action is ask.
	ModeSmartApprove Mode = "smart_approve"
	// ModeChat declares no tools and refuses any the model requests.
	ModeChat Mode = "chat"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModeApprove, ModeSmartApprove, ModeChat:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// DefaultMaxTurns bounds a reply when neither the session nor the agent
// sets a limit.
const DefaultMaxTurns = 1000

const maxTurnsMessage = "I've reached the maximum number of actions I can do without user input. Would you like me to continue?"

// SessionConfig scopes one reply. The HTTP and CLI front ends leave
// MaxTurns and Retry unset, so those come from the agent defaults and the
// provider's own retry settings; only in-process callers override them.
type SessionConfig struct {
	ID                 string
	WorkingDir         string
	ScheduleID         string
	Mode               Mode
	MaxTurns           int
	Retry              *provider.RetryConfig
	MaxToolRepetitions int
}

func (c SessionConfig) withDefaults(d SessionConfig) SessionConfig {
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = d.MaxTurns
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxToolRepetitions == 0 {
		c.MaxToolRepetitions = d.MaxToolRepetitions
	}
	return c
}

// EventType discriminates reply events.
type EventType string

const (
	EventMessage      EventType = "message"
	EventModelChange  EventType = "model_change"
	EventNotification EventType = "notification"
	EventError        EventType = "error"
)

// Event is one item of a reply stream. Fields are populated per Type.
type Event struct {
	Type EventType

	Message types.Message

	Model string
	Mode  Mode

	RequestID    string
	Notification types.Notification

	Err error
}

// Reply is one running reply loop.
type Reply struct {
	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu    sync.Mutex
	usage types.Usage
	turns int
}

func newReply() *Reply {
	return &Reply{
		events: make(chan Event),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Events yields the reply's events and is closed when the loop ends.
func (r *Reply) Events() <-chan Event { return r.events }

// Done is closed when the loop has ended.
func (r *Reply) Done() <-chan struct{} { return r.done }

// Stop asks the loop to end. In-flight provider and tool calls finish and
// their messages are still delivered; no further calls are started.
func (r *Reply) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Reply) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// Usage returns the tokens consumed so far.
func (r *Reply) Usage() types.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

// Turns returns the number of provider round trips so far.
func (r *Reply) Turns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turns
}

func (r *Reply) recordTurn(u types.Usage) {
	r.mu.Lock()
	r.turns++
	r.usage = r.usage.Add(u)
	r.mu.Unlock()
}

// emit delivers ev unless ctx ends first.
func (r *Reply) emit(ctx context.Context, ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reply starts a reply loop over messages. It fails before starting when
// the transcript is malformed or no provider is configured.
func (a *Agent) Reply(ctx context.Context, messages []types.Message, cfg SessionConfig) (*Reply, error) {
	if err := types.ValidateTranscript(messages); err != nil {
		return nil, fmt.Errorf("invalid transcript: %w", err)
	}
	if _, err := a.Provider(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults(a.defaults)

	r := newReply()
	go a.run(ctx, r, types.CloneMessages(messages), cfg)
	return r, nil
}

type turnResult struct {
	msg   types.Message
	usage provider.ProviderUsage
}

func (a *Agent) run(ctx context.Context, r *Reply, history []types.Message, cfg SessionConfig) {
	log := a.log.With().Str("session_id", cfg.ID).Str("mode", string(cfg.Mode)).Logger()
	start := time.Now()

	notes, stopForwarding := a.forwardNotifications(ctx, r)
	defer func() {
		stopForwarding()
		close(r.events)
		close(r.done)
		log.Debug().Int("turns", r.Turns()).Dur("elapsed", time.Since(start)).Msg("reply finished")
	}()

	fail := func(err error) {
		log.Warn().Err(err).Msg("reply failed")
		r.emit(ctx, Event{Type: EventError, Err: err})
	}

	var tools []types.Tool
	if cfg.Mode != ModeChat {
		var err error
		if tools, err = a.Tools(ctx); err != nil {
			fail(err)
			return
		}
	}
	declared := make(map[string]bool, len(tools))
	for _, t := range tools {
		declared[t.Name] = true
	}
	system := a.systemPrompt(cfg, tools)
	monitor := permission.NewRepetitionMonitor(cfg.MaxToolRepetitions)

	prov, err := a.Provider()
	if err != nil {
		fail(err)
		return
	}
	model := prov.ModelConfig().Model

	for {
		if r.stopped() || ctx.Err() != nil {
			return
		}
		if r.Turns() >= cfg.MaxTurns {
			log.Info().Int("max_turns", cfg.MaxTurns).Msg("turn limit reached")
			r.emit(ctx, Event{Type: EventMessage, Message: types.AssistantText(maxTurnsMessage)})
			return
		}

		if current, err := a.Provider(); err == nil && current != prov {
			prov = current
			if m := prov.ModelConfig().Model; m != model {
				model = m
				if !r.emit(ctx, Event{Type: EventModelChange, Model: m, Mode: cfg.Mode}) {
					return
				}
			}
		}

		result, err := a.generate(ctx, prov, system, history, tools, cfg)
		if err != nil {
			fail(err)
			return
		}
		r.recordTurn(result.usage.Usage)

		msg := result.msg
		history = append(history, msg)
		if !r.emit(ctx, Event{Type: EventMessage, Message: msg}) {
			return
		}

		requests := msg.ToolRequests()
		if len(requests) == 0 {
			return
		}

		response := a.dispatch(ctx, r, cfg, requests, declared, monitor, notes)
		history = append(history, response)
		if !r.emit(ctx, Event{Type: EventMessage, Message: response}) {
			return
		}
	}
}

// generate runs one provider round trip, preferring streaming, under the
// session's retry policy or the provider's own.
func (a *Agent) generate(ctx context.Context, prov provider.Provider, system string, history []types.Message, tools []types.Tool, cfg SessionConfig) (turnResult, error) {
	retry := prov.RetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	return provider.Retry(ctx, retry, func(ctx context.Context) (turnResult, error) {
		if prov.SupportsStreaming() {
			stream, err := prov.Stream(ctx, system, history, tools)
			if err != nil {
				return turnResult{}, err
			}
			msg, usage, err := provider.Collect(stream)
			return turnResult{msg: msg, usage: usage}, err
		}
		msg, usage, err := prov.Complete(ctx, system, history, tools)
		return turnResult{msg: msg, usage: usage}, err
	})
}

// forwardNotifications relays ToolHost notifications as reply events for
// the lifetime of the reply, attributed to the latest request on the
// notifying extension.
func (a *Agent) forwardNotifications(ctx context.Context, r *Reply) (*inflight, func()) {
	tracker := newInflight()
	if a.host == nil {
		return tracker, func() {}
	}

	notes, unsubscribe := a.host.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := range notes {
			id := tracker.requestFor(n.Server)
			a.bus.Publish(event.Event{
				Type: event.ExtensionNotification,
				Data: event.ExtensionNotificationData{RequestID: id, Notification: n},
			})
			r.emit(ctx, Event{Type: EventNotification, RequestID: id, Notification: n})
		}
	}()
	return tracker, func() {
		unsubscribe()
		<-done
	}
}

// inflight maps extension names to the request most recently sent to them.
type inflight struct {
	mu       sync.Mutex
	requests map[string]string
}

func newInflight() *inflight {
	return &inflight{requests: make(map[string]string)}
}

func (f *inflight) track(tool, requestID string) {
	f.mu.Lock()
	f.requests[permission.ExtensionOf(tool)] = requestID
	f.mu.Unlock()
}

func (f *inflight) requestFor(server string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[server]
}
