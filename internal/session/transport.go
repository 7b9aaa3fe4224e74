package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentd/internal/agent"
	"github.com/opencode-ai/agentd/internal/event"
	"github.com/opencode-ai/agentd/internal/logging"
	"github.com/opencode-ai/agentd/internal/telemetry"
	"github.com/opencode-ai/agentd/pkg/types"
)

const (
	// DefaultHeartbeat is how often a running reply checks for a departed
	// consumer.
	DefaultHeartbeat = 500 * time.Millisecond

	persistTimeout = 30 * time.Second

	SessionTypeStreaming = "streaming"
	SessionTypeAsk       = "ask"
)

// ReplyRequest starts one reply invocation.
type ReplyRequest struct {
	Messages      []types.Message `json:"messages"`
	SessionID     string          `json:"session_id"`
	WorkingDir    string          `json:"session_working_dir"`
	ScheduleID    string          `json:"scheduled_job_id,omitempty"`
	RecipeName    string          `json:"recipe_name,omitempty"`
	RecipeVersion string          `json:"recipe_version,omitempty"`
	Mode          string          `json:"mode,omitempty"`
}

// Tracker receives telemetry records. *telemetry.Manager implements it.
type Tracker interface {
	TrackSession(exec *telemetry.SessionExecution) error
	TrackRecipe(rec telemetry.RecipeExecution) error
}

// TransportOptions configures a Transport.
type TransportOptions struct {
	Agent     *agent.Agent
	Store     Store
	Telemetry Tracker
	Bus       *event.Bus

	Heartbeat     time.Duration
	QueueCapacity int
}

// Transport bridges agent replies to event queues, persisting transcripts
// and recording telemetry for each invocation.
type Transport struct {
	agent     *agent.Agent
	store     Store
	telemetry Tracker
	bus       *event.Bus

	heartbeat time.Duration
	capacity  int

	wg  sync.WaitGroup
	log zerolog.Logger
}

// NewTransport creates a transport.
func NewTransport(opts TransportOptions) *Transport {
	t := &Transport{
		agent:     opts.Agent,
		store:     opts.Store,
		telemetry: opts.Telemetry,
		bus:       opts.Bus,
		heartbeat: opts.Heartbeat,
		capacity:  opts.QueueCapacity,
		log:       logging.Component("session"),
	}
	if t.heartbeat <= 0 {
		t.heartbeat = DefaultHeartbeat
	}
	if t.capacity <= 0 {
		t.capacity = QueueCapacity
	}
	return t
}

// Stream starts a reply and returns the queue its events are delivered on.
// The queue always ends with exactly one Finish event unless the consumer
// closes it first.
func (t *Transport) Stream(ctx context.Context, req ReplyRequest) *Queue {
	return t.start(ctx, req, SessionTypeStreaming)
}

// Ask runs a reply to completion and returns the assistant's text.
func (t *Transport) Ask(ctx context.Context, req ReplyRequest) (string, error) {
	q := t.start(ctx, req, SessionTypeAsk)
	defer q.Close()

	var parts []string
	var failure string
	for ev := range q.Events() {
		switch ev.Type {
		case EventMessage:
			if ev.Message.Role == types.RoleAssistant {
				if text := ev.Message.Text(); text != "" {
					parts = append(parts, text)
				}
			}
		case EventError:
			failure = ev.Error
		}
	}
	if failure != "" {
		return "", errors.New(failure)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.Join(parts, "\n"), nil
}

// Wait blocks until every running invocation and its persistence has ended.
func (t *Transport) Wait() {
	t.wg.Wait()
}

func (t *Transport) start(ctx context.Context, req ReplyRequest, sessionType string) *Queue {
	if req.SessionID == "" {
		req.SessionID = NewSessionID()
	}
	q := NewQueue(t.capacity)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx, q, req, sessionType)
	}()
	return q
}

// invocation is the state of one running reply.
type invocation struct {
	req       ReplyRequest
	q         *Queue
	exec      *telemetry.SessionExecution
	start     time.Time
	connected bool
	log       zerolog.Logger
}

// send delivers ev while the consumer is connected.
func (inv *invocation) send(ctx context.Context, ev Event) bool {
	if !inv.connected {
		return false
	}
	if err := inv.q.Send(ctx, ev); err != nil {
		inv.connected = false
		inv.log.Debug().Err(err).Str("event", string(ev.Type)).Msg("consumer gone")
		return false
	}
	return true
}

func (t *Transport) run(ctx context.Context, q *Queue, req ReplyRequest, sessionType string) {
	defer q.finish()

	inv := &invocation{
		req:       req,
		q:         q,
		exec:      newExecution(req, sessionType),
		start:     time.Now(),
		connected: true,
		log:       t.log.With().Str("session_id", req.SessionID).Str("session_type", sessionType).Logger(),
	}
	t.bus.Publish(event.Event{
		Type: event.ReplyStarted,
		Data: event.ReplyStartedData{SessionID: req.SessionID, Messages: len(req.Messages)},
	})

	reply, err := t.begin(ctx, req)
	if err != nil {
		inv.log.Warn().Err(err).Msg("reply rejected")
		inv.send(ctx, ErrorEvent(err.Error()))
		t.finish(ctx, inv, len(req.Messages), 0, err)
		return
	}

	messages := types.CloneMessages(req.Messages)
	initial := len(messages)
	model := ""
	var failure error

	// The reply runs detached from ctx; a departed consumer is noticed on
	// the heartbeat and the reply is stopped rather than cancelled, so that
	// in-flight work completes and its messages are kept.
	heartbeat := time.NewTicker(t.heartbeat)
	defer heartbeat.Stop()

	stop := func(reason string) {
		inv.connected = false
		inv.log.Info().Str("reason", reason).Msg("stopping reply")
		reply.Stop()
	}

loop:
	for {
		select {
		case ev, ok := <-reply.Events():
			if !ok {
				break loop
			}
			var out Event
			switch ev.Type {
			case agent.EventMessage:
				messages = append(messages, ev.Message)
				out = MessageEvent(ev.Message)
			case agent.EventModelChange:
				model = ev.Model
				inv.exec.WithMetadata(telemetry.KeyModel, ev.Model)
				out = ModelChangeEvent(ev.Model, string(ev.Mode))
			case agent.EventNotification:
				out = NotificationEvent(ev.RequestID, ev.Notification)
			case agent.EventError:
				failure = ev.Err
				out = ErrorEvent(ev.Err.Error())
			default:
				continue
			}
			if inv.connected && !inv.send(ctx, out) {
				stop("send failed")
			}
		case <-heartbeat.C:
			if inv.connected && (q.Closed() || ctx.Err() != nil) {
				stop("consumer closed")
			}
		}
	}

	if len(messages) > initial {
		t.persist(inv, messages, model, reply.Usage())
	}
	inv.exec.WithTurnCount(reply.Turns())
	t.finish(ctx, inv, len(messages), reply.Turns(), failure)
}

// begin validates the request and starts the agent reply.
func (t *Transport) begin(ctx context.Context, req ReplyRequest) (*agent.Reply, error) {
	if t.agent == nil {
		return nil, agent.ErrNoProvider
	}
	if err := ValidateID(req.SessionID); err != nil {
		return nil, err
	}
	cfg := agent.SessionConfig{
		ID:         req.SessionID,
		WorkingDir: req.WorkingDir,
		ScheduleID: req.ScheduleID,
	}
	if req.Mode != "" {
		mode, err := agent.ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}
		cfg.Mode = mode
	}
	return t.agent.Reply(context.WithoutCancel(ctx), req.Messages, cfg)
}

// finish sends the single Finish event and the telemetry records.
func (t *Transport) finish(ctx context.Context, inv *invocation, messageCount, turns int, failure error) {
	reason := FinishStop
	result := telemetry.ResultSuccess
	if failure != nil {
		reason = FinishError
		result = telemetry.ResultFailed
		inv.exec.WithError(failure)
	}
	inv.send(ctx, FinishEvent(reason))

	elapsed := time.Since(inv.start)
	inv.exec.WithMessageCount(messageCount)
	_ = inv.exec.Finish(result, elapsed)
	t.track(inv, result, elapsed)

	data := event.ReplyFinishedData{SessionID: inv.req.SessionID, Reason: reason}
	if failure != nil {
		data.Error = failure.Error()
	}
	t.bus.Publish(event.Event{Type: event.ReplyFinished, Data: data})
	inv.log.Debug().Str("reason", reason).Int("turns", turns).Dur("elapsed", elapsed).Msg("reply finished")
}

func (t *Transport) track(inv *invocation, result telemetry.Result, elapsed time.Duration) {
	if t.telemetry == nil {
		return
	}
	if err := t.telemetry.TrackSession(inv.exec); err != nil {
		inv.log.Warn().Err(err).Msg("failed to record session telemetry")
	}
	if inv.req.RecipeName == "" || inv.req.RecipeVersion == "" {
		return
	}
	err := t.telemetry.TrackRecipe(telemetry.RecipeExecution{
		Name:        inv.req.RecipeName,
		Version:     inv.req.RecipeVersion,
		SessionType: inv.exec.SessionType,
		Result:      result,
		Duration:    elapsed,
	})
	if err != nil {
		inv.log.Warn().Err(err).Msg("failed to record recipe telemetry")
	}
}

// persist writes the transcript in the background. Failures are logged.
func (t *Transport) persist(inv *invocation, messages []types.Message, model string, usage types.Usage) {
	if t.store == nil {
		return
	}
	meta := Metadata{
		ID:         inv.req.SessionID,
		WorkingDir: inv.req.WorkingDir,
		ScheduleID: inv.req.ScheduleID,
		Model:      model,
	}
	if prov, err := t.agent.Provider(); err == nil {
		meta.Provider = prov.Metadata().Name
		if meta.Model == "" {
			meta.Model = prov.ModelConfig().Model
		}
	}

	log := inv.log
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if prior, err := t.store.Metadata(ctx, meta.ID); err == nil {
			meta.Usage = prior.Usage
		}
		meta.Usage = meta.Usage.Add(usage)
		if err := t.store.Persist(ctx, meta, messages); err != nil {
			log.Error().Err(err).Msg("failed to persist session")
			return
		}
		t.bus.Publish(event.Event{
			Type: event.SessionPersisted,
			Data: event.SessionPersistedData{SessionID: meta.ID, Messages: len(messages)},
		})
		log.Debug().Int("messages", len(messages)).Msg("session persisted")
	}()
}

func newExecution(req ReplyRequest, sessionType string) *telemetry.SessionExecution {
	exec := telemetry.NewSessionExecution(req.SessionID, sessionType).
		WithMetadata(telemetry.KeyExecutionMode, "server").
		WithMetadata(telemetry.KeySessionType, sessionType).
		WithMetadata(telemetry.KeyInterface, "ui")
	if req.RecipeName != "" {
		exec.WithMetadata(telemetry.KeySessionMode, "recipe").
			WithMetadata(telemetry.KeyRecipeName, req.RecipeName)
		if req.RecipeVersion != "" {
			exec.WithMetadata(telemetry.KeyRecipeVersion, req.RecipeVersion)
		}
	} else {
		exec.WithMetadata(telemetry.KeySessionMode, "chat")
	}
	return exec
}
