package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentd/internal/logging"
)

// Topics records are published on.
const (
	TopicSession = "telemetry.session"
	TopicRecipe  = "telemetry.recipe"
)

// Sink receives published records.
type Sink interface {
	Name() string
	Handle(ctx context.Context, topic string, payload []byte) error
}

// Manager publishes execution records to watermill topics and routes them
// to sinks. Records published before Run are buffered.
type Manager struct {
	enabled bool
	pubsub  *gochannel.GoChannel
	sinks   []Sink
	log     zerolog.Logger

	subCtx    context.Context
	subCancel context.CancelFunc
	inputs    map[string]<-chan *message.Message

	closeOnce sync.Once
}

// NewManager creates a manager. A disabled manager drops every record.
func NewManager(enabled bool, sinks ...Sink) (*Manager, error) {
	m := &Manager{
		enabled: enabled,
		sinks:   sinks,
		log:     logging.Component("telemetry"),
		inputs:  make(map[string]<-chan *message.Message),
	}
	if !enabled {
		return m, nil
	}

	m.pubsub = gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 100},
		watermill.NopLogger{},
	)
	m.subCtx, m.subCancel = context.WithCancel(context.Background())
	for _, topic := range []string{TopicSession, TopicRecipe} {
		ch, err := m.pubsub.Subscribe(m.subCtx, topic)
		if err != nil {
			m.subCancel()
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		m.inputs[topic] = ch
	}
	return m, nil
}

// Enabled reports whether records are published.
func (m *Manager) Enabled() bool { return m != nil && m.enabled }

// TrackSession publishes a finished session record.
func (m *Manager) TrackSession(exec *SessionExecution) error {
	if !exec.Finished() {
		return fmt.Errorf("telemetry: session %s not finished", exec.SessionID)
	}
	return m.publish(TopicSession, exec)
}

// TrackRecipe publishes a recipe record.
func (m *Manager) TrackRecipe(rec RecipeExecution) error {
	rec.DurationMS = rec.Duration.Milliseconds()
	return m.publish(TopicRecipe, rec)
}

func (m *Manager) publish(topic string, v any) error {
	if !m.Enabled() {
		logging.Debug().Str("topic", topic).Msg("telemetry disabled, dropping record")
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", topic, err)
	}
	return m.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload))
}

// Run delivers records to the sinks until ctx is done or the manager is
// closed. Sink failures are logged and the record is acknowledged anyway.
func (m *Manager) Run(ctx context.Context) error {
	if !m.Enabled() {
		<-ctx.Done()
		return nil
	}

	var wg sync.WaitGroup
	for topic, ch := range m.inputs {
		wg.Add(1)
		go func(topic string, ch <-chan *message.Message) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					m.deliver(ctx, topic, msg)
				}
			}
		}(topic, ch)
	}
	wg.Wait()
	return nil
}

func (m *Manager) deliver(ctx context.Context, topic string, msg *message.Message) {
	defer msg.Ack()
	for _, sink := range m.sinks {
		if err := sink.Handle(ctx, topic, msg.Payload); err != nil {
			m.log.Warn().Err(err).Str("sink", sink.Name()).Str("topic", topic).Msg("telemetry sink failed")
		}
	}
}

// Close stops the subscriptions and the underlying pub/sub.
func (m *Manager) Close() error {
	if !m.Enabled() {
		return nil
	}
	var err error
	m.closeOnce.Do(func() {
		m.subCancel()
		err = m.pubsub.Close()
	})
	return err
}
