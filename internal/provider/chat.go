package provider

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentd/pkg/types"
)

// ChatProvider implements Provider on top of an eino chat model.
type ChatProvider struct {
	meta    Metadata
	model   ModelConfig
	chat    model.ToolCallingChatModel
	retry   RetryConfig
	timeout time.Duration

	// maxTokensOption lets vendors send the token limit under their own name.
	maxTokensOption func(int) model.Option
}

// NewChatProvider wraps an eino chat model.
func NewChatProvider(meta Metadata, cfg ModelConfig, chat model.ToolCallingChatModel, retry RetryConfig) *ChatProvider {
	return &ChatProvider{
		meta:  meta,
		model: cfg,
		chat:  chat,
		retry: retry,

		maxTokensOption: func(n int) model.Option { return model.WithMaxTokens(n) },
	}
}

// WithTimeout bounds each blocking Complete call.
func (p *ChatProvider) WithTimeout(d time.Duration) *ChatProvider {
	p.timeout = d
	return p
}

func (p *ChatProvider) Metadata() Metadata       { return p.meta }
func (p *ChatProvider) ModelConfig() ModelConfig { return p.model }
func (p *ChatProvider) RetryConfig() RetryConfig { return p.retry }
func (p *ChatProvider) SupportsStreaming() bool  { return true }

func (p *ChatProvider) bind(tools []types.Tool) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return p.chat, nil
	}
	bound, err := p.chat.WithTools(toEinoTools(tools))
	if err != nil {
		return nil, NewError(KindRequestFailed, "failed to bind tools: %v", err)
	}
	return bound, nil
}

func (p *ChatProvider) options() []model.Option {
	var opts []model.Option
	if p.model.MaxTokens > 0 {
		opts = append(opts, p.maxTokensOption(p.model.MaxTokens))
	}
	if p.model.Temperature != nil {
		opts = append(opts, model.WithTemperature(*p.model.Temperature))
	}
	return opts
}

// Complete generates the next assistant message in one call.
func (p *ChatProvider) Complete(ctx context.Context, system string, messages []types.Message, tools []types.Tool) (types.Message, ProviderUsage, error) {
	chat, err := p.bind(tools)
	if err != nil {
		return types.Message{}, ProviderUsage{}, err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	out, err := chat.Generate(ctx, toEinoMessages(system, messages), p.options()...)
	if err != nil {
		return types.Message{}, ProviderUsage{}, Classify(err)
	}
	return fromEinoMessage("", out), ProviderUsage{Model: p.model.Model, Usage: usageFromEino(out.ResponseMeta)}, nil
}

// Stream starts a streaming generation.
func (p *ChatProvider) Stream(ctx context.Context, system string, messages []types.Message, tools []types.Tool) (*MessageStream, error) {
	chat, err := p.bind(tools)
	if err != nil {
		return nil, err
	}
	reader, err := chat.Stream(ctx, toEinoMessages(system, messages), p.options()...)
	if err != nil {
		return nil, Classify(err)
	}
	return NewMessageStream(reader, p.model.Model), nil
}

// MessageStream yields assistant message deltas. Text and thinking arrive as
// they are produced; tool requests and usage arrive in a final delta once
// the vendor stream ends, since tool call arguments are only valid whole.
// All deltas share one message ID.
type MessageStream struct {
	reader    *schema.StreamReader[*schema.Message]
	id        string
	model     string
	chunks    []*schema.Message
	done      bool
	closeOnce sync.Once
}

// NewMessageStream wraps an eino stream reader.
func NewMessageStream(reader *schema.StreamReader[*schema.Message], modelName string) *MessageStream {
	return &MessageStream{
		reader: reader,
		id:     types.NewMessageID(),
		model:  modelName,
	}
}

// Recv returns the next delta, or io.EOF when the stream is exhausted.
// Usage is non-nil only on the final delta.
func (s *MessageStream) Recv() (types.Message, *ProviderUsage, error) {
	for {
		if s.done {
			return types.Message{}, nil, io.EOF
		}

		chunk, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.Close()
			return s.final()
		}
		if err != nil {
			s.done = true
			s.Close()
			return types.Message{}, nil, Classify(err)
		}
		if chunk == nil {
			continue
		}
		s.chunks = append(s.chunks, chunk)

		delta := s.delta()
		if chunk.ReasoningContent != "" {
			delta.Content = append(delta.Content, types.NewThinking(chunk.ReasoningContent, ""))
		}
		if chunk.Content != "" {
			delta.Content = append(delta.Content, types.NewText(chunk.Content))
		}
		if len(delta.Content) > 0 {
			return delta, nil, nil
		}
	}
}

func (s *MessageStream) final() (types.Message, *ProviderUsage, error) {
	if len(s.chunks) == 0 {
		return types.Message{}, nil, io.EOF
	}
	whole, err := schema.ConcatMessages(s.chunks)
	if err != nil {
		return types.Message{}, nil, NewError(KindRequestFailed, "malformed stream: %v", err)
	}
	delta := s.delta()
	delta.Content = append(delta.Content, toolRequestsFromEino(whole.ToolCalls)...)
	usage := &ProviderUsage{Model: s.model, Usage: usageFromEino(whole.ResponseMeta)}
	return delta, usage, nil
}

func (s *MessageStream) delta() types.Message {
	msg := types.NewAssistantMessage()
	msg.ID = s.id
	return msg
}

// Close releases the underlying connection. It is safe to call more than once.
func (s *MessageStream) Close() {
	s.closeOnce.Do(s.reader.Close)
}

// Collect drains the stream into one message, merging adjacent text and
// thinking deltas. The stream is closed on return.
func Collect(stream *MessageStream) (types.Message, ProviderUsage, error) {
	defer stream.Close()

	var msg types.Message
	var usage ProviderUsage
	started := false
	for {
		delta, u, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Message{}, ProviderUsage{}, err
		}
		if !started {
			msg = types.Message{ID: delta.ID, Role: delta.Role, Created: delta.Created, Content: []types.Content{}}
			started = true
		}
		msg.Content = mergeContent(msg.Content, delta.Content)
		if u != nil {
			usage = *u
		}
	}
	if !started {
		msg = types.NewAssistantMessage()
		usage.Model = stream.model
	}
	return msg, usage, nil
}

func mergeContent(acc []types.Content, delta []types.Content) []types.Content {
	for _, c := range delta {
		if n := len(acc); n > 0 {
			switch block := c.(type) {
			case *types.TextContent:
				if prev, ok := acc[n-1].(*types.TextContent); ok {
					acc[n-1] = types.NewText(prev.Text + block.Text)
					continue
				}
			case *types.ThinkingContent:
				if prev, ok := acc[n-1].(*types.ThinkingContent); ok {
					acc[n-1] = types.NewThinking(prev.Thinking+block.Thinking, prev.Signature+block.Signature)
					continue
				}
			}
		}
		acc = append(acc, c)
	}
	return acc
}
