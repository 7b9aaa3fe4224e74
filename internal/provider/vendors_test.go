package provider_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/agentd/internal/provider"
	"github.com/opencode-ai/agentd/pkg/types"
)

var _ = Describe("Vendors against a mock LLM", func() {
	var (
		ctx      context.Context
		mock     *mockLLM
		registry *provider.Registry
		prompt   []types.Message
	)

	BeforeEach(func() {
		ctx = context.Background()
		registry = provider.DefaultRegistry()
		prompt = []types.Message{types.UserText("what is 2+2?")}
	})

	AfterEach(func() {
		if mock != nil {
			mock.Close()
		}
	})

	Describe("openai", func() {
		It("completes through /v1/chat/completions", func() {
			mock = newMockLLM(mockReply{Content: "It is 4."})
			p, err := registry.Create(ctx, "openai", params{
				"OPENAI_API_KEY": "sk-test",
				"OPENAI_HOST":    mock.URL(),
			}, provider.ModelConfig{MaxTokens: 256})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ModelConfig().Model).To(Equal("gpt-4o"))

			msg, usage, err := p.Complete(ctx, "be brief", prompt, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Text()).To(Equal("It is 4."))
			Expect(usage.Usage.TotalTokens).To(Equal(150))

			reqs := mock.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Path).To(Equal("/v1/chat/completions"))
			Expect(reqs[0].Headers.Get("Authorization")).To(Equal("Bearer sk-test"))
			Expect(reqs[0].Body).To(HaveKeyWithValue("max_completion_tokens", BeNumerically("==", 256)))
			Expect(reqs[0].Body).NotTo(HaveKey("max_tokens"))
		})
	})

	Describe("groq", func() {
		It("streams text and tool calls", func() {
			mock = newMockLLM(mockReply{
				Content:   "Let me add that.",
				ToolCalls: []mockToolCall{{ID: "call_1", Name: "calculator__sum", Arguments: `{"numbers":[2,2]}`}},
			})
			p, err := registry.Create(ctx, "groq", params{
				"GROQ_API_KEY": "gsk-test",
				"GROQ_HOST":    mock.URL(),
			}, provider.ModelConfig{})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.SupportsStreaming()).To(BeTrue())

			tools := []types.Tool{{Name: "calculator__sum", Description: "adds", InputSchema: []byte(`{"type":"object","properties":{"numbers":{"type":"array","items":{"type":"number"}}}}`)}}
			stream, err := p.Stream(ctx, "", prompt, tools)
			Expect(err).NotTo(HaveOccurred())

			msg, _, err := provider.Collect(stream)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Text()).To(Equal("Let me add that."))

			reqs := msg.ToolRequests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].ID).To(Equal("call_1"))
			Expect(reqs[0].ToolCall.Name).To(Equal("calculator__sum"))
			Expect(reqs[0].ToolCall.Arguments["numbers"]).To(Equal([]any{2.0, 2.0}))

			sent := mock.Requests()
			Expect(sent[0].Path).To(Equal("/openai/v1/chat/completions"))
			Expect(sent[0].Body["model"]).To(Equal("llama-3.3-70b-versatile"))
			Expect(sent[0].Body["tools"]).To(HaveLen(1))
		})
	})

	Describe("databricks", func() {
		var cfg params

		BeforeEach(func() {
			mock = newMockLLM()
			cfg = params{
				"DATABRICKS_HOST":                      mock.URL(),
				"DATABRICKS_TOKEN":                     "dapi-test",
				"DATABRICKS_MAX_RETRIES":               "2",
				"DATABRICKS_INITIAL_RETRY_INTERVAL_MS": "1",
				"DATABRICKS_MAX_RETRY_INTERVAL_MS":     "5",
			}
		})

		It("retries rate limited requests with its configured policy", func() {
			mock.script = []mockReply{
				{Status: 429, Error: "Too many requests"},
				{Content: "done"},
			}
			p, err := registry.Create(ctx, "databricks", cfg, provider.ModelConfig{Model: "my-endpoint"})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.RetryConfig().MaxRetries).To(Equal(2))

			msg, err := provider.Retry(ctx, p.RetryConfig(), func(ctx context.Context) (types.Message, error) {
				m, _, err := p.Complete(ctx, "", prompt, nil)
				return m, err
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Text()).To(Equal("done"))

			reqs := mock.Requests()
			Expect(reqs).To(HaveLen(2))
			Expect(reqs[0].Path).To(Equal("/serving-endpoints/chat/completions"))
			Expect(reqs[0].Body["model"]).To(Equal("my-endpoint"))
		})

		It("does not retry when the context is too long", func() {
			mock.script = []mockReply{{Status: 400, Error: "Input is too long for requested model."}}
			p, err := registry.Create(ctx, "databricks", cfg, provider.ModelConfig{Model: "my-endpoint"})
			Expect(err).NotTo(HaveOccurred())

			_, err = provider.Retry(ctx, p.RetryConfig(), func(ctx context.Context) (types.Message, error) {
				m, _, err := p.Complete(ctx, "", prompt, nil)
				return m, err
			})
			Expect(provider.IsContextLengthExceeded(err)).To(BeTrue())
			Expect(mock.Requests()).To(HaveLen(1))
		})
	})

	Describe("anthropic", func() {
		It("completes through /v1/messages", func() {
			mock = newMockLLM(mockReply{Content: "Four."})
			p, err := registry.Create(ctx, "anthropic", params{
				"ANTHROPIC_API_KEY": "sk-ant-test",
				"ANTHROPIC_HOST":    mock.URL(),
			}, provider.ModelConfig{})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ModelConfig().Model).To(Equal("claude-3-5-sonnet-latest"))

			msg, usage, err := p.Complete(ctx, "be brief", prompt, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Text()).To(Equal("Four."))
			Expect(usage.Usage.InputTokens).To(Equal(100))

			reqs := mock.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Path).To(Equal("/v1/messages"))
			Expect(reqs[0].Headers.Get("X-Api-Key")).To(Equal("sk-ant-test"))
		})
	})
})
