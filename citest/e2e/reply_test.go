package e2e_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/agentd/citest/testutil"
	"github.com/opencode-ai/agentd/internal/server"
	"github.com/opencode-ai/agentd/internal/session"
	"github.com/opencode-ai/agentd/pkg/types"
)

// persisted waits for the transcript of id to reach n messages.
func persisted(id string, n int) *server.SessionResponse {
	var got *server.SessionResponse
	Eventually(func() int {
		resp, err := client.Session(ctx, id)
		if err != nil {
			return -1
		}
		got = resp
		return len(resp.Messages)
	}, 5*time.Second, 20*time.Millisecond).Should(Equal(n))
	return got
}

var _ = Describe("Reply", func() {
	BeforeEach(func() {
		testServer.MockLLM.Reset()
	})

	Describe("Simple Message Exchange", func() {
		It("streams the answer and finishes with stop", func() {
			id := session.NewSessionID()
			result, err := client.Reply(ctx, []types.Message{types.UserText("Say 'Hello, World!' and nothing else.")}, testutil.ReplyOptions{SessionID: id})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.StatusCode).To(Equal(http.StatusOK))
			Expect(result.Finish()).To(Equal(session.FinishStop))
			Expect(result.FinalText()).To(Equal("Hello, World!"))

			got := persisted(id, 2)
			Expect(got.Metadata.Provider).To(Equal("openai"))
			Expect(got.Metadata.Model).To(Equal("mock-gpt-4"))
			Expect(got.Metadata.Description).To(ContainSubstring("Hello, World!"))
		})

		It("sends the system prompt and the declared calculator tools", func() {
			_, err := client.Reply(ctx, []types.Message{types.UserText("What is 2+2?")}, testutil.ReplyOptions{})
			Expect(err).NotTo(HaveOccurred())

			requests := testServer.MockLLM.Requests()
			Expect(requests).To(HaveLen(1))
			messages := requests[0].Body["messages"].([]any)
			Expect(messages[0].(map[string]any)["role"]).To(Equal("system"))
			Expect(requests[0].Body["tools"]).NotTo(BeEmpty())
			Expect(requests[0].LastPrompt()).To(Equal("What is 2+2?"))
		})

		It("continues a session from the client's transcript", func() {
			id := session.NewSessionID()
			first, err := client.Reply(ctx, []types.Message{types.UserText("hello")}, testutil.ReplyOptions{SessionID: id})
			Expect(err).NotTo(HaveOccurred())
			persisted(id, 2)

			history := append([]types.Message{types.UserText("hello")}, first.Messages()...)
			history = append(history, types.UserText("What is 2 + 2?"))
			second, err := client.Reply(ctx, history, testutil.ReplyOptions{SessionID: id})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.FinalText()).To(Equal("4"))

			got := persisted(id, 4)
			Expect(got.Messages[3].Text()).To(Equal("4"))
		})
	})

	Describe("Extension tools", func() {
		It("runs the calculator and feeds the result back to the model", func() {
			id := session.NewSessionID()
			result, err := client.Reply(ctx, []types.Message{types.UserText("Please add these numbers")}, testutil.ReplyOptions{SessionID: id})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Finish()).To(Equal(session.FinishStop))

			messages := result.Messages()
			Expect(messages).To(HaveLen(3))
			Expect(messages[0].ToolRequests()).To(HaveLen(1))
			Expect(messages[0].ToolRequests()[0].ToolCall.Name).To(Equal("calc__sum"))
			responses := messages[1].ToolResponses()
			Expect(responses).To(HaveLen(1))
			Expect(responses[0].ToolResult.Text()).To(Equal("10"))
			Expect(result.FinalText()).To(Equal("The tool returned 10."))

			persisted(id, 4)
		})

		It("reports tool errors to the model as failed results", func() {
			mockConfig := *testutil.DefaultMockLLMConfig()
			mockConfig.ToolRules = []testutil.ToolRule{{
				Match:    testutil.MatchConfig{Contains: "average of nothing"},
				Tool:     "calc__average",
				ToolCall: testutil.ToolCallConfig{ID: "call_avg", Arguments: map[string]any{"numbers": []any{}}},
			}}
			ts, err := testutil.StartTestServer(testutil.WithMockLLMConfig(&mockConfig))
			Expect(err).NotTo(HaveOccurred())
			defer ts.Stop()

			result, err := ts.Client().Reply(ctx, []types.Message{types.UserText("the average of nothing")}, testutil.ReplyOptions{})
			Expect(err).NotTo(HaveOccurred())
			responses := result.Messages()[1].ToolResponses()
			Expect(responses).To(HaveLen(1))
			Expect(responses[0].ToolResult.IsError()).To(BeTrue())
			Expect(result.FinalText()).To(ContainSubstring("at least one number"))
		})
	})

	Describe("Confirmations", func() {
		confirmWith := func(action string) *testutil.ReplyResult {
			var confirmed []string
			result, err := client.Reply(ctx, []types.Message{types.UserText("add these numbers")}, testutil.ReplyOptions{
				Mode: "approve",
				OnMessage: func(m types.Message) {
					for _, c := range m.Content {
						if req, ok := c.(*types.ToolConfirmationRequest); ok {
							Expect(req.ToolName).To(Equal("calc__sum"))
							Expect(client.Confirm(ctx, req.ID, action)).To(Succeed())
							confirmed = append(confirmed, req.ID)
						}
					}
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(confirmed).To(HaveLen(1))
			Expect(result.Finish()).To(Equal(session.FinishStop))
			return result
		}

		It("runs the tool once allowed", func() {
			result := confirmWith("allow_once")
			Expect(result.FinalText()).To(Equal("The tool returned 10."))
		})

		It("declines the call when denied", func() {
			result := confirmWith("deny_once")
			var response *types.ToolResponse
			for _, m := range result.Messages() {
				if r := m.ToolResponses(); len(r) > 0 {
					response = r[0]
				}
			}
			Expect(response).NotTo(BeNil())
			Expect(response.ToolResult.IsError()).To(BeTrue())
			Expect(response.ToolResult.Error).To(ContainSubstring("declined"))
		})
	})

	Describe("Frontend tools", func() {
		BeforeEach(func() {
			resp, err := client.Post(ctx, "/agent/frontend_tools", server.FrontendToolsRequest{Tools: []types.Tool{{
				Name:        "pick_file",
				Description: "Ask the user to choose a file",
				InputSchema: []byte(`{"type":"object","properties":{"title":{"type":"string"}}}`),
			}}})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue(), resp.String())
		})

		AfterEach(func() {
			_, err := client.Delete(ctx, "/agent/frontend_tools/pick_file")
			Expect(err).NotTo(HaveOccurred())
		})

		It("waits for the client to submit the result", func() {
			result, err := client.Reply(ctx, []types.Message{types.UserText("pick a file for me")}, testutil.ReplyOptions{
				OnMessage: func(m types.Message) {
					for _, c := range m.Content {
						if req, ok := c.(*types.FrontendToolRequest); ok {
							Expect(req.ToolCall.Arguments).To(HaveKeyWithValue("title", "Choose"))
							Expect(client.SubmitToolResult(ctx, req.ID, types.Success(types.NewText("/tmp/notes.txt")))).To(Succeed())
						}
					}
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.FinalText()).To(Equal("The tool returned /tmp/notes.txt."))
		})
	})

	Describe("Ask", func() {
		It("returns the joined assistant text", func() {
			resp, err := client.Post(ctx, "/ask", session.ReplyRequest{Messages: []types.Message{types.UserText("hello")}})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var got server.AskResponse
			Expect(resp.JSON(&got)).To(Succeed())
			Expect(got.Response).To(Equal("Hello! How can I help you today?"))
			Expect(got.SessionID).NotTo(BeEmpty())
		})
	})

	Describe("Authentication", func() {
		It("rejects requests without the secret key", func() {
			anon := testutil.NewTestClient(testServer.BaseURL, "")
			resp, err := anon.Get(ctx, "/sessions")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

			resp, err = anon.Get(ctx, "/status")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.String()).To(Equal("ok"))
		})
	})
})
