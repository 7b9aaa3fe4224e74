package agent_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/agentd/internal/agent"
	"github.com/opencode-ai/agentd/internal/agent/agenttest"
	"github.com/opencode-ai/agentd/internal/permission"
	"github.com/opencode-ai/agentd/internal/provider"
	"github.com/opencode-ai/agentd/pkg/types"
)

var _ = Describe("Reply", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		host   *agenttest.ToolHost
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)
		host = agenttest.NewToolHost().
			Returns("calculator__sum", "6").
			Returns("calculator__average", "2")
	})

	newAgent := func(p provider.Provider, opts ...func(*agent.Options)) *agent.Agent {
		o := agent.Options{Provider: p, ToolHost: host}
		for _, fn := range opts {
			fn(&o)
		}
		return agent.New(o)
	}

	start := func(a *agent.Agent, cfg agent.SessionConfig, history ...types.Message) *agent.Reply {
		GinkgoHelper()
		if len(history) == 0 {
			history = []types.Message{types.UserText("hi")}
		}
		r, err := a.Reply(ctx, history, cfg)
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	sumCall := agenttest.Call{ID: "call_1", Name: "calculator__sum", Args: map[string]any{"numbers": []any{1.0, 2.0, 3.0}}}

	Context("without tool calls", func() {
		It("emits the assistant message and ends", func() {
			p := agenttest.NewProvider("m1", agenttest.Text("hello"))
			events := collect(start(newAgent(p), agent.SessionConfig{}), nil)

			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal(agent.EventMessage))
			Expect(events[0].Message.Role).To(Equal(types.RoleAssistant))
			Expect(events[0].Message.Text()).To(Equal("hello"))
			Expect(p.Calls()).To(Equal(1))
		})

		It("collects streamed deltas into one message", func() {
			p := agenttest.NewProvider("m1", agenttest.Text("hello there world"))
			p.Streaming = true
			events := collect(start(newAgent(p), agent.SessionConfig{}), nil)

			msgs := messagesOf(events)
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Text()).To(Equal("hello there world"))
		})

		It("sends the declared tools and a system prompt", func() {
			p := agenttest.NewProvider("m1", agenttest.Text("ok"))
			collect(start(newAgent(p), agent.SessionConfig{WorkingDir: "/tmp/project"}), nil)

			req := p.Requests()[0]
			Expect(req.System).To(ContainSubstring("Working Directory: /tmp/project"))
			Expect(req.System).To(ContainSubstring("calculator (2 tools)"))
			names := []string{}
			for _, t := range req.Tools {
				names = append(names, t.Name)
			}
			Expect(names).To(ConsistOf("calculator__sum", "calculator__average"))
		})
	})

	Context("with tool calls", func() {
		It("runs the tool and re-prompts with the response", func() {
			p := agenttest.NewProvider("m1", agenttest.ToolCalls(sumCall), agenttest.Text("the sum is 6"))
			events := collect(start(newAgent(p), agent.SessionConfig{}), nil)

			msgs := messagesOf(events)
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[0].HasToolRequests()).To(BeTrue())
			Expect(msgs[1].Role).To(Equal(types.RoleUser))
			Expect(responsesOf(msgs[1])["call_1"].Text()).To(Equal("6"))
			Expect(msgs[2].Text()).To(Equal("the sum is 6"))

			Expect(host.Calls()).To(HaveLen(1))
			Expect(host.Calls()[0].Arguments).To(HaveKey("numbers"))
			Expect(p.Requests()[1].Messages).To(HaveLen(3))
		})

		It("attaches concurrent responses in request order", func() {
			host.Delay("calculator__sum", 100*time.Millisecond)
			p := agenttest.NewProvider("m1",
				agenttest.ToolCalls(sumCall, agenttest.Call{ID: "call_2", Name: "calculator__average"}),
				agenttest.Text("done"))

			began := time.Now()
			msgs := messagesOf(collect(start(newAgent(p), agent.SessionConfig{}), nil))
			Expect(time.Since(began)).To(BeNumerically("<", time.Second))

			responses := msgs[1].ToolResponses()
			Expect(responses).To(HaveLen(2))
			Expect(responses[0].ID).To(Equal("call_1"))
			Expect(responses[1].ID).To(Equal("call_2"))
		})

		It("turns tool host errors into failed responses", func() {
			host.Handle("calculator__explode", func(map[string]any) (types.ToolResult, error) {
				return types.ToolResult{}, errors.New("connection reset")
			})
			p := agenttest.NewProvider("m1",
				agenttest.ToolCalls(agenttest.Call{ID: "boom", Name: "calculator__explode"}),
				agenttest.Text("sorry"))
			events := collect(start(newAgent(p), agent.SessionConfig{}), nil)

			Expect(ofType(events, agent.EventError)).To(BeEmpty())
			result := responsesOf(messagesOf(events)[1])["boom"]
			Expect(result.IsError()).To(BeTrue())
			Expect(result.Error).To(ContainSubstring("connection reset"))
		})

		It("answers undecodable requests with their error", func() {
			bad := func([]types.Message) (types.Message, error) {
				return types.NewAssistantMessage(types.NewInvalidToolRequest("bad", "invalid JSON arguments")), nil
			}
			p := agenttest.NewProvider("m1", bad, agenttest.Text("retrying"))
			msgs := messagesOf(collect(start(newAgent(p), agent.SessionConfig{}), nil))

			Expect(responsesOf(msgs[1])["bad"].Error).To(Equal("invalid JSON arguments"))
			Expect(host.Calls()).To(BeEmpty())
		})

		It("suggests the closest tool for unknown names", func() {
			p := agenttest.NewProvider("m1",
				agenttest.ToolCalls(agenttest.Call{ID: "x", Name: "calculator__summ"}),
				agenttest.Text("oops"))
			msgs := messagesOf(collect(start(newAgent(p), agent.SessionConfig{}), nil))

			result := responsesOf(msgs[1])["x"]
			Expect(result.IsError()).To(BeTrue())
			Expect(result.Error).To(ContainSubstring(`Did you mean "calculator__sum"?`))
			Expect(host.Calls()).To(BeEmpty())
		})

		It("refuses repeated identical calls beyond the limit", func() {
			p := agenttest.NewProvider("m1",
				agenttest.ToolCalls(sumCall, agenttest.Call{ID: "call_again", Name: sumCall.Name, Args: sumCall.Args}),
				agenttest.Text("done"))
			msgs := messagesOf(collect(start(newAgent(p), agent.SessionConfig{MaxToolRepetitions: 1}), nil))

			responses := responsesOf(msgs[1])
			Expect(responses["call_1"].IsError()).To(BeFalse())
			Expect(responses["call_again"].Error).To(ContainSubstring("repeated"))
			Expect(host.Calls()).To(HaveLen(1))
		})

		It("stops at the turn limit and asks to continue", func() {
			p := agenttest.NewProvider("m1", agenttest.ToolCalls(sumCall), agenttest.ToolCalls(sumCall))
			msgs := messagesOf(collect(start(newAgent(p), agent.SessionConfig{MaxTurns: 1}), nil))

			Expect(p.Calls()).To(Equal(1))
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[2].Text()).To(ContainSubstring("maximum number of actions"))
		})

		It("refuses every tool in chat mode", func() {
			p := agenttest.NewProvider("m1", agenttest.ToolCalls(sumCall), agenttest.Text("fine"))
			msgs := messagesOf(collect(start(newAgent(p), agent.SessionConfig{Mode: agent.ModeChat}), nil))

			Expect(p.Requests()[0].Tools).To(BeEmpty())
			Expect(p.Requests()[0].System).To(ContainSubstring("chat mode"))
			Expect(responsesOf(msgs[1])["call_1"].Error).To(ContainSubstring("chat mode"))
			Expect(host.Calls()).To(BeEmpty())
		})

		It("refuses tools denied by policy in any mode", func() {
			policy, err := permission.NewPolicy(map[string]string{"calculator__*": "deny"})
			Expect(err).NotTo(HaveOccurred())
			p := agenttest.NewProvider("m1", agenttest.ToolCalls(sumCall), agenttest.Text("ok"))
			a := newAgent(p, func(o *agent.Options) { o.Policy = policy })
			msgs := messagesOf(collect(start(a, agent.SessionConfig{Mode: agent.ModeAuto}), nil))

			Expect(responsesOf(msgs[1])["call_1"].Error).To(ContainSubstring("not permitted"))
			Expect(host.Calls()).To(BeEmpty())
		})

		It("forwards notifications attributed to the in-flight request", func() {
			host.Notify("calculator__sum", types.Notification{
				Server: "calculator",
				Method: "notifications/message",
				Params: []byte(`{"level":"info","data":"adding"}`),
			})
			p := agenttest.NewProvider("m1", agenttest.ToolCalls(sumCall), agenttest.Text("done"))
			events := collect(start(newAgent(p), agent.SessionConfig{}), nil)

			notes := ofType(events, agent.EventNotification)
			Expect(notes).To(HaveLen(1))
			Expect(notes[0].RequestID).To(Equal("call_1"))
			Expect(notes[0].Notification.Method).To(Equal("notifications/message"))
			Expect(host.Subscribers()).To(BeZero())
		})
	})

	Context("confirmations", func() {
		It("waits for approval before running the tool", func() {
			p := agenttest.NewProvider("m1", agenttest.ToolCalls(sumCall), agenttest.Text("done"))
			a := newAgent(p)
			var asked []string
			events := collect(start(a, agent.SessionConfig{Mode: agent.ModeApprove}), func(m types.Message) {
				if req := confirmationOf(m); req != nil {
					asked = append(asked, req.ToolName)
					Expect(host.Calls()).To(BeEmpty())
					Expect(a.HandleConfirmation("", req.ID, permission.Confirmation{Permission: permission.AllowOnce})).To(BeTrue())
				}
			})

			Expect(asked).To(Equal([]string{"calculator__sum"}))
			msgs := messagesOf(events)
			Expect(msgs).To(HaveLen(4))
			Expect(responsesOf(msgs[2])["call_1"].Text()).To(Equal("6"))
			Expect(host.Calls()).To(HaveLen(1))
			Expect(a.PendingCount()).To(BeZero())
		})

		It("synthesizes a refusal when denied", func() {
			p := agenttest.NewProvider("m1", agenttest.ToolCalls(sumCall), agenttest.Text("understood"))
			a := newAgent(p)
			events := collect(start(a, agent.SessionConfig{Mode: agent.ModeApprove}), func(m types.Message) {
				if req := confirmationOf(m); req != nil {
					a.HandleConfirmation("", req.ID, permission.Confirmation{Permission: permission.ParseAction("nonsense")})
				}
			})

			result := responsesOf(messagesOf(events)[2])["call_1"]
			Expect(result.IsError()).To(BeTrue())
			Expect(result.Error).To(ContainSubstring("declined"))
			Expect(host.Calls()).To(BeEmpty())
			Expect(p.Calls()).To(Equal(2))
		})

		It("remembers always-allow grants for the extension", func() {
			p := agenttest.NewProvider("m1",
				agenttest.ToolCalls(sumCall),
				agenttest.ToolCalls(agenttest.Call{ID: "call_2", Name: "calculator__average"}),
				agenttest.Text("done"))
			a := newAgent(p)
			confirmations := 0
			collect(start(a, agent.SessionConfig{Mode: agent.ModeApprove}), func(m types.Message) {
				if req := confirmationOf(m); req != nil {
					confirmations++
					a.HandleConfirmation("", req.ID, permission.Confirmation{
						PrincipalType: permission.PrincipalExtension,
						Permission:    permission.AlwaysAllow,
					})
				}
			})

			Expect(confirmations).To(Equal(1))
			Expect(host.Calls()).To(HaveLen(2))
		})

		It("only asks for tools the policy leaves undecided in smart approve", func() {
			policy, err := permission.NewPolicy(map[string]string{"calculator__sum": "allow"})
			Expect(err).NotTo(HaveOccurred())
			p := agenttest.NewProvider("m1",
				agenttest.ToolCalls(sumCall, agenttest.Call{ID: "call_2", Name: "calculator__average"}),
				agenttest.Text("done"))
			a := newAgent(p, func(o *agent.Options) { o.Policy = policy })
			var asked []string
			collect(start(a, agent.SessionConfig{Mode: agent.ModeSmartApprove}), func(m types.Message) {
				if req := confirmationOf(m); req != nil {
					asked = append(asked, req.ToolName)
					a.HandleConfirmation("", req.ID, permission.Confirmation{Permission: permission.AllowOnce})
				}
			})

			Expect(asked).To(Equal([]string{"calculator__average"}))
			Expect(host.Calls()).To(HaveLen(2))
		})

		It("keeps same-id confirmations of concurrent sessions apart", func() {
			p := agenttest.NewProvider("m1",
				agenttest.ToolCalls(sumCall),
				agenttest.ToolCalls(sumCall),
				agenttest.Text("b done"),
				agenttest.Text("a done"))
			a := newAgent(p)

			waitForConfirmation := func(r *agent.Reply) *types.ToolConfirmationRequest {
				GinkgoHelper()
				for ev := range r.Events() {
					if req := confirmationOf(ev.Message); ev.Type == agent.EventMessage && req != nil {
						return req
					}
				}
				Fail("no confirmation requested")
				return nil
			}

			ra := start(a, agent.SessionConfig{ID: "session_a", Mode: agent.ModeApprove})
			reqA := waitForConfirmation(ra)
			rb := start(a, agent.SessionConfig{ID: "session_b", Mode: agent.ModeApprove})
			reqB := waitForConfirmation(rb)
			Expect(reqA.ID).To(Equal(reqB.ID))
			Expect(a.PendingCount()).To(Equal(2))

			Expect(a.HandleConfirmation("", reqB.ID, permission.Confirmation{Permission: permission.AllowOnce})).To(BeFalse())
			Expect(a.HandleConfirmation("session_b", reqB.ID, permission.Confirmation{Permission: permission.DenyOnce})).To(BeTrue())
			msgsB := messagesOf(collect(rb, nil))
			Expect(responsesOf(msgsB[0])["call_1"].Error).To(ContainSubstring("declined"))
			Expect(msgsB[1].Text()).To(Equal("b done"))
			Expect(a.PendingCount()).To(Equal(1))

			Expect(a.HandleConfirmation("session_a", reqA.ID, permission.Confirmation{Permission: permission.AllowOnce})).To(BeTrue())
			msgsA := messagesOf(collect(ra, nil))
			Expect(responsesOf(msgsA[0])["call_1"].Text()).To(Equal("6"))
			Expect(msgsA[1].Text()).To(Equal("a done"))
			Expect(host.Calls()).To(HaveLen(1))
			Expect(a.PendingCount()).To(BeZero())
		})

		It("treats a stop while waiting as a denial and ends the reply", func() {
			p := agenttest.NewProvider("m1", agenttest.ToolCalls(sumCall), agenttest.Text("never"))
			a := newAgent(p)
			var r *agent.Reply
			r = start(a, agent.SessionConfig{Mode: agent.ModeApprove})
			events := collect(r, func(m types.Message) {
				if confirmationOf(m) != nil {
					r.Stop()
					r.Stop()
				}
			})

			msgs := messagesOf(events)
			Expect(msgs).To(HaveLen(3))
			Expect(responsesOf(msgs[2])["call_1"].IsError()).To(BeTrue())
			Expect(p.Calls()).To(Equal(1))
			Expect(host.Calls()).To(BeEmpty())
			Expect(a.PendingCount()).To(BeZero())
		})
	})

	Context("frontend tools", func() {
		It("waits for the client to submit the result", func() {
			p := agenttest.NewProvider("m1",
				agenttest.ToolCalls(agenttest.Call{ID: "fe_1", Name: "pick_file", Args: map[string]any{"filter": "*.go"}}),
				agenttest.Text("you picked main.go"))
			a := newAgent(p)
			Expect(a.RegisterFrontendTools([]types.Tool{{Name: "pick_file", Description: "Ask the user for a file"}})).To(Succeed())

			events := collect(start(a, agent.SessionConfig{}), func(m types.Message) {
				if req := frontendRequestOf(m); req != nil {
					Expect(req.ToolCall.Arguments).To(HaveKeyWithValue("filter", "*.go"))
					Expect(a.HandleToolResult("", req.ID, types.Success(types.NewText("main.go")))).To(BeTrue())
					Expect(a.HandleToolResult("", req.ID, types.Success(types.NewText("again")))).To(BeFalse())
				}
			})

			msgs := messagesOf(events)
			Expect(msgs).To(HaveLen(4))
			Expect(responsesOf(msgs[2])["fe_1"].Text()).To(Equal("main.go"))
			Expect(p.Requests()[0].Tools).To(ContainElement(HaveField("Name", "pick_file")))
			Expect(host.Calls()).To(BeEmpty())
		})
	})

	Context("provider failures", func() {
		It("ends with one error on context length exceeded without retrying", func() {
			p := agenttest.NewProvider("m1",
				agenttest.Fail(provider.NewError(provider.KindContextLengthExceeded, "prompt is too long")),
				agenttest.Text("unreachable"))
			events := collect(start(newAgent(p), agent.SessionConfig{}), nil)

			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal(agent.EventError))
			Expect(provider.IsContextLengthExceeded(events[0].Err)).To(BeTrue())
			Expect(p.Calls()).To(Equal(1))
		})

		It("retries transient failures", func() {
			p := agenttest.NewProvider("m1",
				agenttest.Fail(provider.NewError(provider.KindServer, "502 bad gateway")),
				agenttest.Text("recovered"))
			events := collect(start(newAgent(p), agent.SessionConfig{}), nil)

			Expect(ofType(events, agent.EventError)).To(BeEmpty())
			Expect(messagesOf(events)[0].Text()).To(Equal("recovered"))
			Expect(p.Calls()).To(Equal(2))
		})

		It("honours a per-session retry policy", func() {
			p := agenttest.NewProvider("m1",
				agenttest.Fail(provider.NewError(provider.KindRateLimited, "slow down")),
				agenttest.Text("unreachable"))
			noRetry := provider.RetryConfig{MaxRetries: -1}
			events := collect(start(newAgent(p), agent.SessionConfig{Retry: &noRetry}), nil)

			Expect(ofType(events, agent.EventError)).To(HaveLen(1))
			Expect(p.Calls()).To(Equal(1))
		})

		It("rejects a reply without a provider", func() {
			_, err := agent.New(agent.Options{}).Reply(ctx, []types.Message{types.UserText("hi")}, agent.SessionConfig{})
			Expect(err).To(MatchError(agent.ErrNoProvider))
		})

		It("rejects a malformed transcript", func() {
			orphan := types.NewUserMessage(types.NewToolResponse("nope", types.Success()))
			_, err := newAgent(agenttest.NewProvider("m1")).Reply(ctx, []types.Message{orphan}, agent.SessionConfig{})
			Expect(err).To(MatchError(types.ErrOrphanToolResponse))
		})
	})

	Context("provider swaps", func() {
		It("emits a model change when the provider changes mid-reply", func() {
			first := agenttest.NewProvider("model-a", agenttest.ToolCalls(agenttest.Call{ID: "sw", Name: "calculator__switch"}))
			second := agenttest.NewProvider("model-b", agenttest.Text("answered by b"))
			var a *agent.Agent
			host.Handle("calculator__switch", func(map[string]any) (types.ToolResult, error) {
				a.UpdateProvider(second)
				return types.Success(types.NewText("switched")), nil
			})
			a = newAgent(first)

			events := collect(start(a, agent.SessionConfig{Mode: agent.ModeAuto}), nil)

			changes := ofType(events, agent.EventModelChange)
			Expect(changes).To(HaveLen(1))
			Expect(changes[0].Model).To(Equal("model-b"))
			Expect(changes[0].Mode).To(Equal(agent.ModeAuto))
			msgs := messagesOf(events)
			Expect(msgs[len(msgs)-1].Text()).To(Equal("answered by b"))
			Expect(first.Calls()).To(Equal(1))
			Expect(second.Calls()).To(Equal(1))
		})
	})
})
