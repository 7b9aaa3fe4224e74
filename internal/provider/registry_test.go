package provider_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/agentd/internal/provider"
	"github.com/opencode-ai/agentd/pkg/types"
)

var _ = Describe("Registry", func() {
	ctx := context.Background()

	It("lists built-in vendors sorted by name", func() {
		var names []string
		for _, m := range provider.DefaultRegistry().Metadata() {
			names = append(names, m.Name)
		}
		Expect(names).To(Equal([]string{"anthropic", "ark", "databricks", "groq", "openai"}))
	})

	It("describes required credentials", func() {
		for _, m := range provider.DefaultRegistry().Metadata() {
			if m.Name != "anthropic" {
				continue
			}
			Expect(m.ConfigKeys).To(ContainElement(provider.ConfigKey{Name: "ANTHROPIC_API_KEY", Required: true, Secret: true}))
		}
	})

	It("rejects unknown vendors", func() {
		_, err := provider.DefaultRegistry().Create(ctx, "nope", params{}, provider.ModelConfig{})
		Expect(err).To(MatchError(ContainSubstring("unknown provider")))
	})

	It("reports missing credentials", func() {
		_, err := provider.DefaultRegistry().Create(ctx, "groq", params{}, provider.ModelConfig{})
		Expect(err).To(MatchError(ContainSubstring("GROQ_API_KEY")))
	})

	It("requires an Ark endpoint id", func() {
		_, err := provider.DefaultRegistry().Create(ctx, "ark", params{"ARK_API_KEY": "k"}, provider.ModelConfig{})
		Expect(err).To(MatchError(ContainSubstring("ARK_MODEL_ID")))
	})

	It("selects the configured vendor and model", func() {
		r := provider.NewRegistry()
		var got provider.ModelConfig
		r.Register(provider.Metadata{Name: "stub", DefaultModel: "stub-1"}, func(ctx context.Context, cfg provider.ConfigReader, mc provider.ModelConfig) (provider.Provider, error) {
			got = mc
			return nil, nil
		})

		_, err := r.FromConfig(ctx, params{"AGENTD_PROVIDER": "stub", "AGENTD_MODEL": "stub-2"}, provider.ModelConfig{}, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Model).To(Equal("stub-2"))

		_, err = r.FromConfig(ctx, params{}, provider.ModelConfig{}, "stub")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Model).To(Equal("stub-1"))

		_, err = r.FromConfig(ctx, params{}, provider.ModelConfig{}, "")
		Expect(err).To(MatchError(ContainSubstring("no provider configured")))
	})

	It("reports a vendor configured once its required keys are set", func() {
		meta := provider.Metadata{Name: "stub", ConfigKeys: []provider.ConfigKey{
			{Name: "STUB_API_KEY", Required: true, Secret: true},
			{Name: "STUB_HOST"},
		}}
		Expect(provider.Configured(params{}, meta)).To(BeFalse())
		Expect(provider.Configured(params{"STUB_API_KEY": ""}, meta)).To(BeFalse())
		Expect(provider.Configured(params{"STUB_API_KEY": "k"}, meta)).To(BeTrue())
		Expect(provider.Configured(nil, meta)).To(BeFalse())
	})
})

var _ = Describe("Live vendors", Label("live"), func() {
	ctx := context.Background()

	live := func(name, keyVar string) {
		It("answers a short prompt via "+name, func() {
			if os.Getenv(keyVar) == "" {
				Skip(keyVar + " not set")
			}
			env := params{}
			for _, k := range provider.DefaultRegistry().Metadata() {
				if k.Name != name {
					continue
				}
				for _, ck := range k.ConfigKeys {
					if v := os.Getenv(ck.Name); v != "" {
						env[ck.Name] = v
					}
				}
			}

			p, err := provider.DefaultRegistry().Create(ctx, name, env, provider.ModelConfig{MaxTokens: 64})
			Expect(err).NotTo(HaveOccurred())

			msg, _, err := p.Complete(ctx, "Answer with a single word.", []types.Message{types.UserText("Say hello")}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Text()).NotTo(BeEmpty())
		})
	}

	live("anthropic", "ANTHROPIC_API_KEY")
	live("openai", "OPENAI_API_KEY")
	live("groq", "GROQ_API_KEY")
	live("ark", "ARK_API_KEY")
})
