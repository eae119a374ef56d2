package prompt

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meyrevived/crc-provider/internal/crc"
)

func TestPrompt(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Prompt Suite")
}

var _ = Describe("Prompt", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("TerminalPrompter", func() {
		var p *TerminalPrompter

		BeforeEach(func() {
			p = NewTerminalPrompter()
			p.isTerminal = func() bool { return false }
		})

		It("should refuse to prompt for a pull secret without a terminal", func() {
			_, err := p.PullSecret(ctx)
			Expect(err).To(MatchError(ErrNoInput))
		})

		It("should keep the current preset without a terminal", func() {
			preset, err := p.SelectPreset(ctx, crc.PresetMicroShift)
			Expect(err).To(MatchError(ErrNoInput))
			Expect(preset).To(Equal(crc.PresetMicroShift))
		})

		It("should not confirm without a terminal", func() {
			ok, err := p.Confirm(ctx, "Delete the cluster?")
			Expect(err).To(MatchError(ErrNoInput))
			Expect(ok).To(BeFalse())
		})
	})

	Describe("StaticPrompter", func() {
		It("should hand out the pull secret once", func() {
			p := NewStaticPrompter(`  {"auths":{"r":{"auth":"x"}}}  `)

			secret, err := p.PullSecret(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(secret).To(Equal(`{"auths":{"r":{"auth":"x"}}}`))

			_, err = p.PullSecret(ctx)
			Expect(err).To(MatchError(ErrNoInput))
		})

		It("should report no input for an empty secret", func() {
			_, err := NewStaticPrompter("").PullSecret(ctx)
			Expect(err).To(MatchError(ErrNoInput))
		})

		It("should answer the preset and confirmation from its fields", func() {
			p := NewStaticPrompter("")
			preset, err := p.SelectPreset(ctx, crc.PresetOpenShift)
			Expect(err).NotTo(HaveOccurred())
			Expect(preset).To(Equal(crc.PresetOpenShift))

			p.Preset = crc.PresetPodman
			p.Confirmed = true
			preset, _ = p.SelectPreset(ctx, crc.PresetOpenShift)
			Expect(preset).To(Equal(crc.PresetPodman))
			Expect(p.Confirm(ctx, "ok?")).To(BeTrue())
		})
	})
})
