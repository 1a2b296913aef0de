package runcache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/persona"
	"consilium.app/panel/internal/runcache"
)

var _ = Describe("Fingerprint", func() {
	var (
		c    model.Case
		ex   model.ClarifyingExchange
		team model.TeamConfiguration
		ev   []model.EvidenceSnippet
	)

	BeforeEach(func() {
		c = model.Case{
			Agenda:    "62M with new-onset atrial fibrillation, on warfarin, presenting with hematuria",
			Questions: []string{"Adjust anticoagulation?"},
			Rules:     []string{"cite guidelines where possible"},
		}
		ex = model.ClarifyingExchange{
			{Question: "Current INR?", Answer: "3.4"},
			{Question: "Prior bleeding events?"},
		}
		team = persona.DefaultMedicalTeam("gpt-5-mini")
		ev = []model.EvidenceSnippet{
			{Kind: model.EvidenceWeb, Title: "AF management", Summary: "overview", Locator: "https://example.org/af"},
			{Kind: model.EvidenceLiterature, Title: "Warfarin and hematuria", Summary: "cohort study", Locator: "PMID: 12345"},
		}
	})

	It("is a pure function of its inputs", func() {
		a := runcache.Fingerprint(c, ex, team, 2, ev)
		b := runcache.Fingerprint(c, ex, team, 2, ev)
		Expect(a).To(Equal(b))
		Expect(a).To(HaveLen(64))
	})

	It("treats evidence as an unordered set", func() {
		reversed := []model.EvidenceSnippet{ev[1], ev[0]}
		Expect(runcache.Fingerprint(c, ex, team, 2, reversed)).
			To(Equal(runcache.Fingerprint(c, ex, team, 2, ev)))
	})

	It("changes when any single input changes", func() {
		base := runcache.Fingerprint(c, ex, team, 2, ev)

		altered := c
		altered.Agenda += " and fatigue"
		Expect(runcache.Fingerprint(altered, ex, team, 2, ev)).NotTo(Equal(base))

		withRule := c
		withRule.Rules = append(append([]string(nil), c.Rules...), "no invasive procedures")
		Expect(runcache.Fingerprint(withRule, ex, team, 2, ev)).NotTo(Equal(base))

		answered := append(model.ClarifyingExchange(nil), ex...)
		answered[1].Answer = "none"
		Expect(runcache.Fingerprint(c, answered, team, 2, ev)).NotTo(Equal(base))

		extraQuestion := append(append(model.ClarifyingExchange(nil), ex...), model.QA{Question: "Renal function?"})
		Expect(runcache.Fingerprint(c, extraQuestion, team, 2, ev)).NotTo(Equal(base))

		retuned := persona.DefaultMedicalTeam("gpt-4.1-nano")
		Expect(runcache.Fingerprint(c, ex, retuned, 2, ev)).NotTo(Equal(base))

		reordered := team
		reordered.Specialists = []model.AgentPersona{team.Specialists[1], team.Specialists[0], team.Specialists[2]}
		Expect(runcache.Fingerprint(c, ex, reordered, 2, ev)).NotTo(Equal(base))

		Expect(runcache.Fingerprint(c, ex, team, 3, ev)).NotTo(Equal(base))

		extraSnippet := append(append([]model.EvidenceSnippet(nil), ev...), model.EvidenceSnippet{
			Kind: model.EvidenceWeb, Title: "third", Summary: "s", Locator: "https://example.org/third",
		})
		Expect(runcache.Fingerprint(c, ex, team, 2, extraSnippet)).NotTo(Equal(base))

		reworded := append([]model.EvidenceSnippet(nil), ev...)
		reworded[0].Summary = "revised overview"
		Expect(runcache.Fingerprint(c, ex, team, 2, reworded)).NotTo(Equal(base))
	})

	It("does not distinguish nil from empty evidence", func() {
		Expect(runcache.Fingerprint(c, ex, team, 2, nil)).
			To(Equal(runcache.Fingerprint(c, ex, team, 2, []model.EvidenceSnippet{})))
	})
})
