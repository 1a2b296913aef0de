package consensus_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"consilium.app/panel/internal/consensus"
	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/persona"
)

var _ = Describe("ParsePlan", func() {
	var team model.TeamConfiguration

	BeforeEach(func() {
		team = persona.DefaultMedicalTeam("gpt-5-mini")
	})

	It("ignores numbered prose when labeled items exist", func() {
		text := "Key considerations:\n" +
			"1. The patient is anticoagulated.\n" +
			"2. Renal function is declining.\n\n" +
			"Plan:\n" +
			"3. Hold warfarin\n" +
			"   Owner: Hematologist\n" +
			"   Deadline: today\n" +
			"   Tools/Resources: INR lab\n" +
			"   Success Metric: INR below 3.0\n" +
			"   Risk & Mitigation: thrombosis; bridge if needed\n"

		items, defects := consensus.ParsePlan(text, team)
		Expect(defects).To(BeEmpty())
		Expect(items).To(HaveLen(1))
		Expect(items[0].Step).To(Equal("Hold warfarin"))
	})

	It("only scans from the Recommendation heading when present", func() {
		text := "Assumptions:\n" +
			"1. Stable vitals\n" +
			"   Owner: nobody\n\n" +
			"## Recommendation\n" +
			"1. Repeat labs\n" +
			"   Owner: Nephrologist\n" +
			"   Deadline: 24h\n" +
			"   Tools/Resources: chemistry panel\n" +
			"   Success Metric: results reviewed\n" +
			"   Risk & Mitigation: delay; escalate if pending\n"

		items, defects := consensus.ParsePlan(text, team)
		Expect(defects).To(BeEmpty())
		Expect(items).To(HaveLen(1))
		Expect(items[0].Step).To(Equal("Repeat labs"))
		Expect(items[0].Owner).To(Equal("Nephrologist"))
	})

	It("stops collecting fields at the next section heading", func() {
		text := "Recommendation:\n" +
			"1. Repeat labs\n" +
			"   Owner: Nephrologist\n" +
			"Risks & Mitigations:\n" +
			"   Deadline: never\n"

		items, _ := consensus.ParsePlan(text, team)
		Expect(items).To(HaveLen(1))
		Expect(items[0].Deadline).To(BeEmpty())
	})

	It("accepts alternate field labels", func() {
		text := "1. Review medication list\n" +
			"   Owner: Cardiologist\n" +
			"   Due: tomorrow\n" +
			"   Resources: pharmacy records\n" +
			"   Metrics: reconciliation complete\n" +
			"   Risks: omission; double-check with patient\n"

		items, defects := consensus.ParsePlan(text, team)
		Expect(defects).To(BeEmpty())
		Expect(items).To(HaveLen(1))
		Expect(items[0].Deadline).To(Equal("tomorrow"))
		Expect(items[0].Tools).To(Equal("pharmacy records"))
		Expect(items[0].Metric).To(Equal("reconciliation complete"))
		Expect(items[0].Risk).To(ContainSubstring("omission"))
	})

	It("handles two-digit numbering and parenthesis markers", func() {
		text := "9) Penultimate step\n" +
			"   Owner: leader\n" +
			"   Deadline: day 9\n" +
			"   Tools/Resources: none\n" +
			"   Success Metric: done\n" +
			"   Risk & Mitigation: low\n" +
			"10) Final step\n" +
			"   Owner: leader\n" +
			"   Deadline: day 10\n" +
			"   Tools/Resources: none\n" +
			"   Success Metric: done\n" +
			"   Risk & Mitigation: low\n"

		items, defects := consensus.ParsePlan(text, team)
		Expect(defects).To(BeEmpty())
		Expect(items).To(HaveLen(2))
		Expect(items[1].Step).To(Equal("Final step"))
	})

	It("names every missing field per item", func() {
		text := "1. First\n" +
			"   Owner: Cardiologist\n" +
			"2. Second\n" +
			"   Deadline: today\n" +
			"   Success Metric: done\n"

		_, defects := consensus.ParsePlan(text, team)
		Expect(defects).To(HaveLen(2))
		Expect(defects[0]).To(Equal("item 1 is missing Deadline, Tools/Resources, Success Metric, Risk & Mitigation"))
		Expect(defects[1]).To(Equal("item 2 is missing Owner, Tools/Resources, Risk & Mitigation"))
	})

	It("reports when nothing parses", func() {
		items, defects := consensus.ParsePlan("No plan emerged from the discussion.", team)
		Expect(items).To(BeEmpty())
		Expect(defects).To(ConsistOf("no numbered action items found"))
	})
})

var _ = Describe("ResolveOwner", func() {
	team := persona.DefaultMedicalTeam("gpt-5-mini")

	DescribeTable("maps raw owners onto the roster",
		func(raw, want string) {
			Expect(consensus.ResolveOwner(raw, team)).To(Equal(want))
		},
		Entry("persona ID", "cardiologist", "cardiologist"),
		Entry("title, case-insensitive", "HEMATOLOGIST", "hematologist"),
		Entry("leader title", "Chief Medical Officer", "chief-medical-officer"),
		Entry("literal leader", "leader", model.OwnerLeader),
		Entry("literal leader, mixed case", "Leader", model.OwnerLeader),
		Entry("markdown wrapping stripped", "**Nephrologist**", "nephrologist"),
		Entry("unknown owner falls back to leader", "Radiologist", model.OwnerLeader),
		Entry("empty owner falls back to leader", "", model.OwnerLeader),
	)
})
