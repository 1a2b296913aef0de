package clarify_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"consilium.app/panel/common/llm"
	"consilium.app/panel/internal/clarify"
	"consilium.app/panel/internal/model"
)

var _ = Describe("Assistant", func() {
	var (
		client    *mockClient
		assistant *clarify.Assistant
		caseIn    model.Case
	)

	BeforeEach(func() {
		client = &mockClient{}
		assistant = clarify.NewAssistant(client, "medical", 5)
		caseIn = model.Case{Agenda: "62M with new-onset atrial fibrillation, on warfarin, presenting with hematuria."}
	})

	Describe("Suggest", func() {
		It("returns the generated questions stripped of numbering", func() {
			client.ChatFn = func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
				Expect(req.SchemaName).To(Equal("clarifying_questions"))
				Expect(req.UserPrompt).To(ContainSubstring("atrial fibrillation"))
				Expect(req.UserPrompt).To(ContainSubstring("Return exactly 5 clarifying questions"))
				Expect(req.Temperature).To(HaveValue(Equal(0.3)))

				payload := `{"questions":["1. What is the current INR?","2. Any hemodynamic instability?","- Duration of hematuria?"]}`
				return &llm.Response{}, json.Unmarshal([]byte(payload), result)
			}

			questions := assistant.Suggest(context.Background(), caseIn)

			Expect(questions).To(Equal([]string{
				"What is the current INR?",
				"Any hemodynamic instability?",
				"Duration of hematuria?",
			}))
			Expect(client.ChatCalls).To(Equal(1))
		})

		It("caps and deduplicates the question list", func() {
			client.ChatFn = func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
				var qs []string
				qs = append(qs, "What is the current INR?", "What is the current INR?")
				for i := 0; i < 6; i++ {
					qs = append(qs, fmt.Sprintf("Question %d?", i))
				}
				payload, _ := json.Marshal(map[string]any{"questions": qs})
				return &llm.Response{}, json.Unmarshal(payload, result)
			}

			questions := assistant.Suggest(context.Background(), caseIn)

			Expect(questions).To(HaveLen(5))
			Expect(questions[0]).To(Equal("What is the current INR?"))
			Expect(questions[1]).To(Equal("Question 0?"))
		})

		It("degrades to no questions when the completion fails", func() {
			client.ChatFn = func(_ context.Context, _ llm.Request, _ any) (*llm.Response, error) {
				return nil, errors.New("model overloaded")
			}

			Expect(assistant.Suggest(context.Background(), caseIn)).To(BeEmpty())
		})

		It("returns nothing without a configured client", func() {
			disabled := clarify.NewAssistant(nil, "medical", 5)

			Expect(disabled.Suggest(context.Background(), caseIn)).To(BeEmpty())
		})
	})
})

var _ = Describe("ParseQuestions", func() {
	DescribeTable("normalizes completion output",
		func(content string, max int, expected []string) {
			Expect(clarify.ParseQuestions(content, max)).To(Equal(expected))
		},
		Entry("numbered list", "1. First?\n2. Second?", 5, []string{"First?", "Second?"}),
		Entry("dash bullets", "- First?\n- Second?", 5, []string{"First?", "Second?"}),
		Entry("unicode bullets", "• First?\n• Second?", 5, []string{"First?", "Second?"}),
		Entry("blank lines skipped", "1. First?\n\n\n2. Second?", 5, []string{"First?", "Second?"}),
		Entry("duplicates dropped", "1. Same?\n2. Same?\n3. Other?", 5, []string{"Same?", "Other?"}),
		Entry("capped at max", "1. A?\n2. B?\n3. C?", 2, []string{"A?", "B?"}),
		Entry("numbered without dot kept whole", "10) Which dose?", 5, []string{"10) Which dose?"}),
		Entry("zero max", "1. A?", 0, nil),
		Entry("empty content", "", 5, nil),
	)
})

var _ = Describe("Apply", func() {
	caseIn := model.Case{Agenda: "62M with new-onset atrial fibrillation."}

	It("appends answered pairs to the agenda verbatim", func() {
		out := clarify.Apply(caseIn, model.ClarifyingExchange{
			{Question: "What is the current INR?", Answer: "4.2"},
			{Question: "Any prior bleeding events?", Answer: "None documented"},
		})

		Expect(out.Agenda).To(HavePrefix(caseIn.Agenda))
		Expect(out.Agenda).To(ContainSubstring("Clarifications provided by user:"))
		Expect(out.Agenda).To(ContainSubstring("- What is the current INR?\n  Answer: 4.2"))
		Expect(out.Agenda).To(ContainSubstring("- Any prior bleeding events?\n  Answer: None documented"))
	})

	It("discards unanswered questions", func() {
		out := clarify.Apply(caseIn, model.ClarifyingExchange{
			{Question: "What is the current INR?", Answer: "4.2"},
			{Question: "Any prior bleeding events?"},
		})

		Expect(out.Agenda).To(ContainSubstring("What is the current INR?"))
		Expect(out.Agenda).NotTo(ContainSubstring("prior bleeding events"))
	})

	It("leaves the case untouched when nothing was answered", func() {
		out := clarify.Apply(caseIn, model.ClarifyingExchange{
			{Question: "Unanswered?"},
		})

		Expect(out).To(Equal(caseIn))
	})

	It("does not mutate the input case", func() {
		_ = clarify.Apply(caseIn, model.ClarifyingExchange{{Question: "Q?", Answer: "A"}})

		Expect(caseIn.Agenda).To(Equal("62M with new-onset atrial fibrillation."))
	})
})
