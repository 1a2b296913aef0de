package service_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"consilium.app/panel/common/llm"
	"consilium.app/panel/core/config"
	"consilium.app/panel/internal/clarify"
	"consilium.app/panel/internal/consensus"
	"consilium.app/panel/internal/evidence"
	"consilium.app/panel/internal/meeting"
	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/persona"
	"consilium.app/panel/internal/runcache"
	"consilium.app/panel/internal/service"
	"consilium.app/panel/internal/store"
	"consilium.app/panel/internal/transcript"
)

// finalSynthesis parses cleanly, so the synthesizer never issues a
// corrective request and call counts stay deterministic.
const finalSynthesis = `## Assumptions

1. The hematuria is anticoagulation-related until proven otherwise.
2. The patient is hemodynamically stable.

## Recommendation

1. Hold warfarin and recheck INR within 12 hours.
   - Owner: Hematologist
   - Deadline: within 12 hours
   - Tools/Resources: coagulation lab panel
   - Success Metric: INR below 3.0 before any restart decision
   - Risk & Mitigation: thromboembolism off anticoagulation; keep the hold short
2. Obtain urinalysis and renal ultrasound to localize the bleeding.
   - Owner: Nephrologist
   - Deadline: within 24 hours
   - Tools/Resources: urinalysis, renal ultrasound
   - Success Metric: bleeding source identified or excluded
   - Risk & Mitigation: missed upper-tract lesion; escalate to CT urography if unrevealing
3. Reassess rhythm and anticoagulation strategy once bleeding is controlled.
   - Owner: Cardiologist
   - Deadline: within 72 hours
   - Tools/Resources: ECG, bleeding and stroke risk scores
   - Success Metric: documented anticoagulation restart plan
   - Risk & Mitigation: stroke risk during the hold; minimize time off therapy
`

// promptText joins the user-role content of a request so scripts can key
// on prompt markers regardless of conversation length.
func promptText(req llm.AgentRequest) string {
	var b strings.Builder
	for _, m := range req.Messages {
		if m.Role == "user" {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func scriptedChat(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	prompt := promptText(req)
	switch {
	case strings.Contains(prompt, "Produce the final consensus"):
		return textResponse(finalSynthesis), nil
	case strings.Contains(prompt, "As the leader, summarize"):
		return textResponse("The panel is aligning on holding warfarin while the bleeding source is worked up."), nil
	default:
		return textResponse("Hold warfarin, trend the INR, and work up the hematuria before resuming anticoagulation."), nil
	}
}

func testConfig() config.Config {
	return config.Config{
		AgentLLM: config.LLMConfig{Model: "gpt-5-mini", MaxTokens: 4096},
		Deliberation: config.DeliberationConfig{
			DefaultRounds:     2,
			MaxRounds:         5,
			MaxQuestions:      5,
			TerminationMarker: "CONSENSUS REACHED",
			FastModel:         "gpt-4.1-nano",
			Temperature:       1.0,
		},
		Cache: config.CacheConfig{Enabled: true, MaxEntries: 16, TTL: time.Hour},
	}
}

func defaultInput() service.RunInput {
	return service.RunInput{
		Case: model.Case{Agenda: "62M with new-onset atrial fibrillation, on warfarin, presenting with hematuria."},
		Config: model.RunConfig{
			CacheEnabled:     true,
			InterimSynthesis: true,
		},
	}
}

type fixture struct {
	runs         *mockRunStore
	producer     *mockProducer
	client       *mockAgentClient
	dials        *dialRecorder
	cfg          config.Config
	artifactsDir string
	svc          service.RunService
}

func newFixture() *fixture {
	client := &mockAgentClient{model: "gpt-5-mini", ChatWithToolsFn: scriptedChat}
	dials := &dialRecorder{client: client}
	cfg := testConfig()

	dir, err := os.MkdirTemp("", "run-service-test-*")
	Expect(err).NotTo(HaveOccurred())
	writer, err := transcript.NewWriter(config.ArtifactsConfig{
		Dir:         dir,
		MaxSessions: 5,
	})
	Expect(err).NotTo(HaveOccurred())

	fx := &fixture{
		runs:         newMockRunStore(),
		producer:     &mockProducer{},
		client:       client,
		dials:        dials,
		cfg:          cfg,
		artifactsDir: dir,
	}
	fx.svc = service.NewRunService(service.RunServiceParams{
		Runs:        fx.runs,
		Producer:    fx.producer,
		Retriever:   evidence.NewRetriever(nil, config.RetrievalConfig{}),
		Meeting:     meeting.NewOrchestrator(dials.dial, cfg.Deliberation),
		Synthesizer: consensus.NewSynthesizer(dials.dial, cfg.Deliberation),
		Cache:       runcache.NewMemory(cfg.Cache),
		Artifacts:   writer,
		Policy:      persona.ModelPolicy{FastModel: cfg.Deliberation.FastModel},
		Config:      cfg,
	})
	return fx
}

var _ = Describe("RunService", func() {
	var fx *fixture

	BeforeEach(func() {
		fx = newFixture()
	})

	AfterEach(func() {
		if fx.artifactsDir != "" {
			os.RemoveAll(fx.artifactsDir)
		}
	})

	Describe("Execute", func() {
		It("runs specialists, interim synthesis, and the final consensus", func() {
			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.ID).NotTo(BeZero())
			Expect(rec.Status).To(Equal(model.RunStatusComplete))
			Expect(rec.Fingerprint).To(HaveLen(64))
			Expect(rec.StartedAt).NotTo(BeNil())
			Expect(rec.FinishedAt).NotTo(BeNil())
			Expect(fx.client.CallCount()).To(Equal(8))

			ids := make([]string, len(rec.Messages))
			rounds := make([]int, len(rec.Messages))
			for i, m := range rec.Messages {
				ids[i] = m.PersonaID
				rounds[i] = m.Round
			}
			Expect(ids).To(Equal([]string{
				"cardiologist", "hematologist", "nephrologist", "chief-medical-officer",
				"cardiologist", "hematologist", "nephrologist", "chief-medical-officer",
			}))
			Expect(rounds).To(Equal([]int{0, 0, 0, 0, 1, 1, 1, 1}))
			Expect(rec.Messages[3].Position).To(Equal(3))
			Expect(rec.Messages[7].Position).To(Equal(3))
			Expect(rec.Messages[7].Content).To(Equal(finalSynthesis))
		})

		It("resolves action item owners onto the panel", func() {
			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.Plan).NotTo(BeNil())
			Expect(rec.Plan.Summary).To(Equal(finalSynthesis))
			Expect(rec.Plan.Items).To(HaveLen(3))

			Expect(rec.Plan.Items[0].Step).To(ContainSubstring("Hold warfarin"))
			Expect(rec.Plan.Items[0].Owner).To(Equal("hematologist"))
			Expect(rec.Plan.Items[1].Owner).To(Equal("nephrologist"))
			Expect(rec.Plan.Items[2].Owner).To(Equal("cardiologist"))
			for _, item := range rec.Plan.Items {
				Expect(item.Deadline).NotTo(BeEmpty())
				Expect(item.Tools).NotTo(BeEmpty())
				Expect(item.Metric).NotTo(BeEmpty())
				Expect(item.Risk).NotTo(BeEmpty())
			}
		})

		It("moves the run through the status pipeline and persists the result", func() {
			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			Expect(fx.runs.transitions()).To(Equal([]string{
				"pending->deliberating:deliberation started",
				"deliberating->synthesizing:rounds exhausted",
				"synthesizing->complete:consensus synthesized",
			}))

			stored := fx.runs.stored(rec.ID)
			Expect(stored.Status).To(Equal(model.RunStatusComplete))
			Expect(stored.Fingerprint).To(Equal(rec.Fingerprint))
			Expect(stored.Messages).To(HaveLen(8))
			Expect(stored.Plan.Items).To(HaveLen(3))
			Expect(stored.Session).To(HavePrefix("run_"))
		})

		It("dials every persona at its configured model", func() {
			_, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			dialed := fx.dials.dialed()
			Expect(dialed).To(HaveLen(8))
			for _, name := range dialed {
				Expect(name).To(Equal("gpt-5-mini"))
			}
		})

		It("folds answered clarifications into the deliberation prompts", func() {
			in := defaultInput()
			in.Exchange = model.ClarifyingExchange{
				{Question: "Current INR?", Answer: "3.8"},
				{Question: "Any prior bleeding episodes?", Answer: ""},
			}

			_, err := fx.svc.Execute(context.Background(), in)
			Expect(err).NotTo(HaveOccurred())

			user := fx.client.Requests()[0].Messages[1].Content
			Expect(user).To(ContainSubstring("Clarifications provided by user:"))
			Expect(user).To(ContainSubstring("Current INR?"))
			Expect(user).To(ContainSubstring("Answer: 3.8"))
			Expect(user).NotTo(ContainSubstring("Any prior bleeding episodes?"))
		})

		It("stops early when the leader's interim declares consensus", func() {
			fx.client.ChatWithToolsFn = func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				prompt := promptText(req)
				switch {
				case strings.Contains(prompt, "Produce the final consensus"):
					return textResponse(finalSynthesis), nil
				case strings.Contains(prompt, "As the leader, summarize"):
					return textResponse("Alignment is complete. CONSENSUS REACHED."), nil
				default:
					return textResponse("Hold warfarin and work up the hematuria."), nil
				}
			}

			in := defaultInput()
			in.Config.Rounds = 3
			rec, err := fx.svc.Execute(context.Background(), in)
			Expect(err).NotTo(HaveOccurred())

			Expect(fx.client.CallCount()).To(Equal(5))
			Expect(rec.Messages).To(HaveLen(5))
			for _, m := range rec.Messages {
				Expect(m.Round).To(BeZero())
			}
			Expect(fx.runs.transitions()).To(ContainElement("deliberating->synthesizing:termination marker found"))
		})
	})

	Describe("caching", func() {
		It("serves an identical follow-up run from the cache", func() {
			first, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())
			Expect(fx.client.CallCount()).To(Equal(8))

			second, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			Expect(fx.client.CallCount()).To(Equal(8))
			Expect(second.ID).NotTo(Equal(first.ID))
			Expect(second.Fingerprint).To(Equal(first.Fingerprint))
			Expect(second.Status).To(Equal(model.RunStatusComplete))
			Expect(second.Messages).To(Equal(first.Messages))
			Expect(second.Plan).To(Equal(first.Plan))
			Expect(fx.runs.transitions()).To(ContainElement("deliberating->complete:served from cache"))

			Expect(second.Session).To(HavePrefix("run_"))
			Expect(second.Session).NotTo(Equal(first.Session))
		})

		It("recomputes when the deliberation shape changes", func() {
			_, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			in := defaultInput()
			in.Config.Rounds = 3
			_, err = fx.svc.Execute(context.Background(), in)
			Expect(err).NotTo(HaveOccurred())

			Expect(fx.client.CallCount()).To(Equal(20))
		})

		It("recomputes every run that opts out of the cache", func() {
			in := defaultInput()
			in.Config.CacheEnabled = false

			_, err := fx.svc.Execute(context.Background(), in)
			Expect(err).NotTo(HaveOccurred())
			_, err = fx.svc.Execute(context.Background(), in)
			Expect(err).NotTo(HaveOccurred())
			Expect(fx.client.CallCount()).To(Equal(16))

			// Opted-out runs never populate the cache either.
			_, err = fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())
			Expect(fx.client.CallCount()).To(Equal(24))
		})

		It("never serves a failed computation from the cache", func() {
			fx.client.ChatWithToolsFn = func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				if fx.client.CallCount() <= 12 {
					return nil, errors.New("upstream down")
				}
				return scriptedChat(ctx, req)
			}

			_, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).To(MatchError(service.ErrRunFailed))
			Expect(fx.client.CallCount()).To(Equal(12))

			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(model.RunStatusComplete))
			Expect(fx.client.CallCount()).To(Equal(20))
		})
	})

	Describe("fast mode", func() {
		It("collapses to one round on the light model", func() {
			in := defaultInput()
			in.Config.Fast = true

			rec, err := fx.svc.Execute(context.Background(), in)
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.Config.Rounds).To(Equal(1))
			Expect(fx.client.CallCount()).To(Equal(4))
			Expect(rec.Messages).To(HaveLen(4))
			for _, m := range rec.Messages {
				Expect(m.Round).To(BeZero())
			}

			dialed := fx.dials.dialed()
			Expect(dialed).To(HaveLen(4))
			for _, name := range dialed {
				Expect(name).To(Equal("gpt-4.1-nano"))
			}

			// The stored team keeps its requested models; the light
			// profiles apply only to the run itself.
			Expect(rec.Team.Leader.Model.Name).To(Equal("gpt-5-mini"))
		})

		It("keeps fast and standard runs in separate cache entries", func() {
			_, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			in := defaultInput()
			in.Config.Fast = true
			_, err = fx.svc.Execute(context.Background(), in)
			Expect(err).NotTo(HaveOccurred())

			Expect(fx.client.CallCount()).To(Equal(12))
		})
	})

	Describe("failure handling", func() {
		It("fails the run after two consecutive empty rounds", func() {
			fx.client.ChatWithToolsFn = func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				return nil, errors.New("upstream down")
			}

			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).To(MatchError(service.ErrRunFailed))
			Expect(err.Error()).To(ContainSubstring("no specialist responses"))

			// Every turn is retried once with a shortened context before
			// the round is counted as empty.
			Expect(fx.client.CallCount()).To(Equal(12))

			Expect(rec.Status).To(Equal(model.RunStatusFailed))
			Expect(rec.FailureReason).To(ContainSubstring("rounds 0 and 1"))
			Expect(rec.FinishedAt).NotTo(BeNil())
			Expect(rec.Session).To(HavePrefix("run_"))

			Expect(fx.runs.transitions()).To(Equal([]string{
				"pending->deliberating:deliberation started",
				"deliberating->failed:" + rec.FailureReason,
			}))
			Expect(fx.runs.stored(rec.ID).Status).To(Equal(model.RunStatusFailed))

			md, err := fx.svc.Transcript(context.Background(), rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(md).To(ContainSubstring("## Failure"))
		})

		It("skips a persistently failing specialist and keeps the run alive", func() {
			fx.client.ChatWithToolsFn = func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				if strings.HasPrefix(req.Messages[0].Content, "You are Hematologist.") {
					return nil, errors.New("model overloaded")
				}
				return scriptedChat(ctx, req)
			}

			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(model.RunStatusComplete))
			Expect(fx.client.CallCount()).To(Equal(10))

			var skipped []string
			for _, m := range rec.Messages {
				if m.Skipped {
					skipped = append(skipped, m.PersonaID)
					Expect(m.Content).To(BeEmpty())
				}
			}
			Expect(skipped).To(Equal([]string{"hematologist", "hematologist"}))
			Expect(rec.Messages).To(HaveLen(8))
		})

		It("fails the run when the synthesis cannot complete", func() {
			fx.client.ChatWithToolsFn = func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				if strings.Contains(promptText(req), "Produce the final consensus") {
					return nil, errors.New("upstream down")
				}
				return scriptedChat(ctx, req)
			}

			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).To(MatchError(service.ErrRunFailed))

			Expect(rec.Status).To(Equal(model.RunStatusFailed))
			Expect(rec.FailureReason).To(ContainSubstring("consensus synthesis failed"))
			Expect(fx.runs.transitions()).To(ContainElement("synthesizing->failed:" + rec.FailureReason))
		})

		It("surfaces infrastructure errors without failing the run", func() {
			boom := errors.New("connection reset")
			fx.runs.transitionFn = func(ctx context.Context, id int64, from, to model.RunStatus, detail string) error {
				if to == model.RunStatusSynthesizing {
					return boom
				}
				return fx.runs.applyTransition(id, from, to, detail)
			}

			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).To(MatchError(boom))
			Expect(errors.Is(err, service.ErrRunFailed)).To(BeFalse())
			Expect(rec).To(BeNil())

			// The run stays claimed so a queue redelivery can take over.
			Expect(fx.runs.transitions()).To(Equal([]string{
				"pending->deliberating:deliberation started",
			}))
		})

		It("treats cancellation as retryable without spending completions", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			rec, err := fx.svc.Execute(ctx, defaultInput())
			Expect(err).To(MatchError(context.Canceled))
			Expect(errors.Is(err, service.ErrRunFailed)).To(BeFalse())
			Expect(rec).To(BeNil())
			Expect(fx.client.CallCount()).To(BeZero())
		})
	})

	Describe("input validation", func() {
		It("rejects an empty agenda", func() {
			in := defaultInput()
			in.Case.Agenda = "   "

			_, err := fx.svc.Execute(context.Background(), in)
			Expect(err).To(MatchError(ContainSubstring("agenda is required")))
			Expect(fx.runs.count()).To(BeZero())
		})

		It("rejects duplicate persona ids before creating the run", func() {
			team := persona.DefaultMedicalTeam("gpt-5-mini")
			team.Specialists = append(team.Specialists, persona.New(
				"Cardiologist",
				"interventional cardiology",
				"second opinion on rhythm management",
				model.RoleSpecialist,
				"gpt-5-mini",
			))

			in := defaultInput()
			in.Team = &team
			_, err := fx.svc.Execute(context.Background(), in)
			Expect(err).To(MatchError(persona.ErrInvalidTeam))
			Expect(err.Error()).To(ContainSubstring("duplicate persona id"))
			Expect(fx.runs.count()).To(BeZero())
			Expect(fx.client.CallCount()).To(BeZero())
		})

		It("rejects an unknown evidence mode", func() {
			in := defaultInput()
			in.Config.EvidenceMode = "psychic"

			_, err := fx.svc.Execute(context.Background(), in)
			Expect(err).To(MatchError(ContainSubstring(`invalid evidence mode "psychic"`)))
			Expect(fx.runs.count()).To(BeZero())
		})

		It("caps requested rounds at the configured maximum", func() {
			in := defaultInput()
			in.Config.Rounds = 40
			in.Config.InterimSynthesis = false

			rec, err := fx.svc.Execute(context.Background(), in)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Config.Rounds).To(Equal(5))
		})
	})

	Describe("Enqueue", func() {
		It("persists a pending run and publishes one queue message", func() {
			rec, err := fx.svc.Enqueue(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.Status).To(Equal(model.RunStatusPending))
			Expect(fx.client.CallCount()).To(BeZero())

			stored := fx.runs.stored(rec.ID)
			Expect(stored).NotTo(BeNil())
			Expect(stored.Status).To(Equal(model.RunStatusPending))

			msgs := fx.producer.enqueued()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].RunID).To(Equal(rec.ID))
			Expect(msgs[0].Attempt).To(Equal(1))
			Expect(msgs[0].TraceID).To(BeNil())
		})

		It("returns ErrQueueDisabled without a producer", func() {
			svc := service.NewRunService(service.RunServiceParams{
				Runs:   fx.runs,
				Config: fx.cfg,
			})

			_, err := svc.Enqueue(context.Background(), defaultInput())
			Expect(err).To(MatchError(service.ErrQueueDisabled))
			Expect(fx.runs.count()).To(BeZero())
		})
	})

	Describe("ExecuteQueued", func() {
		It("drives an enqueued run to completion", func() {
			queued, err := fx.svc.Enqueue(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			rec, err := fx.svc.ExecuteQueued(context.Background(), queued.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ID).To(Equal(queued.ID))
			Expect(rec.Status).To(Equal(model.RunStatusComplete))
			Expect(fx.client.CallCount()).To(Equal(8))
		})

		It("is idempotent for runs that already finished", func() {
			queued, err := fx.svc.Enqueue(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())
			_, err = fx.svc.ExecuteQueued(context.Background(), queued.ID)
			Expect(err).NotTo(HaveOccurred())

			again, err := fx.svc.ExecuteQueued(context.Background(), queued.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Status).To(Equal(model.RunStatusComplete))
			Expect(fx.client.CallCount()).To(Equal(8))
		})

		It("takes over a run abandoned mid-flight", func() {
			queued, err := fx.svc.Enqueue(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())
			Expect(fx.runs.applyTransition(queued.ID, model.RunStatusPending, model.RunStatusDeliberating, "deliberation started")).To(Succeed())

			rec, err := fx.svc.ExecuteQueued(context.Background(), queued.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(model.RunStatusComplete))
			Expect(fx.runs.transitions()).To(ContainElement("deliberating->deliberating:re-claimed after stalled attempt"))
		})

		It("reports unknown runs", func() {
			_, err := fx.svc.ExecuteQueued(context.Background(), 424242)
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("MarkFailed", func() {
		It("forces a stuck run into the failed state", func() {
			queued, err := fx.svc.Enqueue(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			Expect(fx.svc.MarkFailed(context.Background(), queued.ID, "delivery attempts exhausted")).To(Succeed())

			stored := fx.runs.stored(queued.ID)
			Expect(stored.Status).To(Equal(model.RunStatusFailed))
			Expect(stored.FailureReason).To(Equal("delivery attempts exhausted"))
			Expect(stored.FinishedAt).NotTo(BeNil())
			Expect(fx.runs.transitions()).To(ContainElement("pending->failed:delivery attempts exhausted"))
		})

		It("leaves finished runs untouched", func() {
			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			Expect(fx.svc.MarkFailed(context.Background(), rec.ID, "late failure")).To(Succeed())
			Expect(fx.runs.stored(rec.ID).Status).To(Equal(model.RunStatusComplete))
		})

		It("reports unknown runs", func() {
			err := fx.svc.MarkFailed(context.Background(), 424242, "whatever")
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("Suggest", func() {
		It("returns parsed clarifying questions", func() {
			structured := &mockStructuredClient{
				ChatFn: func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					Expect(req.UserPrompt).To(ContainSubstring("atrial fibrillation"))
					return &llm.Response{}, fillResult(result, `{"questions": ["Current INR?", "Any prior bleeding episodes?"]}`)
				},
			}
			svc := service.NewRunService(service.RunServiceParams{
				Runs:      fx.runs,
				Assistant: clarify.NewAssistant(structured, "medicine", 5),
				Config:    fx.cfg,
			})

			questions := svc.Suggest(context.Background(), model.Case{Agenda: "62M with atrial fibrillation on warfarin."})
			Expect(questions).To(Equal([]string{"Current INR?", "Any prior bleeding episodes?"}))
		})

		It("returns nothing without an assistant", func() {
			Expect(fx.svc.Suggest(context.Background(), model.Case{Agenda: "anything"})).To(BeNil())
		})
	})

	Describe("Get", func() {
		It("returns the stored record", func() {
			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			got, err := fx.svc.Get(context.Background(), rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(rec.ID))
			Expect(got.Status).To(Equal(model.RunStatusComplete))
			Expect(got.Plan.Items).To(HaveLen(3))
		})
	})

	Describe("ListRecent", func() {
		It("clamps the page size to a sane window", func() {
			var asked []int32
			fx.runs.listRecentFn = func(ctx context.Context, limit int32) ([]model.RunRecord, error) {
				asked = append(asked, limit)
				return nil, nil
			}

			_, err := fx.svc.ListRecent(context.Background(), 0)
			Expect(err).NotTo(HaveOccurred())
			_, err = fx.svc.ListRecent(context.Background(), 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(asked).To(Equal([]int32{20, 100}))
		})
	})

	Describe("Transcript", func() {
		It("renders the stored record as markdown", func() {
			rec, err := fx.svc.Execute(context.Background(), defaultInput())
			Expect(err).NotTo(HaveOccurred())

			md, err := fx.svc.Transcript(context.Background(), rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(md).To(ContainSubstring("# Consilium Panel Transcript"))
			Expect(md).To(ContainSubstring("62M with new-onset atrial fibrillation"))
			Expect(md).To(ContainSubstring("## Action Items"))
		})

		It("reports unknown runs", func() {
			_, err := fx.svc.Transcript(context.Background(), 424242)
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})
})
