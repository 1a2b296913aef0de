package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"consilium.app/panel/common/id"
	"consilium.app/panel/common/llm"
	"consilium.app/panel/core/config"
	"consilium.app/panel/internal/clarify"
	"consilium.app/panel/internal/consensus"
	"consilium.app/panel/internal/evidence"
	llmdial "consilium.app/panel/internal/llm"
	"consilium.app/panel/internal/meeting"
	"consilium.app/panel/internal/model"
	"consilium.app/panel/internal/persona"
	"consilium.app/panel/internal/runcache"
	"consilium.app/panel/internal/transcript"
)

func main() {
	rounds := flag.Int("rounds", 0, "deliberation rounds (0 uses the configured default)")
	fast := flag.Bool("fast", false, "single round on light model profiles")
	evidenceMode := flag.String("evidence", "none", "evidence retrieval: none, web, literature or both")
	cacheable := flag.Bool("cache", true, "mark the session reusable for identical cases")
	answersFile := flag.String("answers", "", "file with one answer per clarifying question line")
	flag.Usage = usage
	flag.Parse()

	ctx := context.Background()

	// The CLI shares the server's env profile.
	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.AgentLLM.Enabled() {
		fmt.Fprintln(os.Stderr, "AGENT_LLM_API_KEY (or OPENAI_API_KEY) is required")
		os.Exit(1)
	}

	// Initialize snowflake ID generator (use different node ID than server/worker)
	if err := id.Init(3); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize id generator: %v\n", err)
		os.Exit(1)
	}

	agenda, fromFile, err := readAgenda(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	runCfg, err := resolveConfig(cfg, *rounds, *fast, *evidenceMode, *cacheable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	team := persona.DefaultMedicalTeam(cfg.AgentLLM.Model)
	if err := persona.Validate(team, runCfg.Rounds); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	dialer := llmdial.NewDialer(cfg.AgentLLM)

	var assistant *clarify.Assistant
	if cfg.StructuredLLM.Enabled() {
		structured, err := llm.New(llm.Config{
			Provider:        cfg.StructuredLLM.Provider,
			APIKey:          cfg.StructuredLLM.APIKey,
			BaseURL:         cfg.StructuredLLM.BaseURL,
			Model:           cfg.StructuredLLM.Model,
			ReasoningEffort: llm.ReasoningEffort(cfg.StructuredLLM.ReasoningEffort),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Clarifications: disabled (%v)\n", err)
		} else {
			assistant = clarify.NewAssistant(structured, "medicine", cfg.Deliberation.MaxQuestions)
		}
	}

	planner, err := dialer.Dial(cfg.AgentLLM.Model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create LLM client: %v\n", err)
		os.Exit(1)
	}
	retriever := evidence.NewRetriever(planner, cfg.Retrieval)
	orchestrator := meeting.NewOrchestrator(dialer.Dial, cfg.Deliberation)
	synth := consensus.NewSynthesizer(dialer.Dial, cfg.Deliberation)
	policy := persona.ModelPolicy{Rules: cfg.ModelRules, FastModel: cfg.Deliberation.FastModel}

	writer, err := transcript.NewWriter(cfg.Artifacts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Artifacts: disabled (%v)\n", err)
		writer = nil
	}

	kase := model.Case{Agenda: agenda}
	exchange := gatherClarifications(ctx, assistant, kase, *answersFile, fromFile)

	applied := policy.Apply(team, runCfg.Fast)
	briefed := clarify.Apply(kase, exchange)
	snippets := retriever.Fetch(ctx, briefed.Agenda, runCfg.EvidenceMode)

	now := time.Now().UTC()
	rec := &model.RunRecord{
		ID:          id.New(),
		Status:      model.RunStatusDeliberating,
		Case:        kase,
		Exchange:    exchange,
		Team:        team,
		Config:      runCfg,
		Evidence:    snippets,
		Fingerprint: runcache.Fingerprint(kase, exchange, applied, runCfg.Rounds, snippets),
		CreatedAt:   now,
		StartedAt:   &now,
	}

	fmt.Fprintf(os.Stderr, "\nConvening %d specialists for %d round(s)\n", len(applied.Specialists), runCfg.Rounds)
	fmt.Fprintln(os.Stderr, "---")

	out, err := orchestrator.Deliberate(ctx, meeting.Input{
		Case:     briefed,
		Team:     applied,
		Evidence: snippets,
		Config:   runCfg,
	})
	if err != nil {
		exitFailed(ctx, writer, rec, err)
	}

	plan, final, err := synth.Synthesize(ctx, consensus.Input{
		Case:      briefed,
		Team:      applied,
		Messages:  out.Messages,
		Config:    runCfg,
		LastRound: out.LastRound,
	})
	if err != nil {
		exitFailed(ctx, writer, rec, err)
	}

	finished := time.Now().UTC()
	rec.Status = model.RunStatusComplete
	rec.Messages = append(out.Messages, final)
	rec.Plan = plan
	rec.FinishedAt = &finished

	if writer != nil {
		if session, err := writer.Save(ctx, rec); err != nil {
			fmt.Fprintf(os.Stderr, "Saving artifacts failed: %v\n", err)
		} else {
			rec.Session = session
			fmt.Fprintf(os.Stderr, "Artifacts: %s\n", filepath.Join(cfg.Artifacts.Dir, session))
		}
	}

	fmt.Println(plan.Summary)
	fmt.Fprintf(os.Stderr, "\nConsensus reached: %d action item(s)\n", len(plan.Items))
}

// readAgenda loads the case description from the file argument, or from
// stdin when no file is given. The second result reports whether stdin is
// still free for interactive clarifications.
func readAgenda(path string) (string, bool, error) {
	var (
		raw []byte
		err error
	)
	if path != "" {
		raw, err = os.ReadFile(path)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return "", false, fmt.Errorf("reading agenda: %w", err)
	}

	agenda := strings.TrimSpace(string(raw))
	if agenda == "" {
		return "", false, fmt.Errorf("agenda is empty")
	}
	return agenda, path != "", nil
}

// resolveConfig fills the run config the same way the server does: flag
// gaps fall back to configured defaults, fast mode wins over rounds.
func resolveConfig(cfg config.Config, rounds int, fast bool, mode string, cacheable bool) (model.RunConfig, error) {
	out := model.RunConfig{
		Rounds:           rounds,
		Fast:             fast,
		EvidenceMode:     model.RetrievalMode(mode),
		CacheEnabled:     cacheable,
		InterimSynthesis: true,
		Temperature:      cfg.Deliberation.Temperature,
		MaxTokens:        cfg.AgentLLM.MaxTokens,
	}
	if out.Rounds == 0 {
		out.Rounds = cfg.Deliberation.DefaultRounds
	}
	if out.Fast {
		out.Rounds = 1
	}
	if max := cfg.Deliberation.MaxRounds; max > 0 && out.Rounds > max {
		out.Rounds = max
	}
	if !out.EvidenceMode.Valid() {
		return out, fmt.Errorf("invalid evidence mode %q", mode)
	}
	return out, nil
}

// gatherClarifications pairs suggested questions with answers from the
// answers file, or interactively when the agenda came from a file and
// stdin is a terminal. Unanswerable setups skip the suggestion entirely
// rather than spend a completion on questions nobody will answer.
func gatherClarifications(ctx context.Context, assistant *clarify.Assistant, c model.Case, answersPath string, stdinFree bool) model.ClarifyingExchange {
	if assistant == nil {
		return nil
	}
	interactive := stdinFree && stdinIsTerminal()
	if answersPath == "" && !interactive {
		return nil
	}

	questions := assistant.Suggest(ctx, c)
	if len(questions) == 0 {
		return nil
	}

	var answers []string
	if answersPath != "" {
		raw, err := os.ReadFile(answersPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Reading answers file failed: %v\n", err)
			return nil
		}
		for _, line := range strings.Split(string(raw), "\n") {
			answers = append(answers, strings.TrimSpace(line))
		}
	} else {
		fmt.Fprintln(os.Stderr, "\nClarifying questions (leave blank to skip):")
		scanner := bufio.NewScanner(os.Stdin)
		for i, q := range questions {
			fmt.Fprintf(os.Stderr, "%d) %s\n", i+1, q)
			fmt.Fprint(os.Stderr, "> ")
			if !scanner.Scan() {
				break
			}
			answers = append(answers, strings.TrimSpace(scanner.Text()))
		}
	}

	exchange := make(model.ClarifyingExchange, 0, len(questions))
	for i, q := range questions {
		qa := model.QA{Question: q}
		if i < len(answers) {
			qa.Answer = answers[i]
		}
		exchange = append(exchange, qa)
	}
	return exchange
}

func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// exitFailed writes a failure transcript so the session can still be
// inspected, then exits non-zero.
func exitFailed(ctx context.Context, writer *transcript.Writer, rec *model.RunRecord, cause error) {
	now := time.Now().UTC()
	rec.Status = model.RunStatusFailed
	rec.FailureReason = cause.Error()
	rec.FinishedAt = &now

	if writer != nil {
		if session, err := writer.Save(ctx, rec); err == nil {
			fmt.Fprintf(os.Stderr, "Failure transcript: %s\n", session)
		}
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", cause)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: consult [flags] [agenda-file]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Runs a one-shot panel consultation. The agenda comes from the file")
	fmt.Fprintln(os.Stderr, "argument or stdin; the consensus summary is printed to stdout.")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}
