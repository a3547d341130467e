package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"rtecgen/internal/deps"
	"rtecgen/internal/llm"
	"rtecgen/internal/memory"
	"rtecgen/internal/scorer"
	"rtecgen/internal/types"
)

// mockGenerator scripts responses by call number (1-based)
type mockGenerator struct {
	mu       sync.Mutex
	calls    int
	generate func(call int, req llm.Request) (*llm.Response, error)
}

func (m *mockGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	return m.generate(call, req)
}

// fencedRules wraps rule text the way the generator emits it
func fencedRules(rules string) *llm.Response {
	return &llm.Response{Text: fmt.Sprintf("```prolog\n%s\n```", rules), Tokens: 100}
}

// mockScorer scripts similarity results by call number (1-based)
type mockScorer struct {
	mu    sync.Mutex
	calls int
	score func(call int, candidate, reference string) (scorer.Result, error)
}

func (m *mockScorer) Score(ctx context.Context, candidate, reference string) (scorer.Result, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	return m.score(call, candidate, reference)
}

// mockPairwise scripts pairwise scores keyed on the candidate pair
type mockPairwise struct {
	scores map[string]float64
}

func (m *mockPairwise) Pairwise(ctx context.Context, a, b string) (float64, error) {
	if s, ok := m.scores[a+"|"+b]; ok {
		return s, nil
	}
	if s, ok := m.scores[b+"|"+a]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("unscripted pair (%q, %q)", a, b)
}

func testRunConfig() types.RunConfig {
	cfg := types.DefaultRunConfig()
	cfg.MaxTurns = 3
	return cfg
}

func gapConcept() types.Concept {
	return types.Concept{
		ID:          "gap",
		Description: "A communication gap holds between a gap_start and a gap_end event.",
		Reference:   "initiatedAt(gap(V)=true, T) :- happensAt(gap_start(V), T).",
	}
}

func TestRun_ConvergesAfterRefinement(t *testing.T) {
	gen := &mockGenerator{generate: func(call int, req llm.Request) (*llm.Response, error) {
		return fencedRules(fmt.Sprintf("gap rules v%d", call)), nil
	}}
	oracle := &mockScorer{score: func(call int, candidate, reference string) (scorer.Result, error) {
		if call == 1 {
			return scorer.Result{Similarity: 0.5, Feedback: "missing the gap_end termination rule"}, nil
		}
		return scorer.Result{Similarity: 1.0}, nil
	}}
	store := memory.New()

	c, err := New(Config{Generator: gen, Scorer: oracle, Memory: store, Run: testRunConfig()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	record, err := c.Run(context.Background(), gapConcept())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(record.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(record.Turns))
	}
	if !record.Converged || record.Reason != types.ReasonConverged {
		t.Errorf("expected converged run, got converged=%v reason=%s", record.Converged, record.Reason)
	}
	if record.BestTurn != 2 || record.BestScore != 1.0 {
		t.Errorf("expected best turn 2 at 1.0, got turn %d at %g", record.BestTurn, record.BestScore)
	}
	if record.BestRules != "gap rules v2" {
		t.Errorf("unexpected best rules: %q", record.BestRules)
	}
	if record.Stats.Improvement != 0.5 {
		t.Errorf("expected improvement 0.5, got %g", record.Stats.Improvement)
	}

	// The refinement turn must carry the previous rules and the feedback
	// verbatim.
	second := record.Turns[1].Request
	if !strings.Contains(second, "gap rules v1") {
		t.Errorf("refinement request missing previous rules:\n%s", second)
	}
	if !strings.Contains(second, "missing the gap_end termination rule") {
		t.Errorf("refinement request missing verbatim feedback:\n%s", second)
	}

	entry, ok := store.Get("gap")
	if !ok {
		t.Fatal("converged definition was not stored in memory")
	}
	if entry.Rules != "gap rules v2" || entry.Score != 1.0 {
		t.Errorf("stored entry mismatch: rules=%q score=%g", entry.Rules, entry.Score)
	}
}

func TestRun_MaxTurnsReached(t *testing.T) {
	gen := &mockGenerator{generate: func(call int, req llm.Request) (*llm.Response, error) {
		return fencedRules("weak rules"), nil
	}}
	oracle := &mockScorer{score: func(call int, candidate, reference string) (scorer.Result, error) {
		return scorer.Result{Similarity: 0.1, Feedback: "mostly wrong"}, nil
	}}
	store := memory.New()

	c, err := New(Config{Generator: gen, Scorer: oracle, Memory: store, Run: testRunConfig()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	record, err := c.Run(context.Background(), gapConcept())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(record.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(record.Turns))
	}
	if record.Converged || record.Reason != types.ReasonMaxTurns {
		t.Errorf("expected max-turns termination, got converged=%v reason=%s", record.Converged, record.Reason)
	}
	if store.Len() != 0 {
		t.Error("low-scoring run must not be stored in memory")
	}
}

func TestRun_EarlyStopping(t *testing.T) {
	gen := &mockGenerator{generate: func(call int, req llm.Request) (*llm.Response, error) {
		return fencedRules(fmt.Sprintf("rules v%d", call)), nil
	}}
	scores := []float64{0.5, 0.4, 0.45}
	oracle := &mockScorer{score: func(call int, candidate, reference string) (scorer.Result, error) {
		return scorer.Result{Similarity: scores[call-1], Feedback: "feedback"}, nil
	}}

	cfg := testRunConfig()
	cfg.MaxTurns = 10
	cfg.EarlyStopping = true
	cfg.EarlyStoppingPatience = 2

	c, err := New(Config{Generator: gen, Scorer: oracle, Run: cfg})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	record, err := c.Run(context.Background(), gapConcept())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	// Turns 2 and 3 fail to beat turn 1's 0.5; patience 2 stops the run.
	if len(record.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(record.Turns))
	}
	if record.Reason != types.ReasonEarlyStop {
		t.Errorf("expected early_stopped, got %s", record.Reason)
	}
	if record.BestTurn != 1 || record.BestScore != 0.5 {
		t.Errorf("expected best turn 1 at 0.5, got turn %d at %g", record.BestTurn, record.BestScore)
	}
}

func TestRun_GeneratorFailureReturnsPartialRecord(t *testing.T) {
	gen := &mockGenerator{generate: func(call int, req llm.Request) (*llm.Response, error) {
		if call == 2 {
			return nil, fmt.Errorf("api timeout")
		}
		return fencedRules("rules v1"), nil
	}}
	oracle := &mockScorer{score: func(call int, candidate, reference string) (scorer.Result, error) {
		return scorer.Result{Similarity: 0.5, Feedback: "feedback"}, nil
	}}
	store := memory.New()

	c, err := New(Config{Generator: gen, Scorer: oracle, Memory: store, Run: testRunConfig()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	record, err := c.Run(context.Background(), gapConcept())
	if err == nil {
		t.Fatal("expected a run error")
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %T: %v", err, err)
	}
	if genErr.Turn != 2 {
		t.Errorf("expected failure at turn 2, got %d", genErr.Turn)
	}
	if !IsFatal(err) {
		t.Error("generator failure must be fatal")
	}

	if record == nil {
		t.Fatal("expected partial record alongside the error")
	}
	if len(record.Turns) != 1 {
		t.Errorf("expected 1 completed turn in partial record, got %d", len(record.Turns))
	}
	if record.Reason != types.ReasonRunFailed {
		t.Errorf("expected run_failed, got %s", record.Reason)
	}
	if store.Len() != 0 {
		t.Error("failed run must not write to memory")
	}
}

func TestRun_ScorerFailureReturnsPartialRecord(t *testing.T) {
	gen := &mockGenerator{generate: func(call int, req llm.Request) (*llm.Response, error) {
		return fencedRules("rules v1"), nil
	}}
	oracle := &mockScorer{score: func(call int, candidate, reference string) (scorer.Result, error) {
		return scorer.Result{}, fmt.Errorf("similarity service unreachable")
	}}

	c, err := New(Config{Generator: gen, Scorer: oracle, Run: testRunConfig()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	record, err := c.Run(context.Background(), gapConcept())
	if err == nil {
		t.Fatal("expected a run error")
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected *EvaluationError, got %T: %v", err, err)
	}
	if evalErr.Turn != 1 {
		t.Errorf("expected failure at turn 1, got %d", evalErr.Turn)
	}
	if record == nil {
		t.Fatal("expected partial record alongside the error")
	}
	if len(record.Turns) != 0 {
		t.Errorf("expected no completed turns, got %d", len(record.Turns))
	}
	if record.Reason != types.ReasonRunFailed {
		t.Errorf("expected run_failed, got %s", record.Reason)
	}
}

func TestRun_Canceled(t *testing.T) {
	gen := &mockGenerator{generate: func(call int, req llm.Request) (*llm.Response, error) {
		return fencedRules("rules"), nil
	}}
	oracle := &mockScorer{score: func(call int, candidate, reference string) (scorer.Result, error) {
		return scorer.Result{Similarity: 0.5}, nil
	}}
	store := memory.New()

	c, err := New(Config{Generator: gen, Scorer: oracle, Memory: store, Run: testRunConfig()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record, err := c.Run(ctx, gapConcept())
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if record == nil || record.Reason != types.ReasonRunCanceled {
		t.Errorf("expected run_canceled record, got %+v", record)
	}
	if store.Len() != 0 {
		t.Error("canceled run must not write to memory")
	}
}

func TestRun_PrerequisiteInjection(t *testing.T) {
	store := memory.New()
	store.Put("a", "fluent a", "holdsFor(a(V)=true, I).", 0.95, nil)

	var firstRequest string
	gen := &mockGenerator{generate: func(call int, req llm.Request) (*llm.Response, error) {
		if call == 1 {
			var parts []string
			for _, m := range req.Messages {
				parts = append(parts, m.Content)
			}
			firstRequest = strings.Join(parts, "\n")
		}
		return fencedRules("c rules"), nil
	}}
	oracle := &mockScorer{score: func(call int, candidate, reference string) (scorer.Result, error) {
		return scorer.Result{Similarity: 1.0}, nil
	}}

	c, err := New(Config{Generator: gen, Scorer: oracle, Memory: store, Run: testRunConfig()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	concept := types.Concept{
		ID:            "c",
		Description:   "composite fluent over a and b",
		Reference:     "ref",
		Prerequisites: []string{"a", "b"},
	}
	record, err := c.Run(context.Background(), concept)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	// "a" is in memory and gets injected; "b" is missing and silently
	// omitted rather than failing the run.
	if !strings.Contains(firstRequest, "% === a ===") {
		t.Errorf("prompt missing injected prerequisite a:\n%s", firstRequest)
	}
	if !strings.Contains(firstRequest, "holdsFor(a(V)=true, I).") {
		t.Errorf("prompt missing prerequisite a's rules:\n%s", firstRequest)
	}
	if strings.Contains(firstRequest, "=== b ===") {
		t.Errorf("prompt must not fabricate missing prerequisite b:\n%s", firstRequest)
	}
	if !record.Converged {
		t.Error("expected the run to converge")
	}

	entry, ok := store.Get("c")
	if !ok {
		t.Fatal("accepted definition was not stored")
	}
	if entry.Metadata["prerequisites"] != "a,b" {
		t.Errorf("expected prerequisites metadata %q, got %q", "a,b", entry.Metadata["prerequisites"])
	}
}

func TestRun_SelfConsistencySelectsConsensus(t *testing.T) {
	variants := []string{"cand A", "cand B", "cand C"}
	gen := &mockGenerator{generate: func(call int, req llm.Request) (*llm.Response, error) {
		return fencedRules(variants[(call-1)%len(variants)]), nil
	}}
	oracle := &mockScorer{score: func(call int, candidate, reference string) (scorer.Result, error) {
		return scorer.Result{Similarity: 1.0}, nil
	}}
	// cand B agrees most with the ensemble.
	pairwise := &mockPairwise{scores: map[string]float64{
		"cand A|cand B": 0.8,
		"cand A|cand C": 0.2,
		"cand B|cand C": 0.3,
	}}

	cfg := testRunConfig()
	cfg.UseSelfConsistency = true
	cfg.SelfConsistencySamples = 3

	c, err := New(Config{Generator: gen, Scorer: oracle, Pairwise: pairwise, Run: cfg})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	record, err := c.Run(context.Background(), gapConcept())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	turn := record.Turns[0]
	if turn.Rules != "cand B" {
		t.Errorf("expected consensus candidate %q, got %q", "cand B", turn.Rules)
	}
	if turn.Consistency == nil {
		t.Fatal("expected self-consistency metrics on the turn")
	}
	if turn.Consistency.Samples != 3 {
		t.Errorf("expected 3 samples, got %d", turn.Consistency.Samples)
	}
	if turn.Consistency.Unanimous {
		t.Error("divergent candidates must not report unanimity")
	}
	if diff := turn.Consistency.Confidence - 0.488; diff < -0.001 || diff > 0.001 {
		t.Errorf("expected confidence ~0.488, got %g", turn.Consistency.Confidence)
	}
	if turn.Tokens != 300 {
		t.Errorf("expected tokens summed across samples (300), got %d", turn.Tokens)
	}
}

func TestRun_AcceptanceThresholdGatesMemory(t *testing.T) {
	gen := &mockGenerator{generate: func(call int, req llm.Request) (*llm.Response, error) {
		return fencedRules("rules"), nil
	}}
	oracle := &mockScorer{score: func(call int, candidate, reference string) (scorer.Result, error) {
		return scorer.Result{Similarity: 0.5}, nil
	}}
	store := memory.New()

	cfg := testRunConfig()
	cfg.ConvergenceThreshold = 0.4 // run converges at 0.5
	cfg.MemoryAcceptanceThreshold = 0.9

	c, err := New(Config{Generator: gen, Scorer: oracle, Memory: store, Run: cfg})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	record, err := c.Run(context.Background(), gapConcept())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !record.Converged {
		t.Fatal("expected convergence at the lowered threshold")
	}
	if store.Len() != 0 {
		t.Error("score below the acceptance threshold must not enter memory")
	}
}

func TestRun_UnknownConceptInGraph(t *testing.T) {
	gen := &mockGenerator{generate: func(call int, req llm.Request) (*llm.Response, error) {
		return fencedRules("rules"), nil
	}}
	oracle := &mockScorer{score: func(call int, candidate, reference string) (scorer.Result, error) {
		return scorer.Result{Similarity: 1.0}, nil
	}}

	c, err := New(Config{
		Generator: gen,
		Scorer:    oracle,
		Graph:     deps.Graph{"other": nil},
		Run:       testRunConfig(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	record, err := c.Run(context.Background(), gapConcept())
	if !errors.Is(err, deps.ErrUnknownConcept) {
		t.Fatalf("expected ErrUnknownConcept, got %v", err)
	}
	if record != nil {
		t.Error("no record should exist before the first turn")
	}
}

func TestNew_Validation(t *testing.T) {
	gen := &mockGenerator{}
	oracle := &mockScorer{}

	if _, err := New(Config{Scorer: oracle, Run: testRunConfig()}); err == nil {
		t.Error("expected error for missing generator")
	}
	if _, err := New(Config{Generator: gen, Run: testRunConfig()}); err == nil {
		t.Error("expected error for missing scorer")
	}

	cfg := testRunConfig()
	cfg.UseSelfConsistency = true
	if _, err := New(Config{Generator: gen, Scorer: oracle, Run: cfg}); err == nil {
		t.Error("expected error for self-consistency without a pairwise scorer")
	}

	bad := testRunConfig()
	bad.MaxTurns = 0
	if _, err := New(Config{Generator: gen, Scorer: oracle, Run: bad}); err == nil {
		t.Error("expected error for invalid run config")
	}
}
