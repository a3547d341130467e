// Package loop implements the iterative refinement controller.
//
// A run refines one concept through generate → evaluate → decide turns until
// the similarity score clears the convergence threshold, the turn budget is
// exhausted, or early stopping fires. Each refinement turn embeds the
// previous rules and the oracle's feedback verbatim, so the generator always
// works from explicit context rather than hidden state.
//
// Collaborator failures (generator or oracle) are fatal for the run and are
// returned together with the partial turn history; retries are the caller's
// policy. A low or even zero similarity score is not a failure; the loop
// simply refines again.
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rtecgen/internal/consistency"
	"rtecgen/internal/deps"
	"rtecgen/internal/extract"
	"rtecgen/internal/llm"
	"rtecgen/internal/memory"
	"rtecgen/internal/prompt"
	"rtecgen/internal/scorer"
	"rtecgen/internal/types"
)

// Config wires the controller's collaborators together
type Config struct {
	Generator llm.Generator
	Scorer    scorer.Scorer

	// Pairwise is required when self-consistency is enabled; typically the
	// same service as Scorer with the reference argument swapped for a
	// second candidate.
	Pairwise scorer.PairwiseScorer

	// Memory stores accepted definitions and supplies prerequisite context.
	// Optional; without it no definitions are injected or stored.
	Memory *memory.Store

	// Graph supplies prerequisite lookups. When nil, each concept's own
	// prerequisite list is used directly.
	Graph deps.Graph

	Run types.RunConfig

	// SystemPrompt overrides the default domain prompt when non-empty.
	SystemPrompt string

	// MaxConcurrentSamples bounds parallel self-consistency generation
	// calls (0 = one call per sample, all concurrent).
	MaxConcurrentSamples int

	Logger *zap.Logger
}

// Controller drives refinement runs. Safe for concurrent use across
// different concepts; the memory store synchronizes shared access.
type Controller struct {
	generator llm.Generator
	scorer    scorer.Scorer
	selector  *consistency.Selector
	memory    *memory.Store
	resolver  *deps.Resolver
	config    types.RunConfig
	system    string
	maxSamp   int
	logger    *zap.Logger
}

// New creates a refinement controller
func New(cfg Config) (*Controller, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if err := cfg.Run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	if cfg.Run.UseSelfConsistency && cfg.Pairwise == nil {
		return nil, fmt.Errorf("pairwise scorer is required when self-consistency is enabled")
	}

	c := &Controller{
		generator: cfg.Generator,
		scorer:    cfg.Scorer,
		memory:    cfg.Memory,
		config:    cfg.Run,
		system:    cfg.SystemPrompt,
		maxSamp:   cfg.MaxConcurrentSamples,
		logger:    cfg.Logger,
	}
	if cfg.Graph != nil {
		c.resolver = deps.NewResolver(cfg.Graph)
	}
	if cfg.Pairwise != nil {
		c.selector = consistency.NewSelector(cfg.Pairwise)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Run executes the refinement loop for one concept and returns the completed
// RunRecord by value semantics: the caller owns it outright.
//
// On a collaborator failure or cancellation the partial record accumulated
// so far is returned together with a non-nil error; no memory write happens
// on those paths.
func (c *Controller) Run(ctx context.Context, concept types.Concept) (*types.RunRecord, error) {
	if err := concept.Validate(); err != nil {
		return nil, err
	}

	record := &types.RunRecord{
		RunID:     uuid.NewString(),
		ConceptID: concept.ID,
		StartedAt: time.Now().UTC(),
	}

	log := c.logger.With(zap.String("concept", concept.ID), zap.String("run_id", record.RunID))
	log.Info("starting refinement run",
		zap.Int("max_turns", c.config.MaxTurns),
		zap.Float64("threshold", c.config.ConvergenceThreshold),
		zap.Bool("self_consistency", c.config.UseSelfConsistency))

	prereqs, err := c.prerequisites(concept)
	if err != nil {
		return nil, err
	}

	var prereqBlock string
	if c.memory != nil && len(prereqs) > 0 {
		prereqBlock = c.memory.FormatForInjection(prereqs, true)
		for _, id := range prereqs {
			if !c.memory.Contains(id) {
				log.Warn("prerequisite not in memory, omitting", zap.String("prerequisite", id))
			}
		}
	}

	var opts []prompt.Option
	if c.system != "" {
		opts = append(opts, prompt.WithSystemPrompt(c.system))
	}
	builder := prompt.NewBuilder(concept.Description, prereqBlock, opts...)
	messages := builder.Initial()

	var (
		bestScore float64
		bestTurn  int
		bestRules string
		noImprove int
	)

	for turn := 1; turn <= c.config.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return c.finish(record, types.ReasonRunCanceled, bestTurn, bestScore, bestRules),
				fmt.Errorf("run canceled at turn %d: %w", turn, err)
		}

		rules, raw, tokens, latency, cons, err := c.generate(ctx, messages, turn)
		if err != nil {
			return c.finish(record, types.ReasonRunFailed, bestTurn, bestScore, bestRules), err
		}
		if rules == "" {
			log.Warn("no rule block found in generator output", zap.Int("turn", turn))
		}

		result, err := c.scorer.Score(ctx, rules, concept.Reference)
		if err != nil {
			evalErr := &EvaluationError{Turn: turn, Err: err}
			return c.finish(record, types.ReasonRunFailed, bestTurn, bestScore, bestRules), evalErr
		}

		record.Turns = append(record.Turns, types.GenerationTurn{
			Index:       turn,
			Request:     prompt.Render(messages),
			RawOutput:   raw,
			Rules:       rules,
			Score:       result.Similarity,
			Feedback:    result.Feedback,
			Tokens:      tokens,
			Latency:     latency,
			Consistency: cons,
		})

		log.Info("turn evaluated",
			zap.Int("turn", turn),
			zap.Float64("score", result.Similarity),
			zap.Float64("best", bestScore),
			zap.Int("tokens", tokens))

		if result.Similarity > bestScore || bestTurn == 0 {
			bestScore = result.Similarity
			bestTurn = turn
			bestRules = rules
			noImprove = 0
		} else {
			noImprove++
		}

		if result.Similarity >= c.config.ConvergenceThreshold {
			log.Info("converged", zap.Int("turn", turn), zap.Float64("score", result.Similarity))
			return c.terminate(record, types.ReasonConverged, concept, bestTurn, bestScore, bestRules)
		}
		if turn == c.config.MaxTurns {
			log.Info("max turns reached without convergence")
			return c.terminate(record, types.ReasonMaxTurns, concept, bestTurn, bestScore, bestRules)
		}
		if c.config.EarlyStopping && noImprove >= c.config.EarlyStoppingPatience {
			log.Info("early stopping triggered",
				zap.Int("turn", turn),
				zap.Int("patience", c.config.EarlyStoppingPatience))
			return c.terminate(record, types.ReasonEarlyStop, concept, bestTurn, bestScore, bestRules)
		}

		// Refinement embeds the previous rules and the feedback verbatim.
		messages = builder.Refinement(rules, result.Feedback)
	}

	// Unreachable: the max-turns check above terminates the final turn.
	return c.terminate(record, types.ReasonMaxTurns, concept, bestTurn, bestScore, bestRules)
}

// prerequisites resolves the concept's prerequisite ids, preferring the
// dependency graph when one was configured.
func (c *Controller) prerequisites(concept types.Concept) ([]string, error) {
	if c.resolver == nil {
		return concept.Prerequisites, nil
	}
	prereqs, err := c.resolver.PrerequisitesOf(concept.ID)
	if err != nil {
		return nil, err
	}
	return prereqs, nil
}

// generate produces one turn's rule text: a single call, or N sampled calls
// reduced by consensus selection when self-consistency is enabled.
func (c *Controller) generate(ctx context.Context, messages []llm.Message, turn int) (rules, raw string, tokens int, latency time.Duration, cons *types.SelfConsistency, err error) {
	if !c.config.UseSelfConsistency {
		req := llm.Request{
			Messages:    messages,
			Temperature: c.config.Temperature,
			MaxTokens:   c.config.MaxOutputTokens,
		}
		resp, genErr := c.generator.Generate(ctx, req)
		if genErr != nil {
			return "", "", 0, 0, nil, &GenerationError{Turn: turn, Err: genErr}
		}
		return extract.Rules(resp.Text), resp.Text, resp.Tokens, resp.Latency, nil, nil
	}

	n := c.config.SelfConsistencySamples
	raws := make([]string, n)
	candidates := make([]string, n)
	perCall := make([]int, n)

	start := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	if c.maxSamp > 0 {
		eg.SetLimit(c.maxSamp)
	}
	for i := 0; i < n; i++ {
		i := i
		eg.Go(func() error {
			resp, genErr := c.generator.Generate(egCtx, llm.Request{
				Messages:    messages,
				Temperature: c.config.SelfConsistencyTemperature,
				MaxTokens:   c.config.MaxOutputTokens,
			})
			if genErr != nil {
				return fmt.Errorf("sample %d: %w", i, genErr)
			}
			raws[i] = resp.Text
			candidates[i] = extract.Rules(resp.Text)
			perCall[i] = resp.Tokens
			return nil
		})
	}
	if genErr := eg.Wait(); genErr != nil {
		return "", "", 0, 0, nil, &GenerationError{Turn: turn, Err: genErr}
	}

	selection, selErr := c.selector.Select(ctx, candidates)
	if selErr != nil {
		return "", "", 0, 0, nil, &EvaluationError{Turn: turn, Err: selErr}
	}

	for _, t := range perCall {
		tokens += t
	}

	return candidates[selection.Index], raws[selection.Index], tokens, time.Since(start), &types.SelfConsistency{
		Confidence: selection.Confidence,
		Samples:    selection.Samples,
		Unanimous:  selection.Unanimous,
	}, nil
}

// terminate finalizes a completed run and stores the definition when it
// clears the acceptance threshold.
func (c *Controller) terminate(record *types.RunRecord, reason types.TerminationReason, concept types.Concept, bestTurn int, bestScore float64, bestRules string) (*types.RunRecord, error) {
	record = c.finish(record, reason, bestTurn, bestScore, bestRules)

	if c.memory != nil && bestScore >= c.config.MemoryAcceptanceThreshold {
		metadata := map[string]string{}
		if len(concept.Prerequisites) > 0 {
			metadata["prerequisites"] = strings.Join(concept.Prerequisites, ",")
		}
		c.memory.Put(concept.ID, concept.Description, bestRules, bestScore, metadata)
		c.logger.Info("definition accepted into memory",
			zap.String("concept", concept.ID),
			zap.Float64("score", bestScore))
	}

	return record, nil
}

// finish stamps the record with its outcome and aggregate statistics
func (c *Controller) finish(record *types.RunRecord, reason types.TerminationReason, bestTurn int, bestScore float64, bestRules string) *types.RunRecord {
	record.Reason = reason
	record.Converged = reason == types.ReasonConverged
	record.BestTurn = bestTurn
	record.BestScore = bestScore
	record.BestRules = bestRules
	record.CompletedAt = time.Now().UTC()
	record.Stats = Summarize(record)
	return record
}

// IsFatal reports whether err is a run-fatal collaborator failure
func IsFatal(err error) bool {
	var genErr *GenerationError
	var evalErr *EvaluationError
	return errors.As(err, &genErr) || errors.As(err, &evalErr)
}
