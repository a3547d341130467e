package types

import (
	"fmt"
	"time"
)

// Concept is one definable unit of generation: an event-calculus fluent
// identified by name, described in natural language, and evaluated against a
// reference definition the scoring oracle holds.
type Concept struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	Reference     string   `json:"reference"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// Validate checks if the concept has valid field values
func (c *Concept) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("concept id is required")
	}
	if c.Description == "" {
		return fmt.Errorf("concept %q: description is required", c.ID)
	}
	return nil
}

// SelfConsistency captures the optional self-consistency metrics recorded on
// a turn when multiple candidates were sampled and reduced to one.
type SelfConsistency struct {
	Confidence float64 `json:"confidence"`
	Samples    int     `json:"samples"`
	Unanimous  bool    `json:"unanimous"`
}

// GenerationTurn is one generate-then-evaluate attempt within a run.
// Turns are immutable once recorded and ordered by 1-based Index.
type GenerationTurn struct {
	Index       int              `json:"index"`
	Request     string           `json:"request"`
	RawOutput   string           `json:"raw_output"`
	Rules       string           `json:"rules"`
	Score       float64          `json:"score"`
	Feedback    string           `json:"feedback"`
	Tokens      int              `json:"tokens"`
	Latency     time.Duration    `json:"latency"`
	Consistency *SelfConsistency `json:"consistency,omitempty"`
}

// TerminationReason explains why a refinement run stopped
type TerminationReason string

const (
	ReasonConverged   TerminationReason = "converged"
	ReasonMaxTurns    TerminationReason = "max_turns_reached"
	ReasonEarlyStop   TerminationReason = "early_stopped"
	ReasonRunFailed   TerminationReason = "run_failed"
	ReasonRunCanceled TerminationReason = "run_canceled"
)

// IsValid checks if the termination reason is a known value
func (r TerminationReason) IsValid() bool {
	switch r {
	case ReasonConverged, ReasonMaxTurns, ReasonEarlyStop, ReasonRunFailed, ReasonRunCanceled:
		return true
	}
	return false
}

// RunStats holds the aggregate statistics reduced from a run's turn history.
type RunStats struct {
	TotalTurns      int           `json:"total_turns"`
	TotalTokens     int           `json:"total_tokens"`
	MeanTokens      float64       `json:"mean_tokens"`
	TotalLatency    time.Duration `json:"total_latency"`
	MeanLatency     time.Duration `json:"mean_latency"`
	InitialScore    float64       `json:"initial_score"`
	FinalScore      float64       `json:"final_score"`
	BestScore       float64       `json:"best_score"`
	BestTurn        int           `json:"best_turn"`
	Improvement     float64       `json:"improvement"`
	ImprovementRate float64       `json:"improvement_rate"`
}

// RunRecord is the full outcome of refining one concept. The controller owns
// the record while the run is in flight and hands it to the caller by value
// on completion; turns are never mutated after being appended.
type RunRecord struct {
	RunID       string            `json:"run_id"`
	ConceptID   string            `json:"concept_id"`
	Turns       []GenerationTurn  `json:"turns"`
	Converged   bool              `json:"converged"`
	Reason      TerminationReason `json:"reason"`
	BestTurn    int               `json:"best_turn"`
	BestScore   float64           `json:"best_score"`
	BestRules   string            `json:"best_rules"`
	Stats       RunStats          `json:"stats"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Duration returns the wall-clock duration of the run
func (r *RunRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunConfig controls convergence criteria, iteration limits, and
// self-consistency sampling for a refinement run.
type RunConfig struct {
	MaxTurns             int     `json:"max_turns" yaml:"max_turns"`
	ConvergenceThreshold float64 `json:"convergence_threshold" yaml:"convergence_threshold"`

	EarlyStopping        bool `json:"early_stopping" yaml:"early_stopping"`
	EarlyStoppingPatience int `json:"early_stopping_patience" yaml:"early_stopping_patience"`

	UseSelfConsistency         bool    `json:"use_self_consistency" yaml:"use_self_consistency"`
	SelfConsistencySamples     int     `json:"self_consistency_samples" yaml:"self_consistency_samples"`
	SelfConsistencyTemperature float64 `json:"self_consistency_temperature" yaml:"self_consistency_temperature"`

	// MemoryAcceptanceThreshold is the minimum best score a run must reach
	// before its rules are stored for reuse by dependent concepts.
	MemoryAcceptanceThreshold float64 `json:"memory_acceptance_threshold" yaml:"memory_acceptance_threshold"`

	// Temperature and MaxOutputTokens apply to single (non-self-consistency)
	// generation calls.
	Temperature     float64 `json:"temperature" yaml:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens" yaml:"max_output_tokens"`
}

// DefaultRunConfig returns the default run configuration
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MaxTurns:                   5,
		ConvergenceThreshold:       0.9,
		EarlyStopping:              false,
		EarlyStoppingPatience:      2,
		UseSelfConsistency:         false,
		SelfConsistencySamples:     5,
		SelfConsistencyTemperature: 0.7,
		MemoryAcceptanceThreshold:  0.9,
		Temperature:                0.7,
		MaxOutputTokens:            2048,
	}
}

// Validate checks the configuration bounds
func (c *RunConfig) Validate() error {
	if c.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be at least 1 (got %d)", c.MaxTurns)
	}
	if c.ConvergenceThreshold < 0.0 || c.ConvergenceThreshold > 1.0 {
		return fmt.Errorf("convergence_threshold must be between 0.0 and 1.0 (got %g)", c.ConvergenceThreshold)
	}
	if c.MemoryAcceptanceThreshold < 0.0 || c.MemoryAcceptanceThreshold > 1.0 {
		return fmt.Errorf("memory_acceptance_threshold must be between 0.0 and 1.0 (got %g)", c.MemoryAcceptanceThreshold)
	}
	if c.EarlyStopping && c.EarlyStoppingPatience < 1 {
		return fmt.Errorf("early_stopping_patience must be at least 1 (got %d)", c.EarlyStoppingPatience)
	}
	if c.UseSelfConsistency && c.SelfConsistencySamples < 1 {
		return fmt.Errorf("self_consistency_samples must be at least 1 (got %d)", c.SelfConsistencySamples)
	}
	if c.SelfConsistencyTemperature < 0 {
		return fmt.Errorf("self_consistency_temperature cannot be negative (got %g)", c.SelfConsistencyTemperature)
	}
	return nil
}
