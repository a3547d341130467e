package loop

import "fmt"

// GenerationError reports a generator-call failure. It is fatal for the run:
// the controller does not retry collaborator failures, it terminates the run
// and returns the partial history together with this error.
type GenerationError struct {
	Turn int
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at turn %d: %v", e.Turn, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// EvaluationError reports a scoring-oracle failure, including pairwise
// scoring failures during self-consistency selection. Fatal for the run,
// same contract as GenerationError.
type EvaluationError struct {
	Turn int
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed at turn %d: %v", e.Turn, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
