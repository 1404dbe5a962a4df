package solver

import "fmt"

// InsufficientDataError maps to spec.md §6 exit code 1: not enough
// overlapping data to build the graph at all.
type InsufficientDataError struct{ Reason string }

func (e *InsufficientDataError) Error() string { return "solver: insufficient data: " + e.Reason }

// OutOfRangeError maps to exit code 2: requested reference timestamps fall
// outside the ingested buffers' coverage.
type OutOfRangeError struct{ Reason string }

func (e *OutOfRangeError) Error() string { return "solver: out of range: " + e.Reason }

// NumericalFailure maps to exit code 3: the optimizer's damping schedule
// escalated past its fatal threshold without finding an accepted step
// (spec.md §4.3 "Failure modes").
type NumericalFailure struct {
	Iteration      int
	ConsecutiveBad int
}

func (e *NumericalFailure) Error() string {
	return fmt.Sprintf("solver: numerical failure at iteration %d after %d consecutive rejected steps",
		e.Iteration, e.ConsecutiveBad)
}

// maxConsecutiveDampingEscalations is the number of back-to-back rejected
// (damping-increasing) steps that turns a slow-converging run into a fatal
// NumericalFailure (spec.md §4.3 "Failure modes": "non-convergence ...
// reported, not silently returned as success").
const maxConsecutiveDampingEscalations = 5
