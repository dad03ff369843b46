package tuning

import (
	"errors"
	"fmt"
)

// Error classes produced by the tuning core.
var (
	// ErrInvalidGains marks a gain vector that violates the loop-sign constraint.
	ErrInvalidGains = errors.New("tuning: gains violate loop sign constraint")

	// ErrSimulationFailure marks a loop that cannot be built or simulated
	// (zero denominator, improper transfer function, non-finite response).
	ErrSimulationFailure = errors.New("tuning: simulation failure")

	// ErrConfiguration marks malformed bounds or budgets. It is raised before
	// any search iteration runs.
	ErrConfiguration = errors.New("tuning: invalid configuration")
)

// SimulationError wraps a simulation failure with the stage and loop it came from.
type SimulationError struct {
	Stage   string // "build" or "simulate"
	Loop    string
	Time    float64
	Wrapped error
}

func (e *SimulationError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Stage, e.Loop)
	if e.Stage == "simulate" {
		msg += fmt.Sprintf(" at t=%.4f", e.Time)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *SimulationError) Unwrap() error {
	return ErrSimulationFailure
}

// absorbable reports whether err is one of the failures the evaluator turns
// into the SENTINEL score instead of propagating.
func absorbable(err error) bool {
	return errors.Is(err, ErrInvalidGains) || errors.Is(err, ErrSimulationFailure)
}
