package tuning

import (
	"context"
	"fmt"
	"math"

	"github.com/sourcegraph/conc/pool"
)

// Gain vector components.
const (
	KpX = iota
	KiX
	KdX
	KpPhi
	KpY
	NumGains
)

// GainNames labels the gain vector components in order.
var GainNames = [NumGains]string{"Kp_x", "Ki_x", "Kd_x", "Kp_phi", "Kp_y"}

// GainVector is (Kp_x, Ki_x, Kd_x, Kp_phi, Kp_y). Position gains are
// non-negative, cascade gains non-positive.
type GainVector [NumGains]float64

// Validate returns ErrInvalidGains when a component is non-finite or has
// the wrong sign.
func (g GainVector) Validate() error {
	for i, v := range g {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v is not finite", ErrInvalidGains, GainNames[i], v)
		}
	}
	for _, i := range []int{KpX, KiX, KdX} {
		if g[i] < 0 {
			return fmt.Errorf("%w: %s=%g must be >= 0", ErrInvalidGains, GainNames[i], g[i])
		}
	}
	for _, i := range []int{KpPhi, KpY} {
		if g[i] > 0 {
			return fmt.Errorf("%w: %s=%g must be <= 0", ErrInvalidGains, GainNames[i], g[i])
		}
	}
	return nil
}

func (g GainVector) String() string {
	return fmt.Sprintf("(Kp_x=%.4g, Ki_x=%.4g, Kd_x=%.4g, Kp_phi=%.4g, Kp_y=%.4g)",
		g[KpX], g[KiX], g[KdX], g[KpPhi], g[KpY])
}

// Evaluation is the outcome of scoring one gain vector.
// Err holds the absorbed InvalidGains or SimulationFailure, if any; such
// evaluations carry Score == Sentinel and zero metrics.
type Evaluation struct {
	Gains    GainVector
	Passed   bool
	Score    float64
	MetricsX PerformanceMetrics
	MetricsY PerformanceMetrics
	CheckX   LoopCheck
	CheckY   LoopCheck
	Err      error

	// Filled only when the evaluator keeps responses.
	ResponseX StepResponse
	ResponseY StepResponse
}

// Default simulation horizon.
const (
	DefaultDuration = 10.0
	DefaultSamples  = 5000
)

// Evaluator scores gain vectors against PositionLoopSpec and CascadeLoopSpec.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	sim           Simulator
	duration      float64
	samples       int
	keepResponses bool
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithSimulator replaces the default state-space simulator.
func WithSimulator(sim Simulator) EvaluatorOption {
	return func(e *Evaluator) { e.sim = sim }
}

// WithHorizon sets the simulated duration and sample count.
func WithHorizon(duration float64, samples int) EvaluatorOption {
	return func(e *Evaluator) {
		e.duration = duration
		e.samples = samples
	}
}

// WithResponses keeps the scaled step responses in each Evaluation.
func WithResponses(keep bool) EvaluatorOption {
	return func(e *Evaluator) { e.keepResponses = keep }
}

// NewEvaluator returns an evaluator over the 10 s / 5000-sample horizon unless overridden.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		sim:      StateSpaceSimulator{},
		duration: DefaultDuration,
		samples:  DefaultSamples,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate builds, simulates and scores both loops for g.
// Sign violations and simulation failures are absorbed into a Sentinel
// score; any other error is returned.
func (e *Evaluator) Evaluate(g GainVector) (Evaluation, error) {
	ev := Evaluation{Gains: g}

	if err := g.Validate(); err != nil {
		return ev.infeasible(err), nil
	}

	x, err := e.runLoop(PositionLoopSpec.Name, PositionCommand, func() (TransferFunction, error) {
		return BuildPositionLoop(g[KpX], g[KiX], g[KdX])
	})
	if err != nil {
		if absorbable(err) {
			return ev.infeasible(err), nil
		}
		return Evaluation{}, err
	}
	y, err := e.runLoop(CascadeLoopSpec.Name, CascadeCommand, func() (TransferFunction, error) {
		return BuildCascadeLoop(g[KpPhi], g[KpY])
	})
	if err != nil {
		if absorbable(err) {
			return ev.infeasible(err), nil
		}
		return Evaluation{}, err
	}

	ev.MetricsX, ev.MetricsY = x.metrics, y.metrics
	ev.CheckX = PositionLoopSpec.Check(x.metrics)
	ev.CheckY = CascadeLoopSpec.Check(y.metrics)
	ev.Passed = ev.CheckX.Passed() && ev.CheckY.Passed()
	ev.Score = PositionLoopSpec.Violation(x.metrics) + CascadeLoopSpec.Violation(y.metrics)
	if e.keepResponses {
		ev.ResponseX, ev.ResponseY = x.response, y.response
	}
	return ev, nil
}

func (ev Evaluation) infeasible(err error) Evaluation {
	return Evaluation{Gains: ev.Gains, Score: Sentinel, Err: err}
}

type loopResult struct {
	response StepResponse
	metrics  PerformanceMetrics
}

func (e *Evaluator) runLoop(name string, command float64, build func() (TransferFunction, error)) (loopResult, error) {
	tf, err := build()
	if err != nil {
		return loopResult{}, err
	}
	unit, err := e.sim.Simulate(tf, e.duration, e.samples)
	if err != nil {
		return loopResult{}, err
	}
	resp := unit.Scaled(command)
	m := ExtractMetrics(resp, command)
	for _, v := range []float64{m.RiseTime, m.SettlingTime, m.OvershootPercent, m.SteadyStateError, m.PeakValue} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return loopResult{}, &SimulationError{Stage: "simulate", Loop: name, Time: e.duration,
				Wrapped: fmt.Errorf("metric is not finite")}
		}
	}
	return loopResult{response: resp, metrics: m}, nil
}

// EvaluateBatch evaluates independent gain vectors concurrently with at most
// workers goroutines. Results are in input order.
func (e *Evaluator) EvaluateBatch(ctx context.Context, gains []GainVector, workers int) ([]Evaluation, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]Evaluation, len(gains))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers).WithCancelOnError().WithFirstError()
	for i := range gains {
		i := i
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ev, err := e.Evaluate(gains[i])
			if err != nil {
				return fmt.Errorf("evaluate %s: %w", gains[i], err)
			}
			out[i] = ev
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
