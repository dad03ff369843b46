package tuning

import (
	"fmt"
	"math"
)

// PIDConfig holds sampled PID controller parameters.
type PIDConfig struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`

	// Zero disables the corresponding limit.
	OutputLimit   float64 `json:"output_limit"`
	IntegralLimit float64 `json:"integral_limit"`
}

// PIDController is the sampled form of C(s) = Kp + Ki/s + Kd·s that runs
// on the vehicle: rectangular integration, derivative on error.
type PIDController struct {
	cfg PIDConfig

	// State
	integral  float64
	prevError float64
	output    float64
	saturated bool
}

// NewPIDController creates a PID controller at rest (zero error history).
func NewPIDController(cfg PIDConfig) *PIDController {
	return &PIDController{cfg: cfg}
}

// Update computes the control output for the current error and time step.
func (pid *PIDController) Update(error float64, dt float64) float64 {
	p := pid.cfg.Kp * error

	pid.integral += error * dt
	if lim := pid.cfg.IntegralLimit; lim > 0 {
		pid.integral = clampFloat(pid.integral, -lim, lim)
	}
	i := pid.cfg.Ki * pid.integral

	var d float64
	if dt > 0 {
		d = pid.cfg.Kd * (error - pid.prevError) / dt
	}
	pid.prevError = error

	out := p + i + d
	pid.saturated = false
	if lim := pid.cfg.OutputLimit; lim > 0 && math.Abs(out) > lim {
		out = clampFloat(out, -lim, lim)
		pid.saturated = true
		// Anti-windup: back-calculate integral
		if pid.cfg.Ki != 0 {
			pid.integral = (out - p - d) / pid.cfg.Ki
		}
	}
	pid.output = out
	return out
}

// GetDiagnostics returns current PID state for logging/debugging
func (pid *PIDController) GetDiagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:     pid.prevError,
		Integral:  pid.integral,
		P:         pid.cfg.Kp * pid.prevError,
		I:         pid.cfg.Ki * pid.integral,
		Output:    pid.output,
		Saturated: pid.saturated,
	}
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
	Output   float64
	// Saturated is set when the last output hit OutputLimit.
	Saturated bool
}

// ReplayOptions configures a sampled replay of the position loop.
type ReplayOptions struct {
	RateHz   float64
	Duration float64
	Command  float64

	// Actuator limits applied to the sampled PID; zero disables them.
	OutputLimit   float64
	IntegralLimit float64
}

func (o ReplayOptions) validate() error {
	if !(o.RateHz > 0) || !(o.Duration > 0) {
		return fmt.Errorf("%w: replay needs rate > 0 and duration > 0 (got %g Hz, %g s)",
			ErrConfiguration, o.RateHz, o.Duration)
	}
	if !(o.OutputLimit >= 0) || math.IsInf(o.OutputLimit, 0) {
		return fmt.Errorf("%w: replay output limit must be finite and >= 0, got %g", ErrConfiguration, o.OutputLimit)
	}
	if !(o.IntegralLimit >= 0) || math.IsInf(o.IntegralLimit, 0) {
		return fmt.Errorf("%w: replay integral limit must be finite and >= 0, got %g", ErrConfiguration, o.IntegralLimit)
	}
	return nil
}

// Replay is the outcome of ReplayPositionLoop.
type Replay struct {
	Response StepResponse
	// Final is the controller state after the last sample.
	Final PIDDiagnostics
	// SaturatedSamples counts samples whose output was clamped.
	SaturatedSamples int
	PeakOutput       float64
}

// ReplayPositionLoop drives the position plant with a sampled PID running
// at opts.RateHz, holding each output until the next sample, and returns the
// position response to a step of opts.Command over opts.Duration seconds.
func ReplayPositionLoop(g GainVector, opts ReplayOptions) (Replay, error) {
	if err := g.Validate(); err != nil {
		return Replay{}, err
	}
	if err := opts.validate(); err != nil {
		return Replay{}, err
	}

	plant, err := realize(TransferFunction{Num: Polynomial{PlantGain}, Den: Polynomial{1, PlantPole, 0}})
	if err != nil {
		return Replay{}, &SimulationError{Stage: "build", Loop: "position replay", Wrapped: err}
	}
	dt := 1 / opts.RateHz
	ad, bd, err := plant.discretize(dt)
	if err != nil {
		return Replay{}, &SimulationError{Stage: "simulate", Loop: "position replay", Wrapped: err}
	}

	steps := int(math.Round(opts.Duration*opts.RateHz)) + 1
	out := Replay{Response: StepResponse{Time: make([]float64, steps), Value: make([]float64, steps)}}
	pid := NewPIDController(PIDConfig{
		Kp: g[KpX], Ki: g[KiX], Kd: g[KdX],
		OutputLimit:   opts.OutputLimit,
		IntegralLimit: opts.IntegralLimit,
	})

	n := len(plant.c)
	x := make([]float64, n)
	next := make([]float64, n)
	for k := 0; k < steps; k++ {
		t := float64(k) * dt
		y := plant.d
		for j, cj := range plant.c {
			y += cj * x[j]
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return Replay{}, &SimulationError{Stage: "simulate", Loop: "position replay", Time: t,
				Wrapped: fmt.Errorf("response is not finite")}
		}
		out.Response.Time[k], out.Response.Value[k] = t, y

		u := pid.Update(opts.Command-y, dt)
		diag := pid.GetDiagnostics()
		if diag.Saturated {
			out.SaturatedSamples++
		}
		out.PeakOutput = math.Max(out.PeakOutput, math.Abs(u))
		for i := 0; i < n; i++ {
			v := bd[i] * u
			for j, xj := range x {
				v += ad[i*n+j] * xj
			}
			next[i] = v
		}
		x, next = next, x
	}
	out.Final = pid.GetDiagnostics()
	return out, nil
}
