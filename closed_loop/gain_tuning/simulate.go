package tuning

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// StepResponse samples a response on a uniform grid starting at t=0.
type StepResponse struct {
	Time  []float64
	Value []float64
}

// Len returns the number of samples.
func (r StepResponse) Len() int { return len(r.Value) }

// Scaled returns a copy with every value multiplied by k.
func (r StepResponse) Scaled(k float64) StepResponse {
	out := StepResponse{Time: r.Time, Value: make([]float64, len(r.Value))}
	for i, v := range r.Value {
		out.Value[i] = v * k
	}
	return out
}

// Final returns the last sampled value, or 0 for an empty response.
func (r StepResponse) Final() float64 {
	if len(r.Value) == 0 {
		return 0
	}
	return r.Value[len(r.Value)-1]
}

// Simulator produces the unit step response of a transfer function.
type Simulator interface {
	Simulate(tf TransferFunction, duration float64, samples int) (StepResponse, error)
}

// StateSpaceSimulator realizes the transfer function in controllable
// canonical form and propagates it with the exact zero-order-hold
// discretization exp([[A B];[0 0]]·dt). For a step input this is exact up to
// floating point, independent of the sample spacing.
type StateSpaceSimulator struct{}

// Simulate returns the unit step response of tf at samples points over [0, duration].
func (StateSpaceSimulator) Simulate(tf TransferFunction, duration float64, samples int) (StepResponse, error) {
	if samples < 2 || !(duration > 0) {
		return StepResponse{}, fmt.Errorf("%w: horizon needs duration > 0 and at least 2 samples (got %g s, %d)",
			ErrConfiguration, duration, samples)
	}

	ss, err := realize(tf)
	if err != nil {
		return StepResponse{}, &SimulationError{Stage: "simulate", Loop: tf.String(), Wrapped: err}
	}

	resp := StepResponse{
		Time:  make([]float64, samples),
		Value: make([]float64, samples),
	}
	for k := range resp.Time {
		resp.Time[k] = duration * float64(k) / float64(samples-1)
	}

	n := len(ss.c)
	if n == 0 {
		for k := range resp.Value {
			resp.Value[k] = ss.d
		}
		return resp, nil
	}

	ad, bd, err := ss.discretize(duration / float64(samples-1))
	if err != nil {
		return StepResponse{}, &SimulationError{Stage: "simulate", Loop: tf.String(), Wrapped: err}
	}

	x := make([]float64, n)
	next := make([]float64, n)
	for k := 0; k < samples; k++ {
		y := ss.d
		for j, cj := range ss.c {
			y += cj * x[j]
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return StepResponse{}, &SimulationError{
				Stage:   "simulate",
				Loop:    tf.String(),
				Time:    resp.Time[k],
				Wrapped: errors.New("response is not finite"),
			}
		}
		resp.Value[k] = y

		for i := 0; i < n; i++ {
			v := bd[i]
			row := ad[i*n : (i+1)*n]
			for j, xj := range x {
				v += row[j] * xj
			}
			next[i] = v
		}
		x, next = next, x
	}
	return resp, nil
}

// stateSpace is a single-input single-output realization x' = Ax + Bu, y = Cx + Du
// in controllable canonical form, so B = e1 and only A's first row is dense.
type stateSpace struct {
	a *mat.Dense
	c []float64
	d float64
}

func realize(tf TransferFunction) (stateSpace, error) {
	den := tf.Den.Trim()
	num := tf.Num.Trim()
	if len(den) == 0 {
		return stateSpace{}, errZeroDenominator
	}
	n := den.Degree()
	if num.Degree() > n {
		return stateSpace{}, fmt.Errorf("improper transfer function: numerator degree %d > denominator degree %d",
			num.Degree(), n)
	}

	lead := den[0]
	den = den.Scale(1 / lead)
	padded := make(Polynomial, n+1)
	copy(padded[n+1-len(num):], num)
	padded = padded.Scale(1 / lead)

	ss := stateSpace{d: padded[0]}
	if n == 0 {
		return ss, nil
	}

	ss.a = mat.NewDense(n, n, nil)
	ss.c = make([]float64, n)
	for j := 0; j < n; j++ {
		ss.a.Set(0, j, -den[j+1])
		ss.c[j] = padded[j+1] - den[j+1]*ss.d
	}
	for i := 1; i < n; i++ {
		ss.a.Set(i, i-1, 1)
	}
	return ss, nil
}

// discretize returns Ad (row-major, n×n) and Bd (n) for sample spacing dt.
func (ss stateSpace) discretize(dt float64) ([]float64, []float64, error) {
	n := len(ss.c)
	aug := mat.NewDense(n+1, n+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			aug.Set(i, j, ss.a.At(i, j)*dt)
		}
	}
	aug.Set(0, n, dt)

	var e mat.Dense
	e.Exp(aug)

	ad := make([]float64, n*n)
	bd := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			ad[i*n+j] = e.At(i, j)
		}
		bd[i] = e.At(i, n)
	}
	for _, v := range append(ad, bd...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, errors.New("state transition matrix is not finite")
		}
	}
	return ad, bd, nil
}
