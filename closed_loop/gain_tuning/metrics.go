package tuning

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Step-response thresholds.
const (
	riseLow        = 0.1
	riseHigh       = 0.9
	settlingBand   = 0.02
	steadyFraction = 10 // steady state = mean of the last 1/steadyFraction of samples
)

// PerformanceMetrics summarizes a step response.
// RiseTime is 0 when either rise threshold is never crossed, which is a
// detection limit rather than an instantaneous rise.
type PerformanceMetrics struct {
	RiseTime         float64
	SettlingTime     float64
	OvershootPercent float64
	SteadyStateError float64
	PeakValue        float64
	SteadyStateValue float64
}

// ExtractMetrics reduces a sampled response to its transient metrics for a
// step of the given command magnitude. It is a pure function of its inputs.
func ExtractMetrics(r StepResponse, command float64) PerformanceMetrics {
	n := r.Len()
	if n == 0 {
		return PerformanceMetrics{SteadyStateError: math.Abs(command)}
	}

	tail := n / steadyFraction
	if tail < 1 {
		tail = 1
	}
	ss := stat.Mean(r.Value[n-tail:], nil)

	yNorm := make([]float64, n)
	copy(yNorm, r.Value)
	floats.Scale(1/command, yNorm)
	ssNorm := ss / command

	m := PerformanceMetrics{
		SteadyStateValue: ss,
		SteadyStateError: math.Abs(command - ss),
		PeakValue:        floats.Max(r.Value),
	}

	i10 := firstAtOrAbove(yNorm, riseLow*ssNorm)
	i90 := firstAtOrAbove(yNorm, riseHigh*ssNorm)
	if i10 >= 0 && i90 >= 0 {
		m.RiseTime = r.Time[i90] - r.Time[i10]
	}

	band := settlingBand * ssNorm
	last := -1
	for i := n - 1; i >= 0; i-- {
		if math.Abs(yNorm[i]-ssNorm) > band {
			last = i
			break
		}
	}
	switch {
	case last < 0:
		m.SettlingTime = 0
	case last == n-1:
		m.SettlingTime = r.Time[n-1]
	default:
		m.SettlingTime = r.Time[last]
	}

	if ss > 0 {
		m.OvershootPercent = (m.PeakValue - ss) / ss * 100
	}
	return m
}

func firstAtOrAbove(y []float64, threshold float64) int {
	for i, v := range y {
		if v >= threshold {
			return i
		}
	}
	return -1
}
