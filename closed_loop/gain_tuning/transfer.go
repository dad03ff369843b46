package tuning

import (
	"errors"
	"fmt"
)

// Plant and cascade constants for the two loop topologies.
const (
	// Position plant P(s) = PlantGain / (s² + PlantPole·s).
	PlantGain = 5.0
	PlantPole = 5.0

	// Heading actuator bandwidth of the inner loop, rad/s.
	InnerLoopBandwidth = 100.0

	// Reference forward speed used to turn heading into lateral velocity.
	ReferenceSpeedMPH   = 70.0
	FeetPerSecondPerMPH = 1.467
)

// ReferenceSpeedFPS is the velocity gain Vo of the cascade loop, ft/s.
const ReferenceSpeedFPS = ReferenceSpeedMPH * FeetPerSecondPerMPH

var errZeroDenominator = errors.New("denominator is the zero polynomial")

// TransferFunction is a rational Laplace-domain system Num(s)/Den(s).
type TransferFunction struct {
	Num Polynomial
	Den Polynomial
}

// NewTransferFunction rejects an identically zero or non-finite denominator.
func NewTransferFunction(num, den Polynomial) (TransferFunction, error) {
	if den.IsZero() {
		return TransferFunction{}, errZeroDenominator
	}
	if !den.Finite() || !num.Finite() {
		return TransferFunction{}, errors.New("non-finite coefficient")
	}
	return TransferFunction{Num: num, Den: den}, nil
}

// DCGain returns T(0). It is ±Inf when the system has a pole at the origin.
func (tf TransferFunction) DCGain() float64 {
	return tf.Num.Eval(0) / tf.Den.Eval(0)
}

func (tf TransferFunction) String() string {
	return fmt.Sprintf("%v / %v", []float64(tf.Num), []float64(tf.Den))
}

// Series returns a·b with numerators and denominators multiplied independently.
func Series(a, b TransferFunction) TransferFunction {
	return TransferFunction{
		Num: Multiply(a.Num, b.Num),
		Den: Multiply(a.Den, b.Den),
	}
}

// CloseUnityFeedback forms L/(1+L) over the common denominator of L:
// numerator L.Num, denominator L.Den + L.Num.
func CloseUnityFeedback(open TransferFunction) (TransferFunction, error) {
	return NewTransferFunction(open.Num, Add(open.Den, open.Num))
}

// BuildPositionLoop closes the PID position loop around P(s) = 5/(s²+5s)
// with C(s) = (Kd·s² + Kp·s + Ki)/s.
func BuildPositionLoop(kp, ki, kd float64) (TransferFunction, error) {
	controller := TransferFunction{Num: Polynomial{kd, kp, ki}, Den: Polynomial{1, 0}}
	plant := TransferFunction{Num: Polynomial{PlantGain}, Den: Polynomial{1, PlantPole, 0}}

	tf, err := CloseUnityFeedback(Series(controller, plant))
	if err != nil {
		return TransferFunction{}, &SimulationError{Stage: "build", Loop: "position", Wrapped: err}
	}
	return tf, nil
}

// BuildCascadeLoop closes the heading loop 100·Kphi/(s+100), scales by Vo,
// integrates heading rate into lateral position, applies Ky and closes the
// outer loop.
func BuildCascadeLoop(kphi, ky float64) (TransferFunction, error) {
	innerOpen := TransferFunction{
		Num: Polynomial{InnerLoopBandwidth * kphi},
		Den: Polynomial{1, InnerLoopBandwidth},
	}
	inner, err := CloseUnityFeedback(innerOpen)
	if err != nil {
		return TransferFunction{}, &SimulationError{Stage: "build", Loop: "cascade inner", Wrapped: err}
	}

	integrator := TransferFunction{Num: Polynomial{ReferenceSpeedFPS}, Den: Polynomial{1, 0}}
	outer := Series(inner, integrator)
	outer.Num = outer.Num.Scale(ky)

	tf, err := CloseUnityFeedback(outer)
	if err != nil {
		return TransferFunction{}, &SimulationError{Stage: "build", Loop: "cascade", Wrapped: err}
	}
	return tf, nil
}
