package tuning

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Polynomial holds real coefficients, highest degree first.
// The empty polynomial and an all-zero polynomial are both the zero polynomial.
type Polynomial []float64

// Degree returns len(p)-1 without trimming leading zeros.
// The empty polynomial has degree -1.
func (p Polynomial) Degree() int {
	return len(p) - 1
}

// Trim drops leading zero coefficients. The zero polynomial trims to empty.
func (p Polynomial) Trim() Polynomial {
	for i, c := range p {
		if c != 0 {
			return p[i:]
		}
	}
	return Polynomial{}
}

// IsZero reports whether every coefficient is zero.
func (p Polynomial) IsZero() bool {
	return len(p.Trim()) == 0
}

// Scale returns k·p.
func (p Polynomial) Scale(k float64) Polynomial {
	out := make(Polynomial, len(p))
	copy(out, p)
	floats.Scale(k, out)
	return out
}

// Eval evaluates p at s by Horner's rule.
func (p Polynomial) Eval(s float64) float64 {
	var v float64
	for _, c := range p {
		v = v*s + c
	}
	return v
}

// Finite reports whether every coefficient is a finite number.
func (p Polynomial) Finite() bool {
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Multiply convolves a and b; deg(a·b) = deg(a)+deg(b).
// A product with an empty operand is empty.
func Multiply(a, b Polynomial) Polynomial {
	if len(a) == 0 || len(b) == 0 {
		return Polynomial{}
	}
	out := make(Polynomial, len(a)+len(b)-1)
	for i, ai := range a {
		for j, bj := range b {
			out[i+j] += ai * bj
		}
	}
	return out
}

// Add left-pads the shorter operand with zeros and sums elementwise;
// deg(a+b) = max(deg(a), deg(b)).
func Add(a, b Polynomial) Polynomial {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(Polynomial, n)
	copy(out[n-len(a):], a)
	floats.Add(out[n-len(b):], b)
	return out
}
