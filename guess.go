package goimpfit

import (
	"math"
)

// DefaultGuess derives a starting point for every parameter of c from the
// measured spectrum. Resistive parameters take the real part of the point
// closest to the logarithmic mid frequency; the rest use fixed values that
// usually lie in the right decade for laboratory cells.
func DefaultGuess(c *Circuit, s *Spectrum) []float64 {
	fmin, fmax := s.MinMax()
	mid := s.z[findClosest(s.freqs, math.Pow(10, (math.Log10(fmin)+math.Log10(fmax))/2))]
	r := math.Abs(real(mid))
	if r == 0 || math.IsNaN(r) {
		r = 1
	}

	guess := make([]float64, 0, c.NumParams())
	for _, e := range c.elements {
		switch e.spec.Kind {
		case Resistor:
			guess = append(guess, r)
		case Capacitor, Inductor:
			guess = append(guess, 1e-5)
		case CPE:
			guess = append(guess, 1e-5, 0.8)
		case Warburg:
			guess = append(guess, r)
		case WarburgOpen, WarburgShort, Gerischer:
			guess = append(guess, r, 1)
		default:
			for _, p := range e.spec.Params {
				guess = append(guess, clampGuess(1, p))
			}
		}
	}
	return guess
}

func clampGuess(v float64, p ParamSpec) float64 {
	return math.Max(p.Lower, math.Min(p.Upper, v))
}

// findClosest returns the index of the value in sorted xs closest to x.
func findClosest(xs []float64, x float64) int {
	best, dist := 0, math.Inf(1)
	for i, v := range xs {
		if d := math.Abs(v - x); d < dist {
			best, dist = i, d
		}
	}
	return best
}
