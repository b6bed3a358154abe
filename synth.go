package goimpfit

import (
	"math/cmplx"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// LogFrequencies returns n frequencies log-spaced from fmin to fmax inclusive.
func LogFrequencies(fmin, fmax float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{fmin}
	}
	return floats.LogSpan(make([]float64, n), fmin, fmax)
}

// Synthesize evaluates c at freqs and adds uniform noise of relative level
// noise to every point. The real and imaginary parts are each perturbed by
// up to noise*|Z|. rng may be nil when noise is zero.
func Synthesize(c *Circuit, params, freqs []float64, noise float64, rng *rand.Rand) (*Spectrum, error) {
	z, err := c.Impedance(params, freqs)
	if err != nil {
		return nil, err
	}
	if noise > 0 {
		for i, v := range z {
			z[i] = perturb(v, noise, rng)
		}
	}
	return NewSpectrum(freqs, z)
}

func perturb(v complex128, nl float64, rng *rand.Rand) complex128 {
	amp := cmplx.Abs(v) * nl
	re := real(v) + amp*(2*rng.Float64()-1)
	im := imag(v) + amp*(2*rng.Float64()-1)
	return complex(re, im)
}
