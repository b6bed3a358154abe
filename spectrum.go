package goimpfit

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

// Spectrum is an impedance sweep sorted by strictly increasing frequency.
type Spectrum struct {
	freqs []float64
	z     []complex128
}

// NewSpectrum validates and copies a frequency/impedance pair of sequences.
// Unsorted input is sorted by frequency; duplicate frequencies are rejected.
func NewSpectrum(freqs []float64, z []complex128) (*Spectrum, error) {
	if len(freqs) != len(z) {
		return nil, &DimensionMismatchError{What: "impedances", Got: len(z), Want: len(freqs)}
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("spectrum: no data points")
	}

	idx := make([]int, len(freqs))
	for i, f := range freqs {
		if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
			return nil, fmt.Errorf("spectrum: frequency %d is %g, must be finite and positive", i, f)
		}
		if cmplx.IsNaN(z[i]) || cmplx.IsInf(z[i]) {
			return nil, fmt.Errorf("spectrum: impedance %d at %g Hz is not finite", i, f)
		}
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return freqs[idx[a]] < freqs[idx[b]] })

	s := &Spectrum{
		freqs: make([]float64, len(freqs)),
		z:     make([]complex128, len(z)),
	}
	for i, j := range idx {
		s.freqs[i] = freqs[j]
		s.z[i] = z[j]
		if i > 0 && s.freqs[i] == s.freqs[i-1] {
			return nil, fmt.Errorf("spectrum: duplicate frequency %g Hz", s.freqs[i])
		}
	}
	return s, nil
}

// SpectrumFromPairs builds a spectrum from real/imag pairs.
func SpectrumFromPairs(freqs []float64, impData [][2]float64) (*Spectrum, error) {
	if len(freqs) != len(impData) {
		return nil, &DimensionMismatchError{What: "impedances", Got: len(impData), Want: len(freqs)}
	}
	z := make([]complex128, len(impData))
	for i, v := range impData {
		z[i] = complex(v[0], v[1])
	}
	return NewSpectrum(freqs, z)
}

// Len returns the number of points.
func (s *Spectrum) Len() int { return len(s.freqs) }

// Frequencies returns a copy of the frequencies in Hz.
func (s *Spectrum) Frequencies() []float64 {
	return append([]float64(nil), s.freqs...)
}

// Impedances returns a copy of the measured impedances.
func (s *Spectrum) Impedances() []complex128 {
	return append([]complex128(nil), s.z...)
}

// Angular returns ω = 2πf for every point.
func (s *Spectrum) Angular() []float64 {
	w := make([]float64, len(s.freqs))
	for i, f := range s.freqs {
		w[i] = 2 * math.Pi * f
	}
	return w
}

// Pairs returns the impedances as real/imag pairs.
func (s *Spectrum) Pairs() [][2]float64 {
	res := make([][2]float64, len(s.z))
	for i, v := range s.z {
		res[i] = [2]float64{real(v), imag(v)}
	}
	return res
}

// MinMax returns the lowest and highest frequency.
func (s *Spectrum) MinMax() (float64, float64) {
	return s.freqs[0], s.freqs[len(s.freqs)-1]
}
