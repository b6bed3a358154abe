package goimpfit

import (
	"math"
)

// paramSpace maps between the physical parameter vector x and an
// unconstrained internal vector u on which the local solvers operate.
// Each x[i] is first divided by a scale taken from the initial guess and
// then bounded with the MINUIT transforms:
//
//	both bounds:  y = lo + (hi-lo)(sin(u)+1)/2
//	lower only:   y = lo - 1 + sqrt(u²+1)
//	upper only:   y = hi + 1 - sqrt(u²+1)
type paramSpace struct {
	scale []float64
	lower []float64 // scaled
	upper []float64 // scaled
	names []string
	rawLo []float64
	rawHi []float64
}

func newParamSpace(c *Circuit, initial []float64) (*paramSpace, error) {
	if len(initial) != c.NumParams() {
		return nil, &DimensionMismatchError{What: "initial guess", Got: len(initial), Want: c.NumParams()}
	}
	lo, hi := c.Bounds()
	names := c.ParamNames()
	ps := &paramSpace{
		scale: make([]float64, len(initial)),
		lower: make([]float64, len(initial)),
		upper: make([]float64, len(initial)),
		names: names,
		rawLo: lo,
		rawHi: hi,
	}
	for i, v := range initial {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < lo[i] || v > hi[i] {
			return nil, &BoundsViolationError{Index: i, Name: names[i], Value: v, Lower: lo[i], Upper: hi[i]}
		}
		s := math.Abs(v)
		if s == 0 {
			s = 1
		}
		ps.scale[i] = s
		ps.lower[i] = lo[i] / s
		ps.upper[i] = hi[i] / s
	}
	return ps, nil
}

func (ps *paramSpace) dim() int { return len(ps.scale) }

// toExternal writes the physical parameters for internal vector u into x.
func (ps *paramSpace) toExternal(x, u []float64) {
	for i, ui := range u {
		lo, hi := ps.lower[i], ps.upper[i]
		var y float64
		switch {
		case !math.IsInf(lo, 0) && !math.IsInf(hi, 0):
			y = lo + (hi-lo)*(math.Sin(ui)+1)/2
		case !math.IsInf(lo, 0):
			y = lo - 1 + math.Sqrt(ui*ui+1)
		case !math.IsInf(hi, 0):
			y = hi + 1 - math.Sqrt(ui*ui+1)
		default:
			y = ui
		}
		x[i] = y * ps.scale[i]
	}
	ps.clamp(x)
}

// toInternal is the inverse of toExternal for x within bounds.
func (ps *paramSpace) toInternal(u, x []float64) {
	for i, xi := range x {
		y := xi / ps.scale[i]
		lo, hi := ps.lower[i], ps.upper[i]
		switch {
		case !math.IsInf(lo, 0) && !math.IsInf(hi, 0):
			t := 2*(y-lo)/(hi-lo) - 1
			u[i] = math.Asin(math.Max(-1, math.Min(1, t)))
		case !math.IsInf(lo, 0):
			d := y - lo + 1
			u[i] = math.Sqrt(math.Max(0, d*d-1))
		case !math.IsInf(hi, 0):
			d := hi - y + 1
			u[i] = math.Sqrt(math.Max(0, d*d-1))
		default:
			u[i] = y
		}
	}
}

// clamp pins rounding excursions back onto the physical bounds.
func (ps *paramSpace) clamp(x []float64) {
	for i := range x {
		if x[i] < ps.rawLo[i] {
			x[i] = ps.rawLo[i]
		}
		if x[i] > ps.rawHi[i] {
			x[i] = ps.rawHi[i]
		}
	}
}
