package goimpfit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FitType selects which part of the measurement drives the Lin-KK regression.
type FitType int

const (
	FitComplex FitType = iota
	FitReal
	FitImag
)

func (t FitType) String() string {
	switch t {
	case FitComplex:
		return "complex"
	case FitReal:
		return "real"
	case FitImag:
		return "imag"
	}
	return fmt.Sprintf("FitType(%d)", int(t))
}

// ParseFitType accepts complex|real|imag.
func ParseFitType(s string) (FitType, error) {
	switch strings.ToLower(s) {
	case "", "complex":
		return FitComplex, nil
	case "real":
		return FitReal, nil
	case "imag", "imaginary":
		return FitImag, nil
	}
	return FitComplex, fmt.Errorf("unknown fit type %q", s)
}

// KKConfig controls the Lin-KK order search.
//
// Orders MinOrder, MinOrder+OrderStep, ... up to MaxOrder are tried in turn.
// An order is admissible when its mu is below MuThreshold. The search stops
// at the first inadmissible order after an admissible one (the previous
// order is returned), at the first admissible order whose normalised
// residual RMS is at most ResidualTolerance (0 disables this rule), or at
// MaxOrder (the last admissible order is returned).
//
// With ResidualTolerance 0, Validated reflects the mu criterion only: mu is
// not monotonic in M, so a spike at a low order can end the search on a
// surrogate that still misses the data. Set ResidualTolerance to also
// require the returned order to fit within it.
type KKConfig struct {
	MinOrder          int
	MaxOrder          int
	OrderStep         int
	MuThreshold       float64
	ResidualTolerance float64
	FitType           FitType
	AddCap            bool
	SkipSingular      bool

	Logger *slog.Logger
}

// DefaultKKConfig searches orders 1 to 100 like linKK(c=0.5, max_M=100).
// mu here is the negative share of branch resistance, so MuThreshold is not
// the linKK c parameter.
func DefaultKKConfig() KKConfig {
	return KKConfig{
		MinOrder:     1,
		MaxOrder:     100,
		OrderStep:    1,
		MuThreshold:  0.15,
		FitType:      FitComplex,
		AddCap:       true,
		SkipSingular: true,
	}
}

func (c KKConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.Logger
}

func (c KKConfig) validate() error {
	switch {
	case c.MinOrder < 1:
		return fmt.Errorf("linkk: min order %d must be at least 1", c.MinOrder)
	case c.MaxOrder < c.MinOrder:
		return fmt.Errorf("linkk: max order %d below min order %d", c.MaxOrder, c.MinOrder)
	case c.OrderStep < 1:
		return fmt.Errorf("linkk: order step %d must be at least 1", c.OrderStep)
	case !(c.MuThreshold > 0 && c.MuThreshold < 1):
		return fmt.Errorf("linkk: mu threshold %g outside (0,1)", c.MuThreshold)
	}
	return nil
}

// KKOrder records one attempted order.
type KKOrder struct {
	M           int
	Mu          float64
	ResidualRMS float64
}

// KKResult is the outcome of a Lin-KK validation.
type KKResult struct {
	M                  int
	Mu                 float64
	Frequencies        []float64
	Measured           []complex128
	Predicted          []complex128
	ResidualsReal      []float64 // (Re Z - Re Zfit)/|Z|
	ResidualsImag      []float64 // (Im Z - Im Zfit)/|Z|
	ChiSquared         float64
	Validated          bool
	TimeConstants      []float64
	Resistances        []float64
	SeriesResistance   float64
	Inductance         float64
	InverseCapacitance float64 // 0 unless AddCap
	Orders             []KKOrder

	threshold   float64
	maxOrder    int
	tolerance   float64
	residualRMS float64 // set when the returned order missed tolerance
}

// Err returns a MaxOrderExceededError when no attempted order was
// admissible, or when ResidualTolerance was set and the returned order
// did not reach it, and nil otherwise.
func (r *KKResult) Err() error {
	if r.Validated {
		return nil
	}
	return &MaxOrderExceededError{
		MaxOrder:    r.maxOrder,
		Mu:          r.Mu,
		Threshold:   r.threshold,
		ResidualRMS: r.residualRMS,
		Tolerance:   r.tolerance,
	}
}

// Summary returns the single-row KK summary.
func (r *KKResult) Summary() KKSummary {
	return KKSummary{M: r.M, Mu: r.Mu, ChiSquared: r.ChiSquared, Validated: r.Validated}
}

// KKRow is one line of the per-frequency KK table.
type KKRow struct {
	Frequency    float64
	Measured     complex128
	Predicted    complex128
	ResidualReal float64
	ResidualImag float64
}

// Table lists measurement, surrogate and residuals per frequency.
func (r *KKResult) Table() []KKRow {
	rows := make([]KKRow, len(r.Frequencies))
	for i, f := range r.Frequencies {
		rows[i] = KKRow{
			Frequency:    f,
			Measured:     r.Measured[i],
			Predicted:    r.Predicted[i],
			ResidualReal: r.ResidualsReal[i],
			ResidualImag: r.ResidualsImag[i],
		}
	}
	return rows
}

// TimeConstants returns the M fixed surrogate time constants for a sweep:
// τ₁ = 1/(2π fmax), τ_M = 1/(2π fmin), log-spaced in between. For M = 1
// only the slowest time constant is used.
func TimeConstants(freqs []float64, m int) []float64 {
	if m <= 0 || len(freqs) == 0 {
		return nil
	}
	fmin, fmax := floats.Min(freqs), floats.Max(freqs)
	tmin := 1 / (2 * math.Pi * fmax)
	tmax := 1 / (2 * math.Pi * fmin)
	if m == 1 {
		return []float64{tmax}
	}
	return floats.LogSpan(make([]float64, m), tmin, tmax)
}

// ValidateKK is LinKK over raw frequency and impedance sequences.
func ValidateKK(freqs []float64, z []complex128, cfg KKConfig) (*KKResult, error) {
	s, err := NewSpectrum(freqs, z)
	if err != nil {
		return nil, err
	}
	return LinKK(s, cfg)
}

// LinKK runs the Lin-KK test on s. Failing to find an admissible order is
// not an error: the result has Validated false and Err() describes it.
func LinKK(s *Spectrum, cfg KKConfig) (*KKResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.logger()

	var (
		orders     []KKOrder
		admissible *kkFit
		last       *kkFit
	)
	for m := cfg.MinOrder; m <= cfg.MaxOrder; m += cfg.OrderStep {
		fit, err := fitKK(s, m, cfg)
		if err != nil {
			if cfg.SkipSingular && errors.Is(err, ErrSingularMatrix) {
				log.Debug("linkk order skipped", "M", m, "error", err)
				continue
			}
			return nil, err
		}
		orders = append(orders, KKOrder{M: m, Mu: fit.mu, ResidualRMS: fit.rms})
		log.Debug("linkk order", "M", m, "mu", fit.mu, "rms", fit.rms)

		if fit.mu >= cfg.MuThreshold {
			if admissible != nil {
				break
			}
			last = fit
			continue
		}
		admissible = fit
		if cfg.ResidualTolerance > 0 && fit.rms <= cfg.ResidualTolerance {
			break
		}
	}

	chosen := admissible
	if chosen == nil {
		chosen = last
	}
	if chosen == nil {
		return nil, &SingularMatrixError{Stage: "linkk", Order: cfg.MaxOrder}
	}

	res := chosen.result(s)
	res.Validated = admissible != nil
	res.Orders = orders
	res.threshold = cfg.MuThreshold
	res.maxOrder = cfg.MaxOrder
	if res.Validated && cfg.ResidualTolerance > 0 && admissible.rms > cfg.ResidualTolerance {
		res.Validated = false
		res.tolerance = cfg.ResidualTolerance
		res.residualRMS = admissible.rms
	}
	if res.Validated {
		log.Info("linkk validated", "M", res.M, "mu", res.Mu, "chi_squared", res.ChiSquared)
	} else {
		log.Warn("linkk not validated", "error", res.Err())
	}
	return res, nil
}

// kkFit is the regression outcome for one order.
type kkFit struct {
	m     int
	tau   []float64
	r0    float64
	rk    []float64
	l     float64
	cinv  float64
	mu    float64
	rms   float64
	zfit  []complex128
	resRe []float64
	resIm []float64
}

// column coefficients of the surrogate at one point
func kkColumns(w float64, tau []float64, addCap bool) (re, im []float64) {
	n := len(tau) + 2
	if addCap {
		n++
	}
	re = make([]float64, n)
	im = make([]float64, n)
	re[0] = 1
	for k, t := range tau {
		d := 1 + w*w*t*t
		re[k+1] = 1 / d
		im[k+1] = -w * t / d
	}
	im[len(tau)+1] = w
	if addCap {
		im[len(tau)+2] = -1 / w
	}
	return re, im
}

func fitKK(s *Spectrum, m int, cfg KKConfig) (*kkFit, error) {
	n := s.Len()
	omegas := s.Angular()
	tau := TimeConstants(s.freqs, m)
	ncols := m + 2
	if cfg.AddCap {
		ncols++
	}

	re := mat.NewDense(n, ncols, nil)
	im := mat.NewDense(n, ncols, nil)
	bre := make([]float64, n)
	bim := make([]float64, n)
	mods := make([]float64, n)
	for i, w := range omegas {
		mods[i] = cmplx.Abs(s.z[i])
		if mods[i] == 0 {
			mods[i] = 1
		}
		cr, ci := kkColumns(w, tau, cfg.AddCap)
		for j := range cr {
			re.Set(i, j, cr[j]/mods[i])
			im.Set(i, j, ci[j]/mods[i])
		}
		bre[i] = real(s.z[i]) / mods[i]
		bim[i] = imag(s.z[i]) / mods[i]
	}

	elems := make([]float64, ncols)
	switch cfg.FitType {
	case FitReal:
		// R0 and Rk from the real part, then L and 1/C from what the
		// resistive part leaves in the imaginary part
		x, err := lstsq(re.Slice(0, n, 0, m+1), bre)
		if err != nil {
			return nil, &SingularMatrixError{Stage: "linkk", Order: m}
		}
		copy(elems, x)
		rest := make([]float64, n)
		for i := range rest {
			rest[i] = bim[i]
			for j := 0; j <= m; j++ {
				rest[i] -= im.At(i, j) * x[j]
			}
		}
		y, err := lstsq(im.Slice(0, n, m+1, ncols), rest)
		if err != nil {
			return nil, &SingularMatrixError{Stage: "linkk", Order: m}
		}
		copy(elems[m+1:], y)
	case FitImag:
		// Rk, L and 1/C from the imaginary part, then R0 as the weighted
		// mean of the real remainder
		x, err := lstsq(im.Slice(0, n, 1, ncols), bim)
		if err != nil {
			return nil, &SingularMatrixError{Stage: "linkk", Order: m}
		}
		copy(elems[1:], x)
		var num, den float64
		for i := 0; i < n; i++ {
			rest := bre[i]
			for j := 1; j < ncols; j++ {
				rest -= re.At(i, j) * elems[j]
			}
			num += rest / mods[i]
			den += 1 / (mods[i] * mods[i])
		}
		elems[0] = num / den
	default:
		a := mat.NewDense(2*n, ncols, nil)
		a.Slice(0, n, 0, ncols).(*mat.Dense).Copy(re)
		a.Slice(n, 2*n, 0, ncols).(*mat.Dense).Copy(im)
		x, err := lstsq(a, append(append([]float64(nil), bre...), bim...))
		if err != nil {
			return nil, &SingularMatrixError{Stage: "linkk", Order: m}
		}
		copy(elems, x)
	}

	fit := &kkFit{
		m:     m,
		tau:   tau,
		r0:    elems[0],
		rk:    elems[1 : m+1],
		l:     elems[m+1],
		zfit:  make([]complex128, n),
		resRe: make([]float64, n),
		resIm: make([]float64, n),
	}
	if cfg.AddCap {
		fit.cinv = elems[m+2]
	}
	fit.mu = negativeShare(fit.rk)

	var ss float64
	for i, w := range omegas {
		z := complex(fit.r0, w*fit.l)
		for k, t := range tau {
			z += complex(fit.rk[k], 0) / complex(1, w*t)
		}
		if cfg.AddCap {
			z += complex(0, -fit.cinv/w)
		}
		fit.zfit[i] = z
		d := s.z[i] - z
		fit.resRe[i] = real(d) / mods[i]
		fit.resIm[i] = imag(d) / mods[i]
		ss += fit.resRe[i]*fit.resRe[i] + fit.resIm[i]*fit.resIm[i]
	}
	fit.rms = math.Sqrt(ss / float64(2*n))
	return fit, nil
}

// negativeShare is Σ|Rk| over negative Rk divided by Σ|Rk|.
func negativeShare(rk []float64) float64 {
	var neg, all float64
	for _, r := range rk {
		all += math.Abs(r)
		if r < 0 {
			neg -= r
		}
	}
	if all == 0 {
		return 0
	}
	return neg / all
}

// lstsq solves min ||a x - b|| through QR (or LQ for wide systems).
// Only an exactly singular system is an error; ill conditioning is not.
func lstsq(a mat.Matrix, b []float64) ([]float64, error) {
	_, c := a.Dims()
	var x mat.VecDense
	err := x.SolveVec(a, mat.NewVecDense(len(b), b))
	if err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, err
		}
	}
	out := make([]float64, c)
	for i := range out {
		out[i] = x.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, errors.New("non-finite solution")
		}
	}
	return out, nil
}

func (f *kkFit) result(s *Spectrum) *KKResult {
	chi, _ := ChiSquared(f.resRe, f.resIm)
	return &KKResult{
		M:                  f.m,
		Mu:                 f.mu,
		Frequencies:        s.Frequencies(),
		Measured:           s.Impedances(),
		Predicted:          f.zfit,
		ResidualsReal:      f.resRe,
		ResidualsImag:      f.resIm,
		ChiSquared:         chi,
		TimeConstants:      f.tau,
		Resistances:        append([]float64(nil), f.rk...),
		SeriesResistance:   f.r0,
		Inductance:         f.l,
		InverseCapacitance: f.cinv,
	}
}
