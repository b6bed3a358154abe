package goimpfit

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Weighting selects how complex residuals are scaled before squaring.
type Weighting int

const (
	// UNITY leaves residuals unweighted.
	UNITY Weighting = iota
	// PROPORTIONAL divides the real and imaginary residuals by the magnitude
	// of the measured real and imaginary parts respectively.
	PROPORTIONAL
	// MODULUS divides both residual components by |Z| of the measurement.
	MODULUS
)

func (w Weighting) String() string {
	switch w {
	case UNITY:
		return "none"
	case PROPORTIONAL:
		return "proportional"
	case MODULUS:
		return "modulus"
	}
	return fmt.Sprintf("Weighting(%d)", int(w))
}

// ParseWeighting accepts none|unity|proportional|modulus.
func ParseWeighting(s string) (Weighting, error) {
	switch strings.ToLower(s) {
	case "", "none", "unity":
		return UNITY, nil
	case "proportional":
		return PROPORTIONAL, nil
	case "modulus":
		return MODULUS, nil
	}
	return UNITY, fmt.Errorf("unknown weighting %q", s)
}

// weightedResiduals writes measured-predicted as [re..., im...] into dst,
// which must have length 2*len(measured).
func weightedResiduals(dst []float64, measured, predicted []complex128, w Weighting) {
	n := len(measured)
	for i, m := range measured {
		d := m - predicted[i]
		re, im := real(d), imag(d)
		switch w {
		case MODULUS:
			if mod := cmplx.Abs(m); mod > 0 {
				re /= mod
				im /= mod
			}
		case PROPORTIONAL:
			mod := cmplx.Abs(m)
			if r := math.Abs(real(m)); r > 0 {
				re /= r
			} else if mod > 0 {
				re /= mod
			}
			if r := math.Abs(imag(m)); r > 0 {
				im /= r
			} else if mod > 0 {
				im /= mod
			}
		}
		dst[i] = re
		dst[n+i] = im
	}
}

// Residuals returns measured - predicted for every point.
func Residuals(measured, predicted []complex128) ([]complex128, error) {
	if len(measured) != len(predicted) {
		return nil, &DimensionMismatchError{What: "predicted impedances", Got: len(predicted), Want: len(measured)}
	}
	res := make([]complex128, len(measured))
	for i := range measured {
		res[i] = measured[i] - predicted[i]
	}
	return res, nil
}

// RMSE is the root mean square of the complex residual magnitudes.
func RMSE(measured, predicted []complex128) (float64, error) {
	res, err := Residuals(measured, predicted)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	var sum float64
	for _, r := range res {
		a := cmplx.Abs(r)
		sum += a * a
	}
	return math.Sqrt(sum / float64(len(res))), nil
}

// ChiSquared sums the squared real and imaginary residual components.
func ChiSquared(resReal, resImag []float64) (float64, error) {
	if len(resReal) != len(resImag) {
		return 0, &DimensionMismatchError{What: "imaginary residuals", Got: len(resImag), Want: len(resReal)}
	}
	return floats.Dot(resReal, resReal) + floats.Dot(resImag, resImag), nil
}

// ParameterErrors estimates standard errors from the diagonal of σ²(JᵀJ)⁻¹,
// where σ² = SSR/(m-n) for m residuals and n parameters. When JᵀJ is not
// positive definite every entry is NaN, meaning unavailable.
func ParameterErrors(jac mat.Matrix, residuals []float64) ([]float64, error) {
	m, n := jac.Dims()
	if len(residuals) != m {
		return nil, &DimensionMismatchError{What: "residuals", Got: len(residuals), Want: m}
	}
	errs := make([]float64, n)
	for i := range errs {
		errs[i] = math.NaN()
	}
	if n == 0 {
		return errs, nil
	}

	dof := m - n
	if dof <= 0 {
		dof = m
	}
	sigma2 := floats.Dot(residuals, residuals) / float64(dof)

	// columns are equilibrated to unit norm so that parameters of very
	// different magnitude do not make JᵀJ look singular
	norms := make([]float64, n)
	scaled := mat.DenseCopyOf(jac)
	for j := 0; j < n; j++ {
		norms[j] = mat.Norm(scaled.ColView(j), 2)
		if norms[j] == 0 {
			return errs, &SingularMatrixError{Stage: "covariance"}
		}
		for i := 0; i < m; i++ {
			scaled.Set(i, j, scaled.At(i, j)/norms[j])
		}
	}

	var jtj mat.SymDense
	jtj.SymOuterK(1, scaled.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&jtj); !ok {
		return errs, &SingularMatrixError{Stage: "covariance"}
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return errs, &SingularMatrixError{Stage: "covariance"}
	}
	for i := 0; i < n; i++ {
		v := sigma2 * cov.At(i, i) / (norms[i] * norms[i])
		if v >= 0 && !math.IsInf(v, 0) {
			errs[i] = math.Sqrt(v)
		}
	}
	return errs, nil
}

// ErrorRow is one line of the per-frequency error table.
type ErrorRow struct {
	Frequency float64
	RealError float64
	ImagError float64
}

// ErrorTable lists |Re| and |Im| of measured - predicted per frequency.
func ErrorTable(freqs []float64, measured, predicted []complex128) ([]ErrorRow, error) {
	res, err := Residuals(measured, predicted)
	if err != nil {
		return nil, err
	}
	if len(freqs) != len(res) {
		return nil, &DimensionMismatchError{What: "frequencies", Got: len(freqs), Want: len(res)}
	}
	rows := make([]ErrorRow, len(res))
	for i, r := range res {
		rows[i] = ErrorRow{Frequency: freqs[i], RealError: math.Abs(real(r)), ImagError: math.Abs(imag(r))}
	}
	return rows, nil
}

// FitSummary is the single-row summary of a circuit fit.
type FitSummary struct {
	RMSE      float64
	Objective float64
	Converged bool
}

// KKSummary is the single-row summary of a Lin-KK validation.
type KKSummary struct {
	M          int
	Mu         float64
	ChiSquared float64
	Validated  bool
}
