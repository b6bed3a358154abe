package goimpfit

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// two RC branches whose time constants land exactly on the M = 2 grid
func consistentSpectrum(t *testing.T) *Spectrum {
	t.Helper()
	freqs := LogFrequencies(0.1, 1e4, 40)
	tmin := 1 / (2 * math.Pi * 1e4)
	tmax := 1 / (2 * math.Pi * 0.1)
	c := MustParseCircuit("R_0-p(R_1,C_1)-p(R_2,C_2)")
	s, err := Synthesize(c, []float64{5, 20, tmin / 20, 40, tmax / 40}, freqs, 0, nil)
	require.NoError(t, err)
	return s
}

func TestTimeConstants(t *testing.T) {
	freqs := []float64{0.1, 1, 10, 100}
	tau := TimeConstants(freqs, 3)
	require.Len(t, tau, 3)
	assert.InDelta(t, 1/(2*math.Pi*100), tau[0], 1e-15)
	assert.InDelta(t, 1/(2*math.Pi*0.1), tau[2], 1e-12)
	assert.InDelta(t, math.Sqrt(tau[0]*tau[2]), tau[1], 1e-12)

	one := TimeConstants(freqs, 1)
	require.Len(t, one, 1)
	assert.InDelta(t, tau[2], one[0], 1e-12)

	assert.Nil(t, TimeConstants(freqs, 0))
}

func TestLinKKConsistentSpectrum(t *testing.T) {
	s := consistentSpectrum(t)

	cfg := DefaultKKConfig()
	cfg.MaxOrder = 20
	cfg.ResidualTolerance = 1e-9
	res, err := LinKK(s, cfg)
	require.NoError(t, err)

	assert.True(t, res.Validated)
	assert.NoError(t, res.Err())
	assert.LessOrEqual(t, res.M, 20)
	assert.Less(t, res.Mu, 0.1)
	for i := range res.ResidualsReal {
		assert.Less(t, math.Abs(res.ResidualsReal[i]), 1e-6)
		assert.Less(t, math.Abs(res.ResidualsImag[i]), 1e-6)
	}
	assert.Less(t, res.ChiSquared, 1e-12)
	assert.Equal(t, 2, res.M)
	assert.InDelta(t, 5, res.SeriesResistance, 1e-6)
	assert.InDeltaSlice(t, []float64{20, 40}, res.Resistances, 1e-6)
	for i, z := range res.Predicted {
		assert.Less(t, cmplx.Abs(z-res.Measured[i]), 1e-6)
	}
}

func TestLinKKResidualToleranceGatesValidation(t *testing.T) {
	freqs := LogFrequencies(0.1, 1e4, 40)
	tmin := 1 / (2 * math.Pi * 1e4)
	tmax := 1 / (2 * math.Pi * 0.1)
	c := MustParseCircuit("R_0-p(R_1,C_1)-p(R_2,C_2)")
	s, err := Synthesize(c, []float64{5, 20, tmin / 20, 40, tmax / 40}, freqs, 0.01, rand.New(rand.NewSource(4)))
	require.NoError(t, err)

	cfg := DefaultKKConfig()
	cfg.MinOrder = 2
	cfg.MaxOrder = 2

	res, err := LinKK(s, cfg)
	require.NoError(t, err)
	require.True(t, res.Validated)
	require.Len(t, res.Orders, 1)
	rms := res.Orders[0].ResidualRMS
	assert.Greater(t, rms, 1e-4)

	cfg.ResidualTolerance = 1e-6
	res, err = LinKK(s, cfg)
	require.NoError(t, err)
	assert.False(t, res.Validated)
	assert.Equal(t, 2, res.M)
	assert.Less(t, res.Mu, cfg.MuThreshold)

	var mo *MaxOrderExceededError
	require.ErrorAs(t, res.Err(), &mo)
	assert.ErrorIs(t, res.Err(), ErrMaxOrderExceeded)
	assert.Equal(t, 1e-6, mo.Tolerance)
	assert.Equal(t, rms, mo.ResidualRMS)
	assert.Contains(t, mo.Error(), "residual RMS")

	cfg.ResidualTolerance = 10 * rms
	res, err = LinKK(s, cfg)
	require.NoError(t, err)
	assert.True(t, res.Validated)
	assert.NoError(t, res.Err())
}

func TestLinKKFitTypes(t *testing.T) {
	s := consistentSpectrum(t)
	for _, ft := range []FitType{FitComplex, FitReal, FitImag} {
		t.Run(ft.String(), func(t *testing.T) {
			cfg := DefaultKKConfig()
			cfg.FitType = ft
			cfg.MinOrder = 2
			cfg.MaxOrder = 2
			res, err := LinKK(s, cfg)
			require.NoError(t, err)
			assert.Equal(t, 2, res.M)
			for i := range res.ResidualsReal {
				assert.Less(t, math.Abs(res.ResidualsReal[i]), 1e-6)
				assert.Less(t, math.Abs(res.ResidualsImag[i]), 1e-6)
			}
		})
	}
}

func TestLinKKOrderTrace(t *testing.T) {
	c := MustParseCircuit("R_1-p(R_2,CPE_1)-Wo_1")
	s, err := Synthesize(c, []float64{10, 50, 1e-4, 0.85, 30, 2}, LogFrequencies(0.01, 1e5, 60), 0.002, rand.New(rand.NewSource(4)))
	require.NoError(t, err)

	cfg := DefaultKKConfig()
	cfg.MaxOrder = 30
	cfg.OrderStep = 3
	res, err := LinKK(s, cfg)
	require.NoError(t, err)

	require.NotEmpty(t, res.Orders)
	assert.LessOrEqual(t, res.M, cfg.MaxOrder)
	prev := 0
	for _, o := range res.Orders {
		assert.Greater(t, o.M, prev)
		assert.LessOrEqual(t, o.M, cfg.MaxOrder)
		assert.Zero(t, (o.M-cfg.MinOrder)%cfg.OrderStep)
		prev = o.M
	}
	assert.Len(t, res.TimeConstants, res.M)
	assert.Len(t, res.Resistances, res.M)
	assert.Len(t, res.Table(), s.Len())
	assert.Equal(t, res.M, res.Summary().M)
}

func TestLinKKNotValidated(t *testing.T) {
	// a negative-resistance loop is not a passive response
	freqs := LogFrequencies(1, 1e4, 30)
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		w := 2 * math.Pi * f
		z[i] = complex(10, 0) - complex(8, 0)/complex(1, w*1e-3)
	}
	cfg := DefaultKKConfig()
	cfg.MinOrder = 3
	cfg.MaxOrder = 5
	res, err := ValidateKK(freqs, z, cfg)
	require.NoError(t, err)
	assert.False(t, res.Validated)
	require.ErrorIs(t, res.Err(), ErrMaxOrderExceeded)
	assert.LessOrEqual(t, res.M, 5)
}

func TestValidateKKErrors(t *testing.T) {
	_, err := ValidateKK([]float64{1, 2}, []complex128{1}, DefaultKKConfig())
	require.ErrorIs(t, err, ErrDimensionMismatch)

	s := consistentSpectrum(t)
	cfg := DefaultKKConfig()
	cfg.MaxOrder = 0
	_, err = LinKK(s, cfg)
	require.Error(t, err)

	cfg = DefaultKKConfig()
	cfg.MuThreshold = 1.5
	_, err = LinKK(s, cfg)
	require.Error(t, err)
}

func TestParseFitType(t *testing.T) {
	ft, err := ParseFitType("imag")
	require.NoError(t, err)
	assert.Equal(t, FitImag, ft)
	_, err = ParseFitType("phase")
	require.Error(t, err)
}

func TestNegativeShare(t *testing.T) {
	assert.Equal(t, 0.0, negativeShare([]float64{1, 2}))
	assert.Equal(t, 0.25, negativeShare([]float64{3, -1}))
	assert.Equal(t, 0.0, negativeShare(nil))
}
