package goimpfit

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupUnknownKind(t *testing.T) {
	_, err := Lookup("X")
	require.ErrorIs(t, err, ErrUnknownElementKind)

	var uk *UnknownElementKindError
	require.ErrorAs(t, err, &uk)
	assert.Equal(t, Kind("X"), uk.Kind)

	_, err = Impedance("Zz", []float64{1}, 1)
	require.ErrorIs(t, err, ErrUnknownElementKind)
}

func TestLookupArity(t *testing.T) {
	tests := []struct {
		kind  Kind
		arity int
	}{
		{Resistor, 1},
		{Capacitor, 1},
		{Inductor, 1},
		{CPE, 2},
		{Warburg, 1},
		{WarburgOpen, 2},
		{WarburgShort, 2},
		{Gerischer, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			spec, err := Lookup(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.arity, spec.Arity())
			for _, p := range spec.Params {
				assert.LessOrEqual(t, p.Lower, p.Upper)
				assert.NotEmpty(t, p.Name)
			}
		})
	}
}

func TestImpedanceLaws(t *testing.T) {
	w := 2 * math.Pi * 50

	z, err := Impedance(Resistor, []float64{12.5}, w)
	require.NoError(t, err)
	assert.Equal(t, complex(12.5, 0), z)

	// a CPE with alpha = 1 is an ideal capacitor
	zq, err := Impedance(CPE, []float64{1e-6, 1}, w)
	require.NoError(t, err)
	zc, err := Impedance(Capacitor, []float64{1e-6}, w)
	require.NoError(t, err)
	assert.InDelta(t, 0, cmplx.Abs(zq-zc)/cmplx.Abs(zc), 1e-12)
	assert.InDelta(t, -1/(w*1e-6), imag(zc), 1e-9)

	zl, err := Impedance(Inductor, []float64{1e-3}, w)
	require.NoError(t, err)
	assert.InDelta(t, w*1e-3, imag(zl), 1e-12)

	// finite-length Warburg tends to Z0 at low frequency
	zo, err := Impedance(WarburgOpen, []float64{3, 1}, 1e-9)
	require.NoError(t, err)
	assert.InDelta(t, 3, real(zo), 1e-6)
	assert.InDelta(t, 0, imag(zo), 1e-6)

	// and stays finite at very high frequency
	zo, err = Impedance(WarburgOpen, []float64{3, 1}, 1e12)
	require.NoError(t, err)
	assert.False(t, cmplx.IsNaN(zo))
	assert.False(t, cmplx.IsInf(zo))

	zw, err := Impedance(Warburg, []float64{2}, 4)
	require.NoError(t, err)
	assert.InDelta(t, 1, real(zw), 1e-12)
	assert.InDelta(t, -1, imag(zw), 1e-12)

	zg, err := Impedance(Gerischer, []float64{5, 1}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 5, real(zg), 1e-12)
}

func TestImpedanceArityMismatch(t *testing.T) {
	_, err := Impedance(CPE, []float64{1e-5}, 1)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestKindsSorted(t *testing.T) {
	kinds := Kinds()
	require.Len(t, kinds, 8)
	for i := 1; i < len(kinds); i++ {
		assert.Less(t, kinds[i-1], kinds[i])
	}
	assert.Contains(t, kinds, CPE)
}
