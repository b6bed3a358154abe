package goimpfit

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFreqs = []float64{0.01, 0.1, 1, 10, 100, 1e3, 1e4, 1e5}

func relDiff(a, b complex128) float64 {
	return cmplx.Abs(a-b) / math.Max(cmplx.Abs(b), 1e-300)
}

func mustImpedance(t *testing.T, kind Kind, params []float64, f float64) complex128 {
	t.Helper()
	z, err := Impedance(kind, params, 2*math.Pi*f)
	require.NoError(t, err)
	return z
}

func TestSeriesIsSum(t *testing.T) {
	c, err := ParseCircuit("R_1-CPE_1-Wo_1-L_1")
	require.NoError(t, err)
	params := []float64{0.5, 2e-4, 0.7, 10, 0.3, 1e-6}

	got, err := c.Impedance(params, testFreqs)
	require.NoError(t, err)
	for i, f := range testFreqs {
		want := mustImpedance(t, Resistor, params[0:1], f) +
			mustImpedance(t, CPE, params[1:3], f) +
			mustImpedance(t, WarburgOpen, params[3:5], f) +
			mustImpedance(t, Inductor, params[5:6], f)
		assert.Less(t, relDiff(got[i], want), 1e-9, "f=%g", f)
	}
}

func TestParallelIsProductOverSum(t *testing.T) {
	pairs := []struct {
		topology string
		k1, k2   Kind
		params   []float64
		split    int
	}{
		{"p(R_1,C_1)", Resistor, Capacitor, []float64{100, 1e-6}, 1},
		{"p(R_1,CPE_1)", Resistor, CPE, []float64{0.2, 1e-4, 0.8}, 1},
		{"p(CPE_1,Wo_1)", CPE, WarburgOpen, []float64{1e-5, 0.9, 40, 2}, 2},
	}
	for _, tt := range pairs {
		t.Run(tt.topology, func(t *testing.T) {
			c, err := ParseCircuit(tt.topology)
			require.NoError(t, err)
			got, err := c.Impedance(tt.params, testFreqs)
			require.NoError(t, err)
			for i, f := range testFreqs {
				z1 := mustImpedance(t, tt.k1, tt.params[:tt.split], f)
				z2 := mustImpedance(t, tt.k2, tt.params[tt.split:], f)
				assert.Less(t, relDiff(got[i], z1*z2/(z1+z2)), 1e-9, "f=%g", f)
			}
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, topology := range []string{
		"p(R_1,R_2",
		"R_1--R_2",
		"",
		"R_1)",
		"p()",
		"p(R_1,)",
		"R_1-X_1",
		"R_1-R_1",
		"R_a",
		"R_1-p(R_2,R_3)x",
		"-R_1",
	} {
		t.Run(topology, func(t *testing.T) {
			_, err := ParseCircuit(topology)
			require.ErrorIs(t, err, ErrCircuitParse)
			var pe *CircuitParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, topology, pe.Topology)
		})
	}
}

func TestParseLayout(t *testing.T) {
	c, err := ParseCircuit("R_1-p(R_2,R_3)")
	require.NoError(t, err)
	assert.Equal(t, 3, c.NumParams())

	c, err = ParseCircuit("R_1 - p(R_2, CPE_1) - Wo_1")
	require.NoError(t, err)
	assert.Equal(t, 6, c.NumParams())
	assert.Equal(t, "R_1-p(R_2,CPE_1)-Wo_1", c.Root().String())
	assert.Equal(t, []string{"R_1", "R_2", "CPE_1_0", "CPE_1_1", "Wo_1_0", "Wo_1_1"}, c.ParamNames())

	offsets := make([]int, 0, 4)
	covered := 0
	for _, e := range c.Elements() {
		assert.Equal(t, covered, e.Offset())
		offsets = append(offsets, e.Offset())
		covered += e.Spec().Arity()
	}
	assert.Equal(t, []int{0, 1, 2, 4}, offsets)
	assert.Equal(t, c.NumParams(), covered)

	lo, hi := c.Bounds()
	assert.Equal(t, 0.0, lo[3])
	assert.Equal(t, 1.0, hi[3])
	assert.True(t, math.IsInf(hi[0], 1))
}

func TestParseNested(t *testing.T) {
	c, err := ParseCircuit("R_1-p(CPE_1,R_2-Wo_1)-p(CPE_2,R_3-CPE_3)")
	require.NoError(t, err)
	assert.Equal(t, 11, c.NumParams())

	root, ok := c.Root().(*SeriesNode)
	require.True(t, ok)
	require.Len(t, root.Children(), 3)
	par, ok := root.Children()[1].(*ParallelNode)
	require.True(t, ok)
	_, ok = par.Children()[1].(*SeriesNode)
	assert.True(t, ok)
}

func TestImpedanceDimensionMismatch(t *testing.T) {
	c := MustParseCircuit("R_1-p(R_2,CPE_1)")
	_, err := c.Impedance([]float64{1, 2, 3}, testFreqs)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = c.ElementImpedances([]float64{1}, testFreqs)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestParallelZeroBranchStaysFinite(t *testing.T) {
	c := MustParseCircuit("R_1-p(R_2,R_3)")
	z, err := c.Impedance([]float64{1, 0, 5}, []float64{1})
	require.NoError(t, err)
	assert.False(t, cmplx.IsNaN(z[0]))
	assert.InDelta(t, 1, real(z[0]), 1e-12)
}

func TestElementImpedances(t *testing.T) {
	c := MustParseCircuit("R_1-p(R_2,C_1)")
	traces, err := c.ElementImpedances([]float64{1, 2, 1e-3}, []float64{1, 10})
	require.NoError(t, err)
	require.Len(t, traces, 3)
	assert.Equal(t, complex(2, 0), traces["R_2"][1])
	assert.InDelta(t, -1/(2*math.Pi*1e-3), imag(traces["C_1"][0]), 1e-9)
}

func TestMustParseCircuitPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseCircuit("p(R_1") })
}
