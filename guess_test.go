package goimpfit

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGuess(t *testing.T) {
	c := MustParseCircuit("R_1-p(CPE_1,R_2-Wo_1)-L_1")
	s, err := Synthesize(c, []float64{1, 1e-4, 0.9, 5, 3, 0.5, 1e-6}, LogFrequencies(0.1, 1e4, 20), 0, nil)
	require.NoError(t, err)

	guess := DefaultGuess(c, s)
	require.Len(t, guess, c.NumParams())
	lo, hi := c.Bounds()
	for i, v := range guess {
		assert.GreaterOrEqual(t, v, lo[i], c.ParamNames()[i])
		assert.LessOrEqual(t, v, hi[i], c.ParamNames()[i])
		assert.Positive(t, v)
	}
	assert.Equal(t, 0.8, guess[2])
	assert.Equal(t, guess[0], guess[3])
}

func TestDefaultGuessIsFittable(t *testing.T) {
	truth := []float64{0.1, 0.2, 1e-4, 0.8}
	c, s := synthetic(t, "R_1-p(R_2,CPE_1)", truth, 0.001, 8)

	cfg := DefaultFitConfig()
	cfg.Global = true
	cfg.TrialBudget = 20
	res, err := Fit(context.Background(), c, s, DefaultGuess(c, s), cfg)
	require.NoError(t, err)
	requireWithin(t, truth, res.Params, 0.05)
}

func TestFindClosest(t *testing.T) {
	xs := []float64{1, 10, 100, 1000}
	assert.Equal(t, 0, findClosest(xs, 0.5))
	assert.Equal(t, 1, findClosest(xs, 31))
	assert.Equal(t, 3, findClosest(xs, 1e6))
}

func TestSynthesizeNoise(t *testing.T) {
	c := MustParseCircuit("R_1-p(R_2,C_1)")
	params := []float64{10, 100, 1e-5}
	freqs := LogFrequencies(1, 1e4, 25)
	require.Len(t, freqs, 25)
	assert.InDelta(t, 1, freqs[0], 1e-12)
	assert.InDelta(t, 1e4, freqs[24], 1e-8)

	clean, err := Synthesize(c, params, freqs, 0, nil)
	require.NoError(t, err)
	noisy, err := Synthesize(c, params, freqs, 0.01, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	again, err := Synthesize(c, params, freqs, 0.01, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, noisy.Impedances(), again.Impedances())

	cz, nz := clean.Impedances(), noisy.Impedances()
	for i := range cz {
		assert.NotEqual(t, cz[i], nz[i])
		assert.InEpsilon(t, real(cz[i]), real(nz[i]), 0.2)
	}

	_, err = Synthesize(c, params[:2], freqs, 0, nil)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Nil(t, LogFrequencies(1, 10, 0))
}
