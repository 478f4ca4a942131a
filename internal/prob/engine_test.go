package prob

import (
	"math"
	"testing"

	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalCDFComplementAndMonotone(t *testing.T) {
	var prev float64 = -1
	for z := -6.0; z <= 6.0; z += 0.25 {
		got := NormalCDF(z) + NormalCDF(-z)
		require.InDelta(t, 1.0, got, 1e-6, "z=%v", z)

		cur := NormalCDF(z)
		assert.GreaterOrEqual(t, cur, prev, "normalCDF must be non-decreasing at z=%v", z)
		prev = cur
	}
}

func TestNormalCDFKnownPoints(t *testing.T) {
	require.InDelta(t, 0.5, NormalCDF(0), 7.5e-8)
	require.InDelta(t, 0.8413447, NormalCDF(1), 1e-6)
}

func TestZScoreProbSymmetry(t *testing.T) {
	cases := []struct{ s, k, sigma, t float64 }{
		{100_000, 120_000, 0.55, 0.25},
		{50_000, 40_000, 0.8, 1.0},
		{1, 1.5, 0.3, 2.0},
	}
	for _, c := range cases {
		zForward := ZScore(c.s, c.k, c.sigma, c.t)
		zReverse := ZScore(c.k, c.s, c.sigma, c.t)
		pForward := BinaryProbAbove(zForward)
		pReverse := BinaryProbAbove(zReverse)
		require.InDelta(t, 1.0, pForward+pReverse, 1e-6)
	}
}

func TestOneTouchBounds(t *testing.T) {
	for _, z := range []float64{-3, -1, -0.3, 0.3, 1, 3} {
		above := BinaryProbAbove(z)
		touch := OneTouchProb(100, 120, above)
		require.GreaterOrEqual(t, touch, above)
		require.LessOrEqual(t, touch, math.Min(1, 2*above))
	}
}

func TestClassifyThresholds(t *testing.T) {
	sig, conf := Classify(0.10)
	assert.Equal(t, domain.SignalSell, sig)
	assert.Equal(t, domain.ConfMedium, conf)

	sig, conf = Classify(0.12)
	assert.Equal(t, domain.SignalSell, sig)
	assert.Equal(t, domain.ConfHigh, conf)

	sig, _ = Classify(-0.10)
	assert.Equal(t, domain.SignalBuy, sig)

	sig, _ = Classify(0.01)
	assert.Equal(t, domain.SignalNeutral, sig)
}

// S1. Binary above, no drift.
func TestScenarioS1BinaryAbove(t *testing.T) {
	z := ZScore(100_000, 120_000, 0.55, 0.25)
	require.InDelta(t, 0.6630, z, 0.0005)

	p := BinaryProbAbove(z)
	require.InDelta(t, 0.2537, p, 0.0005)
}

// S2. One-touch down.
func TestScenarioS2OneTouchDown(t *testing.T) {
	z := ZScore(100_000, 80_000, 0.55, 0.25)
	require.InDelta(t, -0.8113, z, 0.001)

	above := BinaryProbAbove(z)
	below := 1 - above
	require.InDelta(t, 0.2086, below, 0.001)

	touch := OneTouchProb(100_000, 80_000, above)
	require.InDelta(t, 0.4171, touch, 0.001)
}

// S3. Edge classifier, with the boundary case.
func TestScenarioS3EdgeClassifier(t *testing.T) {
	edge := Edge(0.30, 0.20)
	require.InDelta(t, 0.10, edge, 1e-9)
	sig, conf := Classify(edge)
	assert.Equal(t, domain.SignalSell, sig)
	assert.Equal(t, domain.ConfMedium, conf)

	edge = Edge(0.32, 0.20)
	require.InDelta(t, 0.12, edge, 1e-9)
	_, conf = Classify(edge)
	assert.Equal(t, domain.ConfHigh, conf)
}

func TestOptionsDeltaBoundaryRejected(t *testing.T) {
	_, ok := OptionsDeltaEstimate(100, 100, 0.5, 0.25, 0, domain.DirAbove, domain.BetBinary)
	require.False(t, ok)

	_, ok = OptionsDeltaEstimate(100, 100, 0.5, 0.25, 1, domain.DirAbove, domain.BetBinary)
	require.False(t, ok)

	est, ok := OptionsDeltaEstimate(100, 100, 0.5, 0.25, 0.4, domain.DirAbove, domain.BetBinary)
	require.True(t, ok)
	require.InDelta(t, 0.4, est.Probability, 1e-9)
}
