package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 3.0, Median([]float64{3}))
	assert.Equal(t, 2.5, Median([]float64{1, 2, 3, 4}))
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
}

func TestMedian_DoesNotMutateInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Median(values)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestMAD(t *testing.T) {
	// Deviations around 3: {2, 1, 0, 1, 2} -> median 1.
	assert.Equal(t, 1.0, MAD([]float64{1, 2, 3, 4, 5}, 3))
	assert.Equal(t, 0.0, MAD([]float64{7, 7, 7}, 7))
	assert.Equal(t, 0.0, MAD(nil, 0))
}

func TestPopStdDev(t *testing.T) {
	// Population (ddof=0): mean 2, squared devs {1,0,1} -> sqrt(2/3).
	assert.InDelta(t, math.Sqrt(2.0/3.0), PopStdDev([]float64{1, 2, 3}), 1e-12)
	assert.Equal(t, 0.0, PopStdDev([]float64{4, 4, 4, 4}))
	assert.Equal(t, 0.0, PopStdDev(nil))
}

func TestRobustScore_MADPath(t *testing.T) {
	window := []float64{1, 2, 3, 4, 5}
	score, baseline := RobustScore(10, window)
	assert.Equal(t, 3.0, baseline)
	assert.InDelta(t, 7.0/(1.4826*1.0), score, 1e-12)
}

func TestRobustScore_StdDevFallback(t *testing.T) {
	// Majority-constant window: MAD is 0, population std dev is not.
	window := []float64{5, 5, 5, 5, 5, 5, 8}
	score, baseline := RobustScore(9, window)
	assert.Equal(t, 5.0, baseline)
	sd := PopStdDev(window)
	assert.InDelta(t, 4.0/sd, score, 1e-12)
}

func TestRobustScore_EpsilonFallback(t *testing.T) {
	// Perfectly flat window: both MAD and std dev are 0.
	window := []float64{2, 2, 2, 2}
	score, baseline := RobustScore(2.000001, window)
	assert.Equal(t, 2.0, baseline)
	assert.Greater(t, score, 1e2)
	assert.False(t, math.IsInf(score, 1))
}

func TestRobustScore_NonNegative(t *testing.T) {
	score, _ := RobustScore(-10, []float64{1, 2, 3, 4, 5})
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestSafeRate(t *testing.T) {
	assert.Equal(t, 0.0, SafeRate(5, 0))
	assert.Equal(t, 2.5, SafeRate(5, 2))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 3.1416, Round(math.Pi, 4))
	assert.Equal(t, 0.12, Round(0.1249, 2))
	assert.Equal(t, -1.5, Round(-1.4999, 1))
}
