package eval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlab/pipeline/internal/boost"
)

func TestAUCPerfectRanking(t *testing.T) {
	labels := []float64{0, 0, 1, 1}
	scores := []float64{0.1, 0.2, 0.8, 0.9}
	assert.InDelta(t, 1.0, AUC(labels, scores), 1e-12)
}

func TestAUCReversedRanking(t *testing.T) {
	labels := []float64{1, 1, 0, 0}
	scores := []float64{0.1, 0.2, 0.8, 0.9}
	assert.InDelta(t, 0.0, AUC(labels, scores), 1e-12)
}

func TestAUCPartialRanking(t *testing.T) {
	// Positive scores {0.2, 0.4} vs negative {0.1, 0.3}: three of the
	// four pairs are concordant.
	labels := []float64{0, 1, 0, 1}
	scores := []float64{0.1, 0.2, 0.3, 0.4}
	assert.InDelta(t, 0.75, AUC(labels, scores), 1e-12)
}

func TestAUCUninformativeScores(t *testing.T) {
	labels := []float64{0, 1, 0, 1}
	scores := []float64{0.5, 0.5, 0.5, 0.5}
	assert.InDelta(t, 0.5, AUC(labels, scores), 1e-12)
}

func TestAUCDoesNotReorderInputs(t *testing.T) {
	labels := []float64{1, 0}
	scores := []float64{0.9, 0.1}
	AUC(labels, scores)
	assert.Equal(t, []float64{1, 0}, labels)
	assert.Equal(t, []float64{0.9, 0.1}, scores)
}

func TestAccuracy(t *testing.T) {
	labels := []float64{0, 0, 1, 1}
	scores := []float64{0.2, 0.7, 0.6, 0.4}
	assert.Equal(t, 0.5, Accuracy(labels, scores))
	assert.True(t, math.IsNaN(Accuracy(nil, nil)))
}

func TestHistogram(t *testing.T) {
	scores := []float64{0.01, 0.99, 0.5, 1.0}
	labels := []float64{0, 1, 1, 1}

	h0 := Histogram(scores, labels, 0, 10)
	assert.Equal(t, 1, h0[0])

	h1 := Histogram(scores, labels, 1, 10)
	assert.Equal(t, 1, h1[5])
	// A score of exactly 1.0 lands in the last bucket.
	assert.Equal(t, 2, h1[9])
}

func TestTopNOrdering(t *testing.T) {
	got := topN(map[string]float64{"a": 1, "b": 3, "c": 2, "d": 3}, 3)
	require.Len(t, got, 3)
	// Ties break alphabetically.
	assert.Equal(t, "b", got[0].Feature)
	assert.Equal(t, "d", got[1].Feature)
	assert.Equal(t, "c", got[2].Feature)
}

func trainedModel(t *testing.T) (*boost.Model, [][]float64, []float64) {
	t.Helper()
	var rows [][]float64
	var labels []float64
	for i := 0; i < 40; i++ {
		x := float64(i) - 20
		y := 0.0
		if x >= 0 {
			y = 1
		}
		rows = append(rows, []float64{x, 1})
		labels = append(labels, y)
	}
	m, err := boost.Train(rows, labels, []string{"x", "noise"}, boost.Params{
		NumTrees:        30,
		LearningRate:    0.3,
		MaxDepth:        3,
		Subsample:       1,
		ColsampleByTree: 1,
		RegAlpha:        1e-9,
		RegLambda:       1,
		MinChildWeight:  1e-9,
		Seed:            42,
	}, nil)
	require.NoError(t, err)
	return m, rows, labels
}

func TestTopGainImportance(t *testing.T) {
	m, _, _ := trainedModel(t)
	top := TopGainImportance(m, 5)
	require.NotEmpty(t, top)
	assert.Equal(t, "x", top[0].Feature)
}

func TestTopContribImportance(t *testing.T) {
	m, rows, _ := trainedModel(t)
	top := TopContribImportance(m, rows, 5)
	require.NotEmpty(t, top)
	assert.Equal(t, "x", top[0].Feature)
	assert.Greater(t, top[0].Score, 0.0)
}

func TestPermutationImportance(t *testing.T) {
	m, rows, labels := trainedModel(t)
	imp, err := PermutationImportance(m, rows, labels, 3, 7)
	require.NoError(t, err)
	require.Len(t, imp, 2)

	// Shuffling the signal feature destroys the ranking; shuffling the
	// constant noise feature changes nothing.
	assert.Equal(t, "x", imp[0].Feature)
	assert.Greater(t, imp[0].Score, 0.1)
	assert.InDelta(t, 0.0, imp[1].Score, 1e-12)
}

func TestPermutationImportanceNoRows(t *testing.T) {
	m, _, _ := trainedModel(t)
	_, err := PermutationImportance(m, nil, nil, 3, 7)
	assert.Error(t, err)
}

func TestPermutationImportanceLeavesRowsIntact(t *testing.T) {
	m, rows, labels := trainedModel(t)
	before := make([]float64, len(rows))
	for i, r := range rows {
		before[i] = r[0]
	}
	_, err := PermutationImportance(m, rows, labels, 2, 7)
	require.NoError(t, err)
	for i, r := range rows {
		assert.Equal(t, before[i], r[0])
	}
}
