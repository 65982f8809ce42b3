package tune

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlab/pipeline/internal/frame"
)

func testFrames(t *testing.T, n int) (x, y *frame.Frame) {
	t.Helper()
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = float64(i) - float64(n)/2
		if xs[i] >= 0 {
			ys[i] = 1
		}
	}
	x = frame.New(n)
	require.NoError(t, x.AddFloats("x", xs))
	y = frame.New(n)
	require.NoError(t, y.AddFloats("y", ys))
	return x, y
}

func TestSampleStaysWithinStudyRanges(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		p := sample(rng)
		assert.GreaterOrEqual(t, p.NumTrees, 100)
		assert.LessOrEqual(t, p.NumTrees, 1000)
		assert.Zero(t, (p.NumTrees-100)%20)
		assert.GreaterOrEqual(t, p.LearningRate, 1e-3)
		assert.LessOrEqual(t, p.LearningRate, 0.3)
		assert.GreaterOrEqual(t, p.MaxDepth, 2)
		assert.LessOrEqual(t, p.MaxDepth, 6)
		assert.GreaterOrEqual(t, p.Subsample, 0.3)
		assert.LessOrEqual(t, p.Subsample, 1.0)
		assert.GreaterOrEqual(t, p.ColsampleByTree, 0.3)
		assert.LessOrEqual(t, p.ColsampleByTree, 1.0)
		assert.GreaterOrEqual(t, p.RegAlpha, 1e-8)
		assert.LessOrEqual(t, p.RegAlpha, 10.0)
		assert.GreaterOrEqual(t, p.RegLambda, 1e-8)
		assert.LessOrEqual(t, p.RegLambda, 10.0)
	}
}

func TestSearchPicksBestTrial(t *testing.T) {
	xTrain, yTrain := testFrames(t, 40)
	xTest, yTest := testFrames(t, 20)

	modelsDir := filepath.Join(t.TempDir(), "models")
	res, err := Search(xTrain, yTrain, xTest, yTest, Config{
		Trials:    3,
		Seed:      7,
		ModelsDir: modelsDir,
	})
	require.NoError(t, err)
	require.Len(t, res.Trials, 3)

	for _, trial := range res.Trials {
		assert.LessOrEqual(t, trial.TestAUC, res.Best.TestAUC)
	}
	assert.GreaterOrEqual(t, res.Best.Number, 0)

	// Each trial saved its model.
	for n := 0; n < 3; n++ {
		_, err := os.Stat(filepath.Join(modelsDir, fmt.Sprintf("trial_%d.json", n)))
		assert.NoError(t, err)
	}
}

func TestSearchRejectsZeroTrials(t *testing.T) {
	xTrain, yTrain := testFrames(t, 10)
	_, err := Search(xTrain, yTrain, xTrain, yTrain, Config{Trials: 0})
	assert.Error(t, err)
}

func TestWriteTrialsCSV(t *testing.T) {
	xTrain, yTrain := testFrames(t, 40)
	xTest, yTest := testFrames(t, 20)

	res, err := Search(xTrain, yTrain, xTest, yTest, Config{Trials: 2, Seed: 7})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "trials.csv")
	require.NoError(t, res.WriteTrialsCSV(path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "trial", rows[0][0])
	assert.Equal(t, "0", rows[1][0])
	assert.Equal(t, "1", rows[2][0])
}
