// Package tune runs a seeded random search over the classifier
// hyperparameters, scoring each trial by held-out AUC.
package tune

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/fraudlab/pipeline/internal/boost"
	"github.com/fraudlab/pipeline/internal/frame"
	"github.com/fraudlab/pipeline/internal/model"
)

// Config controls a search.
type Config struct {
	// Trials is the number of parameter samples to evaluate.
	Trials int
	// Seed drives both the parameter sampling and each trial's model.
	Seed int64
	// Oversample is forwarded to every trial's training run.
	Oversample bool
	// ModelsDir, when set, receives each trial's model as
	// trial_<n>.json.
	ModelsDir string
	Logger    *zap.Logger
}

// Trial is one evaluated parameter sample.
type Trial struct {
	Number  int
	Params  boost.Params
	TestAUC float64
}

// Result is the outcome of a search.
type Result struct {
	Best   Trial
	Trials []Trial
}

// Search samples hyperparameters at random within the study ranges and
// returns the trial with the best held-out AUC.
func Search(xTrain, yTrain, xTest, yTest *frame.Frame, cfg Config) (*Result, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Trials < 1 {
		return nil, fmt.Errorf("tune: trials %d must be positive", cfg.Trials)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	res := &Result{Best: Trial{Number: -1, TestAUC: math.Inf(-1)}}
	for n := 0; n < cfg.Trials; n++ {
		params := sample(rng)
		trained, err := model.Train(xTrain, yTrain, xTest, yTest, model.Config{
			Params:     params,
			Oversample: cfg.Oversample,
			Logger:     zap.NewNop(),
		})
		if err != nil {
			return nil, fmt.Errorf("tune: trial %d: %w", n, err)
		}

		trial := Trial{Number: n, Params: params, TestAUC: trained.TestAUC}
		res.Trials = append(res.Trials, trial)
		if trial.TestAUC > res.Best.TestAUC {
			res.Best = trial
		}

		if cfg.ModelsDir != "" {
			path := filepath.Join(cfg.ModelsDir, fmt.Sprintf("trial_%d.json", n))
			if err := trained.Model.Save(path); err != nil {
				return nil, fmt.Errorf("tune: trial %d: %w", n, err)
			}
		}
		log.Info("trial complete",
			zap.Int("trial", n),
			zap.Float64("test_auc", trial.TestAUC),
			zap.Int("num_trees", params.NumTrees),
			zap.Float64("learning_rate", params.LearningRate),
			zap.Int("max_depth", params.MaxDepth))
	}

	log.Info("search complete",
		zap.Int("trials", len(res.Trials)),
		zap.Int("best_trial", res.Best.Number),
		zap.Float64("best_auc", res.Best.TestAUC))
	return res, nil
}

// sample draws one parameter set from the study ranges.
func sample(rng *rand.Rand) boost.Params {
	return boost.Params{
		NumTrees:        100 + 20*rng.Intn(46),
		LearningRate:    logUniform(rng, 1e-3, 0.3),
		MaxDepth:        2 + rng.Intn(5),
		Subsample:       0.3 + 0.7*rng.Float64(),
		ColsampleByTree: 0.3 + 0.7*rng.Float64(),
		RegAlpha:        logUniform(rng, 1e-8, 10),
		RegLambda:       logUniform(rng, 1e-8, 10),
		MinChildWeight:  1,
		EvalMetric:      "auc",
		Seed:            42,
	}
}

// logUniform draws from [lo, hi] uniformly in log space.
func logUniform(rng *rand.Rand, lo, hi float64) float64 {
	return math.Exp(math.Log(lo) + rng.Float64()*(math.Log(hi)-math.Log(lo)))
}

// WriteTrialsCSV dumps every trial for offline inspection.
func (r *Result) WriteTrialsCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := []string{
		"trial", "test_auc", "num_trees", "learning_rate", "max_depth",
		"subsample", "colsample_bytree", "reg_alpha", "reg_lambda",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, t := range r.Trials {
		row := []string{
			strconv.Itoa(t.Number),
			formatF(t.TestAUC),
			strconv.Itoa(t.Params.NumTrees),
			formatF(t.Params.LearningRate),
			strconv.Itoa(t.Params.MaxDepth),
			formatF(t.Params.Subsample),
			formatF(t.Params.ColsampleByTree),
			formatF(t.Params.RegAlpha),
			formatF(t.Params.RegLambda),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatF(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
