// Package pipeline chains the processing stages, persisting each
// stage's output as an Arrow IPC artifact so runs can resume from any
// point.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fraudlab/pipeline/internal/boost"
	"github.com/fraudlab/pipeline/internal/config"
	"github.com/fraudlab/pipeline/internal/eval"
	"github.com/fraudlab/pipeline/internal/frame"
	"github.com/fraudlab/pipeline/internal/ingest"
	"github.com/fraudlab/pipeline/internal/model"
	"github.com/fraudlab/pipeline/internal/prepare"
	"github.com/fraudlab/pipeline/internal/transform"
)

// Artifact file names under the artifacts directory.
const (
	MergedFile    = "merged.arrow"
	ProcessedFile = "processed.arrow"
	XTrainFile    = "x_train.arrow"
	YTrainFile    = "y_train.arrow"
	XTestFile     = "x_test.arrow"
	YTestFile     = "y_test.arrow"
	MetricsFile   = "metrics.json"
)

// Runner executes pipeline stages against a configuration.
type Runner struct {
	cfg   config.Pipeline
	log   *zap.Logger
	runID string
}

// NewRunner builds a runner. Each runner carries a fresh run ID that
// tags every log line it emits.
func NewRunner(cfg config.Pipeline, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	runID := uuid.NewString()
	return &Runner{
		cfg:   cfg,
		log:   log.With(zap.String("run_id", runID)),
		runID: runID,
	}
}

// RunID returns the identifier tagging this runner's logs and metrics.
func (r *Runner) RunID() string { return r.runID }

func (r *Runner) artifact(name string) string {
	return filepath.Join(r.cfg.ArtifactsDir, name)
}

// RunIngestion loads and merges the raw files, writing the merged frame.
func (r *Runner) RunIngestion() error {
	merged, err := ingest.Load(r.cfg.DataDir, ingest.Config{Logger: r.log})
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	if err := merged.WriteIPC(r.artifact(MergedFile)); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	r.log.Info("ingestion stage complete",
		zap.Int("rows", merged.NumRows()),
		zap.String("artifact", r.artifact(MergedFile)))
	return nil
}

// RunPreprocessing derives every feature column from the merged frame.
func (r *Runner) RunPreprocessing() error {
	merged, err := frame.ReadIPC(r.artifact(MergedFile))
	if err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}
	tr, err := transform.New(transform.Config{
		TargetKey:  r.cfg.Target,
		Windows:    r.cfg.Windows,
		Tolerances: r.cfg.Tolerances,
		Logger:     r.log,
	})
	if err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}
	processed, err := tr.Apply(merged)
	if err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}
	if err := processed.WriteIPC(r.artifact(ProcessedFile)); err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}
	r.log.Info("preprocessing stage complete",
		zap.Int("rows", processed.NumRows()),
		zap.String("artifact", r.artifact(ProcessedFile)))
	return nil
}

// RunFeatures splits the processed frame into the train/test matrices.
func (r *Runner) RunFeatures() error {
	processed, err := frame.ReadIPC(r.artifact(ProcessedFile))
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}
	cutoff, err := r.cfg.CutoffTime()
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}
	split, err := prepare.ModelData(processed, prepare.Config{
		Target:               r.cfg.Target,
		Cutoff:               cutoff,
		ToDrop:               r.cfg.ToDrop,
		ToThinkButDrop:       r.cfg.ToThinkButDrop,
		ToCategorize:         r.cfg.ToCategorize,
		BadRateFromTrainOnly: r.cfg.BadRateFromTrainOnly,
		Logger:               r.log,
	})
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}

	outputs := []struct {
		f    *frame.Frame
		name string
	}{
		{split.XTrain, XTrainFile},
		{split.YTrain, YTrainFile},
		{split.XTest, XTestFile},
		{split.YTest, YTestFile},
	}
	for _, o := range outputs {
		if err := o.f.WriteIPC(r.artifact(o.name)); err != nil {
			return fmt.Errorf("features: %w", err)
		}
	}
	r.log.Info("feature stage complete",
		zap.Int("train_rows", split.XTrain.NumRows()),
		zap.Int("test_rows", split.XTest.NumRows()))
	return nil
}

// Metrics is the model stage report written alongside the model.
type Metrics struct {
	RunID          string            `json:"run_id"`
	TrainedAt      time.Time         `json:"trained_at"`
	TrainAUC       float64           `json:"train_auc"`
	TestAUC        float64           `json:"test_auc"`
	Accuracy       float64           `json:"test_accuracy"`
	TopGain        []eval.Importance `json:"top_gain_importance"`
	TopContrib     []eval.Importance `json:"top_contribution_importance"`
	TopPermutation []eval.Importance `json:"top_permutation_importance"`
}

// permutationRepeats is how often each feature column is reshuffled when
// scoring permutation importance.
const permutationRepeats = 10

// RunModel trains the classifier on the prepared matrices and writes
// the model and its metrics report.
func (r *Runner) RunModel() error {
	xTrain, err := frame.ReadIPC(r.artifact(XTrainFile))
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	yTrain, err := frame.ReadIPC(r.artifact(YTrainFile))
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	xTest, err := frame.ReadIPC(r.artifact(XTestFile))
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	yTest, err := frame.ReadIPC(r.artifact(YTestFile))
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}

	res, err := model.Train(xTrain, yTrain, xTest, yTest, model.Config{
		Params:     boostParams(r.cfg.Boost),
		Oversample: r.cfg.Oversample,
		Logger:     r.log,
	})
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := res.Model.Save(r.cfg.ModelPath); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	testRows, _, err := xTest.Matrix()
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	testLabels, err := yTest.Floats("y")
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	perm, err := eval.PermutationImportance(res.Model, testRows, testLabels,
		permutationRepeats, r.cfg.Boost.Seed)
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if len(perm) > 20 {
		perm = perm[:20]
	}
	metrics := Metrics{
		RunID:          r.runID,
		TrainedAt:      time.Now().UTC(),
		TrainAUC:       res.TrainAUC,
		TestAUC:        res.TestAUC,
		Accuracy:       res.Accuracy,
		TopGain:        eval.TopGainImportance(res.Model, 20),
		TopContrib:     eval.TopContribImportance(res.Model, testRows, 20),
		TopPermutation: perm,
	}
	if err := writeJSON(r.artifact(MetricsFile), metrics); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	r.log.Info("model stage complete",
		zap.Float64("train_auc", res.TrainAUC),
		zap.Float64("test_auc", res.TestAUC),
		zap.String("model_path", r.cfg.ModelPath))
	return nil
}

// RunAll executes every stage in order.
func (r *Runner) RunAll() error {
	if err := r.RunIngestion(); err != nil {
		return err
	}
	if err := r.RunPreprocessing(); err != nil {
		return err
	}
	if err := r.RunFeatures(); err != nil {
		return err
	}
	return r.RunModel()
}

func boostParams(b config.Boost) boost.Params {
	return boost.Params{
		NumTrees:        b.NumTrees,
		LearningRate:    b.LearningRate,
		MaxDepth:        b.MaxDepth,
		Subsample:       b.Subsample,
		ColsampleByTree: b.ColsampleByTree,
		RegAlpha:        b.RegAlpha,
		RegLambda:       b.RegLambda,
		MinChildWeight:  b.MinChildWeight,
		EvalMetric:      b.EvalMetric,
		Seed:            b.Seed,
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
