// Package model ties the prepared matrices to the boosted classifier:
// minority oversampling, training and held-out scoring.
package model

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fraudlab/pipeline/internal/boost"
	"github.com/fraudlab/pipeline/internal/eval"
	"github.com/fraudlab/pipeline/internal/frame"
)

// Config controls a training run.
type Config struct {
	Params boost.Params
	// Oversample duplicates minority rows with replacement until the
	// classes are balanced before fitting.
	Oversample bool
	Logger     *zap.Logger
}

// Result holds the trained model and its held-out scores.
type Result struct {
	Model    *boost.Model
	TrainAUC float64
	TestAUC  float64
	Accuracy float64
}

// Train fits a classifier on the train matrices and scores it on the
// test matrices. The label frames must carry a single y column.
func Train(xTrain, yTrain, xTest, yTest *frame.Frame, cfg Config) (*Result, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	rows, names, err := xTrain.Matrix()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", boost.ErrTraining, err)
	}
	labels, err := yTrain.Floats("y")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", boost.ErrTraining, err)
	}
	testRows, _, err := xTest.Matrix()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", boost.ErrTraining, err)
	}
	testLabels, err := yTest.Floats("y")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", boost.ErrTraining, err)
	}

	if cfg.Oversample {
		before := len(rows)
		rows, labels = Oversample(rows, labels, cfg.Params.WithDefaults().Seed)
		log.Info("minority class oversampled",
			zap.Int("rows_before", before),
			zap.Int("rows_after", len(rows)))
	}

	m, err := boost.Train(rows, labels, names, cfg.Params, log)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Model:    m,
		TrainAUC: eval.AUC(labels, m.PredictProba(rows)),
		TestAUC:  eval.AUC(testLabels, m.PredictProba(testRows)),
		Accuracy: eval.Accuracy(testLabels, m.PredictProba(testRows)),
	}
	log.Info("model trained",
		zap.Float64("train_auc", res.TrainAUC),
		zap.Float64("test_auc", res.TestAUC),
		zap.Float64("test_accuracy", res.Accuracy))
	return res, nil
}
