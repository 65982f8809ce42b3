// Package boost implements a gradient-boosted decision tree classifier
// for binary targets: logistic loss, exact greedy splits with learned
// default directions for missing values, row subsampling and per-tree
// column sampling.
package boost

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
)

// ErrTraining is returned when the inputs cannot be fit.
var ErrTraining = errors.New("boost: training error")

// Params are the boosting hyperparameters. Zero values fall back to the
// pipeline defaults.
type Params struct {
	NumTrees        int     `json:"num_trees"`
	LearningRate    float64 `json:"learning_rate"`
	MaxDepth        int     `json:"max_depth"`
	Subsample       float64 `json:"subsample"`
	ColsampleByTree float64 `json:"colsample_bytree"`
	RegAlpha        float64 `json:"reg_alpha"`
	RegLambda       float64 `json:"reg_lambda"`
	MinChildWeight  float64 `json:"min_child_weight"`
	EvalMetric      string  `json:"eval_metric"`
	Seed            int64   `json:"seed"`
}

// WithDefaults fills unset hyperparameters.
func (p Params) WithDefaults() Params {
	if p.NumTrees == 0 {
		p.NumTrees = 1250
	}
	if p.LearningRate == 0 {
		p.LearningRate = 0.05
	}
	if p.MaxDepth == 0 {
		p.MaxDepth = 5
	}
	if p.Subsample == 0 {
		p.Subsample = 0.5
	}
	if p.ColsampleByTree == 0 {
		p.ColsampleByTree = 0.8
	}
	if p.RegAlpha == 0 {
		p.RegAlpha = 1.0
	}
	if p.RegLambda == 0 {
		p.RegLambda = 1.0
	}
	if p.MinChildWeight == 0 {
		p.MinChildWeight = 1.0
	}
	if p.EvalMetric == "" {
		p.EvalMetric = "auc"
	}
	if p.Seed == 0 {
		p.Seed = 42
	}
	return p
}

func (p Params) validate() error {
	if p.NumTrees < 1 {
		return fmt.Errorf("%w: num_trees %d must be positive", ErrTraining, p.NumTrees)
	}
	if p.LearningRate <= 0 || p.LearningRate > 1 {
		return fmt.Errorf("%w: learning_rate %g out of (0, 1]", ErrTraining, p.LearningRate)
	}
	if p.MaxDepth < 1 {
		return fmt.Errorf("%w: max_depth %d must be positive", ErrTraining, p.MaxDepth)
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		return fmt.Errorf("%w: subsample %g out of (0, 1]", ErrTraining, p.Subsample)
	}
	if p.ColsampleByTree <= 0 || p.ColsampleByTree > 1 {
		return fmt.Errorf("%w: colsample_bytree %g out of (0, 1]", ErrTraining, p.ColsampleByTree)
	}
	return nil
}

// Model is a trained boosted ensemble. Leaf values carry the learning
// rate already applied, so a raw score is the plain sum over trees.
type Model struct {
	Params       Params   `json:"params"`
	FeatureNames []string `json:"feature_names"`
	Trees        []*Node  `json:"trees"`
}

// Train fits an ensemble on row-major features and binary labels.
func Train(rows [][]float64, labels []float64, names []string, params Params, log *zap.Logger) (*Model, error) {
	params = params.WithDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrTraining)
	}
	if len(rows) != len(labels) {
		return nil, fmt.Errorf("%w: %d rows but %d labels", ErrTraining, len(rows), len(labels))
	}
	nFeatures := len(rows[0])
	if len(names) != nFeatures {
		return nil, fmt.Errorf("%w: %d feature names for %d columns", ErrTraining, len(names), nFeatures)
	}

	var positives int
	for _, y := range labels {
		if y != 0 && y != 1 {
			return nil, fmt.Errorf("%w: label %g is not binary", ErrTraining, y)
		}
		if y == 1 {
			positives++
		}
	}
	if positives == 0 || positives == len(labels) {
		return nil, fmt.Errorf("%w: labels contain a single class", ErrTraining)
	}

	rng := rand.New(rand.NewSource(params.Seed))
	n := len(rows)
	margin := make([]float64, n)
	grad := make([]float64, n)
	hess := make([]float64, n)

	model := &Model{
		Params:       params,
		FeatureNames: append([]string(nil), names...),
		Trees:        make([]*Node, 0, params.NumTrees),
	}

	for t := 0; t < params.NumTrees; t++ {
		for i := range rows {
			p := sigmoid(margin[i])
			grad[i] = p - labels[i]
			hess[i] = p * (1 - p)
		}

		idx := sampleRows(n, params.Subsample, rng)
		feats := sampleFeatures(nFeatures, params.ColsampleByTree, rng)
		tb := &treeBuilder{rows: rows, grad: grad, hess: hess, features: feats, params: params}
		tree := tb.build(idx, 0)
		model.Trees = append(model.Trees, tree)

		for i, row := range rows {
			margin[i] += tree.predict(row)
		}
	}

	log.Info("boosted ensemble trained",
		zap.Int("trees", len(model.Trees)),
		zap.Int("rows", n),
		zap.Int("features", nFeatures),
		zap.Int("positives", positives))
	return model, nil
}

// PredictProba returns the fraud probability for each row.
func (m *Model) PredictProba(rows [][]float64) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		out[i] = sigmoid(m.rawScore(row))
	}
	return out
}

// Predict returns hard 0/1 labels at the 0.5 probability threshold.
func (m *Model) Predict(rows [][]float64) []float64 {
	out := m.PredictProba(rows)
	for i, p := range out {
		if p >= 0.5 {
			out[i] = 1
		} else {
			out[i] = 0
		}
	}
	return out
}

func (m *Model) rawScore(row []float64) float64 {
	var s float64
	for _, t := range m.Trees {
		s += t.predict(row)
	}
	return s
}

// GainImportance totals split gain per feature across the ensemble.
func (m *Model) GainImportance() map[string]float64 {
	total := make(map[string]float64)
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil || n.Leaf {
			return
		}
		total[m.FeatureNames[n.Feature]] += n.Gain
		walk(n.Left)
		walk(n.Right)
	}
	for _, t := range m.Trees {
		walk(t)
	}
	return total
}

// Contributions decomposes one row's raw score into per-feature terms
// plus a bias, following each tree's decision path: every split's
// contribution is the change in expected node value it caused.
func (m *Model) Contributions(row []float64) (map[string]float64, float64) {
	contrib := make(map[string]float64)
	var bias float64
	for _, t := range m.Trees {
		bias += t.Value
		n := t
		for !n.Leaf {
			var next *Node
			v := row[n.Feature]
			switch {
			case math.IsNaN(v):
				if n.DefaultLeft {
					next = n.Left
				} else {
					next = n.Right
				}
			case v < n.Threshold:
				next = n.Left
			default:
				next = n.Right
			}
			contrib[m.FeatureNames[n.Feature]] += next.Value - n.Value
			n = next
		}
	}
	return contrib, bias
}

// sampleRows draws rows without replacement at the given rate. At least
// one row is always kept.
func sampleRows(n int, rate float64, rng *rand.Rand) []int {
	if rate >= 1 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, 0, int(float64(n)*rate)+1)
	for i := 0; i < n; i++ {
		if rng.Float64() < rate {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		idx = append(idx, rng.Intn(n))
	}
	return idx
}

// sampleFeatures picks a random subset of feature indices per tree.
func sampleFeatures(n int, rate float64, rng *rand.Rand) []int {
	if rate >= 1 {
		feats := make([]int, n)
		for i := range feats {
			feats[i] = i
		}
		return feats
	}
	k := int(math.Ceil(float64(n) * rate))
	if k < 1 {
		k = 1
	}
	perm := rng.Perm(n)
	feats := append([]int(nil), perm[:k]...)
	return feats
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
