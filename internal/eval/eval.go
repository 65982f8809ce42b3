// Package eval scores trained classifiers: ROC/AUC, accuracy, score
// distributions and three flavors of feature importance.
package eval

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/fraudlab/pipeline/internal/boost"
)

// ROCPoints returns the ROC curve as parallel FPR/TPR slices.
func ROCPoints(labels, scores []float64) (fpr, tpr []float64) {
	s := append([]float64(nil), scores...)
	classes := make([]bool, len(labels))
	for i, y := range labels {
		classes[i] = y == 1
	}
	sort.Sort(byScore{scores: s, classes: classes})
	tpr, fpr, _ = stat.ROC(nil, s, classes, nil)
	return fpr, tpr
}

// AUC computes the area under the ROC curve.
func AUC(labels, scores []float64) float64 {
	fpr, tpr := ROCPoints(labels, scores)
	return integrate.Trapezoidal(fpr, tpr)
}

// Accuracy is the fraction of rows where the 0.5-thresholded score
// matches the label.
func Accuracy(labels, scores []float64) float64 {
	if len(labels) == 0 {
		return math.NaN()
	}
	var hits int
	for i, s := range scores {
		pred := 0.0
		if s >= 0.5 {
			pred = 1
		}
		if pred == labels[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(labels))
}

// byScore sorts class flags and scores together by ascending score, as
// stat.ROC requires.
type byScore struct {
	scores  []float64
	classes []bool
}

func (b byScore) Len() int           { return len(b.scores) }
func (b byScore) Less(i, j int) bool { return b.scores[i] < b.scores[j] }
func (b byScore) Swap(i, j int) {
	b.scores[i], b.scores[j] = b.scores[j], b.scores[i]
	b.classes[i], b.classes[j] = b.classes[j], b.classes[i]
}

// Histogram bins scores of one class into equal-width buckets over
// [0, 1], for inspecting how well the classes separate.
func Histogram(scores, labels []float64, class float64, bins int) []int {
	if bins < 1 {
		bins = 50
	}
	counts := make([]int, bins)
	for i, s := range scores {
		if labels[i] != class || math.IsNaN(s) {
			continue
		}
		b := int(s * float64(bins))
		if b >= bins {
			b = bins - 1
		}
		if b < 0 {
			b = 0
		}
		counts[b]++
	}
	return counts
}

// Importance is one named importance score.
type Importance struct {
	Feature string
	Score   float64
	Std     float64
}

// TopGainImportance ranks features by total split gain, descending.
func TopGainImportance(m *boost.Model, n int) []Importance {
	return topN(m.GainImportance(), n)
}

// TopContribImportance ranks features by the mean absolute per-row
// score contribution over the given rows.
func TopContribImportance(m *boost.Model, rows [][]float64, n int) []Importance {
	totals := make(map[string]float64)
	for _, row := range rows {
		contrib, _ := m.Contributions(row)
		for feat, v := range contrib {
			totals[feat] += math.Abs(v)
		}
	}
	if len(rows) > 0 {
		for feat := range totals {
			totals[feat] /= float64(len(rows))
		}
	}
	return topN(totals, n)
}

func topN(scores map[string]float64, n int) []Importance {
	out := make([]Importance, 0, len(scores))
	for feat, s := range scores {
		out = append(out, Importance{Feature: feat, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Feature < out[j].Feature
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// PermutationImportance measures each feature's AUC drop when its
// column is shuffled, averaged over repeats. Larger drops mean the
// model leans harder on the feature.
func PermutationImportance(m *boost.Model, rows [][]float64, labels []float64, repeats int, seed int64) ([]Importance, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("eval: no rows to permute")
	}
	if repeats < 1 {
		repeats = 5
	}
	rng := rand.New(rand.NewSource(seed))
	base := AUC(labels, m.PredictProba(rows))

	nFeatures := len(rows[0])
	out := make([]Importance, 0, nFeatures)
	scratch := make([][]float64, len(rows))
	for i, row := range rows {
		scratch[i] = append([]float64(nil), row...)
	}
	column := make([]float64, len(rows))

	for feat := 0; feat < nFeatures; feat++ {
		drops := make([]float64, repeats)
		for r := 0; r < repeats; r++ {
			for i := range rows {
				column[i] = rows[i][feat]
			}
			rng.Shuffle(len(column), func(a, b int) {
				column[a], column[b] = column[b], column[a]
			})
			for i := range scratch {
				scratch[i][feat] = column[i]
			}
			drops[r] = base - AUC(labels, m.PredictProba(scratch))
		}
		for i := range scratch {
			scratch[i][feat] = rows[i][feat]
		}
		out = append(out, Importance{
			Feature: m.FeatureNames[feat],
			Score:   stat.Mean(drops, nil),
			Std:     stat.StdDev(drops, nil),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
