package boost

import (
	"math"
	"sort"
)

// Node is one node of a regression tree. Leaf nodes carry only Value;
// internal nodes carry the split and a Value used for per-path
// prediction contributions. Rows with a missing split feature follow
// DefaultLeft.
type Node struct {
	Feature     int     `json:"feature,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	DefaultLeft bool    `json:"default_left,omitempty"`
	Left        *Node   `json:"left,omitempty"`
	Right       *Node   `json:"right,omitempty"`
	Leaf        bool    `json:"leaf,omitempty"`
	Value       float64 `json:"value"`
	Gain        float64 `json:"gain,omitempty"`
}

// predict walks the tree for one row and returns the leaf value.
func (n *Node) predict(row []float64) float64 {
	for !n.Leaf {
		v := row[n.Feature]
		switch {
		case math.IsNaN(v):
			if n.DefaultLeft {
				n = n.Left
			} else {
				n = n.Right
			}
		case v < n.Threshold:
			n = n.Left
		default:
			n = n.Right
		}
	}
	return n.Value
}

// treeBuilder grows one tree on the sampled rows and features.
type treeBuilder struct {
	rows     [][]float64
	grad     []float64
	hess     []float64
	features []int
	params   Params
}

// split describes the best found partition of a node's rows.
type split struct {
	feature     int
	threshold   float64
	defaultLeft bool
	gain        float64
	left, right []int
}

// build grows a tree from the given row indices.
func (tb *treeBuilder) build(idx []int, depth int) *Node {
	g, h := tb.sums(idx)
	node := &Node{Value: tb.weight(g, h)}

	if depth >= tb.params.MaxDepth {
		node.Leaf = true
		return node
	}
	best := tb.bestSplit(idx, g, h)
	if best == nil {
		node.Leaf = true
		return node
	}

	node.Feature = best.feature
	node.Threshold = best.threshold
	node.DefaultLeft = best.defaultLeft
	node.Gain = best.gain
	node.Left = tb.build(best.left, depth+1)
	node.Right = tb.build(best.right, depth+1)
	return node
}

func (tb *treeBuilder) sums(idx []int) (g, h float64) {
	for _, i := range idx {
		g += tb.grad[i]
		h += tb.hess[i]
	}
	return g, h
}

// weight is the regularized leaf value for a gradient/hessian total,
// with the learning rate already folded in.
func (tb *treeBuilder) weight(g, h float64) float64 {
	return -shrinkL1(g, tb.params.RegAlpha) / (h + tb.params.RegLambda) * tb.params.LearningRate
}

// score is the structure score 0.5 * gain term for one side of a split.
func (tb *treeBuilder) score(g, h float64) float64 {
	t := shrinkL1(g, tb.params.RegAlpha)
	return t * t / (h + tb.params.RegLambda)
}

// shrinkL1 applies the L1 soft threshold to a gradient total.
func shrinkL1(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	}
	return 0
}

func sortByFeature(idx []int, rows [][]float64, feat int) {
	sort.Slice(idx, func(a, b int) bool {
		return rows[idx[a]][feat] < rows[idx[b]][feat]
	})
}

// bestSplit scans every sampled feature with the exact greedy method.
// For each feature the rows with a missing value are tried on both
// sides and the better direction is kept as the default.
func (tb *treeBuilder) bestSplit(idx []int, gTotal, hTotal float64) *split {
	parent := tb.score(gTotal, hTotal)
	var best *split

	for _, feat := range tb.features {
		present := make([]int, 0, len(idx))
		var gMiss, hMiss float64
		for _, i := range idx {
			if math.IsNaN(tb.rows[i][feat]) {
				gMiss += tb.grad[i]
				hMiss += tb.hess[i]
				continue
			}
			present = append(present, i)
		}
		if len(present) < 2 {
			continue
		}
		sortByFeature(present, tb.rows, feat)

		var gLeft, hLeft float64
		for k := 0; k < len(present)-1; k++ {
			i := present[k]
			gLeft += tb.grad[i]
			hLeft += tb.hess[i]

			cur := tb.rows[i][feat]
			next := tb.rows[present[k+1]][feat]
			if cur == next {
				continue
			}
			threshold := (cur + next) / 2

			// Try missing rows on each side.
			for _, missLeft := range []bool{true, false} {
				gl, hl := gLeft, hLeft
				if missLeft {
					gl += gMiss
					hl += hMiss
				}
				gr, hr := gTotal-gl, hTotal-hl
				if hl < tb.params.MinChildWeight || hr < tb.params.MinChildWeight {
					continue
				}
				gain := 0.5 * (tb.score(gl, hl) + tb.score(gr, hr) - parent)
				if gain <= 0 || (best != nil && gain <= best.gain) {
					continue
				}
				best = &split{
					feature:     feat,
					threshold:   threshold,
					defaultLeft: missLeft,
					gain:        gain,
				}
			}
		}
	}
	if best == nil {
		return nil
	}

	for _, i := range idx {
		v := tb.rows[i][best.feature]
		if math.IsNaN(v) {
			if best.defaultLeft {
				best.left = append(best.left, i)
			} else {
				best.right = append(best.right, i)
			}
			continue
		}
		if v < best.threshold {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	return best
}
