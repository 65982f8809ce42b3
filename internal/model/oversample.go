package model

import "math/rand"

// Oversample balances the classes by appending minority rows drawn with
// replacement until both classes have equal counts. The originals are
// kept in order; only the appended rows are random.
func Oversample(rows [][]float64, labels []float64, seed int64) ([][]float64, []float64) {
	var minority []int
	var pos, neg int
	for _, y := range labels {
		if y == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == neg || pos == 0 || neg == 0 {
		return rows, labels
	}
	minorityLabel := 1.0
	if neg < pos {
		minorityLabel = 0
	}
	for i, y := range labels {
		if y == minorityLabel {
			minority = append(minority, i)
		}
	}

	deficit := pos - neg
	if deficit < 0 {
		deficit = -deficit
	}
	rng := rand.New(rand.NewSource(seed))
	outRows := append([][]float64(nil), rows...)
	outLabels := append([]float64(nil), labels...)
	for k := 0; k < deficit; k++ {
		i := minority[rng.Intn(len(minority))]
		outRows = append(outRows, rows[i])
		outLabels = append(outLabels, labels[i])
	}
	return outRows, outLabels
}
