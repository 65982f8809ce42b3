// Package features computes per-entity rolling and expanding statistics
// over chronologically ordered transaction histories.
//
// Every derived value at a row aggregates only that entity's strictly
// earlier rows; an entity's first row is always missing (NaN), never zero.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/fraudlab/pipeline/internal/frame"
)

// ErrConfig is returned when the builder configuration or the input frame
// schema is unusable.
var ErrConfig = errors.New("features: invalid configuration")

// Config describes the columns and windows the builder operates on. The
// grouping and ordering keys are explicit; the builder never guesses
// column names and never reorders the input frame.
type Config struct {
	// EntityKey groups rows into per-user histories.
	EntityKey string
	// MerchantKey groups rows for the merchant bad-rate statistic.
	MerchantKey string
	// OrderKey is the timestamp column defining chronological order.
	OrderKey string
	// TargetKey is the binary fraud flag used by the expanding rates.
	TargetKey string
	// AmountKey is the monetary column aggregated by the rolling windows
	// and compared by the within-percent flags.
	AmountKey string
	// Windows are the rolling window sizes; one count/sum/mean column
	// triple is produced per size.
	Windows []int
	// Tolerances are the within-percent flag tolerances, in percent.
	Tolerances []float64
	// Logger is optional.
	Logger *zap.Logger
}

// Builder derives windowed features on frames.
type Builder struct {
	cfg Config
	log *zap.Logger
}

// NewBuilder validates the configuration and returns a builder.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.EntityKey == "" {
		return nil, fmt.Errorf("%w: entity key required", ErrConfig)
	}
	if cfg.OrderKey == "" {
		return nil, fmt.Errorf("%w: ordering key required", ErrConfig)
	}
	if cfg.TargetKey == "" {
		return nil, fmt.Errorf("%w: target key required", ErrConfig)
	}
	if cfg.AmountKey == "" {
		return nil, fmt.Errorf("%w: amount key required", ErrConfig)
	}
	if len(cfg.Windows) == 0 {
		return nil, fmt.Errorf("%w: at least one window size required", ErrConfig)
	}
	for _, n := range cfg.Windows {
		if n < 1 {
			return nil, fmt.Errorf("%w: window size %d must be positive", ErrConfig, n)
		}
	}
	for _, p := range cfg.Tolerances {
		if p <= 0 {
			return nil, fmt.Errorf("%w: tolerance %g must be positive", ErrConfig, p)
		}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{cfg: cfg, log: log}, nil
}

// GroupOrder returns, per entity, the original row indices sorted
// chronologically. The sort is stable so equal timestamps keep input
// order. Entity iteration order follows first appearance in the frame.
// Rows with a missing entity key belong to no group; their derived
// values stay missing.
func GroupOrder(f *frame.Frame, entityKey, orderKey string) ([][]int, error) {
	entity, err := f.Column(entityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	times, err := f.Times(orderKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	byEntity := make(map[string][]int)
	var order []string
	for i := 0; i < f.NumRows(); i++ {
		if !entity.IsValid(i) {
			continue
		}
		k := entity.KeyAt(i)
		if _, seen := byEntity[k]; !seen {
			order = append(order, k)
		}
		byEntity[k] = append(byEntity[k], i)
	}

	groups := make([][]int, 0, len(order))
	for _, k := range order {
		idx := byEntity[k]
		sort.SliceStable(idx, func(a, b int) bool {
			return times[idx[a]].Before(times[idx[b]])
		})
		groups = append(groups, idx)
	}
	return groups, nil
}

// Transform adds the rolling, expanding and within-percent columns to the
// frame in place. Results are written through original row indices, so
// the frame's row order is untouched.
func (b *Builder) Transform(f *frame.Frame) error {
	amounts, err := f.Numeric(b.cfg.AmountKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	target, err := f.Numeric(b.cfg.TargetKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	userGroups, err := GroupOrder(f, b.cfg.EntityKey, b.cfg.OrderKey)
	if err != nil {
		return err
	}

	n := f.NumRows()
	counts := make(map[int][]float64, len(b.cfg.Windows))
	sums := make(map[int][]float64, len(b.cfg.Windows))
	means := make(map[int][]float64, len(b.cfg.Windows))
	for _, w := range b.cfg.Windows {
		counts[w] = nanSlice(n)
		sums[w] = nanSlice(n)
		means[w] = nanSlice(n)
	}
	goodRate := nanSlice(n)
	flags := make(map[float64][]float64, len(b.cfg.Tolerances))
	for _, p := range b.cfg.Tolerances {
		flags[p] = nanSlice(n)
	}

	for _, idx := range userGroups {
		b.rollingWindows(idx, amounts, counts, sums, means)
		expandingRate(idx, target, goodRate, true)
		for _, p := range b.cfg.Tolerances {
			withinPercent(idx, amounts, p, flags[p])
		}
	}

	for _, w := range b.cfg.Windows {
		if err := f.AddFloats(fmt.Sprintf("count_last_%d", w), counts[w]); err != nil {
			return err
		}
		if err := f.AddFloats(fmt.Sprintf("sum_last_%d", w), sums[w]); err != nil {
			return err
		}
		if err := f.AddFloats(fmt.Sprintf("mean_last_%d", w), means[w]); err != nil {
			return err
		}
	}
	if err := f.AddFloats("user_good_rate", goodRate); err != nil {
		return err
	}
	for _, p := range b.cfg.Tolerances {
		if err := f.AddFloats(fmt.Sprintf("within_%gpct", p), flags[p]); err != nil {
			return err
		}
	}

	if b.cfg.MerchantKey != "" {
		merchantGroups, err := GroupOrder(f, b.cfg.MerchantKey, b.cfg.OrderKey)
		if err != nil {
			return err
		}
		badRate := nanSlice(n)
		for _, idx := range merchantGroups {
			expandingRate(idx, target, badRate, false)
		}
		if err := f.AddFloats("merchant_bad_rate", badRate); err != nil {
			return err
		}
	}

	b.log.Info("windowed features derived",
		zap.Int("rows", n),
		zap.Int("entities", len(userGroups)),
		zap.Ints("windows", b.cfg.Windows))
	return nil
}

// rollingWindows fills count/sum/mean over the up-to-N rows preceding each
// row of one entity, using a running sum over a ring of recent amounts.
// The current row is pushed only after its statistics are recorded.
func (b *Builder) rollingWindows(idx []int, amounts []float64, counts, sums, means map[int][]float64) {
	type ring struct {
		vals  []float64
		start int
		sum   float64
	}
	rings := make(map[int]*ring, len(b.cfg.Windows))
	for _, w := range b.cfg.Windows {
		rings[w] = &ring{}
	}

	for _, row := range idx {
		for _, w := range b.cfg.Windows {
			r := rings[w]
			held := len(r.vals) - r.start
			if held > 0 {
				counts[w][row] = float64(held)
				sums[w][row] = r.sum
				means[w][row] = r.sum / float64(held)
			}
			r.vals = append(r.vals, amounts[row])
			r.sum += amounts[row]
			if len(r.vals)-r.start > w {
				r.sum -= r.vals[r.start]
				r.start++
			}
		}
	}
}

// expandingRate fills the expanding fraud frequency over each row's prior
// history. With invert set the stored value is 1 − rate (good rate).
func expandingRate(idx []int, target []float64, out []float64, invert bool) {
	var sum float64
	for i, row := range idx {
		if i > 0 {
			rate := sum / float64(i)
			if invert {
				rate = 1 - rate
			}
			out[row] = rate
		}
		sum += target[row]
	}
}

// withinPercent flags whether each row's amount falls inside the inclusive
// tolerance band around the entity's previous amount.
func withinPercent(idx []int, amounts []float64, tolerancePct float64, out []float64) {
	prev := math.NaN()
	for i, row := range idx {
		if i > 0 && !math.IsNaN(prev) {
			lower := prev * (1 - tolerancePct/100)
			upper := prev * (1 + tolerancePct/100)
			if amounts[row] >= lower && amounts[row] <= upper {
				out[row] = 1
			} else {
				out[row] = 0
			}
		}
		prev = amounts[row]
	}
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
