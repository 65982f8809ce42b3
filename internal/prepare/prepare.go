// Package prepare turns the transformed feature frame into train/test
// matrices: column pruning, one-hot encoding, the chronological cutoff
// split and the per-merchant bad-rate feature.
package prepare

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fraudlab/pipeline/internal/frame"
)

// ErrSchema is returned when a required column is missing from the input.
var ErrSchema = errors.New("prepare: schema error")

// Config controls the model-data preparation stage.
type Config struct {
	// Target is the label column; defaults to is_fraud.
	Target string
	// MerchantKey keys the bad-rate feature; defaults to merchant_id.
	MerchantKey string
	// TimestampKey orders the cutoff split; defaults to timestamp.
	TimestampKey string
	// Cutoff partitions rows: strictly before goes to train, at or after
	// goes to test.
	Cutoff time.Time
	// ToDrop and ToThinkButDrop are removed before encoding; names that
	// are not present are ignored.
	ToDrop         []string
	ToThinkButDrop []string
	// ToCategorize lists columns to one-hot encode (no drop-first).
	ToCategorize []string
	// BadRateFromTrainOnly computes the merchant bad rate from train-period
	// rows only. The default (false) reproduces the historical behavior of
	// computing it over the full dataset, which leaks test-period fraud
	// frequency into a training feature for merchants active in both
	// periods.
	BadRateFromTrainOnly bool

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Target == "" {
		c.Target = "is_fraud"
	}
	if c.MerchantKey == "" {
		c.MerchantKey = "merchant_id"
	}
	if c.TimestampKey == "" {
		c.TimestampKey = "timestamp"
	}
	return c
}

// Split holds the prepared matrices. The label frames carry a single
// float column named y.
type Split struct {
	XTrain *frame.Frame
	YTrain *frame.Frame
	XTest  *frame.Frame
	YTest  *frame.Frame
}

// ModelData prepares train/test feature matrices and label vectors from
// the transformed frame. The input frame is not modified.
func ModelData(in *frame.Frame, cfg Config) (*Split, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	for _, required := range []string{cfg.Target, cfg.MerchantKey, cfg.TimestampKey} {
		if !in.Has(required) {
			return nil, fmt.Errorf("%w: missing column %q", ErrSchema, required)
		}
	}

	f := in.Clone()
	f.Drop(protect(cfg.ToDrop, cfg)...)
	f.Drop(protect(cfg.ToThinkButDrop, cfg)...)

	for _, col := range cfg.ToCategorize {
		if err := oneHot(f, col); err != nil {
			return nil, err
		}
	}
	boolsToInts(f)

	ts, err := f.Times(cfg.TimestampKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	inTrain := make([]bool, f.NumRows())
	inTest := make([]bool, f.NumRows())
	for i, t := range ts {
		if t.Before(cfg.Cutoff) {
			inTrain[i] = true
		} else {
			inTest[i] = true
		}
	}

	rateSource := f
	if cfg.BadRateFromTrainOnly {
		rateSource = f.Filter(inTrain)
	}
	rates, err := merchantBadRates(rateSource, cfg.MerchantKey, cfg.Target)
	if err != nil {
		return nil, err
	}

	train := f.Filter(inTrain)
	test := f.Filter(inTest)

	xTrain, yTrain, err := toXY(train, cfg, rates)
	if err != nil {
		return nil, err
	}
	xTest, yTest, err := toXY(test, cfg, rates)
	if err != nil {
		return nil, err
	}

	log.Info("model data prepared",
		zap.Int("train_rows", xTrain.NumRows()),
		zap.Int("test_rows", xTest.NumRows()),
		zap.Int("feature_columns", xTrain.NumCols()),
		zap.Time("cutoff", cfg.Cutoff),
		zap.Bool("bad_rate_train_only", cfg.BadRateFromTrainOnly))
	return &Split{XTrain: xTrain, YTrain: yTrain, XTest: xTest, YTest: yTest}, nil
}

// protect filters the split-critical columns out of a drop list.
func protect(names []string, cfg Config) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == cfg.Target || n == cfg.MerchantKey || n == cfg.TimestampKey {
			continue
		}
		out = append(out, n)
	}
	return out
}

// oneHot replaces a categorical column with one indicator column per
// observed category, in sorted category order. A row with a missing
// category gets zeros in every indicator.
func oneHot(f *frame.Frame, name string) error {
	c, err := f.Column(name)
	if err != nil {
		return fmt.Errorf("%w: missing column %q", ErrSchema, name)
	}

	seen := make(map[string]bool)
	for i := 0; i < c.Len(); i++ {
		if c.IsValid(i) {
			seen[c.KeyAt(i)] = true
		}
	}
	categories := make([]string, 0, len(seen))
	for k := range seen {
		categories = append(categories, k)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		vals := make([]float64, c.Len())
		for i := 0; i < c.Len(); i++ {
			if c.IsValid(i) && c.KeyAt(i) == cat {
				vals[i] = 1
			}
		}
		if err := f.AddFloats(name+"_"+cat, vals); err != nil {
			return err
		}
	}
	f.Drop(name)
	return nil
}

// boolsToInts rewrites every bool column as 0/1 ints so the matrices are
// fully numeric on disk.
func boolsToInts(f *frame.Frame) {
	for _, name := range f.ColumnNames() {
		c, _ := f.Column(name)
		if c.Type != frame.Bool {
			continue
		}
		vals := make([]int64, c.Len())
		out := &frame.Column{Name: name, Type: frame.Int64, Int: vals}
		for i, b := range c.Bools {
			if b {
				vals[i] = 1
			}
			if !c.IsValid(i) {
				out.Valid = validAllBut(out.Valid, c.Len(), i)
			}
		}
		_ = f.AddColumn(out)
	}
}

func validAllBut(valid []bool, n, i int) []bool {
	if valid == nil {
		valid = make([]bool, n)
		for j := range valid {
			valid[j] = true
		}
	}
	valid[i] = false
	return valid
}

// merchantBadRates computes fraud_count/transaction_count per merchant.
// A merchant with no rows in the source simply has no entry; the join
// then yields a missing rate.
func merchantBadRates(f *frame.Frame, merchantKey, target string) (map[string]float64, error) {
	m, err := f.Column(merchantKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	y, err := f.Column(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	counts := make(map[string]float64)
	frauds := make(map[string]float64)
	for i := 0; i < f.NumRows(); i++ {
		if !m.IsValid(i) {
			continue
		}
		k := m.KeyAt(i)
		counts[k]++
		frauds[k] += labelAt(y, i)
	}
	rates := make(map[string]float64, len(counts))
	for k, n := range counts {
		rates[k] = frauds[k] / n
	}
	return rates, nil
}

// toXY splits a partition into the feature matrix (with the joined
// bad_rate column, minus identifiers and the label) and the y frame.
func toXY(part *frame.Frame, cfg Config, rates map[string]float64) (*frame.Frame, *frame.Frame, error) {
	m, err := part.Column(cfg.MerchantKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	badRate := make([]float64, part.NumRows())
	for i := range badRate {
		badRate[i] = math.NaN()
		if m.IsValid(i) {
			if r, ok := rates[m.KeyAt(i)]; ok {
				badRate[i] = r
			}
		}
	}

	y, err := part.Column(cfg.Target)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	labels := make([]float64, part.NumRows())
	for i := range labels {
		labels[i] = labelAt(y, i)
	}

	x := part.Clone()
	if err := x.AddFloats("bad_rate", badRate); err != nil {
		return nil, nil, err
	}
	x.Drop(cfg.MerchantKey, cfg.TimestampKey, cfg.Target)

	yf := frame.New(part.NumRows())
	if err := yf.AddFloats("y", labels); err != nil {
		return nil, nil, err
	}
	return x, yf, nil
}

// labelAt reads a binary label as a float from an int, float or bool
// column.
func labelAt(c *frame.Column, i int) float64 {
	if !c.IsValid(i) {
		return math.NaN()
	}
	switch c.Type {
	case frame.Float64:
		return c.Float[i]
	case frame.Int64:
		return float64(c.Int[i])
	case frame.Bool:
		if c.Bools[i] {
			return 1
		}
	}
	return 0
}
