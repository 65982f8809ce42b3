// Package transform builds the full per-transaction feature frame from
// merged raw records: timestamp decomposition, previous-point geospatial
// movement, amount ratios, country flags and the windowed statistics.
package transform

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/fraudlab/pipeline/internal/features"
	"github.com/fraudlab/pipeline/internal/frame"
	"github.com/fraudlab/pipeline/internal/geo"
)

// ErrSchema is returned when a required input column is missing or has the
// wrong type.
var ErrSchema = errors.New("transform: schema error")

// maxSpeedKmph caps the derived speed to suppress division-by-near-zero
// blowups between back-to-back transactions.
const maxSpeedKmph = 2000.0

// Config names the input columns and forwards windowing parameters to the
// feature builder. Zero-valued keys fall back to the raw data layout.
type Config struct {
	UserKey      string
	MerchantKey  string
	TimestampKey string
	TargetKey    string
	AmountKey    string
	LatKey       string
	LonKey       string

	Windows    []int
	Tolerances []float64

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.UserKey == "" {
		c.UserKey = "user_id"
	}
	if c.MerchantKey == "" {
		c.MerchantKey = "merchant_id"
	}
	if c.TimestampKey == "" {
		c.TimestampKey = "timestamp"
	}
	if c.TargetKey == "" {
		c.TargetKey = "is_fraud"
	}
	if c.AmountKey == "" {
		c.AmountKey = "amount"
	}
	if c.LatKey == "" {
		c.LatKey = "location_lat"
	}
	if c.LonKey == "" {
		c.LonKey = "location_long"
	}
	if len(c.Tolerances) == 0 {
		c.Tolerances = []float64{10, 5}
	}
	return c
}

// Transformer applies the global feature derivation stage.
type Transformer struct {
	cfg     Config
	builder *features.Builder
	log     *zap.Logger
}

// New validates the configuration and returns a transformer.
func New(cfg Config) (*Transformer, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	builder, err := features.NewBuilder(features.Config{
		EntityKey:   cfg.UserKey,
		MerchantKey: cfg.MerchantKey,
		OrderKey:    cfg.TimestampKey,
		TargetKey:   cfg.TargetKey,
		AmountKey:   cfg.AmountKey,
		Windows:     cfg.Windows,
		Tolerances:  cfg.Tolerances,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Transformer{cfg: cfg, builder: builder, log: log}, nil
}

// Apply derives every feature column and drops each user's first
// chronological transaction. The input frame is not modified.
func (t *Transformer) Apply(raw *frame.Frame) (*frame.Frame, error) {
	start := time.Now()
	f := raw.Clone()

	ts, err := f.Times(t.cfg.TimestampKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	t.decomposeTimestamp(f, ts)

	lat, err := roundedFloats(f, t.cfg.LatKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	lon, err := roundedFloats(f, t.cfg.LonKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := f.AddFloats("latitude", lat); err != nil {
		return nil, err
	}
	if err := f.AddFloats("longitude", lon); err != nil {
		return nil, err
	}

	groups, err := features.GroupOrder(f, t.cfg.UserKey, t.cfg.TimestampKey)
	if err != nil {
		return nil, err
	}
	if err := t.movementFeatures(f, ts, lat, lon, groups); err != nil {
		return nil, err
	}
	if err := t.amountRatios(f); err != nil {
		return nil, err
	}
	if err := t.countryFlags(f); err != nil {
		return nil, err
	}
	if err := t.builder.Transform(f); err != nil {
		return nil, err
	}

	// Each user's first transaction has no history behind any of the
	// derived columns; keeping those rows would teach the model that
	// missingness itself separates the classes.
	keep := make([]bool, f.NumRows())
	for i := range keep {
		keep[i] = true
	}
	for _, idx := range groups {
		keep[idx[0]] = false
	}
	out := f.Filter(keep)

	t.log.Info("transform stage complete",
		zap.Int("rows_in", raw.NumRows()),
		zap.Int("rows_out", out.NumRows()),
		zap.Int("columns", out.NumCols()),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// decomposeTimestamp adds the calendar-derived columns.
func (t *Transformer) decomposeTimestamp(f *frame.Frame, ts []time.Time) {
	n := len(ts)
	monthEnd := make([]string, n)
	date := make([]string, n)
	year := make([]string, n)
	hour := make([]int64, n)
	partOfDay := make([]string, n)
	for i, v := range ts {
		eom := time.Date(v.Year(), v.Month()+1, 0, 0, 0, 0, 0, v.Location())
		monthEnd[i] = eom.Format("2006-01-02")
		date[i] = v.Format("02-01-2006")
		year[i] = v.Format("2006")
		hour[i] = int64(v.Hour())
		partOfDay[i] = geo.PartOfDay(v.Hour())
	}
	_ = f.AddStrings("month_year_eom", monthEnd)
	_ = f.AddStrings("date", date)
	_ = f.AddStrings("year", year)
	_ = f.AddInts("hour", hour)
	_ = f.AddStrings("part_of_day", partOfDay)
}

// movementFeatures shifts each user's previous point and derives the
// elapsed time, distance and clipped speed since it.
func (t *Transformer) movementFeatures(f *frame.Frame, ts []time.Time, lat, lon []float64, groups [][]int) error {
	n := f.NumRows()
	timeDiff := nanSlice(n)
	latPrev := nanSlice(n)
	lonPrev := nanSlice(n)
	timePrev := &frame.Column{
		Name:  "time_prev",
		Type:  frame.Time,
		Times: make([]time.Time, n),
		Valid: make([]bool, n),
	}

	for _, idx := range groups {
		for i, row := range idx {
			if i == 0 {
				continue
			}
			prev := idx[i-1]
			timeDiff[row] = round2(ts[row].Sub(ts[prev]).Hours())
			latPrev[row] = lat[prev]
			lonPrev[row] = lon[prev]
			timePrev.Times[row] = ts[prev]
			timePrev.Valid[row] = true
		}
	}

	dist := geo.HaversineBatch(latPrev, lonPrev, lat, lon)
	speed := make([]float64, n)
	for i := range speed {
		switch {
		case math.IsNaN(dist[i]) || math.IsNaN(timeDiff[i]) || timeDiff[i] == 0:
			speed[i] = math.NaN()
		default:
			speed[i] = math.Min(dist[i]/timeDiff[i], maxSpeedKmph)
		}
	}

	if err := f.AddFloats("time_diff_hours", timeDiff); err != nil {
		return err
	}
	if err := f.AddFloats("lat_prev", latPrev); err != nil {
		return err
	}
	if err := f.AddFloats("lon_prev", lonPrev); err != nil {
		return err
	}
	if err := f.AddColumn(timePrev); err != nil {
		return err
	}
	if err := f.AddFloats("distance_km", dist); err != nil {
		return err
	}
	return f.AddFloats("speed_kmph", speed)
}

// amountRatios normalizes the transaction amount against the user's
// monetary baselines. A zero or missing baseline yields a missing ratio.
func (t *Transformer) amountRatios(f *frame.Frame) error {
	amount, err := f.Numeric(t.cfg.AmountKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	ratios := []struct {
		name     string
		baseline string
	}{
		{"amount_over_avg_amount", "avg_transaction_amount"},
		{"amount_over_monthly_installments", "sum_of_monthly_installments"},
		{"amount_over_monthly_expenses", "sum_of_monthly_expenses"},
	}
	for _, r := range ratios {
		name, baseline := r.name, r.baseline
		base, err := f.Numeric(baseline)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSchema, err)
		}
		out := make([]float64, len(amount))
		for i := range out {
			if base[i] == 0 {
				out[i] = math.NaN()
				continue
			}
			out[i] = amount[i] / base[i]
		}
		if err := f.AddFloats(name, out); err != nil {
			return err
		}
	}
	return nil
}

// countryFlags adds the user/merchant/transaction country comparisons.
func (t *Transformer) countryFlags(f *frame.Frame) error {
	users, err := f.Column("country_users")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	merchant, err := f.Column("country_merchant")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	txn, err := f.Column("transaction_country")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}

	n := f.NumRows()
	userMatch := make([]bool, n)
	merchantMatch := make([]bool, n)
	same := make([]int64, n)
	for i := 0; i < n; i++ {
		userMatch[i] = bothEqual(users, txn, i)
		merchantMatch[i] = bothEqual(merchant, txn, i)
		if bothEqual(merchant, users, i) {
			same[i] = 1
		}
	}
	if err := f.AddBools("country_user_match", userMatch); err != nil {
		return err
	}
	if err := f.AddBools("country_merchant_match", merchantMatch); err != nil {
		return err
	}
	return f.AddInts("countries_same", same)
}

// bothEqual compares two columns at a row; a missing value never matches.
func bothEqual(a, b *frame.Column, i int) bool {
	if !a.IsValid(i) || !b.IsValid(i) {
		return false
	}
	return a.KeyAt(i) == b.KeyAt(i)
}

// roundedFloats reads a numeric column rounded to two decimals.
func roundedFloats(f *frame.Frame, name string) ([]float64, error) {
	vals, err := f.Numeric(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = round2(v)
	}
	return out, nil
}

func round2(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Round(v*100) / 100
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
