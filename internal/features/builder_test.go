package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlab/pipeline/internal/frame"
)

func ts(day, hour, minute int) time.Time {
	return time.Date(2025, 1, day, hour, minute, 0, 0, time.UTC)
}

// fixture builds five transactions: three for user 1, two for user 2,
// split across merchants a and b.
func fixture(t *testing.T) *frame.Frame {
	t.Helper()
	f := frame.New(5)
	require.NoError(t, f.AddInts("user_id", []int64{1, 1, 1, 2, 2}))
	require.NoError(t, f.AddStrings("merchant_id", []string{"a", "a", "b", "b", "b"}))
	require.NoError(t, f.AddTimes("timestamp", []time.Time{
		ts(1, 10, 0), ts(1, 11, 0), ts(2, 9, 0), ts(1, 12, 0), ts(3, 15, 0),
	}))
	require.NoError(t, f.AddFloats("amount", []float64{10, 20, 30, 100, 105}))
	require.NoError(t, f.AddInts("is_fraud", []int64{0, 1, 0, 0, 1}))
	return f
}

func newTestBuilder(t *testing.T, windows []int, tolerances []float64) *Builder {
	t.Helper()
	b, err := NewBuilder(Config{
		EntityKey:   "user_id",
		MerchantKey: "merchant_id",
		OrderKey:    "timestamp",
		TargetKey:   "is_fraud",
		AmountKey:   "amount",
		Windows:     windows,
		Tolerances:  tolerances,
	})
	require.NoError(t, err)
	return b
}

func TestNewBuilderValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing entity key", Config{OrderKey: "t", TargetKey: "y", AmountKey: "a", Windows: []int{2}}},
		{"missing order key", Config{EntityKey: "u", TargetKey: "y", AmountKey: "a", Windows: []int{2}}},
		{"missing target key", Config{EntityKey: "u", OrderKey: "t", AmountKey: "a", Windows: []int{2}}},
		{"missing amount key", Config{EntityKey: "u", OrderKey: "t", TargetKey: "y", Windows: []int{2}}},
		{"no windows", Config{EntityKey: "u", OrderKey: "t", TargetKey: "y", AmountKey: "a"}},
		{"zero window", Config{EntityKey: "u", OrderKey: "t", TargetKey: "y", AmountKey: "a", Windows: []int{0}}},
		{"negative tolerance", Config{EntityKey: "u", OrderKey: "t", TargetKey: "y", AmountKey: "a", Windows: []int{2}, Tolerances: []float64{-1}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewBuilder(c.cfg)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestGroupOrderSortsWithinEntity(t *testing.T) {
	f := frame.New(4)
	require.NoError(t, f.AddInts("user_id", []int64{7, 7, 9, 7}))
	require.NoError(t, f.AddTimes("timestamp", []time.Time{
		ts(3, 0, 0), ts(1, 0, 0), ts(2, 0, 0), ts(2, 0, 0),
	}))

	groups, err := GroupOrder(f, "user_id", "timestamp")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	// First-appearance entity order, chronological row order.
	assert.Equal(t, []int{1, 3, 0}, groups[0])
	assert.Equal(t, []int{2}, groups[1])
}

func TestGroupOrderSkipsMissingEntityKeys(t *testing.T) {
	f := frame.New(4)
	require.NoError(t, f.AddColumn(&frame.Column{
		Name:  "user_id",
		Type:  frame.Int64,
		Int:   []int64{7, 0, 7, 8},
		Valid: []bool{true, false, true, true},
	}))
	require.NoError(t, f.AddTimes("timestamp", []time.Time{
		ts(1, 0, 0), ts(2, 0, 0), ts(3, 0, 0), ts(4, 0, 0),
	}))

	groups, err := GroupOrder(f, "user_id", "timestamp")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	// The unidentified row joins no history, not a shared blank one.
	assert.Equal(t, []int{0, 2}, groups[0])
	assert.Equal(t, []int{3}, groups[1])
}

func TestTransformLeavesMissingEntityRowsBlank(t *testing.T) {
	f := frame.New(3)
	require.NoError(t, f.AddColumn(&frame.Column{
		Name:  "user_id",
		Type:  frame.Int64,
		Int:   []int64{1, 0, 1},
		Valid: []bool{true, false, true},
	}))
	require.NoError(t, f.AddStrings("merchant_id", []string{"a", "a", "a"}))
	require.NoError(t, f.AddTimes("timestamp", []time.Time{
		ts(1, 10, 0), ts(1, 11, 0), ts(1, 12, 0),
	}))
	require.NoError(t, f.AddFloats("amount", []float64{10, 20, 30}))
	require.NoError(t, f.AddInts("is_fraud", []int64{0, 0, 0}))

	b := newTestBuilder(t, []int{2}, nil)
	require.NoError(t, b.Transform(f))

	count, err := f.Floats("count_last_2")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(count[1]))
	// User 1's history carries straight past the unidentified row.
	assert.Equal(t, 1.0, count[2])
}

func TestRollingWindowStats(t *testing.T) {
	f := fixture(t)
	b := newTestBuilder(t, []int{2}, nil)
	require.NoError(t, b.Transform(f))

	count, err := f.Floats("count_last_2")
	require.NoError(t, err)
	sum, err := f.Floats("sum_last_2")
	require.NoError(t, err)
	mean, err := f.Floats("mean_last_2")
	require.NoError(t, err)

	// User 1 amounts are 10, 20, 30 in order; the first row has no
	// history and stays missing.
	assert.True(t, math.IsNaN(count[0]))
	assert.True(t, math.IsNaN(sum[0]))
	assert.True(t, math.IsNaN(mean[0]))
	assert.Equal(t, 1.0, count[1])
	assert.Equal(t, 10.0, sum[1])
	assert.Equal(t, 10.0, mean[1])
	assert.Equal(t, 2.0, count[2])
	assert.Equal(t, 30.0, sum[2])
	assert.Equal(t, 15.0, mean[2])

	// User 2 starts its own history.
	assert.True(t, math.IsNaN(count[3]))
	assert.Equal(t, 1.0, count[4])
	assert.Equal(t, 100.0, sum[4])
}

func TestUserGoodRate(t *testing.T) {
	f := fixture(t)
	b := newTestBuilder(t, []int{2}, nil)
	require.NoError(t, b.Transform(f))

	rate, err := f.Floats("user_good_rate")
	require.NoError(t, err)

	// User 1 fraud flags are 0, 1, 0 in order.
	assert.True(t, math.IsNaN(rate[0]))
	assert.Equal(t, 1.0, rate[1])
	assert.Equal(t, 0.5, rate[2])
}

func TestMerchantBadRate(t *testing.T) {
	f := fixture(t)
	b := newTestBuilder(t, []int{2}, nil)
	require.NoError(t, b.Transform(f))

	rate, err := f.Floats("merchant_bad_rate")
	require.NoError(t, err)

	// Merchant a sees flags 0 then 1 in order.
	assert.True(t, math.IsNaN(rate[0]))
	assert.Equal(t, 0.0, rate[1])
	// Merchant b in chronological order: rows 3, 2, 4 with flags 0, 0, 1.
	assert.True(t, math.IsNaN(rate[3]))
	assert.Equal(t, 0.0, rate[2])
	assert.Equal(t, 0.0, rate[4])
}

func TestWithinPercentFlags(t *testing.T) {
	f := fixture(t)
	b := newTestBuilder(t, []int{2}, []float64{10, 5})
	require.NoError(t, b.Transform(f))

	within10, err := f.Floats("within_10pct")
	require.NoError(t, err)
	within5, err := f.Floats("within_5pct")
	require.NoError(t, err)

	// User 2's second amount 105 is within 10% of 100 but on the edge
	// of 5%, which is inclusive.
	assert.True(t, math.IsNaN(within10[3]))
	assert.Equal(t, 1.0, within10[4])
	assert.Equal(t, 1.0, within5[4])

	// User 1's jumps 10 -> 20 -> 30 are far outside both bands.
	assert.Equal(t, 0.0, within10[1])
	assert.Equal(t, 0.0, within10[2])
}

func TestTransformPreservesRowOrder(t *testing.T) {
	f := fixture(t)
	b := newTestBuilder(t, []int{2}, nil)
	require.NoError(t, b.Transform(f))

	users, err := f.Column("user_id")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 1, 2, 2}, users.Int)
}
