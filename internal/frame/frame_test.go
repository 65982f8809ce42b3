package frame

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddColumnReplacesSameName(t *testing.T) {
	f := New(3)
	require.NoError(t, f.AddFloats("a", []float64{1, 2, 3}))
	require.NoError(t, f.AddFloats("a", []float64{4, 5, 6}))

	assert.Equal(t, 1, f.NumCols())
	vals, err := f.Floats("a")
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6}, vals)
}

func TestAddColumnLengthMismatch(t *testing.T) {
	f := New(3)
	err := f.AddFloats("a", []float64{1, 2})
	assert.Error(t, err)
}

func TestColumnNotFound(t *testing.T) {
	f := New(1)
	_, err := f.Column("missing")
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestDropIgnoresMissing(t *testing.T) {
	f := New(2)
	require.NoError(t, f.AddFloats("keep", []float64{1, 2}))
	require.NoError(t, f.AddFloats("gone", []float64{3, 4}))

	f.Drop("gone", "never_existed")

	assert.Equal(t, []string{"keep"}, f.ColumnNames())
	assert.True(t, f.Has("keep"))
	assert.False(t, f.Has("gone"))
}

func TestRename(t *testing.T) {
	f := New(1)
	require.NoError(t, f.AddStrings("country", []string{"NL"}))
	require.NoError(t, f.AddStrings("city", []string{"Amsterdam"}))

	require.NoError(t, f.Rename("country", "country_users"))
	assert.False(t, f.Has("country"))
	vals, err := f.Strings("country_users")
	require.NoError(t, err)
	assert.Equal(t, []string{"NL"}, vals)

	assert.Error(t, f.Rename("missing", "x"))
	assert.Error(t, f.Rename("country_users", "city"))
}

func TestFilterAndTake(t *testing.T) {
	f := New(4)
	require.NoError(t, f.AddInts("id", []int64{10, 11, 12, 13}))
	require.NoError(t, f.AddFloats("v", []float64{1, math.NaN(), 3, 4}))

	got := f.Filter([]bool{true, false, true, false})
	require.Equal(t, 2, got.NumRows())
	c, err := got.Column("id")
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 12}, c.Int)

	reversed := f.Take([]int{3, 2, 1, 0})
	c, err = reversed.Column("id")
	require.NoError(t, err)
	assert.Equal(t, []int64{13, 12, 11, 10}, c.Int)
}

func TestCloneIsDeep(t *testing.T) {
	f := New(2)
	require.NoError(t, f.AddFloats("v", []float64{1, 2}))

	clone := f.Clone()
	vals, err := clone.Floats("v")
	require.NoError(t, err)
	vals[0] = 99

	orig, err := f.Floats("v")
	require.NoError(t, err)
	assert.Equal(t, 1.0, orig[0])
}

func TestValidityForNonFloatColumns(t *testing.T) {
	c := &Column{Name: "s", Type: String, Str: []string{"a", "", "c"}}
	c.setInvalid(1)

	assert.True(t, c.IsValid(0))
	assert.False(t, c.IsValid(1))
	assert.True(t, c.IsValid(2))
	assert.Equal(t, "", c.KeyAt(1))
}

func TestMatrix(t *testing.T) {
	f := New(2)
	require.NoError(t, f.AddFloats("f", []float64{1.5, math.NaN()}))
	require.NoError(t, f.AddInts("i", []int64{7, 8}))
	require.NoError(t, f.AddBools("b", []bool{true, false}))

	rows, names, err := f.Matrix()
	require.NoError(t, err)
	assert.Equal(t, []string{"f", "i", "b"}, names)
	assert.Equal(t, 1.5, rows[0][0])
	assert.True(t, math.IsNaN(rows[1][0]))
	assert.Equal(t, []float64{7, 8}, []float64{rows[0][1], rows[1][1]})
	assert.Equal(t, 1.0, rows[0][2])
}

func TestNumericWidensIntsAndBools(t *testing.T) {
	f := New(2)
	require.NoError(t, f.AddInts("i", []int64{5, 6}))
	require.NoError(t, f.AddBools("b", []bool{true, false}))
	require.NoError(t, f.AddStrings("s", []string{"a", "b"}))

	ints, err := f.Numeric("i")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, ints)

	bools, err := f.Numeric("b")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, bools)

	_, err = f.Numeric("s")
	assert.Error(t, err)
}

func TestMatrixRejectsNonNumeric(t *testing.T) {
	f := New(1)
	require.NoError(t, f.AddStrings("s", []string{"x"}))
	_, _, err := f.Matrix()
	assert.Error(t, err)
}

func TestIPCRoundTrip(t *testing.T) {
	f := New(3)
	require.NoError(t, f.AddFloats("amount", []float64{10.5, math.NaN(), 30}))
	require.NoError(t, f.AddInts("user_id", []int64{1, 2, 3}))
	require.NoError(t, f.AddStrings("merchant_id", []string{"a", "b", ""}))
	require.NoError(t, f.AddBools("flag", []bool{true, false, true}))
	require.NoError(t, f.AddTimes("timestamp", []time.Time{
		time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC),
	}))
	mc, err := f.Column("merchant_id")
	require.NoError(t, err)
	mc.setInvalid(2)

	path := t.TempDir() + "/sub/frame.arrow"
	require.NoError(t, f.WriteIPC(path))

	got, err := ReadIPC(path)
	require.NoError(t, err)
	require.Equal(t, f.NumRows(), got.NumRows())
	assert.Equal(t, f.ColumnNames(), got.ColumnNames())

	amount, err := got.Floats("amount")
	require.NoError(t, err)
	assert.Equal(t, 10.5, amount[0])
	assert.True(t, math.IsNaN(amount[1]))

	merchants, err := got.Column("merchant_id")
	require.NoError(t, err)
	assert.False(t, merchants.IsValid(2))
	assert.Equal(t, "b", merchants.Str[1])

	ts, err := got.Times("timestamp")
	require.NoError(t, err)
	assert.True(t, ts[2].Equal(time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)))
}
