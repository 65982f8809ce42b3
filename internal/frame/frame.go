// Package frame provides a column-oriented table used by every pipeline stage.
//
// Missing values are represented as NaN in float columns and as explicit
// validity flags elsewhere, so that "no prior history" never collapses to
// zero. Frames round-trip through Arrow IPC files for persistence.
package frame

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrColumnNotFound is returned when a named column is absent from a frame.
var ErrColumnNotFound = errors.New("frame: column not found")

// ColumnType enumerates the supported column types.
type ColumnType int

const (
	Float64 ColumnType = iota
	Int64
	String
	Bool
	Time
)

func (t ColumnType) String() string {
	switch t {
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case String:
		return "string"
	case Bool:
		return "bool"
	case Time:
		return "time"
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// Column holds one named, typed vector of values. Exactly one of the value
// slices is populated, matching Type. Valid marks per-row presence for
// non-float columns; a nil Valid means every row is present. Float columns
// use NaN for missing values and leave Valid nil.
type Column struct {
	Name  string
	Type  ColumnType
	Float []float64
	Int   []int64
	Str   []string
	Bools []bool
	Times []time.Time
	Valid []bool
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	switch c.Type {
	case Float64:
		return len(c.Float)
	case Int64:
		return len(c.Int)
	case String:
		return len(c.Str)
	case Bool:
		return len(c.Bools)
	case Time:
		return len(c.Times)
	}
	return 0
}

// IsValid reports whether row i holds a value.
func (c *Column) IsValid(i int) bool {
	if c.Type == Float64 {
		return !math.IsNaN(c.Float[i])
	}
	if c.Valid == nil {
		return true
	}
	return c.Valid[i]
}

// setInvalid marks row i missing, allocating the validity slice on demand.
func (c *Column) setInvalid(i int) {
	if c.Type == Float64 {
		c.Float[i] = math.NaN()
		return
	}
	if c.Valid == nil {
		c.Valid = make([]bool, c.Len())
		for j := range c.Valid {
			c.Valid[j] = true
		}
	}
	c.Valid[i] = false
}

// take returns a copy of the column restricted to the given row indices.
func (c *Column) take(idx []int) *Column {
	out := &Column{Name: c.Name, Type: c.Type}
	if c.Valid != nil {
		out.Valid = make([]bool, len(idx))
		for j, i := range idx {
			out.Valid[j] = c.Valid[i]
		}
	}
	switch c.Type {
	case Float64:
		out.Float = make([]float64, len(idx))
		for j, i := range idx {
			out.Float[j] = c.Float[i]
		}
	case Int64:
		out.Int = make([]int64, len(idx))
		for j, i := range idx {
			out.Int[j] = c.Int[i]
		}
	case String:
		out.Str = make([]string, len(idx))
		for j, i := range idx {
			out.Str[j] = c.Str[i]
		}
	case Bool:
		out.Bools = make([]bool, len(idx))
		for j, i := range idx {
			out.Bools[j] = c.Bools[i]
		}
	case Time:
		out.Times = make([]time.Time, len(idx))
		for j, i := range idx {
			out.Times[j] = c.Times[i]
		}
	}
	return out
}

// clone returns a deep copy of the column.
func (c *Column) clone() *Column {
	idx := make([]int, c.Len())
	for i := range idx {
		idx[i] = i
	}
	return c.take(idx)
}

// KeyAt renders row i as a grouping key. Missing rows map to the empty
// string; callers that must distinguish missing keys check IsValid first.
func (c *Column) KeyAt(i int) string {
	if !c.IsValid(i) {
		return ""
	}
	switch c.Type {
	case Float64:
		return fmt.Sprintf("%g", c.Float[i])
	case Int64:
		return fmt.Sprintf("%d", c.Int[i])
	case String:
		return c.Str[i]
	case Bool:
		return fmt.Sprintf("%t", c.Bools[i])
	case Time:
		return c.Times[i].Format(time.RFC3339Nano)
	}
	return ""
}

// Frame is an ordered collection of equally sized columns.
type Frame struct {
	cols  []*Column
	index map[string]int
	nrows int
}

// New returns an empty frame that will hold nrows rows.
func New(nrows int) *Frame {
	return &Frame{index: make(map[string]int), nrows: nrows}
}

// NumRows returns the number of rows.
func (f *Frame) NumRows() int { return f.nrows }

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.cols) }

// ColumnNames returns the column names in schema order.
func (f *Frame) ColumnNames() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Has reports whether the frame contains a column with the given name.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns the named column.
func (f *Frame) Column(name string) (*Column, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return f.cols[i], nil
}

// Floats returns the values of a float column.
func (f *Frame) Floats(name string) ([]float64, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Type != Float64 {
		return nil, fmt.Errorf("frame: column %q is %s, want float64", name, c.Type)
	}
	return c.Float, nil
}

// Numeric returns a column's values as float64, widening int and bool
// columns. Missing values become NaN.
func (f *Frame) Numeric(name string) ([]float64, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	switch c.Type {
	case Float64:
		return c.Float, nil
	case Int64:
		out := make([]float64, c.Len())
		for i, v := range c.Int {
			if !c.IsValid(i) {
				out[i] = math.NaN()
				continue
			}
			out[i] = float64(v)
		}
		return out, nil
	case Bool:
		out := make([]float64, c.Len())
		for i, v := range c.Bools {
			if !c.IsValid(i) {
				out[i] = math.NaN()
				continue
			}
			if v {
				out[i] = 1
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("frame: column %q is %s, not numeric", name, c.Type)
}

// Strings returns the values of a string column.
func (f *Frame) Strings(name string) ([]string, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Type != String {
		return nil, fmt.Errorf("frame: column %q is %s, want string", name, c.Type)
	}
	return c.Str, nil
}

// Times returns the values of a time column.
func (f *Frame) Times(name string) ([]time.Time, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Type != Time {
		return nil, fmt.Errorf("frame: column %q is %s, want time", name, c.Type)
	}
	return c.Times, nil
}

// AddColumn appends a column, replacing any existing column with the same
// name. The column length must match the frame's row count.
func (f *Frame) AddColumn(c *Column) error {
	if c.Len() != f.nrows {
		return fmt.Errorf("frame: column %q has %d rows, frame has %d", c.Name, c.Len(), f.nrows)
	}
	if i, ok := f.index[c.Name]; ok {
		f.cols[i] = c
		return nil
	}
	f.index[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
	return nil
}

// AddFloats appends a float column.
func (f *Frame) AddFloats(name string, vals []float64) error {
	return f.AddColumn(&Column{Name: name, Type: Float64, Float: vals})
}

// AddInts appends an int column.
func (f *Frame) AddInts(name string, vals []int64) error {
	return f.AddColumn(&Column{Name: name, Type: Int64, Int: vals})
}

// AddStrings appends a string column.
func (f *Frame) AddStrings(name string, vals []string) error {
	return f.AddColumn(&Column{Name: name, Type: String, Str: vals})
}

// AddBools appends a bool column.
func (f *Frame) AddBools(name string, vals []bool) error {
	return f.AddColumn(&Column{Name: name, Type: Bool, Bools: vals})
}

// AddTimes appends a time column.
func (f *Frame) AddTimes(name string, vals []time.Time) error {
	return f.AddColumn(&Column{Name: name, Type: Time, Times: vals})
}

// Rename changes a column's name. Renaming onto an existing name is an
// error.
func (f *Frame) Rename(from, to string) error {
	i, ok := f.index[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrColumnNotFound, from)
	}
	if _, taken := f.index[to]; taken {
		return fmt.Errorf("frame: column %q already exists", to)
	}
	f.cols[i].Name = to
	delete(f.index, from)
	f.index[to] = i
	return nil
}

// Drop removes the named columns. Names that are not present are ignored,
// matching the tolerant column-list semantics of the pipeline configuration.
func (f *Frame) Drop(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := f.cols[:0]
	for _, c := range f.cols {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	f.cols = kept
	f.index = make(map[string]int, len(f.cols))
	for i, c := range f.cols {
		f.index[c.Name] = i
	}
}

// Take returns a new frame containing the given rows, in the given order.
// Row identity is positional; callers carrying original row identifiers
// should keep them in a column.
func (f *Frame) Take(idx []int) *Frame {
	out := New(len(idx))
	for _, c := range f.cols {
		_ = out.AddColumn(c.take(idx))
	}
	return out
}

// Filter returns a new frame with only the rows where keep is true.
func (f *Frame) Filter(keep []bool) *Frame {
	idx := make([]int, 0, f.nrows)
	for i, k := range keep {
		if k {
			idx = append(idx, i)
		}
	}
	return f.Take(idx)
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := New(f.nrows)
	for _, c := range f.cols {
		_ = out.AddColumn(c.clone())
	}
	return out
}

// Matrix converts the frame into a row-major numeric matrix plus the
// corresponding feature names. Every column must be numeric (float, int or
// bool); missing values become NaN.
func (f *Frame) Matrix() ([][]float64, []string, error) {
	names := make([]string, 0, len(f.cols))
	for _, c := range f.cols {
		switch c.Type {
		case Float64, Int64, Bool:
			names = append(names, c.Name)
		default:
			return nil, nil, fmt.Errorf("frame: column %q is %s, not numeric", c.Name, c.Type)
		}
	}
	rows := make([][]float64, f.nrows)
	for i := range rows {
		row := make([]float64, 0, len(f.cols))
		for _, c := range f.cols {
			var v float64
			switch {
			case !c.IsValid(i):
				v = math.NaN()
			case c.Type == Float64:
				v = c.Float[i]
			case c.Type == Int64:
				v = float64(c.Int[i])
			case c.Type == Bool:
				if c.Bools[i] {
					v = 1
				}
			}
			row = append(row, v)
		}
		rows[i] = row
	}
	return rows, names, nil
}
