package frame

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"
)

// timeLayouts are tried in order when inferring timestamp columns.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ReadCSV loads a CSV file with a header row into a frame. Column types
// are inferred per column: int64, float64, bool, timestamp, then string.
// Empty cells become missing values.
func ReadCSV(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("frame: %s is empty", path)
	}
	header := rows[0]
	data := rows[1:]

	f := New(len(data))
	for j, name := range header {
		cells := make([]string, len(data))
		for i, row := range data {
			if j < len(row) {
				cells[i] = row[j]
			}
		}
		if err := f.AddColumn(inferColumn(name, cells)); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// inferColumn picks the narrowest type every non-empty cell parses as.
func inferColumn(name string, cells []string) *Column {
	isInt, isFloat, isBool := true, true, true
	isTime := true
	layout := ""
	nonEmpty := 0
	for _, s := range cells {
		if s == "" {
			continue
		}
		nonEmpty++
		if isInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if s != "true" && s != "false" && s != "True" && s != "False" {
				isBool = false
			}
		}
		if isTime {
			if layout == "" {
				for _, l := range timeLayouts {
					if _, err := time.Parse(l, s); err == nil {
						layout = l
						break
					}
				}
				if layout == "" {
					isTime = false
				}
			} else if _, err := time.Parse(layout, s); err != nil {
				isTime = false
			}
		}
	}
	if nonEmpty == 0 {
		isInt, isFloat, isBool, isTime = false, false, false, false
	}

	switch {
	case isInt:
		c := &Column{Name: name, Type: Int64, Int: make([]int64, len(cells))}
		for i, s := range cells {
			if s == "" {
				c.setInvalid(i)
				continue
			}
			c.Int[i], _ = strconv.ParseInt(s, 10, 64)
		}
		return c
	case isFloat:
		c := &Column{Name: name, Type: Float64, Float: make([]float64, len(cells))}
		for i, s := range cells {
			if s == "" {
				c.Float[i] = math.NaN()
				continue
			}
			c.Float[i], _ = strconv.ParseFloat(s, 64)
		}
		return c
	case isBool:
		c := &Column{Name: name, Type: Bool, Bools: make([]bool, len(cells))}
		for i, s := range cells {
			if s == "" {
				c.setInvalid(i)
				continue
			}
			c.Bools[i] = s == "true" || s == "True"
		}
		return c
	case isTime:
		c := &Column{Name: name, Type: Time, Times: make([]time.Time, len(cells))}
		for i, s := range cells {
			if s == "" {
				c.setInvalid(i)
				continue
			}
			t, _ := time.Parse(layout, s)
			c.Times[i] = t.UTC()
		}
		return c
	}
	c := &Column{Name: name, Type: String, Str: cells}
	for i, s := range cells {
		if s == "" {
			c.setInvalid(i)
		}
	}
	return c
}

// ReadNDJSON loads newline-delimited JSON records into a frame. Nested
// objects are flattened one level with an underscore separator, so a
// transaction's location {lat, long} becomes location_lat and
// location_long. A malformed line is fatal.
func ReadNDJSON(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", path, line, err)
		}
		records = append(records, flatten(rec))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	keys := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			keys[k] = true
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	f := New(len(records))
	for _, name := range names {
		cells := make([]string, len(records))
		for i, rec := range records {
			cells[i] = cellString(rec[name])
		}
		if err := f.AddColumn(inferColumn(name, cells)); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func flatten(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range nested {
				out[k+"_"+nk] = nv
			}
			continue
		}
		out[k] = v
	}
	return out
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// LeftJoin joins other onto f by the given key column, keeping every row
// of f. When a key has no match the joined columns are missing for that
// row; duplicate keys in other keep the first occurrence. Column names
// already present in f are not overwritten.
func (f *Frame) LeftJoin(other *Frame, on string) (*Frame, error) {
	leftKey, err := f.Column(on)
	if err != nil {
		return nil, fmt.Errorf("left join on %q: %w", on, err)
	}
	rightKey, err := other.Column(on)
	if err != nil {
		return nil, fmt.Errorf("left join on %q: %w", on, err)
	}

	lookup := make(map[string]int, other.NumRows())
	for i := 0; i < other.NumRows(); i++ {
		if !rightKey.IsValid(i) {
			continue
		}
		k := rightKey.KeyAt(i)
		if _, seen := lookup[k]; !seen {
			lookup[k] = i
		}
	}

	out := f.Clone()
	for _, name := range other.ColumnNames() {
		if name == on || out.Has(name) {
			continue
		}
		src, _ := other.Column(name)
		dst := &Column{Name: name, Type: src.Type}
		switch src.Type {
		case Float64:
			dst.Float = make([]float64, f.NumRows())
		case Int64:
			dst.Int = make([]int64, f.NumRows())
		case String:
			dst.Str = make([]string, f.NumRows())
		case Bool:
			dst.Bools = make([]bool, f.NumRows())
		case Time:
			dst.Times = make([]time.Time, f.NumRows())
		}
		for i := 0; i < f.NumRows(); i++ {
			var j int
			ok := false
			if leftKey.IsValid(i) {
				j, ok = lookup[leftKey.KeyAt(i)]
			}
			if !ok || !src.IsValid(j) {
				dst.setInvalid(i)
				continue
			}
			switch src.Type {
			case Float64:
				dst.Float[i] = src.Float[j]
			case Int64:
				dst.Int[i] = src.Int[j]
			case String:
				dst.Str[i] = src.Str[j]
			case Bool:
				dst.Bools[i] = src.Bools[j]
			case Time:
				dst.Times[i] = src.Times[j]
			}
		}
		if err := out.AddColumn(dst); err != nil {
			return nil, err
		}
	}
	return out, nil
}
