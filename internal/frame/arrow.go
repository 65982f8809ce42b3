package frame

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// ToRecord converts the frame to an Arrow record. The caller owns the
// returned record and must Release it.
func (f *Frame) ToRecord(alloc memory.Allocator) (arrow.Record, error) {
	if alloc == nil {
		alloc = memory.NewGoAllocator()
	}
	fields := make([]arrow.Field, len(f.cols))
	for i, c := range f.cols {
		var dt arrow.DataType
		switch c.Type {
		case Float64:
			dt = arrow.PrimitiveTypes.Float64
		case Int64:
			dt = arrow.PrimitiveTypes.Int64
		case String:
			dt = arrow.BinaryTypes.String
		case Bool:
			dt = arrow.FixedWidthTypes.Boolean
		case Time:
			dt = timestampType
		default:
			return nil, fmt.Errorf("frame: unsupported column type %s", c.Type)
		}
		fields[i] = arrow.Field{Name: c.Name, Type: dt, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(alloc, schema)
	defer builder.Release()

	for i, c := range f.cols {
		switch c.Type {
		case Float64:
			b := builder.Field(i).(*array.Float64Builder)
			for _, v := range c.Float {
				if math.IsNaN(v) {
					b.AppendNull()
				} else {
					b.Append(v)
				}
			}
		case Int64:
			b := builder.Field(i).(*array.Int64Builder)
			for j, v := range c.Int {
				if !c.IsValid(j) {
					b.AppendNull()
				} else {
					b.Append(v)
				}
			}
		case String:
			b := builder.Field(i).(*array.StringBuilder)
			for j, v := range c.Str {
				if !c.IsValid(j) {
					b.AppendNull()
				} else {
					b.Append(v)
				}
			}
		case Bool:
			b := builder.Field(i).(*array.BooleanBuilder)
			for j, v := range c.Bools {
				if !c.IsValid(j) {
					b.AppendNull()
				} else {
					b.Append(v)
				}
			}
		case Time:
			b := builder.Field(i).(*array.TimestampBuilder)
			for j, v := range c.Times {
				if !c.IsValid(j) {
					b.AppendNull()
				} else {
					b.Append(arrow.Timestamp(v.UTC().UnixMicro()))
				}
			}
		}
	}

	return builder.NewRecord(), nil
}

// FromRecord converts an Arrow record into a frame.
func FromRecord(rec arrow.Record) (*Frame, error) {
	f := New(int(rec.NumRows()))
	for i, field := range rec.Schema().Fields() {
		col, err := columnFromArray(field.Name, rec.Column(i))
		if err != nil {
			return nil, err
		}
		if err := f.AddColumn(col); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func columnFromArray(name string, arr arrow.Array) (*Column, error) {
	n := arr.Len()
	switch a := arr.(type) {
	case *array.Float64:
		vals := make([]float64, n)
		for i := 0; i < n; i++ {
			if a.IsNull(i) {
				vals[i] = math.NaN()
			} else {
				vals[i] = a.Value(i)
			}
		}
		return &Column{Name: name, Type: Float64, Float: vals}, nil
	case *array.Int64:
		c := &Column{Name: name, Type: Int64, Int: make([]int64, n)}
		for i := 0; i < n; i++ {
			if a.IsNull(i) {
				c.setInvalid(i)
			} else {
				c.Int[i] = a.Value(i)
			}
		}
		return c, nil
	case *array.String:
		c := &Column{Name: name, Type: String, Str: make([]string, n)}
		for i := 0; i < n; i++ {
			if a.IsNull(i) {
				c.setInvalid(i)
			} else {
				c.Str[i] = a.Value(i)
			}
		}
		return c, nil
	case *array.Boolean:
		c := &Column{Name: name, Type: Bool, Bools: make([]bool, n)}
		for i := 0; i < n; i++ {
			if a.IsNull(i) {
				c.setInvalid(i)
			} else {
				c.Bools[i] = a.Value(i)
			}
		}
		return c, nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		c := &Column{Name: name, Type: Time, Times: make([]time.Time, n)}
		for i := 0; i < n; i++ {
			if a.IsNull(i) {
				c.setInvalid(i)
			} else {
				c.Times[i] = a.Value(i).ToTime(unit).UTC()
			}
		}
		return c, nil
	default:
		return nil, fmt.Errorf("frame: unsupported Arrow column type %s for %q", arr.DataType(), name)
	}
}

// WriteIPC persists the frame as an Arrow IPC file, creating parent
// directories as needed.
func (f *Frame) WriteIPC(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	alloc := memory.NewGoAllocator()
	rec, err := f.ToRecord(alloc)
	if err != nil {
		return err
	}
	defer rec.Release()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer file.Close()

	writer, err := ipc.NewFileWriter(file, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(alloc))
	if err != nil {
		return fmt.Errorf("creating IPC writer for %s: %w", path, err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("writing record to %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing IPC writer for %s: %w", path, err)
	}
	return nil
}

// ReadIPC loads a frame from an Arrow IPC file. Files holding multiple
// record batches are concatenated in order.
func ReadIPC(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	reader, err := ipc.NewFileReader(file, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("creating IPC reader for %s: %w", path, err)
	}
	defer reader.Close()

	var frames []*Frame
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record from %s: %w", path, err)
		}
		f, err := FromRecord(rec)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	switch len(frames) {
	case 0:
		return nil, fmt.Errorf("frame: %s contains no record batches", path)
	case 1:
		return frames[0], nil
	}
	return concat(frames)
}

// concat stacks frames with identical schemas vertically.
func concat(frames []*Frame) (*Frame, error) {
	total := 0
	for _, f := range frames {
		total += f.NumRows()
	}
	out := New(total)
	first := frames[0]
	for _, name := range first.ColumnNames() {
		var parts []*Column
		for _, f := range frames {
			c, err := f.Column(name)
			if err != nil {
				return nil, fmt.Errorf("frame: inconsistent schemas while concatenating: %w", err)
			}
			parts = append(parts, c)
		}
		merged := &Column{Name: name, Type: parts[0].Type}
		for _, p := range parts {
			if p.Type != merged.Type {
				return nil, fmt.Errorf("frame: column %q changes type across batches", name)
			}
			merged.Float = append(merged.Float, p.Float...)
			merged.Int = append(merged.Int, p.Int...)
			merged.Str = append(merged.Str, p.Str...)
			merged.Bools = append(merged.Bools, p.Bools...)
			merged.Times = append(merged.Times, p.Times...)
		}
		if merged.Type != Float64 {
			offset := 0
			for _, p := range parts {
				for i := 0; i < p.Len(); i++ {
					if !p.IsValid(i) {
						merged.setInvalid(offset + i)
					}
				}
				offset += p.Len()
			}
		}
		_ = out.AddColumn(merged)
	}
	return out, nil
}
