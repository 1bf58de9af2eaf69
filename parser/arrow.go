package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/jrhy/miso"
)

// Arrow parses an Arrow IPC stream.
type Arrow struct {
	Options
}

// Parse implements miso.Parser.
func (p Arrow) Parse(payload []byte) (*miso.Built, error) {
	rdr, err := ipc.NewReader(bytes.NewReader(payload), ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, invalid("arrow: %w", err)
	}
	defer rdr.Release()
	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, invalid("arrow: %w", err)
	}
	table := array.NewTableFromRecords(rdr.Schema(), recs)
	defer table.Release()
	specs, err := tableSpecs(table)
	if err != nil {
		return nil, err
	}
	p.Options.apply(specs)
	return &miso.Built{Columns: specs}, nil
}

// tableSpecs converts every column of an Arrow table, reading it record by record.
func tableSpecs(table arrow.Table) ([]miso.ColumnSpec, error) {
	schema := table.Schema()
	specs := make([]miso.ColumnSpec, schema.NumFields())
	for i, field := range schema.Fields() {
		specs[i] = miso.ColumnSpec{
			Name: field.Name,
			Type: columnType(field.Type),
			Data: make([]interface{}, 0, table.NumRows()),
		}
	}
	tr := array.NewTableReader(table, table.NumRows())
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		for colIdx, col := range rec.Columns() {
			for rowIdx := 0; rowIdx < col.Len(); rowIdx++ {
				specs[colIdx].Data = append(specs[colIdx].Data, typedValue(col, rowIdx))
			}
		}
	}
	if err := tr.Err(); err != nil {
		return nil, invalid("arrow: reading table: %w", err)
	}
	return specs, nil
}

func columnType(dt arrow.DataType) miso.ColumnType {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128:
		return miso.Number
	case arrow.STRING, arrow.LARGE_STRING, arrow.BINARY:
		return miso.String
	case arrow.BOOL:
		return miso.Boolean
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return miso.Time
	}
	return miso.Mixed
}

// typedValue returns the Go value of one cell, nil for nulls.
func typedValue(col arrow.Array, pos int) interface{} {
	if col.IsNull(pos) {
		return nil
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(pos)
	case *array.LargeString:
		return c.Value(pos)
	case *array.Binary:
		return string(c.Value(pos))
	case *array.Boolean:
		return c.Value(pos)
	case *array.Int8:
		return c.Value(pos)
	case *array.Int16:
		return c.Value(pos)
	case *array.Int32:
		return c.Value(pos)
	case *array.Int64:
		return c.Value(pos)
	case *array.Uint8:
		return c.Value(pos)
	case *array.Uint16:
		return c.Value(pos)
	case *array.Uint32:
		return c.Value(pos)
	case *array.Uint64:
		return c.Value(pos)
	case *array.Float16:
		return c.Value(pos).Float32()
	case *array.Float32:
		return c.Value(pos)
	case *array.Float64:
		return c.Value(pos)
	case *array.Decimal128:
		dt := c.DataType().(*arrow.Decimal128Type)
		return c.Value(pos).ToFloat64(dt.Scale)
	case *array.Date32:
		return c.Value(pos).ToTime()
	case *array.Date64:
		return c.Value(pos).ToTime()
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(pos).ToTime(unit)
	}
	return col.ValueStr(pos)
}

func newArrow(cfg map[string]string) (miso.Parser, error) {
	o, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("arrow: %w", err)
	}
	return Arrow{Options: o}, nil
}
