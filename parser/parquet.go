package parser

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/jrhy/miso"
)

// Parquet parses a Parquet file held in memory.
type Parquet struct {
	Options
}

// Parse implements miso.Parser.
func (p Parquet) Parse(payload []byte) (*miso.Built, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(payload), file.WithReadProps(&parquet.ReaderProperties{}))
	if err != nil {
		return nil, invalid("parquet: %w", err)
	}
	defer pf.Close()

	mem := memory.NewGoAllocator()
	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, invalid("parquet: arrow reader: %w", err)
	}
	table, err := arrowReader.ReadTable(context.Background())
	if err != nil {
		return nil, invalid("parquet: read: %w", err)
	}
	defer table.Release()

	specs, err := tableSpecs(table)
	if err != nil {
		return nil, err
	}
	p.Options.apply(specs)
	return &miso.Built{Columns: specs}, nil
}

func newParquet(cfg map[string]string) (miso.Parser, error) {
	o, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	return Parquet{Options: o}, nil
}
