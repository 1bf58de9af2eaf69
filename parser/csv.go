package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jrhy/miso"
)

// CSV parses delimited text whose first record is the header. Empty cells are empty
// values. Types are inferred from the cell text unless given in Options.
type CSV struct {
	Options
	// Comma is the field delimiter; 0 means ','.
	Comma rune
}

// Parse implements miso.Parser.
func (p CSV) Parse(payload []byte) (*miso.Built, error) {
	r := csv.NewReader(bytes.NewReader(payload))
	if p.Comma != 0 {
		r.Comma = p.Comma
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, invalid("csv: %w", err)
	}
	if len(records) == 0 {
		return nil, invalid("csv: no header")
	}
	header := records[0]
	seen := map[string]struct{}{}
	for _, name := range header {
		if _, dup := seen[name]; dup {
			return nil, invalid("csv: duplicate column %q", name)
		}
		seen[name] = struct{}{}
	}
	specs := make([]miso.ColumnSpec, len(header))
	for i, name := range header {
		data := make([]interface{}, len(records)-1)
		cells := make([]string, 0, len(records)-1)
		for j, rec := range records[1:] {
			if rec[i] == "" {
				continue
			}
			data[j] = rec[i]
			cells = append(cells, rec[i])
		}
		specs[i] = miso.ColumnSpec{Name: name, Type: inferStrings(cells), Data: data}
		if name == miso.IDColumn {
			specs[i].Type = miso.Mixed
		}
	}
	p.Options.apply(specs)
	return &miso.Built{Columns: specs}, nil
}

// inferStrings picks the first of Number, Boolean and Time that every cell parses as,
// falling back to String.
func inferStrings(cells []string) miso.ColumnType {
	if len(cells) == 0 {
		return miso.String
	}
	all := func(ok func(string) bool) bool {
		for _, c := range cells {
			if !ok(c) {
				return false
			}
		}
		return true
	}
	switch {
	case all(func(s string) bool { _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); return err == nil }):
		return miso.Number
	case all(func(s string) bool { s = strings.ToLower(strings.TrimSpace(s)); return s == "true" || s == "false" }):
		return miso.Boolean
	case all(func(s string) bool { _, err := miso.Coerce(miso.Time, s, "", true); return err == nil }):
		return miso.Time
	}
	return miso.String
}

func newCSV(cfg map[string]string) (miso.Parser, error) {
	o, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	p := CSV{Options: o}
	if d := cfg["delimiter"]; d != "" {
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) {
			return nil, fmt.Errorf("csv: delimiter must be one character, got %q", d)
		}
		p.Comma = r
	}
	return p, nil
}
