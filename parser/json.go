package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jrhy/miso"
	"sigs.k8s.io/yaml"
)

// JSON parses either an array of row objects or an object with a "columns" array of
// {name, type, data, format}. Row keys become columns in order of first appearance;
// column types that are not given are inferred. With YAML set the payload is YAML.
type JSON struct {
	Options
	YAML bool
}

type columnDoc struct {
	Name   string           `json:"name"`
	Type   *miso.ColumnType `json:"type"`
	Data   []interface{}    `json:"data"`
	Format string           `json:"format"`
}

// Parse implements miso.Parser.
func (p JSON) Parse(payload []byte) (*miso.Built, error) {
	if p.YAML {
		j, err := yaml.YAMLToJSON(payload)
		if err != nil {
			return nil, invalid("yaml: %w", err)
		}
		payload = j
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, invalid("empty payload")
	}
	var specs []miso.ColumnSpec
	var err error
	switch payload[0] {
	case '[':
		specs, err = parseRows(payload)
	case '{':
		specs, err = parseColumns(payload)
	default:
		err = invalid("payload is neither an array nor an object")
	}
	if err != nil {
		return nil, err
	}
	p.Options.apply(specs)
	return &miso.Built{Columns: specs}, nil
}

// parseRows decodes token by token so that column order follows the payload.
func parseRows(payload []byte) ([]miso.ColumnSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	if _, err := dec.Token(); err != nil {
		return nil, invalid("json: %w", err)
	}
	var order []string
	known := map[string]struct{}{}
	var rows []map[string]interface{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, invalid("json: %w", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, invalid("row %d is not an object", len(rows))
		}
		row := map[string]interface{}{}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, invalid("json: %w", err)
			}
			key := tok.(string)
			var v interface{}
			if err := dec.Decode(&v); err != nil {
				return nil, invalid("json: row %d, key %q: %w", len(rows), key, err)
			}
			row[key] = v
			if _, ok := known[key]; !ok {
				known[key] = struct{}{}
				order = append(order, key)
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, invalid("json: %w", err)
		}
		rows = append(rows, row)
	}
	if _, err := dec.Token(); err != nil {
		return nil, invalid("json: %w", err)
	}
	return rowSpecs(order, rows), nil
}

func parseColumns(payload []byte) ([]miso.ColumnSpec, error) {
	var doc struct {
		Columns []columnDoc `json:"columns"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, invalid("json: %w", err)
	}
	if doc.Columns == nil {
		return nil, invalid("object payload without a columns array")
	}
	specs := make([]miso.ColumnSpec, len(doc.Columns))
	for i, c := range doc.Columns {
		if c.Name == "" {
			return nil, invalid("column %d has no name", i)
		}
		t := miso.InferType(c.Data)
		if c.Type != nil {
			t = *c.Type
		}
		specs[i] = miso.ColumnSpec{Name: c.Name, Type: t, Data: c.Data, Format: c.Format}
	}
	return specs, nil
}

func newJSON(yaml bool) miso.ParserFactory {
	return func(cfg map[string]string) (miso.Parser, error) {
		o, err := OptionsFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
		return JSON{Options: o, YAML: yaml}, nil
	}
}
