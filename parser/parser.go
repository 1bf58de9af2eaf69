// Package parser turns payloads into miso.Built column specs: JSON and YAML, CSV,
// Parquet, Arrow IPC streams and protobuf ListValues.
package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jrhy/miso"
)

// RegisterAll adds "json", "yaml", "csv", "parquet", "arrow" and "proto" to reg.
func RegisterAll(reg *miso.Registry) error {
	for name, f := range map[string]miso.ParserFactory{
		"json":    newJSON(false),
		"yaml":    newJSON(true),
		"csv":     newCSV,
		"parquet": newParquet,
		"arrow":   newArrow,
		"proto":   newProto,
	} {
		if err := reg.RegisterParser(name, f); err != nil {
			return err
		}
	}
	return nil
}

// Options overrides what a parser would otherwise infer.
type Options struct {
	// Types fixes the type of the named columns.
	Types map[string]miso.ColumnType
	// Formats sets the time layout of the named columns.
	Formats map[string]string
}

// OptionsFromConfig reads the "types" and "formats" keys of a registry config, each a
// comma-separated list of column=value pairs:
//
//	{"types": "when=time,px=number", "formats": "when=2006-01-02"}
func OptionsFromConfig(cfg map[string]string) (Options, error) {
	var o Options
	types, err := pairs(cfg["types"])
	if err != nil {
		return o, fmt.Errorf("types: %w", err)
	}
	for name, t := range types {
		ct, err := miso.ParseColumnType(t)
		if err != nil {
			return o, fmt.Errorf("types: %w", err)
		}
		if o.Types == nil {
			o.Types = map[string]miso.ColumnType{}
		}
		o.Types[name] = ct
	}
	o.Formats, err = pairs(cfg["formats"])
	if err != nil {
		return o, fmt.Errorf("formats: %w", err)
	}
	return o, nil
}

func pairs(s string) (map[string]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := map[string]string{}
	for _, item := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("malformed pair %q", item)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// apply overrides the inferred types and formats of specs.
func (o Options) apply(specs []miso.ColumnSpec) {
	for i := range specs {
		if t, ok := o.Types[specs[i].Name]; ok {
			specs[i].Type = t
		}
		if f, ok := o.Formats[specs[i].Name]; ok {
			specs[i].Format = f
		}
	}
}

// rowSpecs turns row objects into columns. order lists the keys in the order they
// should become columns; keys missing from a row become nil.
func rowSpecs(order []string, rows []map[string]interface{}) []miso.ColumnSpec {
	specs := make([]miso.ColumnSpec, len(order))
	for i, name := range order {
		data := make([]interface{}, len(rows))
		for j, r := range rows {
			data[j] = r[name]
		}
		specs[i] = miso.ColumnSpec{Name: name, Type: miso.InferType(data), Data: data}
		if name == miso.IDColumn {
			specs[i].Type = miso.Mixed
		}
	}
	return specs
}

func sortedKeys(rows []map[string]interface{}) []string {
	seen := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func invalid(format string, args ...interface{}) error {
	return &miso.ValidationError{Cause: fmt.Errorf(format, args...)}
}
