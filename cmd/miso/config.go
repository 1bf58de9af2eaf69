package main

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// Config describes one load-derive-print run.
type Config struct {
	Importer Plugin        `json:"importer"`
	Parser   Plugin        `json:"parser"`
	Strict   bool          `json:"strict,omitempty"`
	Where    string        `json:"where,omitempty"`
	Columns  []string      `json:"columns,omitempty"`
	Sort     *SortSpec     `json:"sort,omitempty"`
	Products []ProductSpec `json:"products,omitempty"`
}

// Plugin names a registered importer or parser and its configuration.
type Plugin struct {
	Name   string            `json:"name"`
	Config map[string]string `json:"config,omitempty"`
}

type SortSpec struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

type ProductSpec struct {
	Reducer string `json:"reducer"`
	Column  string `json:"column"`
}

func (p ProductSpec) String() string {
	return fmt.Sprintf("%s(%s)", p.Reducer, p.Column)
}

// LoadConfig reads a YAML (or JSON) config file. Unknown keys are errors.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// ParseProduct parses "reducer:column", e.g. "min:px".
func ParseProduct(s string) (ProductSpec, error) {
	r, c, ok := strings.Cut(s, ":")
	if !ok || r == "" || c == "" {
		return ProductSpec{}, fmt.Errorf("product %q: want reducer:column", s)
	}
	switch r {
	case "min", "max", "sum", "mean", "count":
	default:
		return ProductSpec{}, fmt.Errorf("product %q: unknown reducer %q", s, r)
	}
	return ProductSpec{Reducer: r, Column: c}, nil
}

// keyValues collects repeated -flag k=v arguments.
type keyValues map[string]string

func (kv keyValues) String() string {
	parts := make([]string, 0, len(kv))
	for k, v := range kv {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (kv keyValues) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("want key=value, got %q", s)
	}
	kv[k] = v
	return nil
}

type productList []ProductSpec

func (p *productList) String() string {
	parts := make([]string, len(*p))
	for i, s := range *p {
		parts[i] = s.Reducer + ":" + s.Column
	}
	return strings.Join(parts, ",")
}

func (p *productList) Set(s string) error {
	spec, err := ParseProduct(s)
	if err != nil {
		return err
	}
	*p = append(*p, spec)
	return nil
}
