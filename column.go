package miso

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ColumnType is the closed set of types a column can hold.
type ColumnType int

const (
	// String columns hold Go strings.
	String ColumnType = iota
	// Number columns hold float64; the empty value is NaN.
	Number
	// Boolean columns hold bool; the empty value is false.
	Boolean
	// Time columns hold int64 Unix milliseconds; the empty value is nil.
	Time
	// Mixed columns hold whatever they are given.
	Mixed
)

var columnTypeNames = [...]string{
	String:  "string",
	Number:  "number",
	Boolean: "boolean",
	Time:    "time",
	Mixed:   "mixed",
}

func (t ColumnType) String() string {
	if t < 0 || int(t) >= len(columnTypeNames) {
		return fmt.Sprintf("unknown(%d)", int(t))
	}
	return columnTypeNames[t]
}

// ParseColumnType maps a type name to a ColumnType. Matching is case-insensitive.
func ParseColumnType(s string) (ColumnType, error) {
	for t, name := range columnTypeNames {
		if strings.EqualFold(s, name) {
			return ColumnType(t), nil
		}
	}
	return Mixed, fmt.Errorf("unknown column type %q", s)
}

// MarshalText encodes the type by its name.
func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts any name ParseColumnType does.
func (t *ColumnType) UnmarshalText(b []byte) error {
	parsed, err := ParseColumnType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// emptyValue is what a missing cell of the given type holds.
func (t ColumnType) emptyValue() interface{} {
	switch t {
	case String:
		return ""
	case Number:
		return math.NaN()
	case Boolean:
		return false
	default:
		return nil
	}
}

// TimeFormats are tried in order when coercing strings into a Time column that has no
// layout of its own.
var TimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
}

type coerceFunc func(v interface{}, layout string) (interface{}, error)

// coercers is indexed by ColumnType. Each function returns the coerced value, or an error
// together with the type's empty value.
var coercers = [...]coerceFunc{
	String:  coerceString,
	Number:  coerceNumber,
	Boolean: coerceBoolean,
	Time:    coerceTime,
	Mixed:   func(v interface{}, _ string) (interface{}, error) { return v, nil },
}

// Coerce converts v to the representation used by columns of type t. With strict set, a
// value that cannot be converted is an error; otherwise the type's empty value is
// substituted.
func Coerce(t ColumnType, v interface{}, layout string, strict bool) (interface{}, error) {
	if t < 0 || int(t) >= len(coercers) {
		return nil, fmt.Errorf("unknown column type %d", int(t))
	}
	out, err := coercers[t](v, layout)
	if err != nil {
		if strict {
			return nil, err
		}
		return t.emptyValue(), nil
	}
	return out, nil
}

func coerceString(v interface{}, _ string) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case float64:
		if math.IsNaN(x) {
			return "", nil
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return fmt.Sprint(v), nil
}

func coerceNumber(v interface{}, _ string) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), nil
	case bool:
		if x {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return math.NaN(), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN(), fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	case time.Time:
		return float64(x.UnixMilli()), nil
	}
	if f, ok := asFloat(v); ok {
		return f, nil
	}
	return math.NaN(), fmt.Errorf("not a number: %T", v)
}

func coerceBoolean(v interface{}, _ string) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", x)
	}
	if f, ok := asFloat(v); ok {
		switch f {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	}
	return false, fmt.Errorf("not a boolean: %#v", v)
}

func coerceTime(v interface{}, layout string) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return x.UnixMilli(), nil
	case int64:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		if layout != "" {
			t, err := time.Parse(layout, s)
			if err != nil {
				return nil, fmt.Errorf("not a time: %w", err)
			}
			return t.UnixMilli(), nil
		}
		for _, format := range TimeFormats {
			if t, err := time.Parse(format, s); err == nil {
				return t.UnixMilli(), nil
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ms, nil
		}
		return nil, fmt.Errorf("not a time: %q", x)
	}
	if f, ok := asFloat(v); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(f), nil
	}
	return nil, fmt.Errorf("not a time: %#v", v)
}

// InferType picks the narrowest type every non-empty value satisfies. Values that
// disagree in kind make the column Mixed; a column with no usable values is String.
func InferType(values []interface{}) ColumnType {
	var seen []ColumnType
	for _, v := range values {
		var t ColumnType
		switch x := v.(type) {
		case nil:
			continue
		case string:
			if x == "" {
				continue
			}
			t = String
		case bool:
			t = Boolean
		case time.Time:
			t = Time
		case json.Number:
			t = Number
		case map[string]interface{}, []interface{}:
			return Mixed
		default:
			if _, ok := asFloat(v); !ok {
				return Mixed
			}
			t = Number
		}
		if len(seen) == 0 {
			seen = append(seen, t)
		} else if seen[0] != t {
			return Mixed
		}
	}
	if len(seen) == 0 {
		return String
	}
	return seen[0]
}

// Column is typed, positional storage for one field across all rows of a table.
type Column struct {
	name   string
	typ    ColumnType
	layout string
	strict bool
	values []interface{}
}

// NewColumn creates an empty column. layout is only used by Time columns.
func NewColumn(name string, typ ColumnType, layout string, strict bool) *Column {
	return &Column{name: name, typ: typ, layout: layout, strict: strict}
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Type returns the column type.
func (c *Column) Type() ColumnType { return c.typ }

// Len returns the number of cells.
func (c *Column) Len() int { return len(c.values) }

// Get returns the value at position i.
func (c *Column) Get(i int) (interface{}, error) {
	if i < 0 || i >= len(c.values) {
		return nil, &NotFoundError{What: "position", Key: i}
	}
	return c.values[i], nil
}

// Set coerces v and stores it at position i.
func (c *Column) Set(i int, v interface{}) error {
	if i < 0 || i >= len(c.values) {
		return &NotFoundError{What: "position", Key: i}
	}
	coerced, err := c.Coerce(v)
	if err != nil {
		return err
	}
	c.values[i] = coerced
	return nil
}

// Coerce converts v to this column's type, honoring the column's strictness.
func (c *Column) Coerce(v interface{}) (interface{}, error) {
	out, err := Coerce(c.typ, v, c.layout, c.strict)
	if err != nil {
		return nil, &ValidationError{Column: c.name, Value: v, Cause: err}
	}
	return out, nil
}

// Values returns a copy of the column's cells in row order.
func (c *Column) Values() []interface{} {
	out := make([]interface{}, len(c.values))
	copy(out, c.values)
	return out
}

// Clone returns an independent copy of the column.
func (c *Column) Clone() *Column {
	c2 := *c
	c2.values = c.Values()
	return &c2
}

func (c *Column) empty() interface{} {
	return c.typ.emptyValue()
}
