package miso

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// IDColumn is the name of the column holding every row's identity.
const IDColumn = "_id"

// RowID identifies a row for its whole lifetime. IDs are assigned in increasing order and
// are never reused within a Dataset.
type RowID uint64

// Row is one logical record: column name to value. Rows handed to callers are copies;
// changing them never changes the Dataset.
type Row map[string]interface{}

// ID returns the row's identity, or false if it has none.
func (r Row) ID() (RowID, bool) {
	v, ok := r[IDColumn]
	if !ok || v == nil {
		return 0, false
	}
	id, err := toRowID(v)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Copy returns a shallow copy of the row.
func (r Row) Copy() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// project returns a copy restricted to the given columns plus the identity column.
func (r Row) project(columns []string) Row {
	if columns == nil {
		return r.Copy()
	}
	c := make(Row, len(columns)+1)
	if v, ok := r[IDColumn]; ok {
		c[IDColumn] = v
	}
	for _, name := range columns {
		if v, ok := r[name]; ok {
			c[name] = v
		}
	}
	return c
}

func toRowID(v interface{}) (RowID, error) {
	switch x := v.(type) {
	case RowID:
		return x, nil
	case int:
		if x >= 0 {
			return RowID(x), nil
		}
	case int64:
		if x >= 0 {
			return RowID(x), nil
		}
	case uint64:
		return RowID(x), nil
	case uint:
		return RowID(x), nil
	case float64:
		if x >= 0 && x == math.Trunc(x) && !math.IsInf(x, 0) {
			return RowID(x), nil
		}
	case json.Number:
		n, err := strconv.ParseUint(x.String(), 10, 64)
		if err == nil {
			return RowID(n), nil
		}
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(x), 10, 64)
		if err == nil {
			return RowID(n), nil
		}
	}
	return 0, fmt.Errorf("invalid row id %#v", v)
}

// compareValues orders two coerced values of the same column type. Empty values (nil, NaN)
// sort before everything else.
func compareValues(a, b interface{}) int {
	aEmpty, bEmpty := isEmpty(a), isEmpty(b)
	switch {
	case aEmpty && bEmpty:
		return 0
	case aEmpty:
		return -1
	case bEmpty:
		return 1
	}
	switch v := a.(type) {
	case float64:
		if v2, ok := b.(float64); ok {
			return compareOrdered(v, v2)
		}
	case int64:
		if v2, ok := b.(int64); ok {
			return compareOrdered(v, v2)
		}
	case RowID:
		if v2, ok := b.(RowID); ok {
			return compareOrdered(v, v2)
		}
	case string:
		if v2, ok := b.(string); ok {
			return strings.Compare(v, v2)
		}
	case bool:
		if v2, ok := b.(bool); ok {
			switch {
			case v == v2:
				return 0
			case !v:
				return -1
			default:
				return 1
			}
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return compareOrdered(fa, fb)
		}
	}
	// Mixed columns: fall back to a stable order over the encoded forms.
	return bytes.Compare(appendValue(nil, a), appendValue(nil, b))
}

func compareOrdered[T float64 | int64 | RowID](a, b T) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if f, ok := v.(float64); ok {
		return math.IsNaN(f)
	}
	return false
}

// valuesEqual is the shallow per-type equality used to decide whether a cell changed.
// NaN equals NaN so an untouched empty number is not reported as a change.
func valuesEqual(a, b interface{}) bool {
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case RowID:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
