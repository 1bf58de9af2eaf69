package miso

import (
	"bytes"
	"encoding/binary"
	"math"
	"reflect"
	"sort"
	"sync/atomic"
)

// Value tags for the canonical encoding. The encoding only has to be deterministic, and
// values that are not reflect.DeepEqual must encode differently; it is never decoded.
const (
	tagNil byte = iota
	tagFloat
	tagNaN
	tagInt
	tagID
	tagString
	tagTrue
	tagFalse
	tagOther
)

func appendLength(buf []byte, n int) []byte {
	var tmpbuf [binary.MaxVarintLen64]byte
	len := binary.PutUvarint(tmpbuf[:], uint64(n))
	return append(buf, tmpbuf[:len]...)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendLength(buf, len(b))
	return append(buf, b...)
}

func appendValue(buf []byte, v interface{}) []byte {
	var tmpbuf [8]byte
	switch x := v.(type) {
	case nil:
		return append(buf, tagNil)
	case float64:
		if math.IsNaN(x) {
			return append(buf, tagNaN)
		}
		binary.BigEndian.PutUint64(tmpbuf[:], math.Float64bits(x))
		buf = append(buf, tagFloat)
		return append(buf, tmpbuf[:]...)
	case int64:
		binary.BigEndian.PutUint64(tmpbuf[:], uint64(x))
		buf = append(buf, tagInt)
		return append(buf, tmpbuf[:]...)
	case RowID:
		binary.BigEndian.PutUint64(tmpbuf[:], uint64(x))
		buf = append(buf, tagID)
		return append(buf, tmpbuf[:]...)
	case string:
		buf = append(buf, tagString)
		return appendBytes(buf, []byte(x))
	case bool:
		if x {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	}
	buf = append(buf, tagOther)
	return appendReflect(buf, reflect.ValueOf(v), 0)
}

// maxEncodeDepth bounds the walk through nested Mixed values, so cyclic values terminate.
const maxEncodeDepth = 32

// opaque numbers values that cannot be encoded faithfully. Each gets a fresh number, so
// such values never compare as unchanged by encoding alone.
var opaque uint64

func appendOpaque(buf []byte) []byte {
	var tmpbuf [8]byte
	binary.BigEndian.PutUint64(tmpbuf[:], atomic.AddUint64(&opaque, 1))
	return append(buf, tmpbuf[:]...)
}

// appendReflect encodes any value with its dynamic type at every level, so int(1) and
// int32(1) differ, as do maps holding 1 and 1.0. Map entries are ordered by their encoded
// keys.
func appendReflect(buf []byte, rv reflect.Value, depth int) []byte {
	if !rv.IsValid() {
		return append(buf, tagNil)
	}
	buf = appendBytes(buf, []byte(rv.Type().String()))
	if depth > maxEncodeDepth {
		return appendOpaque(buf)
	}
	var tmpbuf [8]byte
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		binary.BigEndian.PutUint64(tmpbuf[:], uint64(rv.Int()))
		return append(buf, tmpbuf[:]...)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		binary.BigEndian.PutUint64(tmpbuf[:], rv.Uint())
		return append(buf, tmpbuf[:]...)
	case reflect.Float32, reflect.Float64:
		binary.BigEndian.PutUint64(tmpbuf[:], math.Float64bits(rv.Float()))
		return append(buf, tmpbuf[:]...)
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		binary.BigEndian.PutUint64(tmpbuf[:], math.Float64bits(real(c)))
		buf = append(buf, tmpbuf[:]...)
		binary.BigEndian.PutUint64(tmpbuf[:], math.Float64bits(imag(c)))
		return append(buf, tmpbuf[:]...)
	case reflect.String:
		return appendBytes(buf, []byte(rv.String()))
	case reflect.Slice:
		if rv.IsNil() {
			return append(buf, tagNil)
		}
		buf = append(buf, tagOther)
		fallthrough
	case reflect.Array:
		buf = appendLength(buf, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			buf = appendReflect(buf, rv.Index(i), depth+1)
		}
		return buf
	case reflect.Map:
		if rv.IsNil() {
			return append(buf, tagNil)
		}
		buf = append(buf, tagOther)
		type entry struct{ k, v []byte }
		entries := make([]entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entries = append(entries, entry{
				appendReflect(nil, iter.Key(), depth+1),
				appendReflect(nil, iter.Value(), depth+1),
			})
		}
		sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].k, entries[j].k) < 0 })
		buf = appendLength(buf, len(entries))
		for _, e := range entries {
			buf = appendBytes(buf, e.k)
			buf = appendBytes(buf, e.v)
		}
		return buf
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return append(buf, tagNil)
		}
		return appendReflect(append(buf, tagOther), rv.Elem(), depth+1)
	case reflect.Struct:
		buf = appendLength(buf, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			buf = appendReflect(buf, rv.Field(i), depth+1)
		}
		return buf
	case reflect.Chan:
		if rv.IsNil() {
			return append(buf, tagNil)
		}
		binary.BigEndian.PutUint64(tmpbuf[:], uint64(rv.Pointer()))
		return append(buf, tmpbuf[:]...)
	}
	// funcs and unsafe pointers
	return appendOpaque(buf)
}

// encodeRow writes the row's cells in column order. Columns absent from the row encode as
// nil so rows from tables with different column sets never collide.
func encodeRow(buf []byte, columns []string, row Row) []byte {
	buf = appendLength(buf, len(columns))
	for _, name := range columns {
		buf = appendBytes(buf, []byte(name))
		buf = appendValue(buf, row[name])
	}
	return buf
}
