// Package predicate compiles Go boolean expressions into row predicates, so filters can
// come from configuration or the command line:
//
//	p, err := predicate.Compile(`num(row["px"]) > 10 && str(row["sym"]) != "x"`)
//
// The expression sees the row as row (a map[string]interface{}), the helpers num, str
// and has, and the standard library packages strings and math.
package predicate

import (
	"fmt"
	"reflect"

	"github.com/jrhy/miso"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const program = `package pred

import (
	"math"
	"strings"
)

// num returns v as a number, NaN if it is not one.
func num(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return math.NaN()
}

// str returns v as a string, "" if it is not one.
func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// has reports whether the named string cell contains sub.
func has(row map[string]interface{}, name, sub string) bool {
	return strings.Contains(str(row[name]), sub)
}

func Match(row map[string]interface{}) bool {
	return %s
}
`

// Compile turns a Go expression into a predicate. A row for which evaluating the
// expression panics does not match.
func Compile(expr string) (miso.Predicate, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib: %w", err)
	}
	if _, err := i.Eval(fmt.Sprintf(program, expr)); err != nil {
		return nil, &miso.ValidationError{Cause: fmt.Errorf("predicate %q: %w", expr, err)}
	}
	v, err := i.Eval("pred.Match")
	if err != nil {
		return nil, fmt.Errorf("predicate %q: %w", expr, err)
	}
	match, ok := v.Interface().(func(map[string]interface{}) bool)
	if !ok {
		return nil, fmt.Errorf("predicate %q: unexpected type %s", expr, reflect.TypeOf(v.Interface()))
	}
	return func(r miso.Row) (matched bool) {
		defer func() {
			if recover() != nil {
				matched = false
			}
		}()
		return match(plain(r))
	}, nil
}

// plain converts identities to numbers, since the interpreter does not know miso's types.
func plain(r miso.Row) map[string]interface{} {
	out := make(map[string]interface{}, len(r))
	for k, v := range r {
		if id, ok := v.(miso.RowID); ok {
			v = float64(id)
		}
		out[k] = v
	}
	return out
}

// MustCompile is Compile that panics on error.
func MustCompile(expr string) miso.Predicate {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

