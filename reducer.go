package miso

import (
	"math"

	"github.com/shopspring/decimal"
)

// Reducer computes a product's value from the current values of one column, in position
// order. Empty values are included; the built-in reducers skip them.
type Reducer func(values []interface{}) interface{}

// MinReducer returns the smallest non-empty value, or nil if there is none.
func MinReducer(values []interface{}) interface{} {
	return extreme(values, -1)
}

// MaxReducer returns the largest non-empty value, or nil if there is none.
func MaxReducer(values []interface{}) interface{} {
	return extreme(values, 1)
}

func extreme(values []interface{}, want int) interface{} {
	var best interface{}
	for _, v := range values {
		if isEmpty(v) {
			continue
		}
		if best == nil || compareValues(v, best) == want {
			best = v
		}
	}
	return best
}

// SumReducer adds the numeric values. Summing is done in decimal so the result does not
// depend on the order of the rows.
func SumReducer(values []interface{}) interface{} {
	sum, _ := decimalSum(values)
	return sum.InexactFloat64()
}

// MeanReducer averages the numeric values, or returns NaN if there are none.
func MeanReducer(values []interface{}) interface{} {
	sum, n := decimalSum(values)
	if n == 0 {
		return math.NaN()
	}
	return sum.Div(decimal.NewFromInt(int64(n))).InexactFloat64()
}

// CountReducer counts the non-empty values.
func CountReducer(values []interface{}) interface{} {
	n := 0
	for _, v := range values {
		if !isEmpty(v) {
			n++
		}
	}
	return n
}

func decimalSum(values []interface{}) (decimal.Decimal, int) {
	sum := decimal.Zero
	n := 0
	for _, v := range values {
		f, ok := asFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(f))
		n++
	}
	return sum, n
}
