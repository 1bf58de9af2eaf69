package miso

// Predicate selects rows. It receives a copy of the row.
type Predicate func(Row) bool

// Comparator orders two rows: negative if a sorts first, positive if b does, zero if equal.
type Comparator func(a, b Row) int

// All matches every row.
func All(Row) bool { return true }

// And matches rows every predicate matches.
func And(preds ...Predicate) Predicate {
	return func(r Row) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// Or matches rows any predicate matches.
func Or(preds ...Predicate) Predicate {
	return func(r Row) bool {
		for _, p := range preds {
			if p(r) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(r Row) bool { return !p(r) }
}

// Eq matches rows whose column equals v. v is compared as stored, so pass float64 for
// Number columns.
func Eq(column string, v interface{}) Predicate {
	return func(r Row) bool { return valuesEqual(r[column], v) }
}

// Gt matches rows whose column is greater than v.
func Gt(column string, v interface{}) Predicate {
	return func(r Row) bool { return !isEmpty(r[column]) && compareValues(r[column], v) > 0 }
}

// Lt matches rows whose column is less than v. Empty values never match.
func Lt(column string, v interface{}) Predicate {
	return func(r Row) bool { return !isEmpty(r[column]) && compareValues(r[column], v) < 0 }
}

// HasID matches the rows with the given identities.
func HasID(ids ...RowID) Predicate {
	set := make(map[RowID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(r Row) bool {
		id, ok := r.ID()
		if !ok {
			return false
		}
		_, ok = set[id]
		return ok
	}
}

// ByColumn orders rows by one column's values.
func ByColumn(column string, desc bool) Comparator {
	return func(a, b Row) int {
		c := compareValues(a[column], b[column])
		if desc {
			return -c
		}
		return c
	}
}

// Query restricts a view. Nil Columns keeps every column; a nil Rows predicate keeps every
// row.
type Query struct {
	Columns []string
	Rows    Predicate
}
