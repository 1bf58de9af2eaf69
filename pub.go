package miso

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-logr/logr"
)

// New creates a dataset from construction data. Rows without an identity get one
// assigned; a column named IDColumn supplies identities for column data.
func New(data Data, options ...Option) (*Dataset, error) {
	opts := DefaultOptions()
	for _, o := range options {
		o(&opts)
	}
	ds := newDataset(opts)
	if err := ds.build(data); err != nil {
		return nil, fmt.Errorf("new dataset: %w", err)
	}
	ds.log.V(1).Info("created", "columns", len(ds.columns), "rows", ds.Len())
	return ds, nil
}

// Bind implements Observable.
func (ds *Dataset) Bind(name string, h Handler) *Subscription { return ds.events.Bind(name, h) }

// Unbind implements Observable.
func (ds *Dataset) Unbind(sub *Subscription) { ds.events.Unbind(sub) }

// Trigger implements Observable.
func (ds *Dataset) Trigger(name string, ev Event) { ds.events.Trigger(name, ev) }

// Add appends rows. Either every row is added or, on error, none is.
func (ds *Dataset) Add(rows ...Row) (*ChangeEvent, error) {
	prepared, deltas, err := ds.prepareAdd(rows)
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	for _, r := range prepared {
		ds.appendRow(r)
	}
	return ds.emit("add", deltas, false), nil
}

// Remove deletes every row matching pred.
func (ds *Dataset) Remove(pred Predicate) (*ChangeEvent, error) {
	if pred == nil {
		return nil, &ValidationError{Cause: errors.New("remove: nil predicate")}
	}
	data := dataColumns(ds.names)
	var positions []int
	var deltas []Delta
	for pos := range ds.columns[0].values {
		r := ds.rowAt(pos)
		if !pred(r) {
			continue
		}
		positions = append(positions, pos)
		deltas = append(deltas, Delta{Kind: Remove, RowID: ds.idAt(pos), Before: r, Changed: data})
	}
	for _, d := range deltas {
		ds.forgetFingerprint(d.RowID)
	}
	ds.deletePositions(positions)
	return ds.emit("remove", deltas, ds.opts.EmptyRemoveEvents), nil
}

// Update changes the fields given in row of the existing row with the same identity.
// Fields not mentioned keep their values.
func (ds *Dataset) Update(row Row) (*ChangeEvent, error) {
	raw, ok := row[IDColumn]
	if !ok {
		return nil, &ValidationError{Column: IDColumn, Cause: errors.New("update without row id")}
	}
	id, err := toRowID(raw)
	if err != nil {
		return nil, &ValidationError{Column: IDColumn, Value: raw, Cause: err}
	}
	pos, ok := ds.rowIndex[id]
	if !ok {
		return nil, fmt.Errorf("update: %w", rowNotFound(id))
	}
	before := ds.rowAt(pos)
	after := before.Copy()
	if err := ds.coerceInto(after, row); err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	var deltas []Delta
	if changed := diffRows(ds.names, before, after); len(changed) > 0 {
		ds.storeRow(pos, after, changed)
		deltas = append(deltas, Delta{Kind: Update, RowID: id, Before: before, After: after.Copy(), Changed: changed})
	}
	return ds.emit("update", deltas, false), nil
}

// UpdateFunc calls fn with a copy of every row. Rows for which fn returns true are
// replaced by the returned row; fields the returned row leaves out keep their values. The
// identity of a row cannot be changed. If any row fails validation no row is changed.
func (ds *Dataset) UpdateFunc(fn func(Row) (Row, bool)) (*ChangeEvent, error) {
	type rowUpdate struct {
		pos     int
		after   Row
		changed []string
	}
	var updates []rowUpdate
	var deltas []Delta
	for pos := range ds.columns[0].values {
		id := ds.idAt(pos)
		before := ds.rowAt(pos)
		out, ok := fn(before.Copy())
		if !ok || out == nil {
			continue
		}
		if raw, has := out[IDColumn]; has {
			if got, err := toRowID(raw); err != nil || got != id {
				return nil, fmt.Errorf("update: %w", newStructuralError("row %d: %s cannot change", id, IDColumn))
			}
		}
		after := before.Copy()
		if err := ds.coerceInto(after, out); err != nil {
			return nil, fmt.Errorf("update: row %d: %w", id, err)
		}
		if ds.cachedFingerprint(id, before) == rowFingerprint(ds.names, after) {
			continue
		}
		changed := diffRows(ds.names, before, after)
		if len(changed) == 0 {
			continue
		}
		updates = append(updates, rowUpdate{pos, after, changed})
		deltas = append(deltas, Delta{Kind: Update, RowID: id, Before: before, After: after.Copy(), Changed: changed})
	}
	for _, u := range updates {
		ds.storeRow(u.pos, u.after, u.changed)
	}
	return ds.emit("update", deltas, false), nil
}

func (ds *Dataset) storeRow(pos int, r Row, changed []string) {
	for _, name := range changed {
		ds.columns[ds.byName[name]].values[pos] = r[name]
	}
	ds.forgetFingerprint(ds.idAt(pos))
	ds.version++
}

// Sort reorders rows by cmp. The sort is stable, so sorting an already sorted dataset
// leaves it unchanged and emits nothing.
func (ds *Dataset) Sort(cmp Comparator) error {
	if cmp == nil {
		return &ValidationError{Cause: errors.New("sort: nil comparator")}
	}
	n := ds.Len()
	rows := make([]Row, n)
	perm := make([]int, n)
	for i := range rows {
		rows[i] = ds.rowAt(i)
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return cmp(rows[perm[i]], rows[perm[j]]) < 0 })
	moved := false
	for i, p := range perm {
		if i != p {
			moved = true
			break
		}
	}
	mutationsTotal.WithLabelValues("sort").Inc()
	if !moved {
		return nil
	}
	ds.permute(perm)
	ds.log.V(1).Info("sorted", "rows", n)
	ds.events.Trigger(EventSort, &SortEvent{Source: ds})
	return nil
}

// SortBy sorts by one column, ascending unless desc is set. Empty values sort first when
// ascending and last when descending.
func (ds *Dataset) SortBy(column string, desc bool) error {
	if _, ok := ds.byName[column]; !ok {
		return fmt.Errorf("sort: %w", columnNotFound(column))
	}
	return ds.Sort(ByColumn(column, desc))
}

// AddColumn appends a column. spec.Data, when given, must hold one value per row;
// otherwise every row gets the type's empty value.
func (ds *Dataset) AddColumn(spec ColumnSpec) (*ChangeEvent, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("add column: %w", newStructuralError("column without a name"))
	}
	if _, ok := ds.byName[spec.Name]; ok {
		return nil, fmt.Errorf("add column: %w", newStructuralError("duplicate column %q", spec.Name))
	}
	n := ds.Len()
	if len(spec.Data) != 0 && len(spec.Data) != n {
		return nil, fmt.Errorf("add column: %w",
			newStructuralError("column %q has %d values, expected %d", spec.Name, len(spec.Data), n))
	}
	col := NewColumn(spec.Name, spec.Type, spec.Format, ds.opts.Strict)
	col.values = make([]interface{}, n)
	for i := range col.values {
		if len(spec.Data) == 0 {
			col.values[i] = col.empty()
			continue
		}
		v, err := col.Coerce(spec.Data[i])
		if err != nil {
			return nil, fmt.Errorf("add column: %w", err)
		}
		col.values[i] = v
	}
	befores := make([]Row, n)
	for i := range befores {
		befores[i] = ds.rowAt(i)
	}
	ds.columns = append(ds.columns, col)
	ds.reindexColumns()
	deltas := make([]Delta, 0, n)
	for i, before := range befores {
		deltas = append(deltas, Delta{Kind: Update, RowID: ds.idAt(i), Before: before, After: ds.rowAt(i), Changed: []string{spec.Name}})
	}
	return ds.emit("add_column", deltas, false), nil
}

// RemoveColumn drops a column. The identity column cannot be removed.
func (ds *Dataset) RemoveColumn(name string) (*ChangeEvent, error) {
	if name == IDColumn {
		return nil, fmt.Errorf("remove column: %w", newStructuralError("%s cannot be removed", IDColumn))
	}
	i, ok := ds.byName[name]
	if !ok {
		return nil, fmt.Errorf("remove column: %w", columnNotFound(name))
	}
	n := ds.Len()
	befores := make([]Row, n)
	for pos := range befores {
		befores[pos] = ds.rowAt(pos)
	}
	ds.columns = append(ds.columns[:i], ds.columns[i+1:]...)
	ds.reindexColumns()
	deltas := make([]Delta, 0, n)
	for pos, before := range befores {
		deltas = append(deltas, Delta{Kind: Update, RowID: ds.idAt(pos), Before: before, After: ds.rowAt(pos), Changed: []string{name}})
	}
	return ds.emit("remove_column", deltas, false), nil
}

// ColumnNames returns the column names in order, identity column first.
func (ds *Dataset) ColumnNames() []string {
	return append([]string(nil), ds.names...)
}

// ColumnType returns the type of the named column.
func (ds *Dataset) ColumnType(name string) (ColumnType, error) {
	i, ok := ds.byName[name]
	if !ok {
		return Mixed, columnNotFound(name)
	}
	return ds.columns[i].typ, nil
}

// Column returns a copy of the named column.
func (ds *Dataset) Column(name string) (*Column, error) {
	i, ok := ds.byName[name]
	if !ok {
		return nil, columnNotFound(name)
	}
	return ds.columns[i].Clone(), nil
}

// Len returns the number of rows.
func (ds *Dataset) Len() int {
	return len(ds.columns[0].values)
}

// RowByPosition returns a copy of the row at position i.
func (ds *Dataset) RowByPosition(i int) (Row, error) {
	if i < 0 || i >= ds.Len() {
		return nil, &NotFoundError{What: "position", Key: i}
	}
	return ds.rowAt(i), nil
}

// RowByID returns a copy of the row with the given identity.
func (ds *Dataset) RowByID(id RowID) (Row, error) {
	pos, ok := ds.rowIndex[id]
	if !ok {
		return nil, rowNotFound(id)
	}
	return ds.rowAt(pos), nil
}

// PositionOf returns the current position of the row with the given identity.
func (ds *Dataset) PositionOf(id RowID) (int, bool) {
	pos, ok := ds.rowIndex[id]
	return pos, ok
}

// Each calls fn with a copy of every row in position order until fn returns false.
func (ds *Dataset) Each(fn func(row Row, pos int) bool) {
	for pos := 0; pos < ds.Len(); pos++ {
		if !fn(ds.rowAt(pos), pos) {
			return
		}
	}
}

// ReverseEach is Each from the last position to the first.
func (ds *Dataset) ReverseEach(fn func(row Row, pos int) bool) {
	for pos := ds.Len() - 1; pos >= 0; pos-- {
		if !fn(ds.rowAt(pos), pos) {
			return
		}
	}
}

// ToJSON renders the rows as a JSON array of objects whose keys follow column order.
// Empty numbers are written as null.
func (ds *Dataset) ToJSON() ([]byte, error) {
	return rowsToJSON(ds.names, ds.Len(), ds.rowAt)
}

func rowsToJSON(columns []string, n int, rowAt func(int) Row) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		r := rowAt(i)
		buf.WriteByte('{')
		for j, name := range columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(name)
			buf.Write(k)
			buf.WriteByte(':')
			v := r[name]
			if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				v = nil
			}
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", name, err)
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Snapshot returns an immutable copy of the current rows for diffing.
func (ds *Dataset) Snapshot() *Snapshot {
	s := &Snapshot{
		Columns: ds.ColumnNames(),
		ids:     make([]RowID, 0, ds.Len()),
		rows:    make(map[RowID]Row, ds.Len()),
	}
	for pos := 0; pos < ds.Len(); pos++ {
		id := ds.idAt(pos)
		s.ids = append(s.ids, id)
		s.rows[id] = ds.rowAt(pos)
	}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	return s
}

// Flush delivers the changes accumulated since the last Flush as one coalesced change
// event. It does nothing in sync mode.
func (ds *Dataset) Flush() {
	if len(ds.pending) == 0 {
		return
	}
	deltas := coalesce(ds.names, ds.pending)
	ds.pending = nil
	if len(deltas) == 0 {
		return
	}
	ds.log.V(1).Info("flush", "deltas", len(deltas))
	changeEventsTotal.WithLabelValues("dataset").Inc()
	ds.events.Trigger(EventChange, &ChangeEvent{Source: ds, Deltas: deltas})
}

// Pending returns the number of deltas waiting for Flush.
func (ds *Dataset) Pending() int {
	return len(ds.pending)
}

func (ds *Dataset) dispatcher() *Dispatcher { return ds.opts.Dispatcher }

func (ds *Dataset) storageVersion() uint64 { return ds.version }

func (ds *Dataset) logger() logr.Logger { return ds.opts.Logger }

func (ds *Dataset) values(column string) ([]interface{}, error) {
	i, ok := ds.byName[column]
	if !ok {
		return nil, columnNotFound(column)
	}
	return ds.columns[i].values, nil
}
