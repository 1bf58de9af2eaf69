package miso

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
)

// Source is a table that views and products can be derived from: a Dataset or a View.
type Source interface {
	Observable
	ColumnNames() []string
	ColumnType(name string) (ColumnType, error)
	Len() int
	RowByPosition(i int) (Row, error)
	RowByID(id RowID) (Row, error)

	row(pos int) Row
	values(column string) ([]interface{}, error)
	storageVersion() uint64
	dispatcher() *Dispatcher
	logger() logr.Logger
}

var (
	_ Source = (*Dataset)(nil)
	_ Source = (*View)(nil)
)

func (ds *Dataset) row(pos int) Row { return ds.rowAt(pos) }

// View is a filtered and projected read surface over a Dataset or another View. It holds
// no storage of its own: rows are read through from the source, and the set of visible
// positions is recomputed lazily after the source changes.
//
// A View forwards its source's events, translated to its own rows and columns, so it can
// be observed and derived from like a Dataset. Close it when done to stop receiving
// events from the source.
type View struct {
	source    Source
	columns   []string
	pred      Predicate
	order     Comparator
	positions []int
	index     map[RowID]int
	stale     bool
	seen      uint64
	resorts   uint64
	closed    bool
	events    *Events
	subs      []*Subscription
	log       logr.Logger
}

func newView(src Source, q Query) (*View, error) {
	if q.Columns != nil {
		for _, name := range q.Columns {
			if name == IDColumn {
				continue
			}
			if _, err := src.ColumnType(name); err != nil {
				return nil, fmt.Errorf("view: %w", err)
			}
		}
	}
	v := &View{
		source: src,
		pred:   q.Rows,
		stale:  true,
		log:    src.logger().WithName("view"),
	}
	if q.Columns != nil {
		v.columns = []string{}
		for _, name := range q.Columns {
			if name != IDColumn {
				v.columns = append(v.columns, name)
			}
		}
	}
	v.events = NewEvents(v, src.dispatcher())
	v.subs = []*Subscription{
		src.Bind(EventChange, v.onChange),
		src.Bind(EventSort, v.onReorder),
		src.Bind(EventReset, v.onReorder),
	}
	return v, nil
}

// Columns derives a view exposing only the named columns of ds.
func (ds *Dataset) Columns(names ...string) (*View, error) {
	return newView(ds, Query{Columns: names})
}

// Rows derives a view of the rows of ds matching pred.
func (ds *Dataset) Rows(pred Predicate) (*View, error) {
	return newView(ds, Query{Rows: pred})
}

// Where derives a view that is both projected and filtered.
func (ds *Dataset) Where(q Query) (*View, error) {
	return newView(ds, q)
}

// Columns derives a view exposing only the named columns of v.
func (v *View) Columns(names ...string) (*View, error) {
	if v.closed {
		return nil, ErrClosed
	}
	return newView(v, Query{Columns: names})
}

// Rows derives a view of the rows of v matching pred.
func (v *View) Rows(pred Predicate) (*View, error) {
	if v.closed {
		return nil, ErrClosed
	}
	return newView(v, Query{Rows: pred})
}

// Where derives a view of v that is both projected and filtered.
func (v *View) Where(q Query) (*View, error) {
	if v.closed {
		return nil, ErrClosed
	}
	return newView(v, q)
}

// Bind implements Observable.
func (v *View) Bind(name string, h Handler) *Subscription { return v.events.Bind(name, h) }

// Unbind implements Observable.
func (v *View) Unbind(sub *Subscription) { v.events.Unbind(sub) }

// Trigger implements Observable.
func (v *View) Trigger(name string, ev Event) { v.events.Trigger(name, ev) }

// Close detaches the view from its source. A closed view is empty; Materialize first to
// keep its rows.
func (v *View) Close() {
	if v.closed {
		return
	}
	for _, s := range v.subs {
		s.Unbind()
	}
	v.subs = nil
	v.positions = nil
	v.index = nil
	v.closed = true
}

func (v *View) matches(r Row) bool {
	return r != nil && (v.pred == nil || v.pred(r))
}

func (v *View) projected(r Row) Row {
	if r == nil {
		return nil
	}
	return r.project(v.columns)
}

// ColumnNames returns the visible columns, identity column first.
func (v *View) ColumnNames() []string {
	src := v.source.ColumnNames()
	if v.columns == nil {
		return src
	}
	present := make(map[string]struct{}, len(src))
	for _, name := range src {
		present[name] = struct{}{}
	}
	out := []string{IDColumn}
	for _, name := range v.columns {
		if _, ok := present[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func (v *View) visible(name string) bool {
	if name == IDColumn || v.columns == nil {
		return true
	}
	for _, c := range v.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Column returns a copy of a visible column holding only the visible rows, in view order.
func (v *View) Column(name string) (*Column, error) {
	t, err := v.ColumnType(name)
	if err != nil {
		return nil, err
	}
	vals, err := v.values(name)
	if err != nil {
		return nil, err
	}
	col := NewColumn(name, t, "", false)
	col.values = append([]interface{}(nil), vals...)
	return col, nil
}

// ColumnType returns the type of a visible column.
func (v *View) ColumnType(name string) (ColumnType, error) {
	if !v.visible(name) {
		return Mixed, columnNotFound(name)
	}
	return v.source.ColumnType(name)
}

// onChange translates a source change into this view's terms: a row entering the filter
// is an add, a row leaving it a remove, and updates only report visible columns.
func (v *View) onChange(_ Observable, ev Event) {
	ce, ok := ev.(*ChangeEvent)
	if !ok {
		return
	}
	v.stale = true
	data := dataColumns(v.ColumnNames())
	var deltas []Delta
	for _, d := range ce.Deltas {
		was, is := v.matches(d.Before), v.matches(d.After)
		switch {
		case was && is:
			var changed []string
			for _, name := range d.Changed {
				if v.visible(name) {
					changed = append(changed, name)
				}
			}
			if len(changed) == 0 {
				continue
			}
			deltas = append(deltas, Delta{Kind: Update, RowID: d.RowID, Before: v.projected(d.Before), After: v.projected(d.After), Changed: changed})
		case was:
			deltas = append(deltas, Delta{Kind: Remove, RowID: d.RowID, Before: v.projected(d.Before), Changed: data})
		case is:
			deltas = append(deltas, Delta{Kind: Add, RowID: d.RowID, After: v.projected(d.After), Changed: data})
		}
	}
	if len(deltas) == 0 && len(ce.Deltas) > 0 {
		return
	}
	v.log.V(4).Info("forwarding change", "deltas", len(deltas), "upstream", len(ce.Deltas))
	changeEventsTotal.WithLabelValues("view").Inc()
	v.events.Trigger(EventChange, &ChangeEvent{Source: v, Deltas: deltas})
}

func (v *View) onReorder(_ Observable, ev Event) {
	v.stale = true
	switch ev.(type) {
	case *SortEvent:
		if v.order == nil {
			v.events.Trigger(EventSort, &SortEvent{Source: v})
		}
	case *ResetEvent:
		v.events.Trigger(EventReset, &ResetEvent{Source: v})
	}
}

// ensure recomputes the visible positions if the source changed since the last access.
func (v *View) ensure() {
	if v.closed {
		return
	}
	version := v.source.storageVersion()
	if !v.stale && version == v.seen {
		return
	}
	n := v.source.Len()
	v.positions = v.positions[:0]
	for pos := 0; pos < n; pos++ {
		if v.matches(v.source.row(pos)) {
			v.positions = append(v.positions, pos)
		}
	}
	if v.order != nil {
		rows := make(map[int]Row, len(v.positions))
		for _, pos := range v.positions {
			rows[pos] = v.source.row(pos)
		}
		sort.SliceStable(v.positions, func(i, j int) bool {
			return v.order(rows[v.positions[i]], rows[v.positions[j]]) < 0
		})
	}
	v.index = make(map[RowID]int, len(v.positions))
	for i, pos := range v.positions {
		if id, ok := v.source.row(pos).ID(); ok {
			v.index[id] = i
		}
	}
	v.stale = false
	v.seen = version
	v.log.V(4).Info("recomputed", "rows", len(v.positions), "source", n)
}

// Len returns the number of visible rows.
func (v *View) Len() int {
	v.ensure()
	return len(v.positions)
}

func (v *View) row(pos int) Row {
	v.ensure()
	return v.projected(v.source.row(v.positions[pos]))
}

// RowByPosition returns a copy of the visible row at position i.
func (v *View) RowByPosition(i int) (Row, error) {
	if i < 0 || i >= v.Len() {
		return nil, &NotFoundError{What: "position", Key: i}
	}
	return v.row(i), nil
}

// RowByID returns a copy of the row with the given identity if it is visible.
func (v *View) RowByID(id RowID) (Row, error) {
	v.ensure()
	pos, ok := v.index[id]
	if !ok {
		return nil, rowNotFound(id)
	}
	return v.row(pos), nil
}

// Each calls fn with a copy of every visible row in view order until fn returns false.
func (v *View) Each(fn func(row Row, pos int) bool) {
	for pos := 0; pos < v.Len(); pos++ {
		if !fn(v.row(pos), pos) {
			return
		}
	}
}

// ReverseEach is Each from the last position to the first.
func (v *View) ReverseEach(fn func(row Row, pos int) bool) {
	for pos := v.Len() - 1; pos >= 0; pos-- {
		if !fn(v.row(pos), pos) {
			return
		}
	}
}

// Sort orders the view's rows by cmp without reordering the source. Later source changes
// keep the order.
func (v *View) Sort(cmp Comparator) error {
	if v.closed {
		return ErrClosed
	}
	if cmp == nil {
		return &ValidationError{Cause: fmt.Errorf("sort: nil comparator")}
	}
	v.order = cmp
	v.stale = true
	v.resorts++
	v.ensure()
	v.events.Trigger(EventSort, &SortEvent{Source: v})
	return nil
}

// SortBy sorts the view by one visible column.
func (v *View) SortBy(column string, desc bool) error {
	if _, err := v.ColumnType(column); err != nil {
		return fmt.Errorf("sort: %w", err)
	}
	return v.Sort(ByColumn(column, desc))
}

// ToJSON renders the visible rows like Dataset.ToJSON.
func (v *View) ToJSON() ([]byte, error) {
	return rowsToJSON(v.ColumnNames(), v.Len(), v.row)
}

// Snapshot returns an immutable copy of the visible rows.
func (v *View) Snapshot() *Snapshot {
	rows := make([]Row, 0, v.Len())
	v.Each(func(r Row, _ int) bool {
		rows = append(rows, r)
		return true
	})
	s, err := NewSnapshot(v.ColumnNames(), rows)
	if err != nil {
		// rows come from a table whose identities are unique
		panic(err)
	}
	return s
}

// Materialize copies the visible rows, identities included, into a new independent
// Dataset. The new dataset shares the view's dispatcher unless options say otherwise.
func (v *View) Materialize(options ...Option) (*Dataset, error) {
	names := v.ColumnNames()
	specs := make([]ColumnSpec, len(names))
	for i, name := range names {
		t, err := v.source.ColumnType(name)
		if err != nil {
			return nil, fmt.Errorf("materialize: %w", err)
		}
		specs[i] = ColumnSpec{Name: name, Type: t, Data: make([]interface{}, 0, v.Len())}
	}
	v.Each(func(r Row, _ int) bool {
		for i, name := range names {
			specs[i].Data = append(specs[i].Data, r[name])
		}
		return true
	})
	opts := append([]Option{WithDispatcher(v.dispatcher()), WithLogger(v.logger())}, options...)
	ds, err := New(Data{Columns: specs}, opts...)
	if err != nil {
		return nil, fmt.Errorf("materialize: %w", err)
	}
	return ds, nil
}

func (v *View) values(column string) ([]interface{}, error) {
	if !v.visible(column) {
		return nil, columnNotFound(column)
	}
	all, err := v.source.values(column)
	if err != nil {
		return nil, err
	}
	v.ensure()
	out := make([]interface{}, len(v.positions))
	for i, pos := range v.positions {
		out[i] = all[pos]
	}
	return out, nil
}

func (v *View) dispatcher() *Dispatcher { return v.source.dispatcher() }

func (v *View) logger() logr.Logger { return v.source.logger() }

// storageVersion changes whenever the source's storage or this view's order does.
func (v *View) storageVersion() uint64 { return v.source.storageVersion() + v.resorts }
