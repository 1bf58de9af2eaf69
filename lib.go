package miso

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
)

// Dataset is an in-memory columnar table. All columns have the same length and position i
// of every column belongs to the same row. The identity column is always first.
//
// A Dataset is not safe for concurrent use; mutations and event delivery happen
// synchronously on the caller's goroutine.
type Dataset struct {
	columns  []*Column
	byName   map[string]int
	names    []string
	rowIndex map[RowID]int
	nextID   RowID
	opts     Options
	events   *Events
	pending  []Delta
	fetching int32
	cacheGen uint64
	// version counts storage changes, whether or not their events were delivered yet.
	version uint64
	log     logr.Logger
}

// ColumnSpec describes one column of construction data or of a parsed payload.
type ColumnSpec struct {
	Name string        `json:"name"`
	Type ColumnType    `json:"type"`
	Data []interface{} `json:"data,omitempty"`
	// Format is the time layout used to parse strings in a Time column.
	Format string `json:"format,omitempty"`
}

// Data is the construction payload of a Dataset: either row objects, or columns with their
// data, or columns describing the schema followed by rows.
type Data struct {
	Columns []ColumnSpec
	Rows    []Row
}

func newDataset(opts Options) *Dataset {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	opts.Logger = logger
	if opts.Dispatcher == nil {
		opts.Dispatcher = NewDispatcher(logger)
	}
	ds := &Dataset{
		byName:   map[string]int{},
		rowIndex: map[RowID]int{},
		nextID:   1,
		opts:     opts,
		cacheGen: nextCacheGeneration(),
		log:      logger.WithName("dataset"),
	}
	ds.events = NewEvents(ds, opts.Dispatcher)
	ds.addColumnStorage(NewColumn(IDColumn, Mixed, "", false))
	return ds
}

// build fills an empty dataset from construction data. IDs not present in the data are
// assigned starting at ds.nextID.
func (ds *Dataset) build(data Data) error {
	specs := data.Columns
	if len(specs) == 0 && len(data.Rows) > 0 {
		specs = inferSpecs(data.Rows)
	}
	length := -1
	var ids []interface{}
	for _, spec := range specs {
		if len(spec.Data) > 0 || len(data.Rows) == 0 {
			if length >= 0 && len(spec.Data) != length {
				return &StructuralError{Message: fmt.Sprintf("column %q has %d values, expected %d", spec.Name, len(spec.Data), length)}
			}
			length = len(spec.Data)
		}
		if spec.Name == IDColumn {
			ids = spec.Data
			continue
		}
		if _, dup := ds.byName[spec.Name]; dup {
			return newStructuralError("duplicate column %q", spec.Name)
		}
		if spec.Name == "" {
			return newStructuralError("column without a name")
		}
		col := NewColumn(spec.Name, spec.Type, spec.Format, ds.opts.Strict)
		col.values = make([]interface{}, 0, len(spec.Data))
		for _, v := range spec.Data {
			coerced, err := col.Coerce(v)
			if err != nil {
				return err
			}
			col.values = append(col.values, coerced)
		}
		ds.addColumnStorage(col)
	}
	if length < 0 {
		length = 0
	}
	idCol := ds.columns[0]
	idCol.values = make([]interface{}, 0, length)
	for i := 0; i < length; i++ {
		var raw interface{}
		if ids != nil {
			raw = ids[i]
		}
		id, err := ds.claimID(raw, nil)
		if err != nil {
			return err
		}
		ds.rowIndex[id] = i
		idCol.values = append(idCol.values, id)
	}
	for _, col := range ds.columns[1:] {
		for len(col.values) < length {
			col.values = append(col.values, col.empty())
		}
	}
	if len(data.Rows) > 0 {
		rows, _, err := ds.prepareAdd(data.Rows)
		if err != nil {
			return err
		}
		for _, r := range rows {
			ds.appendRow(r)
		}
	}
	return nil
}

// inferSpecs derives a schema from row objects. Column order is alphabetical since Go
// maps carry no key order; callers that care pass ColumnSpecs.
func inferSpecs(rows []Row) []ColumnSpec {
	values := map[string][]interface{}{}
	for _, r := range rows {
		for k, v := range r {
			if k == IDColumn {
				continue
			}
			values[k] = append(values[k], v)
		}
	}
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	specs := make([]ColumnSpec, len(names))
	for i, name := range names {
		specs[i] = ColumnSpec{Name: name, Type: InferType(values[name])}
	}
	return specs
}

func (ds *Dataset) addColumnStorage(col *Column) {
	ds.byName[col.name] = len(ds.columns)
	ds.columns = append(ds.columns, col)
	ds.names = append(ds.names, col.name)
	ds.version++
}

func (ds *Dataset) reindexColumns() {
	ds.byName = make(map[string]int, len(ds.columns))
	ds.names = ds.names[:0]
	for i, col := range ds.columns {
		ds.byName[col.name] = i
		ds.names = append(ds.names, col.name)
	}
	ds.cacheGen = nextCacheGeneration()
	ds.version++
}

// claimID validates a caller-supplied identity, or assigns a fresh one when raw is nil.
// reserved holds IDs claimed earlier in the same batch.
func (ds *Dataset) claimID(raw interface{}, reserved map[RowID]struct{}) (RowID, error) {
	if raw != nil {
		id, err := toRowID(raw)
		if err == nil {
			_, taken := ds.rowIndex[id]
			_, batched := reserved[id]
			if !taken && !batched {
				if id >= ds.nextID {
					ds.nextID = id + 1
				}
				return id, nil
			}
			err = fmt.Errorf("%s %d already in use", IDColumn, id)
		}
		if ds.opts.Strict {
			return 0, &StructuralError{Message: "cannot claim row id", Cause: err}
		}
		ds.log.V(1).Info("replacing unusable row id", "id", raw, "reason", err.Error())
	}
	id := ds.nextID
	ds.nextID++
	return id, nil
}

// coerceInto coerces the fields of src that name known columns into dst. Unknown fields
// are an error in strict mode and ignored otherwise.
func (ds *Dataset) coerceInto(dst, src Row) error {
	for name, v := range src {
		if name == IDColumn {
			continue
		}
		i, ok := ds.byName[name]
		if !ok {
			if ds.opts.Strict {
				return &ValidationError{Column: name, Value: v, Cause: columnNotFound(name)}
			}
			continue
		}
		coerced, err := ds.columns[i].Coerce(v)
		if err != nil {
			return err
		}
		dst[name] = coerced
	}
	return nil
}

// prepareAdd coerces rows and claims their IDs without touching storage. nextID is only
// advanced if every row succeeds.
func (ds *Dataset) prepareAdd(rows []Row) ([]Row, []Delta, error) {
	savedNext := ds.nextID
	reserved := map[RowID]struct{}{}
	out := make([]Row, 0, len(rows))
	deltas := make([]Delta, 0, len(rows))
	data := dataColumns(ds.names)
	for _, r := range rows {
		full := make(Row, len(ds.columns))
		for _, col := range ds.columns[1:] {
			full[col.name] = col.empty()
		}
		if err := ds.coerceInto(full, r); err != nil {
			ds.nextID = savedNext
			return nil, nil, err
		}
		id, err := ds.claimID(r[IDColumn], reserved)
		if err != nil {
			ds.nextID = savedNext
			return nil, nil, err
		}
		reserved[id] = struct{}{}
		full[IDColumn] = id
		out = append(out, full)
		deltas = append(deltas, Delta{Kind: Add, RowID: id, After: full.Copy(), Changed: data})
	}
	return out, deltas, nil
}

func (ds *Dataset) appendRow(r Row) {
	id := r[IDColumn].(RowID)
	ds.rowIndex[id] = len(ds.columns[0].values)
	for _, col := range ds.columns {
		col.values = append(col.values, r[col.name])
	}
	ds.version++
}

// rowAt returns a copy of the row at position i, which must be in range.
func (ds *Dataset) rowAt(i int) Row {
	r := make(Row, len(ds.columns))
	for _, col := range ds.columns {
		r[col.name] = col.values[i]
	}
	return r
}

func (ds *Dataset) idAt(i int) RowID {
	return ds.columns[0].values[i].(RowID)
}

// deletePositions drops the rows at the given (ascending) positions from every column.
func (ds *Dataset) deletePositions(positions []int) {
	if len(positions) == 0 {
		return
	}
	for _, col := range ds.columns {
		kept := col.values[:0]
		next := 0
		for i, v := range col.values {
			if next < len(positions) && positions[next] == i {
				next++
				continue
			}
			kept = append(kept, v)
		}
		for i := len(kept); i < len(col.values); i++ {
			col.values[i] = nil
		}
		col.values = kept
	}
	ds.rebuildIndex()
}

// permute reorders every column so that new position i holds old position perm[i].
func (ds *Dataset) permute(perm []int) {
	for _, col := range ds.columns {
		next := make([]interface{}, len(perm))
		for i, p := range perm {
			next[i] = col.values[p]
		}
		col.values = next
	}
	ds.rebuildIndex()
}

func (ds *Dataset) rebuildIndex() {
	ds.rowIndex = make(map[RowID]int, len(ds.columns[0].values))
	for i, v := range ds.columns[0].values {
		ds.rowIndex[v.(RowID)] = i
	}
	ds.version++
}

// emit delivers the deltas of one mutation, or holds them for Flush when sync mode is off.
func (ds *Dataset) emit(op string, deltas []Delta, force bool) *ChangeEvent {
	ev := &ChangeEvent{Source: ds, Deltas: deltas}
	mutationsTotal.WithLabelValues(op).Inc()
	countDeltas(deltas)
	if len(deltas) == 0 && !force {
		return ev
	}
	ds.log.V(1).Info("mutation", "op", op, "deltas", len(deltas))
	if ds.log.V(8).Enabled() {
		for _, d := range deltas {
			ds.log.V(8).Info("delta", "kind", d.Kind.String(), "id", uint64(d.RowID), "changed", d.Changed)
		}
	}
	if !ds.opts.Sync {
		ds.pending = append(ds.pending, deltas...)
		return ev
	}
	changeEventsTotal.WithLabelValues("dataset").Inc()
	ds.events.Trigger(EventChange, ev)
	return ev
}

func (ds *Dataset) checkInvariants() error {
	n := len(ds.columns[0].values)
	for _, col := range ds.columns {
		if len(col.values) != n {
			return fmt.Errorf("column %q has %d values, expected %d", col.name, len(col.values), n)
		}
	}
	if len(ds.rowIndex) != n {
		return fmt.Errorf("row index has %d entries, expected %d", len(ds.rowIndex), n)
	}
	for i, v := range ds.columns[0].values {
		id, ok := v.(RowID)
		if !ok {
			return fmt.Errorf("position %d holds id %#v", i, v)
		}
		if ds.rowIndex[id] != i {
			return fmt.Errorf("row index maps %d to %d, expected %d", id, ds.rowIndex[id], i)
		}
	}
	return nil
}
