package miso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestView(t *testing.T, src interface {
	Where(Query) (*View, error)
}, q Query) *View {
	t.Helper()
	v, err := src.Where(q)
	require.NoError(t, err)
	return v
}

func TestViewTranslatesDeltas(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, []Row{{"n": 1, "s": "a"}, {"n": 5, "s": "b"}})
	v := newTestView(t, ds, Query{Columns: []string{"n"}, Rows: Gt("n", 3.0)})
	var rec recorder
	v.Bind(EventChange, rec.handle)
	assert.Equal(t, 1, v.Len())

	_, err := ds.Update(Row{IDColumn: RowID(1), "n": 4})
	require.NoError(t, err)
	require.Len(t, rec.changes(), 1)
	d := rec.changes()[0].Deltas[0]
	assert.Equal(t, Add, d.Kind)
	assert.Equal(t, Row{IDColumn: RowID(1), "n": 4.0}, d.After)
	assert.Equal(t, []string{"n"}, d.Changed)
	assert.Same(t, v, rec.changes()[0].Source)

	_, err = ds.Update(Row{IDColumn: RowID(2), "n": 0})
	require.NoError(t, err)
	require.Len(t, rec.changes(), 2)
	d = rec.changes()[1].Deltas[0]
	assert.Equal(t, Remove, d.Kind)
	assert.Equal(t, RowID(2), d.RowID)
	assert.Equal(t, Row{IDColumn: RowID(2), "n": 5.0}, d.Before)

	_, err = ds.Update(Row{IDColumn: RowID(1), "s": "z"})
	require.NoError(t, err)
	assert.Len(t, rec.changes(), 2)

	_, err = ds.Update(Row{IDColumn: RowID(1), "n": 7, "s": "y"})
	require.NoError(t, err)
	require.Len(t, rec.changes(), 3)
	d = rec.changes()[2].Deltas[0]
	assert.Equal(t, Update, d.Kind)
	assert.Equal(t, []string{"n"}, d.Changed)

	_, err = ds.Add(Row{"n": 0})
	require.NoError(t, err)
	assert.Len(t, rec.changes(), 3)
	assert.Equal(t, 1, v.Len())
}

func TestViewReadsThrough(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(3, 1, 2))
	v := newTestView(t, ds, Query{Rows: Lt("n", 3.0)})
	_, err := ds.Add(Row{"n": 0})
	require.NoError(t, err)
	assert.Equal(t, 3, v.Len())
	r, err := v.RowByID(4)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r["n"])
	_, err = v.RowByID(1)
	assert.ErrorIs(t, err, ErrNotFound)

	var ids []RowID
	v.Each(func(r Row, _ int) bool {
		id, _ := r.ID()
		ids = append(ids, id)
		return true
	})
	assert.Equal(t, []RowID{2, 3, 4}, ids)
	ids = nil
	v.ReverseEach(func(r Row, _ int) bool {
		id, _ := r.ID()
		ids = append(ids, id)
		return false
	})
	assert.Equal(t, []RowID{4}, ids)

	col, err := v.Column("n")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1.0, 2.0, 0.0}, col.Values())
}

func TestViewSort(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(3, 1, 2))
	v := newTestView(t, ds, Query{})
	var rec recorder
	v.Bind(EventSort, rec.handle)
	require.NoError(t, v.SortBy("n", false))
	b, err := v.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, `[{"_id":2,"n":1},{"_id":3,"n":2},{"_id":1,"n":3}]`, string(b))
	assert.Len(t, rec.events, 1)

	pos, _ := ds.PositionOf(1)
	assert.Equal(t, 0, pos)

	_, err = ds.Add(Row{"n": 1.5})
	require.NoError(t, err)
	r, err := v.RowByPosition(1)
	require.NoError(t, err)
	assert.Equal(t, 1.5, r["n"])

	require.NoError(t, ds.SortBy("n", true))
	assert.Len(t, rec.events, 1)
	assert.ErrorIs(t, v.SortBy("nope", false), ErrNotFound)
}

func TestViewForwardsSourceSort(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(3, 1, 2))
	v := newTestView(t, ds, Query{Rows: Gt("n", 1.0)})
	var rec recorder
	v.Bind(EventSort, rec.handle)
	require.NoError(t, ds.SortBy("n", false))
	require.Len(t, rec.events, 1)
	assert.Same(t, v, rec.events[0].(*SortEvent).Source)
	r, err := v.RowByPosition(0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, r["n"])
}

func TestNestedViews(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, []Row{{"a": 1, "b": 10, "c": "x"}, {"a": 2, "b": 20, "c": "y"}})
	v1 := newTestView(t, ds, Query{Columns: []string{"a", "b"}})
	v2 := newTestView(t, v1, Query{Columns: []string{"b"}, Rows: Gt("a", 1.0)})
	assert.Equal(t, []string{IDColumn, "b"}, v2.ColumnNames())
	assert.Equal(t, 1, v2.Len())

	_, err := v1.Columns("c")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ds.Columns("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	var rec recorder
	v2.Bind(EventChange, rec.handle)
	_, err = ds.Update(Row{IDColumn: RowID(2), "b": 21, "c": "z"})
	require.NoError(t, err)
	require.Len(t, rec.changes(), 1)
	assert.Equal(t, []string{"b"}, rec.changes()[0].AffectedColumns())

	_, err = ds.Update(Row{IDColumn: RowID(1), "a": 3})
	require.NoError(t, err)
	require.Len(t, rec.changes(), 2)
	assert.Equal(t, 1, rec.changes()[1].Count(Add))
	assert.Equal(t, 2, v2.Len())
}

func TestViewClose(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(1, 2))
	v := newTestView(t, ds, Query{})
	var rec recorder
	v.Bind(EventChange, rec.handle)
	assert.Equal(t, 2, v.Len())
	v.Close()
	v.Close()
	assert.Equal(t, 0, v.Len())
	_, err := ds.Add(Row{"n": 3})
	require.NoError(t, err)
	assert.Empty(t, rec.events)
	assert.Equal(t, 0, ds.events.Len(EventChange))

	_, err = v.Rows(All)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = v.Min("n")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, v.Sort(ByColumn("n", false)), ErrClosed)
}

func TestMaterialize(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, []Row{{"n": 1, "s": "a"}, {"n": 2, "s": "b"}, {"n": 3, "s": "c"}})
	v := newTestView(t, ds, Query{Columns: []string{"s"}, Rows: Gt("n", 1.0)})
	m, err := v.Materialize(WithStrict(true))
	require.NoError(t, err)
	require.NoError(t, m.checkInvariants())
	assert.Equal(t, []string{IDColumn, "s"}, m.ColumnNames())
	assert.Equal(t, 2, m.Len())
	r, err := m.RowByID(3)
	require.NoError(t, err)
	assert.Equal(t, "c", r["s"])

	_, err = ds.Remove(All)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Len())
	assert.Equal(t, 2, m.Len())

	ev, err := m.Add(Row{"s": "d"})
	require.NoError(t, err)
	assert.Equal(t, RowID(4), ev.Deltas[0].RowID)
	_, err = m.Add(Row{"n": 1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestViewSnapshot(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(1, 2, 3))
	v := newTestView(t, ds, Query{Rows: Gt("n", 1.0)})
	before := v.Snapshot()
	_, err := ds.Update(Row{IDColumn: RowID(1), "n": 10})
	require.NoError(t, err)
	deltas := v.Snapshot().Diff(before)
	require.Len(t, deltas, 1)
	assert.Equal(t, Add, deltas[0].Kind)
	assert.Equal(t, RowID(1), deltas[0].RowID)
}

func TestViewFollowsUnflushedChanges(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(1, 2, 3), WithSync(false))
	v, err := ds.Rows(All)
	require.NoError(t, err)
	big := newTestView(t, v, Query{Rows: Gt("n", 1.5)})
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, 2, big.Len())

	_, err = ds.Remove(All)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Len())
	assert.Equal(t, 0, big.Len())
	_, err = v.RowByPosition(0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ds.Add(Row{"n": 5}, Row{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, 1, big.Len())
	r, err := big.RowByPosition(0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, r["n"])

	_, err = ds.Update(Row{IDColumn: RowID(5), "n": 7})
	require.NoError(t, err)
	assert.Equal(t, 2, big.Len())
	_, err = big.RowByID(5)
	require.NoError(t, err)
	assert.Equal(t, 6, ds.Pending())
}

func TestViewReadDuringEarlierHandler(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(1, 2))
	var v *View
	var seen []int
	ds.Bind(EventChange, func(Observable, Event) {
		seen = append(seen, v.Len())
		v.Each(func(Row, int) bool { return true })
	})
	v = newTestView(t, ds, Query{Rows: Gt("n", 0.0)})
	_, err := ds.Remove(Eq("n", 1.0))
	require.NoError(t, err)
	_, err = ds.Add(Row{"n": 3}, Row{"n": 4})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, seen)
}
