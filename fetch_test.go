package miso

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type importerFunc func(ctx context.Context) ([]byte, error)

func (f importerFunc) Extract(ctx context.Context) ([]byte, error) { return f(ctx) }

type parserFunc func(payload []byte) (*Built, error)

func (f parserFunc) Parse(payload []byte) (*Built, error) { return f(payload) }

func staticImporter(payload string) Importer {
	return importerFunc(func(context.Context) ([]byte, error) { return []byte(payload), nil })
}

func builtParser(columns ...ColumnSpec) Parser {
	return parserFunc(func([]byte) (*Built, error) { return &Built{Columns: columns}, nil })
}

func TestFetchSync(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(1, 2))
	var names []string
	var change *ChangeEvent
	ds.Bind(EventReset, func(_ Observable, ev Event) { names = append(names, ev.EventName()) })
	ds.Bind(EventChange, func(_ Observable, ev Event) {
		names = append(names, ev.EventName())
		change = ev.(*ChangeEvent)
	})
	var succeeded *Dataset
	err := ds.FetchSync(ctx, FetchOptions{
		Importer: staticImporter("ignored"),
		Parser: builtParser(
			ColumnSpec{Name: IDColumn, Type: Mixed, Data: []interface{}{1, 3}},
			ColumnSpec{Name: "n", Type: Number, Data: []interface{}{"10", 30}},
		),
		Success: func(d *Dataset) { succeeded = d },
		Error:   func(*Dataset, error) { t.Error("unexpected error callback") },
	})
	require.NoError(t, err)
	assert.Same(t, ds, succeeded)
	require.NoError(t, ds.checkInvariants())
	assert.Equal(t, []string{EventReset, EventChange}, names)

	require.NotNil(t, change)
	require.Len(t, change.Deltas, 3)
	assert.Equal(t, Update, change.Deltas[0].Kind)
	assert.Equal(t, 10.0, change.Deltas[0].After["n"])
	assert.Equal(t, Remove, change.Deltas[1].Kind)
	assert.Equal(t, RowID(2), change.Deltas[1].RowID)
	assert.Equal(t, Add, change.Deltas[2].Kind)
	assert.Equal(t, RowID(3), change.Deltas[2].RowID)

	ev, err := ds.Add(Row{"n": 4})
	require.NoError(t, err)
	assert.Equal(t, RowID(4), ev.Deltas[0].RowID)
}

func TestFetchUpdatesDerived(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(1, 2))
	v, err := ds.Rows(Gt("n", 1.5))
	require.NoError(t, err)
	p, err := v.Sum("n")
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Val())
	var resets int
	v.Bind(EventReset, func(Observable, Event) { resets++ })

	err = ds.FetchSync(ctx, FetchOptions{
		Importer: staticImporter(""),
		Parser:   builtParser(ColumnSpec{Name: "n", Type: Number, Data: []interface{}{5, 6, 1}}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resets)
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, 11.0, p.Val())
}

func TestFetchTransportError(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(1))
	boom := errors.New("connection refused")
	var rec recorder
	ds.Bind(EventChange, rec.handle)
	var callbackErr error
	err := ds.FetchSync(ctx, FetchOptions{
		Importer: importerFunc(func(context.Context) ([]byte, error) { return nil, boom }),
		Parser:   builtParser(),
		Error:    func(_ *Dataset, err error) { callbackErr = err },
	})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, err, callbackErr)
	assert.Equal(t, 1, ds.Len())
	assert.Empty(t, rec.events)
}

func TestFetchParseErrorLeavesDataset(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(1), WithStrict(true))
	err := ds.FetchSync(ctx, FetchOptions{
		Importer: staticImporter(""),
		Parser:   parserFunc(func([]byte) (*Built, error) { return nil, errors.New("bad payload") }),
	})
	assert.ErrorIs(t, err, ErrValidation)

	err = ds.FetchSync(ctx, FetchOptions{
		Importer: staticImporter(""),
		Parser:   builtParser(ColumnSpec{Name: "n", Type: Number, Data: []interface{}{"x"}}),
	})
	assert.ErrorIs(t, err, ErrValidation)

	err = ds.FetchSync(ctx, FetchOptions{
		Importer: staticImporter(""),
		Parser: builtParser(
			ColumnSpec{Name: "n", Type: Number, Data: []interface{}{1, 2}},
			ColumnSpec{Name: "m", Type: Number, Data: []interface{}{1}},
		),
	})
	assert.ErrorIs(t, err, ErrStructural)

	err = ds.FetchSync(ctx, FetchOptions{Importer: staticImporter("")})
	assert.ErrorIs(t, err, ErrValidation)

	r, err := ds.RowByPosition(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r["n"])
	assert.Equal(t, []string{IDColumn, "n"}, ds.ColumnNames())
}

func TestFetchInProgress(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, nil)
	release := make(chan struct{})
	done := make(chan error, 1)
	ds.Fetch(ctx, FetchOptions{
		Importer: importerFunc(func(context.Context) ([]byte, error) {
			<-release
			return nil, nil
		}),
		Parser:  builtParser(ColumnSpec{Name: "n", Type: Number, Data: []interface{}{1}}),
		Success: func(*Dataset) { done <- nil },
		Error:   func(_ *Dataset, err error) { done <- err },
	})

	var second error
	ds.Fetch(ctx, FetchOptions{
		Importer: staticImporter(""),
		Parser:   builtParser(),
		Error:    func(_ *Dataset, err error) { second = err },
	})
	assert.ErrorIs(t, second, ErrFetchInProgress)
	assert.ErrorIs(t, ds.FetchSync(ctx, FetchOptions{}), ErrFetchInProgress)

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("fetch did not finish")
	}
	assert.Equal(t, 1, ds.Len())
}

func TestFetchSchedule(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, nil)
	apply := make(chan func(), 1)
	ds.Fetch(ctx, FetchOptions{
		Importer: staticImporter(""),
		Parser:   builtParser(ColumnSpec{Name: "s", Data: []interface{}{"a", "b"}}),
		Schedule: func(f func()) { apply <- f },
	})
	var f func()
	select {
	case f = <-apply:
	case <-time.After(10 * time.Second):
		t.Fatal("nothing scheduled")
	}
	assert.Equal(t, 0, ds.Len())
	f()
	assert.Equal(t, 2, ds.Len())
	require.NoError(t, ds.checkInvariants())
}

func TestFetchHonorsCancel(t *testing.T) {
	t.Parallel()
	ds := newTestDataset(t, numbers(1))
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err := ds.FetchSync(cctx, FetchOptions{
		Importer: importerFunc(func(ctx context.Context) ([]byte, error) { return nil, ctx.Err() }),
		Parser:   builtParser(),
	})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCoerceTypesCopies(t *testing.T) {
	t.Parallel()
	b := &Built{Columns: []ColumnSpec{
		{Name: IDColumn, Data: []interface{}{"7"}},
		{Name: "n", Type: Number, Data: []interface{}{"1"}},
	}}
	out, err := b.CoerceTypes(true)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"7"}, out.Columns[0].Data)
	assert.Equal(t, []interface{}{1.0}, out.Columns[1].Data)
	assert.Equal(t, []interface{}{"1"}, b.Columns[1].Data)

	b.Columns[1].Data[0] = "x"
	_, err = b.CoerceTypes(true)
	assert.ErrorIs(t, err, ErrValidation)
	out, err = b.CoerceTypes(false)
	require.NoError(t, err)
	assert.Len(t, out.Columns[1].Data, 1)
}
