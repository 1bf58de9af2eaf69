package miso

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Importer retrieves a raw payload from somewhere. Implementations must not modify any
// payload they were given.
type Importer interface {
	Extract(ctx context.Context) ([]byte, error)
}

// Parser turns a payload into column specs.
type Parser interface {
	Parse(payload []byte) (*Built, error)
}

// Built is a parsed payload: columns with their types and raw data.
type Built struct {
	Columns []ColumnSpec
}

// CoerceTypes returns a copy of b with every value coerced to its column's type. With
// strict set, the first value that cannot be coerced is an error.
func (b *Built) CoerceTypes(strict bool) (*Built, error) {
	out := &Built{Columns: make([]ColumnSpec, len(b.Columns))}
	for i, spec := range b.Columns {
		spec.Data = append([]interface{}(nil), spec.Data...)
		if spec.Name != IDColumn {
			col := NewColumn(spec.Name, spec.Type, spec.Format, strict)
			for j, v := range spec.Data {
				coerced, err := col.Coerce(v)
				if err != nil {
					return nil, fmt.Errorf("row %d: %w", j, err)
				}
				spec.Data[j] = coerced
			}
		}
		out.Columns[i] = spec
	}
	return out, nil
}

// FetchOptions configures Fetch.
type FetchOptions struct {
	Importer Importer
	Parser   Parser

	// Success is called with the dataset after its contents were replaced.
	Success func(ds *Dataset)

	// Error is called instead of Success when any step failed. The dataset is unchanged.
	Error func(ds *Dataset, err error)

	// Schedule, if set, runs the final step, which replaces the dataset's contents and
	// emits events, e.g. on the host's event loop. By default it runs on the fetch
	// goroutine.
	Schedule func(apply func())
}

// Fetch replaces the dataset's contents with the parsed output of an importer, in the
// background. Extraction and parsing never touch the dataset; the caller must not use the
// dataset from other goroutines while the replacement is applied. A second Fetch before the
// first completes fails with ErrFetchInProgress.
//
// On success the dataset emits a reset event followed by a change event holding the
// difference between the old and new rows, matched by identity.
func (ds *Dataset) Fetch(ctx context.Context, o FetchOptions) {
	if !atomic.CompareAndSwapInt32(&ds.fetching, 0, 1) {
		ds.fetchFailed(o, ErrFetchInProgress)
		return
	}
	go func() {
		start := time.Now()
		built, err := ds.load(ctx, o)
		finish := func() {
			if err == nil {
				err = ds.replace(built)
			}
			atomic.StoreInt32(&ds.fetching, 0)
			ds.fetchDone(o, start, err)
		}
		if o.Schedule != nil {
			o.Schedule(finish)
			return
		}
		finish()
	}()
}

// FetchSync is Fetch on the caller's goroutine. Callbacks are still invoked; the error is
// also returned.
func (ds *Dataset) FetchSync(ctx context.Context, o FetchOptions) error {
	if !atomic.CompareAndSwapInt32(&ds.fetching, 0, 1) {
		ds.fetchFailed(o, ErrFetchInProgress)
		return ErrFetchInProgress
	}
	start := time.Now()
	built, err := ds.load(ctx, o)
	if err == nil {
		err = ds.replace(built)
	}
	atomic.StoreInt32(&ds.fetching, 0)
	ds.fetchDone(o, start, err)
	return err
}

func (ds *Dataset) fetchDone(o FetchOptions, start time.Time, err error) {
	if err != nil {
		fetchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		ds.fetchFailed(o, err)
		return
	}
	fetchDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	ds.log.V(1).Info("fetched", "rows", ds.Len(), "columns", len(ds.columns)-1, "elapsed", time.Since(start))
	if o.Success != nil {
		o.Success(ds)
	}
}

func (ds *Dataset) fetchFailed(o FetchOptions, err error) {
	if o.Error != nil {
		o.Error(ds, err)
		return
	}
	ds.log.Error(err, "fetch failed")
}

// load runs the importer and parser and coerces the result.
func (ds *Dataset) load(ctx context.Context, o FetchOptions) (*Built, error) {
	if o.Importer == nil || o.Parser == nil {
		return nil, &ValidationError{Cause: errors.New("fetch needs an importer and a parser")}
	}
	payload, err := o.Importer.Extract(ctx)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	built, err := o.Parser.Parse(payload)
	if err != nil {
		if !errors.Is(err, ErrValidation) {
			err = &ValidationError{Cause: err}
		}
		return nil, fmt.Errorf("parse: %w", err)
	}
	coerced, err := built.CoerceTypes(ds.opts.Strict)
	if err != nil {
		return nil, fmt.Errorf("coerce: %w", err)
	}
	return coerced, nil
}

// replace swaps in the built contents and emits the resulting events. The new storage is
// built completely before anything is swapped.
func (ds *Dataset) replace(b *Built) error {
	next := newDataset(ds.opts)
	next.nextID = ds.nextID
	if err := next.build(Data{Columns: b.Columns}); err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	old := ds.Snapshot()
	ds.columns = next.columns
	ds.byName = next.byName
	ds.names = next.names
	ds.rowIndex = next.rowIndex
	ds.nextID = next.nextID
	ds.cacheGen = nextCacheGeneration()
	ds.version++
	deltas := ds.Snapshot().Diff(old)
	ds.events.Trigger(EventReset, &ResetEvent{Source: ds})
	ds.emit("fetch", deltas, false)
	return nil
}
