package miso

import (
	"fmt"

	"github.com/go-logr/logr"
)

// Product is a value computed from one column of a Dataset or View that follows its
// source. It recomputes after every relevant source change, including reorders since a
// custom reducer may depend on row order, but only emits a change event, carrying a
// ValueEvent, when the value actually differs from the previous one.
type Product struct {
	source  Source
	column  string
	name    string
	reducer Reducer
	value   interface{}
	err     error
	closed  bool
	events  *Events
	subs    []*Subscription
	log     logr.Logger
}

func newProduct(src Source, column, name string, reducer Reducer) (*Product, error) {
	if reducer == nil {
		return nil, &ValidationError{Column: column, Cause: fmt.Errorf("product %q: nil reducer", name)}
	}
	if _, err := src.ColumnType(column); err != nil {
		return nil, fmt.Errorf("product %q: %w", name, err)
	}
	p := &Product{
		source:  src,
		column:  column,
		name:    name,
		reducer: reducer,
		log:     src.logger().WithName("product").WithValues("reducer", name, "column", column),
	}
	p.events = NewEvents(p, src.dispatcher())
	p.value, p.err = p.compute()
	p.subs = []*Subscription{
		src.Bind(EventChange, p.onChange),
		src.Bind(EventSort, p.onChange),
		src.Bind(EventReset, p.onChange),
	}
	return p, nil
}

// Val returns the cached value.
func (p *Product) Val() interface{} {
	return p.value
}

// Err returns the error from the last recompute, e.g. when the column was removed from
// the source. Val is nil while Err is set.
func (p *Product) Err() error {
	return p.err
}

// Column returns the name of the column the product reduces.
func (p *Product) Column() string { return p.column }

// Bind implements Observable.
func (p *Product) Bind(name string, h Handler) *Subscription { return p.events.Bind(name, h) }

// Unbind implements Observable.
func (p *Product) Unbind(sub *Subscription) { p.events.Unbind(sub) }

// Trigger implements Observable.
func (p *Product) Trigger(name string, ev Event) { p.events.Trigger(name, ev) }

// Close stops the product from following its source. Val keeps the last value.
func (p *Product) Close() {
	if p.closed {
		return
	}
	for _, s := range p.subs {
		s.Unbind()
	}
	p.subs = nil
	p.closed = true
}

func (p *Product) compute() (interface{}, error) {
	values, err := p.source.values(p.column)
	if err != nil {
		return nil, err
	}
	return p.reducer(values), nil
}

func (p *Product) onChange(_ Observable, ev Event) {
	if ce, ok := ev.(*ChangeEvent); ok && ce.Count(Add) == 0 && ce.Count(Remove) == 0 && !ce.Affects(p.column) {
		return
	}
	productRecomputesTotal.Inc()
	value, err := p.compute()
	if err != nil {
		p.log.Error(err, "recompute failed")
	}
	previous := p.value
	p.value, p.err = value, err
	if valuesEqual(previous, value) {
		p.log.V(4).Info("value unchanged")
		return
	}
	p.log.V(1).Info("value changed", "value", value, "previous", previous)
	productEmitsTotal.Inc()
	p.events.Trigger(EventChange, &ValueEvent{Source: p, Value: value, Previous: previous})
}

// Min derives a product tracking the smallest value of a column.
func (ds *Dataset) Min(column string) (*Product, error) {
	return newProduct(ds, column, "min", MinReducer)
}

// Max derives a product tracking the largest value of a column.
func (ds *Dataset) Max(column string) (*Product, error) {
	return newProduct(ds, column, "max", MaxReducer)
}

// Sum derives a product tracking the sum of a numeric column.
func (ds *Dataset) Sum(column string) (*Product, error) {
	return newProduct(ds, column, "sum", SumReducer)
}

// Mean derives a product tracking the mean of a numeric column.
func (ds *Dataset) Mean(column string) (*Product, error) {
	return newProduct(ds, column, "mean", MeanReducer)
}

// Count derives a product tracking the number of non-empty values of a column.
func (ds *Dataset) Count(column string) (*Product, error) {
	return newProduct(ds, column, "count", CountReducer)
}

// Reduce derives a product using a custom reducer.
func (ds *Dataset) Reduce(column, name string, r Reducer) (*Product, error) {
	return newProduct(ds, column, name, r)
}

// Min derives a product tracking the smallest visible value of a column.
func (v *View) Min(column string) (*Product, error) {
	return v.product(column, "min", MinReducer)
}

// Max derives a product tracking the largest visible value of a column.
func (v *View) Max(column string) (*Product, error) {
	return v.product(column, "max", MaxReducer)
}

// Sum derives a product tracking the sum of the visible values of a column.
func (v *View) Sum(column string) (*Product, error) {
	return v.product(column, "sum", SumReducer)
}

// Mean derives a product tracking the mean of the visible values of a column.
func (v *View) Mean(column string) (*Product, error) {
	return v.product(column, "mean", MeanReducer)
}

// Count derives a product tracking the number of visible non-empty values of a column.
func (v *View) Count(column string) (*Product, error) {
	return v.product(column, "count", CountReducer)
}

// Reduce derives a product using a custom reducer.
func (v *View) Reduce(column, name string, r Reducer) (*Product, error) {
	return v.product(column, name, r)
}

func (v *View) product(column, name string, r Reducer) (*Product, error) {
	if v.closed {
		return nil, ErrClosed
	}
	return newProduct(v, column, name, r)
}
