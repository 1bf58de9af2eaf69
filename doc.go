/*
Package miso provides an in-memory columnar table whose changes
propagate to everything derived from it. A Dataset holds typed
columns of equal length plus an identity column, "_id", that names
each row for its whole lifetime. Views filter and project a Dataset
(or another View) without copying it, and Products reduce one column
of either to a single value that follows the source as it changes.

Uses

- Live aggregates over a table that an Importer keeps refreshing

- Change data capture: every mutation is described as row-level
deltas that say which columns changed

- Diffing two versions of a table by row identity

Events

Datasets, Views and Products are Observables. Every mutation of a
Dataset produces one "change" event carrying its deltas; Sort
produces "sort" and Fetch produces "reset" followed by "change". A
View translates its source's deltas into its own rows and columns:
a row that starts matching its filter is an add, one that stops
matching is a remove, and updates only mention visible columns. A
Product recomputes after relevant changes and emits a ValueEvent
only when its value actually changed.

Delivery is synchronous and breadth-first. An event triggered while
another is being delivered waits until the first has reached all of
its subscribers, so a Product never observes a View half way
through an update. With WithSync(false) a Dataset instead holds its
deltas until Flush, which delivers them as one coalesced event.

Loading

Fetch replaces a Dataset's contents with what an Importer extracts
and a Parser parses, diffing old and new rows by identity. Importers
and Parsers are looked up by name in a Registry; packages importer
and parser register the stock ones.

Concurrency

A Dataset and everything derived from it belong to one goroutine.
Fetch extracts and parses in the background but applies the result
on the goroutine chosen by FetchOptions.Schedule.
*/
package miso
