package miso

import (
	"github.com/go-logr/logr"
)

// Options controls validation and event delivery for a Dataset. The zero value is not
// used directly; New starts from DefaultOptions and applies Option functions.
type Options struct {
	// Strict makes coercion failures, unknown fields and dangling references errors
	// instead of silently substituting empty values.
	Strict bool

	// Sync fires every mutation's change event before the mutating call returns. When
	// false, change events accumulate until Flush is called and are delivered as a
	// single coalesced event.
	Sync bool

	// EmptyRemoveEvents makes Remove emit a change event with no deltas when the
	// predicate matched no rows. By default nothing is emitted.
	EmptyRemoveEvents bool

	// RowCache caches row fingerprints for the diff engine and may be shared across
	// datasets.
	RowCache RowCache

	// Dispatcher delivers events. Datasets that feed each other (e.g. through
	// Materialize) can share one to keep delivery breadth-first across all of them.
	Dispatcher *Dispatcher

	// Logger receives debug output; defaults to logr.Discard().
	Logger logr.Logger
}

// Option adjusts Options.
type Option func(*Options)

// DefaultOptions returns non-strict, synchronous options.
func DefaultOptions() Options {
	return Options{Sync: true}
}

// WithStrict sets strict validation.
func WithStrict(strict bool) Option {
	return func(o *Options) { o.Strict = strict }
}

// WithSync sets synchronous event delivery.
func WithSync(sync bool) Option {
	return func(o *Options) { o.Sync = sync }
}

// WithEmptyRemoveEvents makes a Remove that matched nothing still emit a change event.
func WithEmptyRemoveEvents(emit bool) Option {
	return func(o *Options) { o.EmptyRemoveEvents = emit }
}

// WithRowCache sets a (possibly shared) row fingerprint cache.
func WithRowCache(c RowCache) Option {
	return func(o *Options) { o.RowCache = c }
}

// WithDispatcher sets the event dispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(o *Options) { o.Dispatcher = d }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(o *Options) { o.Logger = l }
}
