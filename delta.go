package miso

// DeltaKind classifies a row-level change.
type DeltaKind int

const (
	// Add marks a row that did not exist before the mutation.
	Add DeltaKind = iota
	// Remove marks a row that no longer exists after the mutation.
	Remove
	// Update marks a row whose values changed in at least one column.
	Update
)

func (k DeltaKind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	case Update:
		return "update"
	}
	return "unknown"
}

// Delta is one row-level change. Before is nil for adds and After is nil for removes.
// Changed lists the columns whose values differ; for adds and removes that is every data
// column of the row.
type Delta struct {
	Kind    DeltaKind
	RowID   RowID
	Before  Row
	After   Row
	Changed []string
}

// IsAdd reports whether d adds a row.
func IsAdd(d Delta) bool { return d.Kind == Add }

// IsRemove reports whether d removes a row.
func IsRemove(d Delta) bool { return d.Kind == Remove }

// IsUpdate reports whether d changes an existing row.
func IsUpdate(d Delta) bool { return d.Kind == Update }

// Event names.
const (
	EventChange = "change"
	EventSort   = "sort"
	EventReset  = "reset"
)

// Event is anything delivered through an event channel.
type Event interface {
	EventName() string
}

// ChangeEvent is the batch of deltas produced by one mutation.
type ChangeEvent struct {
	// Source is the dataset or view whose contents changed.
	Source Observable
	Deltas []Delta
}

// EventName returns EventChange.
func (ev *ChangeEvent) EventName() string { return EventChange }

// AffectedColumns returns the union of the deltas' changed columns, in order of first
// appearance.
func (ev *ChangeEvent) AffectedColumns() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, d := range ev.Deltas {
		for _, name := range d.Changed {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Affects reports whether any delta touches the named column.
func (ev *ChangeEvent) Affects(column string) bool {
	for _, d := range ev.Deltas {
		for _, name := range d.Changed {
			if name == column {
				return true
			}
		}
	}
	return false
}

// Count returns how many deltas of the given kind the event carries.
func (ev *ChangeEvent) Count(kind DeltaKind) int {
	n := 0
	for _, d := range ev.Deltas {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// SortEvent reports that row positions were reordered without changing any values.
type SortEvent struct {
	Source Observable
}

// EventName returns EventSort.
func (ev *SortEvent) EventName() string { return EventSort }

// ResetEvent reports that a table's contents were replaced wholesale, e.g. by Fetch.
type ResetEvent struct {
	Source Observable
}

// EventName returns EventReset.
func (ev *ResetEvent) EventName() string { return EventReset }

// ValueEvent is emitted by a Product whose value changed.
type ValueEvent struct {
	Source   Observable
	Value    interface{}
	Previous interface{}
}

// EventName returns EventChange.
func (ev *ValueEvent) EventName() string { return EventChange }

// coalesce folds a sequence of deltas into at most one delta per row, in order of each
// row's first appearance. Used to batch events when sync mode is off.
func coalesce(columns []string, deltas []Delta) []Delta {
	index := map[RowID]int{}
	var out []Delta
	dropped := map[int]bool{}
	for _, d := range deltas {
		i, ok := index[d.RowID]
		if !ok || dropped[i] {
			index[d.RowID] = len(out)
			out = append(out, d)
			continue
		}
		prev := out[i]
		switch {
		case prev.Kind == Add && d.Kind == Update:
			prev.After = d.After
		case prev.Kind == Add && d.Kind == Remove:
			dropped[i] = true
		case prev.Kind == Update && d.Kind == Update:
			prev.After = d.After
			prev.Changed = diffRows(columns, prev.Before, prev.After)
			if len(prev.Changed) == 0 {
				dropped[i] = true
			}
		case prev.Kind == Update && d.Kind == Remove:
			prev = Delta{Kind: Remove, RowID: d.RowID, Before: prev.Before, Changed: d.Changed}
		case prev.Kind == Remove && d.Kind == Add:
			prev = Delta{Kind: Update, RowID: d.RowID, Before: prev.Before, After: d.After}
			prev.Changed = diffRows(columns, prev.Before, prev.After)
			if len(prev.Changed) == 0 {
				dropped[i] = true
			}
		default:
			prev = d
		}
		out[i] = prev
	}
	if len(dropped) == 0 {
		return out
	}
	kept := out[:0]
	for i, d := range out {
		if !dropped[i] {
			kept = append(kept, d)
		}
	}
	return kept
}
