package miso

import (
	"fmt"
	"sort"
)

// diffRows returns the columns whose values differ between before and after, in column
// order. The identity column is never reported.
func diffRows(columns []string, before, after Row) []string {
	var changed []string
	for _, name := range columns {
		if name == IDColumn {
			continue
		}
		if !valuesEqual(before[name], after[name]) {
			changed = append(changed, name)
		}
	}
	return changed
}

func dataColumns(columns []string) []string {
	out := make([]string, 0, len(columns))
	for _, name := range columns {
		if name != IDColumn {
			out = append(out, name)
		}
	}
	return out
}

// Snapshot is an immutable copy of a table's rows, ordered by row ID so two snapshots can
// be compared with a single merge walk.
type Snapshot struct {
	Columns []string
	ids     []RowID
	rows    map[RowID]Row
	fps     map[RowID]fingerprint
}

// NewSnapshot builds a snapshot from rows that all carry an identity.
func NewSnapshot(columns []string, rows []Row) (*Snapshot, error) {
	s := &Snapshot{
		Columns: append([]string(nil), columns...),
		ids:     make([]RowID, 0, len(rows)),
		rows:    make(map[RowID]Row, len(rows)),
	}
	for _, r := range rows {
		id, ok := r.ID()
		if !ok {
			return nil, newStructuralError("snapshot row without %s", IDColumn)
		}
		if _, dup := s.rows[id]; dup {
			return nil, newStructuralError("duplicate %s %d", IDColumn, id)
		}
		s.ids = append(s.ids, id)
		s.rows[id] = r.Copy()
	}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	return s, nil
}

// Len returns the number of rows in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Row returns a copy of the row with the given identity.
func (s *Snapshot) Row(id RowID) (Row, bool) {
	r, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	return r.Copy(), true
}

func (s *Snapshot) fingerprint(id RowID) fingerprint {
	if fp, ok := s.fps[id]; ok {
		return fp
	}
	fp := rowFingerprint(s.Columns, s.rows[id])
	if s.fps == nil {
		s.fps = map[RowID]fingerprint{}
	}
	s.fps[id] = fp
	return fp
}

// DiffIter invokes the given callback for every row that differs from the old snapshot. The
// iteration will stop if the callback returns keepGoing==false or an error. Callback
// invocation with added==removed==false signifies rows whose values have changed. A nil
// old snapshot is treated as empty.
func (s *Snapshot) DiffIter(
	old *Snapshot,
	f func(added, removed bool, id RowID, after, before Row) (bool, error),
) error {
	var oldIDs []RowID
	if old != nil {
		oldIDs = old.ids
	}
	columns := unionColumns(old, s)
	sameShape := old != nil && equalStrings(old.Columns, s.Columns)
	i, j := 0, 0
	for i < len(oldIDs) || j < len(s.ids) {
		var keepGoing bool
		var err error
		switch {
		case j >= len(s.ids) || (i < len(oldIDs) && oldIDs[i] < s.ids[j]):
			id := oldIDs[i]
			keepGoing, err = f(false, true, id, nil, old.rows[id])
			i++
		case i >= len(oldIDs) || s.ids[j] < oldIDs[i]:
			id := s.ids[j]
			keepGoing, err = f(true, false, id, s.rows[id], nil)
			j++
		default:
			id := s.ids[j]
			i++
			j++
			if sameShape && old.fingerprint(id) == s.fingerprint(id) {
				continue
			}
			if len(diffRows(columns, old.rows[id], s.rows[id])) == 0 {
				continue
			}
			keepGoing, err = f(false, false, id, s.rows[id], old.rows[id])
		}
		if err != nil {
			return fmt.Errorf("callback: %w", err)
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

// Diff returns one delta per row that differs between old and s, ordered by row ID.
func (s *Snapshot) Diff(old *Snapshot) []Delta {
	columns := unionColumns(old, s)
	data := dataColumns(columns)
	var deltas []Delta
	_ = s.DiffIter(old, func(added, removed bool, id RowID, after, before Row) (bool, error) {
		d := Delta{RowID: id, Before: before.Copy(), After: after.Copy()}
		switch {
		case added:
			d.Kind, d.Before, d.Changed = Add, nil, data
		case removed:
			d.Kind, d.After, d.Changed = Remove, nil, data
		default:
			d.Kind, d.Changed = Update, diffRows(columns, before, after)
		}
		deltas = append(deltas, d)
		return true, nil
	})
	return deltas
}

func unionColumns(old, s *Snapshot) []string {
	if old == nil {
		return s.Columns
	}
	seen := map[string]struct{}{}
	var out []string
	for _, list := range [][]string{old.Columns, s.Columns} {
		for _, name := range list {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
