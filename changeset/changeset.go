// Package changeset computes the ordered list of positional deltas between
// two materializations of a query's result set — spec.md §4.2's row-diff
// engine, the core's largest single component. It is grounded on Realm's
// original_source/ObjectStore/impl/async_query.cpp calculate_changes and
// row_did_change, which spec.md distills; the two-pointer merge and the
// pre-merge stable sort both come from that source rather than spec.md's
// prose alone (see DESIGN.md).
package changeset

import "github.com/drpcorg/asyncquery/rdx"

// Sentinel marks an absent old or new position: present in OldPos it means
// insert, present in NewPos it means delete.
const Sentinel = ^uint64(0)

// Change is one positional delta, exactly spec.md §6's {old_index, new_index}.
type Change struct {
	OldPos uint64
	NewPos uint64
}

// ChangeSet is the ordered changeset a single diff or a run of diffs
// (spec.md's "changesets compose") produces.
type ChangeSet []Change

func (cs ChangeSet) Empty() bool { return len(cs) == 0 }

// Append concatenates two changesets, the "accumulator" spec.md's
// prepare_handover step describes.
func (cs ChangeSet) Append(other ChangeSet) ChangeSet {
	if len(other) == 0 {
		return cs
	}
	return append(cs, other...)
}

// RowAt pairs a row's stable identity with its current position in an
// ordered view — spec.md §4.2's "(row_index, position) pairs".
type RowAt struct {
	Row rdx.RowID
	Pos uint64
}

// ChangeRecord is one table's worth of edits from a single commit, supplied
// by the coordinator (spec.md §3's ChangeRecord, §4.5).
type ChangeRecord struct {
	Modified map[rdx.RowID]struct{}
	Moves    map[rdx.RowID]rdx.RowID // old identity -> new identity
}

func NewChangeRecord() ChangeRecord {
	return ChangeRecord{Modified: make(map[rdx.RowID]struct{}), Moves: make(map[rdx.RowID]rdx.RowID)}
}

func (cr ChangeRecord) IsModified(row rdx.RowID) bool {
	_, ok := cr.Modified[row]
	return ok
}

// Remap applies this record's move mapping, or returns row unchanged if it
// wasn't moved. Rows that weren't touched by this commit are their own
// image under Remap, which is exactly what letting old_rows and new_rows
// compare correctly after a compaction-driven identity reassignment
// requires (spec.md §4.2 "Move mapping").
func (cr ChangeRecord) Remap(row rdx.RowID) rdx.RowID {
	if to, ok := cr.Moves[row]; ok {
		return to
	}
	return row
}

// Config carries the row-diff engine's one operator-tunable knob, per
// spec.md §9's "the recursion-depth limit ... should be configurable".
type Config struct {
	// MaxPathDepth bounds watched-path recursion through link/link-list
	// columns. Excess depth is treated as "not modified", never an error.
	MaxPathDepth int
}

func DefaultConfig() Config {
	return Config{MaxPathDepth: 16}
}
