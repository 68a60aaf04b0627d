package changeset

import (
	"slices"

	"github.com/drpcorg/asyncquery/rdx"
	"github.com/drpcorg/asyncquery/schema"
)

// TableChanges is the full per-table ChangeRecord map a commit produces,
// needed only for modification detection that reaches through watched
// links (spec.md §4.2: "the full table of change records").
type TableChanges map[schema.TableID]ChangeRecord

func (tc TableChanges) Get(t schema.TableID) (ChangeRecord, bool) {
	cr, ok := tc[t]
	return cr, ok
}

// LinkReader resolves a row's link or link-list column to its target rows,
// the one piece of live row data the row-diff engine needs from the
// (out-of-scope) query compiler/storage engine to walk a watched path.
type LinkReader interface {
	Follow(table schema.TableID, row rdx.RowID, field schema.Field) (targets []rdx.RowID, ok bool)
}

func compareRowID(a, b rdx.RowID) int {
	if a.Equal(b) {
		return 0
	}
	if a.Less(b) {
		return -1
	}
	return 1
}

// Diff implements spec.md §4.2's two-pointer merge by row_index. oldRows and
// newRows need not arrive pre-sorted by RowID: async_query.cpp stable-sorts
// both sequences immediately before the merge pass, because previous_rows
// and a freshly materialized TableView are only guaranteed sorted by
// position, not by row identity, once move-mapping has just been applied —
// a detail spec.md's prose ("ordered sequences") elides. Diff does the same
// stable sort here so callers never have to pre-sort.
func Diff(
	oldRows, newRows []RowAt,
	root schema.TableID,
	rootChange ChangeRecord,
	paths []schema.ColumnPath,
	tables schema.Tables,
	links LinkReader,
	changes TableChanges,
	cfg Config,
) ChangeSet {
	old := make([]RowAt, len(oldRows))
	copy(old, oldRows)
	for i := range old {
		old[i].Row = rootChange.Remap(old[i].Row)
	}
	neu := make([]RowAt, len(newRows))
	copy(neu, newRows)

	slices.SortStableFunc(old, func(a, b RowAt) int { return compareRowID(a.Row, b.Row) })
	slices.SortStableFunc(neu, func(a, b RowAt) int { return compareRowID(a.Row, b.Row) })

	var out ChangeSet
	var shift int64
	i, j := 0, 0
	for i < len(old) && j < len(neu) {
		switch {
		case old[i].Row.Equal(neu[j].Row):
			oldPos := old[i].Pos
			newPos := int64(neu[j].Pos) + shift
			if int64(oldPos) != newPos {
				out = append(out, Change{OldPos: oldPos, NewPos: uint64(newPos)})
			} else if rowModified(root, neu[j].Row, rootChange, paths, tables, links, changes, 0, cfg) {
				out = append(out, Change{OldPos: oldPos, NewPos: oldPos})
			}
			i++
			j++
		case old[i].Row.Less(neu[j].Row):
			out = append(out, Change{OldPos: old[i].Pos, NewPos: Sentinel})
			shift++
			i++
		default:
			out = append(out, Change{OldPos: Sentinel, NewPos: neu[j].Pos})
			shift--
			j++
		}
	}
	for ; i < len(old); i++ {
		out = append(out, Change{OldPos: old[i].Pos, NewPos: Sentinel})
	}
	for ; j < len(neu); j++ {
		out = append(out, Change{OldPos: Sentinel, NewPos: neu[j].Pos})
	}
	return out
}

// rowModified implements spec.md §4.2's "Modification detection": direct
// membership in the root table's Modified set, or a watched path reaching a
// row that appears in the change record of the path's terminal table.
func rowModified(
	root schema.TableID,
	row rdx.RowID,
	rootChange ChangeRecord,
	paths []schema.ColumnPath,
	tables schema.Tables,
	links LinkReader,
	changes TableChanges,
	depth int,
	cfg Config,
) bool {
	if rootChange.IsModified(row) {
		return true
	}
	for _, p := range paths {
		if len(p) == 0 {
			continue
		}
		if pathReachesChange(root, row, p, depth, tables, links, changes, cfg) {
			return true
		}
	}
	return false
}

func pathReachesChange(
	table schema.TableID,
	row rdx.RowID,
	path schema.ColumnPath,
	depth int,
	tables schema.Tables,
	links LinkReader,
	changes TableChanges,
	cfg Config,
) bool {
	if depth > cfg.MaxPathDepth {
		return false
	}
	if len(path) == 0 {
		cr, ok := changes.Get(table)
		if !ok {
			return false
		}
		return cr.IsModified(row)
	}
	fields, ok := tables.FieldsOf(table)
	if !ok || path[0] < 0 || path[0] >= len(fields) {
		return false
	}
	field := fields[path[0]]
	if field.Kind != schema.Link && field.Kind != schema.LinkList {
		return false
	}
	targets, ok := links.Follow(table, row, field)
	if !ok {
		return false
	}
	targetChange, hasChange := changes.Get(field.Target)
	for _, target := range targets {
		if hasChange {
			target = targetChange.Remap(target)
		}
		if pathReachesChange(field.Target, target, path[1:], depth+1, tables, links, changes, cfg) {
			return true
		}
	}
	return false
}

// ShouldSkip implements spec.md §4.2's "Short-circuit" paragraph: a query
// may skip the diff entirely once its initial run has completed, the root
// table has no modified or moved rows, and no table reachable via a watched
// path has modified rows (moves in those tables are not checked).
func ShouldSkip(
	initialRunComplete bool,
	root schema.TableID,
	rootChange ChangeRecord,
	paths []schema.ColumnPath,
	tables schema.Tables,
	changes TableChanges,
) bool {
	if !initialRunComplete {
		return false
	}
	if len(rootChange.Modified) != 0 || len(rootChange.Moves) != 0 {
		return false
	}
	for _, p := range paths {
		for _, t := range reachableTables(root, p, tables) {
			if cr, ok := changes.Get(t); ok && len(cr.Modified) != 0 {
				return false
			}
		}
	}
	return true
}

func reachableTables(table schema.TableID, path schema.ColumnPath, tables schema.Tables) []schema.TableID {
	var out []schema.TableID
	cur := table
	for _, ord := range path {
		fields, ok := tables.FieldsOf(cur)
		if !ok || ord < 0 || ord >= len(fields) {
			return out
		}
		f := fields[ord]
		if f.Kind != schema.Link && f.Kind != schema.LinkList {
			return out
		}
		out = append(out, f.Target)
		cur = f.Target
	}
	return out
}
