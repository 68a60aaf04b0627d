// Package engine defines the two narrow contracts the async query core
// consumes from the outside world (spec.md §1, §4.1, §4.5): the handover
// port, through which a compiled query or a materialized view crosses
// between the background worker and a consumer thread, and the coordinator,
// through which the core asks to be woken for remote commits. Nothing in
// this package implements a real storage engine — that is the job of the
// storage package, one concrete adapter kept alongside it for tests and the
// demo. This split mirrors the teacher's host.Host interface (host/host.go),
// which draws exactly this line between "what the async layer needs" and
// "how the CRDT store happens to provide it".
package engine

import "github.com/drpcorg/asyncquery/rdx"

// Snapshot is a consistent read view of the database at a specific version,
// as spec.md's glossary defines it. It belongs to whichever thread currently
// holds it and is never aliased (spec.md §5).
type Snapshot interface {
	// Version returns this snapshot's version vector.
	Version() rdx.VV
}

// Query is an executable, compiled query, valid only while attached to a
// worker snapshot (spec.md §3). Its shape is entirely owned by the
// out-of-scope query compiler; the core only ever moves it through the
// handover port and hands it to Executor.FindAll.
type Query interface{}

// View is a materialized table view: an ordered sequence of matching rows
// as of some snapshot. The core reads a View's (RowID, position) pairs
// through Rows to diff successive materializations.
type View interface {
	// Rows returns the ordered (RowID, position) sequence this view
	// materialized, sorted by position — the order the query/sort
	// produced, not necessarily sorted by RowID.
	Rows() []RowAt
}

// RowAt pairs a row's identity with its position in a materialized view.
type RowAt struct {
	Row rdx.RowID
	Pos uint64
}

// Executor is the query-compiler-facing surface the core needs to actually
// run a query once it is attached: produce a fresh View against the
// snapshot it was imported on. Everything about how the query is evaluated
// (predicates, sort, indexes) is the compiler's business.
type Executor interface {
	FindAll(q Query) (View, error)
}

// Packet is a serialized, move-only bundle enabling a Query or a View to
// be reconstituted on a different thread's snapshot (spec.md glossary).
// A concrete Packet is expected to carry an internal consumed bool guarded
// by its own small mutex, and to return asyncerr.ErrAlreadyConsumed from a
// second Export/Import rather than silently reusing data (spec.md §9's
// "Move-semantics of handover"). HandoverPort implementations must
// guarantee export is only legal on the thread currently holding the
// snapshot and import is legal on any thread holding the destination
// snapshot (spec.md §4.1).
type Packet interface{}

// HandoverPort abstracts the storage engine's cross-thread export/import of
// queries and table views, tied to snapshot versions (spec.md §4.1).
type HandoverPort interface {
	ExportQuery(q Query, snap Snapshot) (Packet, error)
	ImportQuery(p Packet, snap Snapshot) (Query, error)
	ExportView(v View, snap Snapshot) (Packet, error)
	ImportView(p Packet, snap Snapshot) (View, error)
	CurrentVersion(snap Snapshot) rdx.VV
}

// Coordinator is the narrow contract the core consumes from the scheduling
// layer (spec.md §4.5): a way to ask the underlying engine to wake this
// process on remote commits. Everything else in spec.md §4.5 — running
// attach/run/prepare_handover/detach cycles, scheduling deliver on a
// consumer thread, supplying ChangeRecords — is the coordinator calling
// *into* the core, not a method the core calls on it, so it is not part of
// this interface.
type Coordinator interface {
	RequestCommitNotifications()
}
