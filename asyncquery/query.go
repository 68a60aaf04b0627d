// Package asyncquery implements the per-query state machine of spec.md
// §4.4: the lifecycle that shuttles a compiled query and its materialized
// view between a background worker and one consumer thread, computing and
// delivering changesets along the way. Grounded on the teacher's
// sync.go (Syncer/SyncState/SetFeedState/SetDrainState): a small state
// field under the same mutex that guards the fields it gates, preconditions
// enforced as early returns rather than panics, and a String() method for
// log output.
package asyncquery

import (
	"sync"

	"github.com/drpcorg/asyncquery/asyncerr"
	"github.com/drpcorg/asyncquery/callback"
	"github.com/drpcorg/asyncquery/changeset"
	"github.com/drpcorg/asyncquery/engine"
	"github.com/drpcorg/asyncquery/internal/logx"
	"github.com/drpcorg/asyncquery/rdx"
	"github.com/drpcorg/asyncquery/schema"
	"github.com/google/uuid"
)

// State is one of spec.md §4.4's five linear states plus its two orthogonal
// terminal states.
type State int

const (
	Unattached State = iota
	Attached
	Ran
	HandedOver
	Delivered
	Unregistered
	Errored
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "Unattached"
	case Attached:
		return "Attached"
	case Ran:
		return "Ran"
	case HandedOver:
		return "HandedOver"
	case Delivered:
		return "Delivered"
	case Unregistered:
		return "Unregistered"
	case Errored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// SortKey is one (column, ascending) pair of spec.md §3's sort_spec.
type SortKey struct {
	Column    int
	Ascending bool
}

// Target is the consumer-visible results handle a Query holds a weak
// back-reference to, per spec.md §3 and §9's "Weak back-reference" note.
// The query never owns it; Unregister clears the reference under targetMu.
type Target interface {
	// Alive reports whether the consumer still holds this handle.
	Alive() bool
	// WantsBackgroundUpdates reports spec.md §4.4 run()'s "does not want
	// background updates" predicate for a target with no callbacks.
	WantsBackgroundUpdates() bool
	// Rebind installs a freshly delivered view into the consumer-visible
	// handle, the "hand off a fresh view" responsibility of spec.md §3.
	Rebind(v engine.View)
}

// Query is one live async query: spec.md §3's AsyncQuery, field for field.
type Query struct {
	root  schema.TableID
	sort  []SortKey
	paths []schema.ColumnPath

	port  engine.HandoverPort
	tbls  schema.Tables
	links changeset.LinkReader
	cfg   changeset.Config
	log   logx.Logger
	coord engine.Coordinator

	registry *callback.Registry

	targetMu           sync.Mutex
	state              State
	target             Target
	snapshotVersion    rdx.VV
	deliveredVersion   uint64
	err                error
	initialRunComplete bool
	consumerThread     uuid.UUID

	// Unsynchronized: touched only by Attach/Run/PrepareHandover/Detach,
	// which the coordinator guarantees run on a single background
	// goroutine (spec.md §5's "Unsynchronized fields" paragraph; the
	// happens-before edge into Deliver is the coordinator's scheduling
	// contract, stated here and not enforced at runtime).
	compiledQuery    engine.Query
	pendingView      engine.View
	previousRows     []changeset.RowAt
	deliveredRows    []changeset.RowAt // see "accumulation correctness", SPEC_FULL.md §6.4
	pendingChangeset changeset.ChangeSet
	handoverPacket   engine.Packet
}

// Config groups a Query's fixed, construction-time dependencies.
type Config struct {
	Root           schema.TableID
	Sort           []SortKey
	Port           engine.HandoverPort
	Tables         schema.Tables
	Links          changeset.LinkReader
	DiffConfig     changeset.Config
	Log            logx.Logger
	ConsumerThread uuid.UUID
	// Coordinator receives RequestCommitNotifications() the first time a
	// callback is registered on this query, per spec.md §4.5.
	Coordinator engine.Coordinator
}

// New creates a query in the Unattached state, bound to target and holding
// packet — the already-exported compiled query awaiting its first Attach.
func New(cfg Config, target Target, packet engine.Packet, group string) *Query {
	log := cfg.Log
	if log == nil {
		log = logx.Nop{}
	}
	diffCfg := cfg.DiffConfig
	if diffCfg.MaxPathDepth == 0 {
		diffCfg = changeset.DefaultConfig()
	}
	return &Query{
		root:           cfg.Root,
		sort:           cfg.Sort,
		port:           cfg.Port,
		tbls:           cfg.Tables,
		links:          cfg.Links,
		cfg:            diffCfg,
		log:            log,
		coord:          cfg.Coordinator,
		registry:       callback.NewRegistry(group),
		target:         target,
		consumerThread: cfg.ConsumerThread,
		state:          Unattached,
		handoverPacket: packet,
	}
}

// AddCallback registers fn to be invoked with only the latched error, per
// spec.md §6's empty-watched-paths convenience form.
func (q *Query) AddCallback(fn func(error)) callback.Token {
	return q.AddCallbackWithPaths(nil, func(_ changeset.ChangeSet, err error) { fn(err) })
}

// AddCallbackWithPaths registers fn with the given watched column paths,
// per spec.md §6. The first invocation always fires (SentinelVersion never
// equals any real delivered_version).
func (q *Query) AddCallbackWithPaths(paths []schema.ColumnPath, fn func(changeset.ChangeSet, error)) callback.Token {
	wasEmpty := q.registry.Len() == 0
	tok := q.registry.Add(paths, fn)
	q.rebuildPaths()
	// spec.md §4.5: "request_commit_notifications() ... invoked by the
	// core when the first callback is added."
	if wasEmpty && q.coord != nil {
		q.coord.RequestCommitNotifications()
	}
	return tok
}

// RemoveCallback unregisters tok; immediate, safe from inside a firing
// callback (spec.md §5's "Cancellation").
func (q *Query) RemoveCallback(tok callback.Token) {
	_ = q.registry.Remove(tok)
	q.rebuildPaths()
}

func (q *Query) rebuildPaths() {
	q.targetMu.Lock()
	defer q.targetMu.Unlock()
	q.paths = q.registry.AllPaths()
}

// State reports the query's current lifecycle state.
func (q *Query) State() State {
	q.targetMu.Lock()
	defer q.targetMu.Unlock()
	return q.state
}

// Attach imports the held handover packet against workerSnapshot. Runs on
// the background thread (spec.md §4.4 attach).
func (q *Query) Attach(workerSnapshot engine.Snapshot) error {
	q.targetMu.Lock()
	defer q.targetMu.Unlock()

	if q.state != Unattached {
		return asyncerr.ErrAlreadyAttached
	}
	if q.handoverPacket == nil {
		return asyncerr.ErrNotAttached
	}
	compiled, err := q.port.ImportQuery(q.handoverPacket, workerSnapshot)
	if err != nil {
		q.latchLocked(err)
		return err
	}
	q.compiledQuery = compiled
	q.handoverPacket = nil
	q.snapshotVersion = q.port.CurrentVersion(workerSnapshot)
	q.state = Attached
	q.log.Debug("query attached", "version", q.snapshotVersion.String())
	return nil
}

// Run recomputes pending_view and diffs it, per spec.md §4.4 run(). Runs on
// the background thread.
func (q *Query) Run(executor engine.Executor, changes changeset.TableChanges) error {
	q.targetMu.Lock()
	alive := q.target != nil && q.target.Alive()
	wantsUpdates := alive && (q.registry.Len() > 0 || q.target.WantsBackgroundUpdates())
	initial := q.initialRunComplete
	q.targetMu.Unlock()

	if !alive || !wantsUpdates {
		return nil
	}

	rootChange := changes[q.root]
	paths := q.currentPaths()
	if changeset.ShouldSkip(initial, q.root, rootChange, paths, q.tbls, changes) {
		q.targetMu.Lock()
		q.state = Ran
		q.targetMu.Unlock()
		return nil
	}

	view, err := executor.FindAll(q.compiledQuery)
	if err != nil {
		q.targetMu.Lock()
		q.latchLocked(err)
		q.targetMu.Unlock()
		return err
	}

	newRows := rowsOf(view)
	if initial {
		base := q.previousRows
		// Accumulation correctness (Open Question, resolved per
		// SPEC_FULL.md §6.4): diff against the last *delivered* rows
		// while a handover from a prior cycle is still pending, not the
		// last materialized rows, and let that diff replace the pending
		// changeset, so a skipped delivery can't make the accumulated
		// changeset describe a transition that never happened end to end.
		pending := q.handoverPending()
		if pending {
			base = q.deliveredRows
		}
		diff := changeset.Diff(base, newRows, q.root, rootChange, paths, q.tbls, q.links, changes, q.cfg)
		if diff.Empty() {
			q.previousRows = newRows
			q.targetMu.Lock()
			q.state = Ran
			q.targetMu.Unlock()
			return nil
		}
		if pending {
			q.pendingChangeset = diff
		} else {
			q.pendingChangeset = q.pendingChangeset.Append(diff)
		}
	}
	q.previousRows = newRows
	q.pendingView = view

	q.targetMu.Lock()
	q.state = Ran
	q.targetMu.Unlock()
	return nil
}

func (q *Query) handoverPending() bool {
	q.targetMu.Lock()
	defer q.targetMu.Unlock()
	return q.handoverPacket != nil
}

func rowsOf(v engine.View) []changeset.RowAt {
	raw := v.Rows()
	rows := make([]changeset.RowAt, len(raw))
	for i, r := range raw {
		rows[i] = changeset.RowAt{Row: r.Row, Pos: r.Pos}
	}
	return rows
}

func (q *Query) currentPaths() []schema.ColumnPath {
	q.targetMu.Lock()
	defer q.targetMu.Unlock()
	return q.paths
}

// PrepareHandover exports pending_view into handover_packet, per spec.md
// §4.4 prepare_handover(). Runs on the background thread.
func (q *Query) PrepareHandover(workerSnapshot engine.Snapshot) error {
	if q.pendingView == nil {
		q.targetMu.Lock()
		q.state = HandedOver
		q.targetMu.Unlock()
		return nil
	}
	packet, err := q.port.ExportView(q.pendingView, workerSnapshot)
	if err != nil {
		q.targetMu.Lock()
		q.latchLocked(err)
		q.targetMu.Unlock()
		return err
	}

	q.targetMu.Lock()
	q.handoverPacket = packet
	q.initialRunComplete = true
	q.snapshotVersion = q.port.CurrentVersion(workerSnapshot)
	q.state = HandedOver
	q.targetMu.Unlock()

	q.pendingView = nil
	return nil
}

// Deliver imports the pending view on the consumer thread and rebinds it
// into the target, per spec.md §4.4 deliver(). Returns whether there are
// callbacks waiting to fire. Runs on the consumer thread.
func (q *Query) Deliver(consumerSnapshot engine.Snapshot, consumerThread uuid.UUID, latched error) (bool, error) {
	q.targetMu.Lock()
	defer q.targetMu.Unlock()

	if consumerThread != q.consumerThread {
		return false, asyncerr.ErrWrongConsumerThread
	}
	if q.target == nil {
		return false, asyncerr.ErrTargetReleased
	}
	if latched != nil {
		q.latchLocked(latched)
		return q.registry.Len() > 0, nil
	}
	if !q.initialRunComplete {
		return false, nil
	}
	consumerVersion := q.port.CurrentVersion(consumerSnapshot)
	if !consumerVersion.Equal(q.snapshotVersion) {
		// Stale: leave handoverPacket in place for a later retry.
		return false, nil
	}
	if q.handoverPacket == nil {
		return q.registry.Len() > 0, nil
	}

	view, err := q.port.ImportView(q.handoverPacket, consumerSnapshot)
	if err != nil {
		q.latchLocked(err)
		return true, nil
	}
	q.handoverPacket = nil
	q.target.Rebind(view)
	q.deliveredRows = rowsOf(view)
	q.deliveredVersion++
	q.state = Delivered
	return q.registry.Len() > 0, nil
}

// latchLocked sets err once, per spec.md §3's invariant 3 ("error is
// write-once"). Must be called with targetMu held.
func (q *Query) latchLocked(err error) {
	if q.err == nil {
		q.err = err
	}
	q.state = Errored
}

// CallCallbacks iterates the registry firing (pending_changeset, error)
// until exhausted, per spec.md §4.4 call_callbacks(). Runs on the consumer
// thread.
func (q *Query) CallCallbacks() {
	q.targetMu.Lock()
	version := q.deliveredVersion
	latched := q.err
	cs := q.pendingChangeset
	q.targetMu.Unlock()

	for {
		fn, ok := q.registry.IterateNext(version, latched)
		if !ok {
			break
		}
		fn(cs, latched)
	}

	q.targetMu.Lock()
	q.pendingChangeset = nil
	q.targetMu.Unlock()
}

// Detach exports compiled_query back into handover_packet so it survives
// snapshot advancement, per spec.md §4.4 detach(). Runs on the background
// thread.
func (q *Query) Detach(workerSnapshot engine.Snapshot) error {
	if q.compiledQuery == nil {
		return asyncerr.ErrNotAttached
	}
	packet, err := q.port.ExportQuery(q.compiledQuery, workerSnapshot)
	if err != nil {
		q.targetMu.Lock()
		q.latchLocked(err)
		q.targetMu.Unlock()
		return err
	}
	q.compiledQuery = nil

	q.targetMu.Lock()
	q.handoverPacket = packet
	q.state = Unattached
	q.targetMu.Unlock()
	return nil
}

// ReleaseQuery drops the compiled query entirely, per spec.md §4.4
// release_query(). Valid from any thread once Unregister has been called.
func (q *Query) ReleaseQuery() {
	q.targetMu.Lock()
	defer q.targetMu.Unlock()
	q.compiledQuery = nil
	q.handoverPacket = nil
}

// Unregister nulls the weak target reference atomically with Deliver, per
// spec.md §4.4 unregister(). Idempotent; may race with background work.
func (q *Query) Unregister() {
	q.targetMu.Lock()
	defer q.targetMu.Unlock()
	q.target = nil
	q.state = Unregistered
}

// Err returns the latched background-phase error, if any.
func (q *Query) Err() error {
	q.targetMu.Lock()
	defer q.targetMu.Unlock()
	return q.err
}
