// Package testutil collects in-memory engine.* fakes shared by more than
// one package's tests, so each package's _test.go file doesn't redeclare
// the same handful of stand-ins for the storage engine spec.md leaves out
// of scope. The teacher's own test_utils package plays the same role for
// its Syncer tests (wiring up in-memory Host pairs); this is the async
// query core's equivalent, minus the wire protocol the teacher's version
// sets up (test_utils/sync.go wires two replication.Syncer over an
// in-memory pipe, which has no analogue here since there is no network
// layer in scope).
package testutil

import (
	"sync"

	"github.com/drpcorg/asyncquery/changeset"
	"github.com/drpcorg/asyncquery/engine"
	"github.com/drpcorg/asyncquery/rdx"
)

// Snapshot is a bare version marker implementing engine.Snapshot.
type Snapshot struct {
	V rdx.VV
}

func (s Snapshot) Version() rdx.VV { return s.V }

// View is a fixed row list implementing engine.View.
type View struct {
	RowsVal []engine.RowAt
}

func (v View) Rows() []engine.RowAt { return v.RowsVal }

// Packet is the move-once handover payload shared by every package's fakes,
// mirroring storage.packet's consumed-once guard without depending on the
// storage package.
type Packet struct {
	mu       sync.Mutex
	Version  rdx.VV
	Query    engine.Query
	View     engine.View
	consumed bool
}

func NewQueryPacket(version rdx.VV, q engine.Query) *Packet {
	return &Packet{Version: version, Query: q}
}

func NewViewPacket(version rdx.VV, v engine.View) *Packet {
	return &Packet{Version: version, View: v}
}

func (p *Packet) Take() (engine.Query, engine.View, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumed {
		return nil, nil, false
	}
	p.consumed = true
	return p.Query, p.View, true
}

// Port is a no-op engine.HandoverPort: Export wraps its argument in a
// Packet, Import type-asserts and takes it. Tests that want stale-snapshot
// rejection should wrap this or use storage.Store directly, which is the
// package that actually enforces it (Port never rejects).
type Port struct{}

func (Port) ExportQuery(q engine.Query, snap engine.Snapshot) (engine.Packet, error) {
	return NewQueryPacket(snap.Version(), q), nil
}

func (Port) ImportQuery(p engine.Packet, snap engine.Snapshot) (engine.Query, error) {
	q, _, _ := p.(*Packet).Take()
	return q, nil
}

func (Port) ExportView(v engine.View, snap engine.Snapshot) (engine.Packet, error) {
	return NewViewPacket(snap.Version(), v), nil
}

func (Port) ImportView(p engine.Packet, snap engine.Snapshot) (engine.View, error) {
	_, v, _ := p.(*Packet).Take()
	return v, nil
}

func (Port) CurrentVersion(snap engine.Snapshot) rdx.VV { return snap.Version() }

// Executor returns a fixed sequence of views, one per FindAll call, the
// same "canned results" pattern the teacher's chotki_test.go tests use for
// stand-in hosts. Calling FindAll past the end of Views repeats the last
// one, so a test can register fewer cycles than it runs.
type Executor struct {
	mu    sync.Mutex
	Views []engine.View
	calls int
}

func (e *Executor) FindAll(q engine.Query) (engine.View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Views) == 0 {
		return View{}, nil
	}
	i := e.calls
	if i >= len(e.Views) {
		i = len(e.Views) - 1
	}
	e.calls++
	return e.Views[i], nil
}

// Target is a minimal asyncquery.Target: always alive, bound view captured
// for assertions.
type Target struct {
	mu         sync.Mutex
	AliveVal   bool
	WantsBgVal bool
	LastBound  engine.View
}

func NewTarget() *Target {
	return &Target{AliveVal: true, WantsBgVal: true}
}

func (t *Target) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.AliveVal
}

func (t *Target) WantsBackgroundUpdates() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WantsBgVal
}

func (t *Target) Rebind(v engine.View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LastBound = v
}

func (t *Target) BoundRows() []engine.RowAt {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.LastBound == nil {
		return nil
	}
	return t.LastBound.Rows()
}

// ChangeSource is a fixed-answer coordinator.ChangeSource: one Snapshot,
// one Executor, and a mutable Changes map tests can set between cycles.
type ChangeSource struct {
	mu      sync.Mutex
	Snap    Snapshot
	Exec    *Executor
	Changed changeset.TableChanges
}

func NewChangeSource() *ChangeSource {
	return &ChangeSource{Exec: &Executor{}}
}

func (c *ChangeSource) Snapshot() engine.Snapshot { return c.Snap }
func (c *ChangeSource) Executor() engine.Executor { return c.Exec }

func (c *ChangeSource) Changes() changeset.TableChanges {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Changed
}

func (c *ChangeSource) SetChanges(ch changeset.TableChanges) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Changed = ch
}
