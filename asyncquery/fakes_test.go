package asyncquery

import (
	"sync"

	"github.com/drpcorg/asyncquery/asyncerr"
	"github.com/drpcorg/asyncquery/engine"
	"github.com/drpcorg/asyncquery/rdx"
)

type fakeSnapshot struct{ v rdx.VV }

func (s fakeSnapshot) Version() rdx.VV { return s.v }

type fakeView struct{ rows []engine.RowAt }

func (v fakeView) Rows() []engine.RowAt { return v.rows }

type fakePacket struct {
	mu       sync.Mutex
	version  rdx.VV
	query    engine.Query
	view     engine.View
	consumed bool
}

type fakePort struct{}

func (fakePort) ExportQuery(q engine.Query, snap engine.Snapshot) (engine.Packet, error) {
	return &fakePacket{version: snap.Version(), query: q}, nil
}

func (fakePort) ImportQuery(p engine.Packet, snap engine.Snapshot) (engine.Query, error) {
	fp := p.(*fakePacket)
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.consumed {
		return nil, asyncerr.ErrAlreadyConsumed
	}
	fp.consumed = true
	return fp.query, nil
}

func (fakePort) ExportView(v engine.View, snap engine.Snapshot) (engine.Packet, error) {
	return &fakePacket{version: snap.Version(), view: v}, nil
}

func (fakePort) ImportView(p engine.Packet, snap engine.Snapshot) (engine.View, error) {
	fp := p.(*fakePacket)
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.consumed {
		return nil, asyncerr.ErrAlreadyConsumed
	}
	fp.consumed = true
	return fp.view, nil
}

func (fakePort) CurrentVersion(snap engine.Snapshot) rdx.VV { return snap.Version() }

// fakeExecutor returns views from a fixed queue, one per call, repeating
// the last one once exhausted.
type fakeExecutor struct {
	views []engine.View
	calls int
}

func (e *fakeExecutor) FindAll(q engine.Query) (engine.View, error) {
	i := e.calls
	if i >= len(e.views) {
		i = len(e.views) - 1
	}
	e.calls++
	return e.views[i], nil
}

type fakeTarget struct {
	mu    sync.Mutex
	alive bool
	bound engine.View
}

func newFakeTarget() *fakeTarget { return &fakeTarget{alive: true} }

func (t *fakeTarget) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}

func (t *fakeTarget) WantsBackgroundUpdates() bool { return true }

func (t *fakeTarget) Rebind(v engine.View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bound = v
}

func (t *fakeTarget) boundRows() []engine.RowAt {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bound == nil {
		return nil
	}
	return t.bound.Rows()
}

type fakeCompiledQuery struct{}
