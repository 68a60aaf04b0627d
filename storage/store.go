// Package storage is the reference, Pebble-backed implementation of
// engine.HandoverPort, changeset.LinkReader and engine.Executor — the
// concrete storage engine the core's interfaces are designed to hide, kept
// here only so the pipeline can be exercised end to end in tests and the
// demo. Grounded on the teacher's chotki.go (Open/Create, pebble.Options,
// VersionVector, Snapshot) trimmed of the CRDT merge operator and the wire
// protocol layer, neither of which the async query core touches.
package storage

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/drpcorg/asyncquery/asyncerr"
	"github.com/drpcorg/asyncquery/changeset"
	"github.com/drpcorg/asyncquery/engine"
	"github.com/drpcorg/asyncquery/rdx"
	"github.com/drpcorg/asyncquery/schema"
	"github.com/pkg/errors"
)

// Store is a minimal single-writer object table backed by Pebble: enough
// row and link storage to drive real Query/Predicate evaluation and
// watched-path traversal, without a real query compiler.
type Store struct {
	db  *pebble.DB
	src uint64

	mu      sync.Mutex
	version uint64
	tables  schema.Tables
}

// Open opens (creating if absent) a Pebble store at dir, mirroring the
// teacher's chotki.go Open: ErrorIfNotExists is left false so a fresh demo
// directory just works.
func Open(dir string, tables schema.Tables, src uint64) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, src: src, tables: tables}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *pebble.DB { return s.db }

func rowKey(table schema.TableID, row rdx.RowID) []byte {
	key := make([]byte, 0, 6+16)
	key = append(key, 'R')
	key = binary.BigEndian.AppendUint32(key, uint32(table))
	key = append(key, row.Bytes()...)
	return key
}

func linkKey(table schema.TableID, row rdx.RowID, ordinal int) []byte {
	key := rowKey(table, row)
	key = append(key, 'L')
	key = binary.BigEndian.AppendUint32(key, uint32(ordinal))
	return key
}

// PutRow writes a row's column values, one Pebble entry per row (the value
// blob format is opaque to the store; only Query predicates interpret it).
func (s *Store) PutRow(table schema.TableID, row rdx.RowID, value []byte) error {
	if err := s.db.Set(rowKey(table, row), value, pebble.Sync); err != nil {
		return err
	}
	s.mu.Lock()
	s.version++
	s.mu.Unlock()
	return nil
}

// PutLink records row's target row IDs for a link/link-list column.
func (s *Store) PutLink(table schema.TableID, row rdx.RowID, ordinal int, targets []rdx.RowID) error {
	buf := make([]byte, 0, len(targets)*16)
	for _, t := range targets {
		buf = append(buf, t.Bytes()...)
	}
	if err := s.db.Set(linkKey(table, row, ordinal), buf, pebble.Sync); err != nil {
		return err
	}
	s.mu.Lock()
	s.version++
	s.mu.Unlock()
	return nil
}

func (s *Store) RowValue(reader pebble.Reader, table schema.TableID, row rdx.RowID) ([]byte, error) {
	v, closer, err := reader.Get(rowKey(table, row))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Follow implements changeset.LinkReader against the on-disk link records.
func (s *Store) Follow(table schema.TableID, row rdx.RowID, field schema.Field) ([]rdx.RowID, bool) {
	fields, ok := s.tables.FieldsOf(table)
	if !ok {
		return nil, false
	}
	ordinal := fields.Find(field.Name)
	if ordinal < 0 {
		return nil, false
	}
	v, closer, err := s.db.Get(linkKey(table, row, ordinal))
	if err != nil {
		return nil, false
	}
	defer closer.Close()
	targets := make([]rdx.RowID, 0, len(v)/16)
	for i := 0; i+16 <= len(v); i += 16 {
		targets = append(targets, rdx.RowIDFromBytes(v[i:i+16]))
	}
	return targets, true
}

// Version returns the store's current monotone version counter.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Snapshot is a Pebble reader pinned to a version, implementing
// engine.Snapshot.
type Snapshot struct {
	reader  *pebble.Snapshot
	version rdx.VV
}

func (s Snapshot) Version() rdx.VV { return s.version }
func (s Snapshot) Reader() *pebble.Snapshot { return s.reader }
func (s Snapshot) Close() error { return s.reader.Close() }

// Snapshot takes a consistent read view of the store at its current
// version, per spec.md's glossary "consistent read view".
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	v := s.version
	s.mu.Unlock()
	return Snapshot{reader: s.db.NewSnapshot(), version: rdx.VV{s.src: v}}
}

// packet is the move-only handover payload described in spec.md §9's
// "Move-semantics of handover" note: exactly one Export/Import consumes it.
type packet struct {
	mu       sync.Mutex
	version  rdx.VV
	query    engine.Query
	view     engine.View
	consumed bool
}

func (p *packet) take() (engine.Query, engine.View, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumed {
		return nil, nil, asyncerr.ErrAlreadyConsumed
	}
	p.consumed = true
	return p.query, p.view, nil
}

// ExportQuery implements engine.HandoverPort.
func (s *Store) ExportQuery(q engine.Query, snap engine.Snapshot) (engine.Packet, error) {
	return &packet{version: snap.Version(), query: q}, nil
}

// ImportQuery implements engine.HandoverPort; fails if snap's version has
// not caught up to the packet's, per spec.md §4.1.
func (s *Store) ImportQuery(p engine.Packet, snap engine.Snapshot) (engine.Query, error) {
	pk := p.(*packet)
	if !snap.Version().Seen(pk.version) {
		return nil, errors.Wrapf(asyncerr.ErrStaleSnapshot, "import query: consumer at %s, packet at %s", snap.Version(), pk.version)
	}
	q, _, err := pk.take()
	return q, errors.Wrap(err, "import query")
}

// ExportView implements engine.HandoverPort.
func (s *Store) ExportView(v engine.View, snap engine.Snapshot) (engine.Packet, error) {
	return &packet{version: snap.Version(), view: v}, nil
}

// ImportView implements engine.HandoverPort.
func (s *Store) ImportView(p engine.Packet, snap engine.Snapshot) (engine.View, error) {
	pk := p.(*packet)
	if !snap.Version().Seen(pk.version) {
		return nil, errors.Wrapf(asyncerr.ErrStaleSnapshot, "import view: consumer at %s, packet at %s", snap.Version(), pk.version)
	}
	_, v, err := pk.take()
	return v, errors.Wrap(err, "import view")
}

// CurrentVersion implements engine.HandoverPort.
func (s *Store) CurrentVersion(snap engine.Snapshot) rdx.VV { return snap.Version() }

// Query is the reference, out-of-scope-compiler stand-in: a table plus a
// predicate over raw row bytes, and an optional sort key derived the same
// way. Real query compilation is explicitly out of scope (spec.md §1); this
// exists only so Executor.FindAll has something concrete to run.
type Query struct {
	Table   schema.TableID
	Match   func(value []byte) bool
	SortKey func(value []byte) int64 // ascending; nil means unsorted (RowID order)
}

// View is the materialized result of running a Query against a Snapshot.
type View struct {
	rows []engine.RowAt
}

func (v View) Rows() []engine.RowAt { return v.rows }

// executor runs Query values against a Store snapshot; the concrete
// engine.Executor the demo and tests wire in.
type executor struct {
	store *Store
	snap  Snapshot
}

// NewExecutor returns the engine.Executor for one background cycle's
// snapshot.
func NewExecutor(store *Store, snap Snapshot) engine.Executor {
	return &executor{store: store, snap: snap}
}

func (e *executor) FindAll(q engine.Query) (engine.View, error) {
	query := q.(Query)
	prefix := make([]byte, 0, 5)
	prefix = append(prefix, 'R')
	prefix = binary.BigEndian.AppendUint32(prefix, uint32(query.Table))

	iter, err := e.snap.reader.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	type match struct {
		row rdx.RowID
		key int64
	}
	var matches []match
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		row := rdx.RowIDFromBytes(key[len(prefix):])
		value := iter.Value()
		if query.Match != nil && !query.Match(value) {
			continue
		}
		sortKey := int64(0)
		if query.SortKey != nil {
			sortKey = query.SortKey(value)
		}
		matches = append(matches, match{row: row, key: sortKey})
	}
	if query.SortKey != nil {
		for i := 1; i < len(matches); i++ {
			for j := i; j > 0 && matches[j].key < matches[j-1].key; j-- {
				matches[j], matches[j-1] = matches[j-1], matches[j]
			}
		}
	}
	rows := make([]engine.RowAt, len(matches))
	for i, m := range matches {
		rows[i] = engine.RowAt{Row: m.row, Pos: uint64(i)}
	}
	return View{rows: rows}, nil
}

func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}

var _ changeset.LinkReader = (*Store)(nil)
