// Package callback implements the per-query callback registry of spec.md
// §4.3: token allocation, reentrancy-safe iteration, and the cursor-fixup
// rule that makes add/remove safe to call from inside a firing callback.
// Grounded on the teacher's indexes/index_manager.go, which pairs a slice
// of tasks with a side index for O(1) lookup under one mutex; the cursor
// itself has no direct teacher analogue since spec.md's reentrant-iteration
// contract is stricter than anything index_manager.go needs.
package callback

import (
	"sync"

	"github.com/drpcorg/asyncquery/asyncerr"
	"github.com/drpcorg/asyncquery/changeset"
	"github.com/drpcorg/asyncquery/schema"
)

type Token uint64

// SentinelVersion is the delivered_version a freshly added entry starts
// with, per spec.md §4.3: "appends entry with delivered_version = SENTINEL
// so its first delivery always fires."
const SentinelVersion = ^uint64(0)

type entry struct {
	token            Token
	fn               func(changeset.ChangeSet, error)
	paths            []schema.ColumnPath
	deliveredVersion uint64
}

// Registry is one query's ordered collection of callback entries. Safe for
// concurrent use from any thread; see package doc for the reentrancy
// contract that Add/Remove/IterateNext jointly uphold.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
	index   map[Token]int
	cursor  int // -1 when no iteration is in progress
	group   string
	dedup   *pathDedup
	// nextToken is one past the highest token ever allocated, so a removed
	// token is never handed out again.
	nextToken Token
}

// NewRegistry creates an empty registry. group labels this registry's
// Prometheus metrics, typically the coordinator's name for the query.
func NewRegistry(group string) *Registry {
	return &Registry{
		index:  make(map[Token]int),
		cursor: -1,
		group:  group,
		dedup:  newPathDedup(),
	}
}

// Add allocates one past the highest token this registry has ever allocated
// (max(existing tokens)+1 unless the highest token has been removed), so no
// token is reused, and appends an entry, per spec.md §4.3. Safe to call from
// inside a callback function currently firing.
func (r *Registry) Add(paths []schema.ColumnPath, fn func(changeset.ChangeSet, error)) Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok := r.nextTokenLocked()
	e := &entry{token: tok, fn: fn, paths: paths, deliveredVersion: SentinelVersion}
	r.index[tok] = len(r.entries)
	r.entries = append(r.entries, e)

	callbackAddTotal.WithLabelValues(r.group).Inc()
	callbackRegistrySize.WithLabelValues(r.group).Set(float64(len(r.entries)))
	return tok
}

func (r *Registry) nextTokenLocked() Token {
	tok := r.nextToken
	r.nextToken++
	return tok
}

// Remove deletes an entry in place, fixing up the iteration cursor so a
// concurrent IterateNext never skips the entry that slides into the
// removed slot (spec.md §4.3, §9's "Reentrant registry" note). Safe to call
// from inside a callback function currently firing.
func (r *Registry) Remove(tok Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.index[tok]
	if !ok {
		return asyncerr.ErrTokenNotFound
	}
	r.removeAtLocked(idx)
	callbackRegistrySize.WithLabelValues(r.group).Set(float64(len(r.entries)))
	return nil
}

func (r *Registry) removeAtLocked(idx int) {
	removed := r.entries[idx]
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	delete(r.index, removed.token)
	for i := idx; i < len(r.entries); i++ {
		r.index[r.entries[i].token] = i
	}
	if r.cursor >= 0 && idx < r.cursor {
		r.cursor--
	}
}

// Watched reports the watched column paths for a still-registered token,
// used by the row-diff engine to know which paths to traverse for this
// query. The bool is false if the token is unknown.
func (r *Registry) Watched(tok Token) ([]schema.ColumnPath, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.index[tok]
	if !ok {
		return nil, false
	}
	return r.entries[idx].paths, true
}

// AllPaths returns the union of every registered entry's watched paths,
// what Query.Run needs to decide whether a cycle can short-circuit
// (changeset.ShouldSkip) and what the diff engine needs to walk.
func (r *Registry) AllPaths() []schema.ColumnPath {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schema.ColumnPath
	for _, e := range r.entries {
		out = append(out, e.paths...)
	}
	return r.dedup.Dedup(out)
}

// Len reports how many callbacks are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IterateNext implements spec.md §4.3's iterate_pending: it advances the
// internal cursor and returns the next callback function whose
// delivered_version differs from currentVersion (or any callback, in
// cursor order, if latched is non-nil), marking that entry's
// delivered_version as it yields. The caller is responsible for invoking
// the returned function itself, outside of any lock — IterateNext never
// calls it, matching spec.md §5's "not held while a callback function
// executes". Returns ok=false once exhausted, at which point the cursor is
// reset and, if latched is non-nil, the registry is cleared.
func (r *Registry) IterateNext(currentVersion uint64, latched error) (fn func(changeset.ChangeSet, error), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor < 0 {
		r.cursor = 0
	}
	for r.cursor < len(r.entries) {
		e := r.entries[r.cursor]
		if latched != nil || e.deliveredVersion != currentVersion {
			e.deliveredVersion = currentVersion
			fn = e.fn
			r.cursor++
			callbackFiresTotal.WithLabelValues(r.group).Inc()
			if latched != nil {
				callbackErrorsTotal.WithLabelValues(r.group).Inc()
			}
			return fn, true
		}
		r.cursor++
	}
	r.cursor = -1
	if latched != nil {
		r.clearLocked()
	}
	return nil, false
}

func (r *Registry) clearLocked() {
	r.entries = nil
	r.index = make(map[Token]int)
	callbackRegistrySize.WithLabelValues(r.group).Set(0)
}
