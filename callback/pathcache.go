package callback

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/drpcorg/asyncquery/schema"
)

// pathDedupCacheSize bounds the LRU below: a registry cycling through more
// distinct path lists than this just pays for a few redundant recomputations
// rather than growing unbounded, the same trade-off the teacher's
// IndexManager.classCache/hashIndexCache make (indexes/index_manager.go).
const pathDedupCacheSize = 256

// pathHash hashes a watched ColumnPath's column ordinals with xxhash, the
// same hashing library the teacher's index_manager.go uses for its field
// hash index, repurposed here as a dedup key instead of a storage key.
func pathHash(p schema.ColumnPath) uint64 {
	buf := make([]byte, len(p)*4)
	for i, ord := range p {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(int32(ord)))
	}
	return xxhash.Sum64(buf)
}

// pathListHash folds an entire path list's per-path hashes together,
// order-sensitive, into one cache key for pathDedup.
func pathListHash(paths []schema.ColumnPath) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, p := range paths {
		binary.LittleEndian.PutUint64(buf[:], pathHash(p))
		h.Write(buf[:])
	}
	return h.Sum64()
}

func equalPathLists(a, b []schema.ColumnPath) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

type dedupResult struct {
	input  []schema.ColumnPath
	output []schema.ColumnPath
}

// pathDedup deduplicates the ColumnPath union AllPaths builds from every
// entry in a registry: AllPaths is called on every AddCallback/RemoveCallback
// to rebuild Query.paths, which every Query.Run hands to ShouldSkip and the
// row-diff engine, so a registry watching the same path from several
// callbacks — a common case, e.g. N independent listeners all watching
// "owner.team" — would
// otherwise hand the row-diff engine that many duplicate recursive walks per
// row, per cycle.
//
// Each Dedup call recomputes its answer from scratch against only the paths
// passed to it; the registry's current path set is read fresh every call, so
// deduping against anything remembered from a previous call would wrongly
// drop paths that are still present, not stale. The LRU below only memoizes
// the full result for a repeated, identical input list — consecutive
// AllPaths calls between registry mutations see the same list over and
// over — and every hit is verified against the stored input before it's
// trusted, so an xxhash collision costs a recompute, never a wrong answer.
type pathDedup struct {
	cache *lru.Cache[uint64, dedupResult]
}

func newPathDedup() *pathDedup {
	cache, _ := lru.New[uint64, dedupResult](pathDedupCacheSize)
	return &pathDedup{cache: cache}
}

// Dedup returns paths with exact duplicates removed, in first-seen order.
func (d *pathDedup) Dedup(paths []schema.ColumnPath) []schema.ColumnPath {
	if len(paths) < 2 {
		return paths
	}

	key := pathListHash(paths)
	if cached, ok := d.cache.Get(key); ok && equalPathLists(cached.input, paths) {
		return cached.output
	}

	seen := make(map[uint64][]schema.ColumnPath, len(paths))
	out := make([]schema.ColumnPath, 0, len(paths))
	for _, p := range paths {
		h := pathHash(p)
		duplicate := false
		for _, s := range seen[h] {
			if s.Equal(p) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		seen[h] = append(seen[h], p)
		out = append(out, p)
	}

	input := append([]schema.ColumnPath(nil), paths...)
	d.cache.Add(key, dedupResult{input: input, output: out})
	return out
}
