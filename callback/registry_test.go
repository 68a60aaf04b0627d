package callback

import (
	"errors"
	"testing"

	"github.com/drpcorg/asyncquery/changeset"
	"github.com/drpcorg/asyncquery/schema"
)

func drain(r *Registry, version uint64, latched error) []Token {
	var fired []Token
	// IterateNext hands back the fn, not the token; wrap Add in the tests
	// below to capture identity via closures instead.
	for {
		fn, ok := r.IterateNext(version, latched)
		if !ok {
			break
		}
		fn(nil, latched)
	}
	return fired
}

func TestRegistryTokenUniqueness(t *testing.T) {
	r := NewRegistry("t")
	seen := map[Token]bool{}
	for i := 0; i < 5; i++ {
		tok := r.Add(nil, func(changeset.ChangeSet, error) {})
		if seen[tok] {
			t.Fatalf("token %d reused", tok)
		}
		seen[tok] = true
	}
}

func TestRegistryTokenAllocationMaxPlusOne(t *testing.T) {
	r := NewRegistry("t")
	t0 := r.Add(nil, func(changeset.ChangeSet, error) {})
	t1 := r.Add(nil, func(changeset.ChangeSet, error) {})
	if err := r.Remove(t1); err != nil {
		t.Fatal(err)
	}
	t2 := r.Add(nil, func(changeset.ChangeSet, error) {})
	if t2 != t1+1 {
		t.Fatalf("expected new token %d to be max(existing)+1 = %d, got %d", t2, t1+1, t2)
	}
	_ = t0
}

func TestRegistryAtMostOncePerDelivery(t *testing.T) {
	r := NewRegistry("t")
	counts := map[Token]int{}
	var toks []Token
	for i := 0; i < 3; i++ {
		tok := r.Add(nil, nil)
		toks = append(toks, tok)
	}
	// rebind fn to count invocations by capturing its own token
	for _, tok := range toks {
		tok := tok
		idx := r.index[tok]
		r.entries[idx].fn = func(changeset.ChangeSet, error) { counts[tok]++ }
	}

	drain(r, 1, nil)
	drain(r, 1, nil) // same version: nothing should fire again
	for _, tok := range toks {
		if counts[tok] != 1 {
			t.Fatalf("token %d fired %d times, want 1", tok, counts[tok])
		}
	}

	drain(r, 2, nil) // new version: fires again exactly once
	for _, tok := range toks {
		if counts[tok] != 2 {
			t.Fatalf("token %d fired %d times after version bump, want 2", tok, counts[tok])
		}
	}
}

func TestRegistryNoSkipOnRemoveDuringIteration(t *testing.T) {
	r := NewRegistry("t")
	var fired []int
	var toks []Token
	for i := 0; i < 4; i++ {
		i := i
		tok := r.Add(nil, func(changeset.ChangeSet, error) { fired = append(fired, i) })
		toks = append(toks, tok)
	}
	// Remove token 1 (index 1) from inside the callback for token 0.
	idx0 := r.index[toks[0]]
	r.entries[idx0].fn = func(changeset.ChangeSet, error) {
		fired = append(fired, 0)
		_ = r.Remove(toks[1])
	}

	drain(r, 1, nil)
	want := []int{0, 2, 3}
	if len(fired) != len(want) {
		t.Fatalf("fired %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired %v, want %v", fired, want)
		}
	}
}

func TestRegistryErrorLatchClearsRegistry(t *testing.T) {
	r := NewRegistry("t")
	n := 0
	r.Add(nil, func(cs changeset.ChangeSet, err error) {
		n++
		if err == nil {
			t.Fatalf("expected latched error")
		}
	})
	drain(r, 1, errors.New("boom"))
	if r.Len() != 0 {
		t.Fatalf("expected registry cleared after latched error, len=%d", r.Len())
	}
	if n != 1 {
		t.Fatalf("expected exactly one firing, got %d", n)
	}
}

func TestRegistryRemoveUnknownToken(t *testing.T) {
	r := NewRegistry("t")
	if err := r.Remove(999); err == nil {
		t.Fatalf("expected error removing unknown token")
	}
}

func TestRegistryAllPathsUnionAcrossRepeatedCalls(t *testing.T) {
	r := NewRegistry("t")
	r.Add([]schema.ColumnPath{{1}}, func(changeset.ChangeSet, error) {})
	r.Add([]schema.ColumnPath{{2}}, func(changeset.ChangeSet, error) {})

	for i := 0; i < 2; i++ {
		if got := len(r.AllPaths()); got != 2 {
			t.Fatalf("call %d: AllPaths returned %d paths, want 2", i+1, got)
		}
	}

	// A third entry watching a third path must still show up in the union
	// on the third-and-later call: AllPaths must never treat a path that's
	// still registered as a duplicate of one seen on an earlier call.
	r.Add([]schema.ColumnPath{{3}}, func(changeset.ChangeSet, error) {})
	for i := 0; i < 3; i++ {
		paths := r.AllPaths()
		if got := len(paths); got != 3 {
			t.Fatalf("call %d after third add: AllPaths returned %d paths, want 3: %v", i+1, got, paths)
		}
	}
}

func TestRegistryRemoveDuringLatchedIterationDoesNotRefire(t *testing.T) {
	r := NewRegistry("t")
	var fired []int
	var toks []Token
	for i := 0; i < 3; i++ {
		i := i
		tok := r.Add(nil, func(changeset.ChangeSet, error) { fired = append(fired, i) })
		toks = append(toks, tok)
	}
	// From entry 0's callback, remove entry 1 — the entry IterateNext is
	// about to yield next. Under a latched error the per-entry version
	// check is bypassed, so a wrongly-rewound cursor would re-yield entry 0
	// instead of skipping straight to entry 2.
	idx0 := r.index[toks[0]]
	r.entries[idx0].fn = func(changeset.ChangeSet, error) {
		fired = append(fired, 0)
		_ = r.Remove(toks[1])
	}

	drain(r, 1, errors.New("boom"))

	counts := map[int]int{}
	for _, f := range fired {
		counts[f]++
	}
	if counts[0] != 1 {
		t.Fatalf("entry 0 fired %d times, want exactly 1: %v", counts[0], fired)
	}
	if counts[2] != 1 {
		t.Fatalf("entry 2 fired %d times, want exactly 1: %v", counts[2], fired)
	}
}
