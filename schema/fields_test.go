package schema

import "testing"

func TestFieldValid(t *testing.T) {
	cases := []struct {
		f  Field
		ok bool
	}{
		{Field{Name: "value", Kind: Plain}, true},
		{Field{Name: "child", Kind: Link, Target: 7}, true},
		{Field{Name: "", Kind: Plain}, false},
		{Field{Name: "bad\nname", Kind: Plain}, false},
		{Field{Name: "x", Kind: 'Z'}, false},
	}
	for _, c := range cases {
		if got := c.f.Valid(); got != c.ok {
			t.Fatalf("Valid(%+v) = %v, want %v", c.f, got, c.ok)
		}
	}
}

func TestFieldsFind(t *testing.T) {
	fs := Fields{{Name: "a"}, {Name: "b"}}
	if fs.Find("b") != 1 {
		t.Fatalf("expected to find b at index 1")
	}
	if fs.Find("missing") != -1 {
		t.Fatalf("expected -1 for missing field")
	}
}

func TestColumnPathEqual(t *testing.T) {
	a := ColumnPath{1, 2}
	b := ColumnPath{1, 2}
	c := ColumnPath{1, 3}
	if !a.Equal(b) {
		t.Fatalf("expected equal paths")
	}
	if a.Equal(c) {
		t.Fatalf("expected unequal paths")
	}
	if !(ColumnPath{}).Equal(nil) {
		t.Fatalf("expected empty paths to be equal")
	}
}

func TestStaticTables(t *testing.T) {
	tables := StaticTables{
		1: Fields{{Name: "value", Kind: Plain}},
	}
	fs, ok := tables.FieldsOf(1)
	if !ok || len(fs) != 1 {
		t.Fatalf("expected to resolve table 1")
	}
	if _, ok := tables.FieldsOf(2); ok {
		t.Fatalf("expected table 2 to be unresolved")
	}
}
