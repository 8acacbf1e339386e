// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import "testing"

func TestStringPoolDedup(t *testing.T) {
	p := NewStringPool()
	a := p.Add("hello", true, false)
	b := p.Add("hello", true, false)
	if a != b {
		t.Fatalf("duplicate Add returned different offsets: %d vs %d", a, b)
	}
	c := p.Add("hello", false, false)
	if c == a {
		t.Fatalf("case-sensitivity flag should make a distinct entry")
	}
	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}
}

func TestStringPoolBuildLayout(t *testing.T) {
	p := NewStringPool()
	offA := p.Add("ab", true, false)
	offB := p.Add("cde", true, false)
	buf := p.Build()
	if offA != 0 {
		t.Fatalf("first entry offset = %d, want 0", offA)
	}
	if got := string(buf[offA : offA+2]); got != "ab" {
		t.Fatalf("entry A = %q, want \"ab\"", got)
	}
	if got := string(buf[offB : offB+3]); got != "cde" {
		t.Fatalf("entry B = %q, want \"cde\"", got)
	}
	if buf[offA+2] != 0 {
		t.Fatalf("entry A not NUL-terminated")
	}
}

func TestStringPoolTaggedReservesPrefix(t *testing.T) {
	p := NewStringPool()
	off := p.Add("Tagged", true, true)
	buf := p.Build()
	// The reserved prefix precedes the text at off+TaggedPrefixWidth.
	if got := string(buf[off+TaggedPrefixWidth : off+TaggedPrefixWidth+6]); got != "Tagged" {
		t.Fatalf("tagged text = %q, want \"Tagged\"", got)
	}
}

func TestFloatPoolDedup(t *testing.T) {
	p := NewFloatPool()
	i0 := p.Add(1.5)
	i1 := p.Add(2.5)
	i2 := p.Add(1.5)
	if i0 != i2 {
		t.Fatalf("duplicate float got different index: %d vs %d", i0, i2)
	}
	if i1 == i0 {
		t.Fatalf("distinct floats got the same index")
	}
	vals := p.Build()
	if vals[i0] != 1.5 || vals[i1] != 2.5 {
		t.Fatalf("Build() = %v, want [1.5 2.5]", vals)
	}
}

func TestIdentFixupTableRecordsAllUses(t *testing.T) {
	tbl := NewIdentFixupTable()
	tbl.Record("foo", 10)
	tbl.Record("bar", 20)
	tbl.Record("foo", 30)

	fixups := tbl.Build()
	if len(fixups) != 2 {
		t.Fatalf("len(fixups) = %d, want 2", len(fixups))
	}
	for _, f := range fixups {
		if f.Name == "foo" {
			if len(f.Patches) != 2 || f.Patches[0] != 10 || f.Patches[1] != 30 {
				t.Fatalf("foo patches = %v, want [10 30]", f.Patches)
			}
		}
	}
}
