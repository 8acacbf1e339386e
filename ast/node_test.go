// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ast

import "testing"

func TestArenaAllocatesSequentially(t *testing.T) {
	a := NewArena()
	r0 := a.New(Node{Kind: KindIntLiteral, Int: 1})
	r1 := a.New(Node{Kind: KindIntLiteral, Int: 2})
	if r0 == r1 {
		t.Fatalf("distinct New calls returned the same ref")
	}
	if a.At(r0).Int != 1 || a.At(r1).Int != 2 {
		t.Fatalf("arena did not preserve node contents")
	}
	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}
}

func TestArenaRelease(t *testing.T) {
	a := NewArena()
	a.New(Node{Kind: KindBreak})
	a.Release()
	if a.Len() != 0 {
		t.Fatalf("Len() after Release = %d, want 0", a.Len())
	}
}

func TestBinaryNodeShape(t *testing.T) {
	a := NewArena()
	lhs := a.New(Node{Kind: KindIntLiteral, Int: 3})
	rhs := a.New(Node{Kind: KindIntLiteral, Int: 4})
	bin := a.New(Node{Kind: KindBinary, A: lhs, B: rhs})
	n := a.At(bin)
	if n.Kind != KindBinary || n.A != lhs || n.B != rhs {
		t.Fatalf("binary node shape wrong: %+v", n)
	}
}
