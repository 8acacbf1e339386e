// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import "testing"

func TestIntDivideByZero(t *testing.T) {
	if got := IntDivide(10, 0); got != 0 {
		t.Fatalf("IntDivide(10,0) = %d, want 0", got)
	}
	if got := IntModulo(10, 0); got != 0 {
		t.Fatalf("IntModulo(10,0) = %d, want 0", got)
	}
	if got := IntDivide(10, 3); got != 3 {
		t.Fatalf("IntDivide(10,3) = %d, want 3", got)
	}
}

func TestStringToNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"42", 42},
		{"3.5", 3.5},
		{"true", 1},
		{"false", 0},
		{"not-a-number", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := StringToNumber(tt.in); got != tt.want {
			t.Errorf("StringToNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValueAsBool(t *testing.T) {
	r := NewTypeRegistry()
	cases := []struct {
		v    Value
		want bool
	}{
		{MakeUint(0), false},
		{MakeUint(1), true},
		{MakeFloat(0), false},
		{MakeFloat(1.5), true},
		{MakeString(""), false},
		{MakeString("0"), false},
		{MakeString("hello"), true},
	}
	for _, c := range cases {
		got, err := r.ValueAsBool(c.v, nil)
		if err != nil {
			t.Fatalf("ValueAsBool error: %v", err)
		}
		if got != c.want {
			t.Errorf("ValueAsBool(%+v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestPerformOpArithmeticScenario1(t *testing.T) {
	// spec.md §8 scenario 1: %a=3; %b=4; return %a + %b*2 => 11 (integer).
	r := NewTypeRegistry()
	mul, err := r.PerformOp(OpMul, MakeUint(4), MakeUint(2), nil)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := r.PerformOp(OpAdd, MakeUint(3), mul, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.IsUint() || sum.AsUint(999) != 11 {
		t.Fatalf("3 + 4*2 = %+v, want uint 11", sum)
	}
}

func TestPerformOpMixedNumericPromotesToFloat(t *testing.T) {
	r := NewTypeRegistry()
	v, err := r.PerformOp(OpAdd, MakeUint(1), MakeFloat(0.5), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsFloat() || v.AsFloatBits(0) != 1.5 {
		t.Fatalf("1 + 0.5 = %+v, want float 1.5", v)
	}
}

func TestPerformOpStringComparison(t *testing.T) {
	r := NewTypeRegistry()
	v, err := r.PerformOp(OpCmpEQ, MakeString("abc"), MakeString("abc"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.AsUint(0) != 1 {
		t.Fatalf(`"abc" == "abc" = %+v, want true`, v)
	}
}

func TestPerformOpDivideByZero(t *testing.T) {
	r := NewTypeRegistry()
	v, err := r.PerformOp(OpDiv, MakeUint(10), MakeUint(0), nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.AsUint(99) != 0 {
		t.Fatalf("10/0 = %+v, want 0", v)
	}
}

// TestPerformOpCustomTypeDispatch grounds the "RHS type selects the
// callback, unless RHS is immediate and LHS is custom" rule from spec.md
// §4.2 against a small vector-like custom type.
func TestPerformOpCustomTypeDispatch(t *testing.T) {
	r := NewTypeRegistry()
	called := false
	vecType := r.Register(TypeDescriptor{
		Name: "Point",
		PerformOp: func(op Opcode, lhs, rhs Value) (Value, error) {
			called = true
			if op != OpAdd {
				t.Fatalf("unexpected op %s", op)
			}
			return MakeUint(lhs.Num + rhs.Num), nil
		},
		ClassName: func() string { return "Point" },
	})

	custom := MakePackedCustom(vecType, 10)
	imm := MakeUint(5)

	// RHS immediate, LHS custom: LHS's PerformOp runs with imm passed
	// through untouched.
	v, err := r.PerformOp(OpAdd, custom, imm, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected custom PerformOp to be invoked")
	}
	if v.AsUint(0) != 15 {
		t.Fatalf("custom+imm = %+v, want 15", v)
	}
}
