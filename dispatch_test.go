// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"testing"

	"github.com/kork-lang/kork/ast"
)

// compileAndRun compiles root (built against arena) and runs it to
// completion on a fresh fiber, the way vm.EvalCode does internally.
func compileAndRun(t *testing.T, vm *VM, arena *ast.Arena, root []ast.NodeRef) Value {
	t.Helper()
	cb, err := vm.CompileCodeBlock(arena, root, "scenario.cs")
	if err != nil {
		t.Fatalf("CompileCodeBlock: %v", err)
	}
	v, err := vm.ExecCodeBlock(cb, 0, nil, false, true)
	if err != nil {
		t.Fatalf("ExecCodeBlock: %v", err)
	}
	return v
}

// TestScenarioArithmeticAndVariables covers "%x = 1 + 2 * 3; return %x;",
// exercising operator precedence via the emitter's INT fast path and a
// local-variable round trip through OpSetCurVarCreate/OpSaveVarUint and
// OpSetCurVar/OpLoadVarStr (spec.md §8 scenario 1).
func TestScenarioArithmeticAndVariables(t *testing.T) {
	vm := NewVM(Config{})
	arena := ast.NewArena()

	mul := arena.New(ast.Node{Kind: ast.KindBinary, Op: ast.Op(OpMul),
		A: arena.New(ast.Node{Kind: ast.KindIntLiteral, Int: 2}),
		B: arena.New(ast.Node{Kind: ast.KindIntLiteral, Int: 3}),
	})
	add := arena.New(ast.Node{Kind: ast.KindBinary, Op: ast.Op(OpAdd),
		A: arena.New(ast.Node{Kind: ast.KindIntLiteral, Int: 1}),
		B: mul,
	})
	assign := arena.New(ast.Node{Kind: ast.KindVarAssign, Str: "x", A: add})
	ret := arena.New(ast.Node{Kind: ast.KindReturn,
		A: arena.New(ast.Node{Kind: ast.KindVarRead, Str: "x"}),
	})

	got := compileAndRun(t, vm, arena, []ast.NodeRef{assign, ret})
	s, err := vm.Types.ValueAsString(got, nil)
	if err != nil {
		t.Fatalf("ValueAsString: %v", err)
	}
	if s != "7" {
		t.Fatalf("result = %q, want %q", s, "7")
	}
}

// TestScenarioStringConcatenation covers "return \"foo\" SPC \"bar\";"
// (spec.md §8 scenario 2), exercising OpPushFrame/OpAdvanceStr/
// OpTerminateRewindStr.
func TestScenarioStringConcatenation(t *testing.T) {
	vm := NewVM(Config{})
	arena := ast.NewArena()

	concat := arena.New(ast.Node{Kind: ast.KindStringConcat, Str: " ",
		A: arena.New(ast.Node{Kind: ast.KindStringLiteral, Str: "foo"}),
		B: arena.New(ast.Node{Kind: ast.KindStringLiteral, Str: "bar"}),
	})
	ret := arena.New(ast.Node{Kind: ast.KindReturn, A: concat})

	got := compileAndRun(t, vm, arena, []ast.NodeRef{ret})
	s, err := vm.Types.ValueAsString(got, nil)
	if err != nil {
		t.Fatalf("ValueAsString: %v", err)
	}
	if s != "foo bar" {
		t.Fatalf("result = %q, want %q", s, "foo bar")
	}
}

// TestScenarioIfElseBranches covers the emitter's conditional-jump
// patching (spec.md §8 scenario, "%x = cond ? a : b" family): the false
// branch of an if/else must be reachable and must not fall through into
// the true branch's code.
func TestScenarioIfElseBranches(t *testing.T) {
	vm := NewVM(Config{})
	arena := ast.NewArena()

	thenAssign := arena.New(ast.Node{Kind: ast.KindVarAssign, Str: "x",
		A: arena.New(ast.Node{Kind: ast.KindIntLiteral, Int: 111}),
	})
	elseAssign := arena.New(ast.Node{Kind: ast.KindVarAssign, Str: "x",
		A: arena.New(ast.Node{Kind: ast.KindIntLiteral, Int: 222}),
	})
	thenBlock := arena.New(ast.Node{List: []ast.NodeRef{thenAssign}})
	elseBlock := arena.New(ast.Node{List: []ast.NodeRef{elseAssign}})

	ifNode := arena.New(ast.Node{Kind: ast.KindIf,
		A: arena.New(ast.Node{Kind: ast.KindIntLiteral, Int: 0}), // false: else wins
		B: thenBlock,
		C: elseBlock,
	})
	ret := arena.New(ast.Node{Kind: ast.KindReturn,
		A: arena.New(ast.Node{Kind: ast.KindVarRead, Str: "x"}),
	})

	got := compileAndRun(t, vm, arena, []ast.NodeRef{ifNode, ret})
	s, err := vm.Types.ValueAsString(got, nil)
	if err != nil {
		t.Fatalf("ValueAsString: %v", err)
	}
	if s != "222" {
		t.Fatalf("result = %q, want %q (else branch should have run)", s, "222")
	}
}

// TestScenarioTryCatchThrow covers "try { throw 1; } catch(e) { return
// \"c:\" @ e; }" (spec.md §8 scenario 5): OP_THROW must transfer control to
// the OP_TRY_BEGIN-registered catch IP with the thrown value available as
// curStr for the catch body to bind.
func TestScenarioTryCatchThrow(t *testing.T) {
	vm := NewVM(Config{})
	arena := ast.NewArena()

	throwNode := arena.New(ast.Node{Kind: ast.KindThrow,
		A: arena.New(ast.Node{Kind: ast.KindIntLiteral, Int: 1}),
	})
	tryBlock := arena.New(ast.Node{List: []ast.NodeRef{throwNode}})

	catchConcat := arena.New(ast.Node{Kind: ast.KindStringConcat,
		A: arena.New(ast.Node{Kind: ast.KindStringLiteral, Str: "c:"}),
		B: arena.New(ast.Node{Kind: ast.KindVarRead, Str: "e"}),
	})
	catchReturn := arena.New(ast.Node{Kind: ast.KindReturn, A: catchConcat})

	tryCatch := arena.New(ast.Node{Kind: ast.KindTryCatch,
		D:    tryBlock,
		List: []ast.NodeRef{catchReturn},
		Str:  "e",
	})

	got := compileAndRun(t, vm, arena, []ast.NodeRef{tryCatch})
	s, err := vm.Types.ValueAsString(got, nil)
	if err != nil {
		t.Fatalf("ValueAsString: %v", err)
	}
	if s != "c:1" {
		t.Fatalf("result = %q, want %q", s, "c:1")
	}
}

// TestScenarioPackageOverlay covers "function foo(){return 1;}; package P
// { function foo(){return 2;} }; activatePackage(P); foo()==2;
// deactivatePackage(P); foo()==1" (spec.md §8 scenario 6): a function
// compiled inside a package block must register into the package-tagged
// global namespace, not into a namespace literally named "P", so
// ActivatePackage's scan actually finds and overlays it.
func TestScenarioPackageOverlay(t *testing.T) {
	vm := NewVM(Config{})
	arena := ast.NewArena()

	globalFoo := arena.New(ast.Node{Kind: ast.KindFuncDecl, Str: "foo",
		D: arena.New(ast.Node{List: []ast.NodeRef{
			arena.New(ast.Node{Kind: ast.KindReturn,
				A: arena.New(ast.Node{Kind: ast.KindIntLiteral, Int: 1}),
			}),
		}}),
	})

	pkgFoo := arena.New(ast.Node{Kind: ast.KindFuncDecl, Str: "foo",
		D: arena.New(ast.Node{List: []ast.NodeRef{
			arena.New(ast.Node{Kind: ast.KindReturn,
				A: arena.New(ast.Node{Kind: ast.KindIntLiteral, Int: 2}),
			}),
		}}),
	})
	pkgBlock := arena.New(ast.Node{Kind: ast.KindPackageBlock, Str: "P",
		D: arena.New(ast.Node{List: []ast.NodeRef{pkgFoo}}),
	})

	cb, err := vm.CompileCodeBlock(arena, []ast.NodeRef{globalFoo, pkgBlock}, "scenario6.cs")
	if err != nil {
		t.Fatalf("CompileCodeBlock: %v", err)
	}
	if _, err := vm.ExecCodeBlock(cb, 0, nil, false, true); err != nil {
		t.Fatalf("ExecCodeBlock: %v", err)
	}

	fooIdent := vm.Intern("foo", false)
	pIdent := vm.Intern("P", false)

	call := func() int64 {
		t.Helper()
		v, err := vm.CallFunction(vm.Namespaces.Global(), fooIdent, nil)
		if err != nil {
			t.Fatalf("CallFunction: %v", err)
		}
		n, err := vm.Types.ValueAsInt(v, nil)
		if err != nil {
			t.Fatalf("ValueAsInt: %v", err)
		}
		return n
	}

	if got := call(); got != 1 {
		t.Fatalf("foo() before activation = %d, want 1", got)
	}

	if err := vm.ActivatePackage(pIdent); err != nil {
		t.Fatalf("ActivatePackage: %v", err)
	}
	if got := call(); got != 2 {
		t.Fatalf("foo() after activatePackage(P) = %d, want 2", got)
	}

	vm.DeactivatePackage(pIdent)
	if got := call(); got != 1 {
		t.Fatalf("foo() after deactivatePackage(P) = %d, want 1", got)
	}
}
