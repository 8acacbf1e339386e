// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ast defines the transient AST node shape the emitter consumes
// (spec.md §3.4, §6.4). The lexer/parser that produces these trees is out
// of scope (spec.md §1); this package only fixes the node kinds so a
// parser — or a hand-built test fixture — can construct them.
//
// Nodes are allocated from a flat, index-addressed arena rather than
// linked by raw pointer (spec.md §9 design note: "allocate in a typed
// arena and reference nodes by index"). A single Kind enum covers every
// node; the emitter dispatches on it with a switch, not virtual calls.
package ast

// Kind discriminates a Node. Exactly one of the statement/expression
// groups below applies to any given Kind; which of Node's generic fields
// are meaningful depends on Kind (documented per constant).
type Kind int

const (
	// Statements.

	KindBreak    Kind = iota // no fields used
	KindContinue             // no fields used
	KindReturn               // A = return expression (InvalidNode if bare return)
	KindIf                   // A = cond, B = then-block (List), C = else-block (List, may be empty)
	KindLoop                 // A = init, B = cond, C = post, D = body (List); Int = 1 for do/while (test after body)
	KindForeach              // Str = loop var name, A = collection expr, D = body (List); Int = 1 for foreach$ (word split)
	KindTryCatch             // D = try-block (List), List = catch-block, Str = catch var name
	KindThrow                // A = thrown expression
	KindFuncDecl             // Str = name, Str2 = explicit class namespace (e.g. "Player" in Player::jump), List = params (Str of each), D = body (List)
	KindPackageBlock         // Str = package name, D = body (List of KindFuncDecl, usually)
	KindObjectDecl           // Str = class name, A = object-name expr (InvalidNode for an unnamed object), List = body (field assigns + nested KindObjectDecl), Int = 1 if datablock; Str2 is not read by the emitter
	KindSlotAssign           // Str = field name, A = array-index expr (InvalidNode if none), B = value expr

	// Expressions.

	KindIntLiteral         // Int = value
	KindFloatLiteral       // Float = value
	KindStringLiteral      // Str = text, Int = 1 if this is a tagged string literal
	KindConstLiteral       // Str = text of a %const/$const identifier used as a literal
	KindVarRead            // Str = variable name ('%' local or '$' global, caller convention)
	KindVarAssign          // Str = variable name, A = value expr
	KindOpAssign           // Str = variable name, Op = underlying binary opcode, A = value expr
	KindBinary             // Op = opcode, A = lhs, B = rhs
	KindUnary              // Op = opcode, A = operand
	KindComparison         // Op = opcode, A = lhs, B = rhs
	KindStringConcat       // A = lhs, B = rhs, Str = separator ("" none, " " SPC, "\t" TAB, "\n" NL)
	KindStringEquality     // A = lhs, B = rhs, Int = 1 for !=
	KindCommaCat           // List = operands, joined by ',' on the string accumulator
	KindConditional        // A = cond, B = true-expr, C = false-expr
	KindCallFree           // Str = function name, List = args
	KindCallMethod         // A = object expr, Str = method name, List = args
	KindCallParent         // Str = method name, List = args (Parent::method(...))
	KindSlotAccess         // A = object expr, Str = field name, B = array-index expr (InvalidNode if none)
	KindTaggedStringAccess // Str = tag identifier text
	KindAssert             // A = condition expr, Str = message
)

// Op is a binary/unary opcode value as the emitter's Opcode numbers it
// (spec.md §4.4). This package has no access to that type (the emitter's
// package imports ast, not the reverse), so KindBinary/KindUnary/
// KindComparison/KindOpAssign nodes carry it as a plain uint32 that the
// emitter converts back to its own Opcode at the point of use.
type Op uint32

// NodeRef is an arena index. InvalidNode marks an absent optional child.
type NodeRef int32

// InvalidNode is the zero-value-safe "no such child" marker; index 0 is a
// valid node, so the sentinel must be negative.
const InvalidNode NodeRef = -1

// Node is the single struct every Kind reuses; see the Kind doc comments
// above for which fields apply.
type Node struct {
	Kind Kind
	Line int

	A, B, C, D NodeRef
	List       []NodeRef
	Op         Op

	Str   string
	Str2  string
	Int   int64
	Float float64
}

// Arena is a bump allocator for Nodes, owned by one compile session and
// released in one step when the codeblock finishes emitting (spec.md
// §3.4, §4.3).
type Arena struct {
	nodes []Node
}

// NewArena returns an empty arena.
func NewArena() *Arena { return &Arena{} }

// New appends n and returns its NodeRef.
func (a *Arena) New(n Node) NodeRef {
	a.nodes = append(a.nodes, n)
	return NodeRef(len(a.nodes) - 1)
}

// At returns a pointer to the node ref refers to. Panics on InvalidNode,
// the same way indexing a nil slice element would — callers are expected
// to check against InvalidNode first when a child is optional.
func (a *Arena) At(ref NodeRef) *Node {
	return &a.nodes[ref]
}

// Len reports how many nodes have been allocated.
func (a *Arena) Len() int { return len(a.nodes) }

// Release drops the arena's backing storage. Call once the codeblock has
// been fully emitted; any NodeRef obtained from this arena is invalid
// afterward.
func (a *Arena) Release() { a.nodes = nil }
