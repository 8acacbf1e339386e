// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"fmt"
	"math"

	"github.com/kork-lang/kork/ast"
)

// TypeReq is the type requirement an expression node is compiled against
// (spec.md §4.4): the emitter picks the cheapest opcode able to satisfy it.
type TypeReq int

const (
	ReqNone TypeReq = iota
	ReqInt
	ReqFloat
	ReqString
)

type patchRecord struct {
	addr uint32
	val  uint32
}

type lineRecord struct {
	IP   uint32
	Line int
}

type fixTarget struct {
	addr      uint32
	isBreak   bool
}

type fixScope struct {
	targets []fixTarget
}

// Emitter performs the one emit pass over an AST (spec.md §4.4). It owns
// the growable code buffer, the forward-jump/identifier patch list, the
// break/continue fix stack, and the statement-boundary line table.
type Emitter struct {
	arena   *ast.Arena
	interns *InternTable

	code    []uint32
	patches []patchRecord
	lines   []lineRecord

	fixStack []*fixScope

	strings *StringPool
	floats  *FloatPool
	idents  *IdentFixupTable

	curLine int

	// curPackage is the name of the enclosing `package P { ... }` block, if
	// any (spec.md §6.4, §4.8). emitFuncDecl stamps it onto every
	// OP_FUNC_DECL emitted while it is set so the function registers into
	// the package-tagged namespace ActivatePackage/DeactivatePackage
	// overlay, rather than into a namespace literally named P.
	curPackage string
}

// NewEmitter returns an emitter reading nodes from arena.
func NewEmitter(arena *ast.Arena, interns *InternTable) *Emitter {
	return &Emitter{
		arena:   arena,
		interns: interns,
		strings: NewStringPool(),
		floats:  NewFloatPool(),
		idents:  NewIdentFixupTable(),
	}
}

func (e *Emitter) write(w uint32) uint32 {
	addr := uint32(len(e.code))
	e.code = append(e.code, w)
	return addr
}

// emitOp writes an opcode word and returns its address.
func (e *Emitter) emitOp(op Opcode) uint32 { return e.write(uint32(op)) }

// emitOperand writes a single 32-bit operand and returns its address.
func (e *Emitter) emitOperand(v uint32) uint32 { return e.write(v) }

// emitWide writes a 64-bit operand as two consecutive little-endian code
// words (spec.md §9 open question, resolved in favor of 32-bit code words
// with wide operands split across two words) and returns the first word's
// address.
func (e *Emitter) emitWide(v uint64) uint32 {
	addr := e.write(uint32(v))
	e.write(uint32(v >> 32))
	return addr
}

// emitIdent emits OP_LOADIMMED_IDENT for name and records the use for
// load-time fixup (spec.md §4.4 "Identifier fixups").
func (e *Emitter) emitIdent(name string) {
	e.emitOp(OpLoadImmedIdent)
	addr := e.emitOperand(0)
	e.idents.Record(name, addr)
}

func (e *Emitter) markLine(line int) {
	if line == e.curLine {
		return
	}
	e.curLine = line
	e.lines = append(e.lines, lineRecord{IP: uint32(len(e.code)), Line: line})
}

func (e *Emitter) pushFixScope() *fixScope {
	s := &fixScope{}
	e.fixStack = append(e.fixStack, s)
	return s
}

// fixLoop resolves every break/continue placeholder recorded since the
// matching pushFixScope to breakTarget/continueTarget and pops the scope
// (spec.md §4.4 "Fix stack"). It panics on an unbalanced pop, matching the
// emitter's own internal self-check ("the emitter asserts the fix stack
// depth on scope exit").
func (e *Emitter) fixLoop(continueTarget, breakTarget uint32) {
	n := len(e.fixStack)
	if n == 0 {
		panic("kork: fix stack underflow")
	}
	top := e.fixStack[n-1]
	e.fixStack = e.fixStack[:n-1]
	for _, t := range top.targets {
		if t.isBreak {
			e.patches = append(e.patches, patchRecord{t.addr, breakTarget})
		} else {
			e.patches = append(e.patches, patchRecord{t.addr, continueTarget})
		}
	}
}

func (e *Emitter) addBreak(addr uint32) {
	n := len(e.fixStack)
	if n == 0 {
		panic("kork: break outside loop")
	}
	e.fixStack[n-1].targets = append(e.fixStack[n-1].targets, fixTarget{addr, true})
}

func (e *Emitter) addContinue(addr uint32) {
	n := len(e.fixStack)
	if n == 0 {
		panic("kork: continue outside loop")
	}
	e.fixStack[n-1].targets = append(e.fixStack[n-1].targets, fixTarget{addr, false})
}

// emitJump writes op followed by a placeholder target operand and returns
// the operand's address for a later Resolve call.
func (e *Emitter) emitJump(op Opcode) uint32 {
	e.emitOp(op)
	return e.emitOperand(0)
}

// resolve schedules addr to be patched to val at Finalize.
func (e *Emitter) resolve(addr, val uint32) {
	e.patches = append(e.patches, patchRecord{addr, val})
}

func (e *Emitter) here() uint32 { return uint32(len(e.code)) }

// node is a small convenience accessor over the arena.
func (e *Emitter) node(ref ast.NodeRef) *ast.Node { return e.arena.At(ref) }

// EmitStatementList compiles a statement sequence in order.
func (e *Emitter) EmitStatementList(list []ast.NodeRef) error {
	for _, ref := range list {
		if err := e.EmitStatement(ref); err != nil {
			return err
		}
	}
	return nil
}

// EmitStatement compiles one statement node.
func (e *Emitter) EmitStatement(ref ast.NodeRef) error {
	n := e.node(ref)
	e.markLine(n.Line)

	switch n.Kind {
	case ast.KindBreak:
		addr := e.emitJump(OpJmp)
		e.addBreak(addr)
		return nil

	case ast.KindContinue:
		addr := e.emitJump(OpJmp)
		e.addContinue(addr)
		return nil

	case ast.KindReturn:
		if n.A == ast.InvalidNode {
			e.emitOp(OpReturn)
			return nil
		}
		if _, err := e.EmitExpr(n.A, ReqNone); err != nil {
			return err
		}
		e.emitOp(OpReturn)
		return nil

	case ast.KindIf:
		return e.emitIf(n)

	case ast.KindLoop:
		return e.emitLoop(n)

	case ast.KindForeach:
		return e.emitForeach(n)

	case ast.KindTryCatch:
		return e.emitTryCatch(n)

	case ast.KindThrow:
		return e.emitThrow(n)

	case ast.KindFuncDecl:
		return e.emitFuncDecl(n)

	case ast.KindPackageBlock:
		return e.emitPackageBlock(n)

	case ast.KindObjectDecl:
		return e.emitObjectDecl(n)

	case ast.KindSlotAssign:
		return e.emitSlotAssign(n)

	default:
		// A bare expression statement: evaluate and discard.
		_, err := e.EmitExpr(ref, ReqNone)
		return err
	}
}

func (e *Emitter) emitIf(n *ast.Node) error {
	if _, err := e.EmitExpr(n.A, ReqInt); err != nil {
		return err
	}
	elseJump := e.emitJump(OpJmpIfNot)
	if err := e.EmitStatementList(e.node(n.B).List); err != nil {
		return err
	}
	elseList := e.node(n.C).List
	if len(elseList) == 0 {
		e.resolve(elseJump, e.here())
		return nil
	}
	endJump := e.emitJump(OpJmp)
	e.resolve(elseJump, e.here())
	if err := e.EmitStatementList(elseList); err != nil {
		return err
	}
	e.resolve(endJump, e.here())
	return nil
}

// emitLoop compiles while/do-while/for (spec.md §6.4). Int=1 marks a
// do/while loop (test after the body runs once).
func (e *Emitter) emitLoop(n *ast.Node) error {
	if n.A != ast.InvalidNode {
		if _, err := e.EmitExpr(n.A, ReqNone); err != nil {
			return err
		}
	}
	e.pushFixScope()
	bodyStart := e.here()

	var condJump uint32
	doWhile := n.Int == 1
	if !doWhile {
		if _, err := e.EmitExpr(n.B, ReqInt); err != nil {
			return err
		}
		condJump = e.emitJump(OpJmpIfNot)
	}

	if err := e.EmitStatementList(e.node(n.D).List); err != nil {
		return err
	}

	continueTarget := e.here()
	if n.C != ast.InvalidNode {
		if _, err := e.EmitExpr(n.C, ReqNone); err != nil {
			return err
		}
	}

	if doWhile {
		if _, err := e.EmitExpr(n.B, ReqInt); err != nil {
			return err
		}
		e.emitOp(OpJmpIf)
		e.emitOperand(bodyStart)
	} else {
		e.emitOp(OpJmp)
		e.emitOperand(bodyStart)
		e.resolve(condJump, e.here())
	}

	e.fixLoop(continueTarget, e.here())
	return nil
}

// emitForeach compiles foreach/foreach$ using OP_ITER_BEGIN/OP_ITER/
// OP_ITER_END (spec.md §4.6 "Iterator stack").
func (e *Emitter) emitForeach(n *ast.Node) error {
	if _, err := e.EmitExpr(n.A, ReqNone); err != nil {
		return err
	}
	e.emitIdent(n.Str)
	e.emitOp(OpIterBegin)
	if n.Int == 1 {
		e.emitOperand(1) // word-split mode (foreach$)
	} else {
		e.emitOperand(0)
	}
	loopTop := e.emitJump(OpIter)

	e.pushFixScope()
	if err := e.EmitStatementList(e.node(n.D).List); err != nil {
		return err
	}
	continueTarget := e.here()
	e.emitOp(OpJmp)
	e.emitOperand(loopTop - 1) // jump back to the OP_ITER opcode word
	end := e.here()
	e.resolve(loopTop, end)
	e.emitOp(OpIterEnd)
	e.fixLoop(continueTarget, end)
	return nil
}

// emitTryCatch compiles try/catch via OP_TRY_BEGIN/OP_TRY_END (OP_THROW
// itself is emitted by emitThrow for a nested `throw` statement, spec.md
// §4.6 "Try/catch"). The mask is always "catch everything"; a typed
// catch-mask surface is not part of the source-level grammar this
// compiler accepts (spec.md §6.4 lists no typed-catch syntax).
func (e *Emitter) emitTryCatch(n *ast.Node) error {
	const catchAllMask = ^uint32(0)
	e.emitOp(OpTryBegin)
	e.emitOperand(catchAllMask)
	catchAddr := e.emitOperand(0)

	if err := e.EmitStatementList(e.node(n.D).List); err != nil {
		return err
	}
	e.emitOp(OpTryEnd)
	skipCatch := e.emitJump(OpJmp)

	e.resolve(catchAddr, e.here())
	if n.Str != "" {
		e.emitIdent(n.Str)
		e.emitOp(OpSetCurVarCreate)
		e.emitOp(OpSaveVarStr) // binds the thrown value, made available per spec as "a register"
	}
	if err := e.EmitStatementList(n.List); err != nil {
		return err
	}
	e.resolve(skipCatch, e.here())
	return nil
}

// emitThrow compiles `throw expr;` (spec.md §4.7, §8 scenario 5). OP_THROW
// reads the thrown value out of the string accumulator register, so an
// expression emitted as INT or FLOAT is converted in place first; a
// string-producing expression already leaves it there.
func (e *Emitter) emitThrow(n *ast.Node) error {
	got, err := e.EmitExpr(n.A, ReqString)
	if err != nil {
		return err
	}
	switch got {
	case ReqInt:
		e.emitOp(OpUintToStr)
	case ReqFloat:
		e.emitOp(OpFltToStr)
	}
	e.emitOp(OpThrow)
	return nil
}

func (e *Emitter) emitFuncDecl(n *ast.Node) error {
	e.emitOp(OpFuncDecl)
	e.idents.Record(n.Str, e.emitOperand(0))
	e.idents.Record(n.Str2, e.emitOperand(0))
	e.idents.Record(e.curPackage, e.emitOperand(0))
	e.emitOperand(uint32(len(n.List)))
	for _, p := range n.List {
		e.idents.Record(e.node(p).Str, e.emitOperand(0))
	}
	bodyLenAddr := e.emitOperand(0)
	bodyStart := e.here()
	if err := e.EmitStatementList(e.node(n.D).List); err != nil {
		return err
	}
	e.emitOp(OpReturn)
	e.resolve(bodyLenAddr, e.here()-bodyStart)
	return nil
}

// emitPackageBlock compiles `package P { ... }` (spec.md §6.4, §8 scenario
// 6). Declarations inside are emitted exactly as they would be at global
// scope, except curPackage is set for the duration so emitFuncDecl stamps
// each OP_FUNC_DECL with P; nested package blocks are not part of the
// accepted grammar (spec.md §6.4 lists `package P { ... }` as a top-level
// construct), so this does not need to stack beyond one level, but saves
// and restores the previous value regardless to stay correct if a future
// parser ever nests them.
func (e *Emitter) emitPackageBlock(n *ast.Node) error {
	prev := e.curPackage
	e.curPackage = n.Str
	err := e.EmitStatementList(e.node(n.D).List)
	e.curPackage = prev
	return err
}

func (e *Emitter) emitObjectDecl(n *ast.Node) error {
	e.emitIdent(n.Str)
	if n.A != ast.InvalidNode {
		if _, err := e.EmitExpr(n.A, ReqString); err != nil {
			return err
		}
	} else {
		e.emitOp(OpLoadImmedStr)
		e.emitOperand(e.strings.Add("", true, false))
	}
	e.emitOp(OpCreateObject)
	e.emitOperand(uint32(n.Int)) // 1 == datablock

	for _, member := range n.List {
		if err := e.EmitStatement(member); err != nil {
			return err
		}
	}
	e.emitOp(OpAddObject)
	e.emitOp(OpEndObject)
	return nil
}

func (e *Emitter) emitSlotAssign(n *ast.Node) error {
	e.emitIdent(n.Str)
	if n.A != ast.InvalidNode {
		if _, err := e.EmitExpr(n.A, ReqNone); err != nil {
			return err
		}
		e.emitOp(OpSetCurFieldArray)
	} else {
		e.emitOp(OpSetCurField)
	}
	req, err := e.EmitExpr(n.B, ReqNone)
	if err != nil {
		return err
	}
	e.emitFieldSave(req)
	return nil
}

func (e *Emitter) emitFieldSave(req TypeReq) {
	switch req {
	case ReqInt:
		e.emitOp(OpSaveFieldUint)
	case ReqFloat:
		e.emitOp(OpSaveFieldFlt)
	default:
		e.emitOp(OpSaveFieldStr)
	}
}

// EmitExpr compiles an expression node, requesting the representation req
// when it has a choice (spec.md §4.4 "type requirement"), and returns the
// representation it actually leaves behind so callers can coerce.
func (e *Emitter) EmitExpr(ref ast.NodeRef, req TypeReq) (TypeReq, error) {
	n := e.node(ref)

	switch n.Kind {
	case ast.KindIntLiteral:
		if req == ReqFloat {
			e.emitOp(OpLoadImmedFlt)
			e.emitWide(floatBitsOf(float64(n.Int)))
			return ReqFloat, nil
		}
		e.emitOp(OpLoadImmedUint)
		e.emitWide(uint64(n.Int))
		return ReqInt, nil

	case ast.KindFloatLiteral:
		e.emitOp(OpLoadImmedFlt)
		e.emitWide(floatBitsOf(n.Float))
		return ReqFloat, nil

	case ast.KindStringLiteral:
		off := e.strings.Add(n.Str, true, n.Int == 1)
		if n.Int == 1 {
			e.emitOp(OpTagToStr)
		} else {
			e.emitOp(OpLoadImmedStr)
		}
		e.emitOperand(off)
		return ReqString, nil

	case ast.KindConstLiteral:
		e.emitIdent(n.Str)
		return ReqString, nil

	case ast.KindVarRead:
		e.emitIdent(n.Str)
		e.emitOp(OpSetCurVar)
		return e.emitVarLoad(req), nil

	case ast.KindVarAssign:
		got, err := e.EmitExpr(n.A, req)
		if err != nil {
			return ReqNone, err
		}
		e.emitIdent(n.Str)
		e.emitOp(OpSetCurVarCreate)
		e.emitVarSave(got)
		return got, nil

	case ast.KindOpAssign:
		e.emitIdent(n.Str)
		e.emitOp(OpSetCurVar)
		cur := e.emitVarLoad(req)
		rhsReq, err := e.EmitExpr(n.A, cur)
		if err != nil {
			return ReqNone, err
		}
		e.emitArith(Opcode(n.Op), cur, rhsReq)
		e.emitIdent(n.Str)
		e.emitOp(OpSetCurVar)
		e.emitVarSave(cur)
		return cur, nil

	case ast.KindBinary:
		return e.emitBinary(n, req)

	case ast.KindComparison:
		return e.emitComparison(n)

	case ast.KindUnary:
		got, err := e.EmitExpr(n.A, req)
		if err != nil {
			return ReqNone, err
		}
		e.emitOp(Opcode(n.Op))
		return got, nil

	case ast.KindStringConcat:
		return e.emitStringConcat(n)

	case ast.KindStringEquality:
		return e.emitStringEquality(n)

	case ast.KindCommaCat:
		return e.emitCommaCat(n)

	case ast.KindConditional:
		return e.emitConditional(n, req)

	case ast.KindCallFree:
		return e.emitCallFree(n)

	case ast.KindCallMethod:
		return e.emitCallMethod(n)

	case ast.KindCallParent:
		return e.emitCallParent(n)

	case ast.KindSlotAccess:
		return e.emitSlotAccess(n, req)

	case ast.KindTaggedStringAccess:
		e.emitIdent(n.Str)
		e.emitOp(OpTagToStr)
		e.emitOperand(0)
		return ReqString, nil

	case ast.KindAssert:
		got, err := e.EmitExpr(n.A, ReqInt)
		if err != nil {
			return ReqNone, err
		}
		_ = got
		off := e.strings.Add(n.Str, true, false)
		e.emitOp(OpAssert)
		e.emitOperand(off)
		return ReqNone, nil

	default:
		return ReqNone, fmt.Errorf("%w: unhandled expression kind %d", ErrBadCodeblock, n.Kind)
	}
}

func (e *Emitter) emitVarLoad(req TypeReq) TypeReq {
	switch req {
	case ReqInt:
		e.emitOp(OpLoadVarUint)
		return ReqInt
	case ReqFloat:
		e.emitOp(OpLoadVarFlt)
		return ReqFloat
	default:
		e.emitOp(OpLoadVarStr)
		return ReqString
	}
}

func (e *Emitter) emitVarSave(req TypeReq) {
	switch req {
	case ReqInt:
		e.emitOp(OpSaveVarUint)
	case ReqFloat:
		e.emitOp(OpSaveVarFlt)
	default:
		e.emitOp(OpSaveVarStr)
	}
}

func floatBitsOf(f float64) uint64 { return math.Float64bits(f) }

// emitBinary picks the integer opcode when both operands are compiled as
// INT, otherwise promotes both sides to FLOAT (spec.md §4.4 precompile
// pass).
func (e *Emitter) emitBinary(n *ast.Node, req TypeReq) (TypeReq, error) {
	wantFloat := req == ReqFloat || isFloatOnlyOp(Opcode(n.Op))
	side := ReqInt
	if wantFloat {
		side = ReqFloat
	}

	lhsReq, err := e.EmitExpr(n.A, side)
	if err != nil {
		return ReqNone, err
	}
	rhsReq, err := e.EmitExpr(n.B, lhsReq)
	if err != nil {
		return ReqNone, err
	}
	if lhsReq != rhsReq {
		// Mixed representations: promote the already-emitted operand.
		rhsReq = ReqFloat
	}
	e.emitArith(Opcode(n.Op), lhsReq, rhsReq)
	if lhsReq == ReqFloat || rhsReq == ReqFloat {
		return ReqFloat, nil
	}
	return ReqInt, nil
}

func isFloatOnlyOp(op Opcode) bool {
	switch op {
	case OpDiv:
		return false // integer division is well defined (truncating, §4.2)
	default:
		return false
	}
}

func (e *Emitter) emitArith(op Opcode, lhs, rhs TypeReq) {
	e.emitOp(op)
}

func (e *Emitter) emitComparison(n *ast.Node) (TypeReq, error) {
	if _, err := e.EmitExpr(n.A, ReqFloat); err != nil {
		return ReqNone, err
	}
	if _, err := e.EmitExpr(n.B, ReqFloat); err != nil {
		return ReqNone, err
	}
	e.emitOp(Opcode(n.Op))
	return ReqInt, nil
}

func (e *Emitter) emitStringConcat(n *ast.Node) (TypeReq, error) {
	e.emitOp(OpPushFrame)
	if _, err := e.EmitExpr(n.A, ReqString); err != nil {
		return ReqNone, err
	}
	e.emitOp(OpAdvanceStr)
	if n.Str != "" {
		e.emitOp(OpAdvanceStrAppendChar)
		e.emitOperand(uint32(n.Str[0]))
	}
	if _, err := e.EmitExpr(n.B, ReqString); err != nil {
		return ReqNone, err
	}
	e.emitOp(OpAdvanceStr)
	e.emitOp(OpTerminateRewindStr)
	return ReqString, nil
}

func (e *Emitter) emitStringEquality(n *ast.Node) (TypeReq, error) {
	e.emitOp(OpPushFrame)
	if _, err := e.EmitExpr(n.A, ReqString); err != nil {
		return ReqNone, err
	}
	e.emitOp(OpAdvanceStr)
	e.emitOp(OpAdvanceStrNul)
	if _, err := e.EmitExpr(n.B, ReqString); err != nil {
		return ReqNone, err
	}
	e.emitOp(OpAdvanceStr)
	e.emitOp(OpCompareStr)
	e.emitOp(OpRewindStr)
	if n.Int == 1 {
		e.emitOp(OpNot)
	}
	return ReqInt, nil
}

func (e *Emitter) emitCommaCat(n *ast.Node) (TypeReq, error) {
	e.emitOp(OpPushFrame)
	for i, ref := range n.List {
		if i > 0 {
			e.emitOp(OpAdvanceStrComma)
		}
		if _, err := e.EmitExpr(ref, ReqString); err != nil {
			return ReqNone, err
		}
		e.emitOp(OpAdvanceStr)
	}
	e.emitOp(OpTerminateRewindStr)
	return ReqString, nil
}

func (e *Emitter) emitConditional(n *ast.Node, req TypeReq) (TypeReq, error) {
	if _, err := e.EmitExpr(n.A, ReqInt); err != nil {
		return ReqNone, err
	}
	elseJump := e.emitJump(OpJmpIfNot)
	gotTrue, err := e.EmitExpr(n.B, req)
	if err != nil {
		return ReqNone, err
	}
	endJump := e.emitJump(OpJmp)
	e.resolve(elseJump, e.here())
	gotFalse, err := e.EmitExpr(n.C, gotTrue)
	if err != nil {
		return ReqNone, err
	}
	e.resolve(endJump, e.here())
	if gotTrue != gotFalse {
		return ReqFloat, nil
	}
	return gotTrue, nil
}

func (e *Emitter) emitArgv(args []ast.NodeRef) {
	e.emitOp(OpPushFrame)
	for _, a := range args {
		e.EmitExpr(a, ReqString)
		e.emitOp(OpAdvanceStr)
		e.emitOp(OpAdvanceStrNul)
	}
}

func (e *Emitter) emitCallFree(n *ast.Node) (TypeReq, error) {
	e.emitArgv(n.List)
	e.emitIdent(n.Str)
	e.emitOp(OpCallFuncResolve)
	e.emitOperand(uint32(len(n.List)))
	return ReqString, nil
}

func (e *Emitter) emitCallMethod(n *ast.Node) (TypeReq, error) {
	if _, err := e.EmitExpr(n.A, ReqNone); err != nil {
		return ReqNone, err
	}
	e.emitOp(OpSetCurObject)
	e.emitArgv(n.List)
	e.emitIdent(n.Str)
	e.emitOp(OpCallFunc)
	e.emitOperand(uint32(len(n.List)))
	return ReqString, nil
}

func (e *Emitter) emitCallParent(n *ast.Node) (TypeReq, error) {
	e.emitArgv(n.List)
	e.emitIdent(n.Str)
	e.emitOp(OpCallFunc)
	e.emitOperand(uint32(len(n.List)) | parentCallBit)
	return ReqString, nil
}

// parentCallBit flags a CALLFUNC operand as a Parent:: dispatch so the VM
// starts the namespace walk one level above the current frame's namespace.
const parentCallBit = uint32(1) << 31

func (e *Emitter) emitSlotAccess(n *ast.Node, req TypeReq) (TypeReq, error) {
	if _, err := e.EmitExpr(n.A, ReqNone); err != nil {
		return ReqNone, err
	}
	e.emitOp(OpSetCurObject)
	e.emitIdent(n.Str)
	if n.B != ast.InvalidNode {
		if _, err := e.EmitExpr(n.B, ReqNone); err != nil {
			return ReqNone, err
		}
		e.emitOp(OpSetCurFieldArray)
	} else {
		e.emitOp(OpSetCurField)
	}
	return e.emitFieldLoad(req), nil
}

func (e *Emitter) emitFieldLoad(req TypeReq) TypeReq {
	switch req {
	case ReqInt:
		e.emitOp(OpLoadFieldUint)
		return ReqInt
	case ReqFloat:
		e.emitOp(OpLoadFieldFlt)
		return ReqFloat
	default:
		e.emitOp(OpLoadFieldStr)
		return ReqString
	}
}

// CompiledCode is everything Finalize produces: a self-contained bundle
// ready for Codeblock to adopt or persist.
type CompiledCode struct {
	Code    []uint32
	Lines   []lineRecord
	Strings []byte
	Floats  []float64
	Idents  []*Interned
}

// Finalize applies every pending patch, builds the constant pools, resolves
// identifier fixups against interns, and returns the assembled bundle
// (spec.md §4.4 "patch list is applied in a single pass").
func (e *Emitter) Finalize() *CompiledCode {
	identList := e.idents.Build()
	resolved := make([]*Interned, len(identList))
	for i, fx := range identList {
		id := e.interns.Intern(fx.Name, false)
		resolved[i] = id
		for _, addr := range fx.Patches {
			e.patches = append(e.patches, patchRecord{addr, uint32(i)})
		}
	}

	for _, p := range e.patches {
		e.code[p.addr] = p.val
	}
	e.patches = nil

	return &CompiledCode{
		Code:    e.code,
		Lines:   e.lines,
		Strings: e.strings.Build(),
		Floats:  e.floats.Build(),
		Idents:  resolved,
	}
}
