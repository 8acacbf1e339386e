// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

// Opcode is one code word in a codeblock's instruction stream. Numeric
// values are this implementation's own layout — spec.md §6.3 only commits
// to the block/container format, not individual opcode numbers — but the
// name and ordering follow the inventory in spec.md §4.4 exactly so a
// disassembler output is recognizable against the spec.
type Opcode uint32

const (
	OpFuncDecl Opcode = iota
	OpCreateObject
	OpAddObject
	OpEndObject

	OpJmpIfFNot
	OpJmpIfNot
	OpJmpIfF
	OpJmpIf
	OpJmpIfNotNP
	OpJmpIfNP
	OpJmp

	OpReturn

	OpCmpEQ
	OpCmpGR
	OpCmpGE
	OpCmpLT
	OpCmpLE
	OpCmpNE

	OpXor
	OpMod
	OpBitAnd
	OpBitOr
	OpNot
	OpNotF
	OpOnesComplement

	OpShr
	OpShl
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg

	OpSetCurVar
	OpSetCurVarCreate
	OpSetCurVarArray
	OpSetCurVarArrayCreate

	OpLoadVarUint
	OpLoadVarFlt
	OpLoadVarStr

	OpSaveVarUint
	OpSaveVarFlt
	OpSaveVarStr

	OpSetCurObject
	OpSetCurObjectNew
	OpSetCurField
	OpSetCurFieldArray

	OpLoadFieldUint
	OpLoadFieldFlt
	OpLoadFieldStr

	OpSaveFieldUint
	OpSaveFieldFlt
	OpSaveFieldStr

	OpStrToUint
	OpStrToFlt
	OpStrToNone

	OpFltToUint
	OpFltToStr
	OpFltToNone

	OpUintToFlt
	OpUintToStr
	OpUintToNone

	OpLoadImmedUint
	OpLoadImmedFlt
	OpTagToStr
	OpLoadImmedStr
	OpLoadImmedIdent

	OpCallFuncResolve
	OpCallFunc

	OpAdvanceStr
	OpAdvanceStrAppendChar
	OpAdvanceStrComma
	OpAdvanceStrNul

	OpRewindStr
	OpTerminateRewindStr
	OpCompareStr

	OpPush
	OpPushFrame

	OpIterBegin
	OpIter
	OpIterEnd

	OpTryBegin
	OpTryEnd
	OpThrow

	OpAssert
	OpYield
	OpBreakDebug

	opcodeCount
)

var opcodeNames = [...]string{
	"OP_FUNC_DECL", "OP_CREATE_OBJECT", "OP_ADD_OBJECT", "OP_END_OBJECT",
	"OP_JMPIFFNOT", "OP_JMPIFNOT", "OP_JMPIFF", "OP_JMPIF", "OP_JMPIFNOT_NP", "OP_JMPIF_NP", "OP_JMP",
	"OP_RETURN",
	"OP_CMPEQ", "OP_CMPGR", "OP_CMPGE", "OP_CMPLT", "OP_CMPLE", "OP_CMPNE",
	"OP_XOR", "OP_MOD", "OP_BITAND", "OP_BITOR", "OP_NOT", "OP_NOTF", "OP_ONESCOMPLEMENT",
	"OP_SHR", "OP_SHL", "OP_AND", "OP_OR", "OP_ADD", "OP_SUB", "OP_MUL", "OP_DIV", "OP_NEG",
	"OP_SETCURVAR", "OP_SETCURVAR_CREATE", "OP_SETCURVAR_ARRAY", "OP_SETCURVAR_ARRAY_CREATE",
	"OP_LOADVAR_UINT", "OP_LOADVAR_FLT", "OP_LOADVAR_STR",
	"OP_SAVEVAR_UINT", "OP_SAVEVAR_FLT", "OP_SAVEVAR_STR",
	"OP_SETCUROBJECT", "OP_SETCUROBJECT_NEW", "OP_SETCURFIELD", "OP_SETCURFIELD_ARRAY",
	"OP_LOADFIELD_UINT", "OP_LOADFIELD_FLT", "OP_LOADFIELD_STR",
	"OP_SAVEFIELD_UINT", "OP_SAVEFIELD_FLT", "OP_SAVEFIELD_STR",
	"OP_STR_TO_UINT", "OP_STR_TO_FLT", "OP_STR_TO_NONE",
	"OP_FLT_TO_UINT", "OP_FLT_TO_STR", "OP_FLT_TO_NONE",
	"OP_UINT_TO_FLT", "OP_UINT_TO_STR", "OP_UINT_TO_NONE",
	"OP_LOADIMMED_UINT", "OP_LOADIMMED_FLT", "OP_TAG_TO_STR", "OP_LOADIMMED_STR", "OP_LOADIMMED_IDENT",
	"OP_CALLFUNC_RESOLVE", "OP_CALLFUNC",
	"OP_ADVANCE_STR", "OP_ADVANCE_STR_APPENDCHAR", "OP_ADVANCE_STR_COMMA", "OP_ADVANCE_STR_NUL",
	"OP_REWIND_STR", "OP_TERMINATE_REWIND_STR", "OP_COMPARE_STR",
	"OP_PUSH", "OP_PUSH_FRAME",
	"OP_ITER_BEGIN", "OP_ITER", "OP_ITER_END",
	"OP_TRY_BEGIN", "OP_TRY_END", "OP_THROW",
	"OP_ASSERT", "OP_YIELD", "OP_BREAK_DEBUG",
}

// String renders the opcode's spec-level name for disassembly/tracing.
func (op Opcode) String() string {
	if int(op) < 0 || int(op) >= len(opcodeNames) {
		return "OP_UNKNOWN"
	}
	return opcodeNames[op]
}

// Valid reports whether op is within the known opcode range.
func (op Opcode) Valid() bool { return op < opcodeCount }
