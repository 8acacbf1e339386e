// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/kork-lang/kork/internal/kstring"
)

// resumeDispatch lazily starts f's goroutine on first call (f.body must
// already be set) and otherwise hands injected to a fiber blocked in
// OP_YIELD. A fiber gets exactly one goroutine for its whole lifetime; Go
// has no stackful-coroutine primitive, so a dedicated goroutine plus an
// unbuffered resume channel and a one-slot outcome channel is this
// engine's stand-in for one (adapting
// the worker/job channel handshake the teacher's directory-scanning CLI
// uses, spec.md §5 "one goroutine drives resume at a time").
func (vm *VM) resumeDispatch(f *Fiber, injected Value) Outcome {
	if f.outCh == nil {
		f.outCh = make(chan Outcome, 1)
		f.resumeCh = make(chan Value)
		f.State = FiberRunning
		go func() {
			v, err := f.body()
			if err != nil {
				f.State = FiberFaulted
				f.outCh <- Outcome{Kind: OutcomeFaulted, Fault: err}
				return
			}
			f.State = FiberFinished
			f.outCh <- Outcome{Kind: OutcomeReturned, Value: v}
		}()
		return <-f.outCh
	}
	f.State = FiberRunning
	f.resumeCh <- injected
	return <-f.outCh
}

// run prepares f to execute cb starting at ip with argv bound as the
// entry frame's locals, then drives it to its first suspension point
// (spec.md §6.1 execCodeBlock). noCalls, when true, faults any
// OP_CALLFUNC/OP_CALLFUNC_RESOLVE the body reaches, matching the "no
// calls" evaluation mode exposed at the API boundary.
func (vm *VM) run(f *Fiber, cb *Codeblock, ip uint32, argv []Value, noCalls bool) Outcome {
	f.body = func() (Value, error) {
		frame := vm.pushFrame(f, cb, ip, nil, nil)
		frame.noCalls = noCalls
		defer vm.popFrame(f)
		vm.bindPositional(frame, argv)
		return vm.execFrame(f, frame)
	}
	return vm.resumeDispatch(f, Value{})
}

func (vm *VM) pushFrame(f *Fiber, cb *Codeblock, ip uint32, ns *Namespace, this *Object) *Frame {
	frame := &Frame{
		Codeblock: cb,
		IP:        ip,
		Namespace: ns,
		Locals:    NewDictionary(),
		This:      this,

		stringMarker: len(f.strBuf),
		tryMarker:    len(f.tryStack),
		intDepth:     len(f.IntStack),
		fltDepth:     len(f.FltStack),
	}
	if ns != nil {
		frame.ScopeName = ns.Name.String()
	}
	f.frames = append(f.frames, frame)
	return frame
}

func (vm *VM) popFrame(f *Fiber) {
	n := len(f.frames)
	if n == 0 {
		return
	}
	f.frames = f.frames[:n-1]
}

func (vm *VM) bindPositional(frame *Frame, argv []Value) {
	for i, v := range argv {
		name := frame.Locals.GetOrCreate(vm.Intern(fmt.Sprintf("%d", i+1), false))
		name.Value = v
	}
}

func (vm *VM) bindParams(frame *Frame, params []*Interned, argv []Value) {
	for i, name := range params {
		entry := frame.Locals.GetOrCreate(name)
		if i < len(argv) {
			entry.Value = argv[i]
		}
	}
	vm.bindPositional(frame, argv)
}

// invokeEntry dispatches to a native callback or pushes and runs a script
// frame, on the caller's own goroutine (spec.md §4.8 dispatch algorithm).
// A script call nested inside another frame's opcode loop reaches here by
// plain recursive Go call, so OP_YIELD deep in the callee still suspends
// the fiber's one goroutine correctly.
func (vm *VM) invokeEntry(f *Fiber, entry *Entry, this *Object, argv []Value) (Value, error) {
	switch entry.Type {
	case EntryNative:
		if entry.Native == nil {
			return Value{}, fmt.Errorf("%w: %s", ErrMethodNotFound, entry.FunctionName)
		}
		if len(argv) < entry.MinArgs || (entry.MaxArgs >= 0 && len(argv) > entry.MaxArgs) {
			return Value{}, fmt.Errorf("%w: usage: %s", ErrTypeMismatch, entry.Usage)
		}
		return entry.Native(this, ArgView{raw: argv, ctx: f, types: vm.Types})

	case EntryScriptFunction:
		if len(f.frames) >= vm.Config.maxFrames() {
			return Value{}, fmt.Errorf("%w: %s", ErrStackOverflow, entry.FunctionName)
		}
		frame := vm.pushFrame(f, entry.Code, entry.FunctionOffset, entry.Namespace, this)
		defer vm.popFrame(f)
		vm.bindParams(frame, entry.Params, argv)
		return vm.execFrame(f, frame)

	default:
		return Value{}, fmt.Errorf("%w: %s", ErrMethodNotFound, entry.FunctionName)
	}
}

// resolveVar finds name in frame.Locals, falling back to the VM's global
// dictionary (spec.md §3.7 "Locals shadow globals"). With create set, a
// name missing from frame.Locals is allocated there without consulting
// the global dictionary.
func (vm *VM) resolveVar(frame *Frame, name *Interned, create bool) *DictEntry {
	if e := frame.Locals.Lookup(name); e != nil {
		return e
	}
	if create {
		return frame.Locals.GetOrCreate(name)
	}
	if e := vm.Global.Lookup(name); e != nil {
		return e
	}
	return nil
}

// splitArgv slices the NUL-delimited argument span strBuf[marker:] (built
// by OP_PUSH_FRAME + a run of OP_ADVANCE_STR/OP_ADVANCE_STR_NUL) into
// individual strings, trimming a trailing empty element left by the final
// terminator.
func splitArgv(buf []byte) []string {
	parts := bytes.Split(buf, []byte{0})
	if n := len(parts); n > 0 && len(parts[n-1]) == 0 {
		parts = parts[:n-1]
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

func (f *Fiber) popArgv() []Value {
	marker, err := f.popFrameMarker()
	if err != nil {
		return nil
	}
	raw := append([]byte(nil), f.strBuf[marker:]...)
	f.strBuf = f.strBuf[:marker]
	strs := splitArgv(raw)
	out := make([]Value, len(strs))
	for i, s := range strs {
		out[i] = MakeString(s)
	}
	return out
}

// fieldIndex resolves the array index an OP_SETCURFIELD_ARRAY/
// OP_SETCURVAR_ARRAY_CREATE opcode operates on: preferentially the top of
// the int stack (the common case, an integer index expression), falling
// back to parsing the current string register numerically.
func (f *Fiber) fieldIndex() int {
	if len(f.IntStack) > 0 {
		v, _ := f.popInt()
		return int(v)
	}
	return int(StringToNumber(f.curStr))
}

func faultScope(frame *Frame) string {
	if frame == nil || frame.Namespace == nil {
		return ""
	}
	return frame.Namespace.Name.String()
}

// execFrame runs frame's codeblock from frame.IP until OP_RETURN, an
// unrecovered fault, or the fiber yields (spec.md §4.6 "interpreter loop").
func (vm *VM) execFrame(f *Fiber, frame *Frame) (Value, error) {
	cb := frame.Codeblock
	code := cb.Code

	fault := func(kind error) error {
		line := cb.lineForIP(frame.IP)
		rf := newFault(kind, faultScope(frame), cb.File, line)
		vm.log.Error(rf.Error())
		return rf
	}

	fetch := func() uint32 {
		w := code[frame.IP]
		frame.IP++
		return w
	}
	fetchWide := func() uint64 {
		lo := uint64(fetch())
		hi := uint64(fetch())
		return lo | hi<<32
	}
	fetchIdent := func() *Interned {
		idx := fetch()
		if int(idx) >= len(cb.Idents) {
			return nil
		}
		return cb.Idents[idx]
	}

	for {
		if int(frame.IP) >= len(code) {
			return frame.returnValue(f), nil
		}
		if f.cancelled {
			return Value{}, fault(ErrCancelled)
		}

		ip := frame.IP
		op := Opcode(fetch())
		if vm.Config.Trace {
			vm.log.Debug(fmt.Sprintf("[%d] %s", ip, op))
		}

		switch op {
		case OpReturn:
			return frame.returnValue(f), nil

		case OpJmp:
			frame.IP = fetch()

		case OpJmpIf, OpJmpIfNP:
			target := fetch()
			v, _ := f.popInt()
			if v != 0 {
				frame.IP = target
			}

		case OpJmpIfNot, OpJmpIfNotNP:
			target := fetch()
			v, _ := f.popInt()
			if v == 0 {
				frame.IP = target
			}

		case OpJmpIfF:
			target := fetch()
			v, _ := f.popFloat()
			if v != 0 {
				frame.IP = target
			}

		case OpJmpIfFNot:
			target := fetch()
			v, _ := f.popFloat()
			if v == 0 {
				frame.IP = target
			}

		case OpLoadImmedUint:
			v := fetchWide()
			f.pushInt(int64(v))
			f.lastValue = MakeUint(v)

		case OpLoadImmedFlt:
			bits := fetchWide()
			fl := math.Float64frombits(bits)
			f.pushFloat(fl)
			f.lastValue = MakeFloat(fl)

		case OpLoadImmedStr:
			off := fetch()
			s := cb.stringAt(off)
			f.curStr = s
			f.lastValue = MakeString(s)

		case OpTagToStr:
			// A tagged pool entry reserves TaggedPrefixWidth bytes ahead of
			// its text for the historical tag-string table's wire format,
			// UTF-16LE (spec.md §4.13); decode it and fall back to the
			// plain entry text when the prefix is empty or unset.
			off := fetch()
			text := cb.stringAt(off + TaggedPrefixWidth)
			if int(off)+TaggedPrefixWidth <= len(cb.Strings) {
				if tag, err := kstring.DecodeUTF16LE(cb.Strings[off : off+TaggedPrefixWidth]); err == nil && tag != "" {
					text = tag + text
				}
			}
			f.curStr = text
			f.lastValue = MakeString(text)

		case OpLoadImmedIdent:
			f.curIdent = fetchIdent()

		case OpSetCurVar, OpSetCurVarCreate:
			f.curVar = vm.resolveVar(frame, f.curIdent, op == OpSetCurVarCreate)
			if f.curVar == nil {
				vm.warn(fmt.Sprintf("undefined variable %s", f.curIdent), frame)
			}

		case OpSetCurVarArray, OpSetCurVarArrayCreate:
			idx := f.fieldIndex()
			base := f.curIdent.String()
			name := vm.Intern(fmt.Sprintf("%s%d", base, idx), f.curIdent.CaseSensitive())
			f.curVar = vm.resolveVar(frame, name, op == OpSetCurVarArrayCreate)

		case OpLoadVarUint:
			v := vm.varValue(f, frame)
			n, _ := vm.Types.ValueAsInt(v, f)
			f.pushInt(n)
			f.lastValue = MakeUint(uint64(n))

		case OpLoadVarFlt:
			v := vm.varValue(f, frame)
			fl, _ := vm.Types.ValueAsFloat(v, f)
			f.pushFloat(fl)
			f.lastValue = MakeFloat(fl)

		case OpLoadVarStr:
			v := vm.varValue(f, frame)
			s, _ := vm.Types.ValueAsString(v, f)
			f.curStr = s
			f.lastValue = MakeString(s)

		case OpSaveVarUint:
			n, _ := f.popInt()
			vm.saveVar(f, MakeUint(uint64(n)))

		case OpSaveVarFlt:
			fl, _ := f.popFloat()
			vm.saveVar(f, MakeFloat(fl))

		case OpSaveVarStr:
			vm.saveVar(f, MakeString(f.curStr))

		case OpSetCurObject:
			f.curObj = vm.resolveObject(f.curStr)

		case OpSetCurObjectNew:
			if n := len(f.objStack); n > 0 {
				f.curObj = f.objStack[n-1]
			}

		case OpSetCurField:
			f.curField = f.curIdent
			f.curFieldIdx = -1

		case OpSetCurFieldArray:
			f.curField = f.curIdent
			f.curFieldIdx = f.fieldIndex()

		case OpLoadFieldUint, OpLoadFieldFlt, OpLoadFieldStr:
			v, err := vm.loadField(f)
			if err != nil {
				vm.warn(err.Error(), frame)
				v = Value{}
			}
			switch op {
			case OpLoadFieldUint:
				n, _ := vm.Types.ValueAsInt(v, f)
				f.pushInt(n)
			case OpLoadFieldFlt:
				fl, _ := vm.Types.ValueAsFloat(v, f)
				f.pushFloat(fl)
			default:
				s, _ := vm.Types.ValueAsString(v, f)
				f.curStr = s
			}
			f.lastValue = v

		case OpSaveFieldUint:
			n, _ := f.popInt()
			vm.saveField(f, frame, MakeUint(uint64(n)))

		case OpSaveFieldFlt:
			fl, _ := f.popFloat()
			vm.saveField(f, frame, MakeFloat(fl))

		case OpSaveFieldStr:
			vm.saveField(f, frame, MakeString(f.curStr))

		case OpStrToUint:
			f.pushInt(int64(StringToNumber(f.curStr)))

		case OpStrToFlt:
			f.pushFloat(StringToNumber(f.curStr))

		case OpStrToNone:
			f.curStr = ""

		case OpFltToUint:
			v, _ := f.popFloat()
			f.pushInt(int64(v))

		case OpFltToStr:
			v, _ := f.popFloat()
			f.curStr = formatFloat(v)

		case OpFltToNone:
			f.popFloat()

		case OpUintToFlt:
			v, _ := f.popInt()
			f.pushFloat(float64(v))

		case OpUintToStr:
			v, _ := f.popInt()
			f.curStr = fmt.Sprintf("%d", v)

		case OpUintToNone:
			f.popInt()

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpBitAnd, OpBitOr, OpXor, OpShl, OpShr, OpAnd, OpOr,
			OpCmpEQ, OpCmpGR, OpCmpGE, OpCmpLT, OpCmpLE, OpCmpNE:
			if err := vm.binaryOp(f, op); err != nil {
				return Value{}, fault(err)
			}

		case OpNeg, OpNot, OpNotF, OpOnesComplement:
			vm.unaryOp(f, op)

		case OpPushFrame:
			f.pushFrame()

		case OpAdvanceStr:
			f.advanceStr(f.curStr)

		case OpAdvanceStrAppendChar:
			ch := fetch()
			f.strBuf = append(f.strBuf, byte(ch))

		case OpAdvanceStrComma:
			f.strBuf = append(f.strBuf, ',')

		case OpAdvanceStrNul:
			f.strBuf = append(f.strBuf, 0)

		case OpRewindStr:
			marker, _ := f.popFrameMarker()
			f.strBuf = f.strBuf[:marker]

		case OpTerminateRewindStr:
			marker, _ := f.popFrameMarker()
			f.curStr = string(f.strBuf[marker:])
			f.strBuf = f.strBuf[:marker]
			f.lastValue = MakeString(f.curStr)

		case OpCompareStr:
			marker := f.topFrameMarker()
			parts := bytes.SplitN(f.strBuf[marker:], []byte{0}, 2)
			eq := len(parts) == 2 && bytes.Equal(parts[0], parts[1])
			f.pushInt(boolToInt(eq))

		case OpPush:
			// Reserved no-op marker; no opcode in this emitter's output
			// currently produces it.

		case OpIterBegin:
			wordSplit := fetch() == 1
			if err := vm.iterBegin(f, wordSplit); err != nil {
				return Value{}, fault(err)
			}

		case OpIter:
			target := fetch()
			if !vm.iterNext(f, frame) {
				frame.IP = target
			}

		case OpIterEnd:
			vm.iterEnd(f)

		case OpTryBegin:
			mask := fetch()
			catchIP := fetch()
			f.tryStack = append(f.tryStack, tryRecord{
				Mask: mask, CatchIP: catchIP,
				FrameDepth: len(f.frames), IntDepth: len(f.IntStack), FltDepth: len(f.FltStack),
				StrMarker: len(f.strBuf),
			})

		case OpTryEnd:
			if n := len(f.tryStack); n > 0 {
				f.tryStack = f.tryStack[:n-1]
			}

		case OpThrow:
			f.thrownValue = MakeString(f.curStr)
			rec, ok := vm.popCatch(f)
			if !ok {
				line := cb.lineForIP(frame.IP)
				rf := newFault(ErrUserThrow, faultScope(frame), cb.File, line)
				vm.log.Error(rf.Error())
				return Value{}, &UserThrow{RuntimeFault: *rf, Value: f.thrownValue}
			}
			frame.IP = rec.CatchIP

		case OpFuncDecl:
			vm.execFuncDecl(f, frame, cb, fetch, fetchWide, fetchIdent)

		case OpCreateObject:
			isDatablock := fetch() == 1
			vm.createObject(f, isDatablock)

		case OpAddObject:
			if n := len(f.objStack); n > 0 {
				if err := f.objStack[n-1].AddObject(); err != nil {
					vm.warn(err.Error(), frame)
				}
			}

		case OpEndObject:
			if n := len(f.objStack); n > 0 {
				f.objStack = f.objStack[:n-1]
				if m := len(f.objStack); m > 0 {
					f.curObj = f.objStack[m-1]
				} else {
					f.curObj = nil
				}
			}

		case OpCallFuncResolve, OpCallFunc:
			argc := fetch()
			name := f.curIdent
			if frame.noCalls {
				return Value{}, fault(ErrBadOpcode)
			}
			parent := argc&parentCallBit != 0
			argc &^= parentCallBit
			_ = argc
			argv := f.popArgv()

			var entry *Entry
			var this *Object
			switch {
			case op == OpCallFuncResolve:
				ns := frame.Namespace
				if ns == nil {
					ns = vm.Namespaces.Global()
				}
				entry = ns.Lookup(vm.Namespaces, name)

			case parent:
				// Parent::fn() resumes the walk one level above the
				// enclosing method's own namespace, against the same
				// receiver the enclosing frame was called with (spec.md
				// §4.8).
				this = frame.This
				ns := frame.Namespace
				if ns != nil {
					ns = ns.Parent
				}
				if ns == nil {
					ns = vm.Namespaces.Global()
				}
				entry = ns.Lookup(vm.Namespaces, name)

			default:
				this = f.curObj
				var ns *Namespace
				if this != nil {
					if this.Namespace != nil {
						ns = this.Namespace
					} else if cls, ok := this.classDescriptor(); ok {
						ns = cls.Namespace
					}
				}
				if ns == nil {
					ns = vm.Namespaces.Global()
				}
				entry = ns.Lookup(vm.Namespaces, name)
			}

			if entry == nil {
				vm.warn(fmt.Sprintf("%s: method not found", name), frame)
				f.curStr = ""
				f.lastValue = Value{}
				break
			}
			ret, err := vm.invokeEntry(f, entry, this, argv)
			if err != nil {
				return Value{}, err
			}
			s, _ := vm.Types.ValueAsString(ret, f)
			f.curStr = s
			f.lastValue = ret

		case OpAssert:
			off := fetch()
			v, _ := f.popInt()
			if v == 0 {
				return Value{}, fault(fmt.Errorf("%w: %s", ErrTypeMismatch, cb.stringAt(off)))
			}

		case OpYield:
			f.State = FiberSuspended
			f.outCh <- Outcome{Kind: OutcomeYielded, Value: f.lastValue}
			injected := <-f.resumeCh
			if f.cancelled {
				return Value{}, fault(ErrCancelled)
			}
			f.State = FiberRunning
			f.lastValue = injected
			s, _ := vm.Types.ValueAsString(injected, f)
			f.curStr = s

		case OpBreakDebug:
			// Debugger hook point; no host debugger is wired in this build.

		default:
			return Value{}, fault(ErrBadOpcode)
		}
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// returnValue reports the activation's result and trims the int/float
// stacks back to the depths recorded at entry, dropping whatever the
// body left on them; no ErrStackImbalance is raised. Try entries and
// string-buffer bytes above the frame's markers are dropped as well.
func (frame *Frame) returnValue(f *Fiber) Value {
	if len(f.IntStack) != frame.intDepth {
		f.IntStack = f.IntStack[:frame.intDepth]
	}
	if len(f.FltStack) != frame.fltDepth {
		f.FltStack = f.FltStack[:frame.fltDepth]
	}
	if len(f.strMarkers) > 0 {
		for len(f.strMarkers) > 0 && f.strMarkers[len(f.strMarkers)-1] >= frame.stringMarker {
			f.strMarkers = f.strMarkers[:len(f.strMarkers)-1]
		}
	}
	if len(f.tryStack) > frame.tryMarker {
		f.tryStack = f.tryStack[:frame.tryMarker]
	}
	if len(f.strBuf) > frame.stringMarker {
		f.strBuf = f.strBuf[:frame.stringMarker]
	}
	return f.lastValue
}

func (vm *VM) varValue(f *Fiber, frame *Frame) Value {
	if f.curVar == nil {
		return Value{}
	}
	return f.curVar.Value
}

func (vm *VM) saveVar(f *Fiber, v Value) {
	if f.curVar == nil {
		return
	}
	if f.curVar.Const {
		vm.warn(fmt.Sprintf("assignment to const %s ignored", f.curVar.Name), nil)
		return
	}
	f.curVar.Value = v
	f.lastValue = v
}

func (vm *VM) resolveObject(ref string) *Object {
	if vm.Config.ObjectFinder == nil {
		return nil
	}
	if obj, ok := vm.Config.ObjectFinder.FindObjectByName(ref); ok {
		return obj
	}
	if obj, ok := vm.Config.ObjectFinder.FindObjectByInternalName(ref); ok {
		return obj
	}
	if obj, ok := vm.Config.ObjectFinder.FindObjectByPath(ref); ok {
		return obj
	}
	return nil
}

func (vm *VM) loadField(f *Fiber) (Value, error) {
	obj := f.curObj
	if n := len(f.objStack); obj == nil && n > 0 {
		obj = f.objStack[n-1]
	}
	if obj == nil || f.curField == nil {
		return Value{}, fmt.Errorf("%w: no current object", ErrFieldNotFound)
	}
	return obj.GetField(f.curField, f.curFieldIdx)
}

func (vm *VM) saveField(f *Fiber, frame *Frame, v Value) {
	obj := f.curObj
	if n := len(f.objStack); obj == nil && n > 0 {
		obj = f.objStack[n-1]
	}
	if obj == nil || f.curField == nil {
		vm.warn("field assignment with no current object", frame)
		return
	}
	if err := obj.SetField(f.curField, v, f.curFieldIdx); err != nil {
		vm.warn(err.Error(), frame)
		return
	}
	f.lastValue = v
}

// binaryOp pops two operands off whichever typed stack holds them (float
// if present, otherwise int — emitBinary always emits matching
// representations on both sides) and pushes PerformOp's result.
func (vm *VM) binaryOp(f *Fiber, op Opcode) error {
	isCompare := op >= OpCmpEQ && op <= OpCmpNE
	var lhs, rhs Value
	if len(f.FltStack) >= 2 {
		b, _ := f.popFloat()
		a, _ := f.popFloat()
		lhs, rhs = MakeFloat(a), MakeFloat(b)
	} else {
		b, _ := f.popInt()
		a, _ := f.popInt()
		lhs, rhs = MakeUint(uint64(a)), MakeUint(uint64(b))
	}
	result, err := vm.Types.PerformOp(op, lhs, rhs, f)
	if err != nil {
		return err
	}
	f.lastValue = result
	if isCompare || result.IsUint() {
		n, _ := vm.Types.ValueAsInt(result, f)
		f.pushInt(n)
	} else {
		fl, _ := vm.Types.ValueAsFloat(result, f)
		f.pushFloat(fl)
	}
	return nil
}

func (vm *VM) unaryOp(f *Fiber, op Opcode) {
	switch op {
	case OpNotF:
		v, _ := f.popFloat()
		f.pushInt(boolToInt(v == 0))
	case OpNeg:
		if len(f.FltStack) > 0 {
			v, _ := f.popFloat()
			f.pushFloat(-v)
		} else {
			v, _ := f.popInt()
			f.pushInt(-v)
		}
	case OpNot:
		v, _ := f.popInt()
		f.pushInt(boolToInt(v == 0))
	case OpOnesComplement:
		v, _ := f.popInt()
		f.pushInt(^v)
	}
}

func (vm *VM) popCatch(f *Fiber) (tryRecord, bool) {
	n := len(f.tryStack)
	if n == 0 {
		return tryRecord{}, false
	}
	rec := f.tryStack[n-1]
	f.tryStack = f.tryStack[:n-1]
	f.IntStack = f.IntStack[:rec.IntDepth]
	f.FltStack = f.FltStack[:rec.FltDepth]
	f.strBuf = f.strBuf[:rec.StrMarker]
	return rec, true
}

// execFuncDecl reads a OP_FUNC_DECL's inline operand block and registers
// the function without executing its body, then advances IP past it
// (spec.md §4.4 "declarations register and skip").
//
// The operand block carries two identifiers besides the function's own
// name: nsIdent, the explicit class namespace from a `Class::method`
// declaration, and pkgIdent, the enclosing `package P { ... }` block's
// name stamped by emitPackageBlock (spec.md §4.8, §8 scenario 6). A
// function compiled inside a package block registers into
// Find(nsIdent, pkgIdent) — the same namespace *name* it would have at
// global scope, just package-tagged — so ActivatePackage's "every
// namespace tagged with this package name" scan (namespace.go) actually
// finds it; registering it into a namespace literally named P would make
// it indistinguishable from `function P::foo(){}` and unreachable by
// activatePackage.
func (vm *VM) execFuncDecl(f *Fiber, frame *Frame, cb *Codeblock, fetch func() uint32, fetchWide func() uint64, fetchIdent func() *Interned) {
	_ = fetchWide
	name := fetchIdent()
	nsIdent := identOrNil(fetchIdent())
	pkgIdent := identOrNil(fetchIdent())
	numParams := fetch()
	params := make([]*Interned, numParams)
	for i := range params {
		params[i] = fetchIdent()
	}
	bodyLen := fetch()
	bodyStart := frame.IP

	var ns *Namespace
	switch {
	case pkgIdent != nil:
		ns = vm.Namespaces.Find(nsIdent, pkgIdent)
	case nsIdent != nil:
		ns = vm.Namespaces.Find(nsIdent, nil)
	case frame.Namespace != nil:
		ns = frame.Namespace
	default:
		ns = vm.Namespaces.Global()
	}
	ns.AddScriptFunction(name, cb, bodyStart, params, "")

	frame.IP = bodyStart + bodyLen
}

// identOrNil treats the interned empty string the same as "no identifier
// was emitted" — emitFuncDecl always records a fixup even for "", so the
// loaded pointer is never nil by itself.
func identOrNil(id *Interned) *Interned {
	if id != nil && id.String() == "" {
		return nil
	}
	return id
}

func (vm *VM) createObject(f *Fiber, isDatablock bool) {
	className := f.curIdent
	declaredName := f.curStr
	classID, ok := vm.Classes.LookupByName(className)
	if !ok {
		vm.warn(fmt.Sprintf("unknown class %s", className), nil)
		f.objStack = append(f.objStack, nil)
		return
	}
	obj, err := CreateObject(vm.Classes, vm.Types, classID, declaredName, isDatablock, nil)
	if err != nil {
		vm.warn(err.Error(), nil)
		f.objStack = append(f.objStack, nil)
		return
	}
	f.objStack = append(f.objStack, obj)
	f.curObj = obj
}

func (vm *VM) iterBegin(f *Fiber, wordSplit bool) error {
	if len(f.iterStack) >= maxIterStack {
		return ErrStackOverflow
	}
	name := f.curIdent
	varEntry := &DictEntry{Name: name}
	it := iterFrame{VarEntry: varEntry, WordSplit: wordSplit}
	if wordSplit {
		it.Words = splitWords(f.curStr)
	} else {
		it.Elements = parseValueList(f.curStr)
	}
	f.iterStack = append(f.iterStack, it)
	return nil
}

// iterNext advances the top iterator and binds its loop variable into the
// current frame's locals; it reports whether another element was
// available.
func (vm *VM) iterNext(f *Fiber, frame *Frame) bool {
	n := len(f.iterStack)
	if n == 0 {
		return false
	}
	it := &f.iterStack[n-1]
	var ok bool
	var v Value
	if it.WordSplit {
		if it.Index < len(it.Words) {
			v = MakeString(it.Words[it.Index])
			ok = true
		}
	} else if it.Index < len(it.Elements) {
		v = it.Elements[it.Index]
		ok = true
	}
	if !ok {
		return false
	}
	it.Index++
	entry := frame.Locals.GetOrCreate(it.VarEntry.Name)
	entry.Value = v
	return true
}

func (vm *VM) iterEnd(f *Fiber) {
	if n := len(f.iterStack); n > 0 {
		f.iterStack = f.iterStack[:n-1]
	}
}

func splitWords(s string) []string {
	return strings.Fields(s)
}

// parseValueList splits a plain (non word-split) foreach source on
// whitespace into string element Values. Every plain foreach source takes
// this path; objects and nested lists are not iterated as containers.
func parseValueList(s string) []Value {
	words := strings.Fields(s)
	out := make([]Value, len(words))
	for i, w := range words {
		out[i] = MakeString(w)
	}
	return out
}
