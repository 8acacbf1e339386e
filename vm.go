// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"fmt"

	"github.com/kork-lang/kork/ast"
	"github.com/kork-lang/kork/internal/log"
)

// VM is the embeddable engine context (spec.md §6.1 createVM). Every
// process-wide singleton the teacher's `pe` package avoids by threading
// *File through call chains, this engine avoids the same way: everything
// a fiber or the compiler touches hangs off one *VM (spec.md §9 "Global
// mutable state ... belong on the VM context struct").
type VM struct {
	Config Config

	Interns    *InternTable
	Types      *TypeRegistry
	Classes    *ClassRegistry
	Namespaces *NamespaceState
	Global     *Dictionary
	Fibers     *FiberTable

	Diagnostics []Diagnostic

	log *log.Helper
}

// NewVM returns a VM ready to compile and execute code.
func NewVM(cfg Config) *VM {
	vm := &VM{
		Config:     cfg,
		Interns:    NewInternTable(),
		Types:      NewTypeRegistry(),
		Classes:    NewClassRegistry(),
		Namespaces: NewNamespaceState(cfg.MaxActivePackages),
		Global:     NewDictionary(),
		Fibers:     NewFiberTable(),
	}
	vm.log = log.NewHelper("vm", cfg.logger())
	return vm
}

func (vm *VM) warn(msg string, scope *Frame) {
	d := Diagnostic{Message: msg}
	if scope != nil {
		d.Scope = scope.ScopeName
	}
	vm.Diagnostics = append(vm.Diagnostics, d)
	vm.log.Warn(d.String())
}

// Intern canonicalizes s (spec.md §6.1 intern).
func (vm *VM) Intern(s string, caseSensitive bool) *Interned {
	return vm.Interns.Intern(s, caseSensitive)
}

// RegisterType installs a custom type descriptor (spec.md §6.1
// registerType).
func (vm *VM) RegisterType(d TypeDescriptor) TypeTag { return vm.Types.Register(d) }

// RegisterClass installs a class descriptor (spec.md §6.1 registerClass).
func (vm *VM) RegisterClass(d *ClassDescriptor) ClassID { return vm.Classes.RegisterClass(d) }

// FindNamespace returns (creating if needed) the namespace for (name, pkg)
// (spec.md §6.1 findNamespace).
func (vm *VM) FindNamespace(name, pkg *Interned) *Namespace { return vm.Namespaces.Find(name, pkg) }

// LinkNamespace sets parent/child directly (spec.md §6.1 linkNamespace).
func (vm *VM) LinkNamespace(parent, child *Namespace) error {
	return vm.Namespaces.LinkNamespace(parent, child)
}

// ActivatePackage/DeactivatePackage wire straight through to NamespaceState
// (spec.md §6.1).
func (vm *VM) ActivatePackage(name *Interned) error   { return vm.Namespaces.ActivatePackage(name) }
func (vm *VM) DeactivatePackage(name *Interned)       { vm.Namespaces.DeactivatePackage(name) }

// AddNamespaceFunction installs a native callback under ns (spec.md §6.1).
func (vm *VM) AddNamespaceFunction(ns *Namespace, name *Interned, fn NativeFunc, usage string, minArgs, maxArgs int) {
	ns.AddNative(name, fn, usage, minArgs, maxArgs)
}

// SetGlobal/GetGlobal/RegisterGlobal manipulate the VM's global dictionary
// (spec.md §6.1).
func (vm *VM) SetGlobal(name *Interned, v Value) error { return vm.Global.Set(name, v) }

func (vm *VM) GetGlobal(name *Interned) Value {
	if e := vm.Global.Lookup(name); e != nil {
		return e.Value
	}
	return Value{}
}

func (vm *VM) RegisterGlobal(name *Interned, typeID TypeTag, hostPtr interface{}) {
	vm.Global.RegisterHost(name, typeID, hostPtr)
}

// CreateObject allocates a host instance of class (spec.md §6.1
// createObject).
func (vm *VM) CreateObject(class ClassID, name string, argv []Value) (*Object, error) {
	return CreateObject(vm.Classes, vm.Types, class, name, false, argv)
}

// SetObjectField/GetObjectField route through Object's field bridge
// (spec.md §6.1).
func (vm *VM) SetObjectField(obj *Object, name *Interned, v Value, arrayIndex int) error {
	return obj.SetField(name, v, arrayIndex)
}

func (vm *VM) GetObjectField(obj *Object, name *Interned, arrayIndex int) (Value, error) {
	return obj.GetField(name, arrayIndex)
}

// SpawnFiber allocates a fresh, READY fiber (spec.md §6.1 spawnFiber). Call
// PrepareFiber before the first Run to give it an entry point.
func (vm *VM) SpawnFiber() *Fiber { return vm.Fibers.Spawn() }

// PrepareFiber installs cb/ip/argv as f's entry point, the way ExecCodeBlock
// does internally for its own throwaway fiber; a host driving f explicitly
// through Run/Resume to observe OP_YIELD calls this once before the first
// Run.
func (vm *VM) PrepareFiber(f *Fiber, cb *Codeblock, ip uint32, argv []Value) {
	f.body = func() (Value, error) {
		frame := vm.pushFrame(f, cb, ip, nil, nil)
		defer vm.popFrame(f)
		vm.bindPositional(frame, argv)
		return vm.execFrame(f, frame)
	}
}

// Cancel sets the cooperative cancellation flag a running/suspended fiber
// observes at its next safepoint (spec.md §4.7 "Cancellation & timeouts").
func (vm *VM) Cancel(f *Fiber) { f.cancelled = true }

// Outcome is the tagged result of Run/Resume/ExecCodeblock (spec.md §7).
type Outcome struct {
	Kind     OutcomeKind
	Value    Value
	Fault    error
	UserMask uint32
}

// OutcomeKind discriminates Outcome.
type OutcomeKind int

const (
	OutcomeReturned OutcomeKind = iota
	OutcomeYielded
	OutcomeFaulted
)

// CompileCodeBlock compiles source (already parsed into arena/root by an
// external parser, spec.md §1 "lexer and parser ... out of scope") into a
// loadable Codeblock (spec.md §6.1 compileCodeBlock).
func (vm *VM) CompileCodeBlock(arena *ast.Arena, root []ast.NodeRef, filename string) (*Codeblock, error) {
	em := NewEmitter(arena, vm.Interns)
	if err := em.EmitStatementList(root); err != nil {
		return nil, &CompileError{File: filename, Message: err.Error()}
	}
	em.emitOp(OpReturn)
	cc := em.Finalize()
	return NewCodeblock(cc, filename), nil
}

// ExecCodeBlock runs cb starting at ip on a fresh fiber (spec.md §6.1
// execCodeBlock, §4.7 exec_codeblock). noCalls suppresses OP_FUNC_DECL's
// inline body execution side effects are unaffected; the flag (named for
// spec parity) only gates whether OP_CALLFUNC* may invoke other scopes,
// matching the source's "no calls" evaluation mode. setFrame has no
// effect: the interpreter always pushes a real Frame.
func (vm *VM) ExecCodeBlock(cb *Codeblock, ip uint32, argv []Value, noCalls, setFrame bool) (Value, error) {
	f := vm.Fibers.Spawn()
	outcome := vm.run(f, cb, ip, argv, noCalls)
	vm.Fibers.Release(f.ID)
	if outcome.Kind == OutcomeFaulted {
		return Value{}, outcome.Fault
	}
	return outcome.Value, nil
}

// EvalCode compiles and immediately executes source from the given AST
// root (spec.md §6.1 evalCode).
func (vm *VM) EvalCode(arena *ast.Arena, root []ast.NodeRef, filename string) (Value, error) {
	cb, err := vm.CompileCodeBlock(arena, root, filename)
	if err != nil {
		return Value{}, err
	}
	return vm.ExecCodeBlock(cb, 0, nil, false, true)
}

// CallFunction invokes a free function looked up in ns by name (spec.md
// §4.7 call_function, §6.1 callNamespaceFunction). It runs the call on a
// fresh fiber to completion; a body that reaches OP_YIELD faults with
// ErrCancelled since this synchronous entry point has no way to surface a
// suspended fiber back to the caller — hosts that need yield semantics use
// SpawnFiber/Run/Resume directly instead.
func (vm *VM) CallFunction(ns *Namespace, name *Interned, argv []Value) (Value, error) {
	entry := ns.Lookup(vm.Namespaces, name)
	if entry == nil {
		return Value{}, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	return vm.callEntrySync(entry, nil, argv)
}

// CallNamespaceFunction is the §6.1-named alias for CallFunction.
func (vm *VM) CallNamespaceFunction(ns *Namespace, name *Interned, argv []Value) (Value, error) {
	return vm.CallFunction(ns, name, argv)
}

// CallMethod invokes name on obj's namespace, walking its parent chain
// (spec.md §4.7 call_method, §4.8 dispatch algorithm, §6.1
// callObjectFunction).
func (vm *VM) CallMethod(obj *Object, name *Interned, argv []Value) (Value, error) {
	ns := obj.Namespace
	if ns == nil {
		cls, ok := obj.classDescriptor()
		if !ok {
			return Value{}, fmt.Errorf("%w: %d", ErrUnknownClass, obj.Class)
		}
		ns = cls.Namespace
	}
	if ns == nil {
		return Value{}, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	entry := ns.Lookup(vm.Namespaces, name)
	if entry == nil {
		return Value{}, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	return vm.callEntrySync(entry, obj, argv)
}

// callEntrySync drives entry to completion on a fresh, short-lived fiber.
func (vm *VM) callEntrySync(entry *Entry, this *Object, argv []Value) (Value, error) {
	f := vm.Fibers.Spawn()
	defer vm.Fibers.Release(f.ID)
	f.body = func() (Value, error) { return vm.invokeEntry(f, entry, this, argv) }
	outcome := vm.resumeDispatch(f, Value{})
	switch outcome.Kind {
	case OutcomeFaulted:
		return Value{}, outcome.Fault
	case OutcomeYielded:
		return Value{}, ErrCancelled
	default:
		return outcome.Value, nil
	}
}

// CallObjectFunction is the §6.1-named alias for CallMethod.
func (vm *VM) CallObjectFunction(obj *Object, name *Interned, argv []Value) (Value, error) {
	return vm.CallMethod(obj, name, argv)
}

// Run drives f from FiberReady/FiberSuspended until it finishes, yields,
// or faults (spec.md §4.7 run).
func (vm *VM) Run(f *Fiber) Outcome {
	return vm.resumeDispatch(f, Value{})
}

// Resume injects v at the point f suspended and continues execution
// (spec.md §4.7 resume).
func (vm *VM) Resume(f *Fiber, v Value) Outcome {
	return vm.resumeDispatch(f, v)
}
