// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"errors"
	"fmt"
)

// Sentinel runtime faults. Every fault a fiber can raise satisfies
// errors.Is against one of these; host code branches on them instead of
// string-matching log output.
var (
	// ErrStackOverflow is returned when an operand or call-frame stack
	// exceeds its configured bound.
	ErrStackOverflow = errors.New("kork: stack overflow")

	// ErrStackImbalance is returned when an operand-stack pop finds the
	// stack empty. A returning frame does not raise it: its int/float
	// stacks are trimmed back to the depths recorded at entry.
	ErrStackImbalance = errors.New("kork: stack imbalance at return")

	// ErrMethodNotFound is returned when namespace dispatch walks the
	// full parent chain without finding a matching entry.
	ErrMethodNotFound = errors.New("kork: method not found")

	// ErrTypeMismatch is returned when a cast or operator callback rejects
	// its operands.
	ErrTypeMismatch = errors.New("kork: type mismatch")

	// ErrBadOpcode is returned when the interpreter encounters a code word
	// outside the known opcode range.
	ErrBadOpcode = errors.New("kork: bad opcode")

	// ErrBadCodeblock is returned when a codeblock fails to load: bad
	// magic, truncated block, or a size that overruns the buffer.
	ErrBadCodeblock = errors.New("kork: bad codeblock")

	// ErrCancelled is returned when a fiber observes a host-set cancel
	// flag at a safepoint.
	ErrCancelled = errors.New("kork: cancelled")

	// ErrTooManyPackages is returned by ActivatePackage once the active
	// package stack is at its configured bound.
	ErrTooManyPackages = errors.New("kork: too many active packages")

	// ErrNamespaceCycle is returned by LinkNamespace when linking would
	// create a cycle in the parent chain.
	ErrNamespaceCycle = errors.New("kork: namespace parent cycle")

	// ErrDanglingFiber is returned when a fiber handle's generation does
	// not match the fiber slot's current generation.
	ErrDanglingFiber = errors.New("kork: dangling fiber handle")

	// ErrUnknownClass is returned when CreateObject is given a class id
	// the registry has no descriptor for.
	ErrUnknownClass = errors.New("kork: unknown class id")

	// ErrFieldNotFound is returned when an object field get/set names a
	// field absent from both the static field table and the dynamic
	// GetFieldByName/SetFieldByName callbacks.
	ErrFieldNotFound = errors.New("kork: field not found")

	// ErrUserThrow is the sentinel an unhandled OP_THROW wraps into a
	// *UserThrow fault (spec.md §7 "a script-level throw that no catch
	// matched").
	ErrUserThrow = errors.New("kork: unhandled throw")
)

// CompileError records a single compile-time diagnostic. Host code that
// needs structured access to file/line (an editor gutter, a build log
// formatter) type-asserts for it rather than scanning the error string.
type CompileError struct {
	File    string
	Line    int
	Message string
}

func (e *CompileError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

// RuntimeFault wraps one of the sentinel errors above with the scope chain
// active when the fault was raised, matching spec.md's "emits a log line
// via the host logger ... with the scope chain (ns::fn @ file:line)".
type RuntimeFault struct {
	Kind  error
	Scope string
	File  string
	Line  int
}

func (f *RuntimeFault) Error() string {
	if f.Scope == "" {
		return f.Kind.Error()
	}
	return fmt.Sprintf("%s (%s @ %s:%d)", f.Kind.Error(), f.Scope, f.File, f.Line)
}

func (f *RuntimeFault) Unwrap() error { return f.Kind }

// UserThrow surfaces an unhandled script-level throw, RuntimeFault::UserThrow
// in spec.md's taxonomy. Value is the thrown value; Mask is always zero,
// since OP_THROW carries no mask operand.
type UserThrow struct {
	RuntimeFault
	Mask  uint32
	Value Value
}

func newFault(kind error, scope, file string, line int) *RuntimeFault {
	return &RuntimeFault{Kind: kind, Scope: scope, File: file, Line: line}
}

// Diagnostic is a non-fatal WARN-level event: an undefined variable read, a
// numeric coercion from a non-numeric string. Collected on the VM the way
// the teacher's File.Anomalies collects non-fatal format anomalies.
type Diagnostic struct {
	Message string
	Scope   string
	File    string
	Line    int
}

func (d Diagnostic) String() string {
	if d.Scope == "" {
		return d.Message
	}
	return fmt.Sprintf("%s (%s @ %s:%d)", d.Message, d.Scope, d.File, d.Line)
}
