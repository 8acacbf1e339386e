// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

// Frame is one call on a fiber's call stack (spec.md §3.8). It owns the
// local dictionary for its activation and records the markers needed to
// trim the fiber's stacks back on return.
type Frame struct {
	Codeblock *Codeblock
	IP        uint32
	ScopeName string
	Namespace *Namespace
	Package   *Interned
	Locals    *Dictionary

	// This is the receiver a method call bound this activation to; nil for
	// a free-function call. Parent:: dispatch (spec.md §4.8) reuses it to
	// resume the walk one namespace above without needing OP_SETCUROBJECT
	// to run again.
	This *Object

	// stringMarker/tryMarker record the string-accumulator length and
	// try-stack depth at entry, for cleanup on return/unwind.
	stringMarker int
	tryMarker    int

	// intDepth/fltDepth record the int/float operand stack depths at
	// entry; returnValue trims both stacks back to them at return.
	intDepth int
	fltDepth int

	// noCalls mirrors the "no calls" evaluation mode exposed at the
	// execCodeBlock API boundary (spec.md §6.1): any OP_CALLFUNC/
	// OP_CALLFUNC_RESOLVE reached while set faults instead of dispatching.
	noCalls bool
}

// BasicFrame is a cheap read-only snapshot for debugging/tracing (spec.md
// §3.8 "a cheap read-only snapshot for debugging").
type BasicFrame struct {
	ScopeName string
	Namespace string
	File      string
	Line      int
}
