// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import "github.com/kork-lang/kork/internal/log"

// Config configures a VM (spec.md §3.13), mirroring the teacher's
// pe.Options shape: a zero-value Config{} yields tracing off, a no-op
// logger and the default bounds (defaultMaxFrames,
// defaultMaxActivePackages).
type Config struct {
	// Logger receives trace-mode lines and every RuntimeFault/CompileError
	// (spec.md §4.6 "Trace mode", §7 "User-visible logging"). Nil uses
	// log.NopLogger, matching the teacher's implicit nil-Options.Logger.
	Logger log.Logger

	// Trace enables one Debug log line per executed opcode, "[ip] OPNAME"
	// (spec.md §4.6); no Entering/Leaving lines are written for calls or
	// returns.
	Trace bool

	// MaxActivePackages bounds the package-activation stack (spec.md
	// §4.8); 0 uses defaultMaxActivePackages.
	MaxActivePackages int

	// MaxFrames bounds the call-frame stack; a deeper call chain faults
	// ErrStackOverflow.
	MaxFrames int

	// ObjectFinder resolves obj.field SETCUROBJECT lookups by trying name,
	// then internal name, then path (spec.md §4.9); FindObjectByID is not
	// called. Nil disables object resolution by name (SETCUROBJECT always
	// fails to find).
	ObjectFinder ObjectFinder

	// Allocator is read only by Config.alloc (nil there means
	// make([]byte, n)), and nothing in the VM calls Config.alloc: VM-heap
	// blocks are allocated by Go's runtime whether or not it is set.
	Allocator func(n int) []byte
}

const defaultMaxFrames = 1024

func (c Config) logger() log.Logger {
	if c.Logger == nil {
		return log.NopLogger
	}
	return c.Logger
}

func (c Config) maxFrames() int {
	if c.MaxFrames <= 0 {
		return defaultMaxFrames
	}
	return c.MaxFrames
}

func (c Config) alloc(n int) []byte {
	if c.Allocator != nil {
		return c.Allocator(n)
	}
	return make([]byte, n)
}
