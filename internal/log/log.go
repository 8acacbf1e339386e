// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log mirrors the pluggable logger shape the teacher repo expects
// at its import sites (github.com/saferwall/pe/log): a small leveled
// Logger interface plus a Helper that tags every line with a component
// name, so hosts can plug zap/logrus/zerolog/etc. without the core
// depending on any of them.
package log

import (
	"fmt"
	"os"
)

// Logger is the interface every log sink must satisfy. Variadic kv pairs
// follow the common key/value logging convention (key1, val1, key2, val2).
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

// nopLogger discards everything; it is the default when a Config carries
// no Logger, matching the teacher's implicit nil-Options.Logger behavior.
type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// NopLogger is a shared no-op Logger instance.
var NopLogger Logger = nopLogger{}

// StdLogger writes to os.Stderr via the standard library, for CLI tools
// and tests that want readable output without pulling in a third-party
// logging stack.
type StdLogger struct{}

func (StdLogger) Debug(msg string, kv ...interface{}) { stdLog("DEBUG", msg, kv...) }
func (StdLogger) Info(msg string, kv ...interface{})  { stdLog("INFO", msg, kv...) }
func (StdLogger) Warn(msg string, kv ...interface{})  { stdLog("WARN", msg, kv...) }
func (StdLogger) Error(msg string, kv ...interface{}) { stdLog("ERROR", msg, kv...) }

func stdLog(level, msg string, kv ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] %s", level, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(os.Stderr, " %v=%v", kv[i], kv[i+1])
	}
	fmt.Fprintln(os.Stderr)
}

// Helper wraps a Logger with a fixed component name, the way the teacher's
// log.Helper tags every call site ("pe", "dump", ...) without each call
// having to repeat it.
type Helper struct {
	component string
	l         Logger
}

// NewHelper returns a Helper bound to l. A nil Logger is replaced with
// NopLogger.
func NewHelper(component string, l Logger) *Helper {
	if l == nil {
		l = NopLogger
	}
	return &Helper{component: component, l: l}
}

func (h *Helper) Debug(msg string, kv ...interface{}) { h.l.Debug(h.tag(msg), kv...) }
func (h *Helper) Info(msg string, kv ...interface{})  { h.l.Info(h.tag(msg), kv...) }
func (h *Helper) Warn(msg string, kv ...interface{})  { h.l.Warn(h.tag(msg), kv...) }
func (h *Helper) Error(msg string, kv ...interface{}) { h.l.Error(h.tag(msg), kv...) }

func (h *Helper) tag(msg string) string {
	if h.component == "" {
		return msg
	}
	return h.component + ": " + msg
}
