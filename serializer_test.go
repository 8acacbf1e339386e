// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"bytes"
	"testing"
)

func TestSerializerSaveLoadRoundTrip(t *testing.T) {
	vm := NewVM(Config{})

	ns := vm.FindNamespace(vm.Intern("Player", false), nil)
	f := vm.SpawnFiber()
	f.State = FiberSuspended
	f.IntStack = []int64{1, 2, 3}
	f.FltStack = []float64{4.5}

	frame := vm.pushFrame(f, nil, 7, ns, nil)
	nameVar := vm.Intern("score", false)
	if err := frame.Locals.Set(nameVar, MakeUint(42)); err != nil {
		t.Fatalf("Locals.Set: %v", err)
	}
	greeting := vm.Intern("greeting", false)
	if err := frame.Locals.Set(greeting, MakeString("hello")); err != nil {
		t.Fatalf("Locals.Set: %v", err)
	}

	ser := NewSerializer(vm)
	var buf bytes.Buffer
	if err := ser.Save(&buf, []*Fiber{f}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	vm2 := NewVM(Config{})
	vm2.FindNamespace(vm2.Intern("Player", false), nil)
	interns2 := NewInternTable()
	snap, err := Load(bytes.NewReader(buf.Bytes()), vm2, interns2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(snap.RootFibers) != 1 {
		t.Fatalf("RootFibers = %d, want 1", len(snap.RootFibers))
	}
	got := snap.RootFibers[0]
	if got.State != FiberSuspended {
		t.Fatalf("State = %v, want SUSPENDED", got.State)
	}
	if len(got.IntStack) != 3 || got.IntStack[2] != 3 {
		t.Fatalf("IntStack mismatch: %v", got.IntStack)
	}
	if len(got.FltStack) != 1 || got.FltStack[0] != 4.5 {
		t.Fatalf("FltStack mismatch: %v", got.FltStack)
	}
	if len(got.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(got.frames))
	}
	gotFrame := got.frames[0]
	if gotFrame.IP != 7 {
		t.Fatalf("IP = %d, want 7", gotFrame.IP)
	}
	if gotFrame.Namespace == nil || gotFrame.Namespace.Name.String() != "Player" {
		t.Fatalf("Namespace mismatch: %v", gotFrame.Namespace)
	}

	scoreEntry := gotFrame.Locals.Lookup(interns2.Intern("score", false))
	if scoreEntry == nil || scoreEntry.Value.Num != 42 {
		t.Fatalf("score entry mismatch: %+v", scoreEntry)
	}
	greetingEntry := gotFrame.Locals.Lookup(interns2.Intern("greeting", false))
	if greetingEntry == nil {
		t.Fatalf("greeting entry missing")
	}
	gotStr, err := greetingEntry.Value.ResolveString(got)
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if gotStr != "hello" {
		t.Fatalf("greeting = %q, want %q", gotStr, "hello")
	}
}
