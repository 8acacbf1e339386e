// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import "testing"

func TestNamespaceAddAndLookup(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(0)
	ns := state.Find(interns.Intern("Player", false), nil)

	fn := interns.Intern("jump", false)
	ns.AddScriptFunction(fn, nil, 12, nil, "jump() - make the player jump")

	e := ns.Lookup(state, fn)
	if e == nil || e.Type != EntryScriptFunction || e.FunctionOffset != 12 {
		t.Fatalf("Lookup did not find the installed entry: %+v", e)
	}
}

func TestNamespaceInheritsFromParent(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(0)
	base := state.Find(interns.Intern("SimObject", false), nil)
	derived := state.Find(interns.Intern("Player", false), nil)
	derived.Parent = base

	fn := interns.Intern("getName", false)
	base.AddScriptFunction(fn, nil, 1, nil, "")

	if e := derived.Lookup(state, fn); e == nil {
		t.Fatalf("derived namespace did not inherit base entry")
	}
}

func TestNamespaceRedefinitionReplacesInPlace(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(0)
	ns := state.Find(interns.Intern("Player", false), nil)
	fn := interns.Intern("jump", false)

	ns.AddScriptFunction(fn, nil, 1, nil, "")
	first := ns.EntryList
	ns.AddScriptFunction(fn, nil, 2, nil, "")

	if ns.EntryList != first {
		t.Fatalf("redefining jump allocated a new entry instead of replacing in place")
	}
	if ns.EntryList.FunctionOffset != 2 {
		t.Fatalf("redefinition did not take effect")
	}
}

func TestNamespaceLookupPrefersNearestDefinition(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(0)
	base := state.Find(interns.Intern("SimObject", false), nil)
	derived := state.Find(interns.Intern("Player", false), nil)
	derived.Parent = base

	fn := interns.Intern("describe", false)
	base.AddScriptFunction(fn, nil, 1, nil, "")
	derived.AddScriptFunction(fn, nil, 2, nil, "")

	e := derived.Lookup(state, fn)
	if e == nil || e.FunctionOffset != 2 {
		t.Fatalf("lookup did not prefer the nearer override: %+v", e)
	}
	// The base's own view of the same name must still see its own entry.
	if e := base.Lookup(state, fn); e == nil || e.FunctionOffset != 1 {
		t.Fatalf("base namespace lookup was corrupted by derived's override: %+v", e)
	}
}

func TestActivatePackageOverlaysAndDeactivateRestores(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(0)
	playerName := interns.Intern("Player", false)
	fnName := interns.Intern("jump", false)
	pkgName := interns.Intern("JumpPatch", false)

	base := state.Find(playerName, nil)
	base.AddScriptFunction(fnName, nil, 1, nil, "")

	overlay := state.Find(playerName, pkgName)
	overlay.AddScriptFunction(fnName, nil, 99, nil, "")

	if e := base.Lookup(state, fnName); e == nil || e.FunctionOffset != 1 {
		t.Fatalf("precondition: base should resolve to its own entry before activation")
	}

	if err := state.ActivatePackage(pkgName); err != nil {
		t.Fatalf("ActivatePackage: %v", err)
	}
	if e := base.Lookup(state, fnName); e == nil || e.FunctionOffset != 99 {
		t.Fatalf("after activation, lookup should resolve to the package override, got %+v", e)
	}

	state.DeactivatePackage(pkgName)
	if e := base.Lookup(state, fnName); e == nil || e.FunctionOffset != 1 {
		t.Fatalf("after deactivation, lookup should resolve back to the original entry, got %+v", e)
	}
}

func TestActivatePackageIsIdempotent(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(0)
	pkgName := interns.Intern("Foo", false)
	if err := state.ActivatePackage(pkgName); err != nil {
		t.Fatalf("first activation: %v", err)
	}
	if err := state.ActivatePackage(pkgName); err != nil {
		t.Fatalf("second activation of the same package should be a no-op, got error: %v", err)
	}
	if len(state.activePackages) != 1 {
		t.Fatalf("activePackages = %v, want exactly one entry", state.activePackages)
	}
}

func TestActivatePackageRespectsBound(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(1)
	a := interns.Intern("A", false)
	b := interns.Intern("B", false)
	if err := state.ActivatePackage(a); err != nil {
		t.Fatalf("first activation: %v", err)
	}
	if err := state.ActivatePackage(b); err == nil {
		t.Fatalf("expected ErrTooManyPackages once the bound is reached")
	}
}

func TestClassLinkToAndUnlink(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(0)
	parent := state.Find(interns.Intern("SimObject", false), nil)
	child := state.Find(interns.Intern("Player", false), nil)

	if err := child.ClassLinkTo(parent); err != nil {
		t.Fatalf("ClassLinkTo: %v", err)
	}
	if child.Parent != parent {
		t.Fatalf("ClassLinkTo did not set parent")
	}
	if err := child.ClassLinkTo(parent); err != nil {
		t.Fatalf("second ClassLinkTo to the same parent should succeed (refcount): %v", err)
	}
	if err := child.UnlinkClass(parent); err != nil {
		t.Fatalf("first UnlinkClass: %v", err)
	}
	if child.Parent != parent {
		t.Fatalf("parent should still be set after only one of two UnlinkClass calls")
	}
	if err := child.UnlinkClass(parent); err != nil {
		t.Fatalf("second UnlinkClass: %v", err)
	}
	if child.Parent != nil {
		t.Fatalf("parent should be cleared once the refcount reaches zero")
	}
}

func TestLinkNamespaceRejectsCycle(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(0)
	a := state.Find(interns.Intern("A", false), nil)
	b := state.Find(interns.Intern("B", false), nil)

	if err := state.LinkNamespace(a, b); err != nil {
		t.Fatalf("LinkNamespace a<-b: %v", err)
	}
	if err := state.LinkNamespace(b, a); err == nil {
		t.Fatalf("expected ErrNamespaceCycle linking b<-a after a<-b")
	}
}

func TestMarkGroupInstallsNonInvocableEntry(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(0)
	ns := state.Find(interns.Intern("Player", false), nil)
	counter := 0

	ns.MarkGroup(interns, &counter, "Movement", "Functions that move the player")

	entries := ns.GetEntryList(state)
	if len(entries) != 1 || entries[0].Type != EntryGroupMarker {
		t.Fatalf("MarkGroup did not install a group marker entry: %+v", entries)
	}
	if entries[0].Usage != "Functions that move the player" {
		t.Fatalf("group marker usage = %q", entries[0].Usage)
	}
}

func TestGetEntryListExcludesShadowedParentEntries(t *testing.T) {
	interns := NewInternTable()
	state := NewNamespaceState(0)
	base := state.Find(interns.Intern("SimObject", false), nil)
	derived := state.Find(interns.Intern("Player", false), nil)
	derived.Parent = base

	fn := interns.Intern("describe", false)
	base.AddScriptFunction(fn, nil, 1, nil, "")
	derived.AddScriptFunction(fn, nil, 2, nil, "")
	other := interns.Intern("getName", false)
	base.AddScriptFunction(other, nil, 3, nil, "")

	list := derived.GetEntryList(state)
	if len(list) != 2 {
		t.Fatalf("GetEntryList returned %d entries, want 2 (describe override + inherited getName): %+v", len(list), list)
	}
	for _, e := range list {
		if e.FunctionName == fn && e.FunctionOffset != 2 {
			t.Fatalf("shadowed parent entry for %q leaked into the list", fn)
		}
	}
}
