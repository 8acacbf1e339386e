// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"fmt"
	"sort"
	"strings"
)

// EntryType discriminates a Namespace Entry.
type EntryType int

const (
	// EntryScriptFunction is a compiled function: a codeblock + offset.
	EntryScriptFunction EntryType = iota
	// EntryNative is a host callback.
	EntryNative
	// EntryGroupMarker is a documentation grouping marker with no
	// invocable body (spec.md §3.10).
	EntryGroupMarker
)

// ArgView is the single argument-view shape every native callback sees
// (spec.md §9 design note: "Collapse to a single signature taking a typed
// argument view and returning a value").
type ArgView struct {
	raw   []Value
	ctx   ZoneContext
	types *TypeRegistry
}

// Len reports the argument count.
func (a ArgView) Len() int { return len(a.raw) }

// Value returns the raw Value at i.
func (a ArgView) Value(i int) Value { return a.raw[i] }

// String coerces argument i to a string via the type registry.
func (a ArgView) String(i int) string {
	s, _ := a.types.ValueAsString(a.raw[i], a.ctx)
	return s
}

// Int coerces argument i to an integer.
func (a ArgView) Int(i int) int64 {
	v, _ := a.types.ValueAsInt(a.raw[i], a.ctx)
	return v
}

// Float coerces argument i to a float.
func (a ArgView) Float(i int) float64 {
	v, _ := a.types.ValueAsFloat(a.raw[i], a.ctx)
	return v
}

// Bool coerces argument i to a bool.
func (a ArgView) Bool(i int) bool {
	v, _ := a.types.ValueAsBool(a.raw[i], a.ctx)
	return v
}

// NativeFunc is a host callback entry. this is nil for a free function.
type NativeFunc func(this *Object, args ArgView) (Value, error)

// Entry is one namespace dispatch-table slot (spec.md §3.10).
type Entry struct {
	Namespace    *Namespace
	FunctionName *Interned
	Package      *Interned
	Next         *Entry // local entry-list link within one Namespace

	Type EntryType

	Code           *Codeblock
	FunctionOffset uint32
	Params         []*Interned

	Native           NativeFunc
	MinArgs, MaxArgs int

	Usage     string
	GroupName string
}

func (e *Entry) clear() {
	e.Code = nil
	e.Native = nil
}

// Namespace is a dispatch table for a class name or a free-function
// grouping (spec.md §3.10).
type Namespace struct {
	Name    *Interned
	Package *Interned
	Parent  *Namespace

	next      *Namespace // global namespace-list link, owned by NamespaceState
	EntryList *Entry

	hash             map[*Interned]*Entry
	hashSequence     uint64
	refCountToParent int
	lastUsage        string
}

// createLocalEntry returns the existing entry for name, clearing it for
// reuse, or allocates a new one prepended to EntryList (spec.md §3.10
// "redefinition replaces in place").
func (ns *Namespace) createLocalEntry(name *Interned) *Entry {
	for e := ns.EntryList; e != nil; e = e.Next {
		if e.FunctionName == name {
			e.clear()
			return e
		}
	}
	e := &Entry{Namespace: ns, FunctionName: name, Package: ns.Package, Next: ns.EntryList}
	ns.EntryList = e
	return e
}

// AddScriptFunction installs a compiled function under name.
func (ns *Namespace) AddScriptFunction(name *Interned, cb *Codeblock, offset uint32, params []*Interned, usage string) {
	e := ns.createLocalEntry(name)
	e.Type = EntryScriptFunction
	e.Code = cb
	e.FunctionOffset = offset
	e.Params = params
	e.Usage = usage
}

// AddNative installs a host callback under name.
func (ns *Namespace) AddNative(name *Interned, fn NativeFunc, usage string, minArgs, maxArgs int) {
	e := ns.createLocalEntry(name)
	e.Type = EntryNative
	e.Native = fn
	e.Usage = usage
	e.MinArgs = minArgs
	e.MaxArgs = maxArgs
}

// MarkGroup installs a non-invocable documentation marker entry (spec.md
// §9 "Supplemented features": required so arg-count-mismatch error text
// can still print a usage block from the preceding group, independent of
// the out-of-scope doc-dumper tool).
func (ns *Namespace) MarkGroup(interns *InternTable, counter *int, name, usage string) {
	*counter++
	markerName := interns.Intern(fmt.Sprintf("%s_%d", name, *counter), true)
	e := ns.createLocalEntry(markerName)
	e.Type = EntryGroupMarker
	e.GroupName = name
	if usage != "" {
		ns.lastUsage = usage
	}
	e.Usage = ns.lastUsage
	e.MinArgs, e.MaxArgs = -1, -2
}

// lookupRecursive walks the parent chain without consulting the cache —
// used both for a cold lookup and to decide, while rebuilding the cache,
// whether a given entry is the one that would actually be found (an
// entry shadowed by a same-named one closer to ns is excluded).
func (ns *Namespace) lookupRecursive(name *Interned) *Entry {
	for walk := ns; walk != nil; walk = walk.Parent {
		for e := walk.EntryList; e != nil; e = e.Next {
			if e.FunctionName == name {
				return e
			}
		}
	}
	return nil
}

func (ns *Namespace) buildHashTable(state *NamespaceState) {
	if ns.hashSequence == state.cacheSequence {
		return
	}
	if ns.EntryList == nil && ns.Parent != nil {
		ns.Parent.buildHashTable(state)
		ns.hash = ns.Parent.hash
		ns.hashSequence = state.cacheSequence
		return
	}
	h := make(map[*Interned]*Entry)
	for walk := ns; walk != nil; walk = walk.Parent {
		for e := walk.EntryList; e != nil; e = e.Next {
			if ns.lookupRecursive(e.FunctionName) == e {
				if _, exists := h[e.FunctionName]; !exists {
					h[e.FunctionName] = e
				}
			}
		}
	}
	ns.hash = h
	ns.hashSequence = state.cacheSequence
}

// Lookup finds name's entry via the lazily-rebuilt cache (spec.md §4.8
// dispatch algorithm).
func (ns *Namespace) Lookup(state *NamespaceState, name *Interned) *Entry {
	if ns.hashSequence != state.cacheSequence {
		ns.buildHashTable(state)
	}
	return ns.hash[name]
}

// GetEntryList returns every reachable entry (own + inherited, de-duped by
// shadowing), sorted by function name — the namespace-introspection
// surface a host console's "methods()" command would use.
func (ns *Namespace) GetEntryList(state *NamespaceState) []*Entry {
	if ns.hashSequence != state.cacheSequence {
		ns.buildHashTable(state)
	}
	out := make([]*Entry, 0, len(ns.hash))
	for _, e := range ns.hash {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].FunctionName.String()) < strings.ToLower(out[j].FunctionName.String())
	})
	return out
}

// ClassLinkTo sets ns's ultimate ancestor (walking same-named links) to
// parent, refusing if it is already linked to a different parent (spec.md
// §9 design note + original consoleNamespace.cc classLinkTo).
func (ns *Namespace) ClassLinkTo(parent *Namespace) error {
	walk := ns
	for walk.Parent != nil && walk.Parent.Name == ns.Name {
		walk = walk.Parent
	}
	if walk.Parent != nil && walk.Parent != parent {
		return fmt.Errorf("%w: cannot relink %s from %s to %s",
			ErrNamespaceCycle, walk.Name, walk.Parent.Name, parent.Name)
	}
	ns.refCountToParent++
	walk.Parent = parent
	return nil
}

// UnlinkClass decrements the refcount established by ClassLinkTo, clearing
// the parent link once it drops to zero.
func (ns *Namespace) UnlinkClass(parent *Namespace) error {
	walk := ns
	for walk.Parent != nil && walk.Parent.Name == ns.Name {
		walk = walk.Parent
	}
	if walk.Parent != nil && walk.Parent != parent {
		return fmt.Errorf("%w: cannot unlink %s for %s", ErrNamespaceCycle, walk.Name, walk.Parent.Name)
	}
	ns.refCountToParent--
	if ns.refCountToParent <= 0 {
		walk.Parent = nil
	}
	return nil
}

// TabComplete returns the best command-completion match for prevText among
// this namespace's cached entries (spec.md §9 supplemented feature).
func (ns *Namespace) TabComplete(state *NamespaceState, prevText string, baseLen int, forward bool) string {
	if ns.hashSequence != state.cacheSequence {
		ns.buildHashTable(state)
	}
	var best string
	for name := range ns.hash {
		if canTabComplete(prevText, best, name.String(), baseLen, forward) {
			best = name.String()
		}
	}
	return best
}

func canTabComplete(prevText, bestMatch, newText string, baseLen int, forward bool) bool {
	if len(newText) < baseLen || !strings.EqualFold(newText[:baseLen], safePrefix(prevText, baseLen)) {
		return false
	}
	cmp := strings.Compare(strings.ToLower(newText), strings.ToLower(prevText))
	cmpBest := 0
	if bestMatch != "" {
		cmpBest = strings.Compare(strings.ToLower(newText), strings.ToLower(bestMatch))
	}
	if forward {
		if bestMatch == "" {
			return cmp > 0
		}
		return cmp > 0 && cmpBest < 0
	}
	if len(prevText) == baseLen {
		if bestMatch == "" {
			return cmp > 0
		}
		return cmpBest > 0
	}
	if bestMatch == "" {
		return cmp < 0
	}
	return cmp < 0 && cmpBest > 0
}

func safePrefix(s string, n int) string {
	if n > len(s) {
		return s
	}
	return s[:n]
}

type nsKey struct {
	name *Interned
	pkg  *Interned
}

// NamespaceState owns every Namespace and the package-activation stack
// (spec.md §3.10, §4.8).
type NamespaceState struct {
	byKey             map[nsKey]*Namespace
	list              []*Namespace
	global            *Namespace
	cacheSequence     uint64
	activePackages    []*Interned
	oldActivePackages []*Interned
	maxActivePackages int
	groupCounter      int
}

const defaultMaxActivePackages = 32

// NewNamespaceState returns a state with just the global (name=nil,
// package=nil) namespace registered.
func NewNamespaceState(maxActivePackages int) *NamespaceState {
	if maxActivePackages <= 0 {
		maxActivePackages = defaultMaxActivePackages
	}
	// cacheSequence starts ahead of every new namespace's zero
	// hashSequence, so a namespace builds its cache on its first Lookup.
	s := &NamespaceState{byKey: make(map[nsKey]*Namespace), maxActivePackages: maxActivePackages, cacheSequence: 1}
	s.global = s.Find(nil, nil)
	return s
}

// Global returns the free-function namespace.
func (s *NamespaceState) Global() *Namespace { return s.global }

// Find returns the namespace for (name, pkg), creating it on first use.
func (s *NamespaceState) Find(name, pkg *Interned) *Namespace {
	key := nsKey{name, pkg}
	if ns, ok := s.byKey[key]; ok {
		return ns
	}
	ns := &Namespace{Name: name, Package: pkg}
	s.byKey[key] = ns
	s.list = append(s.list, ns)
	return ns
}

// Lookup returns the namespace for (name, pkg) without creating it.
func (s *NamespaceState) Lookup(name, pkg *Interned) *Namespace {
	return s.byKey[nsKey{name, pkg}]
}

// IsPackage reports whether any namespace is tagged with package name.
func (s *NamespaceState) IsPackage(name *Interned) bool {
	for _, ns := range s.list {
		if ns.Package == name {
			return true
		}
	}
	return false
}

func (s *NamespaceState) trashCache() { s.cacheSequence++ }

// ActivatePackage interposes every namespace tagged with this package name
// into the parent chain of its same-named NULL-package namespace, and
// swaps their entry lists so the overlay takes effect immediately (spec.md
// §4.8; translated directly from consoleNamespace.cc ActivatePackage).
func (s *NamespaceState) ActivatePackage(name *Interned) error {
	if name == nil {
		return nil
	}
	if len(s.activePackages) >= s.maxActivePackages {
		return ErrTooManyPackages
	}
	for _, p := range s.activePackages {
		if p == name {
			return nil
		}
	}

	s.trashCache()
	for _, walk := range s.list {
		if walk.Package != name {
			continue
		}
		parent := s.Find(walk.Name, nil)
		walk.Parent = parent.Parent
		parent.Parent = walk

		for e := parent.EntryList; e != nil; e = e.Next {
			e.Namespace = walk
		}
		for e := walk.EntryList; e != nil; e = e.Next {
			e.Namespace = parent
		}
		walk.EntryList, parent.EntryList = parent.EntryList, walk.EntryList
	}
	s.activePackages = append(s.activePackages, name)
	return nil
}

// DeactivatePackage reverses ActivatePackage's interposition for name and
// every package activated after it (LIFO), returning dispatch state to
// exactly what it was before (spec.md §8 "Package symmetry").
func (s *NamespaceState) DeactivatePackage(name *Interned) {
	idx := -1
	for i, p := range s.activePackages {
		if p == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	s.trashCache()
	for j := len(s.activePackages) - 1; j >= idx; j-- {
		pkg := s.activePackages[j]
		for _, walk := range s.list {
			if walk.Package != pkg {
				continue
			}
			parent := s.Find(walk.Name, nil)
			parent.Parent = walk.Parent
			walk.Parent = nil

			for e := parent.EntryList; e != nil; e = e.Next {
				e.Namespace = walk
			}
			for e := walk.EntryList; e != nil; e = e.Next {
				e.Namespace = parent
			}
			walk.EntryList, parent.EntryList = parent.EntryList, walk.EntryList
		}
	}
	s.activePackages = s.activePackages[:idx]
}

// UnlinkPackages deactivates every active package, remembering how many
// were active so RelinkPackages can restore them (used around a codeblock
// hot-reload, mirroring consoleNamespace.cc unlinkPackages/relinkPackages).
func (s *NamespaceState) UnlinkPackages() {
	s.oldActivePackages = append([]*Interned(nil), s.activePackages...)
	if len(s.activePackages) == 0 {
		return
	}
	s.DeactivatePackage(s.activePackages[0])
}

// RelinkPackages reactivates the packages most recently deactivated by
// UnlinkPackages, in original order.
func (s *NamespaceState) RelinkPackages() {
	for _, p := range s.oldActivePackages {
		_ = s.ActivatePackage(p)
	}
}

// LinkNamespace sets child's parent directly (spec.md §6.1 linkNamespace),
// refusing if it would create a cycle.
func (s *NamespaceState) LinkNamespace(parent, child *Namespace) error {
	for walk := parent; walk != nil; walk = walk.Parent {
		if walk == child {
			return ErrNamespaceCycle
		}
	}
	s.trashCache()
	child.Parent = parent
	return nil
}

// UnlinkNamespace clears child's parent pointer.
func (s *NamespaceState) UnlinkNamespace(child *Namespace) {
	s.trashCache()
	child.Parent = nil
}
