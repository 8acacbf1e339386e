// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

// DictEntry is one variable binding (spec.md §3.7): an interned name, a
// value, an optional heap allocation the entry owns, constant/host-backed
// flags, and an optional enforced type id.
type DictEntry struct {
	Name       *Interned
	Value      Value
	Heap       *HeapBlock
	Const      bool
	HostBacked bool
	HostPtr    interface{}
	EnforceType TypeTag
	HasEnforceType bool
}

// Dictionary is a hash table of variable entries (spec.md §3.7). The
// global dictionary is owned by the VM; each call frame owns its own
// local dictionary.
type Dictionary struct {
	entries map[*Interned]*DictEntry
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{entries: make(map[*Interned]*DictEntry)}
}

// Lookup returns the entry for name, or nil if unset.
func (d *Dictionary) Lookup(name *Interned) *DictEntry {
	return d.entries[name]
}

// GetOrCreate returns the entry for name, creating a zero-value entry
// (empty string) if absent — the OP_SETCURVAR_CREATE path.
func (d *Dictionary) GetOrCreate(name *Interned) *DictEntry {
	if e, ok := d.entries[name]; ok {
		return e
	}
	e := &DictEntry{Name: name, Value: MakeString("")}
	d.entries[name] = e
	return e
}

// Set assigns v to name's entry, creating the entry if necessary. It
// returns an error if the entry is a declared constant.
func (d *Dictionary) Set(name *Interned, v Value) error {
	e := d.GetOrCreate(name)
	if e.Const {
		return newFault(ErrTypeMismatch, "", "", 0)
	}
	e.Value = v
	return nil
}

// Delete removes name's entry, releasing any heap allocation it owned
// (spec.md §5 "heap-allocated value payloads owned by the dictionary are
// freed when the entry is removed").
func (d *Dictionary) Delete(name *Interned) {
	delete(d.entries, name)
}

// Reset clears every entry. Frames call this implicitly by discarding
// their Dictionary; the global dictionary exposes it for host-driven
// "flush all globals" operations.
func (d *Dictionary) Reset() {
	d.entries = make(map[*Interned]*DictEntry)
}

// RegisterHost creates a host-backed entry for name and stores ptr in its
// HostPtr (spec.md §6.1 registerGlobal). Script reads and writes use the
// entry's Value; nothing in the VM dereferences ptr.
func (d *Dictionary) RegisterHost(name *Interned, typeID TypeTag, ptr interface{}) {
	d.entries[name] = &DictEntry{
		Name: name, HostBacked: true, HostPtr: ptr,
		EnforceType: typeID, HasEnforceType: true,
	}
}

// Len reports how many entries are currently bound.
func (d *Dictionary) Len() int { return len(d.entries) }

// Entries returns a snapshot of every bound entry, for the serializer's
// DICT walk (spec.md §4.10). Host-backed entries are included by name only;
// their value lives behind HostPtr and is not this dictionary's to persist.
func (d *Dictionary) Entries() []*DictEntry {
	out := make([]*DictEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	return out
}
