// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

// TaggedPrefixWidth is how many decimal-digit bytes plus a separator a
// tagged string pool entry reserves ahead of its text, so OP_TAG_TO_STR can
// write the numeric tag id in place at runtime without growing the pool
// (spec.md §3.5 "Tagged strings reserve space for a decimal tag id").
const TaggedPrefixWidth = 9 // 8 digits + NUL separator

type stringPoolEntry struct {
	Text          string
	CaseSensitive bool
	Tagged        bool
	Offset        uint32
}

// StringPool is a codeblock's per-compile string pool (spec.md §3.5).
// Entries dedupe by (content, case-sensitive flag, tag flag); the flat
// buffer produced by Build is what the codeblock persists.
type StringPool struct {
	entries []stringPoolEntry
	index   map[poolKey]int
	built   bool
}

type poolKey struct {
	text   string
	cs     bool
	tagged bool
}

// NewStringPool returns an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{index: make(map[poolKey]int)}
}

// Add inserts text (if not already present for this flag combination) and
// returns its byte offset in the eventual flat buffer. Offsets are stable
// once assigned: later Adds never renumber earlier entries.
func (p *StringPool) Add(text string, caseSensitive, tagged bool) uint32 {
	if p.built {
		panic("kork: StringPool.Add after Build")
	}
	key := poolKey{text: text, cs: caseSensitive, tagged: tagged}
	if i, ok := p.index[key]; ok {
		return p.entries[i].Offset
	}

	var offset uint32
	if n := len(p.entries); n > 0 {
		last := p.entries[n-1]
		offset = last.Offset + uint32(len(last.Text)) + 1
		if last.Tagged {
			offset += TaggedPrefixWidth
		}
	}
	p.entries = append(p.entries, stringPoolEntry{
		Text: text, CaseSensitive: caseSensitive, Tagged: tagged, Offset: offset,
	})
	p.index[key] = len(p.entries) - 1
	return offset
}

// Len reports how many distinct entries the pool holds.
func (p *StringPool) Len() int { return len(p.entries) }

// Build flattens the pool into the buffer the codeblock persists: each
// entry's bytes, NUL-terminated, tagged entries additionally prefixed with
// TaggedPrefixWidth reserved bytes (zeroed; OP_TAG_TO_STR fills them in at
// runtime). After Build the pool is immutable in-memory linked lists are
// discarded per spec.md §4.3 ("the in-pool linked lists are discarded").
func (p *StringPool) Build() []byte {
	p.built = true
	if len(p.entries) == 0 {
		return nil
	}
	last := p.entries[len(p.entries)-1]
	size := last.Offset + uint32(len(last.Text)) + 1
	if last.Tagged {
		size += TaggedPrefixWidth
	}
	buf := make([]byte, size)
	for _, e := range p.entries {
		off := e.Offset
		if e.Tagged {
			off += TaggedPrefixWidth
		}
		copy(buf[off:], e.Text)
	}
	p.index = nil
	return buf
}

// FloatPool is a codeblock's per-compile float constant pool (spec.md
// §3.5): an ordered list of unique float64 values; the index assigned on
// first Add is the operand emitted opcodes reference.
type FloatPool struct {
	values []float64
	index  map[float64]uint32
	built  bool
}

// NewFloatPool returns an empty pool.
func NewFloatPool() *FloatPool {
	return &FloatPool{index: make(map[float64]uint32)}
}

// Add returns f's index, inserting it if this is the first use.
func (p *FloatPool) Add(f float64) uint32 {
	if p.built {
		panic("kork: FloatPool.Add after Build")
	}
	if i, ok := p.index[f]; ok {
		return i
	}
	i := uint32(len(p.values))
	p.values = append(p.values, f)
	p.index[f] = i
	return i
}

// Len reports how many distinct floats the pool holds.
func (p *FloatPool) Len() int { return len(p.values) }

// Build returns the ordered float table the codeblock persists.
func (p *FloatPool) Build() []float64 {
	p.built = true
	out := p.values
	p.index = nil
	return out
}

// IdentFixup records one use of an interned identifier whose uses must be
// rewritten at codeblock-load time from a pool index to the interned
// pointer the runtime will dispatch on (spec.md §3.5, §4.4 "Identifier
// fixups").
type IdentFixup struct {
	Name    string
	Patches []uint32 // code-word addresses to patch at load
}

// IdentFixupTable is the per-codeblock table of such records.
type IdentFixupTable struct {
	byName map[string]int
	fixups []IdentFixup
}

// NewIdentFixupTable returns an empty table.
func NewIdentFixupTable() *IdentFixupTable {
	return &IdentFixupTable{byName: make(map[string]int)}
}

// Record appends codeAddr to name's patch list, creating the entry if this
// is the first use of name.
func (t *IdentFixupTable) Record(name string, codeAddr uint32) {
	if i, ok := t.byName[name]; ok {
		t.fixups[i].Patches = append(t.fixups[i].Patches, codeAddr)
		return
	}
	t.byName[name] = len(t.fixups)
	t.fixups = append(t.fixups, IdentFixup{Name: name, Patches: []uint32{codeAddr}})
}

// Build returns the ordered fixup list the codeblock persists.
func (t *IdentFixupTable) Build() []IdentFixup {
	return t.fixups
}
