// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"fmt"
	"sync"
)

// StorageKind discriminates a Storage handle (spec.md §3.3, Cast callback
// "abstract storage interfaces").
type StorageKind int

const (
	// StorageAddress is a raw memory address: a resolved byte slice view
	// over the field-layout-sized backing memory.
	StorageAddress StorageKind = iota
	// StorageRegister is a register of N values (a small value array).
	StorageRegister
	// StorageStackSlot is a single operand-stack slot.
	StorageStackSlot
)

// Storage is the discriminated handle Cast reads from or writes to.
type Storage struct {
	Kind StorageKind
	Addr []byte
	Regs []Value
	Slot *Value
}

// AddressStorage wraps a raw byte slice.
func AddressStorage(b []byte) Storage { return Storage{Kind: StorageAddress, Addr: b} }

// RegisterStorage wraps a register of values.
func RegisterStorage(v []Value) Storage { return Storage{Kind: StorageRegister, Regs: v} }

// StackSlotStorage wraps a single operand-stack slot.
func StackSlotStorage(v *Value) Storage { return Storage{Kind: StorageStackSlot, Slot: v} }

// CastFunc converts between a custom type and the representation named by
// outTag, reading from in and writing to out. Invoked for assignment,
// field set, and literal coercion.
type CastFunc func(in Storage, outTag TypeTag, out Storage) error

// PerformOpFunc executes a binary or unary operator for a custom type.
// For a unary op, rhs is the zero Value and opcode alone selects the
// operation (e.g. OpNeg, OpNot).
type PerformOpFunc func(op Opcode, lhs, rhs Value) (Value, error)

// ClassNameFunc returns the display name used in error messages.
type ClassNameFunc func() string

// PrefixFunc returns the separator string used when this type is
// concatenated with another during string assembly (e.g. a space or tab);
// an empty string means no separator.
type PrefixFunc func() string

// SerializeFunc produces a custom type's own wire form for a CSOB snapshot
// (spec.md §4.10 "calls the type's serializer hook"). DeserializeFunc is
// its inverse. Both are optional; a nil Serialize falls back to the value's
// cast-to-string form, which decodeValue always knows how to restore
// as a plain string (losing the original custom type id, the same way the
// spec's described fallback does).
type SerializeFunc func(v Value, ctx ZoneContext) ([]byte, error)

// DeserializeFunc is SerializeFunc's inverse.
type DeserializeFunc func(data []byte) (Value, error)

// TypeDescriptor is everything the registry needs for one custom type id
// (spec.md §3.3).
type TypeDescriptor struct {
	Name string

	// FieldSize is the in-memory field-layout size in bytes, used by the
	// object bridge when routing obj.field through Cast.
	FieldSize int

	// RegisterSize is the in-register value count, or -1 for "variable".
	RegisterSize int

	Cast      CastFunc
	PerformOp PerformOpFunc
	ClassName ClassNameFunc
	Prefix    PrefixFunc

	Serialize   SerializeFunc
	Deserialize DeserializeFunc
}

// TypeRegistry assigns and looks up custom type ids (spec.md §4.2). Ids
// below TagCustomBase are reserved for the builtin string/uint/float
// types, which have fixed, non-overridable implementations.
type TypeRegistry struct {
	mu    sync.RWMutex
	descs map[TypeTag]TypeDescriptor
	next  TypeTag
}

// NewTypeRegistry returns a registry with no custom types registered.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		descs: make(map[TypeTag]TypeDescriptor),
		next:  TagCustomBase,
	}
}

// Register assigns the next available id (>= TagCustomBase) to d and
// returns it.
func (r *TypeRegistry) Register(d TypeDescriptor) TypeTag {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.descs[id] = d
	return id
}

// Lookup returns the descriptor for id, if any.
func (r *TypeRegistry) Lookup(id TypeTag) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[id]
	return d, ok
}

// ClassName returns the display name for tag, using the builtin names for
// TagString/TagUint/TagFloat and a custom type's ClassName callback
// otherwise. Unregistered custom ids return "unknown".
func (r *TypeRegistry) ClassName(tag TypeTag) string {
	switch tag {
	case TagString:
		return "string"
	case TagUint:
		return "int"
	case TagFloat:
		return "float"
	}
	if d, ok := r.Lookup(tag); ok && d.ClassName != nil {
		return d.ClassName()
	}
	return "unknown"
}

// Prefix returns the concatenation separator for tag, empty for builtins.
func (r *TypeRegistry) Prefix(tag TypeTag) string {
	if tag < TagCustomBase {
		return ""
	}
	if d, ok := r.Lookup(tag); ok && d.Prefix != nil {
		return d.Prefix()
	}
	return ""
}

// Cast converts in (holding type inTag) to outTag, writing the result
// through out. Builtin-to-builtin conversions are handled directly;
// anything touching a custom type delegates to that type's Cast callback.
func (r *TypeRegistry) Cast(inTag TypeTag, in Storage, outTag TypeTag, out Storage) error {
	if inTag >= TagCustomBase {
		d, ok := r.Lookup(inTag)
		if !ok || d.Cast == nil {
			return fmt.Errorf("%w: type %d has no Cast", ErrTypeMismatch, inTag)
		}
		return d.Cast(in, outTag, out)
	}
	if outTag >= TagCustomBase {
		d, ok := r.Lookup(outTag)
		if !ok || d.Cast == nil {
			return fmt.Errorf("%w: type %d has no Cast", ErrTypeMismatch, outTag)
		}
		return d.Cast(in, outTag, out)
	}
	return fmt.Errorf("%w: builtin-to-builtin Cast must go through ValueAs* helpers", ErrTypeMismatch)
}
