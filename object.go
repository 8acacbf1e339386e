// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"fmt"
	"sync/atomic"
)

// ClassID identifies a registered class descriptor.
type ClassID uint32

// ObjectFlags are the per-object status bits the VM tracks on the host's
// behalf (spec.md §3.11).
type ObjectFlags uint32

const (
	FlagDeleted ObjectFlags = 1 << iota
	FlagRemoved
	FlagAdded
	FlagModStaticFields
	FlagModDynamicFields
)

// FieldDescriptor is one entry in a class's static field table (spec.md
// §4.9 "Field access"). Storage returns the backing slot for element
// arrayIndex of this field on obj; routing through TypeRegistry.Cast is how
// a custom-typed field converts to and from a script Value. Go has no safe
// analogue to the original's raw byte-offset-into-struct field layout, so
// Storage is a host-supplied accessor closure instead of an offset —
// documented in the project's grounding notes as the one place this bridge
// departs from a literal translation.
type FieldDescriptor struct {
	Name       *Interned
	TypeID     TypeTag
	ArrayCount int
	Storage    func(obj *Object, arrayIndex int) Storage
}

// ClassCallbacks is the per-class six-callback interface plus the optional
// dynamic-field iterator (spec.md §4.9, §6.2).
type ClassCallbacks struct {
	Create       func() (interface{}, error)
	Destroy      func(userData interface{})
	ProcessArgs  func(obj *Object, declaredName string, isDatablock, isInternalName bool, argv []Value) error
	AddObject    func(obj *Object) error
	RemoveObject func(obj *Object)
	GetID        func(obj *Object) Value

	IterateFields  func(obj *Object, yield func(name string, v Value) bool)
	GetFieldByName func(obj *Object, name string) (Value, bool)
	SetFieldByName func(obj *Object, name string, v Value) bool
}

// ClassDescriptor describes one registered class (spec.md §4.9).
type ClassDescriptor struct {
	Name      *Interned
	Namespace *Namespace
	Fields    []FieldDescriptor
	Callbacks ClassCallbacks
}

func (c *ClassDescriptor) field(name *Interned) (FieldDescriptor, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// ClassRegistry assigns and looks up ClassIDs (spec.md §6.1 registerClass).
type ClassRegistry struct {
	classes map[ClassID]*ClassDescriptor
	byName  map[*Interned]ClassID
	next    ClassID
}

// NewClassRegistry returns an empty registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{
		classes: make(map[ClassID]*ClassDescriptor),
		byName:  make(map[*Interned]ClassID),
	}
}

// RegisterClass assigns the next id to d.
func (r *ClassRegistry) RegisterClass(d *ClassDescriptor) ClassID {
	r.next++
	id := r.next
	r.classes[id] = d
	if d.Name != nil {
		r.byName[d.Name] = id
	}
	return id
}

// Lookup returns the descriptor for id.
func (r *ClassRegistry) Lookup(id ClassID) (*ClassDescriptor, bool) {
	d, ok := r.classes[id]
	return d, ok
}

// LookupByName returns the id registered under the interned class name, the
// way `new ClassName(...)` resolves its class at runtime (spec.md §4.9).
func (r *ClassRegistry) LookupByName(name *Interned) (ClassID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Object is the VM's handle onto a host-owned instance (spec.md §3.11).
// The VM never allocates the backing instance itself; Create returns an
// opaque UserData the host interprets.
type Object struct {
	Class     ClassID
	Registry  *ClassRegistry
	Types     *TypeRegistry
	UserData  interface{}
	Namespace *Namespace // non-nil overrides the class namespace for dispatch
	Flags     ObjectFlags
	InternalName string

	refCount int32
}

// CreateObject allocates a host instance of class via its Create callback
// and runs ProcessArgs once (spec.md §6.1 createObject, §4.9 ProcessArgs).
// The returned object starts with a VM refcount of 1.
func CreateObject(reg *ClassRegistry, types *TypeRegistry, class ClassID, declaredName string, isDatablock bool, argv []Value) (*Object, error) {
	cls, ok := reg.Lookup(class)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownClass, class)
	}
	var userData interface{}
	var err error
	if cls.Callbacks.Create != nil {
		if userData, err = cls.Callbacks.Create(); err != nil {
			return nil, err
		}
	}
	obj := &Object{Class: class, Registry: reg, Types: types, UserData: userData, refCount: 1}
	if cls.Callbacks.ProcessArgs != nil {
		if err := cls.Callbacks.ProcessArgs(obj, declaredName, isDatablock, false, argv); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (o *Object) classDescriptor() (*ClassDescriptor, bool) {
	return o.Registry.Lookup(o.Class)
}

// AddObject transitions the object into the host's scene graph.
func (o *Object) AddObject() error {
	cls, ok := o.classDescriptor()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClass, o.Class)
	}
	if cls.Callbacks.AddObject != nil {
		if err := cls.Callbacks.AddObject(o); err != nil {
			return err
		}
	}
	o.Flags |= FlagAdded
	o.Flags &^= FlagRemoved
	return nil
}

// RemoveObject detaches the object from the host's scene graph.
func (o *Object) RemoveObject() {
	if cls, ok := o.classDescriptor(); ok && cls.Callbacks.RemoveObject != nil {
		cls.Callbacks.RemoveObject(o)
	}
	o.Flags |= FlagRemoved
	o.Flags &^= FlagAdded
}

// ID returns the class's GetId callback result, or the null value if the
// class declared none.
func (o *Object) ID() Value {
	if cls, ok := o.classDescriptor(); ok && cls.Callbacks.GetID != nil {
		return cls.Callbacks.GetID(o)
	}
	return Value{}
}

// IncVMRef increments the VM-originated reference count.
func (o *Object) IncVMRef() { atomic.AddInt32(&o.refCount, 1) }

// DecVMRef decrements the VM-originated reference count, invoking Destroy
// and marking the object deleted once it reaches zero (spec.md §5 "Object
// refcounts").
func (o *Object) DecVMRef() {
	if atomic.AddInt32(&o.refCount, -1) > 0 {
		return
	}
	if o.Flags&FlagDeleted != 0 {
		return
	}
	o.Flags |= FlagDeleted
	if cls, ok := o.classDescriptor(); ok && cls.Callbacks.Destroy != nil {
		cls.Callbacks.Destroy(o.UserData)
	}
}

// GetField resolves obj.field[arrayIndex] (spec.md §4.9 "Field access"):
// a static field routes through the type registry's Cast when it holds a
// custom type, or is read directly when it's a builtin Value; absent a
// static field, the class's dynamic GetFieldByName callback is consulted.
func (o *Object) GetField(name *Interned, arrayIndex int) (Value, error) {
	cls, ok := o.classDescriptor()
	if !ok {
		return Value{}, fmt.Errorf("%w: %d", ErrUnknownClass, o.Class)
	}
	if f, ok := cls.field(name); ok {
		st := f.Storage(o, arrayIndex)
		if f.TypeID < TagCustomBase && st.Kind == StorageRegister && len(st.Regs) > 0 {
			return st.Regs[0], nil
		}
		out := RegisterStorage([]Value{{}})
		if err := o.Types.Cast(f.TypeID, st, TagString, out); err != nil {
			return Value{}, err
		}
		return out.Regs[0], nil
	}
	if cls.Callbacks.GetFieldByName != nil {
		if v, ok := cls.Callbacks.GetFieldByName(o, name.String()); ok {
			return v, nil
		}
	}
	return Value{}, fmt.Errorf("%w: %s", ErrFieldNotFound, name.String())
}

// SetField assigns v to obj.field[arrayIndex], routing through Cast for a
// custom-typed static field, writing builtins directly, and otherwise
// delegating to SetFieldByName for dynamic fields.
func (o *Object) SetField(name *Interned, v Value, arrayIndex int) error {
	cls, ok := o.classDescriptor()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClass, o.Class)
	}
	if f, ok := cls.field(name); ok {
		st := f.Storage(o, arrayIndex)
		if f.TypeID < TagCustomBase && st.Kind == StorageRegister {
			if len(st.Regs) > 0 {
				st.Regs[0] = v
			}
			o.Flags |= FlagModStaticFields
			return nil
		}
		in := RegisterStorage([]Value{v})
		if err := o.Types.Cast(v.Tag, in, f.TypeID, st); err != nil {
			return err
		}
		o.Flags |= FlagModStaticFields
		return nil
	}
	if cls.Callbacks.SetFieldByName != nil && cls.Callbacks.SetFieldByName(o, name.String(), v) {
		o.Flags |= FlagModDynamicFields
		return nil
	}
	return fmt.Errorf("%w: %s", ErrFieldNotFound, name.String())
}

// ObjectFinder is the host-supplied find-by quartet (spec.md §4.9 "Find
// operations are delegated to host callbacks; the VM never maintains its
// own global object registry").
type ObjectFinder interface {
	FindObjectByName(name string) (*Object, bool)
	FindObjectByPath(path string) (*Object, bool)
	FindObjectByInternalName(name string) (*Object, bool)
	FindObjectByID(id int64) (*Object, bool)
}
