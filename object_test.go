// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import "testing"

type testPlayer struct {
	health int64
	name   string
}

func playerClassDescriptor(interns *InternTable) *ClassDescriptor {
	return &ClassDescriptor{
		Name: interns.Intern("Player", false),
		Fields: []FieldDescriptor{
			{
				Name:   interns.Intern("health", false),
				TypeID: TagUint,
				Storage: func(obj *Object, _ int) Storage {
					p := obj.UserData.(*testPlayer)
					return RegisterStorage([]Value{MakeUint(uint64(p.health))})
				},
			},
		},
		Callbacks: ClassCallbacks{
			Create: func() (interface{}, error) { return &testPlayer{}, nil },
			ProcessArgs: func(obj *Object, declaredName string, isDatablock, isInternalName bool, argv []Value) error {
				obj.UserData.(*testPlayer).name = declaredName
				return nil
			},
			GetID: func(obj *Object) Value { return MakeUint(42) },
			GetFieldByName: func(obj *Object, name string) (Value, bool) {
				if name == "name" {
					return MakeString(obj.UserData.(*testPlayer).name), true
				}
				return Value{}, false
			},
		},
	}
}

func TestCreateObjectRunsCreateAndProcessArgs(t *testing.T) {
	interns := NewInternTable()
	reg := NewClassRegistry()
	id := reg.RegisterClass(playerClassDescriptor(interns))

	obj, err := CreateObject(reg, NewTypeRegistry(), id, "Bob", false, nil)
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if obj.UserData.(*testPlayer).name != "Bob" {
		t.Fatalf("ProcessArgs did not record the declared name")
	}
	if obj.ID().AsUint(0) != 42 {
		t.Fatalf("ID() = %v, want 42", obj.ID())
	}
}

func TestCreateObjectUnknownClass(t *testing.T) {
	reg := NewClassRegistry()
	if _, err := CreateObject(reg, NewTypeRegistry(), 999, "x", false, nil); err == nil {
		t.Fatalf("expected ErrUnknownClass")
	}
}

func TestObjectGetFieldStaticAndDynamic(t *testing.T) {
	interns := NewInternTable()
	reg := NewClassRegistry()
	id := reg.RegisterClass(playerClassDescriptor(interns))
	obj, err := CreateObject(reg, NewTypeRegistry(), id, "Bob", false, nil)
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	obj.UserData.(*testPlayer).health = 75

	v, err := obj.GetField(interns.Intern("health", false), 0)
	if err != nil || v.AsUint(0) != 75 {
		t.Fatalf("GetField(health) = %v, %v", v, err)
	}

	v, err = obj.GetField(interns.Intern("name", false), 0)
	if err != nil {
		t.Fatalf("GetField(name) dynamic fallback: %v", err)
	}
	s, _ := v.ResolveString(nil)
	if s != "Bob" {
		t.Fatalf("GetField(name) = %q, want Bob", s)
	}

	if _, err := obj.GetField(interns.Intern("nope", false), 0); err == nil {
		t.Fatalf("expected ErrFieldNotFound for an unknown field")
	}
}

func TestObjectRefCountingCallsDestroyAtZero(t *testing.T) {
	interns := NewInternTable()
	reg := NewClassRegistry()
	destroyed := false
	cls := playerClassDescriptor(interns)
	cls.Callbacks.Destroy = func(userData interface{}) { destroyed = true }
	id := reg.RegisterClass(cls)

	obj, err := CreateObject(reg, NewTypeRegistry(), id, "Bob", false, nil)
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	obj.IncVMRef()
	obj.DecVMRef()
	if destroyed {
		t.Fatalf("Destroy fired before the refcount reached zero")
	}
	obj.DecVMRef()
	if !destroyed {
		t.Fatalf("Destroy did not fire once the refcount reached zero")
	}
	if obj.Flags&FlagDeleted == 0 {
		t.Fatalf("FlagDeleted was not set after Destroy")
	}
}

func TestObjectAddRemoveObjectTogglesFlags(t *testing.T) {
	interns := NewInternTable()
	reg := NewClassRegistry()
	id := reg.RegisterClass(playerClassDescriptor(interns))
	obj, _ := CreateObject(reg, NewTypeRegistry(), id, "Bob", false, nil)

	if err := obj.AddObject(); err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	if obj.Flags&FlagAdded == 0 {
		t.Fatalf("FlagAdded not set after AddObject")
	}
	obj.RemoveObject()
	if obj.Flags&FlagRemoved == 0 || obj.Flags&FlagAdded != 0 {
		t.Fatalf("RemoveObject did not update flags correctly: %v", obj.Flags)
	}
}
