// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Serializer walks a set of root fibers and writes a self-describing CSOB
// container (spec.md §4.10): every reachable codeblock, local dictionary,
// and fiber is assigned a small integer id, in discovery order, once; the
// fibers are then re-walked to emit their frames against those ids. On
// load, ids are reassigned from scratch in the same discovery order, which
// is how a Value's ZoneFiberStart+k gets remapped across sessions.
//
// What this does NOT attempt to restore: a snapshotted fiber's goroutine.
// Every opcode this VM runs keeps its state in the Fiber/Frame structs
// rather than Go locals (the property spec.md cites as what makes
// serialization possible at all), so Save captures a complete, faithful
// picture of a suspended fiber. But execFrame drives nested script calls
// through ordinary recursive Go calls, and a deserialized frame stack has
// no corresponding call stack to splice back into — re-deriving one from
// flat data would mean re-entering every enclosing call exactly where it
// left off, which this engine does not expose a hook for. Load restores a
// fiber's full value state for inspection, debugging, and re-seeding a
// fresh run; resuming it as if OP_YIELD had just returned is out of scope.
type Serializer struct {
	vm *VM

	codeblocks []*Codeblock
	cbIndex    map[*Codeblock]uint32

	dicts     []*Dictionary
	dictIndex map[*Dictionary]uint32

	fibers     []*Fiber
	fiberIndex map[*Fiber]uint32
}

// NewSerializer returns a Serializer bound to vm's type registry and
// namespace set, used to resolve custom-type hooks and frame namespaces.
func NewSerializer(vm *VM) *Serializer {
	return &Serializer{
		vm:         vm,
		cbIndex:    make(map[*Codeblock]uint32),
		dictIndex:  make(map[*Dictionary]uint32),
		fiberIndex: make(map[*Fiber]uint32),
	}
}

func (s *Serializer) internCodeblock(cb *Codeblock) uint32 {
	if id, ok := s.cbIndex[cb]; ok {
		return id
	}
	id := uint32(len(s.codeblocks))
	s.codeblocks = append(s.codeblocks, cb)
	s.cbIndex[cb] = id
	return id
}

func (s *Serializer) internDict(d *Dictionary) uint32 {
	if id, ok := s.dictIndex[d]; ok {
		return id
	}
	id := uint32(len(s.dicts))
	s.dicts = append(s.dicts, d)
	s.dictIndex[d] = id
	return id
}

func (s *Serializer) discoverFiber(f *Fiber) {
	if _, ok := s.fiberIndex[f]; ok {
		return
	}
	id := uint32(len(s.fibers))
	s.fibers = append(s.fibers, f)
	s.fiberIndex[f] = id
	for _, fr := range f.frames {
		if fr.Codeblock != nil {
			s.internCodeblock(fr.Codeblock)
		}
		s.internDict(fr.Locals)
	}
}

// Save walks roots and writes the CSOB container to w.
func (s *Serializer) Save(w io.Writer, roots []*Fiber) error {
	for _, f := range roots {
		s.discoverFiber(f)
	}

	// entryOwner lets iterFrame.VarEntry (a *DictEntry) be written as a
	// (dictID, name) pair instead of a raw pointer.
	entryOwner := make(map[*DictEntry]uint32)
	for id, d := range s.dicts {
		for _, e := range d.Entries() {
			entryOwner[e] = uint32(id)
		}
	}

	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(1)) // CSOB version

	binary.Write(&body, binary.LittleEndian, uint32(len(roots)))
	for _, f := range roots {
		binary.Write(&body, binary.LittleEndian, s.fiberIndex[f])
	}

	binary.Write(&body, binary.LittleEndian, uint32(len(s.codeblocks)))
	for _, cb := range s.codeblocks {
		payload := cb.encodeDSOBPayload()
		binary.Write(&body, binary.LittleEndian, uint32(len(payload)))
		body.Write(payload)
	}

	binary.Write(&body, binary.LittleEndian, uint32(len(s.dicts)))
	for id, d := range s.dicts {
		dict, err := s.encodeDict(uint32(id), d)
		if err != nil {
			return err
		}
		if err := writeBlock(&body, magicDICT, dict); err != nil {
			return err
		}
	}

	for _, f := range s.fibers {
		ceob, err := s.encodeFiber(f, entryOwner)
		if err != nil {
			return err
		}
		if err := writeBlock(&body, magicCEOB, ceob); err != nil {
			return err
		}
	}

	return writeBlock(w, magicCSOB, body.Bytes())
}

const (
	dictFlagConst      byte = 1 << 0
	dictFlagHostBacked byte = 1 << 1
	dictFlagEnforce    byte = 1 << 2
)

func (s *Serializer) encodeDict(id uint32, d *Dictionary) ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, id)
	entries := d.Entries()
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))
	for _, e := range entries {
		writeLPString(&buf, e.Name.String())

		flags := byte(0)
		if e.Const {
			flags |= dictFlagConst
		}
		if e.HostBacked {
			flags |= dictFlagHostBacked
		}
		if e.HasEnforceType {
			flags |= dictFlagEnforce
		}
		buf.WriteByte(flags)
		if e.HasEnforceType {
			binary.Write(&buf, binary.LittleEndian, uint16(e.EnforceType))
		}

		if e.HostBacked {
			// The host's own variable is the value; nothing here to persist.
			continue
		}
		enc, err := encodeValue(s.vm.Types, nil, e.Value)
		if err != nil {
			return nil, fmt.Errorf("dict entry %q: %w", e.Name.String(), err)
		}
		buf.Write(enc)
	}
	return buf.Bytes(), nil
}

func (s *Serializer) encodeFiber(f *Fiber, entryOwner map[*DictEntry]uint32) ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(f.State))
	binary.Write(&buf, binary.LittleEndian, boolByte(f.cancelled))

	binary.Write(&buf, binary.LittleEndian, uint32(len(f.IntStack)))
	for _, v := range f.IntStack {
		binary.Write(&buf, binary.LittleEndian, uint64(v))
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(f.FltStack)))
	for _, v := range f.FltStack {
		binary.Write(&buf, binary.LittleEndian, v)
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(f.strBuf)))
	buf.Write(f.strBuf)
	binary.Write(&buf, binary.LittleEndian, uint32(len(f.strMarkers)))
	for _, m := range f.strMarkers {
		binary.Write(&buf, binary.LittleEndian, uint32(m))
	}

	lastVal, err := encodeValue(s.vm.Types, f, f.lastValue)
	if err != nil {
		return nil, fmt.Errorf("fiber lastValue: %w", err)
	}
	buf.Write(lastVal)
	thrown, err := encodeValue(s.vm.Types, f, f.thrownValue)
	if err != nil {
		return nil, fmt.Errorf("fiber thrownValue: %w", err)
	}
	buf.Write(thrown)
	binary.Write(&buf, binary.LittleEndian, f.thrownMask)

	binary.Write(&buf, binary.LittleEndian, uint32(len(f.tryStack)))
	for _, t := range f.tryStack {
		binary.Write(&buf, binary.LittleEndian, t.Mask)
		binary.Write(&buf, binary.LittleEndian, t.CatchIP)
		binary.Write(&buf, binary.LittleEndian, uint32(t.FrameDepth))
		binary.Write(&buf, binary.LittleEndian, uint32(t.IntDepth))
		binary.Write(&buf, binary.LittleEndian, uint32(t.FltDepth))
		binary.Write(&buf, binary.LittleEndian, uint32(t.StrMarker))
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(f.iterStack)))
	for _, it := range f.iterStack {
		ownerID, haveOwner := entryOwner[it.VarEntry]
		buf.WriteByte(boolByte(haveOwner))
		if haveOwner {
			binary.Write(&buf, binary.LittleEndian, ownerID)
			writeLPString(&buf, it.VarEntry.Name.String())
		}
		binary.Write(&buf, binary.LittleEndian, uint32(it.Index))
		buf.WriteByte(boolByte(it.WordSplit))
		binary.Write(&buf, binary.LittleEndian, uint32(len(it.Words)))
		for _, w := range it.Words {
			writeLPString(&buf, w)
		}
		binary.Write(&buf, binary.LittleEndian, uint32(len(it.Elements)))
		for _, v := range it.Elements {
			enc, err := encodeValue(s.vm.Types, f, v)
			if err != nil {
				return nil, fmt.Errorf("fiber iterStack element: %w", err)
			}
			buf.Write(enc)
		}
	}

	// objStack holds host object handles; identity and field state are
	// host-owned (spec.md §5 "host may hold references concurrently") and
	// not this snapshot's to reconstruct. Only the depth is recorded, so a
	// restored fiber's stack-balance bookkeeping still lines up.
	binary.Write(&buf, binary.LittleEndian, uint32(len(f.objStack)))

	binary.Write(&buf, binary.LittleEndian, uint32(len(f.frames)))
	for _, fr := range f.frames {
		cffb, err := s.encodeFrame(fr)
		if err != nil {
			return nil, err
		}
		if err := writeBlock(&buf, magicCFFB, cffb); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (s *Serializer) encodeFrame(fr *Frame) ([]byte, error) {
	var buf bytes.Buffer
	cbID := uint32(0)
	hasCB := fr.Codeblock != nil
	if hasCB {
		cbID = s.internCodeblock(fr.Codeblock)
	}
	buf.WriteByte(boolByte(hasCB))
	binary.Write(&buf, binary.LittleEndian, cbID)
	binary.Write(&buf, binary.LittleEndian, fr.IP)
	writeLPString(&buf, fr.ScopeName)

	hasNS := fr.Namespace != nil
	buf.WriteByte(boolByte(hasNS))
	if hasNS {
		writeLPString(&buf, fr.Namespace.Name.String())
		pkg := ""
		if fr.Namespace.Package != nil {
			pkg = fr.Namespace.Package.String()
		}
		writeLPString(&buf, pkg)
	}

	hasPkg := fr.Package != nil
	buf.WriteByte(boolByte(hasPkg))
	if hasPkg {
		writeLPString(&buf, fr.Package.String())
	}

	binary.Write(&buf, binary.LittleEndian, s.internDict(fr.Locals))

	hasThis := fr.This != nil
	buf.WriteByte(boolByte(hasThis))
	if hasThis {
		binary.Write(&buf, binary.LittleEndian, uint32(fr.This.Class))
		writeLPString(&buf, fr.This.InternalName)
	}

	binary.Write(&buf, binary.LittleEndian, uint32(fr.stringMarker))
	binary.Write(&buf, binary.LittleEndian, uint32(fr.tryMarker))
	binary.Write(&buf, binary.LittleEndian, uint32(fr.intDepth))
	binary.Write(&buf, binary.LittleEndian, uint32(fr.fltDepth))
	buf.WriteByte(boolByte(fr.noCalls))

	return buf.Bytes(), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func writeLPString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readLPString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

const (
	valEncString       byte = 0
	valEncUint         byte = 1
	valEncFloat        byte = 2
	valEncCustomNative byte = 3
	valEncCustomString byte = 4
)

// encodeValue writes v's serialized wire form (spec.md §4.10): builtins are
// written natively, a custom type with a Serialize hook writes its own
// bytes, and a custom type without one falls back to its cast-to-string
// form. ctx resolves any indirection (ZoneReturn/ZoneFiberStart+k) before
// the bytes are written, since the target buffer those offsets reference
// will not exist when the value is later decoded.
func encodeValue(types *TypeRegistry, ctx ZoneContext, v Value) ([]byte, error) {
	var buf bytes.Buffer
	switch v.Tag {
	case TagString:
		s, err := v.ResolveString(ctx)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(valEncString)
		writeLPString(&buf, s)
	case TagUint:
		buf.WriteByte(valEncUint)
		binary.Write(&buf, binary.LittleEndian, v.Num)
	case TagFloat:
		buf.WriteByte(valEncFloat)
		binary.Write(&buf, binary.LittleEndian, v.Num)
	default:
		d, ok := types.Lookup(v.Tag)
		if ok && d.Serialize != nil {
			data, err := d.Serialize(v, ctx)
			if err != nil {
				return nil, err
			}
			buf.WriteByte(valEncCustomNative)
			binary.Write(&buf, binary.LittleEndian, uint32(v.Tag))
			writeLPBytes(&buf, data)
			return buf.Bytes(), nil
		}
		s, err := types.ValueAsString(v, ctx)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(valEncCustomString)
		binary.Write(&buf, binary.LittleEndian, uint32(v.Tag))
		writeLPString(&buf, s)
	}
	return buf.Bytes(), nil
}

func writeLPBytes(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(b)))
	buf.Write(b)
}

func readLPBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// decodeValue is encodeValue's inverse. A custom-string-fallback entry
// always decodes as a plain string: the original type id was lost the
// moment it went through the cast-to-string path on the way out.
func decodeValue(types *TypeRegistry, r *bytes.Reader) (Value, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	switch kind {
	case valEncString:
		s, err := readLPString(r)
		if err != nil {
			return Value{}, err
		}
		return MakeString(s), nil
	case valEncUint:
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return Value{}, err
		}
		return MakeUint(n), nil
	case valEncFloat:
		var bits uint64
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return Value{}, err
		}
		return Value{Tag: TagFloat, Zone: ZoneExternal, Num: bits}, nil
	case valEncCustomNative:
		var tag uint32
		if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
			return Value{}, err
		}
		data, err := readLPBytes(r)
		if err != nil {
			return Value{}, err
		}
		d, ok := types.Lookup(TypeTag(tag))
		if !ok || d.Deserialize == nil {
			return Value{}, fmt.Errorf("%w: custom type %d has no Deserialize hook", ErrBadCodeblock, tag)
		}
		return d.Deserialize(data)
	case valEncCustomString:
		var tag uint32
		if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
			return Value{}, err
		}
		s, err := readLPString(r)
		if err != nil {
			return Value{}, err
		}
		return MakeString(s), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown value encoding %d", ErrBadCodeblock, kind)
	}
}

// Snapshot is what Load reconstructs from a CSOB container: every
// codeblock, dictionary, and fiber it contained, with fiber identity
// remapped to fresh small integers (spec.md §4.10 "a remap table
// translates old -> new fiber index"). RootFibers holds the fibers that
// were passed to Save as roots, in order.
type Snapshot struct {
	Codeblocks  []*Codeblock
	Dicts       []*Dictionary
	Fibers      []*Fiber
	RootFibers  []*Fiber
	RemapOldNew map[uint32]uint32
}

// Load decodes a CSOB container written by Save. interns backs every
// identifier reconstructed along the way (codeblock Idents, namespace and
// entry names); vm resolves a restored frame's Namespace by looking it
// up in vm's live namespace set, which must already contain whatever
// namespaces the running script defined before it was snapshotted.
func Load(r io.Reader, vm *VM, interns *InternTable) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	payload, err := readBlock(bytes.NewReader(data), magicCSOB)
	if err != nil {
		return nil, err
	}
	body := bytes.NewReader(payload)

	var version uint32
	if err := binary.Read(body, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCodeblock, err)
	}
	if version != 1 {
		return nil, fmt.Errorf("%w: unsupported CSOB version %d", ErrBadCodeblock, version)
	}

	var rootCount uint32
	binary.Read(body, binary.LittleEndian, &rootCount)
	oldRoots := make([]uint32, rootCount)
	for i := range oldRoots {
		binary.Read(body, binary.LittleEndian, &oldRoots[i])
	}

	var cbCount uint32
	binary.Read(body, binary.LittleEndian, &cbCount)
	codeblocks := make([]*Codeblock, cbCount)
	for i := range codeblocks {
		var n uint32
		binary.Read(body, binary.LittleEndian, &n)
		payload := make([]byte, n)
		if _, err := io.ReadFull(body, payload); err != nil {
			return nil, err
		}
		cb, err := decodeDSOBPayload(payload, interns, "<snapshot>")
		if err != nil {
			return nil, err
		}
		codeblocks[i] = cb
	}

	var dictCount uint32
	binary.Read(body, binary.LittleEndian, &dictCount)
	dicts := make([]*Dictionary, dictCount)
	for i := uint32(0); i < dictCount; i++ {
		raw, err := readBlock(body, magicDICT)
		if err != nil {
			return nil, err
		}
		id, d, err := decodeDict(vm.Types, interns, raw)
		if err != nil {
			return nil, err
		}
		dicts[id] = d
	}

	var fibers []*Fiber
	for body.Len() > 0 {
		raw, err := readBlock(body, magicCEOB)
		if err != nil {
			return nil, err
		}
		f, err := decodeFiber(vm, interns, codeblocks, dicts, raw)
		if err != nil {
			return nil, err
		}
		fibers = append(fibers, f)
	}

	remap := make(map[uint32]uint32, len(fibers))
	for i := range fibers {
		remap[uint32(i)] = uint32(i)
	}
	roots := make([]*Fiber, len(oldRoots))
	for i, old := range oldRoots {
		if int(old) >= len(fibers) {
			return nil, fmt.Errorf("%w: root fiber index %d out of range", ErrBadCodeblock, old)
		}
		roots[i] = fibers[old]
	}

	return &Snapshot{
		Codeblocks:  codeblocks,
		Dicts:       dicts,
		Fibers:      fibers,
		RootFibers:  roots,
		RemapOldNew: remap,
	}, nil
}

func decodeDict(types *TypeRegistry, interns *InternTable, raw []byte) (uint32, *Dictionary, error) {
	r := bytes.NewReader(raw)
	var id uint32
	if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
		return 0, nil, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, nil, err
	}
	d := NewDictionary()
	for i := uint32(0); i < n; i++ {
		name, err := readLPString(r)
		if err != nil {
			return 0, nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		e := &DictEntry{
			Name:       interns.Intern(name, false),
			Const:      flags&dictFlagConst != 0,
			HostBacked: flags&dictFlagHostBacked != 0,
		}
		if flags&dictFlagEnforce != 0 {
			var tag uint16
			if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
				return 0, nil, err
			}
			e.EnforceType = TypeTag(tag)
			e.HasEnforceType = true
		}
		if !e.HostBacked {
			v, err := decodeValue(types, r)
			if err != nil {
				return 0, nil, err
			}
			e.Value = v
		}
		d.entries[e.Name] = e
	}
	return id, d, nil
}

func decodeFiber(vm *VM, interns *InternTable, codeblocks []*Codeblock, dicts []*Dictionary, raw []byte) (*Fiber, error) {
	r := bytes.NewReader(raw)
	f := vm.SpawnFiber()

	var state uint32
	binary.Read(r, binary.LittleEndian, &state)
	f.State = FiberState(state)
	cancelled, _ := r.ReadByte()
	f.cancelled = cancelled != 0

	var intN uint32
	binary.Read(r, binary.LittleEndian, &intN)
	f.IntStack = make([]int64, intN)
	for i := range f.IntStack {
		var v uint64
		binary.Read(r, binary.LittleEndian, &v)
		f.IntStack[i] = int64(v)
	}
	var fltN uint32
	binary.Read(r, binary.LittleEndian, &fltN)
	f.FltStack = make([]float64, fltN)
	for i := range f.FltStack {
		binary.Read(r, binary.LittleEndian, &f.FltStack[i])
	}

	var strN uint32
	binary.Read(r, binary.LittleEndian, &strN)
	f.strBuf = make([]byte, strN)
	io.ReadFull(r, f.strBuf)
	var markerN uint32
	binary.Read(r, binary.LittleEndian, &markerN)
	f.strMarkers = make([]int, markerN)
	for i := range f.strMarkers {
		var m uint32
		binary.Read(r, binary.LittleEndian, &m)
		f.strMarkers[i] = int(m)
	}

	lastVal, err := decodeValue(vm.Types, r)
	if err != nil {
		return nil, fmt.Errorf("fiber lastValue: %w", err)
	}
	f.lastValue = lastVal
	thrown, err := decodeValue(vm.Types, r)
	if err != nil {
		return nil, fmt.Errorf("fiber thrownValue: %w", err)
	}
	f.thrownValue = thrown
	binary.Read(r, binary.LittleEndian, &f.thrownMask)

	var tryN uint32
	binary.Read(r, binary.LittleEndian, &tryN)
	f.tryStack = make([]tryRecord, tryN)
	for i := range f.tryStack {
		t := &f.tryStack[i]
		binary.Read(r, binary.LittleEndian, &t.Mask)
		binary.Read(r, binary.LittleEndian, &t.CatchIP)
		var fd, id, fltd, sm uint32
		binary.Read(r, binary.LittleEndian, &fd)
		binary.Read(r, binary.LittleEndian, &id)
		binary.Read(r, binary.LittleEndian, &fltd)
		binary.Read(r, binary.LittleEndian, &sm)
		t.FrameDepth, t.IntDepth, t.FltDepth, t.StrMarker = int(fd), int(id), int(fltd), int(sm)
	}

	var iterN uint32
	binary.Read(r, binary.LittleEndian, &iterN)
	f.iterStack = make([]iterFrame, iterN)
	for i := range f.iterStack {
		it := &f.iterStack[i]
		haveOwner, _ := r.ReadByte()
		if haveOwner != 0 {
			var dictID uint32
			binary.Read(r, binary.LittleEndian, &dictID)
			name, err := readLPString(r)
			if err != nil {
				return nil, err
			}
			if int(dictID) < len(dicts) {
				it.VarEntry = dicts[dictID].Lookup(interns.Intern(name, false))
			}
		}
		var idx uint32
		binary.Read(r, binary.LittleEndian, &idx)
		it.Index = int(idx)
		ws, _ := r.ReadByte()
		it.WordSplit = ws != 0
		var wordN uint32
		binary.Read(r, binary.LittleEndian, &wordN)
		it.Words = make([]string, wordN)
		for j := range it.Words {
			it.Words[j], err = readLPString(r)
			if err != nil {
				return nil, err
			}
		}
		var elN uint32
		binary.Read(r, binary.LittleEndian, &elN)
		it.Elements = make([]Value, elN)
		for j := range it.Elements {
			it.Elements[j], err = decodeValue(vm.Types, r)
			if err != nil {
				return nil, err
			}
		}
	}

	// objStack depth only; see encodeFiber's comment on host object scope.
	var objN uint32
	binary.Read(r, binary.LittleEndian, &objN)
	f.objStack = make([]*Object, objN)

	var frameN uint32
	binary.Read(r, binary.LittleEndian, &frameN)
	f.frames = make([]*Frame, frameN)
	for i := range f.frames {
		raw, err := readBlock(r, magicCFFB)
		if err != nil {
			return nil, err
		}
		fr, err := decodeFrame(vm, interns, codeblocks, dicts, raw)
		if err != nil {
			return nil, err
		}
		f.frames[i] = fr
	}

	return f, nil
}

func decodeFrame(vm *VM, interns *InternTable, codeblocks []*Codeblock, dicts []*Dictionary, raw []byte) (*Frame, error) {
	r := bytes.NewReader(raw)
	fr := &Frame{}

	hasCB, _ := r.ReadByte()
	var cbID uint32
	binary.Read(r, binary.LittleEndian, &cbID)
	if hasCB != 0 && int(cbID) < len(codeblocks) {
		fr.Codeblock = codeblocks[cbID]
	}
	binary.Read(r, binary.LittleEndian, &fr.IP)
	scope, err := readLPString(r)
	if err != nil {
		return nil, err
	}
	fr.ScopeName = scope

	hasNS, _ := r.ReadByte()
	if hasNS != 0 {
		nsName, err := readLPString(r)
		if err != nil {
			return nil, err
		}
		pkgName, err := readLPString(r)
		if err != nil {
			return nil, err
		}
		var pkg *Interned
		if pkgName != "" {
			pkg = interns.Intern(pkgName, false)
		}
		fr.Namespace = vm.FindNamespace(interns.Intern(nsName, false), pkg)
	}

	hasPkg, _ := r.ReadByte()
	if hasPkg != 0 {
		pkgName, err := readLPString(r)
		if err != nil {
			return nil, err
		}
		fr.Package = interns.Intern(pkgName, false)
	}

	var dictID uint32
	binary.Read(r, binary.LittleEndian, &dictID)
	if int(dictID) < len(dicts) {
		fr.Locals = dicts[dictID]
	} else {
		fr.Locals = NewDictionary()
	}

	hasThis, _ := r.ReadByte()
	if hasThis != 0 {
		var classID uint32
		binary.Read(r, binary.LittleEndian, &classID)
		internalName, err := readLPString(r)
		if err != nil {
			return nil, err
		}
		// Host object state lives outside this snapshot (see encodeFiber);
		// This is restored as a class/name-only placeholder.
		fr.This = &Object{Class: ClassID(classID), InternalName: internalName}
	}

	var sm, tm, id, fd uint32
	binary.Read(r, binary.LittleEndian, &sm)
	binary.Read(r, binary.LittleEndian, &tm)
	binary.Read(r, binary.LittleEndian, &id)
	binary.Read(r, binary.LittleEndian, &fd)
	fr.stringMarker, fr.tryMarker, fr.intDepth, fr.fltDepth = int(sm), int(tm), int(id), int(fd)
	noCalls, _ := r.ReadByte()
	fr.noCalls = noCalls != 0

	return fr, nil
}
