// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Codeblock is a loaded, ready-to-execute compilation unit (spec.md §3.6).
// Multiple namespace entries and call frames share one Codeblock by
// pointer; RefCount tracks how many, the way the teacher's mmap'd *File
// is shared read-only across every parser that walks it.
type Codeblock struct {
	File string

	Code    []uint32
	Lines   []lineRecord
	Strings []byte
	Floats  []float64
	Idents  []*Interned

	refCount int32
	closer   io.Closer
}

// NewCodeblock adopts a freshly compiled bundle.
func NewCodeblock(cc *CompiledCode, file string) *Codeblock {
	return &Codeblock{
		File:     file,
		Code:     cc.Code,
		Lines:    cc.Lines,
		Strings:  cc.Strings,
		Floats:   cc.Floats,
		Idents:   cc.Idents,
		refCount: 1,
	}
}

// IncRef bumps the sharing count (spec.md §5 "Codeblocks ... refcounted").
func (cb *Codeblock) IncRef() { cb.refCount++ }

// DecRef drops the sharing count, releasing any backing mmap once it
// reaches zero.
func (cb *Codeblock) DecRef() {
	cb.refCount--
	if cb.refCount > 0 {
		return
	}
	if cb.closer != nil {
		cb.closer.Close()
		cb.closer = nil
	}
}

// lineForIP returns the source line active at ip, matching the teacher's
// "nearest preceding entry" lookup idiom for its own line/offset tables.
func (cb *Codeblock) lineForIP(ip uint32) int {
	line := 0
	for _, rec := range cb.Lines {
		if rec.IP > ip {
			break
		}
		line = rec.Line
	}
	return line
}

// stringAt reads the NUL-terminated entry at byte offset off out of the
// pool (spec.md §3.5). A tagged entry's reserved prefix is skipped by the
// caller via TaggedPrefixWidth, not here: stringAt always returns exactly
// what starts at off.
func (cb *Codeblock) stringAt(off uint32) string {
	if int(off) >= len(cb.Strings) {
		return ""
	}
	end := off
	for int(end) < len(cb.Strings) && cb.Strings[end] != 0 {
		end++
	}
	return string(cb.Strings[off:end])
}

// Magic identifies a framed block in the DSOB/CSOB container format
// (spec.md §6.3).
type Magic [4]byte

var (
	magicCSOB = Magic{'C', 'S', 'O', 'B'}
	magicCEOB = Magic{'C', 'E', 'O', 'B'}
	magicCFFB = Magic{'C', 'F', 'F', 'B'}
	magicDICT = Magic{'D', 'I', 'C', 'T'}
	magicDSOB = Magic{'D', 'S', 'O', 'B'}
	magicEOLB = Magic{'E', 'O', 'L', 'B'}

	// magicSIGN frames an optional trailing PKCS7 signature over a
	// codeblock's DSOB payload (spec.md §4.11, signed codeblocks).
	magicSIGN = Magic{'S', 'I', 'G', 'N'}
)

// writeBlock frames payload behind a 4-byte magic and a little-endian
// 32-bit size, padded to 2-byte alignment (spec.md §6.3).
func writeBlock(w io.Writer, magic Magic, payload []byte) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if len(payload)%2 != 0 {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	return nil
}

// readBlock reads one framed block, verifying its magic matches want.
func readBlock(r *bytes.Reader, want Magic) ([]byte, error) {
	var magic Magic
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCodeblock, err)
	}
	if magic != want {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrBadCodeblock, want, magic)
	}
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCodeblock, err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCodeblock, err)
	}
	if size%2 != 0 {
		r.ReadByte()
	}
	return payload, nil
}

func (m Magic) String() string { return string(m[:]) }

// encodeDSOBPayload serializes cb's body (everything a DSOB block carries,
// spec.md §6.3: version, string pool, float pool, identifier fixup table,
// code, line table) without the outer magic/size framing. Save and the
// signing path in security.go both frame this payload identically; signing
// additionally authenticates these exact bytes.
func (cb *Codeblock) encodeDSOBPayload() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // version

	binary.Write(&buf, binary.LittleEndian, uint32(len(cb.Strings)))
	buf.Write(cb.Strings)

	binary.Write(&buf, binary.LittleEndian, uint32(len(cb.Floats)))
	for _, f := range cb.Floats {
		binary.Write(&buf, binary.LittleEndian, math.Float64bits(f))
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(cb.Idents)))
	for _, id := range cb.Idents {
		name := id.String()
		binary.Write(&buf, binary.LittleEndian, uint32(len(name)))
		buf.WriteString(name)
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(cb.Code)))
	for _, w32 := range cb.Code {
		binary.Write(&buf, binary.LittleEndian, w32)
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(cb.Lines)))
	for _, ln := range cb.Lines {
		binary.Write(&buf, binary.LittleEndian, ln.IP)
		binary.Write(&buf, binary.LittleEndian, uint32(ln.Line))
	}
	return buf.Bytes()
}

// Save encodes cb as a standalone DSOB block (spec.md §6.3): version,
// string pool, float pool, identifier fixup table, code, line table.
func (cb *Codeblock) Save(w io.Writer) error {
	if err := writeBlock(w, magicDSOB, cb.encodeDSOBPayload()); err != nil {
		return err
	}
	return writeBlock(w, magicEOLB, nil)
}

// LoadCodeBlock decodes a DSOB-framed codeblock previously produced by
// Save, interning every identifier against interns (spec.md §6.3 "Endian-
// independent by value").
func LoadCodeBlock(r io.Reader, interns *InternTable, file string) (*Codeblock, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	payload, _, err := splitDSOBFramed(data)
	if err != nil {
		return nil, err
	}
	return decodeDSOBPayload(payload, interns, file)
}

// splitDSOBFramed reads the DSOB and EOLB blocks off the front of data and
// returns the DSOB payload alongside whatever bytes remain after EOLB (a
// trailing SIGN block, when the codeblock was signed; spec.md §4.11).
func splitDSOBFramed(data []byte) (payload []byte, rest []byte, err error) {
	br := bytes.NewReader(data)
	payload, err = readBlock(br, magicDSOB)
	if err != nil {
		return nil, nil, err
	}
	if _, err := readBlock(br, magicEOLB); err != nil {
		return nil, nil, err
	}
	rest = data[len(data)-br.Len():]
	return payload, rest, nil
}

// decodeDSOBPayload decodes the body encodeDSOBPayload produces, interning
// every identifier against interns.
func decodeDSOBPayload(payload []byte, interns *InternTable, file string) (*Codeblock, error) {
	body := bytes.NewReader(payload)
	var version uint32
	if err := binary.Read(body, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCodeblock, err)
	}
	if version != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadCodeblock, version)
	}

	cb := &Codeblock{File: file, refCount: 1}

	var strLen uint32
	binary.Read(body, binary.LittleEndian, &strLen)
	cb.Strings = make([]byte, strLen)
	io.ReadFull(body, cb.Strings)

	var floatLen uint32
	binary.Read(body, binary.LittleEndian, &floatLen)
	cb.Floats = make([]float64, floatLen)
	for i := range cb.Floats {
		var bits uint64
		binary.Read(body, binary.LittleEndian, &bits)
		cb.Floats[i] = math.Float64frombits(bits)
	}

	var identLen uint32
	binary.Read(body, binary.LittleEndian, &identLen)
	cb.Idents = make([]*Interned, identLen)
	for i := range cb.Idents {
		var nameLen uint32
		binary.Read(body, binary.LittleEndian, &nameLen)
		nameBuf := make([]byte, nameLen)
		io.ReadFull(body, nameBuf)
		cb.Idents[i] = interns.Intern(string(nameBuf), false)
	}

	var codeLen uint32
	binary.Read(body, binary.LittleEndian, &codeLen)
	cb.Code = make([]uint32, codeLen)
	for i := range cb.Code {
		binary.Read(body, binary.LittleEndian, &cb.Code[i])
	}

	var lineLen uint32
	binary.Read(body, binary.LittleEndian, &lineLen)
	cb.Lines = make([]lineRecord, lineLen)
	for i := range cb.Lines {
		binary.Read(body, binary.LittleEndian, &cb.Lines[i].IP)
		var line uint32
		binary.Read(body, binary.LittleEndian, &line)
		cb.Lines[i].Line = int(line)
	}

	return cb, nil
}
