// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"bytes"
	"testing"
)

func newTestCodeblock(interns *InternTable) *Codeblock {
	return &Codeblock{
		File:     "test.cs",
		Strings:  append([]byte("hello\x00"), 0, 0, 0, 0, 0, 0, 0, 0, 0), // plus TaggedPrefixWidth padding
		Floats:   []float64{1.5, -2.25},
		Idents:   []*Interned{interns.Intern("foo", false), interns.Intern("Bar", true)},
		Code:     []uint32{1, 2, 3, 4},
		Lines:    []lineRecord{{IP: 0, Line: 1}, {IP: 2, Line: 2}},
		refCount: 1,
	}
}

func TestCodeblockSaveLoadRoundTrip(t *testing.T) {
	interns := NewInternTable()
	cb := newTestCodeblock(interns)

	var buf bytes.Buffer
	if err := cb.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loadInterns := NewInternTable()
	got, err := LoadCodeBlock(&buf, loadInterns, "test.cs")
	if err != nil {
		t.Fatalf("LoadCodeBlock: %v", err)
	}
	if !bytes.Equal(got.Strings, cb.Strings) {
		t.Fatalf("Strings mismatch: %v vs %v", got.Strings, cb.Strings)
	}
	if len(got.Floats) != len(cb.Floats) || got.Floats[0] != cb.Floats[0] {
		t.Fatalf("Floats mismatch: %v vs %v", got.Floats, cb.Floats)
	}
	if len(got.Idents) != 2 || got.Idents[0].String() != "foo" || got.Idents[1].String() != "Bar" {
		t.Fatalf("Idents mismatch: %v", got.Idents)
	}
	if len(got.Code) != len(cb.Code) {
		t.Fatalf("Code length mismatch: %d vs %d", len(got.Code), len(cb.Code))
	}
	if len(got.Lines) != 2 || got.Lines[1].Line != 2 {
		t.Fatalf("Lines mismatch: %v", got.Lines)
	}
}

func TestSplitDSOBFramedLeavesTrailingBytes(t *testing.T) {
	interns := NewInternTable()
	cb := newTestCodeblock(interns)

	var buf bytes.Buffer
	if err := cb.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	trailer := []byte("trailing-bytes")
	buf.Write(trailer)

	payload, rest, err := splitDSOBFramed(buf.Bytes())
	if err != nil {
		t.Fatalf("splitDSOBFramed: %v", err)
	}
	if !bytes.Equal(payload, cb.encodeDSOBPayload()) {
		t.Fatalf("payload does not match encodeDSOBPayload output")
	}
	if !bytes.Equal(rest, trailer) {
		t.Fatalf("rest = %q, want %q", rest, trailer)
	}
}

func TestLoadCodeBlockRejectsBadMagic(t *testing.T) {
	interns := NewInternTable()
	if _, err := LoadCodeBlock(bytes.NewReader([]byte("not a codeblock")), interns, "bad.cs"); err == nil {
		t.Fatalf("expected an error loading garbage bytes")
	}
}
