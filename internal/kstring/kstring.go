// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package kstring transcodes the UTF-16 tagged-string form a custom type
// can hand to OP_TAG_TO_STR (spec.md §4.13, "tagged strings"). A tagged
// string's TaggedPrefixWidth-reserved bytes carry a little-endian,
// NUL-terminated UTF-16 payload rather than the single-byte encoding every
// other string pool entry uses.
package kstring

import (
	"golang.org/x/text/encoding/unicode"
)

// DecodeUTF16LE decodes a little-endian, NUL-terminated (or unterminated)
// UTF-16 byte slice into a Go string. The terminator must fall on a 2-byte
// code-unit boundary: scanning for any "00 00" byte pair (as a plain
// bytes.Index would) finds false terminators whenever one code unit's high
// byte happens to be zero and is followed by another zero byte.
func DecodeUTF16LE(b []byte) (string, error) {
	n := len(b) &^ 1 // drop a dangling odd trailing byte, if any
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			n = i
			break
		}
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := decoder.Bytes(b[:n])
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// EncodeUTF16LE encodes s as NUL-terminated little-endian UTF-16, the
// inverse of DecodeUTF16LE.
func EncodeUTF16LE(s string) ([]byte, error) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	b, err := encoder.Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return append(b, 0, 0), nil
}
