// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build gofuzz

package kork

import "bytes"

// Fuzz exercises LoadCodeBlock against arbitrary bytes for go-fuzz (spec.md
// §4.15, §6.3 "Loading must reject malformed input without panicking").
// Every malformed-input path LoadCodeBlock/decodeDSOBPayload takes returns
// an error rather than indexing out of bounds, so the only interesting
// finding here is a panic, not the return value itself.
func Fuzz(data []byte) int {
	interns := NewInternTable()
	cb, err := LoadCodeBlock(bytes.NewReader(data), interns, "fuzz")
	if err != nil {
		return 0
	}
	_ = cb.lineForIP(0)
	return 1
}
