// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kstring

import "testing"

func TestEncodeDecodeUTF16LERoundTrip(t *testing.T) {
	cases := []string{"", "hello", "café", "日本語"}
	for _, want := range cases {
		enc, err := EncodeUTF16LE(want)
		if err != nil {
			t.Fatalf("EncodeUTF16LE(%q): %v", want, err)
		}
		got, err := DecodeUTF16LE(enc)
		if err != nil {
			t.Fatalf("DecodeUTF16LE: %v", err)
		}
		if got != want {
			t.Fatalf("round trip = %q, want %q", got, want)
		}
	}
}

func TestDecodeUTF16LEStopsAtNulPair(t *testing.T) {
	enc, err := EncodeUTF16LE("ab")
	if err != nil {
		t.Fatalf("EncodeUTF16LE: %v", err)
	}
	padded := append(enc, 0xAA, 0xBB) // garbage past the terminator
	got, err := DecodeUTF16LE(padded)
	if err != nil {
		t.Fatalf("DecodeUTF16LE: %v", err)
	}
	if got != "ab" {
		t.Fatalf("got %q, want \"ab\"", got)
	}
}
