// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"bytes"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCodeBlockFileRoundTrip(t *testing.T) {
	interns := NewInternTable()
	cb := newTestCodeblock(interns)

	var buf bytes.Buffer
	if err := cb.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.csb")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loadInterns := NewInternTable()
	got, err := LoadCodeBlockFile(path, loadInterns)
	if err != nil {
		t.Fatalf("LoadCodeBlockFile: %v", err)
	}
	if !bytes.Equal(got.Strings, cb.Strings) {
		t.Fatalf("Strings mismatch after mmap load")
	}
	if len(got.Idents) != 2 || got.Idents[0].String() != "foo" {
		t.Fatalf("Idents mismatch: %v", got.Idents)
	}

	// DecRef below the last reference must unmap and close the backing file
	// without touching the already-decoded slices.
	got.DecRef()
}

func TestLoadSignedCodeBlockFileRoundTrip(t *testing.T) {
	interns := NewInternTable()
	cb := newTestCodeblock(interns)
	cert, key := newTestSigningCert(t)

	var buf bytes.Buffer
	if err := SignCodeBlock(cb, &buf, cert, key); err != nil {
		t.Fatalf("SignCodeBlock: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.signed.csb")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(cert)
	loadInterns := NewInternTable()
	got, err := LoadSignedCodeBlockFile(path, loadInterns, roots)
	if err != nil {
		t.Fatalf("LoadSignedCodeBlockFile: %v", err)
	}
	if !bytes.Equal(got.Strings, cb.Strings) {
		t.Fatalf("Strings mismatch after signed mmap load")
	}
}
