// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

func newTestSigningCert(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:                pkix.Name{CommonName: "kork-test-signer"},
		NotBefore:              time.Now().Add(-time.Hour),
		NotAfter:               time.Now().Add(time.Hour),
		KeyUsage:               x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                   true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("x509.CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("x509.ParseCertificate: %v", err)
	}
	return cert, priv
}

func TestSignAndVerifyCodeBlockRoundTrip(t *testing.T) {
	interns := NewInternTable()
	cb := newTestCodeblock(interns)
	cert, key := newTestSigningCert(t)

	var signed bytes.Buffer
	if err := SignCodeBlock(cb, &signed, cert, key); err != nil {
		t.Fatalf("SignCodeBlock: %v", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(cert)

	loadInterns := NewInternTable()
	got, err := LoadSignedCodeBlock(bytes.NewReader(signed.Bytes()), loadInterns, "test.cs", roots)
	if err != nil {
		t.Fatalf("LoadSignedCodeBlock: %v", err)
	}
	if !bytes.Equal(got.Strings, cb.Strings) {
		t.Fatalf("Strings mismatch after signed round trip")
	}
}

func TestLoadSignedCodeBlockRejectsUntrustedSigner(t *testing.T) {
	interns := NewInternTable()
	cb := newTestCodeblock(interns)
	cert, key := newTestSigningCert(t)

	var signed bytes.Buffer
	if err := SignCodeBlock(cb, &signed, cert, key); err != nil {
		t.Fatalf("SignCodeBlock: %v", err)
	}

	// An empty pool trusts nothing, so the signature should fail to verify.
	roots := x509.NewCertPool()
	if _, err := LoadSignedCodeBlock(bytes.NewReader(signed.Bytes()), interns, "test.cs", roots); err == nil {
		t.Fatalf("expected verification failure against an empty root pool")
	}
}

func TestLoadSignedCodeBlockRejectsUnsignedFile(t *testing.T) {
	interns := NewInternTable()
	cb := newTestCodeblock(interns)

	var plain bytes.Buffer
	if err := cb.Save(&plain); err != nil {
		t.Fatalf("Save: %v", err)
	}

	roots := x509.NewCertPool()
	_, err := LoadSignedCodeBlock(bytes.NewReader(plain.Bytes()), interns, "test.cs", roots)
	if err == nil {
		t.Fatalf("expected ErrUnsignedCodeBlock for a plain Save output")
	}
}
