// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"go.mozilla.org/pkcs7"
)

// ErrUnsignedCodeBlock is returned by LoadSignedCodeBlock when a codeblock
// has no trailing SIGN block to verify (spec.md §4.11 "signed codeblocks
// ... trailing SIGN block").
var ErrUnsignedCodeBlock = errors.New("kork: codeblock is not signed")

// SignCodeBlock encodes cb the same way Save does and appends a detached
// PKCS7 signature over the exact DSOB payload bytes, so a verifier that
// re-derives those bytes from the file can check they haven't moved
// (spec.md §4.11). cert/key follow the same shape pkcs7.SignedData.AddSigner
// expects: a certificate and the private key backing it.
func SignCodeBlock(cb *Codeblock, w io.Writer, cert *x509.Certificate, key crypto.PrivateKey) error {
	payload := cb.encodeDSOBPayload()

	sd, err := pkcs7.NewSignedData(payload)
	if err != nil {
		return fmt.Errorf("kork: pkcs7 signed data: %w", err)
	}
	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		return fmt.Errorf("kork: pkcs7 add signer: %w", err)
	}
	sd.Detach()
	sig, err := sd.Finish()
	if err != nil {
		return fmt.Errorf("kork: pkcs7 finish: %w", err)
	}

	if err := writeBlock(w, magicDSOB, payload); err != nil {
		return err
	}
	if err := writeBlock(w, magicEOLB, nil); err != nil {
		return err
	}
	return writeBlock(w, magicSIGN, sig)
}

// LoadSignedCodeBlock decodes a codeblock written by SignCodeBlock and
// verifies its trailing signature against roots before interning a single
// identifier, so a tampered or untrusted codeblock never reaches the
// namespace table (spec.md §4.11). It returns ErrUnsignedCodeBlock for a
// plain (unsigned) Save/LoadCodeBlock file; callers that accept either use
// LoadCodeBlock as a fallback.
func LoadSignedCodeBlock(r io.Reader, interns *InternTable, file string, roots *x509.CertPool) (*Codeblock, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	payload, rest, err := splitDSOBFramed(data)
	if err != nil {
		return nil, err
	}
	sig, err := readBlock(bytes.NewReader(rest), magicSIGN)
	if err != nil {
		return nil, ErrUnsignedCodeBlock
	}

	p7, err := pkcs7.Parse(sig)
	if err != nil {
		return nil, fmt.Errorf("kork: pkcs7 parse: %w", err)
	}
	p7.Content = payload
	if err := p7.VerifyWithChain(roots); err != nil {
		return nil, fmt.Errorf("kork: signature verification failed: %w", err)
	}

	return decodeDSOBPayload(payload, interns, file)
}
