// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package kork

import (
	"bytes"
	"crypto/x509"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// mmapCloser adapts an mmap.MMap to io.Closer plus the backing *os.File, so
// a Codeblock loaded from disk can unmap and close together once its
// refcount drops to zero (spec.md §4.12, DecRef).
type mmapCloser struct {
	data mmap.MMap
	f    *os.File
}

func (c *mmapCloser) Close() error {
	err := c.data.Unmap()
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// LoadCodeBlockFile memory-maps name and decodes a DSOB-framed codeblock
// from it (spec.md §4.12 "Loading from disk uses mmap, matching the
// teacher's File.New"). The mapping is kept open for the codeblock's
// lifetime: Codeblock.DecRef unmaps and closes the file once the last
// reference is released. The decoded Code/Strings/Idents tables are
// copies on the Go heap, so they do not depend on the mapping.
func LoadCodeBlockFile(name string, interns *InternTable) (*Codeblock, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	payload, _, err := splitDSOBFramed([]byte(data))
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	cb, err := decodeDSOBPayload(payload, interns, name)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	cb.closer = &mmapCloser{data: data, f: f}
	return cb, nil
}

// LoadSignedCodeBlockFile is LoadCodeBlockFile's counterpart for a codeblock
// written by SignCodeBlock: the signature is checked against the mapped
// bytes before anything is interned (spec.md §4.11, §4.12).
func LoadSignedCodeBlockFile(name string, interns *InternTable, roots *x509.CertPool) (*Codeblock, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer data.Unmap()
	return LoadSignedCodeBlock(bytes.NewReader(data), interns, name, roots)
}
