// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"

	"github.com/kork-lang/kork"
)

// dumpConfig selects which sections of a codeblock runDump prints, the way
// the teacher's flag-based dump subcommand toggles header sections.
type dumpConfig struct {
	Strings bool
	Floats  bool
	Idents  bool
	Code    bool
	Lines   bool
}

func dumpPath(path string, cfg dumpConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	interns := kork.NewInternTable()
	cb, err := kork.LoadCodeBlock(f, interns, path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	dumpCodeblock(cb, cfg)
	return nil
}

func dumpCodeblock(cb *kork.Codeblock, cfg dumpConfig) {
	w := tabwriter.NewWriter(os.Stdout, 1, 1, 3, ' ', tabwriter.AlignRight)

	if cfg.Idents {
		fmt.Print("\n\t------[ Identifiers ]------\n\n")
		for i, id := range cb.Idents {
			fmt.Fprintf(w, "%d:\t %s\n", i, id)
		}
		w.Flush()
	}

	if cfg.Floats {
		fmt.Print("\n\t------[ Float Pool ]------\n\n")
		for i, fl := range cb.Floats {
			fmt.Fprintf(w, "%d:\t %v\n", i, fl)
		}
		w.Flush()
	}

	if cfg.Strings {
		fmt.Print("\n\t------[ String Pool ]------\n\n")
		hexDump(cb.Strings)
	}

	if cfg.Code {
		fmt.Print("\n\t------[ Code ]------\n\n")
		disassemble(w, cb)
		w.Flush()
	}

	if cfg.Lines {
		fmt.Print("\n\t------[ Line Table ]------\n\n")
		for _, ln := range cb.Lines {
			fmt.Fprintf(w, "ip %d:\t line %d\n", ln.IP, ln.Line)
		}
		w.Flush()
	}
}

// disassemble prints cb's code words as (address, opcode) pairs. It does
// not attempt to decode wide or identifier-table operands distinctly from
// plain immediates: without the emitter's own per-opcode operand shapes on
// hand, an address-keyed one-opcode-per-line dump is the honest amount of
// structure to claim.
func disassemble(w *tabwriter.Writer, cb *kork.Codeblock) {
	for ip, word := range cb.Code {
		op := kork.Opcode(word)
		if op.Valid() {
			fmt.Fprintf(w, "%6d:\t %s\n", ip, op)
		} else {
			fmt.Fprintf(w, "%6d:\t 0x%08x\n", ip, word)
		}
	}
}

func hexDump(b []byte) {
	var a [16]byte
	n := (len(b) + 15) &^ 15
	for i := 0; i < n; i++ {
		if i%16 == 0 {
			fmt.Printf("%6d", i)
		}
		if i%8 == 0 {
			fmt.Print(" ")
		}
		if i < len(b) {
			fmt.Printf(" %02X", b[i])
		} else {
			fmt.Print("   ")
		}
		if i >= len(b) {
			a[i%16] = ' '
		} else if b[i] < 32 || b[i] > 126 {
			a[i%16] = '.'
		} else {
			a[i%16] = b[i]
		}
		if i%16 == 15 {
			fmt.Printf("  %s\n", string(a[:]))
		}
	}
}

// loadCodeblocksDir loads every .dso file under dir concurrently, the way
// the teacher's loopFilesWorker/jobs pattern fans a directory scan out
// across goroutines, and reports which files failed to load.
func loadCodeblocksDir(dir string, workers int) (loaded int, failures map[string]error, err error) {
	var paths []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if !info.IsDir() && filepath.Ext(path) == ".dso" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan string)
	var mu sync.Mutex
	failures = make(map[string]error)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			interns := kork.NewInternTable()
			for path := range jobs {
				if _, err := kork.LoadCodeBlockFile(path, interns); err != nil {
					mu.Lock()
					failures[path] = err
					mu.Unlock()
					continue
				}
				mu.Lock()
				loaded++
				mu.Unlock()
			}
		}()
	}
	for _, p := range paths {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	return loaded, failures, nil
}
