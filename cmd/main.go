// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// kork is the engine's command-line front end (spec.md §4.14). It keeps the
// teacher's two CLI styles side by side: "dump" is a flag-based bytecode
// disassembler in the style of the teacher's own flag-based dump subcommand
// below, while the rest of the surface (run, eval, compile-dir, sign,
// verify, version)
// is a cobra command tree in the style of the teacher's pedumper.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "dump" {
		runDump(os.Args[2:])
		return
	}
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDump(args []string) {
	dumpCmd := flag.NewFlagSet("dump", flag.ExitOnError)
	wantStrings := dumpCmd.Bool("strings", false, "Dump the string pool")
	wantFloats := dumpCmd.Bool("floats", false, "Dump the float pool")
	wantIdents := dumpCmd.Bool("idents", false, "Dump the identifier table")
	wantCode := dumpCmd.Bool("code", false, "Disassemble the code")
	wantLines := dumpCmd.Bool("lines", false, "Dump the line table")
	wantAll := dumpCmd.Bool("all", false, "Dump everything")
	dumpCmd.Parse(args)

	if dumpCmd.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: kork dump [flags] <file.dso>")
		os.Exit(1)
	}

	cfg := dumpConfig{
		Strings: *wantStrings || *wantAll,
		Floats:  *wantFloats || *wantAll,
		Idents:  *wantIdents || *wantAll,
		Code:    *wantCode || *wantAll,
		Lines:   *wantLines || *wantAll,
	}
	if !cfg.Strings && !cfg.Floats && !cfg.Idents && !cfg.Code && !cfg.Lines {
		cfg.Code = true
	}
	if err := dumpPath(dumpCmd.Arg(0), cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
