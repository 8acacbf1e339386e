// Copyright 2024 The kork Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kork-lang/kork"
)

// newRootCommand builds the cobra side of the CLI: run/eval load a .dso
// codeblock and execute it through spec.md §6.1's execCodeBlock (no
// command compiles source), sign/verify wire the PKCS7 codeblock-signing
// path (spec.md §4.11), and compile-dir wires the worker-pool directory
// loader.
func newRootCommand() *cobra.Command {
	var workers int

	root := &cobra.Command{
		Use:   "kork",
		Short: "An embeddable scripting engine command-line front end",
		Long:  "Compiles, runs, signs, and verifies kork bytecode codeblocks.",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("kork 0.1.0")
		},
	}

	runCmd := &cobra.Command{
		Use:   "run <file.dso> [args...]",
		Short: "Execute a compiled codeblock from its entry point",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodeblock(args[0], args[1:])
		},
	}

	evalCmd := &cobra.Command{
		Use:   "eval <file.dso>",
		Short: "Alias for run with no arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodeblock(args[0], nil)
		},
	}

	compileDirCmd := &cobra.Command{
		Use:   "compile-dir <dir>",
		Short: "Load every .dso under dir concurrently and report failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, failures, err := loadCodeblocksDir(args[0], workers)
			if err != nil {
				return err
			}
			fmt.Printf("loaded %d codeblock(s)\n", loaded)
			for path, ferr := range failures {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, ferr)
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d codeblock(s) failed to load", len(failures))
			}
			return nil
		},
	}
	compileDirCmd.Flags().IntVarP(&workers, "workers", "w", 4, "concurrent loader goroutines")

	var certPath, keyPath string
	signCmd := &cobra.Command{
		Use:   "sign <in.dso> <out.dso>",
		Short: "Sign a codeblock with a PKCS7 detached signature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return signCodeblockFile(args[0], args[1], certPath, keyPath)
		},
	}
	signCmd.Flags().StringVar(&certPath, "cert", "", "PEM-encoded signing certificate")
	signCmd.Flags().StringVar(&keyPath, "key", "", "PEM-encoded PKCS8 private key")
	signCmd.MarkFlagRequired("cert")
	signCmd.MarkFlagRequired("key")

	verifyCmd := &cobra.Command{
		Use:   "verify <file.dso>",
		Short: "Verify a signed codeblock against the system root pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifyCodeblockFile(args[0])
		},
	}

	root.AddCommand(versionCmd, runCmd, evalCmd, compileDirCmd, signCmd, verifyCmd)
	return root
}

func runCodeblock(path string, scriptArgs []string) error {
	vm := kork.NewVM(kork.Config{})
	cb, err := kork.LoadCodeBlockFile(path, vm.Interns)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}

	argv := make([]kork.Value, len(scriptArgs))
	for i, a := range scriptArgs {
		argv[i] = kork.MakeString(a)
	}
	result, err := vm.ExecCodeBlock(cb, 0, argv, false, true)
	if err != nil {
		return err
	}
	s, _ := vm.Types.ValueAsString(result, nil)
	fmt.Println(s)
	return nil
}

func signCodeblockFile(inPath, outPath, certPath, keyPath string) error {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return err
	}
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return fmt.Errorf("no PEM block found in %s", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return err
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return err
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("no PEM block found in %s", keyPath)
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return err
	}

	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	interns := kork.NewInternTable()
	cb, err := kork.LoadCodeBlock(in, interns, inPath)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	return kork.SignCodeBlock(cb, out, cert, key)
}

func verifyCodeblockFile(path string) error {
	roots, err := x509.SystemCertPool()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	interns := kork.NewInternTable()
	if _, err := kork.LoadSignedCodeBlock(f, interns, path, roots); err != nil {
		return err
	}
	fmt.Println("signature OK")
	return nil
}
