// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var version = "development"

// A handler implements one subcommand.
type handler interface {
	RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int
}

var handlers = map[string]handler{
	"version":   versionCmd{},
	"-version":  versionCmd{},
	"--version": versionCmd{},

	"normfilter":      &normFilterCmd{},
	"assoc-filter":    &assocFilterCmd{},
	"select-features": &selectFeaturesCmd{},
	"standardize":     &standardizeCmd{},
	"predict":         &predictCmd{},
	"pca":             &pcaCmd{},
	"export-numpy":    &exportNumpyCmd{},
	"roc":             &rocCmd{},
}

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(runCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func runCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(prog, stderr)
		return 2
	}
	cmd, ok := handlers[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "%s: unrecognized command %q\n", prog, args[0])
		usage(prog, stderr)
		return 2
	}
	return cmd.RunCommand(prog+" "+args[0], args[1:], stdin, stdout, stderr)
}

func usage(prog string, stderr io.Writer) {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		if name[0] != '-' {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	fmt.Fprintf(stderr, "usage: %s <command> [options]\n\ncommands:\n", prog)
	for _, name := range names {
		fmt.Fprintf(stderr, "  %s\n", name)
	}
}

type versionCmd struct{}

func (versionCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "keraon %s (%s)\n", version, runtime.Version())
	return 0
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
