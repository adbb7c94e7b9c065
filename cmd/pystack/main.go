// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pystack is the command-line front end for the sampling stack
// profiler: argument parsing, help, and the version banner. The actual
// attach/locate/walk pipeline lives in the internal packages.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Roguelazer/pystack/internal/perrors"
	"github.com/Roguelazer/pystack/internal/sampler"
)

// version is overridden at link time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// glog registers its own flags on flag.CommandLine at import time;
	// Parse it here with no arguments so it doesn't complain about
	// logging before flag.Parse, without ever exposing those flags
	// through the cobra/pflag surface the user actually sees.
	flag.CommandLine.Parse(nil)

	var rate float64
	var seconds float64

	root := &cobra.Command{
		Use:           "pystack <pid>",
		Short:         "Sample the call stack of a running CPython process",
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], rate, seconds, cmd.OutOrStdout())
		},
	}
	root.SetVersionTemplate("pystack {{.Version}}\n")

	root.Flags().Float64VarP(&rate, "rate", "r", 0.01, "sampling period in seconds (only used when --seconds is non-zero)")
	root.Flags().Float64VarP(&seconds, "seconds", "s", 0, "total duration in seconds; 0 means a single sample")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pystack: %v\n", err)
		os.Exit(1)
	}
}

func run(pidArg string, rate, seconds float64, stdout io.Writer) error {
	pidNum, err := strconv.ParseInt(pidArg, 10, 64)
	if err != nil {
		return perrors.New(perrors.KindFormat, true, "invalid pid %q", pidArg)
	}

	pid, err := sampler.ValidatePID(pidNum)
	if err != nil {
		return err
	}

	cfg := sampler.Config{
		PID:     pid,
		Hint:    sampler.DefaultHint,
		Rate:    rate,
		Seconds: seconds,
	}

	if err := sampler.Run(cfg, stdout); err != nil {
		if perrors.IsFatal(err) {
			return err
		}
		glog.Warningf("run finished with a non-fatal error: %v", err)
	}
	return nil
}
