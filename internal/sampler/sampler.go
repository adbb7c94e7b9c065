// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sampler drives the end-to-end sampling run: attach, locate
// the thread-state pointer, walk the stack once or repeatedly at a
// fixed rate for a fixed duration, and always detach before returning.
package sampler

import (
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/Roguelazer/pystack/internal/perrors"
	"github.com/Roguelazer/pystack/internal/pylayout"
	"github.com/Roguelazer/pystack/internal/pystate"
	"github.com/Roguelazer/pystack/internal/stackwalk"

	"github.com/Roguelazer/pystack/internal/ptrace"
)

// DefaultHint is the substring used to find the interpreter's shared
// library in /proc/<pid>/maps when the caller doesn't override it.
const DefaultHint = "libpython"

// maxPID is the largest value the Linux kernel will ever hand out as a
// process ID (see /proc/sys/kernel/pid_max, whose own ceiling is
// 2^22 on 64-bit kernels); anything past it can never name a real
// process and is rejected before any attach is attempted (spec.md
// scenario S4).
const maxPID = 1 << 22

// Config holds the parameters of one sampling run, equivalent to the
// parsed form of the CLI flags in spec.md §6.
type Config struct {
	PID     int
	Hint    string
	Rate    float64 // seconds between samples; consulted only if Seconds != 0
	Seconds float64 // 0 means a single sample
}

// ValidatePID checks pid against the platform's valid PID range,
// independent of any CLI flag-parsing concerns (those are out of
// scope for this package, see spec.md §1).
func ValidatePID(pid int64) (int, error) {
	if pid <= 0 || pid > maxPID {
		return 0, perrors.New(perrors.KindFormat, true,
			"PID %d is out of valid PID range", pid)
	}
	return int(pid), nil
}

// Run attaches to cfg.PID, locates its interpreter's thread-state
// pointer, and samples its stack once (cfg.Seconds == 0) or repeatedly
// until cfg.Seconds have elapsed, writing one "path:line" line per
// frame (most recent first) to w, with a blank line between samples in
// repeated mode. It always detaches before returning, on every path.
func Run(cfg Config, w io.Writer) error {
	hint := cfg.Hint
	if hint == "" {
		hint = DefaultHint
	}

	target, err := ptrace.Attach(cfg.PID)
	if err != nil {
		return err
	}
	glog.V(1).Infof("attached to pid %d", cfg.PID)

	addr, err := pystate.Locate(cfg.PID, hint)
	if err != nil {
		_ = detach(target, cfg.PID)
		return err
	}
	glog.V(1).Infof("thread state pointer for pid %d at %#x", cfg.PID, addr)

	offsets := pylayout.CurrentFrameOffsets
	layout := pylayout.Current

	if cfg.Seconds <= 0 {
		sampleErr := sampleAndPrint(target, addr, offsets, layout, w)
		if derr := detach(target, cfg.PID); derr != nil {
			return derr
		}
		if sampleErr != nil {
			if perrors.IsFatal(sampleErr) {
				return sampleErr
			}
			glog.Warningf("sample failed: %v", sampleErr)
		}
		return nil
	}

	return runRepeated(cfg, target, addr, offsets, layout, w)
}

func runRepeated(cfg Config, target *ptrace.Target, addr ptrace.Address, offsets pylayout.FrameOffsets, layout pylayout.Layout, w io.Writer) error {
	interval := time.Duration(cfg.Rate * float64(time.Second))
	deadline := time.Now().Add(time.Duration(cfg.Seconds * float64(time.Second)))

	first := true
	for {
		if !first {
			fmt.Fprintln(w)
		}
		first = false

		start := time.Now()
		err := sampleAndPrint(target, addr, offsets, layout, w)
		if err != nil {
			if perrors.IsFatal(err) {
				_ = detach(target, cfg.PID)
				return err
			}
			glog.Warningf("sample failed, continuing: %v", err)
		}
		elapsed := time.Since(start)

		if time.Now().Add(interval).After(deadline) {
			return detach(target, cfg.PID)
		}

		if err := detach(target, cfg.PID); err != nil {
			return err
		}

		// Sleep the configured rate minus however long this sample
		// itself took, instead of the source's naive full-interval
		// sleep, so a non-trivial per-sample cost doesn't silently
		// under-sample (Design Note 9).
		if sleepFor := interval - elapsed; sleepFor > 0 {
			time.Sleep(sleepFor)
		}

		next, err := ptrace.Attach(cfg.PID)
		if err != nil {
			return err
		}
		target = next
	}
}

func sampleAndPrint(target ptrace.Reader, addr ptrace.Address, offsets pylayout.FrameOffsets, layout pylayout.Layout, w io.Writer) error {
	frames, err := stackwalk.Walk(target, addr, offsets, layout)
	if err != nil {
		return err
	}
	// frames is oldest-to-newest (Stack's construction order); reverse
	// to print most-recent-first.
	for i := len(frames) - 1; i >= 0; i-- {
		fmt.Fprintf(w, "%s:%d\n", frames[i].File, frames[i].Line)
	}
	return nil
}

func detach(target *ptrace.Target, pid int) error {
	if err := target.Detach(); err != nil {
		return err
	}
	glog.V(1).Infof("detached from pid %d", pid)
	return nil
}
