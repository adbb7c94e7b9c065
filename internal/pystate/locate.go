// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pystate locates the runtime address of a target process's
// global current-thread-state pointer: it finds the interpreter's
// shared library in the target's address space, resolves the
// thread-state symbol out of that library's on-disk ELF image, and
// relocates it by the library's ASLR load base.
package pystate

import (
	"fmt"
	"os"

	"github.com/Roguelazer/pystack/internal/elfimage"
	"github.com/Roguelazer/pystack/internal/perrors"
	"github.com/Roguelazer/pystack/internal/procmap"
	"github.com/Roguelazer/pystack/internal/ptrace"
)

// threadStateSymbol is the dynamic symbol whose value is the address of
// the interpreter's global PyThreadState pointer slot.
const threadStateSymbol = "_PyThreadState_Current"

// Locate returns the runtime address of the thread-state-pointer slot
// inside the process identified by pid. hint identifies the
// interpreter's shared library by a substring of its path (e.g.
// "libpython"); if no library matching hint is mapped, the main
// executable (/proc/<pid>/exe) is tried instead, under the assumption
// that it is a non-PIE build mapped at its link-time address.
//
// If the primary image does not export threadStateSymbol, Locate tries
// each of that image's direct DT_NEEDED dependencies in turn (but does
// not recurse further — Design Note 9 caps this at one level to bound
// what the original left unbounded) and returns the first success.
func Locate(pid int, hint string) (ptrace.Address, error) {
	loadBase, path, err := procmap.Find(pid, hint)
	if err != nil {
		return 0, err
	}
	if path == "" {
		mainExe, err := MainExecutable(pid)
		if err != nil {
			return 0, err
		}
		path = mainExe
		loadBase = 0
	}

	addr, ok, err := resolveIn(path, loadBase)
	if err != nil {
		return 0, err
	}
	if ok {
		return addr, nil
	}

	needed, err := neededLibs(path)
	if err != nil {
		return 0, err
	}
	for _, lib := range needed {
		depBase, depPath, err := procmap.Find(pid, lib)
		if err != nil {
			return 0, err
		}
		if depPath == "" {
			continue
		}
		addr, ok, err := resolveIn(depPath, depBase)
		if err != nil {
			return 0, err
		}
		if ok {
			return addr, nil
		}
	}

	return 0, perrors.New(perrors.KindSymbolNotFound, true,
		"%s does not export %s, nor does any of its direct dependencies", path, threadStateSymbol)
}

// resolveIn opens and parses the ELF image at path and, if it exports
// threadStateSymbol, returns its relocated runtime address.
func resolveIn(path string, loadBase uint64) (addr ptrace.Address, ok bool, err error) {
	img := elfimage.New()
	if err := img.Open(path); err != nil {
		return 0, false, err
	}
	defer img.Close()

	if err := img.Parse(); err != nil {
		return 0, false, err
	}
	value, err := img.GetThreadState()
	if err != nil {
		return 0, false, err
	}
	if value == 0 {
		return 0, false, nil
	}
	return ptrace.Address(value + loadBase), true, nil
}

func neededLibs(path string) ([]string, error) {
	img := elfimage.New()
	if err := img.Open(path); err != nil {
		return nil, err
	}
	defer img.Close()
	if err := img.Parse(); err != nil {
		return nil, err
	}
	return img.NeededLibs()
}

// MainExecutable returns the path of pid's main executable, used as the
// fallback interpreter image when no separate shared library matches
// hint in /proc/<pid>/maps.
func MainExecutable(pid int) (string, error) {
	path := fmt.Sprintf("/proc/%d/exe", pid)
	if _, err := os.Lstat(path); err != nil {
		return "", perrors.Wrap(perrors.KindFormat, true, err, "stat main executable")
	}
	return path, nil
}
